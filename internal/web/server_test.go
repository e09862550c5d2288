package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/agent"
	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/engine"
	"github.com/camdoctor/camdoctor/internal/llm"
	"github.com/camdoctor/camdoctor/internal/metrics"
	"github.com/camdoctor/camdoctor/internal/natsbus"
	"github.com/camdoctor/camdoctor/internal/registry"
	"github.com/camdoctor/camdoctor/internal/remote"
	"github.com/camdoctor/camdoctor/internal/store"
	"github.com/camdoctor/camdoctor/internal/ticket"
	"github.com/gorilla/websocket"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lossyLogs = "cam-07 rtsp stream drop, reconnecting\ncam-07 ping gateway: 35% packet loss, timeout"

type fixture struct {
	server  *Server
	http    *httptest.Server
	tickets *ticket.MemoryStore
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, plan string, watches WatchLister, bus *natsbus.Bus) *fixture {
	t.Helper()
	tickets := ticket.NewMemoryStore()
	catalog := agent.Defaults(llm.Static(plan), tickets)
	reg := prometheus.NewRegistry()
	eng := engine.New(catalog, nil, engine.WithMetrics(metrics.MustNewMetrics(reg)))

	s := NewServer(eng, catalog, registry.New(map[string]string{"auditor": "http://audit.local:9001/"}),
		tickets, watches, bus, reg, config.WebConfig{}, "test")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: s, http: ts, tickets: tickets, reg: reg}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.http.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCard(t *testing.T) {
	f := newFixture(t, "1. Reboot", nil, nil)

	resp := f.get(t, "/agent/fixer/card")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	desc := decode[a2a.AgentDescriptor](t, resp)
	assert.Equal(t, "fixer", desc.ID)
	assert.Equal(t, "Fixer", desc.Name)
	assert.Equal(t, a2a.DefaultVersion, desc.Version)

	resp = f.get(t, "/agent/auditor/card")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	desc = decode[a2a.AgentDescriptor](t, resp)
	assert.Equal(t, "auditor", desc.Name)
	assert.Equal(t, "Unknown agent", desc.Description)
	assert.Empty(t, desc.Capabilities)
}

func TestRunAgent(t *testing.T) {
	f := newFixture(t, "1. Reseat cables", nil, nil)

	resp := f.postJSON(t, "/agent/diagnoser/run", map[string]any{"logs": lossyLogs, "context": nil})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[a2a.TaskResult](t, resp)
	assert.Equal(t, a2a.StatusOK, res.Status)
	assert.Equal(t, "Diagnosis produced", res.Summary)
	_, ok := res.Details.Lookup("context", "diagnosis", "issues")
	assert.True(t, ok)

	resp = f.postJSON(t, "/agent/auditor/run", map[string]any{"logs": "x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[a2a.TaskResult](t, resp)
	assert.Equal(t, a2a.StatusError, res.Status)
	assert.Equal(t, "Unknown agent", res.Summary)

	bad, err := http.Post(f.http.URL+"/agent/fixer/run", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestRunAgentContainsPanics(t *testing.T) {
	catalog := agent.NewCatalog(agent.Func{
		Descriptor: a2a.AgentDescriptor{ID: "flaky", Name: "Flaky"},
		Fn:         func(context.Context, a2a.TaskInput) (a2a.TaskResult, error) { panic("boom") },
	})
	s := NewServer(engine.New(catalog, nil), catalog, registry.New(nil), nil, nil, nil, nil, config.WebConfig{}, "test")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/agent/flaky/run", "application/json", strings.NewReader(`{"logs":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[a2a.TaskResult](t, resp)
	assert.Equal(t, "Agent error", res.Summary)
	assert.Equal(t, "boom", res.Details.GetString("error"))
}

// A gateway whose fixer lives behind this server's agent contract.
func TestRemoteAgentsOverHTTP(t *testing.T) {
	f := newFixture(t, "1. Open a support ticket with the vendor", nil, nil)

	local := agent.NewCatalog(agent.NewDiagnoser(llm.Static("- Network: packet loss")))
	client := remote.NewClient(config.RemoteConfig{CardTimeout: time.Second, RunTimeout: 5 * time.Second})
	gateway := engine.New(local, registry.New(map[string]string{
		"fixer":   f.http.URL,
		"support": f.http.URL + "/",
	}), engine.WithRemote(client))

	var events []a2a.Event
	res := gateway.Run(context.Background(), a2a.Task{ID: "r1", AgentID: "diagnoser", Input: a2a.TaskInput{Logs: lossyLogs}},
		func(ev a2a.Event) { events = append(events, ev) })

	assert.Equal(t, a2a.StatusOK, res.Status)
	assert.True(t, strings.HasPrefix(res.Summary, "Support ticket created: "))

	// The ticket landed in the serving side's store.
	saved, err := f.tickets.GetTicket(res.Details.GetString("ticket_id"))
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, ticket.SeverityHigh, saved.Severity)

	var started []string
	for _, ev := range events {
		if ev.Type == a2a.EventAgentStarted {
			started = append(started, ev.Message)
		}
	}
	assert.Equal(t, []string{"Diagnoser started", "Fixer started", "Support started"}, started)
}

func TestCreateTask(t *testing.T) {
	f := newFixture(t, "1. Reseat cables", nil, nil)

	resp := f.postJSON(t, "/api/tasks", map[string]any{
		"id":       "t1",
		"agent_id": "diagnoser",
		"logs":     lossyLogs,
		"context":  map[string]any{"site": "lobby"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		TaskID string         `json:"task_id"`
		Events []a2a.Event    `json:"events"`
		Result a2a.TaskResult `json:"result"`
	}](t, resp)
	assert.Equal(t, "t1", body.TaskID)
	assert.Equal(t, a2a.StatusOK, body.Result.Status)
	assert.Equal(t, "Fix plan produced", body.Result.Summary)
	require.NotEmpty(t, body.Events)
	assert.Equal(t, a2a.EventTaskCreated, body.Events[0].Type)
	assert.Equal(t, a2a.EventTaskCompleted, body.Events[len(body.Events)-1].Type)

	var fixCtx *a2a.Map
	for _, ev := range body.Events {
		if ev.Type == a2a.EventTaskCreated && ev.TaskID == "t1:fix" {
			fixCtx = ev.Data.GetMap("input").GetMap("context")
		}
	}
	require.NotNil(t, fixCtx)
	assert.Equal(t, "lobby", fixCtx.GetString("site"))
}

func TestCreateTaskDefaultsAndValidation(t *testing.T) {
	f := newFixture(t, "x", nil, nil)

	resp := f.postJSON(t, "/api/tasks", map[string]any{"agent_id": "nobody", "logs": "x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]json.RawMessage](t, resp)
	var taskID string
	require.NoError(t, json.Unmarshal(body["task_id"], &taskID))
	assert.Len(t, taskID, 36)
	var res a2a.TaskResult
	require.NoError(t, json.Unmarshal(body["result"], &res))
	assert.Equal(t, "Unknown agent", res.Summary)

	resp = f.postJSON(t, "/api/tasks", map[string]any{"logs": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.postJSON(t, "/api/tasks", map[string]any{"agent_id": "fixer", "context": "not an object"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateTaskStream(t *testing.T) {
	f := newFixture(t, "1. Reseat cables", nil, nil)

	resp := f.postJSON(t, "/api/tasks?stream=true", map[string]any{"id": "s1", "agent_id": "diagnoser", "logs": lossyLogs})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Equal(t, "s1", resp.Header.Get("X-Task-Id"))

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Greater(t, len(lines), 2)

	var first a2a.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "[task.created] Task s1 created", first.String())

	var last struct {
		Result a2a.TaskResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.Equal(t, "Fix plan produced", last.Result.Summary)
}

func TestTickets(t *testing.T) {
	f := newFixture(t, "1. Reseat cables\n2. Open a ticket for RMA", nil, nil)

	resp := f.postJSON(t, "/api/tasks", map[string]any{"agent_id": "diagnoser", "logs": lossyLogs})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Result a2a.TaskResult `json:"result"`
	}](t, resp)
	id := body.Result.Details.GetString("ticket_id")
	require.NotEmpty(t, id)

	list := decode[[]map[string]any](t, f.get(t, "/api/tickets"))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "high", list[0]["severity"])

	one := f.get(t, "/api/tickets/"+id)
	require.Equal(t, http.StatusOK, one.StatusCode)
	got := decode[map[string]any](t, one)
	assert.Equal(t, "open", got["status"])
	assert.Contains(t, got["context"], "fix_plan")

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/tickets/missing").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/tickets?limit=-3").StatusCode)
}

func TestAgentsAndStatus(t *testing.T) {
	f := newFixture(t, "x", nil, nil)

	agents := decode[[]map[string]any](t, f.get(t, "/api/agents"))
	require.Len(t, agents, 4)
	assert.Equal(t, "diagnoser", agents[0]["id"])
	assert.Equal(t, "local", agents[0]["mode"])
	assert.Equal(t, "auditor", agents[3]["id"])
	assert.Equal(t, "remote", agents[3]["mode"])
	assert.Equal(t, "http://audit.local:9001", agents[3]["url"])

	status := decode[map[string]any](t, f.get(t, "/api/status"))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, "test", status["version"])
	assert.Equal(t, 3.0, status["local_agents"])
	assert.Equal(t, 1.0, status["remote_agents"])
	assert.Equal(t, false, status["nats"])
}

func TestWatches(t *testing.T) {
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer s.Close()
	next := time.Now().Add(time.Hour).UTC()
	require.NoError(t, s.SaveWatch(&store.Watch{Name: "lobby", AgentID: "diagnoser", Schedule: "@every 15m", LogsPath: "/var/log/lobby.log", NextRunAt: &next}))

	f := newFixture(t, "x", s, nil)
	watches := decode[[]map[string]any](t, f.get(t, "/api/watches"))
	require.Len(t, watches, 1)
	assert.Equal(t, "lobby", watches[0]["name"])
	assert.Equal(t, "Every 15 minutes", watches[0]["schedule_display"])
	assert.Equal(t, true, watches[0]["enabled"])
	assert.NotEmpty(t, watches[0]["next_run"])

	empty := newFixture(t, "x", nil, nil)
	assert.Empty(t, decode[[]map[string]any](t, empty.get(t, "/api/watches")))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "x", nil, nil)
	f.postJSON(t, "/api/tasks", map[string]any{"agent_id": "fixer", "logs": "x"})

	resp := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `camdoctor_engine_tasks_total{agent="fixer",status="ok"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "x", nil, nil)
	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/tasks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.server.hub.Run(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.http.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.server.hub.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocketReceivesTaskEvents(t *testing.T) {
	f := newFixture(t, "x", nil, nil)
	conn := dialWS(t, f)

	f.postJSON(t, "/api/tasks", map[string]any{"id": "ws1", "agent_id": "support", "logs": "x"})

	ev := readEvent(t, conn)
	assert.Equal(t, "task.created", ev.Type)
	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ws1", payload["task_id"])
}

func TestWebSocketReceivesEventsThroughBus(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: natsserver.RANDOM_PORT})
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	f := newFixture(t, "x", nil, bus)
	f.server.subscribeEvents()
	require.NotNil(t, f.server.nats)
	t.Cleanup(f.server.nats.Close)
	conn := dialWS(t, f)

	f.postJSON(t, "/api/tasks", map[string]any{"id": "bus1", "agent_id": "fixer", "logs": "x"})

	ev := readEvent(t, conn)
	assert.Equal(t, "task.created", ev.Type)
	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bus1", payload["task_id"])

	status := decode[map[string]any](t, f.get(t, "/api/status"))
	assert.Equal(t, true, status["nats"])
	assert.EqualValues(t, 1, status["nats_clients"])
}

func TestWebSocketReceivesWatchRuns(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: natsserver.RANDOM_PORT})
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	f := newFixture(t, "x", nil, bus)
	f.server.subscribeEvents()
	require.NotNil(t, f.server.nats)
	t.Cleanup(f.server.nats.Close)
	require.NoError(t, f.server.nats.Flush())
	conn := dialWS(t, f)

	scheduler, err := bus.Connect("scheduler")
	require.NoError(t, err)
	t.Cleanup(scheduler.Close)
	require.NoError(t, scheduler.PublishWatchRun(natsbus.WatchRun{Name: "lobby", TaskID: "lobby-1", Status: "ok"}))
	require.NoError(t, scheduler.Flush())

	ev := readEvent(t, conn)
	assert.Equal(t, "watch_executed", ev.Type)
	assert.Equal(t, map[string]any{"name": "lobby", "task_id": "lobby-1", "status": "ok"}, ev.Payload)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5m", formatUptime(5*time.Minute))
	assert.Equal(t, "2h 3m", formatUptime(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatUptime(25*time.Hour))
}
