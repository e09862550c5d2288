package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/natsbus"
	"github.com/camdoctor/camdoctor/internal/store"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu     sync.Mutex
	tasks  []a2a.Task
	result a2a.TaskResult
}

func (r *recordingRunner) Run(_ context.Context, task a2a.Task, fn func(a2a.Event)) a2a.TaskResult {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	fn(a2a.NewEvent(task.ID, a2a.EventTaskCreated, "Task "+task.ID+" created", nil))
	return r.result
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeLogs(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cam.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"* * * * *", "0 9 * * *", "@hourly", "@every 5m", " @every 90s "} {
		assert.NoError(t, ValidateSchedule(expr), expr)
	}
	for _, expr := range []string{"", "not a cron", "@every", "@every soon", "@every -1m", "@every 0s"} {
		assert.Error(t, ValidateSchedule(expr), expr)
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	next, err := NextRun("@every 5m", from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(5*time.Minute), next)

	next, err = NextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), next)

	next, err = NextRun("* * * * *", from)
	require.NoError(t, err)
	assert.True(t, next.After(from))
	assert.LessOrEqual(t, next.Sub(from), time.Minute)

	_, err = NextRun("garbage", from)
	assert.Error(t, err)
}

func TestFormatSchedule(t *testing.T) {
	assert.Equal(t, "Every hour", FormatSchedule("@every 1h"))
	assert.Equal(t, "Every 6 hours", FormatSchedule("@every 6h"))
	assert.Equal(t, "Every minute", FormatSchedule("@every 1m"))
	assert.Equal(t, "Every 15 minutes", FormatSchedule("@every 15m"))
	assert.Equal(t, "Every 90 seconds", FormatSchedule("@every 90s"))
	assert.Equal(t, "0 9 * * *", FormatSchedule("0 9 * * *"))
	assert.Equal(t, "@daily", FormatSchedule("@daily"))
}

func TestSyncStoresWatches(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sched := New(s, &recordingRunner{}, nil, config.SchedulerConfig{}, []config.WatchConfig{
		{Name: "lobby", Schedule: "@every 10m", LogsPath: "/var/log/lobby.log"},
		{Name: "gate", Agent: "fixer", Schedule: "0 * * * *", LogsPath: "/var/log/gate.log"},
	})
	sched.now = func() time.Time { return now }
	require.NoError(t, s.SaveWatch(&store.Watch{Name: "stale", AgentID: "diagnoser", Schedule: "@every 1m", LogsPath: "x"}))

	require.NoError(t, sched.Sync())

	watches, err := s.ListWatches()
	require.NoError(t, err)
	require.Len(t, watches, 2)

	gate, lobby := watches[0], watches[1]
	assert.Equal(t, "fixer", gate.AgentID)
	assert.Equal(t, "diagnoser", lobby.AgentID)
	require.NotNil(t, lobby.NextRunAt)
	assert.True(t, now.Add(10*time.Minute).Equal(*lobby.NextRunAt))
	require.NotNil(t, gate.NextRunAt)
	assert.True(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC).Equal(*gate.NextRunAt))
}

func TestSyncRejectsBadSchedule(t *testing.T) {
	sched := New(newTestStore(t), &recordingRunner{}, nil, config.SchedulerConfig{}, []config.WatchConfig{
		{Name: "broken", Schedule: "every day", LogsPath: "x"},
	})
	err := sched.Sync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestPollRunsDueWatches(t *testing.T) {
	s := newTestStore(t)
	logsPath := writeLogs(t, "rtsp stream drop\nping 40% loss")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runner := &recordingRunner{result: a2a.TaskResult{Status: a2a.StatusOK, Summary: "Fix plan produced", Details: a2a.NewMap()}}
	sched := New(s, runner, nil, config.SchedulerConfig{}, []config.WatchConfig{
		{Name: "lobby", Schedule: "@every 10m", LogsPath: logsPath},
	})
	sched.now = func() time.Time { return now }
	require.NoError(t, sched.Sync())

	// Not due yet.
	sched.poll(context.Background())
	assert.Empty(t, runner.tasks)

	now = now.Add(11 * time.Minute)
	sched.poll(context.Background())
	require.Len(t, runner.tasks, 1)

	task := runner.tasks[0]
	assert.Equal(t, "lobby-1772367060", task.ID)
	assert.Equal(t, "diagnoser", task.AgentID)
	assert.Equal(t, "rtsp stream drop\nping 40% loss", task.Input.Logs)
	assert.Equal(t, "lobby", task.Input.Context.GetString("watch"))

	w, err := s.GetWatch("lobby")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "ok", w.LastStatus)
	assert.Equal(t, task.ID, w.LastTaskID)
	assert.Empty(t, w.LastError)
	require.NotNil(t, w.NextRunAt)
	assert.True(t, now.Add(10*time.Minute).Equal(*w.NextRunAt))
}

func TestUnreadableLogsRecordError(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runner := &recordingRunner{}
	sched := New(s, runner, nil, config.SchedulerConfig{}, []config.WatchConfig{
		{Name: "gone", Schedule: "@every 1m", LogsPath: filepath.Join(t.TempDir(), "missing.log")},
	})
	sched.now = func() time.Time { return now }
	require.NoError(t, sched.Sync())

	now = now.Add(2 * time.Minute)
	sched.poll(context.Background())

	assert.Empty(t, runner.tasks)
	w, err := s.GetWatch("gone")
	require.NoError(t, err)
	assert.Equal(t, "error", w.LastStatus)
	assert.Contains(t, w.LastError, "read logs")
	require.NotNil(t, w.NextRunAt)
	assert.True(t, w.NextRunAt.After(now))
}

func TestExecutePublishesEvents(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: natsserver.RANDOM_PORT})
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	client, err := bus.Connect("scheduler")
	require.NoError(t, err)
	t.Cleanup(client.Close)

	received := make(chan string, 4)
	_, err = client.SubscribeTaskEvents(func(ev a2a.Event) {
		received <- "task " + ev.TaskID + " " + string(ev.Type)
	})
	require.NoError(t, err)
	_, err = client.SubscribeWatchRuns(func(run natsbus.WatchRun) {
		received <- "watch " + run.Name + " " + run.TaskID + " " + run.Status
	})
	require.NoError(t, err)

	s := newTestStore(t)
	runner := &recordingRunner{result: a2a.TaskResult{Status: a2a.StatusOK, Details: a2a.NewMap()}}
	sched := New(s, runner, client, config.SchedulerConfig{}, nil)
	sched.now = func() time.Time { return time.Unix(100, 0) }

	sched.execute(context.Background(), store.Watch{Name: "lobby", AgentID: "diagnoser", Schedule: "@every 1m", LogsPath: writeLogs(t, "x")})
	require.NoError(t, client.Flush())

	var got []string
	for range 2 {
		select {
		case msg := <-received:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
	assert.ElementsMatch(t, []string{
		"task lobby-100 task.created",
		"watch lobby lobby-100 ok",
	}, got)
}

func TestStartStopsOnCancel(t *testing.T) {
	sched := New(newTestStore(t), &recordingRunner{}, nil, config.SchedulerConfig{PollInterval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
