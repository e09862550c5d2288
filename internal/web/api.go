package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/scheduler"
	"github.com/camdoctor/camdoctor/internal/store"
	"github.com/camdoctor/camdoctor/internal/ticket"
	"github.com/google/uuid"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", s.listAgents)

	// Tasks
	mux.HandleFunc("POST /api/tasks", s.createTask)

	// Tickets
	mux.HandleFunc("GET /api/tickets", s.listTickets)
	mux.HandleFunc("GET /api/tickets/{id}", s.getTicket)

	// Watches
	mux.HandleFunc("GET /api/watches", s.listWatches)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0)
	local := make(map[string]bool)
	for _, d := range s.catalog.List() {
		local[d.ID] = true
		entry := map[string]any{
			"id":           d.ID,
			"name":         d.Name,
			"description":  d.Description,
			"capabilities": d.Capabilities,
			"version":      d.Version,
			"mode":         "local",
		}
		// Registry entries take precedence at resolution time.
		if url, ok := s.registry.Resolve(d.ID); ok {
			entry["mode"] = "remote"
			entry["url"] = url
		}
		out = append(out, entry)
	}
	for _, e := range s.registry.Entries() {
		if local[e.AgentID] {
			continue
		}
		out = append(out, map[string]any{
			"id":   e.AgentID,
			"mode": "remote",
			"url":  e.BaseURL,
		})
	}
	jsonResponse(w, out)
}

type taskRequest struct {
	ID      string   `json:"id"`
	AgentID string   `json:"agent_id"`
	Logs    string   `json:"logs"`
	Context *a2a.Map `json:"context"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		jsonError(w, "agent_id is required", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	task := a2a.Task{
		ID:      req.ID,
		AgentID: req.AgentID,
		Input:   a2a.TaskInput{Logs: req.Logs, Context: req.Context},
	}
	publish := s.publisher(task.ID)

	if r.URL.Query().Get("stream") == "true" {
		s.streamTask(w, r, task, publish)
		return
	}

	events := make([]a2a.Event, 0)
	res := s.engine.Run(r.Context(), task, func(ev a2a.Event) {
		publish(ev)
		events = append(events, ev)
	})
	jsonResponse(w, map[string]any{
		"task_id": task.ID,
		"events":  events,
		"result":  res,
	})
}

// streamTask writes one NDJSON line per event as the engine produces it,
// then a final {"result": ...} line.
func (s *Server) streamTask(w http.ResponseWriter, r *http.Request, task a2a.Task, publish func(a2a.Event)) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Task-Id", task.ID)
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	stream := s.engine.Execute(r.Context(), task)
	defer stream.Close()

	for ev := range stream.All() {
		publish(ev)
		if err := enc.Encode(ev); err != nil {
			// Client went away.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	res, ok := stream.Result()
	if !ok {
		return
	}
	enc.Encode(map[string]any{"result": res})
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	tickets, err := s.tickets.ListTickets(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketToAPI(&t))
	}
	jsonResponse(w, out)
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.tickets.GetTicket(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if t == nil {
		jsonError(w, "ticket not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, ticketToAPI(t))
}

func (s *Server) listWatches(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0)
	if s.watches == nil {
		jsonResponse(w, out)
		return
	}
	watches, err := s.watches.ListWatches()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, wt := range watches {
		out = append(out, watchToAPI(wt))
	}
	jsonResponse(w, out)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	watchCount := 0
	if s.watches != nil {
		if watches, err := s.watches.ListWatches(); err == nil {
			watchCount = len(watches)
		}
	}

	natsClients := 0
	if s.bus != nil {
		natsClients = s.bus.Clients()
	}

	jsonResponse(w, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptime":        formatUptime(time.Since(s.startedAt)),
		"local_agents":  len(s.catalog.List()),
		"remote_agents": s.registry.Len(),
		"watches":       watchCount,
		"nats":          s.nats != nil,
		"nats_clients":  natsClients,
		"ws_clients":    s.hub.clientCount(),
	})
}

func ticketToAPI(t *ticket.Ticket) map[string]any {
	m := map[string]any{
		"id":         t.ID,
		"title":      t.Title,
		"body":       t.Body,
		"status":     t.Status,
		"severity":   t.Severity,
		"context":    t.Context,
		"created_at": t.CreatedAt.UTC().Format(time.RFC3339),
		"created":    formatTime(t.CreatedAt),
	}
	if t.Context == nil {
		m["context"] = a2a.NewMap()
	}
	return m
}

func watchToAPI(wt store.Watch) map[string]any {
	m := map[string]any{
		"name":             wt.Name,
		"agent_id":         wt.AgentID,
		"schedule":         wt.Schedule,
		"schedule_display": scheduler.FormatSchedule(wt.Schedule),
		"logs_path":        wt.LogsPath,
		"enabled":          wt.Status == "active",
		"status":           wt.Status,
	}
	if wt.LastRunAt != nil {
		m["last_run"] = formatTime(*wt.LastRunAt)
		m["last_status"] = wt.LastStatus
		m["last_task_id"] = wt.LastTaskID
	}
	if wt.LastError != "" {
		m["last_error"] = wt.LastError
	}
	if wt.NextRunAt != nil {
		m["next_run"] = formatTime(*wt.NextRunAt)
	}
	return m
}

func formatTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
