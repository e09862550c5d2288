package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/agent"
)

type runRequest struct {
	Logs    string   `json:"logs"`
	Context *a2a.Map `json:"context"`
}

func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	capability, ok := s.catalog.Get(id)
	if !ok {
		jsonResponse(w, a2a.AgentDescriptor{
			ID:           id,
			Name:         id,
			Description:  "Unknown agent",
			Capabilities: []string{},
			Version:      a2a.DefaultVersion,
		})
		return
	}
	jsonResponse(w, capability.Describe())
}

// runAgent runs a single local capability. Delegation is the caller's job.
func (s *Server) runAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	capability, ok := s.catalog.Get(id)
	if !ok {
		jsonResponse(w, a2a.ErrorResult("Unknown agent", nil))
		return
	}

	res, err := agent.Invoke(r.Context(), capability, a2a.TaskInput{Logs: req.Logs, Context: req.Context})
	if err != nil {
		slog.Error("agent run failed", "agent", id, "error", err)
		res = a2a.ErrorResult("Agent error", a2a.NewMap().Set("error", a2a.String(err.Error())))
	}
	jsonResponse(w, res)
}
