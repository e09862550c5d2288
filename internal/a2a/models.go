// Package a2a defines the agent-to-agent data model shared by the engine,
// the local agents and the HTTP transport: descriptors, task inputs and
// results, tasks and lifecycle events.
package a2a

import (
	"encoding/json"
	"fmt"
	"time"
)

const DefaultVersion = "0.1.0"

// AgentDescriptor identifies an agent and its declared abilities.
type AgentDescriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Version      string   `json:"version"`
}

func (d AgentDescriptor) ToMap() *Map {
	caps := d.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return NewMap().
		Set("id", String(d.ID)).
		Set("name", String(d.Name)).
		Set("description", String(d.Description)).
		Set("capabilities", Strings(caps...)).
		Set("version", String(d.Version))
}

func (d *AgentDescriptor) UnmarshalJSON(data []byte) error {
	type plain AgentDescriptor
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Version == "" {
		p.Version = DefaultVersion
	}
	if p.Capabilities == nil {
		p.Capabilities = []string{}
	}
	*d = AgentDescriptor(p)
	return nil
}

// TaskInput is what an agent runs on. Context accumulates across a
// delegation chain; nil means empty.
type TaskInput struct {
	Logs    string `json:"logs"`
	Context *Map   `json:"context"`
}

func (in TaskInput) ToMap() *Map {
	ctx := Null()
	if in.Context != nil {
		ctx = MapOf(in.Context)
	}
	return NewMap().
		Set("logs", String(in.Logs)).
		Set("context", ctx)
}

type Status string

const (
	StatusOK           Status = "ok"
	StatusError        Status = "error"
	StatusNeedsSupport Status = "needs_support"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusError, StatusNeedsSupport:
		return true
	}
	return false
}

// TaskResult is the outcome of one agent run.
type TaskResult struct {
	Status  Status `json:"status"`
	Summary string `json:"summary"`
	Details *Map   `json:"details"`
}

// ErrorResult builds a status=error result.
func ErrorResult(summary string, details *Map) TaskResult {
	if details == nil {
		details = NewMap()
	}
	return TaskResult{Status: StatusError, Summary: summary, Details: details}
}

// Context returns details.context when it is a map.
func (r TaskResult) Context() *Map {
	return r.Details.GetMap("context")
}

func (r TaskResult) ToMap() *Map {
	return NewMap().
		Set("status", String(string(r.Status))).
		Set("summary", String(r.Summary)).
		Set("details", MapOf(r.Details))
}

func (r TaskResult) MarshalJSON() ([]byte, error) {
	return r.ToMap().MarshalJSON()
}

func (r *TaskResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status  Status `json:"status"`
		Summary string `json:"summary"`
		Details *Map   `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Status.Valid() {
		return fmt.Errorf("invalid status %q", raw.Status)
	}
	if raw.Details == nil {
		raw.Details = NewMap()
	}
	*r = TaskResult{Status: raw.Status, Summary: raw.Summary, Details: raw.Details}
	return nil
}

// Task addresses an input to an agent. Child tasks derive their id from the
// parent so the delegation tree can be rebuilt from ids alone.
type Task struct {
	ID      string    `json:"id"`
	AgentID string    `json:"agent_id"`
	Input   TaskInput `json:"input"`
}

func (t Task) Child(suffix, agentID string, input TaskInput) Task {
	return Task{ID: t.ID + ":" + suffix, AgentID: agentID, Input: input}
}

func (t Task) ToMap() *Map {
	return NewMap().
		Set("id", String(t.ID)).
		Set("agent_id", String(t.AgentID)).
		Set("input", MapOf(t.Input.ToMap()))
}

type EventType string

const (
	EventTaskCreated         EventType = "task.created"
	EventTaskStarted         EventType = "task.started"
	EventAgentStarted        EventType = "agent.started"
	EventAgentCompleted      EventType = "agent.completed"
	EventDelegationRequested EventType = "delegation.requested"
	EventDelegationCompleted EventType = "delegation.completed"
	EventTaskCompleted       EventType = "task.completed"
	EventError               EventType = "error"
)

// Event is one observable step of an execution. Events are never mutated
// after they are emitted.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Message   string    `json:"message"`
	Data      *Map      `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvent(taskID string, t EventType, message string, data *Map) Event {
	if data == nil {
		data = NewMap()
	}
	return Event{
		Type:      t,
		TaskID:    taskID,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// String renders the trace line shown to users.
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}
