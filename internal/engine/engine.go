// Package engine executes tasks against local or remote agents, follows the
// delegation chain and reports every step as an ordered stream of events.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/agent"
	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/delegation"
	"github.com/camdoctor/camdoctor/internal/metrics"
	"github.com/camdoctor/camdoctor/internal/remote"
)

// Capabilities looks up in-process agents by id.
type Capabilities interface {
	Get(id string) (agent.Capability, bool)
}

// Resolver maps an agent id to the base URL of a remote agent server.
type Resolver interface {
	Resolve(agentID string) (string, bool)
}

// RemoteClient speaks the card/run HTTP contract.
type RemoteClient interface {
	FetchDescriptor(ctx context.Context, agentID, baseURL string) (a2a.AgentDescriptor, bool)
	Run(ctx context.Context, agentID, baseURL string, in a2a.TaskInput) a2a.TaskResult
}

type Engine struct {
	local    Capabilities
	registry Resolver
	remote   RemoteClient
	policy   delegation.Policy
	metrics  *metrics.Metrics
}

type Option func(*Engine)

func WithPolicy(p delegation.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithRemote(c RemoteClient) Option {
	return func(e *Engine) { e.remote = c }
}

// New builds an engine. A nil resolver means every agent is local.
func New(local Capabilities, reg Resolver, opts ...Option) *Engine {
	if local == nil {
		local = agent.NewCatalog()
	}
	if reg == nil {
		reg = noRemotes{}
	}
	e := &Engine{
		local:    local,
		registry: reg,
		policy:   delegation.NewChain(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.remote == nil {
		e.remote = remote.NewClient(config.RemoteConfig{})
	}
	return e
}

type noRemotes struct{}

func (noRemotes) Resolve(string) (string, bool) { return "", false }

// Execute returns a stream for task. Nothing runs until the first Next.
func (e *Engine) Execute(ctx context.Context, task a2a.Task) *Stream {
	s := &Stream{}
	s.start(func(yield func(a2a.Event) bool) {
		e.metrics.TaskStarted()
		status := "abandoned"
		defer func() { e.metrics.TaskFinished(task.AgentID, status) }()

		res, ok := e.run(ctx, task, yield)
		if !ok {
			return
		}
		status = string(res.Status)
		s.finish(res)
		slog.Info("task finished", "task", task.ID, "agent", task.AgentID, "status", res.Status)
	})
	return s
}

// Run drains a stream, handing each event to fn, and returns the final
// result.
func (e *Engine) Run(ctx context.Context, task a2a.Task, fn func(a2a.Event)) a2a.TaskResult {
	s := e.Execute(ctx, task)
	defer s.Close()
	for ev := range s.All() {
		if fn != nil {
			fn(ev)
		}
	}
	res, _ := s.Result()
	return res
}

// run executes task and any delegated children inline on yield. It reports
// false when the consumer stopped pulling.
func (e *Engine) run(ctx context.Context, task a2a.Task, yield func(a2a.Event) bool) (a2a.TaskResult, bool) {
	emit := func(t a2a.EventType, msg string, data *a2a.Map) bool {
		return yield(a2a.NewEvent(task.ID, t, msg, data))
	}

	if !emit(a2a.EventTaskCreated, "Task "+task.ID+" created", task.ToMap()) {
		return a2a.TaskResult{}, false
	}
	if !emit(a2a.EventTaskStarted, "Task "+task.ID+" started", a2a.NewMap().Set("agent", a2a.String(task.AgentID))) {
		return a2a.TaskResult{}, false
	}

	if err := ctx.Err(); err != nil {
		return cancelled(err, emit)
	}

	d, ok := e.resolve(ctx, task.AgentID)
	if !ok {
		if !emit(a2a.EventError, "Unknown agent: "+task.AgentID, nil) {
			return a2a.TaskResult{}, false
		}
		return a2a.ErrorResult("Unknown agent", nil), true
	}
	desc := d.Descriptor()

	if !emit(a2a.EventAgentStarted, desc.Name+" started", a2a.NewMap().
		Set("agent", a2a.MapOf(desc.ToMap())).
		Set("agent_id", a2a.String(desc.ID))) {
		return a2a.TaskResult{}, false
	}

	if err := ctx.Err(); err != nil {
		return cancelled(err, emit)
	}

	start := time.Now()
	res, err := d.Dispatch(ctx, task.Input)
	if err != nil {
		e.metrics.ObserveDispatch(task.AgentID, d.Mode(), string(a2a.StatusError), time.Since(start))
		slog.Error("agent failed", "task", task.ID, "agent", task.AgentID, "error", err)
		errData := a2a.NewMap().Set("error", a2a.String(err.Error()))
		if !emit(a2a.EventError, err.Error(), errData) {
			return a2a.TaskResult{}, false
		}
		return a2a.ErrorResult("Agent error", errData.Clone()), true
	}
	e.metrics.ObserveDispatch(task.AgentID, d.Mode(), string(res.Status), time.Since(start))

	if res.Status == a2a.StatusError {
		if !emit(a2a.EventError, res.Summary, res.Details) {
			return a2a.TaskResult{}, false
		}
	}

	if !emit(a2a.EventAgentCompleted, desc.Name+" completed", a2a.NewMap().
		Set("result", a2a.MapOf(res.ToMap())).
		Set("agent_id", a2a.String(desc.ID))) {
		return a2a.TaskResult{}, false
	}

	final := res
	finalName := ""
	last := delegation.Hop{Depth: 0, AgentID: task.AgentID, Input: task.Input, Result: res}
	for {
		next, ok := e.policy.Next(task, last)
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return cancelled(err, emit)
		}

		if !emit(a2a.EventDelegationRequested, "Delegating to "+next.Name, a2a.NewMap().Set("to", a2a.String(next.To))) {
			return a2a.TaskResult{}, false
		}
		e.metrics.IncDelegation(next.To)

		child := task.Child(next.Suffix, next.To, next.Input)
		childRes, ok := e.run(ctx, child, yield)
		if !ok {
			return a2a.TaskResult{}, false
		}

		if !emit(a2a.EventDelegationCompleted, next.Name+" finished", childRes.ToMap()) {
			return a2a.TaskResult{}, false
		}

		final = childRes
		finalName = next.Name
		last = delegation.Hop{Depth: last.Depth + 1, AgentID: next.To, Input: next.Input, Result: childRes}
	}

	msg := "Task completed"
	if finalName != "" {
		msg = "Task completed with " + finalName + " result"
	}
	if !emit(a2a.EventTaskCompleted, msg, a2a.NewMap().Set("status", a2a.String(string(final.Status)))) {
		return a2a.TaskResult{}, false
	}
	return final, true
}

func cancelled(err error, emit func(a2a.EventType, string, *a2a.Map) bool) (a2a.TaskResult, bool) {
	data := a2a.NewMap().Set("error", a2a.String(err.Error()))
	if !emit(a2a.EventError, "Task cancelled", data) {
		return a2a.TaskResult{}, false
	}
	return a2a.ErrorResult("Task cancelled", data.Clone()), true
}
