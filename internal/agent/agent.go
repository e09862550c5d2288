// Package agent holds the in-process agent capabilities and the catalog the
// engine dispatches local tasks to.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/llm"
	"github.com/camdoctor/camdoctor/internal/ticket"
)

// Capability is an agent that runs in this process. Run must not modify its
// input and reports its own failures as status=error results. A returned
// error is treated as an unexpected failure by the caller.
type Capability interface {
	Describe() a2a.AgentDescriptor
	Run(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error)
}

// Func adapts a function to Capability.
type Func struct {
	Descriptor a2a.AgentDescriptor
	Fn         func(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error)
}

func (f Func) Describe() a2a.AgentDescriptor { return f.Descriptor }

func (f Func) Run(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error) {
	return f.Fn(ctx, in)
}

// Invoke runs c and turns a panic or a result with an unknown status into
// an error.
func Invoke(ctx context.Context, c Capability, in a2a.TaskInput) (res a2a.TaskResult, err error) {
	id := c.Describe().ID
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent panicked", "agent", id, "panic", r)
			err = fmt.Errorf("%v", r)
		}
	}()
	res, err = c.Run(ctx, in)
	if err == nil && !res.Status.Valid() {
		err = fmt.Errorf("agent %s returned invalid status %q", id, res.Status)
	}
	return res, err
}

// Catalog is an ordered set of capabilities keyed by descriptor id. It is
// not modified after construction.
type Catalog struct {
	order []string
	caps  map[string]Capability
}

func NewCatalog(caps ...Capability) *Catalog {
	c := &Catalog{caps: make(map[string]Capability, len(caps))}
	for _, capability := range caps {
		id := capability.Describe().ID
		if _, ok := c.caps[id]; !ok {
			c.order = append(c.order, id)
		}
		c.caps[id] = capability
	}
	return c
}

// Defaults builds the diagnoser, fixer and support agents.
func Defaults(gen llm.Generator, tickets ticket.Store) *Catalog {
	return NewCatalog(
		NewDiagnoser(gen),
		NewFixer(gen),
		NewSupport(tickets),
	)
}

func (c *Catalog) Get(id string) (Capability, bool) {
	if c == nil {
		return nil, false
	}
	capability, ok := c.caps[id]
	return capability, ok
}

func (c *Catalog) List() []a2a.AgentDescriptor {
	if c == nil {
		return nil
	}
	out := make([]a2a.AgentDescriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.caps[id].Describe())
	}
	return out
}

func descriptor(id, name, description string, caps ...string) a2a.AgentDescriptor {
	return a2a.AgentDescriptor{
		ID:           id,
		Name:         name,
		Description:  description,
		Capabilities: caps,
		Version:      a2a.DefaultVersion,
	}
}

func failure(summary string, err error) a2a.TaskResult {
	return a2a.ErrorResult(summary, a2a.NewMap().Set("error", a2a.String(err.Error())))
}
