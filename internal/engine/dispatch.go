package engine

import (
	"context"
	"log/slog"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/agent"
	"github.com/camdoctor/camdoctor/internal/remote"
)

const (
	modeLocal  = "local"
	modeRemote = "remote"
)

// Dispatcher runs one resolved agent. The variant is picked once per task.
type Dispatcher interface {
	Descriptor() a2a.AgentDescriptor
	Mode() string
	// Dispatch returns an error only for unexpected local failures; remote
	// failures arrive as error results.
	Dispatch(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error)
}

type localDispatcher struct {
	capability agent.Capability
	desc       a2a.AgentDescriptor
}

func (d *localDispatcher) Descriptor() a2a.AgentDescriptor { return d.desc }
func (d *localDispatcher) Mode() string { return modeLocal }

func (d *localDispatcher) Dispatch(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error) {
	return agent.Invoke(ctx, d.capability, in)
}

type remoteDispatcher struct {
	client  RemoteClient
	agentID string
	baseURL string
	desc    a2a.AgentDescriptor
}

func (d *remoteDispatcher) Descriptor() a2a.AgentDescriptor { return d.desc }
func (d *remoteDispatcher) Mode() string { return modeRemote }

func (d *remoteDispatcher) Dispatch(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error) {
	return d.client.Run(ctx, d.agentID, d.baseURL, in), nil
}

// resolve picks the dispatcher for agentID: remote when the registry has an
// entry, else the local capability.
func (e *Engine) resolve(ctx context.Context, agentID string) (Dispatcher, bool) {
	if baseURL, ok := e.registry.Resolve(agentID); ok {
		desc, ok := e.remote.FetchDescriptor(ctx, agentID, baseURL)
		if !ok {
			slog.Debug("remote card unavailable, using placeholder", "agent", agentID, "url", baseURL)
			desc = remote.Placeholder(agentID, baseURL)
		}
		return &remoteDispatcher{client: e.remote, agentID: agentID, baseURL: baseURL, desc: desc}, true
	}
	if capability, ok := e.local.Get(agentID); ok {
		return &localDispatcher{capability: capability, desc: capability.Describe()}, true
	}
	return nil, false
}
