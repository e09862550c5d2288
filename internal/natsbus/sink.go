package natsbus

import (
	"log/slog"

	"github.com/camdoctor/camdoctor/internal/a2a"
)

// Sink publishes the events of one root task. Publish failures are logged
// and never interrupt the execution.
type Sink struct {
	client *Client
	rootID string
}

// NewSink returns a sink for rootTaskID. A nil client yields a sink that
// drops everything.
func NewSink(client *Client, rootTaskID string) *Sink {
	return &Sink{client: client, rootID: rootTaskID}
}

func (s *Sink) Publish(ev a2a.Event) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.PublishTaskEvent(s.rootID, ev); err != nil {
		slog.Warn("publish event failed", "task", s.rootID, "event", ev.Type, "error", err)
	}
}
