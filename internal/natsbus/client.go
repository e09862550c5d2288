package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/nats-io/nats.go"
)

// Client is a connection to the event bus, embedded or external. It speaks
// two message kinds: engine events on the task subjects and watch run
// notifications on the watch subjects.
type Client struct {
	conn *nats.Conn
	name string
}

// Connect dials the bus at url. After the first successful connection the
// client keeps reconnecting in the background.
func Connect(url, name string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "client", name, "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "client", name, "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &Client{conn: conn, name: name}, nil
}

// PublishTaskEvent sends ev on the subject of rootTaskID. Events of child
// tasks go to their root's subject.
func (c *Client) PublishTaskEvent(rootTaskID string, ev a2a.Event) error {
	return c.publishJSON(TopicEventsTask(rootTaskID), ev)
}

// SubscribeTaskEvents delivers the engine events of every task. Payloads
// that do not decode are logged and skipped.
func (c *Client) SubscribeTaskEvents(fn func(ev a2a.Event)) (*nats.Subscription, error) {
	return c.conn.Subscribe(TopicEventsTasks, func(msg *nats.Msg) {
		var ev a2a.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("invalid task event payload", "subject", msg.Subject, "error", err)
			return
		}
		fn(ev)
	})
}

// WatchRun reports one finished watch execution.
type WatchRun struct {
	Name   string `json:"name"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

const watchExecuted = "watch_executed"

type watchMessage struct {
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	Payload   WatchRun `json:"payload"`
}

func (c *Client) PublishWatchRun(run WatchRun) error {
	return c.publishJSON(TopicEventsWatch(run.Name), watchMessage{
		Type:      watchExecuted,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   run,
	})
}

// SubscribeWatchRuns delivers watch run notifications of every watch.
func (c *Client) SubscribeWatchRuns(fn func(run WatchRun)) (*nats.Subscription, error) {
	return c.conn.Subscribe(TopicEventsWatches, func(msg *nats.Msg) {
		var m watchMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil || m.Type != watchExecuted {
			slog.Warn("invalid watch event payload", "subject", msg.Subject, "error", err)
			return
		}
		fn(m.Payload)
	})
}

func (c *Client) publishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
