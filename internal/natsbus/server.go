package natsbus

import (
	"fmt"
	"net"
	"time"

	"github.com/camdoctor/camdoctor/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Bus is the embedded NATS server that carries execution events between the
// engine, the scheduler and websocket clients. Events are not retained: a
// subscriber sees only what is published while it is connected.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

func New(cfg config.NATSConfig) (*Bus, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "camdoctor",
		Host:       host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	return &Bus{server: ns, cfg: cfg}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Connect opens a named client on the bus.
func (b *Bus) Connect(name string) (*Client, error) {
	return Connect(b.ClientURL(), name)
}

// Port is the port actually bound, which differs from the configured one
// when a random port was requested.
func (b *Bus) Port() int {
	if addr, ok := b.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return b.cfg.Port
}

// Clients is the number of connected clients.
func (b *Bus) Clients() int {
	return b.server.NumClients()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
