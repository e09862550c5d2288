// Package ticket holds the support tickets raised when a fix plan needs a
// human.
package ticket

import (
	"slices"
	"sync"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
)

const (
	StatusOpen = "open"

	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

type Ticket struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	Severity  string    `json:"severity"`
	Context   *a2a.Map  `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// Payload is the ticket as reported in a support result.
func (t *Ticket) Payload() *a2a.Map {
	return a2a.NewMap().
		Set("title", a2a.String(t.Title)).
		Set("body", a2a.String(t.Body)).
		Set("status", a2a.String(t.Status)).
		Set("severity", a2a.String(t.Severity)).
		Set("context", a2a.MapOf(t.Context))
}

// Store persists tickets. GetTicket returns (nil, nil) when id is unknown.
type Store interface {
	SaveTicket(t *Ticket) error
	GetTicket(id string) (*Ticket, error)
	ListTickets(limit int) ([]Ticket, error)
}

// MemoryStore keeps tickets for the life of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]Ticket)}
}

func (m *MemoryStore) SaveTicket(t *Ticket) error {
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[cp.ID] = cp
	return nil
}

func (m *MemoryStore) GetTicket(id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListTickets returns the newest tickets first. limit <= 0 means all.
func (m *MemoryStore) ListTickets(limit int) ([]Ticket, error) {
	m.mu.RLock()
	out := make([]Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		out = append(out, t)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Ticket) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
