package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/ticket"
)

var _ ticket.Store = (*Store)(nil)

func scanTicket(row scanner) (*ticket.Ticket, error) {
	t := &ticket.Ticket{}
	var ctxJSON *string
	if err := row.Scan(&t.ID, &t.Title, &t.Body, &t.Status, &t.Severity, &ctxJSON, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Context = a2a.NewMap()
	if ctxJSON != nil && *ctxJSON != "" {
		if err := json.Unmarshal([]byte(*ctxJSON), t.Context); err != nil {
			return nil, fmt.Errorf("decode ticket context: %w", err)
		}
	}
	return t, nil
}

func (s *Store) SaveTicket(t *ticket.Ticket) error {
	ctxJSON, err := json.Marshal(a2a.MapOf(t.Context))
	if err != nil {
		return fmt.Errorf("encode ticket context: %w", err)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO tickets (id, title, body, status, severity, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			status = excluded.status,
			severity = excluded.severity,
			context = excluded.context`,
		t.ID, t.Title, t.Body, t.Status, t.Severity, string(ctxJSON), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

func (s *Store) GetTicket(id string) (*ticket.Ticket, error) {
	row := s.db.QueryRow(`
		SELECT id, title, body, status, severity, context, created_at
		FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *Store) ListTickets(limit int) ([]ticket.Ticket, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, title, body, status, severity, context, created_at
		FROM tickets
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}
