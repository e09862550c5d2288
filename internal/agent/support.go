package agent

import (
	"context"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/ticket"
	"github.com/google/uuid"
)

const maxTicketBody = 1000

type Support struct {
	tickets ticket.Store
	newID   func() string
}

func NewSupport(tickets ticket.Store) *Support {
	if tickets == nil {
		tickets = ticket.NewMemoryStore()
	}
	return &Support{
		tickets: tickets,
		newID:   func() string { return uuid.NewString()[:8] },
	}
}

func (s *Support) Describe() a2a.AgentDescriptor {
	return descriptor("support", "Support",
		"Creates a support ticket and returns the ticket id.",
		"ticket_create")
}

func (s *Support) Run(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return failure("Ticket creation cancelled", err), nil
	}

	diagnosis := in.Context.GetMap("diagnosis")
	fixPlan := in.Context.GetMap("fix_plan")

	body := in.Logs
	if r := []rune(body); len(r) > maxTicketBody {
		body = string(r[:maxTicketBody])
	}

	t := &ticket.Ticket{
		ID:       s.newID(),
		Title:    "Camera issue reported",
		Body:     body,
		Status:   ticket.StatusOpen,
		Severity: Severity(diagnosis),
		Context: a2a.NewMap().
			Set("diagnosis", a2a.MapOf(diagnosis)).
			Set("fix_plan", a2a.MapOf(fixPlan)),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.tickets.SaveTicket(t); err != nil {
		return failure("Ticket creation failed", err), nil
	}

	details := a2a.NewMap().
		Set("ticket_id", a2a.String(t.ID)).
		Set("payload", a2a.MapOf(t.Payload()))
	return a2a.TaskResult{
		Status:  a2a.StatusOK,
		Summary: "Support ticket created: " + t.ID,
		Details: details,
	}, nil
}

// Severity is high when any diagnosed issue reports heavy packet loss.
func Severity(diagnosis *a2a.Map) string {
	v, _ := diagnosis.Get("issues")
	issues, _ := v.AsList()
	for _, issue := range issues {
		m, ok := issue.AsMap()
		if !ok {
			continue
		}
		loss, _ := m.Get("packet_loss_percent")
		if pct, ok := loss.AsNumber(); ok && pct >= HighLossPercent {
			return ticket.SeverityHigh
		}
	}
	return ticket.SeverityMedium
}
