package application

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spigell/job-autopilot/internal/errs"
)

// Decision is the operator's resolution of a CAPTCHA ticket.
type Decision string

const (
	DecisionRetry   Decision = "retry"
	DecisionAbandon Decision = "abandon"
)

// ParseDecision converts user input into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionRetry, DecisionAbandon:
		return d, nil
	default:
		return "", errs.InvalidArgument("unknown decision %q, expected retry or abandon", s)
	}
}

// Ticket records an attempt parked on human verification.
type Ticket struct {
	ID         string     `json:"ticket_id"`
	AttemptID  string     `json:"attempt_id"`
	UserID     string     `json:"user_id"`
	JobID      string     `json:"job_id"`
	Notes      string     `json:"notes,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
	Resolution Decision   `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (t Ticket) Pending() bool { return t.Resolution == "" }

// Backlog keeps CAPTCHA tickets in detection order.
type Backlog struct {
	mu      sync.Mutex
	tickets []*Ticket
	byID    map[string]*Ticket
}

func NewBacklog() *Backlog {
	return &Backlog{byID: make(map[string]*Ticket)}
}

// Add appends a ticket. A ticket already known by ID is ignored.
func (b *Backlog) Add(t Ticket) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byID[t.ID]; ok {
		return false
	}
	stored := t
	b.tickets = append(b.tickets, &stored)
	b.byID[t.ID] = &stored
	return true
}

func (b *Backlog) Get(id string) (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[id]
	if !ok {
		return Ticket{}, errs.NotFound("ticket", id)
	}
	return *t, nil
}

// Pending returns unresolved tickets in insertion order.
func (b *Backlog) Pending() []Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Ticket, 0, len(b.tickets))
	for _, t := range b.tickets {
		if t.Pending() {
			out = append(out, *t)
		}
	}
	return out
}

// PendingCount returns the number of unresolved tickets.
func (b *Backlog) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, t := range b.tickets {
		if t.Pending() {
			n++
		}
	}
	return n
}

// Resolve closes the ticket with decision.
func (b *Backlog) Resolve(id string, decision Decision, now time.Time) (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[id]
	if !ok {
		return Ticket{}, errs.NotFound("ticket", id)
	}
	if !t.Pending() {
		return *t, fmt.Errorf("ticket %q resolved as %s: %w", id, t.Resolution, errs.ErrAlreadyResolved)
	}
	resolvedAt := now
	t.Resolution = decision
	t.ResolvedAt = &resolvedAt
	return *t, nil
}

// merge adds a ticket read from storage. A known pending ticket takes the
// resolution recorded by another process.
func (b *Backlog) merge(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	known, ok := b.byID[t.ID]
	if !ok {
		stored := t
		at := len(b.tickets)
		for at > 0 && b.tickets[at-1].DetectedAt.After(t.DetectedAt) {
			at--
		}
		b.tickets = slices.Insert(b.tickets, at, &stored)
		b.byID[t.ID] = &stored
		return
	}
	if known.Pending() && !t.Pending() {
		known.Resolution = t.Resolution
		if t.ResolvedAt != nil {
			at := *t.ResolvedAt
			known.ResolvedAt = &at
		}
	}
}

// reopen reverts a resolution. Used when persisting the resolution fails.
func (b *Backlog) reopen(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.byID[id]; ok {
		t.Resolution = ""
		t.ResolvedAt = nil
	}
}
