// Package storage persists profiles, jobs, match snapshots, application
// attempts and CAPTCHA tickets.
package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/evaluation"
	"github.com/spigell/job-autopilot/internal/profile"
)

// Memory keeps every record in process memory.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]profile.CandidateProfile
	jobs     map[string]catalog.JobListing
	matches  map[string][]evaluation.MatchResult
	attempts map[string]application.Attempt
	tickets  map[string]application.Ticket
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]profile.CandidateProfile),
		jobs:     make(map[string]catalog.JobListing),
		matches:  make(map[string][]evaluation.MatchResult),
		attempts: make(map[string]application.Attempt),
		tickets:  make(map[string]application.Ticket),
	}
}

func (m *Memory) SaveProfile(_ context.Context, p profile.CandidateProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p.Clone()
	return nil
}

func (m *Memory) Profile(_ context.Context, userID string) (profile.CandidateProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return profile.CandidateProfile{}, errs.NotFound("user", userID)
	}
	return p.Clone(), nil
}

func (m *Memory) SaveJobs(_ context.Context, jobs []catalog.JobListing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range jobs {
		m.jobs[j.ID] = j.Clone()
	}
	return nil
}

func (m *Memory) ListJobs(_ context.Context) ([]catalog.JobListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]catalog.JobListing, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// SaveMatches replaces the latest snapshot of the user. Earlier snapshots
// returned to callers are never modified.
func (m *Memory) SaveMatches(_ context.Context, userID string, snapshot evaluation.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[userID] = cloneMatches(snapshot.Results)
	return nil
}

func (m *Memory) LatestMatches(_ context.Context, userID string) ([]evaluation.MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMatches(m.matches[userID]), nil
}

func (m *Memory) SaveAttempt(_ context.Context, a application.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = a
	return nil
}

func (m *Memory) ClaimAttempt(_ context.Context, a application.Attempt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.attempts[a.ID]
	if !ok || stored.State != application.StateQueued {
		return false, nil
	}
	m.attempts[a.ID] = a
	return true, nil
}

func (m *Memory) RequeueStale(_ context.Context, a application.Attempt, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.attempts[a.ID]
	if !ok || stored.State != application.StateSubmitting || !stored.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	m.attempts[a.ID] = a
	return true, nil
}

func (m *Memory) Heartbeat(_ context.Context, id, claimedBy string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.attempts[id]
	if !ok || stored.State != application.StateSubmitting || stored.ClaimedBy != claimedBy {
		return false, nil
	}
	stored.UpdatedAt = at
	m.attempts[id] = stored
	return true, nil
}

func (m *Memory) ListAttempts(_ context.Context) ([]application.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]application.Attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

func (m *Memory) SaveTicket(_ context.Context, t application.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		t.ResolvedAt = &at
	}
	m.tickets[t.ID] = t
	return nil
}

func (m *Memory) ListTickets(_ context.Context) ([]application.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]application.Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].DetectedAt.Equal(out[k].DetectedAt) {
			return out[i].DetectedAt.Before(out[k].DetectedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

func (m *Memory) Close() {}

func cloneMatches(results []evaluation.MatchResult) []evaluation.MatchResult {
	out := make([]evaluation.MatchResult, 0, len(results))
	for _, r := range results {
		c := r
		c.Overlap = slices.Clone(r.Overlap)
		c.Gaps = slices.Clone(r.Gaps)
		if r.Breakdown != nil {
			c.Breakdown = make(map[string]float64, len(r.Breakdown))
			for k, v := range r.Breakdown {
				c.Breakdown[k] = v
			}
		}
		out = append(out, c)
	}
	return out
}
