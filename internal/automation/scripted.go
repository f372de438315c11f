// Package automation implements the ways an application can be submitted.
package automation

import (
	"context"
	"sync"
	"time"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/profile"
)

// Call records one invocation of a Scripted automator.
type Call struct {
	UserID string
	JobID  string
	At     time.Time
}

// Scripted returns pre-programmed outcomes per job and falls back to a fixed
// outcome once a job's script is exhausted.
type Scripted struct {
	mu       sync.Mutex
	fallback application.Outcome
	scripts  map[string][]application.Outcome
	calls    []Call
}

var _ application.Automator = (*Scripted)(nil)

func NewScripted(fallback application.Outcome) *Scripted {
	return &Scripted{
		fallback: fallback,
		scripts:  make(map[string][]application.Outcome),
	}
}

// Script appends outcomes returned, in order, for jobID.
func (s *Scripted) Script(jobID string, outcomes ...application.Outcome) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[jobID] = append(s.scripts[jobID], outcomes...)
	return s
}

func (s *Scripted) Attempt(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) application.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{UserID: p.UserID, JobID: job.ID, At: time.Now()})

	if err := ctx.Err(); err != nil {
		return application.Transientf("cancelled: %v", err)
	}

	if script := s.scripts[job.ID]; len(script) > 0 {
		s.scripts[job.ID] = script[1:]
		return script[0]
	}
	return s.fallback
}

// Calls returns every recorded invocation.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of invocations for jobID.
func (s *Scripted) CallCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.JobID == jobID {
			n++
		}
	}
	return n
}
