// Package filtering narrows the job catalog before evaluation.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/catalog"
)

// Filter represents a single filtering step applied to job listings.
type Filter interface {
	Name() string
	Apply(ctx context.Context, userID string, jobs []catalog.JobListing) ([]catalog.JobListing, Step, error)
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// Run executes the supplied filters sequentially and returns the remaining listings.
func Run(ctx context.Context, logger *zap.Logger, steps []Filter, userID string, jobs []catalog.JobListing) ([]catalog.JobListing, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, step := range steps {
		next, info, err := step.Apply(ctx, userID, jobs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		logger.Debug("filter step",
			zap.String("name", step.Name()),
			zap.String("user_id", userID),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		jobs = next
	}

	return jobs, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}
		statuses = append(statuses, Status{Name: step.Name()})
	}
	return statuses
}

// exclude keeps the listings for which drop returns false, preserving order.
func exclude(jobs []catalog.JobListing, drop func(catalog.JobListing) bool) ([]catalog.JobListing, []string) {
	kept := make([]catalog.JobListing, 0, len(jobs))
	var dropped []string
	for _, job := range jobs {
		if drop(job) {
			dropped = append(dropped, job.ID)
			continue
		}
		kept = append(kept, job)
	}
	return kept, dropped
}
