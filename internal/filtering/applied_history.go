package filtering

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spigell/job-autopilot/internal/catalog"
)

// History reports jobs a user already applied to or has an application in progress for.
type History interface {
	AppliedJobIDs(ctx context.Context, userID string) ([]string, error)
}

type appliedHistoryFilter struct {
	history History
	ignore  bool
}

// NewAppliedHistory creates a filter that removes listings found in the user's application history.
func NewAppliedHistory(history History, ignore bool) Filter {
	return &appliedHistoryFilter{history: history, ignore: ignore}
}

func (f *appliedHistoryFilter) Name() string { return "applied_history" }

func (f *appliedHistoryFilter) Apply(ctx context.Context, userID string, jobs []catalog.JobListing) ([]catalog.JobListing, Step, error) {
	initial := len(jobs)
	if f.ignore {
		return jobs, Step{Initial: initial, Left: initial}, nil
	}

	if f.history == nil {
		return nil, Step{}, fmt.Errorf("application history is required")
	}

	applied, err := f.history.AppliedJobIDs(ctx, userID)
	if err != nil {
		return nil, Step{}, fmt.Errorf("get application history: %w", err)
	}

	ids := make(map[string]bool, len(applied))
	for _, id := range applied {
		ids[id] = true
	}

	kept, dropped := exclude(jobs, func(job catalog.JobListing) bool { return ids[job.ID] })
	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *appliedHistoryFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Details: map[string]string{"exclude_applied": strconv.FormatBool(!f.ignore)},
	}
}
