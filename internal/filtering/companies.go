package filtering

import (
	"context"
	"strings"

	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/keywords"
)

type companiesFilter struct {
	companies map[string]bool
	names     []string
}

// NewExcludedCompanies creates a filter that removes listings of the given companies.
// Company names are compared case-insensitively.
func NewExcludedCompanies(companies []string) Filter {
	names := keywords.Unique(companies)
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return &companiesFilter{companies: set, names: names}
}

func (f *companiesFilter) Name() string { return "excluded_companies" }

func (f *companiesFilter) Apply(_ context.Context, _ string, jobs []catalog.JobListing) ([]catalog.JobListing, Step, error) {
	initial := len(jobs)
	if len(f.companies) == 0 {
		return jobs, Step{Initial: initial, Left: initial}, nil
	}

	kept, dropped := exclude(jobs, func(job catalog.JobListing) bool {
		return f.companies[keywords.Normalize(job.Company)]
	})

	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *companiesFilter) Status() Status {
	details := map[string]string{}
	if len(f.names) > 0 {
		details["companies"] = strings.Join(f.names, ",")
	}
	return Status{Name: f.Name(), Details: details}
}
