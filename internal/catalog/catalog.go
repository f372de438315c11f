// Package catalog loads job postings from pluggable providers and serves
// immutable snapshots of them to evaluation runs.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/keywords"
)

// JobListing is a single job posting. Salary bounds are optional.
type JobListing struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Company     string   `json:"company,omitempty"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Remote      bool     `json:"remote"`
	SalaryMin   *float64 `json:"salary_min,omitempty"`
	SalaryMax   *float64 `json:"salary_max,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	CultureTags []string `json:"culture_tags,omitempty"`
	URL         string   `json:"url,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// HasSalary reports whether the posting carries any salary bound.
func (j JobListing) HasSalary() bool {
	return j.SalaryMin != nil || j.SalaryMax != nil
}

// Clone returns a deep copy of the listing.
func (j JobListing) Clone() JobListing {
	out := j
	out.Keywords = slices.Clone(j.Keywords)
	out.CultureTags = slices.Clone(j.CultureTags)
	if j.SalaryMin != nil {
		v := *j.SalaryMin
		out.SalaryMin = &v
	}
	if j.SalaryMax != nil {
		v := *j.SalaryMax
		out.SalaryMax = &v
	}
	return out
}

// Normalize validates a listing and fills derived fields: keywords are
// lower-cased, de-duplicated and derived from the description when absent,
// and swapped salary bounds are put in order.
func Normalize(j JobListing) (JobListing, error) {
	j = j.Clone()
	j.ID = strings.TrimSpace(j.ID)
	if j.ID == "" {
		return JobListing{}, errs.InvalidArgument("job id is required")
	}
	j.Title = strings.TrimSpace(j.Title)
	j.Location = strings.TrimSpace(j.Location)

	if j.SalaryMin != nil && j.SalaryMax != nil && *j.SalaryMin > *j.SalaryMax {
		j.SalaryMin, j.SalaryMax = j.SalaryMax, j.SalaryMin
	}

	j.Keywords = keywords.Unique(j.Keywords)
	if len(j.Keywords) == 0 {
		j.Keywords = keywords.Derive(j.Title + " " + j.Description)
	}
	j.CultureTags = keywords.Unique(j.CultureTags)

	return j, nil
}

// Provider loads job postings from some source.
type Provider interface {
	Load(ctx context.Context) ([]JobListing, error)
}

// Catalog holds the current set of listings. Refresh swaps the whole set at once,
// so a snapshot taken by Jobs never changes underneath an evaluation run.
type Catalog struct {
	provider Provider
	logger   *zap.Logger

	mu       sync.RWMutex
	jobs     []JobListing
	byID     map[string]int
	loadedAt time.Time
}

func New(provider Provider, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		provider: provider,
		logger:   logger,
		byID:     make(map[string]int),
	}
}

// Refresh reloads the catalog from its provider. Invalid or duplicated
// listings are skipped with a warning.
func (c *Catalog) Refresh(ctx context.Context) error {
	if c.provider == nil {
		return fmt.Errorf("catalog provider is not configured")
	}

	loaded, err := c.provider.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	jobs := make([]JobListing, 0, len(loaded))
	byID := make(map[string]int, len(loaded))
	for _, raw := range loaded {
		job, err := Normalize(raw)
		if err != nil {
			c.logger.Warn("skipping invalid job listing", zap.String("title", raw.Title), zap.Error(err))
			continue
		}
		if _, dup := byID[job.ID]; dup {
			c.logger.Warn("skipping duplicated job listing", zap.String("job_id", job.ID))
			continue
		}
		byID[job.ID] = len(jobs)
		jobs = append(jobs, job)
	}

	c.mu.Lock()
	c.jobs = jobs
	c.byID = byID
	c.loadedAt = time.Now().UTC()
	c.mu.Unlock()

	c.logger.Info("catalog refreshed", zap.Int("jobs", len(jobs)), zap.Int("skipped", len(loaded)-len(jobs)))
	return nil
}

// Jobs returns a snapshot of all listings in load order.
func (c *Catalog) Jobs() []JobListing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]JobListing, len(c.jobs))
	for i, job := range c.jobs {
		out[i] = job.Clone()
	}
	return out
}

// Job returns a listing by id.
func (c *Catalog) Job(_ context.Context, id string) (JobListing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.byID[id]
	if !ok {
		return JobListing{}, errs.NotFound("job", id)
	}
	return c.jobs[idx].Clone(), nil
}

// Len returns the number of listings currently loaded.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.jobs)
}

// LoadedAt returns the time of the last successful refresh.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}
