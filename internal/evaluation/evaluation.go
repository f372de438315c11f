// Package evaluation ranks job listings against a candidate profile with a
// deterministic, explainable weighted score.
package evaluation

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/keywords"
	"github.com/spigell/job-autopilot/internal/profile"
)

// Names of the sub-criteria recorded in MatchResult.Breakdown.
const (
	CriterionKeyword  = "keyword"
	CriterionSalary   = "salary"
	CriterionLocation = "location"
	CriterionCulture  = "culture"
)

// neutral is the sub-score used when there is nothing to compare against.
const neutral = 0.5

// Weights sets the contribution of every sub-criterion to the final score.
type Weights struct {
	Keyword  float64 `mapstructure:"keyword" validate:"gte=0"`
	Salary   float64 `mapstructure:"salary" validate:"gte=0"`
	Location float64 `mapstructure:"location" validate:"gte=0"`
	Culture  float64 `mapstructure:"culture" validate:"gte=0"`
}

// DefaultWeights sum to 1 so scores stay within [0, 1].
var DefaultWeights = Weights{
	Keyword:  0.4,
	Salary:   0.25,
	Location: 0.2,
	Culture:  0.15,
}

func (w Weights) sum() float64 {
	return w.Keyword + w.Salary + w.Location + w.Culture
}

// MatchResult is one ranked entry of an evaluation run.
type MatchResult struct {
	EvaluationID string             `json:"evaluation_id"`
	UserID       string             `json:"user_id"`
	JobID        string             `json:"job_id"`
	Title        string             `json:"title,omitempty"`
	Company      string             `json:"company,omitempty"`
	URL          string             `json:"url,omitempty"`
	Score        float64            `json:"score"`
	Breakdown    map[string]float64 `json:"score_breakdown"`
	Rank         int                `json:"rank"`
	Overlap      []string           `json:"overlap,omitempty"`
	Gaps         []string           `json:"gaps,omitempty"`
	EvaluatedAt  time.Time          `json:"evaluated_at"`
}

type Option func(*Evaluator)

// WithWeights overrides DefaultWeights. Weights that do not sum to 1 are normalized.
func WithWeights(w Weights) Option {
	return func(e *Evaluator) { e.weights = w }
}

// WithMinScore drops results scoring below min before truncation.
func WithMinScore(min float64) Option {
	return func(e *Evaluator) { e.minScore = min }
}

// WithClock replaces time.Now for evaluation timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

type Evaluator struct {
	weights  Weights
	minScore float64
	now      func() time.Time
	logger   *zap.Logger
}

func New(logger *zap.Logger, opts ...Option) (*Evaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Evaluator{
		weights: DefaultWeights,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	total := e.weights.sum()
	if total <= 0 {
		return nil, errs.InvalidArgument("evaluation weights must have a positive sum")
	}
	if e.weights.Keyword < 0 || e.weights.Salary < 0 || e.weights.Location < 0 || e.weights.Culture < 0 {
		return nil, errs.InvalidArgument("evaluation weights must be non-negative")
	}
	e.weights = Weights{
		Keyword:  e.weights.Keyword / total,
		Salary:   e.weights.Salary / total,
		Location: e.weights.Location / total,
		Culture:  e.weights.Culture / total,
	}

	return e, nil
}

// Weights returns the normalized weights in use.
func (e *Evaluator) Weights() Weights {
	return e.weights
}

// Snapshot is the outcome of one evaluation run. A run without results is
// still a snapshot and supersedes the earlier ones.
type Snapshot struct {
	EvaluationID string
	EvaluatedAt  time.Time
	Results      []MatchResult
}

// Evaluate scores every listing for the candidate and returns at most
// maxResults results ordered by score descending, ties broken by job id
// ascending. Every call produces a fresh snapshot with its own evaluation id.
func (e *Evaluator) Evaluate(p profile.CandidateProfile, jobs []catalog.JobListing, maxResults int) ([]MatchResult, error) {
	snapshot, err := e.Run(p, jobs, maxResults)
	if err != nil {
		return nil, err
	}
	return snapshot.Results, nil
}

// Run is Evaluate returning the whole snapshot.
func (e *Evaluator) Run(p profile.CandidateProfile, jobs []catalog.JobListing, maxResults int) (Snapshot, error) {
	if maxResults <= 0 {
		return Snapshot{}, errs.InvalidArgument("max_results must be positive, got %d", maxResults)
	}
	if p.UserID == "" {
		return Snapshot{}, errs.InvalidArgument("profile has no user_id")
	}

	snapshot := Snapshot{
		EvaluationID: uuid.NewString(),
		EvaluatedAt:  e.now().UTC(),
		Results:      []MatchResult{},
	}
	if len(jobs) == 0 {
		return snapshot, nil
	}

	evaluationID, evaluatedAt := snapshot.EvaluationID, snapshot.EvaluatedAt
	resumeTokens := keywords.Set(p.ResumeText)

	results := make([]MatchResult, 0, len(jobs))
	for _, job := range jobs {
		result := e.score(p, resumeTokens, job)
		if result.Score < e.minScore {
			continue
		}
		result.EvaluationID = evaluationID
		result.EvaluatedAt = evaluatedAt
		results = append(results, result)
	}

	slices.SortFunc(results, func(a, b MatchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.JobID, b.JobID)
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	e.logger.Debug("evaluation finished",
		zap.String("user_id", p.UserID),
		zap.String("evaluation_id", evaluationID),
		zap.Int("jobs", len(jobs)),
		zap.Int("results", len(results)),
	)

	snapshot.Results = results
	return snapshot, nil
}

func (e *Evaluator) score(p profile.CandidateProfile, resumeTokens map[string]bool, job catalog.JobListing) MatchResult {
	keywordScore, overlap, gaps := keywordFit(resumeTokens, job.Keywords)

	salary, location, culture := neutral, neutral, neutral
	if q := p.Questionnaire; q != nil {
		salary = salaryFit(*q, job)
		location = locationFit(*q, job)
		culture = cultureFit(*q, job)
	}

	breakdown := map[string]float64{
		CriterionKeyword:  keywordScore,
		CriterionSalary:   salary,
		CriterionLocation: location,
		CriterionCulture:  culture,
	}

	total := e.weights.Keyword*keywordScore +
		e.weights.Salary*salary +
		e.weights.Location*location +
		e.weights.Culture*culture

	return MatchResult{
		UserID:    p.UserID,
		JobID:     job.ID,
		Title:     job.Title,
		Company:   job.Company,
		URL:       job.URL,
		Score:     round(clamp(total)),
		Breakdown: breakdown,
		Overlap:   overlap,
		Gaps:      gaps,
	}
}

// String renders a compact explanation of the result.
func (m MatchResult) String() string {
	return fmt.Sprintf("#%d %s score=%.3f keyword=%.2f salary=%.2f location=%.2f culture=%.2f",
		m.Rank, m.JobID, m.Score,
		m.Breakdown[CriterionKeyword], m.Breakdown[CriterionSalary],
		m.Breakdown[CriterionLocation], m.Breakdown[CriterionCulture],
	)
}
