// Package service is the boundary used by the command line front end: profile
// ingestion, evaluation, submission and CAPTCHA backlog handling.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/evaluation"
	"github.com/spigell/job-autopilot/internal/filtering"
	"github.com/spigell/job-autopilot/internal/logger"
	"github.com/spigell/job-autopilot/internal/profile"
)

// Store persists profiles and evaluation snapshots.
type Store interface {
	SaveProfile(ctx context.Context, p profile.CandidateProfile) error
	Profile(ctx context.Context, userID string) (profile.CandidateProfile, error)
	// SaveMatches stores the snapshot as the latest one of the user, even when it has no results.
	SaveMatches(ctx context.Context, userID string, snapshot evaluation.Snapshot) error
	LatestMatches(ctx context.Context, userID string) ([]evaluation.MatchResult, error)
}

// jobSaver is implemented by stores that keep a copy of the catalog.
type jobSaver interface {
	SaveJobs(ctx context.Context, jobs []catalog.JobListing) error
}

// Applications is the submission side consumed by the service.
type Applications interface {
	Submit(ctx context.Context, userID, jobID string) (application.Attempt, error)
	Attempts(userID string) []application.Attempt
	ListPending() []application.Ticket
	Resolve(ctx context.Context, ticketID string, decision application.Decision) (application.Attempt, error)
}

// Service wires the components together.
type Service struct {
	store     Store
	catalog   *catalog.Catalog
	evaluator *evaluation.Evaluator
	apps      Applications
	filters   []filtering.Filter
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithFilters(filters ...filtering.Filter) Option {
	return func(s *Service) { s.filters = append(s.filters, filters...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logger.WithFields(l) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store Store, jobs *catalog.Catalog, evaluator *evaluation.Evaluator, apps Applications, opts ...Option) *Service {
	s := &Service{
		store:     store,
		catalog:   jobs,
		evaluator: evaluator,
		apps:      apps,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshCatalog reloads job listings and, when the store supports it, persists them.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	if err := s.catalog.Refresh(ctx); err != nil {
		return err
	}

	if saver, ok := s.store.(jobSaver); ok {
		if err := saver.SaveJobs(ctx, s.catalog.Jobs()); err != nil {
			return fmt.Errorf("save jobs: %w", err)
		}
	}
	return nil
}

// IngestProfile creates the profile or replaces its résumé text wholesale.
func (s *Service) IngestProfile(ctx context.Context, userID, resumeText string) (profile.CandidateProfile, error) {
	current, err := s.existing(ctx, userID)
	if err != nil {
		return profile.CandidateProfile{}, err
	}

	updated, err := current.WithResume(userID, resumeText, s.now().UTC())
	if err != nil {
		return profile.CandidateProfile{}, err
	}

	if err := s.store.SaveProfile(ctx, updated); err != nil {
		return profile.CandidateProfile{}, fmt.Errorf("save profile: %w", err)
	}

	s.logger.Info("profile ingested",
		zap.String(logger.FieldUser, updated.UserID),
		zap.Strings("skills", updated.Skills),
	)
	return updated, nil
}

// IngestQuestionnaire parses answers and replaces the questionnaire wholesale.
func (s *Service) IngestQuestionnaire(ctx context.Context, userID string, answers map[string]any) (profile.CandidateProfile, error) {
	q, err := profile.ParseAnswers(answers)
	if err != nil {
		return profile.CandidateProfile{}, err
	}

	current, err := s.existing(ctx, userID)
	if err != nil {
		return profile.CandidateProfile{}, err
	}

	updated, err := current.WithQuestionnaire(userID, q, s.now().UTC())
	if err != nil {
		return profile.CandidateProfile{}, err
	}

	if err := s.store.SaveProfile(ctx, updated); err != nil {
		return profile.CandidateProfile{}, fmt.Errorf("save profile: %w", err)
	}

	s.logger.Info("questionnaire ingested", zap.String(logger.FieldUser, updated.UserID))
	return updated, nil
}

// Evaluate ranks the catalog for the user and stores the result as the latest snapshot.
func (s *Service) Evaluate(ctx context.Context, userID string, maxResults int) ([]evaluation.MatchResult, error) {
	if maxResults <= 0 {
		return nil, errs.InvalidArgument("max_results must be positive, got %d", maxResults)
	}

	p, err := s.store.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	jobs, err := filtering.Run(ctx, s.logger, s.filters, userID, s.catalog.Jobs())
	if err != nil {
		return nil, fmt.Errorf("filter jobs: %w", err)
	}

	snapshot, err := s.evaluator.Run(p, jobs, maxResults)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveMatches(ctx, userID, snapshot); err != nil {
		return nil, fmt.Errorf("save matches: %w", err)
	}

	return snapshot.Results, nil
}

// ListMatches returns the latest evaluation snapshot of the user.
func (s *Service) ListMatches(ctx context.Context, userID string) ([]evaluation.MatchResult, error) {
	if _, err := s.store.Profile(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.LatestMatches(ctx, userID)
}

// Submit validates the pair and enqueues an application attempt.
func (s *Service) Submit(ctx context.Context, userID, jobID string) (application.Attempt, error) {
	if _, err := s.store.Profile(ctx, userID); err != nil {
		return application.Attempt{}, err
	}
	if _, err := s.catalog.Job(ctx, jobID); err != nil {
		return application.Attempt{}, err
	}
	return s.apps.Submit(ctx, userID, jobID)
}

// ListAttempts returns the attempts of the user, or of everyone for an empty userID.
func (s *Service) ListAttempts(_ context.Context, userID string) []application.Attempt {
	return s.apps.Attempts(strings.TrimSpace(userID))
}

func (s *Service) ListCaptchaBacklog(_ context.Context) []application.Ticket {
	return s.apps.ListPending()
}

// ResolveCaptcha applies retry or abandon to a pending ticket.
func (s *Service) ResolveCaptcha(ctx context.Context, ticketID, decision string) (application.Attempt, error) {
	d, err := application.ParseDecision(decision)
	if err != nil {
		return application.Attempt{}, err
	}
	return s.apps.Resolve(ctx, strings.TrimSpace(ticketID), d)
}

func (s *Service) existing(ctx context.Context, userID string) (profile.CandidateProfile, error) {
	p, err := s.store.Profile(ctx, strings.TrimSpace(userID))
	if err == nil {
		return p, nil
	}
	if errors.Is(err, errs.ErrNotFound) {
		return profile.CandidateProfile{}, nil
	}
	return profile.CandidateProfile{}, fmt.Errorf("load profile: %w", err)
}
