package application

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/logger"
	"github.com/spigell/job-autopilot/internal/profile"
)

const captchaNotes = "manual captcha solve required"

// Config controls the worker pool and the retry policy.
type Config struct {
	Workers              int           `mapstructure:"workers" validate:"gte=1"`
	MaxAttempts          int           `mapstructure:"max-attempts" validate:"gte=1"`
	BaseBackoff          time.Duration `mapstructure:"base-backoff" validate:"gte=0"`
	MaxBackoff           time.Duration `mapstructure:"max-backoff" validate:"gte=0"`
	AttemptTimeout       time.Duration `mapstructure:"attempt-timeout" validate:"gte=0"`
	PollInterval         time.Duration `mapstructure:"poll-interval" validate:"gte=0"`
	// StaleClaim is how long a submitting attempt may go without a heartbeat
	// before another process takes it over.
	StaleClaim           time.Duration `mapstructure:"stale-claim" validate:"gte=0"`
	ResetAttemptsOnRetry bool          `mapstructure:"reset-attempts-on-retry"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		MaxAttempts:    3,
		BaseBackoff:    30 * time.Second,
		MaxBackoff:     10 * time.Minute,
		AttemptTimeout: 2 * time.Minute,
		PollInterval:   time.Second,
		StaleClaim:     5 * time.Minute,
	}
}

// Store persists attempts and tickets. Several processes may share one store;
// the conditional writes decide which of them holds a claim.
type Store interface {
	SaveAttempt(ctx context.Context, a Attempt) error
	// ClaimAttempt saves a only when the stored attempt is still queued and
	// reports whether the claim was taken.
	ClaimAttempt(ctx context.Context, a Attempt) (bool, error)
	// RequeueStale saves a only when the stored attempt is still submitting
	// with a heartbeat older than staleBefore.
	RequeueStale(ctx context.Context, a Attempt, staleBefore time.Time) (bool, error)
	// Heartbeat refreshes updated_at of a submitting attempt held by claimedBy.
	// It reports false once the claim is lost.
	Heartbeat(ctx context.Context, id, claimedBy string, at time.Time) (bool, error)
	ListAttempts(ctx context.Context) ([]Attempt, error)
	SaveTicket(ctx context.Context, t Ticket) error
	ListTickets(ctx context.Context) ([]Ticket, error)
}

// ProfileSource resolves candidate profiles for the automator.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (profile.CandidateProfile, error)
}

// JobSource resolves job listings for the automator.
type JobSource interface {
	Job(ctx context.Context, id string) (catalog.JobListing, error)
}

// Recorder receives orchestrator measurements.
type Recorder interface {
	Transition(to State)
	AttemptFinished(kind OutcomeKind, elapsed time.Duration)
	QueueDepth(n int)
	BacklogPending(n int)
}

type nopRecorder struct{}

func (nopRecorder) Transition(State) {}

func (nopRecorder) AttemptFinished(OutcomeKind, time.Duration) {}

func (nopRecorder) QueueDepth(int) {}

func (nopRecorder) BacklogPending(int) {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.WithFields(l) }
}

func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithInstance overrides the process identity recorded in claims.
func WithInstance(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.instance = id
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator owns every attempt and its transitions. Attempts live in an
// arena keyed by ID; the active index maps a pair to its single queued or
// submitting attempt. Claims carry the instance name so processes sharing a
// store never take over each other's live work.
type Orchestrator struct {
	cfg       Config
	instance  string
	automator Automator
	profiles  ProfileSource
	jobs      JobSource
	store     Store
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	queue   *Queue
	backlog *Backlog

	mu       sync.Mutex
	attempts map[string]*Attempt
	active   map[Key]string
	inflight int
}

// New builds an orchestrator. Run starts the workers.
func New(cfg Config, automator Automator, profiles ProfileSource, jobs JobSource, opts ...Option) (*Orchestrator, error) {
	if cfg.Workers < 1 {
		return nil, errs.InvalidArgument("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxAttempts < 1 {
		return nil, errs.InvalidArgument("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if automator == nil || profiles == nil || jobs == nil {
		return nil, errs.InvalidArgument("automator, profile source and job source are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.StaleClaim <= 0 {
		cfg.StaleClaim = DefaultConfig().StaleClaim
	}

	o := &Orchestrator{
		cfg:       cfg,
		instance:  instanceID(),
		automator: automator,
		profiles:  profiles,
		jobs:      jobs,
		recorder:  nopRecorder{},
		logger:    zap.NewNop(),
		now:       time.Now,
		queue:     NewQueue(),
		backlog:   NewBacklog(),
		attempts:  make(map[string]*Attempt),
		active:    make(map[Key]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Submit enqueues an application for the pair. When an attempt is already
// active for the pair it is returned unchanged.
func (o *Orchestrator) Submit(ctx context.Context, userID, jobID string) (Attempt, error) {
	userID = strings.TrimSpace(userID)
	jobID = strings.TrimSpace(jobID)
	if userID == "" || jobID == "" {
		return Attempt{}, errs.InvalidArgument("user id and job id are required")
	}

	key := Key{UserID: userID, JobID: jobID}
	log := logger.WithPair(o.logger, userID, jobID)

	o.mu.Lock()
	defer o.mu.Unlock()

	if id, ok := o.active[key]; ok {
		existing := o.attempts[id]
		log.Debug("attempt already active", zap.String(logger.FieldAttempt, id), zap.String(logger.FieldState, existing.State.String()))
		return *existing, nil
	}

	now := o.now()
	a := &Attempt{
		ID:        uuid.NewString(),
		UserID:    userID,
		JobID:     jobID,
		State:     StateQueued,
		NotBefore: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.persistAttempt(ctx, *a); err != nil {
		return Attempt{}, fmt.Errorf("save attempt: %w", err)
	}

	o.attempts[a.ID] = a
	o.active[key] = a.ID
	o.queue.Push(a.ID, key, a.NotBefore)
	o.recorder.Transition(StateQueued)
	o.recorder.QueueDepth(o.queue.Len())

	log.Info("attempt queued", zap.String(logger.FieldAttempt, a.ID))
	return *a, nil
}

// Resolve applies an operator decision to a pending CAPTCHA ticket.
func (o *Orchestrator) Resolve(ctx context.Context, ticketID string, decision Decision) (Attempt, error) {
	if decision != DecisionRetry && decision != DecisionAbandon {
		return Attempt{}, errs.InvalidArgument("unknown decision %q", decision)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	ticket, err := o.backlog.Get(ticketID)
	if err != nil {
		return Attempt{}, err
	}
	if !ticket.Pending() {
		return Attempt{}, fmt.Errorf("ticket %q resolved as %s: %w", ticketID, ticket.Resolution, errs.ErrAlreadyResolved)
	}

	a, ok := o.attempts[ticket.AttemptID]
	if !ok {
		return Attempt{}, errs.NotFound("attempt", ticket.AttemptID)
	}
	if a.State != StateCaptchaBlocked {
		return Attempt{}, errs.Conflict("attempt %q is %s, not %s", a.ID, a.State, StateCaptchaBlocked)
	}

	key := a.Key()
	if decision == DecisionRetry {
		if other, busy := o.active[key]; busy {
			return Attempt{}, errs.Conflict("pair %s already has active attempt %q", key, other)
		}
	}

	log := logger.WithPair(o.logger, a.UserID, a.JobID).With(
		zap.String(logger.FieldTicket, ticketID),
		zap.String(logger.FieldAttempt, a.ID),
	)

	now := o.now()
	resolved, err := o.backlog.Resolve(ticketID, decision, now)
	if err != nil {
		return Attempt{}, err
	}
	if err := o.persistTicket(ctx, resolved); err != nil {
		o.backlog.reopen(ticketID)
		return Attempt{}, fmt.Errorf("save ticket: %w", err)
	}

	previous := *a
	switch decision {
	case DecisionAbandon:
		a.State = StateAbandoned
	case DecisionRetry:
		a.State = StateQueued
		a.NotBefore = now
		if o.cfg.ResetAttemptsOnRetry {
			log.Info("resetting attempt count on retry", zap.Int("previous_count", a.AttemptCount))
			a.AttemptCount = 0
		}
	}
	a.UpdatedAt = now

	if err := o.persistAttempt(ctx, *a); err != nil {
		*a = previous
		o.backlog.reopen(ticketID)
		ticket.Resolution, ticket.ResolvedAt = "", nil
		if rerr := o.persistTicket(ctx, ticket); rerr != nil {
			log.Error("failed to reopen ticket", zap.Error(rerr))
		}
		return Attempt{}, fmt.Errorf("save attempt: %w", err)
	}

	if a.State == StateQueued {
		o.active[key] = a.ID
		o.queue.Push(a.ID, key, a.NotBefore)
		o.recorder.QueueDepth(o.queue.Len())
	}
	o.recorder.Transition(a.State)
	o.recorder.BacklogPending(o.backlog.PendingCount())

	log.Info("captcha ticket resolved", zap.String("decision", string(decision)), zap.String(logger.FieldState, a.State.String()))
	return *a, nil
}

// Load merges persisted attempts and tickets into memory without writing
// anything back. Submitting attempts stay claimed by whoever holds them.
func (o *Orchestrator) Load(ctx context.Context) error {
	return o.sync(ctx, false)
}

// Recover merges persisted state and takes over abandoned work: a submitting
// attempt whose heartbeat is older than StaleClaim goes back to the queue.
// Claims refreshed by a live process are left alone.
func (o *Orchestrator) Recover(ctx context.Context) error {
	return o.sync(ctx, true)
}

func (o *Orchestrator) sync(ctx context.Context, takeover bool) error {
	if o.store == nil {
		return nil
	}

	attempts, err := o.store.ListAttempts(ctx)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}
	tickets, err := o.store.ListTickets(ctx)
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}

	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].CreatedAt.Before(attempts[j].CreatedAt)
	})
	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].DetectedAt.Before(tickets[j].DetectedAt)
	})

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	staleBefore := now.Add(-o.cfg.StaleClaim)

	var requeued, merged int
	for i := range attempts {
		a := attempts[i]
		local, known := o.attempts[a.ID]
		if known {
			if o.holds(*local) {
				continue
			}
			if !a.UpdatedAt.After(local.UpdatedAt) {
				a = *local
			}
		}
		log := logger.WithPair(o.logger, a.UserID, a.JobID).With(zap.String(logger.FieldAttempt, a.ID))

		if takeover && a.State == StateSubmitting && a.UpdatedAt.Before(staleBefore) {
			next := a
			next.State = StateQueued
			next.ClaimedBy = ""
			next.NotBefore = now
			next.UpdatedAt = now

			ok, err := o.store.RequeueStale(ctx, next, staleBefore)
			if err != nil {
				return fmt.Errorf("requeue attempt %q: %w", a.ID, err)
			}
			if ok {
				log.Warn("requeueing attempt with a stale claim",
					zap.String(logger.FieldWorker, a.ClaimedBy),
					zap.Time("heartbeat", a.UpdatedAt),
				)
				a = next
				requeued++
			}
		}

		if known && a.State == local.State && a.UpdatedAt.Equal(local.UpdatedAt) {
			continue
		}
		if !known || a.State != local.State {
			merged++
		}
		if err := o.adopt(ctx, a, takeover, log); err != nil {
			return err
		}
	}

	for _, t := range tickets {
		o.backlog.merge(t)
	}

	o.recorder.QueueDepth(o.queue.Len())
	o.recorder.BacklogPending(o.backlog.PendingCount())

	log := o.logger.Debug
	if merged > 0 || requeued > 0 {
		log = o.logger.Info
	}
	log("state merged from storage",
		zap.Int("attempts", merged),
		zap.Int("requeued", requeued),
		zap.Int("pending_tickets", o.backlog.PendingCount()),
	)
	return nil
}

// adopt replaces the in-memory copy of an attempt and keeps the active index
// and the queue in line with it. Must be called with o.mu held.
func (o *Orchestrator) adopt(ctx context.Context, a Attempt, write bool, log *zap.Logger) error {
	key := a.Key()

	if other, busy := o.active[key]; busy && other != a.ID && a.State.Active() {
		// A claim held elsewhere is never overwritten; the pair stays with the
		// attempt already indexed until the holder finishes.
		if !write || a.State == StateSubmitting {
			log.Warn("attempt shares its pair with another active attempt", zap.String("indexed_attempt_id", other))
			stored := a
			o.attempts[a.ID] = &stored
			return nil
		}

		log.Warn("dropping duplicate active attempt", zap.String("kept_attempt_id", other))
		a.State = StateFailed
		a.LastError = "duplicate active attempt"
		a.UpdatedAt = o.now()
		if err := o.persistAttempt(ctx, a); err != nil {
			return fmt.Errorf("fail duplicate attempt %q: %w", a.ID, err)
		}
	}

	stored := a
	o.attempts[a.ID] = &stored

	switch {
	case a.State.Active():
		o.active[key] = a.ID
		if a.State == StateQueued {
			o.queue.Push(a.ID, key, a.NotBefore)
		}
	case o.active[key] == a.ID:
		delete(o.active, key)
		o.queue.Remove(key)
	}
	return nil
}

// holds reports whether a worker of this process has the attempt claimed.
func (o *Orchestrator) holds(a Attempt) bool {
	return a.State == StateSubmitting && strings.HasPrefix(a.ClaimedBy, o.instance+"/")
}

// Instance returns the process identity recorded in claims.
func (o *Orchestrator) Instance() string {
	return o.instance
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Attempt returns a copy of the attempt with the given ID.
func (o *Orchestrator) Attempt(id string) (Attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.attempts[id]
	if !ok {
		return Attempt{}, errs.NotFound("attempt", id)
	}
	return *a, nil
}

// Attempts lists attempts ordered by creation time. An empty userID lists all users.
func (o *Orchestrator) Attempts(userID string) []Attempt {
	o.mu.Lock()
	out := make([]Attempt, 0, len(o.attempts))
	for _, a := range o.attempts {
		if userID == "" || a.UserID == userID {
			out = append(out, *a)
		}
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AppliedJobIDs returns jobs the user was submitted to or has an active attempt for.
func (o *Orchestrator) AppliedJobIDs(_ context.Context, userID string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool)
	for _, a := range o.attempts {
		if a.UserID == userID && (a.State == StateSubmitted || a.State.Active()) {
			seen[a.JobID] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListPending returns unresolved CAPTCHA tickets in detection order.
func (o *Orchestrator) ListPending() []Ticket {
	return o.backlog.Pending()
}

// Ticket returns a ticket by ID.
func (o *Orchestrator) Ticket(id string) (Ticket, error) {
	return o.backlog.Get(id)
}

// ActiveCount returns the number of pairs holding an active attempt.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// InFlight returns the number of attempts currently held by workers.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight
}

// WaitIdle blocks until no attempt is active or ctx is done.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if o.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) persistAttempt(ctx context.Context, a Attempt) error {
	if o.store == nil {
		return nil
	}
	return o.store.SaveAttempt(ctx, a)
}

func (o *Orchestrator) persistTicket(ctx context.Context, t Ticket) error {
	if o.store == nil {
		return nil
	}
	return o.store.SaveTicket(ctx, t)
}
