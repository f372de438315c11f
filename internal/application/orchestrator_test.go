package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/automation"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/profile"
	"github.com/spigell/job-autopilot/internal/storage"
)

const waitFor = 3 * time.Second

func testConfig() application.Config {
	return application.Config{
		Workers:        2,
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
		PollInterval:   5 * time.Millisecond,
	}
}

type harness struct {
	orch  *application.Orchestrator
	store *storage.Memory
}

func newHarness(t *testing.T, cfg application.Config, automator application.Automator) *harness {
	t.Helper()

	store := storage.NewMemory()
	return newHarnessWithStore(t, cfg, automator, store)
}

func newHarnessWithStore(t *testing.T, cfg application.Config, automator application.Automator, store *storage.Memory) *harness {
	t.Helper()

	ctx := context.Background()
	for _, user := range []string{"u-1", "u-2"} {
		require.NoError(t, store.SaveProfile(ctx, profile.CandidateProfile{UserID: user, ResumeText: "go engineer"}))
	}

	jobs := catalog.New(catalog.StaticProvider{
		{ID: "job-a", Title: "Go developer"},
		{ID: "job-b", Title: "Platform engineer"},
		{ID: "job-c", Title: "SRE"},
	}, nil)
	require.NoError(t, jobs.Refresh(ctx))

	orch, err := application.New(cfg, automator, store, jobs, application.WithStore(store))
	require.NoError(t, err)

	return &harness{orch: orch, store: store}
}

// start runs the worker pool; the returned function stops it and waits for shutdown.
func (h *harness) start(t *testing.T) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-done)
		})
	}
	t.Cleanup(stop)
	return stop
}

func (h *harness) waitState(t *testing.T, id string, state application.State) application.Attempt {
	t.Helper()

	var got application.Attempt
	require.Eventually(t, func() bool {
		a, err := h.orch.Attempt(id)
		if err != nil {
			return false
		}
		got = a
		return a.State == state
	}, waitFor, 5*time.Millisecond, "attempt %s never reached %s", id, state)
	return got
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	scripted := automation.NewScripted(application.Success())
	store := storage.NewMemory()
	jobs := catalog.New(catalog.StaticProvider{}, nil)

	cfg := testConfig()
	cfg.Workers = 0
	_, err := application.New(cfg, scripted, store, jobs)
	require.True(t, errors.Is(err, errs.ErrInvalidArgument))

	cfg = testConfig()
	cfg.MaxAttempts = 0
	_, err = application.New(cfg, scripted, store, jobs)
	require.True(t, errors.Is(err, errs.ErrInvalidArgument))

	_, err = application.New(testConfig(), nil, store, jobs)
	require.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestSubmitIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), automation.NewScripted(application.Success()))
	ctx := context.Background()

	first, err := h.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)
	require.Equal(t, application.StateQueued, first.State)
	require.Zero(t, first.AttemptCount)

	second, err := h.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var wg sync.WaitGroup
	ids := make([]string, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := h.orch.Submit(ctx, "u-1", "job-a")
			if err == nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, first.ID, id)
	}
	require.Len(t, h.orch.Attempts("u-1"), 1)
	require.Equal(t, 1, h.orch.ActiveCount())

	stored, err := h.store.ListAttempts(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	_, err = h.orch.Submit(ctx, "", "job-a")
	require.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestSuccessfulSubmission(t *testing.T) {
	t.Parallel()

	scripted := automation.NewScripted(application.Success())
	h := newHarness(t, testConfig(), scripted)
	h.start(t)

	a, err := h.orch.Submit(context.Background(), "u-1", "job-a")
	require.NoError(t, err)

	got := h.waitState(t, a.ID, application.StateSubmitted)
	require.Equal(t, 1, got.AttemptCount)
	require.Empty(t, got.LastError)
	require.Empty(t, got.ClaimedBy)
	require.Zero(t, h.orch.ActiveCount())
	require.Equal(t, 1, scripted.CallCount("job-a"))

	require.Eventually(t, func() bool {
		stored, err := h.store.ListAttempts(context.Background())
		return err == nil && len(stored) == 1 && stored[0].State == application.StateSubmitted
	}, waitFor, 5*time.Millisecond)

	applied, err := h.orch.AppliedJobIDs(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, []string{"job-a"}, applied)
}

func TestCaptchaParksAttemptAndRetryRequeues(t *testing.T) {
	t.Parallel()

	scripted := automation.NewScripted(application.Success()).
		Script("job-a", application.CaptchaDetected())
	h := newHarness(t, testConfig(), scripted)
	stop := h.start(t)
	ctx := context.Background()

	a, err := h.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)

	blocked := h.waitState(t, a.ID, application.StateCaptchaBlocked)
	require.Equal(t, 1, blocked.AttemptCount)
	require.Zero(t, h.orch.ActiveCount(), "parked attempt must not occupy the active slot")

	pending := h.orch.ListPending()
	require.Len(t, pending, 1)
	require.Equal(t, a.ID, pending[0].AttemptID)
	require.Equal(t, "manual captcha solve required", pending[0].Notes)
	require.True(t, pending[0].Pending())

	stop()

	retried, err := h.orch.Resolve(ctx, pending[0].ID, application.DecisionRetry)
	require.NoError(t, err)
	require.Equal(t, application.StateQueued, retried.State)
	require.Equal(t, a.ID, retried.ID)
	require.Equal(t, 1, retried.AttemptCount, "count carries over on retry")
	require.Empty(t, h.orch.ListPending())
	require.Equal(t, 1, h.orch.ActiveCount())

	_, err = h.orch.Resolve(ctx, pending[0].ID, application.DecisionRetry)
	require.True(t, errors.Is(err, errs.ErrAlreadyResolved))

	stored, err := h.store.ListTickets(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, application.DecisionRetry, stored[0].Resolution)

	h.start(t)
	done := h.waitState(t, a.ID, application.StateSubmitted)
	require.Equal(t, 2, done.AttemptCount)
	require.Equal(t, 2, scripted.CallCount("job-a"))
}

func TestCaptchaAbandon(t *testing.T) {
	t.Parallel()

	scripted := automation.NewScripted(application.CaptchaDetected())
	h := newHarness(t, testConfig(), scripted)
	h.start(t)
	ctx := context.Background()

	a, err := h.orch.Submit(ctx, "u-1", "job-b")
	require.NoError(t, err)
	h.waitState(t, a.ID, application.StateCaptchaBlocked)

	ticket := h.orch.ListPending()[0]
	abandoned, err := h.orch.Resolve(ctx, ticket.ID, application.DecisionAbandon)
	require.NoError(t, err)
	require.Equal(t, application.StateAbandoned, abandoned.State)
	require.True(t, abandoned.State.Terminal())

	closed, err := h.orch.Ticket(ticket.ID)
	require.NoError(t, err)
	require.Equal(t, application.DecisionAbandon, closed.Resolution)
	require.NotNil(t, closed.ResolvedAt)
	require.Empty(t, h.orch.ListPending())

	_, err = h.orch.Resolve(ctx, ticket.ID, application.DecisionAbandon)
	require.True(t, errors.Is(err, errs.ErrAlreadyResolved))

	again, err := h.orch.Submit(ctx, "u-1", "job-b")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, again.ID)
}

func TestEveryCaptchaProducesOneTicket(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), automation.NewScripted(application.CaptchaDetected()))
	h.start(t)
	ctx := context.Background()

	var ids []string
	for _, user := range []string{"u-1", "u-2"} {
		for _, job := range []string{"job-a", "job-b", "job-c"} {
			a, err := h.orch.Submit(ctx, user, job)
			require.NoError(t, err)
			ids = append(ids, a.ID)
		}
	}

	for _, id := range ids {
		h.waitState(t, id, application.StateCaptchaBlocked)
	}

	pending := h.orch.ListPending()
	require.Len(t, pending, len(ids))

	seen := make(map[string]bool)
	for i, ticket := range pending {
		require.False(t, seen[ticket.AttemptID], "duplicate ticket for %s", ticket.AttemptID)
		seen[ticket.AttemptID] = true
		if i > 0 {
			require.False(t, ticket.DetectedAt.Before(pending[i-1].DetectedAt), "pending tickets keep detection order")
		}
	}
}

func TestRetryConflictsWithNewActiveAttempt(t *testing.T) {
	t.Parallel()

	scripted := automation.NewScripted(application.Success()).
		Script("job-a", application.CaptchaDetected())
	h := newHarness(t, testConfig(), scripted)
	stop := h.start(t)
	ctx := context.Background()

	a, err := h.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)
	h.waitState(t, a.ID, application.StateCaptchaBlocked)
	stop()

	fresh, err := h.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, fresh.ID)

	ticket := h.orch.ListPending()[0]
	_, err = h.orch.Resolve(ctx, ticket.ID, application.DecisionRetry)
	require.True(t, errors.Is(err, errs.ErrConflict))
	require.Len(t, h.orch.ListPending(), 1, "ticket stays pending after a conflict")

	blocked, err := h.orch.Attempt(a.ID)
	require.NoError(t, err)
	require.Equal(t, application.StateCaptchaBlocked, blocked.State)

	_, err = h.orch.Resolve(ctx, ticket.ID, application.DecisionAbandon)
	require.NoError(t, err)
}

func TestResetAttemptsOnRetry(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ResetAttemptsOnRetry = true
	h := newHarness(t, cfg, automation.NewScripted(application.CaptchaDetected()))
	stop := h.start(t)
	ctx := context.Background()

	a, err := h.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)
	h.waitState(t, a.ID, application.StateCaptchaBlocked)
	stop()

	retried, err := h.orch.Resolve(ctx, h.orch.ListPending()[0].ID, application.DecisionRetry)
	require.NoError(t, err)
	require.Zero(t, retried.AttemptCount)
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), automation.NewScripted(application.Success()))
	ctx := context.Background()

	_, err := h.orch.Resolve(ctx, "missing", application.DecisionRetry)
	require.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = h.orch.Resolve(ctx, "missing", application.Decision("later"))
	require.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestTransientFailureRetriesUntilCeiling(t *testing.T) {
	t.Parallel()

	scripted := automation.NewScripted(application.TransientFailure("site returned 503"))
	h := newHarness(t, testConfig(), scripted)
	h.start(t)

	a, err := h.orch.Submit(context.Background(), "u-1", "job-a")
	require.NoError(t, err)

	failed := h.waitState(t, a.ID, application.StateFailed)
	require.Equal(t, 3, failed.AttemptCount)
	require.Equal(t, "site returned 503", failed.LastError)
	require.Equal(t, 3, scripted.CallCount("job-a"))
	require.Zero(t, h.orch.ActiveCount())
	require.Empty(t, h.orch.ListPending())
}

func TestTransientFailureThenSuccess(t *testing.T) {
	t.Parallel()

	scripted := automation.NewScripted(application.Success()).
		Script("job-a", application.TransientFailure("flaky"), application.TransientFailure("flaky"))
	h := newHarness(t, testConfig(), scripted)
	h.start(t)

	a, err := h.orch.Submit(context.Background(), "u-1", "job-a")
	require.NoError(t, err)

	done := h.waitState(t, a.ID, application.StateSubmitted)
	require.Equal(t, 3, done.AttemptCount)
	require.Empty(t, done.LastError)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	scripted := automation.NewScripted(application.PermanentFailure("application closed"))
	h := newHarness(t, testConfig(), scripted)
	h.start(t)

	a, err := h.orch.Submit(context.Background(), "u-1", "job-c")
	require.NoError(t, err)

	failed := h.waitState(t, a.ID, application.StateFailed)
	require.Equal(t, 1, failed.AttemptCount)
	require.Equal(t, "application closed", failed.LastError)

	// give workers a chance to pick it up again if it was wrongly requeued
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, scripted.CallCount("job-c"))
}

func TestAttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.AttemptTimeout = 20 * time.Millisecond

	blocking := application.AutomatorFunc(func(ctx context.Context, _ profile.CandidateProfile, _ catalog.JobListing) application.Outcome {
		<-ctx.Done()
		return application.TransientFailure("context done")
	})

	h := newHarness(t, cfg, blocking)
	h.start(t)

	a, err := h.orch.Submit(context.Background(), "u-1", "job-a")
	require.NoError(t, err)

	failed := h.waitState(t, a.ID, application.StateFailed)
	require.Equal(t, "timeout", failed.LastError)
	require.Equal(t, 1, failed.AttemptCount)
}

func TestAutomatorPanicIsRecorded(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxAttempts = 1

	panicking := application.AutomatorFunc(func(context.Context, profile.CandidateProfile, catalog.JobListing) application.Outcome {
		panic("driver crashed")
	})

	h := newHarness(t, cfg, panicking)
	h.start(t)

	a, err := h.orch.Submit(context.Background(), "u-1", "job-a")
	require.NoError(t, err)

	failed := h.waitState(t, a.ID, application.StateFailed)
	require.Contains(t, failed.LastError, "automator panic")

	// the pool keeps serving after a panic
	b, err := h.orch.Submit(context.Background(), "u-1", "job-b")
	require.NoError(t, err)
	h.waitState(t, b.ID, application.StateFailed)
}

func TestUnknownProfileFailsPermanently(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), automation.NewScripted(application.Success()))
	h.start(t)

	a, err := h.orch.Submit(context.Background(), "ghost", "job-a")
	require.NoError(t, err)

	failed := h.waitState(t, a.ID, application.StateFailed)
	require.Equal(t, "profile not found", failed.LastError)
}

func TestShutdownRequeuesInFlightAttempt(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var once sync.Once
	blocking := application.AutomatorFunc(func(ctx context.Context, _ profile.CandidateProfile, _ catalog.JobListing) application.Outcome {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return application.TransientFailure("cancelled")
	})

	h := newHarness(t, testConfig(), blocking)
	stop := h.start(t)

	a, err := h.orch.Submit(context.Background(), "u-1", "job-a")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("automator was never called")
	}

	submitting, err := h.orch.Attempt(a.ID)
	require.NoError(t, err)
	require.Equal(t, application.StateSubmitting, submitting.State)
	require.NotEmpty(t, submitting.ClaimedBy)
	require.Equal(t, 1, h.orch.InFlight())

	stop()

	requeued, err := h.orch.Attempt(a.ID)
	require.NoError(t, err)
	require.Equal(t, application.StateQueued, requeued.State)
	require.Zero(t, requeued.AttemptCount)
	require.Empty(t, requeued.ClaimedBy)
	require.Zero(t, h.orch.InFlight())

	stored, err := h.store.ListAttempts(context.Background())
	require.NoError(t, err)
	require.Equal(t, application.StateQueued, stored[0].State)
}

func TestRecoverRequeuesStaleSubmitting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemory()
	created := time.Now().Add(-time.Hour)

	require.NoError(t, store.SaveAttempt(ctx, application.Attempt{
		ID: "stale", UserID: "u-1", JobID: "job-a", State: application.StateSubmitting,
		ClaimedBy: "worker-1", CreatedAt: created, UpdatedAt: created, NotBefore: created,
	}))
	require.NoError(t, store.SaveAttempt(ctx, application.Attempt{
		ID: "parked", UserID: "u-1", JobID: "job-b", State: application.StateCaptchaBlocked,
		AttemptCount: 1, CreatedAt: created, UpdatedAt: created,
	}))
	require.NoError(t, store.SaveTicket(ctx, application.Ticket{
		ID: "ticket-1", AttemptID: "parked", UserID: "u-1", JobID: "job-b", DetectedAt: created,
	}))

	h := newHarnessWithStore(t, testConfig(), automation.NewScripted(application.Success()), store)
	require.NoError(t, h.orch.Recover(ctx))

	stale, err := h.orch.Attempt("stale")
	require.NoError(t, err)
	require.Equal(t, application.StateQueued, stale.State)
	require.Empty(t, stale.ClaimedBy)
	require.Equal(t, 1, h.orch.ActiveCount())

	pending := h.orch.ListPending()
	require.Len(t, pending, 1)
	require.Equal(t, "ticket-1", pending[0].ID)

	again, err := h.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)
	require.Equal(t, "stale", again.ID, "recovered attempt keeps the active slot")

	h.start(t)
	h.waitState(t, "stale", application.StateSubmitted)

	retried, err := h.orch.Resolve(ctx, "ticket-1", application.DecisionRetry)
	require.NoError(t, err)
	require.Equal(t, 1, retried.AttemptCount)
	h.waitState(t, "parked", application.StateSubmitted)
}

func TestAtMostOneActiveAttemptPerPair(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		inflight = make(map[string]int)
		violated atomic.Bool
	)
	tracking := application.AutomatorFunc(func(_ context.Context, p profile.CandidateProfile, job catalog.JobListing) application.Outcome {
		key := p.UserID + "/" + job.ID
		mu.Lock()
		inflight[key]++
		if inflight[key] > 1 {
			violated.Store(true)
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inflight[key]--
		mu.Unlock()
		return application.Success()
	})

	cfg := testConfig()
	cfg.Workers = 4
	h := newHarness(t, cfg, tracking)
	h.start(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				user := fmt.Sprintf("u-%d", 1+(g+i)%2)
				job := []string{"job-a", "job-b", "job-c"}[(g*i)%3]
				if _, err := h.orch.Submit(ctx, user, job); err != nil {
					violated.Store(true)
				}

				active := make(map[application.Key]int)
				for _, a := range h.orch.Attempts("") {
					if a.State.Active() {
						active[a.Key()]++
						if active[a.Key()] > 1 {
							violated.Store(true)
						}
					}
				}
			}
		}(g)
	}
	wg.Wait()

	waitCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, h.orch.WaitIdle(waitCtx))
	require.False(t, violated.Load(), "a pair had more than one active attempt")
}

func TestPermanentFailureAfterTimeoutIsKept(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AttemptTimeout = 20 * time.Millisecond

	var calls atomic.Int32
	late := application.AutomatorFunc(func(ctx context.Context, _ profile.CandidateProfile, _ catalog.JobListing) application.Outcome {
		calls.Add(1)
		<-ctx.Done()
		return application.PermanentFailure("listing removed")
	})

	h := newHarness(t, cfg, late)
	h.start(t)

	a, err := h.orch.Submit(context.Background(), "u-1", "job-a")
	require.NoError(t, err)

	failed := h.waitState(t, a.ID, application.StateFailed)
	require.Equal(t, "listing removed", failed.LastError)
	require.Equal(t, 1, failed.AttemptCount)

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, calls.Load(), "a permanent verdict is never retried")
}

func TestLoadLeavesClaimsAlone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemory()
	created := time.Now().Add(-time.Hour)

	require.NoError(t, store.SaveAttempt(ctx, application.Attempt{
		ID: "held", UserID: "u-1", JobID: "job-a", State: application.StateSubmitting,
		ClaimedBy: "gone-host-1-abcd/worker-1", CreatedAt: created, UpdatedAt: created, NotBefore: created,
	}))

	h := newHarnessWithStore(t, testConfig(), automation.NewScripted(application.Success()), store)
	require.NoError(t, h.orch.Load(ctx))

	held, err := h.orch.Attempt("held")
	require.NoError(t, err)
	require.Equal(t, application.StateSubmitting, held.State)
	require.Equal(t, 1, h.orch.ActiveCount())

	stored, err := store.ListAttempts(ctx)
	require.NoError(t, err)
	require.Equal(t, application.StateSubmitting, stored[0].State, "loading never writes")
	require.Equal(t, "gone-host-1-abcd/worker-1", stored[0].ClaimedBy)

	again, err := h.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)
	require.Equal(t, "held", again.ID)

	require.NoError(t, h.orch.Recover(ctx))
	requeued, err := h.orch.Attempt("held")
	require.NoError(t, err)
	require.Equal(t, application.StateQueued, requeued.State)
}

func TestSharedStoreLiveClaimIsNotTakenOver(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AttemptTimeout = 5 * time.Second
	cfg.StaleClaim = 150 * time.Millisecond

	var (
		calls   atomic.Int32
		once    sync.Once
		started = make(chan struct{})
		release = make(chan struct{})
	)
	blocking := application.AutomatorFunc(func(ctx context.Context, _ profile.CandidateProfile, _ catalog.JobListing) application.Outcome {
		calls.Add(1)
		once.Do(func() { close(started) })
		select {
		case <-release:
			return application.Success()
		case <-ctx.Done():
			return application.TransientFailure("cancelled")
		}
	})

	ctx := context.Background()
	store := storage.NewMemory()
	first := newHarnessWithStore(t, cfg, blocking, store)
	second := newHarnessWithStore(t, cfg, blocking, store)
	require.NotEqual(t, first.orch.Instance(), second.orch.Instance())

	first.start(t)
	a, err := first.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("automator was never called")
	}

	require.NoError(t, second.orch.Recover(ctx))
	held, err := second.orch.Attempt(a.ID)
	require.NoError(t, err)
	require.Equal(t, application.StateSubmitting, held.State)
	require.Contains(t, held.ClaimedBy, first.orch.Instance()+"/")

	second.start(t)

	// several sweeps of the second process run while the heartbeat keeps the claim fresh
	time.Sleep(4 * cfg.StaleClaim)

	again, err := second.orch.Submit(ctx, "u-1", "job-a")
	require.NoError(t, err)
	require.Equal(t, a.ID, again.ID)
	require.EqualValues(t, 1, calls.Load())

	close(release)
	first.waitState(t, a.ID, application.StateSubmitted)
	second.waitState(t, a.ID, application.StateSubmitted)
	require.Zero(t, second.orch.ActiveCount())
	require.EqualValues(t, 1, calls.Load(), "the application was submitted twice")
}

func TestSharedStoreQueuedAttemptRunsOnce(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Workers = 4
	cfg.StaleClaim = 100 * time.Millisecond

	var calls atomic.Int32
	counting := application.AutomatorFunc(func(context.Context, profile.CandidateProfile, catalog.JobListing) application.Outcome {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return application.Success()
	})

	ctx := context.Background()
	store := storage.NewMemory()
	created := time.Now()
	for _, job := range []string{"job-a", "job-b", "job-c"} {
		require.NoError(t, store.SaveAttempt(ctx, application.Attempt{
			ID: "queued-" + job, UserID: "u-1", JobID: job, State: application.StateQueued,
			CreatedAt: created, UpdatedAt: created, NotBefore: created,
		}))
	}

	first := newHarnessWithStore(t, cfg, counting, store)
	second := newHarnessWithStore(t, cfg, counting, store)
	require.NoError(t, first.orch.Load(ctx))
	require.NoError(t, second.orch.Load(ctx))

	first.start(t)
	second.start(t)

	for _, job := range []string{"job-a", "job-b", "job-c"} {
		first.waitState(t, "queued-"+job, application.StateSubmitted)
		second.waitState(t, "queued-"+job, application.StateSubmitted)
	}
	require.EqualValues(t, 3, calls.Load(), "each attempt is claimed by one process only")
}
