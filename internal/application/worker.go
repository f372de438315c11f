package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/logger"
	"github.com/spigell/job-autopilot/internal/profile"
	"github.com/spigell/job-autopilot/internal/utils"
)

const (
	reasonLogLimit   = 200
	lateOutcomeGrace = 250 * time.Millisecond
)

// Run recovers persisted state and runs the worker pool until ctx is done.
// In-flight attempts interrupted by shutdown go back to the queue.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	o.logger.Info("starting workers", zap.Int("workers", o.cfg.Workers), zap.String("instance", o.instance))

	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i <= o.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s/worker-%d", o.instance, i)
		g.Go(func() error {
			o.runLoop(ctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		o.sweepLoop(ctx)
		return nil
	})

	return g.Wait()
}

// sweepLoop picks up state written by other processes sharing the store and
// takes over their stale claims.
func (o *Orchestrator) sweepLoop(ctx context.Context) {
	if o.store == nil {
		return
	}

	ticker := time.NewTicker(max(o.cfg.StaleClaim/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Recover(ctx); err != nil && ctx.Err() == nil {
				o.logger.Warn("recovery sweep failed", zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) runLoop(ctx context.Context, workerID string) {
	log := o.logger.With(zap.String(logger.FieldWorker, workerID))
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		a, ok := o.claim(ctx, workerID)
		if ok {
			o.process(ctx, workerID, a)
			continue
		}

		if !o.wait(ctx) {
			return
		}
	}
}

// wait blocks until the queue signals, the next entry becomes visible or the
// poll interval passes. It returns false when ctx is done.
func (o *Orchestrator) wait(ctx context.Context) bool {
	delay := o.cfg.PollInterval
	if next, ok := o.queue.NextVisible(); ok {
		if d := next.Sub(o.now()); d < delay {
			delay = d
		}
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-o.queue.Ready():
	case <-timer.C:
	}
	return true
}

// claim pops the next visible attempt and marks it as submitting.
func (o *Orchestrator) claim(ctx context.Context, workerID string) (Attempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for {
		id, ok := o.queue.Pop(o.now())
		if !ok {
			return Attempt{}, false
		}

		a, known := o.attempts[id]
		if !known || a.State != StateQueued {
			continue
		}

		prev := *a
		a.State = StateSubmitting
		a.ClaimedBy = workerID
		a.UpdatedAt = o.now()

		taken, err := o.claimInStore(ctx, *a)
		if err != nil {
			*a = prev
			a.NotBefore = o.now().Add(o.cfg.PollInterval)
			o.queue.Push(a.ID, a.Key(), a.NotBefore)
			o.logger.Error("failed to save claimed attempt", zap.String(logger.FieldAttempt, a.ID), zap.Error(err))
			return Attempt{}, false
		}
		if !taken {
			// Held elsewhere now; the next sweep brings in the stored state.
			*a = prev
			a.State = StateSubmitting
			a.ClaimedBy = ""
			o.logger.Debug("attempt claimed by another process", zap.String(logger.FieldAttempt, a.ID))
			continue
		}

		o.inflight++
		o.recorder.Transition(StateSubmitting)
		o.recorder.QueueDepth(o.queue.Len())

		return *a, true
	}
}

func (o *Orchestrator) process(ctx context.Context, workerID string, a Attempt) {
	log := logger.WithPair(o.logger, a.UserID, a.JobID).With(
		zap.String(logger.FieldWorker, workerID),
		zap.String(logger.FieldAttempt, a.ID),
		zap.Int("attempt_count", a.AttemptCount),
	)
	log.Debug("submitting application")

	started := time.Now()
	stopHeartbeat := o.heartbeat(ctx, a, log)
	outcome, interrupted := o.execute(ctx, a)
	stopHeartbeat()
	// Persistence must outlive the worker context so shutdown can record the final state.
	saveCtx := context.WithoutCancel(ctx)

	if interrupted {
		o.release(saveCtx, a.ID, log)
		return
	}

	o.finish(saveCtx, a.ID, outcome, time.Since(started), log)
}

// execute resolves the inputs and calls the automator under the attempt
// timeout. The boolean result reports a shutdown interruption.
func (o *Orchestrator) execute(ctx context.Context, a Attempt) (Outcome, bool) {
	p, err := o.profiles.Profile(ctx, a.UserID)
	if err != nil {
		return lookupFailure(ctx, "profile", err)
	}

	job, err := o.jobs.Job(ctx, a.JobID)
	if err != nil {
		return lookupFailure(ctx, "job", err)
	}

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	}
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		done <- o.call(attemptCtx, a, p, job)
	}()

	select {
	case out := <-done:
		return classify(ctx, attemptCtx, out)
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return Outcome{}, true
		}
		// An automator unwinding after the deadline may still report its own verdict.
		grace := time.NewTimer(lateOutcomeGrace)
		defer grace.Stop()

		select {
		case out := <-done:
			return classify(ctx, attemptCtx, out)
		case <-grace.C:
			return TransientFailure("timeout"), false
		}
	}
}

// classify keeps the automator's verdict. Only a transient result caused by the
// deadline becomes a timeout, and one caused by shutdown is an interruption.
func classify(ctx, attemptCtx context.Context, out Outcome) (Outcome, bool) {
	switch out.Kind {
	case OutcomeSuccess, OutcomeCaptcha, OutcomePermanent:
		return out, false
	}
	if ctx.Err() != nil {
		return out, true
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return TransientFailure("timeout"), false
	}
	return out, false
}

// claimInStore records the claim unless another process got there first.
func (o *Orchestrator) claimInStore(ctx context.Context, a Attempt) (bool, error) {
	if o.store == nil {
		return true, nil
	}
	return o.store.ClaimAttempt(ctx, a)
}

// heartbeat keeps the claim of a fresh until the returned function is called.
func (o *Orchestrator) heartbeat(ctx context.Context, a Attempt, log *zap.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(max(o.cfg.StaleClaim/3, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.beat(ctx, a.ID, a.ClaimedBy, log)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (o *Orchestrator) beat(ctx context.Context, id, claimedBy string, log *zap.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.attempts[id]
	if !ok || a.State != StateSubmitting || a.ClaimedBy != claimedBy {
		return
	}
	now := o.now()
	a.UpdatedAt = now

	if o.store == nil {
		return
	}
	held, err := o.store.Heartbeat(ctx, id, claimedBy, now)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			log.Warn("failed to refresh claim", zap.Error(err))
		}
	case !held:
		log.Warn("claim taken over by another process")
	}
}

func lookupFailure(ctx context.Context, kind string, err error) (Outcome, bool) {
	if errors.Is(err, errs.ErrNotFound) {
		return Permanentf("%s not found", kind), false
	}
	if ctx.Err() != nil {
		return Outcome{}, true
	}
	return Transientf("load %s: %v", kind, err), false
}

func (o *Orchestrator) call(ctx context.Context, a Attempt, p profile.CandidateProfile, job catalog.JobListing) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("automator panic", zap.String(logger.FieldAttempt, a.ID), zap.Any("panic", r))
			out = Transientf("automator panic: %v", r)
		}
	}()
	return o.automator.Attempt(ctx, p, job)
}

// finish records the outcome of a completed automation call.
func (o *Orchestrator) finish(ctx context.Context, id string, outcome Outcome, elapsed time.Duration, log *zap.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.attempts[id]
	if !ok {
		return
	}

	now := o.now()
	key := a.Key()
	a.AttemptCount++
	a.ClaimedBy = ""
	a.UpdatedAt = now
	o.inflight--

	var ticket *Ticket
	switch outcome.Kind {
	case OutcomeSuccess:
		a.State = StateSubmitted
		a.LastError = ""
	case OutcomeCaptcha:
		a.State = StateCaptchaBlocked
		a.LastError = outcome.Reason
		ticket = &Ticket{
			ID:         uuid.NewString(),
			AttemptID:  a.ID,
			UserID:     a.UserID,
			JobID:      a.JobID,
			Notes:      captchaNotes,
			DetectedAt: now,
		}
	case OutcomeTransient:
		a.LastError = outcome.Reason
		if a.AttemptCount < o.cfg.MaxAttempts {
			a.State = StateQueued
			a.NotBefore = now.Add(utils.Backoff(o.cfg.BaseBackoff, o.cfg.MaxBackoff, a.AttemptCount))
		} else {
			a.State = StateFailed
		}
	case OutcomePermanent:
		a.State = StateFailed
		a.LastError = outcome.Reason
	default:
		a.State = StateFailed
		a.LastError = fmt.Sprintf("unknown outcome %q", outcome.Kind)
	}

	if a.State.Active() {
		o.queue.Push(a.ID, key, a.NotBefore)
	} else if o.active[key] == a.ID {
		delete(o.active, key)
	}

	if err := o.persistAttempt(ctx, *a); err != nil {
		log.Error("failed to save attempt", zap.Error(err))
	}

	if ticket != nil {
		o.backlog.Add(*ticket)
		if err := o.persistTicket(ctx, *ticket); err != nil {
			log.Error("failed to save captcha ticket", zap.String(logger.FieldTicket, ticket.ID), zap.Error(err))
		}
		o.recorder.BacklogPending(o.backlog.PendingCount())
	}

	o.recorder.AttemptFinished(outcome.Kind, elapsed)
	o.recorder.Transition(a.State)
	o.recorder.QueueDepth(o.queue.Len())

	fields := []zap.Field{
		zap.String(logger.FieldOutcome, string(outcome.Kind)),
		zap.String(logger.FieldState, a.State.String()),
		zap.Int("attempt_count", a.AttemptCount),
		zap.Duration("elapsed", elapsed),
	}
	if outcome.Reason != "" {
		fields = append(fields, zap.String("reason", utils.TruncateForLog(outcome.Reason, reasonLogLimit)))
	}
	if a.State == StateQueued {
		fields = append(fields, zap.Time("not_before", a.NotBefore))
	}
	if ticket != nil {
		fields = append(fields, zap.String(logger.FieldTicket, ticket.ID))
	}

	switch a.State {
	case StateFailed:
		log.Warn("application failed", fields...)
	case StateCaptchaBlocked:
		log.Warn("application blocked by captcha", fields...)
	default:
		log.Info("application attempt finished", fields...)
	}
}

// release returns an interrupted attempt to the queue without counting it.
func (o *Orchestrator) release(ctx context.Context, id string, log *zap.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.attempts[id]
	if !ok {
		return
	}

	now := o.now()
	a.State = StateQueued
	a.ClaimedBy = ""
	a.NotBefore = now
	a.UpdatedAt = now
	o.inflight--
	o.queue.Push(a.ID, a.Key(), a.NotBefore)

	if err := o.persistAttempt(ctx, *a); err != nil {
		log.Error("failed to save released attempt", zap.Error(err))
	}
	o.recorder.Transition(StateQueued)
	log.Info("attempt interrupted, returned to queue")
}
