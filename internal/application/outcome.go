package application

import (
	"context"
	"fmt"

	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/profile"
)

// OutcomeKind classifies the result of a single automation call.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeCaptcha   OutcomeKind = "captcha"
	OutcomeTransient OutcomeKind = "transient"
	OutcomePermanent OutcomeKind = "permanent"
)

// Outcome is what an Automator reports back for one submission.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

func CaptchaDetected() Outcome { return Outcome{Kind: OutcomeCaptcha, Reason: "captcha detected"} }

func TransientFailure(reason string) Outcome {
	return Outcome{Kind: OutcomeTransient, Reason: reason}
}

func PermanentFailure(reason string) Outcome {
	return Outcome{Kind: OutcomePermanent, Reason: reason}
}

// Transientf formats a transient failure reason.
func Transientf(format string, args ...any) Outcome {
	return TransientFailure(fmt.Sprintf(format, args...))
}

// Permanentf formats a permanent failure reason.
func Permanentf(format string, args ...any) Outcome {
	return PermanentFailure(fmt.Sprintf(format, args...))
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}

// Automator performs one application submission. Implementations must honour
// ctx cancellation; the orchestrator enforces the attempt timeout regardless.
type Automator interface {
	Attempt(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) Outcome
}

// AutomatorFunc adapts a function to the Automator interface.
type AutomatorFunc func(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) Outcome

func (f AutomatorFunc) Attempt(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) Outcome {
	return f(ctx, p, job)
}
