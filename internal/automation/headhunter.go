package automation

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/ai"
	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/headhunter"
	"github.com/spigell/job-autopilot/internal/logger"
	"github.com/spigell/job-autopilot/internal/profile"
)

const (
	headhunterSource = "headhunter"

	errorAlreadyApplied = "already_applied"
)

// negotiator is the part of the hh.ru client used to apply.
type negotiator interface {
	Apply(ctx context.Context, resumeID, vacancyID, message string) error
}

// Headhunter applies to hh.ru vacancies through the negotiations API.
type Headhunter struct {
	client   negotiator
	resumeID string
	message  string
	writer   ai.Writer
	logger   *zap.Logger
}

var _ application.Automator = (*Headhunter)(nil)

// NewHeadhunter creates the automator. When writer is set, its letter replaces
// the static message; generation errors fall back to the static one.
func NewHeadhunter(client negotiator, resumeID, message string, writer ai.Writer, log *zap.Logger) *Headhunter {
	return &Headhunter{
		client:   client,
		resumeID: strings.TrimSpace(resumeID),
		message:  strings.TrimSpace(message),
		writer:   writer,
		logger:   logger.WithFields(log),
	}
}

func (h *Headhunter) Attempt(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) application.Outcome {
	if h.resumeID == "" {
		return application.PermanentFailure("hh.ru resume id is not configured")
	}
	if job.Source != headhunterSource {
		return application.Permanentf("job %q does not come from hh.ru", job.ID)
	}

	message := h.letter(ctx, p, job)
	return classifyAPIError(h.client.Apply(ctx, h.resumeID, job.ID, message))
}

func (h *Headhunter) letter(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) string {
	if h.writer == nil {
		return h.message
	}

	letter, err := h.writer.Write(ctx, p, job)
	if err != nil {
		logger.WithPair(h.logger, p.UserID, job.ID).Warn("cover letter generation failed, using configured message", zap.Error(err))
		return h.message
	}
	return letter.Message
}

func classifyAPIError(err error) application.Outcome {
	if err == nil {
		return application.Success()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return application.TransientFailure("timeout")
	}
	if errors.Is(err, context.Canceled) {
		return application.TransientFailure("cancelled")
	}

	var apiErr *headhunter.APIError
	if !errors.As(err, &apiErr) {
		return application.Transientf("hh.ru request: %v", err)
	}

	switch {
	case apiErr.Has(headhunter.ErrorCaptchaRequired):
		return application.CaptchaDetected()
	case apiErr.Has(errorAlreadyApplied):
		return application.Success()
	case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= http.StatusInternalServerError:
		return application.TransientFailure(apiErr.Error())
	default:
		return application.PermanentFailure(apiErr.Error())
	}
}
