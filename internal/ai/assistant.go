// Package ai defines the optional text generation used while applying.
package ai

import (
	"context"

	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/profile"
)

// Letter is a generated application message.
type Letter struct {
	Message string
	Reason  string
	Raw     string
}

// Writer drafts the message sent along with an application.
type Writer interface {
	Write(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) (*Letter, error)
}
