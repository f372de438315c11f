// Package application drives job applications through the submission state
// machine: a deduplicated queue feeds a fixed pool of workers which call an
// Automator and park CAPTCHA-blocked attempts in a backlog.
package application

import (
	"time"
)

// State is the lifecycle state of an application attempt.
type State string

const (
	StateQueued         State = "queued"
	StateSubmitting     State = "submitting"
	StateSubmitted      State = "submitted"
	StateCaptchaBlocked State = "captcha_blocked"
	StateFailed         State = "failed"
	StateAbandoned      State = "abandoned"
)

// Active reports whether the state occupies the per-pair active slot.
func (s State) Active() bool {
	return s == StateQueued || s == StateSubmitting
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateFailed || s == StateAbandoned
}

func (s State) String() string { return string(s) }

// Key identifies the (user, job) pair an attempt belongs to.
type Key struct {
	UserID string
	JobID  string
}

func (k Key) String() string { return k.UserID + "/" + k.JobID }

// Attempt is a single application of a user to a job.
type Attempt struct {
	ID           string    `json:"attempt_id"`
	UserID       string    `json:"user_id"`
	JobID        string    `json:"job_id"`
	State        State     `json:"state"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
	ClaimedBy    string    `json:"claimed_by,omitempty"`
	NotBefore    time.Time `json:"not_before,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the pair of the attempt.
func (a Attempt) Key() Key {
	return Key{UserID: a.UserID, JobID: a.JobID}
}
