// Package profile holds candidate résumés and questionnaire preferences.
package profile

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spigell/job-autopilot/internal/errs"
)

// CandidateProfile is the résumé and preference record of one user.
type CandidateProfile struct {
	UserID        string         `json:"user_id"`
	ResumeText    string         `json:"resume_text"`
	Skills        []string       `json:"skills,omitempty"`
	Questionnaire *Questionnaire `json:"questionnaire,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasQuestionnaire reports whether preference answers were ingested.
func (p CandidateProfile) HasQuestionnaire() bool {
	return p.Questionnaire != nil
}

// Clone returns a deep copy, so stores never share slices or maps with callers.
func (p CandidateProfile) Clone() CandidateProfile {
	out := p
	out.Skills = slices.Clone(p.Skills)
	if p.Questionnaire != nil {
		q := p.Questionnaire.Clone()
		out.Questionnaire = &q
	}
	return out
}

// WithResume returns a copy of p whose résumé text and derived skills are replaced wholesale.
func (p CandidateProfile) WithResume(userID, text string, now time.Time) (CandidateProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CandidateProfile{}, errs.InvalidArgument("user_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return CandidateProfile{}, errs.InvalidArgument("resume text is empty")
	}

	out := p.Clone()
	out.UserID = userID
	out.ResumeText = text
	out.Skills = ExtractSkills(text)
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out, nil
}

// WithQuestionnaire returns a copy of p whose questionnaire is replaced wholesale.
func (p CandidateProfile) WithQuestionnaire(userID string, q *Questionnaire, now time.Time) (CandidateProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CandidateProfile{}, errs.InvalidArgument("user_id is required")
	}
	if q == nil {
		return CandidateProfile{}, errs.InvalidArgument("questionnaire is empty")
	}

	out := p.Clone()
	out.UserID = userID
	clone := q.Clone()
	out.Questionnaire = &clone
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out, nil
}

// Clone returns a deep copy of the questionnaire.
func (q Questionnaire) Clone() Questionnaire {
	out := q
	out.PreferredLocations = slices.Clone(q.PreferredLocations)
	out.CultureKeywords = slices.Clone(q.CultureKeywords)
	out.Answers = maps.Clone(q.Answers)
	return out
}
