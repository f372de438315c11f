package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/ai"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/logger"
	"github.com/spigell/job-autopilot/internal/profile"
	"github.com/spigell/job-autopilot/internal/utils"
)

//go:embed cover_letter.md
var systemPrompt string

const (
	defaultMaxLogLength = 200
	resumeExcerptLimit  = 4000
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// CoverLetterWriter drafts application messages with Gemini.
type CoverLetterWriter struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.Writer = (*CoverLetterWriter)(nil)

func NewCoverLetterWriter(generator contentGenerator, log *zap.Logger, maxLogLength int) *CoverLetterWriter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &CoverLetterWriter{
		generator: generator,
		logger:    logger.WithFields(log, logger.CommonAIFields(providerName, generator.Model())...),
		maxLogLen: maxLogLength,
	}
}

type candidatePayload struct {
	Skills          []string `json:"skills,omitempty"`
	CultureKeywords []string `json:"culture_keywords,omitempty"`
	RemoteOK        bool     `json:"remote_ok"`
	Resume          string   `json:"resume"`
}

type jobPayload struct {
	Title       string   `json:"title"`
	Company     string   `json:"company,omitempty"`
	Location    string   `json:"location,omitempty"`
	Remote      bool     `json:"remote"`
	Keywords    []string `json:"keywords,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Write asks the model for a message tailored to the job.
func (w *CoverLetterWriter) Write(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) (*ai.Letter, error) {
	if strings.TrimSpace(p.ResumeText) == "" {
		return nil, errors.New("resume text is required")
	}
	if strings.TrimSpace(job.ID) == "" {
		return nil, errors.New("job is required")
	}

	message, err := buildMessage(p, job)
	if err != nil {
		return nil, err
	}

	log := logger.WithPair(w.logger, p.UserID, job.ID)
	log.Debug("gemini cover letter request",
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
		zap.String("prompt_preview", utils.TruncateForLog(message, w.maxLogLen)),
	)

	raw, err := w.generator.GenerateContent(ctx, systemPrompt, message)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini cover letter response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, w.maxLogLen)),
	)

	letter, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	letter.Raw = raw
	return letter, nil
}

func buildMessage(p profile.CandidateProfile, job catalog.JobListing) (string, error) {
	candidate := candidatePayload{
		Skills: p.Skills,
		Resume: truncateRunes(strings.TrimSpace(p.ResumeText), resumeExcerptLimit),
	}
	if p.Questionnaire != nil {
		candidate.CultureKeywords = p.Questionnaire.CultureKeywords
		candidate.RemoteOK = p.Questionnaire.RemoteOK
	}

	payload := map[string]any{
		"candidate": candidate,
		"job": jobPayload{
			Title:       job.Title,
			Company:     job.Company,
			Location:    job.Location,
			Remote:      job.Remote,
			Keywords:    job.Keywords,
			Description: job.Description,
		},
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal cover letter payload: %w", err)
	}
	return string(data), nil
}

func parseResponse(raw string) (*ai.Letter, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	message := coerceString(data["message"])
	if message == "" {
		return nil, errors.New("gemini response has no message")
	}

	return &ai.Letter{
		Message: message,
		Reason:  coerceString(data["reason"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
