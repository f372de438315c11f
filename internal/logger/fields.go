package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	FieldUser     = "user_id"
	FieldJob      = "job_id"
	FieldAttempt  = "attempt_id"
	FieldTicket   = "ticket_id"
	FieldWorker   = "worker_id"
	FieldState    = "state"
	FieldOutcome  = "outcome"
	FieldProvider = "ai_provider"
	FieldModel    = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger is replaced with a no-op one.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// PairFields returns the fields identifying a (user, job) pair.
func PairFields(userID, jobID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldUser, Value: userID},
		StringField{Key: FieldJob, Value: jobID},
	)
}

// WithPair attaches the user and job identifiers to the logger.
func WithPair(logger *zap.Logger, userID, jobID string) *zap.Logger {
	return WithFields(logger, PairFields(userID, jobID)...)
}

// CommonAIFields returns standard zap fields that describe the AI provider and model.
func CommonAIFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}
