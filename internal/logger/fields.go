package logger

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
	// FieldRunID identifies one automation run.
	FieldRunID = "run_id"
	// FieldUserID identifies the user the run applies for.
	FieldUserID = "user_id"
	// FieldSite names the job board adapter.
	FieldSite = "site"
	// FieldJobID is the job board identifier of the job being processed.
	FieldJobID = "job_id"
	// FieldJobTitle is the human readable job title.
	FieldJobTitle = "job_title"
	// FieldCompany is the hiring company.
	FieldCompany = "company"
	// FieldStep is the 1-based form step number inside one application.
	FieldStep = "form_step"
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
// If the logger is nil or no fields are supplied, the input logger is returned
// unchanged, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// AIFields returns fields that describe the AI provider and model.
func AIFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// RunFields describes the run a log entry belongs to. Empty values are dropped.
func RunFields(runID, userID, site string) []zap.Field {
	return StringFields(
		StringField{Key: FieldRunID, Value: runID},
		StringField{Key: FieldUserID, Value: userID},
		StringField{Key: FieldSite, Value: site},
	)
}

// JobFields describes a single job posting.
func JobFields(id, title, company string) []zap.Field {
	return StringFields(
		StringField{Key: FieldJobID, Value: id},
		StringField{Key: FieldJobTitle, Value: title},
		StringField{Key: FieldCompany, Value: company},
	)
}

// StepField numbers the form step being filled.
func StepField(step int) zap.Field {
	return zap.String(FieldStep, strconv.Itoa(step))
}
