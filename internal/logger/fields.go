package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	FieldRunID       = "run_id"
	FieldTrigger     = "trigger"
	FieldSourceID    = "source_id"
	FieldIndexRef    = "index_ref"
	FieldStrategy    = "strategy"
	FieldFingerprint = "fingerprint"
	// FieldProvider is the structured log field key for the matching provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the embedding model identifier.
	FieldModel = "ai_model"
)

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

// WithFields attaches fields to logger, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

func ProviderFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

func RunFields(runID, trigger string) []zap.Field {
	return StringFields(
		StringField{Key: FieldRunID, Value: runID},
		StringField{Key: FieldTrigger, Value: trigger},
	)
}

// WithRun scopes a logger to one sync run.
func WithRun(logger *zap.Logger, runID, trigger string) *zap.Logger {
	return WithFields(logger, RunFields(runID, trigger)...)
}

func WithProvider(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, ProviderFields(provider, model)...)
}
