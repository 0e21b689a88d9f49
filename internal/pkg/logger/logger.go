package logger

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with risk-scoring specific events
type Logger struct {
	*zap.Logger
	serviceName string
}

// ContextKey for request context values
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	ReviewerKey  ContextKey = "reviewer_id"
	TraceIDKey   ContextKey = "trace_id"
	SpanIDKey    ContextKey = "span_id"
)

// New creates a new logger instance
func New(serviceName, environment string, debug bool) (*Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     environment,
		"pid":     os.Getpid(),
	}

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger:      zapLogger,
		serviceName: serviceName,
	}, nil
}

// Wrap adapts an existing zap logger, e.g. zaptest.NewLogger in tests
func Wrap(l *zap.Logger, serviceName string) *Logger {
	return &Logger{Logger: l, serviceName: serviceName}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return Wrap(zap.NewNop(), "nop")
}

// Named returns a named sub-logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger:      l.Logger.Named(name),
		serviceName: l.serviceName,
	}
}

// WithContext returns a logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := []zap.Field{}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if reviewer, ok := ctx.Value(ReviewerKey).(string); ok && reviewer != "" {
		fields = append(fields, zap.String("reviewer_id", reviewer))
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if spanID, ok := ctx.Value(SpanIDKey).(string); ok && spanID != "" {
		fields = append(fields, zap.String("span_id", spanID))
	}

	return &Logger{
		Logger:      l.With(fields...),
		serviceName: l.serviceName,
	}
}

// WithEntity returns a logger scoped to one scored entity
func (l *Logger) WithEntity(entityType, entityID string) *Logger {
	return &Logger{
		Logger: l.With(
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
		),
		serviceName: l.serviceName,
	}
}

// ScoreComputed logs a newly stored risk score
func (l *Logger) ScoreComputed(entityType, entityID, source string, score float64, rating string, feePct float64) {
	l.Info("risk score computed",
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.String("source", source),
		zap.Float64("risk_score", score),
		zap.String("risk_rating", rating),
		zap.Float64("fee_percentage", feePct),
	)
}

// ScoreOverridden logs a manual override by an admin
func (l *Logger) ScoreOverridden(entityType, entityID, reviewer string, previous, current float64, reason string) {
	l.Warn("risk score overridden",
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.String("reviewer_id", reviewer),
		zap.Float64("previous_score", previous),
		zap.Float64("risk_score", current),
		zap.String("reason", reason),
	)
}

// CascadeCompleted logs the employee re-blend after an employer change
func (l *Logger) CascadeCompleted(employerID string, updated, failed int, duration time.Duration) {
	l.Info("employee cascade completed",
		zap.String("employer_id", employerID),
		zap.Int("updated", updated),
		zap.Int("failed", failed),
		zap.Duration("duration", duration),
	)
}

// AdvanceQuoted logs an advance fee quote
func (l *Logger) AdvanceQuoted(employeeID, amount string, feePct float64, scored bool) {
	l.Info("advance quoted",
		zap.String("employee_id", employeeID),
		zap.String("amount", amount),
		zap.Float64("fee_percentage", feePct),
		zap.Bool("scored", scored),
	)
}

// CacheFailure logs a cache error that was tolerated
func (l *Logger) CacheFailure(op, key string, err error) {
	l.Warn("score cache failure",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

// PublishFailure logs an event that could not be published
func (l *Logger) PublishFailure(topic, entityID string, err error) {
	l.Error("risk event publish failed",
		zap.String("topic", topic),
		zap.String("entity_id", entityID),
		zap.Error(err),
	)
}

// Helper field functions

// Field is a structured log field
type Field = zap.Field

// ErrorField creates an error field
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// DurationField creates a duration field
func DurationField(name string, d time.Duration) zap.Field {
	return zap.Duration(name, d)
}

// StringField creates a string field
func StringField(key, value string) zap.Field {
	return zap.String(key, value)
}

// IntField creates an int field
func IntField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Float64Field creates a float64 field
func Float64Field(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}
