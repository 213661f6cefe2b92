package logger

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with deadline-engine specific functionality
type Logger struct {
	*zap.Logger
	serviceName string
}

// ContextKey for request context values
type ContextKey string

const (
	RequestIDKey  ContextKey = "request_id"
	DeadlineIDKey ContextKey = "deadline_id"
	TraceIDKey    ContextKey = "trace_id"
	SpanIDKey     ContextKey = "span_id"
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

	// Add service metadata
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

// NewNop returns a logger that discards everything, for tests
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), serviceName: "test"}
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
	if deadlineID, ok := ctx.Value(DeadlineIDKey).(string); ok && deadlineID != "" {
		fields = append(fields, zap.String("deadline_id", deadlineID))
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

// WithDeadline returns a logger with deadline context
func (l *Logger) WithDeadline(deadlineID string) *Logger {
	return &Logger{
		Logger:      l.With(zap.String("deadline_id", deadlineID)),
		serviceName: l.serviceName,
	}
}

// WithNotification returns a logger with notification context
func (l *Logger) WithNotification(notificationID, deadlineID string) *Logger {
	return &Logger{
		Logger: l.With(
			zap.String("notification_id", notificationID),
			zap.String("deadline_id", deadlineID),
		),
		serviceName: l.serviceName,
	}
}

// AssessmentCompleted logs the result of a risk scoring pass
func (l *Logger) AssessmentCompleted(deadlineID string, score float64, level string, overridden bool) {
	l.Info("risk assessment completed",
		zap.String("deadline_id", deadlineID),
		zap.Float64("risk_score", score),
		zap.String("risk_level", level),
		zap.Bool("overdue_override", overridden),
	)
}

// NotificationComposed logs creation of a notification
func (l *Logger) NotificationComposed(notificationID, deadlineID, notificationType, priority string, channelCount int) {
	l.Info("notification composed",
		zap.String("notification_id", notificationID),
		zap.String("deadline_id", deadlineID),
		zap.String("notification_type", notificationType),
		zap.String("priority", priority),
		zap.Int("channel_count", channelCount),
	)
}

// NotificationDispatched logs the outcome of a dispatch attempt
func (l *Logger) NotificationDispatched(notificationID string, delivered bool, succeeded, failed int, durationMs int64) {
	l.Info("notification dispatched",
		zap.String("notification_id", notificationID),
		zap.Bool("delivered", delivered),
		zap.Int("channels_succeeded", succeeded),
		zap.Int("channels_failed", failed),
		zap.Int64("duration_ms", durationMs),
	)
}

// RetryScheduled logs a retry being queued after a failed dispatch
func (l *Logger) RetryScheduled(notificationID string, retryCount int, nextAttempt time.Time) {
	l.Warn("dispatch failed, retry scheduled",
		zap.String("notification_id", notificationID),
		zap.Int("retry_count", retryCount),
		zap.Time("next_attempt", nextAttempt),
	)
}

// EscalationTriggered logs an escalation level bump
func (l *Logger) EscalationTriggered(notificationID, successorID string, level int, reason string) {
	l.Warn("notification escalated",
		zap.String("notification_id", notificationID),
		zap.String("successor_id", successorID),
		zap.Int("escalation_level", level),
		zap.String("reason", reason),
	)
}

// EscalationExhausted logs a permanently failed notification
func (l *Logger) EscalationExhausted(notificationID, deadlineID string) {
	l.Error("escalation exhausted, notification permanently failed",
		zap.String("notification_id", notificationID),
		zap.String("deadline_id", deadlineID),
	)
}

// TickCompleted logs a scheduler tick summary
func (l *Logger) TickCompleted(scored, composed, dispatched, escalated, cancelled int, durationMs int64) {
	l.Info("scheduler tick completed",
		zap.Int("deadlines_scored", scored),
		zap.Int("notifications_composed", composed),
		zap.Int("notifications_dispatched", dispatched),
		zap.Int("notifications_escalated", escalated),
		zap.Int("notifications_cancelled", cancelled),
		zap.Int64("duration_ms", durationMs),
	)
}

// TickSkipped logs an overlapping tick being dropped
func (l *Logger) TickSkipped() {
	l.Warn("previous tick still running, skipping")
}

// Helper field functions

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

// BoolField creates a bool field
func BoolField(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}
