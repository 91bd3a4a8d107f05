package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Storage persists audit events. Implementations must be safe for
// concurrent use.
type Storage interface {
	Store(ctx context.Context, event Event) error
}

// Logger records security-relevant events. Writes are best effort: storage
// failures are logged and never propagate to callers, so an unavailable
// audit table cannot break authentication or delivery paths.
type Logger struct {
	storage Storage
	log     *slog.Logger
}

// NewLogger creates an audit logger. The storage dependency is injected
// explicitly; there is no lazy global lookup.
func NewLogger(storage Storage, log *slog.Logger) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Logger{storage: storage, log: log}
}

// Log records a successful action.
func (l *Logger) Log(ctx context.Context, action string, opts ...EventOption) {
	l.store(ctx, Event{Action: action, Result: ResultSuccess}, opts)
}

// LogFailure records a denied or rejected action.
func (l *Logger) LogFailure(ctx context.Context, action string, reason string, opts ...EventOption) {
	l.store(ctx, Event{Action: action, Result: ResultFailure, Error: reason}, opts)
}

// LogError records an action that failed with an unexpected error.
func (l *Logger) LogError(ctx context.Context, action string, err error, opts ...EventOption) {
	event := Event{Action: action, Result: ResultError}
	if err != nil {
		event.Error = err.Error()
	}
	l.store(ctx, event, opts)
}

func (l *Logger) store(ctx context.Context, event Event, opts []EventOption) {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now()

	for _, opt := range opts {
		opt(&event)
	}

	if err := event.Validate(); err != nil {
		l.log.WarnContext(ctx, "invalid audit event dropped",
			slog.String("action", event.Action), slog.Any("error", err))
		return
	}

	if err := l.storage.Store(ctx, event); err != nil {
		l.log.ErrorContext(ctx, "audit write failed",
			slog.String("action", event.Action), slog.Any("error", err))
	}
}
