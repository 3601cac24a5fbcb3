package claims

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ParseFailure is one failed parse attempt, kept for operator review.
type ParseFailure struct {
	Time      time.Time
	CallID    uuid.UUID
	RawOutput string
	Error     string
}

// FailureSink persists parse failures. The store provides the production
// implementation; tests use an in-memory one.
type FailureSink interface {
	RecordParseFailure(ctx context.Context, f ParseFailure) error
}

// FailureLog records parse failures in memory for the failure-rate alarm and
// forwards each one to an optional persistent sink. Nothing fails silently:
// every failure is at least logged.
type FailureLog struct {
	mu       sync.Mutex
	failures []ParseFailure

	sink   FailureSink
	logger *slog.Logger
}

func NewFailureLog(sink FailureSink, logger *slog.Logger) *FailureLog {
	return &FailureLog{sink: sink, logger: logger}
}

// Record logs a parse failure against a call.
func (l *FailureLog) Record(ctx context.Context, callID uuid.UUID, rawOutput string, parseErr error) {
	f := ParseFailure{
		Time:      time.Now().UTC(),
		CallID:    callID,
		RawOutput: rawOutput,
		Error:     parseErr.Error(),
	}

	l.mu.Lock()
	l.failures = append(l.failures, f)
	l.mu.Unlock()

	l.logger.Error("claim parse failure",
		"call_id", callID,
		"error", f.Error,
	)

	if l.sink != nil {
		if err := l.sink.RecordParseFailure(ctx, f); err != nil {
			l.logger.Error("failed to persist parse failure", "call_id", callID, "error", err)
		}
	}
}

// FailureCount returns the number of failures within the trailing window.
func (l *FailureLog) FailureCount(window time.Duration) int {
	cutoff := time.Now().UTC().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, f := range l.failures {
		if f.Time.After(cutoff) {
			count++
		}
	}
	return count
}

// Failures returns a copy of all recorded failures.
func (l *FailureLog) Failures() []ParseFailure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ParseFailure, len(l.failures))
	copy(out, l.failures)
	return out
}
