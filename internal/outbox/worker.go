package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	maxAttempts      = 5
	baseDelaySeconds = 10
	maxDelaySeconds  = 3600
)

// Store is the persistence contract used by Worker.
type Store interface {
	DueEntries(ctx context.Context, limit int, nowUnixUTC int64) ([]Entry, error)
	MarkProcessed(ctx context.Context, entryID string, attempts int, processedAtUnixUTC int64) error
	Reschedule(ctx context.Context, entryID string, attempts int, nextAttemptAtUnixUTC int64) error
	InsertDeadLetter(ctx context.Context, deadLetter DeadLetter) error
}

// Handler applies the side effect for one entry. Handlers must be safe to
// re-run: overlapping drain invocations can hand the same entry to two
// workers, and the queue only promises at-least-once execution.
type Handler func(ctx context.Context, entry Entry) error

// Result summarizes a single drain pass.
type Result struct {
	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Worker drains due entries on behalf of an external scheduler. It holds no
// loop of its own; every invocation is a single bounded batch.
type Worker struct {
	store    Store
	handlers map[EventType]Handler
	nowFn    func() int64
	logger   *zap.Logger
}

// NewWorker wires a Worker.
func NewWorker(store Store, handlers map[EventType]Handler, now func() int64, logger *zap.Logger) (*Worker, error) {
	if store == nil {
		return nil, fmt.Errorf("outbox worker: store dependency is nil")
	}
	if now == nil {
		return nil, fmt.Errorf("outbox worker: clock dependency is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if handlers == nil {
		handlers = map[EventType]Handler{}
	}
	return &Worker{store: store, handlers: handlers, nowFn: now, logger: logger}, nil
}

// Drain selects up to batchSize due entries oldest-first and applies their
// side effects. A failing entry is rescheduled with exponential backoff
// until the attempt ceiling, then snapshotted to the dead letter store and
// marked processed so it is never retried again.
func (worker *Worker) Drain(ctx context.Context, batchSize int) (Result, error) {
	now := worker.nowFn()
	entries, err := worker.store.DueEntries(ctx, batchSize, now)
	if err != nil {
		return Result{}, err
	}
	result := Result{Fetched: len(entries)}
	for _, entry := range entries {
		attempts := entry.Attempts + 1
		handlerError := worker.process(ctx, entry)
		if handlerError == nil {
			if err := worker.store.MarkProcessed(ctx, entry.EntryID, attempts, worker.nowFn()); err != nil {
				return result, err
			}
			result.Processed++
			continue
		}
		result.Errors++
		worker.logger.Warn("outbox entry failed",
			zap.String("entry_id", entry.EntryID),
			zap.String("event_type", entry.EventType.String()),
			zap.Int("attempt", attempts),
			zap.Error(handlerError),
		)
		if attempts >= maxAttempts {
			deadLetter := DeadLetter{
				OriginalEntryID: entry.EntryID,
				EventType:       entry.EventType,
				Payload:         entry.Payload,
				Attempt:         attempts,
				Error:           handlerError.Error(),
			}
			if err := worker.store.InsertDeadLetter(ctx, deadLetter); err != nil {
				return result, err
			}
			// Marking processed here stops the retry loop; the snapshot is
			// the record operators triage from.
			if err := worker.store.MarkProcessed(ctx, entry.EntryID, attempts, worker.nowFn()); err != nil {
				return result, err
			}
			continue
		}
		nextAttemptAt := worker.nowFn() + backoffSeconds(attempts)
		if err := worker.store.Reschedule(ctx, entry.EntryID, attempts, nextAttemptAt); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (worker *Worker) process(ctx context.Context, entry Entry) (handlerError error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			handlerError = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	handler, ok := worker.handlers[entry.EventType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, entry.EventType)
	}
	return handler(ctx, entry)
}

func backoffSeconds(attempts int) int64 {
	delay := (int64(1) << attempts) * baseDelaySeconds
	if delay > maxDelaySeconds || delay <= 0 {
		return maxDelaySeconds
	}
	return delay
}
