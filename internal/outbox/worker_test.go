package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubQueue struct {
	due             []Entry
	processed       map[string]int
	rescheduled     map[string][]int64
	attemptsByEntry map[string]int
	deadLetters     []DeadLetter
	dueError        error
}

func newStubQueue() *stubQueue {
	return &stubQueue{
		processed:       map[string]int{},
		rescheduled:     map[string][]int64{},
		attemptsByEntry: map[string]int{},
	}
}

func (queue *stubQueue) DueEntries(_ context.Context, limit int, _ int64) ([]Entry, error) {
	if queue.dueError != nil {
		return nil, queue.dueError
	}
	if len(queue.due) > limit {
		return queue.due[:limit], nil
	}
	return queue.due, nil
}

func (queue *stubQueue) MarkProcessed(_ context.Context, entryID string, attempts int, _ int64) error {
	queue.processed[entryID] = attempts
	return nil
}

func (queue *stubQueue) Reschedule(_ context.Context, entryID string, attempts int, nextAttemptAtUnixUTC int64) error {
	queue.attemptsByEntry[entryID] = attempts
	queue.rescheduled[entryID] = append(queue.rescheduled[entryID], nextAttemptAtUnixUTC)
	return nil
}

func (queue *stubQueue) InsertDeadLetter(_ context.Context, deadLetter DeadLetter) error {
	queue.deadLetters = append(queue.deadLetters, deadLetter)
	return nil
}

func mustWorker(test *testing.T, queue Store, handlers map[EventType]Handler) *Worker {
	test.Helper()
	worker, err := NewWorker(queue, handlers, func() int64 { return 1700000000 }, zap.NewNop())
	if err != nil {
		test.Fatalf("worker init: %v", err)
	}
	return worker
}

func TestDrainProcessesDueEntries(test *testing.T) {
	test.Parallel()
	queue := newStubQueue()
	queue.due = []Entry{
		{EntryID: "entry-1", EventType: EventProviderEventProcessed, Payload: json.RawMessage(`{}`)},
		{EntryID: "entry-2", EventType: EventProviderEventProcessed, Payload: json.RawMessage(`{}`)},
	}
	var handled []string
	handlers := map[EventType]Handler{
		EventProviderEventProcessed: func(_ context.Context, entry Entry) error {
			handled = append(handled, entry.EntryID)
			return nil
		},
	}
	worker := mustWorker(test, queue, handlers)

	result, err := worker.Drain(context.Background(), 10)
	if err != nil {
		test.Fatalf("drain: %v", err)
	}
	if result.Fetched != 2 || result.Processed != 2 || result.Errors != 0 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if len(handled) != 2 {
		test.Fatalf("expected 2 handled entries, got %d", len(handled))
	}
	if queue.processed["entry-1"] != 1 || queue.processed["entry-2"] != 1 {
		test.Fatalf("expected attempts recorded on success, got %+v", queue.processed)
	}
}

func TestDrainHonorsBatchSize(test *testing.T) {
	test.Parallel()
	queue := newStubQueue()
	for _, id := range []string{"a", "b", "c"} {
		queue.due = append(queue.due, Entry{EntryID: id, EventType: EventProviderEventProcessed, Payload: json.RawMessage(`{}`)})
	}
	worker := mustWorker(test, queue, map[EventType]Handler{
		EventProviderEventProcessed: func(context.Context, Entry) error { return nil },
	})

	result, err := worker.Drain(context.Background(), 2)
	if err != nil {
		test.Fatalf("drain: %v", err)
	}
	if result.Fetched != 2 {
		test.Fatalf("expected fetched 2, got %d", result.Fetched)
	}
}

func TestDrainReschedulesFailuresWithGrowingBackoff(test *testing.T) {
	test.Parallel()
	queue := newStubQueue()
	handlerFailure := errors.New("handler failure")
	handlers := map[EventType]Handler{
		EventOrderPaid: func(context.Context, Entry) error { return handlerFailure },
	}
	worker := mustWorker(test, queue, handlers)

	var lastNextAttempt int64
	for attempt := 1; attempt < 5; attempt++ {
		queue.due = []Entry{{
			EntryID:   "entry-fail",
			EventType: EventOrderPaid,
			Payload:   json.RawMessage(`{}`),
			Attempts:  attempt - 1,
		}}
		result, err := worker.Drain(context.Background(), 10)
		if err != nil {
			test.Fatalf("drain attempt %d: %v", attempt, err)
		}
		if result.Errors != 1 || result.Processed != 0 {
			test.Fatalf("attempt %d: unexpected result %+v", attempt, result)
		}
		if got := queue.attemptsByEntry["entry-fail"]; got != attempt {
			test.Fatalf("attempt %d: expected attempts %d, got %d", attempt, attempt, got)
		}
		schedule := queue.rescheduled["entry-fail"]
		nextAttempt := schedule[len(schedule)-1]
		if nextAttempt <= lastNextAttempt {
			test.Fatalf("attempt %d: expected strictly growing backoff, got %d after %d", attempt, nextAttempt, lastNextAttempt)
		}
		lastNextAttempt = nextAttempt
	}
	if len(queue.deadLetters) != 0 {
		test.Fatalf("expected no dead letter before the ceiling, got %d", len(queue.deadLetters))
	}
}

func TestDrainDeadLettersAtAttemptCeiling(test *testing.T) {
	test.Parallel()
	queue := newStubQueue()
	queue.due = []Entry{{
		EntryID:   "entry-dead",
		EventType: EventOrderPaid,
		Payload:   json.RawMessage(`{"order_id":"o-1"}`),
		Attempts:  4,
	}}
	handlerFailure := errors.New("permanent failure")
	worker := mustWorker(test, queue, map[EventType]Handler{
		EventOrderPaid: func(context.Context, Entry) error { return handlerFailure },
	})

	result, err := worker.Drain(context.Background(), 10)
	if err != nil {
		test.Fatalf("drain: %v", err)
	}
	if result.Errors != 1 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if len(queue.deadLetters) != 1 {
		test.Fatalf("expected one dead letter, got %d", len(queue.deadLetters))
	}
	deadLetter := queue.deadLetters[0]
	if deadLetter.OriginalEntryID != "entry-dead" || deadLetter.Attempt != 5 {
		test.Fatalf("unexpected dead letter: %+v", deadLetter)
	}
	if deadLetter.Error == "" {
		test.Fatalf("expected dead letter to carry the failure message")
	}
	// The original entry is marked processed so no sixth attempt is scheduled.
	if queue.processed["entry-dead"] != 5 {
		test.Fatalf("expected original entry marked processed at attempt 5, got %+v", queue.processed)
	}
	if len(queue.rescheduled["entry-dead"]) != 0 {
		test.Fatalf("expected no reschedule after dead letter, got %+v", queue.rescheduled["entry-dead"])
	}
}

func TestDrainFailsEntriesWithoutHandlers(test *testing.T) {
	test.Parallel()
	queue := newStubQueue()
	queue.due = []Entry{{EntryID: "entry-odd", EventType: EventType("mystery"), Payload: json.RawMessage(`{}`)}}
	worker := mustWorker(test, queue, map[EventType]Handler{})

	result, err := worker.Drain(context.Background(), 10)
	if err != nil {
		test.Fatalf("drain: %v", err)
	}
	if result.Errors != 1 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if len(queue.rescheduled["entry-odd"]) != 1 {
		test.Fatalf("expected entry rescheduled, got %+v", queue.rescheduled)
	}
}

func TestDrainRecoversFromHandlerPanics(test *testing.T) {
	test.Parallel()
	queue := newStubQueue()
	queue.due = []Entry{{EntryID: "entry-panic", EventType: EventOrderPaid, Payload: json.RawMessage(`{}`)}}
	worker := mustWorker(test, queue, map[EventType]Handler{
		EventOrderPaid: func(context.Context, Entry) error { panic("boom") },
	})

	result, err := worker.Drain(context.Background(), 10)
	if err != nil {
		test.Fatalf("drain: %v", err)
	}
	if result.Errors != 1 {
		test.Fatalf("expected panic counted as failure, got %+v", result)
	}
}

func TestBackoffIsCappedAtOneHour(test *testing.T) {
	test.Parallel()
	if got := backoffSeconds(1); got != 20 {
		test.Fatalf("expected 20s after first failure, got %d", got)
	}
	if got := backoffSeconds(4); got != 160 {
		test.Fatalf("expected 160s after fourth failure, got %d", got)
	}
	if got := backoffSeconds(12); got != 3600 {
		test.Fatalf("expected one hour cap, got %d", got)
	}
	if got := backoffSeconds(63); got != 3600 {
		test.Fatalf("expected overflow capped at one hour, got %d", got)
	}
}
