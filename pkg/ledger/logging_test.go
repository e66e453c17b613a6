package ledger

import (
	"context"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsCreditWalletOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service, err := NewService(store, func() int64 { return 42 }, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	userID := mustUserID(test, "user-log")
	reference := mustReference(test, "session-log")

	transactionID, err := service.CreditWallet(context.Background(), userID, 300, reference, "wallet top-up")
	if err != nil {
		test.Fatalf("credit wallet: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationCreditWallet || entry.UserID != userID || entry.Amount != 300 {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.TransactionID != transactionID {
		test.Fatalf("expected transaction id %s, got %s", transactionID, entry.TransactionID)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service, err := NewService(store, func() int64 { return 1 }, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	legs := []Leg{
		mustLeg(test, "a", -10, ""),
		mustLeg(test, "b", 20, ""),
	}
	if _, err := service.Post(context.Background(), mustReference(test, "bad"), legs); err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}
