package ledger

import (
	"context"
	"errors"
	"testing"
)

type stubStore struct {
	accounts          map[string]Account
	transactions      []TransactionInput
	byReference       map[string]Transaction
	findAccountError  error
	findTxError       error
	insertTxError     error
	sumEntriesError   error
	sumByAccount      map[string]int64
	entriesByAccount  map[string][]Entry
	nextAccountNumber int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts:         map[string]Account{},
		byReference:      map[string]Transaction{},
		sumByAccount:     map[string]int64{},
		entriesByAccount: map[string][]Entry{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) FindOrCreateAccount(_ context.Context, ownerUserID *string, accountType AccountType) (Account, error) {
	if store.findAccountError != nil {
		return Account{}, store.findAccountError
	}
	key := accountType.String()
	if ownerUserID != nil {
		key = *ownerUserID + "/" + key
	}
	if account, ok := store.accounts[key]; ok {
		return account, nil
	}
	store.nextAccountNumber++
	account := Account{AccountID: key, OwnerUserID: ownerUserID, Type: accountType}
	store.accounts[key] = account
	return account, nil
}

func (store *stubStore) FindTransactionByReference(_ context.Context, reference string) (*Transaction, error) {
	if store.findTxError != nil {
		return nil, store.findTxError
	}
	if transaction, ok := store.byReference[reference]; ok {
		copied := transaction
		return &copied, nil
	}
	return nil, nil
}

func (store *stubStore) InsertTransaction(_ context.Context, input TransactionInput) error {
	if store.insertTxError != nil {
		return store.insertTxError
	}
	store.transactions = append(store.transactions, input)
	store.byReference[input.Reference] = Transaction{
		TransactionID:  input.TransactionID,
		Reference:      input.Reference,
		CreatedUnixUTC: input.CreatedUnixUTC,
	}
	for _, leg := range input.Legs {
		store.sumByAccount[leg.AccountID] += leg.AmountCents.Int64()
		store.entriesByAccount[leg.AccountID] = append(store.entriesByAccount[leg.AccountID], Entry{
			TransactionID: input.TransactionID,
			AccountID:     leg.AccountID,
			AmountCents:   leg.AmountCents,
			Description:   leg.Description,
		})
	}
	return nil
}

func (store *stubStore) SumAccountEntries(_ context.Context, accountID string) (AmountCents, error) {
	if store.sumEntriesError != nil {
		return 0, store.sumEntriesError
	}
	return AmountCents(store.sumByAccount[accountID]), nil
}

func (store *stubStore) ListAccountEntries(_ context.Context, accountID string, _ int64, limit int) ([]Entry, error) {
	entries := store.entriesByAccount[accountID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func mustNewService(test *testing.T, store Store) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustReference(test *testing.T, raw string) Reference {
	test.Helper()
	reference, err := NewReference(raw)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	return reference
}

func mustLeg(test *testing.T, accountID string, amount int64, description string) Leg {
	test.Helper()
	leg, err := NewLeg(accountID, AmountCents(amount), description)
	if err != nil {
		test.Fatalf("leg: %v", err)
	}
	return leg
}

func TestPostWritesBalancedTransaction(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	legs := []Leg{
		mustLeg(test, "acct-platform", -1000, "wallet top-up"),
		mustLeg(test, "acct-wallet", 1000, "wallet top-up"),
	}

	transactionID, err := service.Post(context.Background(), mustReference(test, "order-1"), legs)
	if err != nil {
		test.Fatalf("post: %v", err)
	}
	if transactionID == "" {
		test.Fatalf("expected transaction id")
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected 1 transaction, got %d", len(store.transactions))
	}
	if got := len(store.transactions[0].Legs); got != 2 {
		test.Fatalf("expected 2 legs, got %d", got)
	}
}

func TestPostRejectsUnbalancedLegs(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	legs := []Leg{
		mustLeg(test, "acct-platform", -1000, "wallet top-up"),
		mustLeg(test, "acct-wallet", 999, "wallet top-up"),
	}

	_, err := service.Post(context.Background(), mustReference(test, "order-2"), legs)
	if !errors.Is(err, ErrUnbalancedTransaction) {
		test.Fatalf("expected ErrUnbalancedTransaction, got %v", err)
	}
	if len(store.transactions) != 0 {
		test.Fatalf("expected no transaction written, got %d", len(store.transactions))
	}
}

func TestPostRejectsSingleLeg(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	legs := []Leg{mustLeg(test, "acct-wallet", 100, "credit")}

	_, err := service.Post(context.Background(), mustReference(test, "order-3"), legs)
	if !errors.Is(err, ErrInvalidLegCount) {
		test.Fatalf("expected ErrInvalidLegCount, got %v", err)
	}
}

func TestCreditWalletPostsTwoBalancedLegs(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-7")

	transactionID, err := service.CreditWallet(context.Background(), userID, 1000, mustReference(test, "session-xyz"), "wallet top-up")
	if err != nil {
		test.Fatalf("credit wallet: %v", err)
	}
	if transactionID == "" {
		test.Fatalf("expected transaction id")
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected 1 transaction, got %d", len(store.transactions))
	}
	legs := store.transactions[0].Legs
	if len(legs) != 2 {
		test.Fatalf("expected 2 legs, got %d", len(legs))
	}
	if legs[0].AmountCents+legs[1].AmountCents != 0 {
		test.Fatalf("legs do not balance: %d and %d", legs[0].AmountCents, legs[1].AmountCents)
	}
	walletBalance, err := service.WalletBalanceCents(context.Background(), userID)
	if err != nil {
		test.Fatalf("wallet balance: %v", err)
	}
	if walletBalance != 1000 {
		test.Fatalf("expected wallet balance 1000, got %d", walletBalance)
	}
	platform, err := service.PlatformAccount(context.Background())
	if err != nil {
		test.Fatalf("platform account: %v", err)
	}
	platformBalance, err := service.AccountBalance(context.Background(), platform.AccountID)
	if err != nil {
		test.Fatalf("platform balance: %v", err)
	}
	if platformBalance != -1000 {
		test.Fatalf("expected platform balance -1000, got %d", platformBalance)
	}
}

func TestCreditWalletIsIdempotentByReference(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-8")
	reference := mustReference(test, "session-repeat")

	firstID, err := service.CreditWallet(context.Background(), userID, 500, reference, "wallet top-up")
	if err != nil {
		test.Fatalf("first credit: %v", err)
	}
	secondID, err := service.CreditWallet(context.Background(), userID, 500, reference, "wallet top-up")
	if err != nil {
		test.Fatalf("second credit: %v", err)
	}
	if firstID != secondID {
		test.Fatalf("expected replay to return original transaction id %s, got %s", firstID, secondID)
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected a single stored transaction, got %d", len(store.transactions))
	}
	walletBalance, err := service.WalletBalanceCents(context.Background(), userID)
	if err != nil {
		test.Fatalf("wallet balance: %v", err)
	}
	if walletBalance != 500 {
		test.Fatalf("expected wallet balance 500 after replay, got %d", walletBalance)
	}
}

func TestCreditWalletRejectsNonPositiveAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-9")

	_, err := service.CreditWallet(context.Background(), userID, 0, mustReference(test, "session-zero"), "wallet top-up")
	if !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf("expected ErrInvalidAmountCents, got %v", err)
	}
}

func TestPostReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	storeFailure := errors.New("store failure")
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{
			name:      "insert transaction error",
			configure: func(store *stubStore) { store.insertTxError = storeFailure },
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)
			legs := []Leg{
				mustLeg(test, "a", -10, ""),
				mustLeg(test, "b", 10, ""),
			}
			_, err := service.Post(context.Background(), mustReference(test, "ref"), legs)
			if !errors.Is(err, storeFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
		})
	}
}

func TestCreditWalletReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	storeFailure := errors.New("store failure")
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{
			name:      "reference lookup error",
			configure: func(store *stubStore) { store.findTxError = storeFailure },
		},
		{
			name:      "account lookup error",
			configure: func(store *stubStore) { store.findAccountError = storeFailure },
		},
		{
			name:      "insert transaction error",
			configure: func(store *stubStore) { store.insertTxError = storeFailure },
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)
			_, err := service.CreditWallet(context.Background(), mustUserID(test, "user-err"), 100, mustReference(test, "ref-err"), "")
			if !errors.Is(err, storeFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
		})
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}
