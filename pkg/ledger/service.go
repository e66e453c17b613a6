package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the double-entry bookkeeping logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Post writes one balanced transaction. The legs must number at least two
// and sum to exactly zero; storage never enforces the invariant, so the
// service rejects an unbalanced set before any row is written.
func (service *Service) Post(ctx context.Context, reference Reference, legs []Leg) (string, error) {
	transactionID, operationError := service.post(ctx, reference, legs)
	service.logOperation(ctx, OperationLog{
		Operation:     operationPost,
		Reference:     reference,
		Amount:        sumLegs(legs),
		TransactionID: transactionID,
		Error:         operationError,
	})
	return transactionID, operationError
}

func (service *Service) post(ctx context.Context, reference Reference, legs []Leg) (string, error) {
	if err := validateLegs(legs); err != nil {
		return "", err
	}
	transactionID := uuid.NewString()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.InsertTransaction(ctx, TransactionInput{
			TransactionID:  transactionID,
			Reference:      reference.String(),
			Legs:           legs,
			CreatedUnixUTC: service.nowFn(),
		})
	})
	if operationError != nil {
		return "", operationError
	}
	return transactionID, nil
}

// CreditWallet moves amount from the platform cash account to the user's
// wallet account, creating either account lazily. The posting is idempotent
// by reference: a transaction already stored under the same reference
// short-circuits to its id, so a replayed drain run never double-credits.
func (service *Service) CreditWallet(ctx context.Context, userID UserID, amount AmountCents, reference Reference, description string) (string, error) {
	transactionID, operationError := service.creditWallet(ctx, userID, amount, reference, description)
	service.logOperation(ctx, OperationLog{
		Operation:     operationCreditWallet,
		Reference:     reference,
		UserID:        userID,
		Amount:        amount,
		TransactionID: transactionID,
		Error:         operationError,
	})
	return transactionID, operationError
}

func (service *Service) creditWallet(ctx context.Context, userID UserID, amount AmountCents, reference Reference, description string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: wallet credit must be positive", ErrInvalidAmountCents)
	}
	transactionID := uuid.NewString()
	var existingID string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		existing, err := transactionStore.FindTransactionByReference(ctx, reference.String())
		if err != nil {
			return err
		}
		if existing != nil {
			existingID = existing.TransactionID
			return nil
		}
		ownerID := userID.String()
		wallet, err := transactionStore.FindOrCreateAccount(ctx, &ownerID, AccountTypeWallet)
		if err != nil {
			return err
		}
		platform, err := transactionStore.FindOrCreateAccount(ctx, nil, AccountTypePlatformCash)
		if err != nil {
			return err
		}
		debit, err := NewLeg(platform.AccountID, -amount, description)
		if err != nil {
			return err
		}
		credit, err := NewLeg(wallet.AccountID, amount, description)
		if err != nil {
			return err
		}
		return transactionStore.InsertTransaction(ctx, TransactionInput{
			TransactionID:  transactionID,
			Reference:      reference.String(),
			Legs:           []Leg{debit, credit},
			CreatedUnixUTC: service.nowFn(),
		})
	})
	if operationError != nil {
		return "", operationError
	}
	if existingID != "" {
		return existingID, nil
	}
	return transactionID, nil
}

// WalletAccount finds or lazily creates the user's wallet account.
func (service *Service) WalletAccount(ctx context.Context, userID UserID) (Account, error) {
	ownerID := userID.String()
	return service.store.FindOrCreateAccount(ctx, &ownerID, AccountTypeWallet)
}

// PlatformAccount finds or lazily creates the system-wide platform cash account.
func (service *Service) PlatformAccount(ctx context.Context) (Account, error) {
	return service.store.FindOrCreateAccount(ctx, nil, AccountTypePlatformCash)
}

// AccountBalance sums the immutable entries for an account. The ledger is
// the audit source of truth for every balance shown elsewhere.
func (service *Service) AccountBalance(ctx context.Context, accountID string) (AmountCents, error) {
	return service.store.SumAccountEntries(ctx, accountID)
}

// WalletBalanceCents derives the user's wallet balance from the ledger.
func (service *Service) WalletBalanceCents(ctx context.Context, userID UserID) (int64, error) {
	account, err := service.WalletAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	balance, err := service.store.SumAccountEntries(ctx, account.AccountID)
	if err != nil {
		return 0, err
	}
	return balance.Int64(), nil
}

// WalletEntries lists wallet entries for a user before a cutoff time.
func (service *Service) WalletEntries(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	account, err := service.WalletAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return service.store.ListAccountEntries(ctx, account.AccountID, beforeUnixUTC, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateLegs(legs []Leg) error {
	if len(legs) < 2 {
		return WrapError(operationPost, "legs", "count", ErrInvalidLegCount)
	}
	var sum int64
	for _, leg := range legs {
		if leg.AccountID == "" {
			return WrapError(operationPost, "legs", "account", ErrInvalidAccountID)
		}
		if leg.AmountCents == 0 {
			return WrapError(operationPost, "legs", "amount", ErrInvalidAmountCents)
		}
		sum += leg.AmountCents.Int64()
	}
	if sum != 0 {
		return WrapError(operationPost, "legs", "balance", ErrUnbalancedTransaction)
	}
	return nil
}

func sumLegs(legs []Leg) AmountCents {
	var positive int64
	for _, leg := range legs {
		if leg.AmountCents > 0 {
			positive += leg.AmountCents.Int64()
		}
	}
	return AmountCents(positive)
}
