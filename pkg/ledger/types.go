package ledger

import (
	"context"
	"fmt"
	"strings"
)

// AmountCents is a signed integer currency amount in cents.
type AmountCents int64

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// Reference correlates a transaction with the operation that caused it
// (an order id, a provider session id, and so on).
type Reference struct {
	value string
}

// AccountType enumerates the kinds of ledger accounts.
type AccountType string

const (
	AccountTypeWallet       AccountType = "wallet"
	AccountTypePlatformCash AccountType = "platform_cash"
)

// String returns the account type tag.
func (accountType AccountType) String() string {
	return string(accountType)
}

// ParseAccountType validates a raw account type tag.
func ParseAccountType(raw string) (AccountType, error) {
	switch AccountType(raw) {
	case AccountTypeWallet, AccountTypePlatformCash:
		return AccountType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountType, raw)
	}
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewReference validates and normalizes a transaction reference.
func NewReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("%w: empty value", ErrInvalidReference)
	}
	return Reference{value: trimmed}, nil
}

// String returns the normalized reference.
func (reference Reference) String() string {
	return reference.value
}

// NewLegAmountCents validates a leg amount: signed, never zero.
func NewLegAmountCents(raw int64) (AmountCents, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: leg amount must be non-zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// NewPositiveAmountCents validates a strictly positive amount.
func NewPositiveAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Leg is one side of a balanced transaction.
type Leg struct {
	AccountID   string
	AmountCents AmountCents
	Description string
}

// NewLeg validates a transaction leg.
func NewLeg(accountID string, amount AmountCents, description string) (Leg, error) {
	if strings.TrimSpace(accountID) == "" {
		return Leg{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if amount == 0 {
		return Leg{}, fmt.Errorf("%w: leg amount must be non-zero", ErrInvalidAmountCents)
	}
	return Leg{AccountID: accountID, AmountCents: amount, Description: description}, nil
}

// Account is a stored ledger account. OwnerUserID is nil for
// platform-owned accounts.
type Account struct {
	AccountID   string
	OwnerUserID *string
	Type        AccountType
}

// Transaction groups two or more entries that sum to zero.
type Transaction struct {
	TransactionID  string
	Reference      string
	CreatedUnixUTC int64
}

// TransactionInput carries a transaction and its legs for atomic insertion.
type TransactionInput struct {
	TransactionID  string
	Reference      string
	Legs           []Leg
	CreatedUnixUTC int64
}

// A single immutable line in the ledger.
type Entry struct {
	EntryID        string
	TransactionID  string
	AccountID      string
	AmountCents    AmountCents
	Description    string
	CreatedUnixUTC int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	FindOrCreateAccount(ctx context.Context, ownerUserID *string, accountType AccountType) (Account, error)
	FindTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	InsertTransaction(ctx context.Context, input TransactionInput) error
	SumAccountEntries(ctx context.Context, accountID string) (AmountCents, error)
	ListAccountEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error)
}
