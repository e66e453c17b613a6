// Package wallet maintains the scalar wallet balance used for fast reads.
// The double-entry ledger stays the source of truth: the scalar row is only
// ever written from a ledger-derived sum, and divergence between the two is
// reported, never silently corrected.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/tempandmajor/commonly-payments/pkg/ledger"
)

// ErrBalanceDivergence reports a scalar balance that no longer matches the
// sum of the user's ledger entries.
var ErrBalanceDivergence = errors.New("wallet balance diverges from ledger")

// Store persists the scalar balance rows.
type Store interface {
	GetWalletBalance(ctx context.Context, userID string) (int64, error)
	SetWalletBalance(ctx context.Context, userID string, balanceCents int64) error
}

// BalanceSource derives a wallet balance from the ledger. *ledger.Service
// satisfies it.
type BalanceSource interface {
	WalletBalanceCents(ctx context.Context, userID ledger.UserID) (int64, error)
}

// Service exposes the fast-read balance alongside the ledger.
type Service struct {
	store  Store
	source BalanceSource
}

// NewService wires a Service.
func NewService(store Store, source BalanceSource) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("wallet service: store dependency is nil")
	}
	if source == nil {
		return nil, fmt.Errorf("wallet service: balance source dependency is nil")
	}
	return &Service{store: store, source: source}, nil
}

// Balance returns the scalar balance row.
func (service *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return service.store.GetWalletBalance(ctx, userID)
}

// SyncFromLedger recomputes the scalar balance from the ledger and stores
// it. Writing the derived sum rather than applying a delta keeps the update
// idempotent under replayed drain entries.
func (service *Service) SyncFromLedger(ctx context.Context, userID string) (int64, error) {
	parsedUserID, err := ledger.NewUserID(userID)
	if err != nil {
		return 0, err
	}
	derived, err := service.source.WalletBalanceCents(ctx, parsedUserID)
	if err != nil {
		return 0, err
	}
	if err := service.store.SetWalletBalance(ctx, userID, derived); err != nil {
		return 0, err
	}
	return derived, nil
}

// Reconcile compares the scalar balance with the ledger-derived sum and
// reports any divergence.
func (service *Service) Reconcile(ctx context.Context, userID string) error {
	parsedUserID, err := ledger.NewUserID(userID)
	if err != nil {
		return err
	}
	scalar, err := service.store.GetWalletBalance(ctx, userID)
	if err != nil {
		return err
	}
	derived, err := service.source.WalletBalanceCents(ctx, parsedUserID)
	if err != nil {
		return err
	}
	if scalar != derived {
		return fmt.Errorf("%w: scalar=%d ledger=%d user=%s", ErrBalanceDivergence, scalar, derived, userID)
	}
	return nil
}
