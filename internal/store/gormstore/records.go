package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order lifecycle states used by the drain handlers.
const (
	orderStatusPending  = "pending"
	orderStatusPaid     = "paid"
	orderStatusRefunded = "refunded"
)

// MarkOrderPaid moves an order from pending to paid through a conditional
// update. A replayed entry finds zero matching rows and reports false,
// which is not an error. An order first seen through provider metadata is
// created directly in the paid state.
func (store *Store) MarkOrderPaid(ctx context.Context, orderID string, atUnixUTC int64) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, orderStatusPending).
		Updates(map[string]any{
			"status":     orderStatusPaid,
			"updated_at": unixTime(atUnixUTC),
		})
	if result.Error != nil {
		return false, fmt.Errorf("mark order paid: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	var existing Order
	err := store.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup order: %w", err)
	}
	row := Order{
		OrderID:   orderID,
		Status:    orderStatusPaid,
		CreatedAt: unixTime(atUnixUTC),
		UpdatedAt: unixTime(atUnixUTC),
	}
	createResult := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if createResult.Error != nil && !isUniqueViolation(createResult.Error) {
		return false, fmt.Errorf("create paid order: %w", createResult.Error)
	}
	return createResult.Error == nil && createResult.RowsAffected > 0, nil
}

// MarkOrderRefunded moves an order from paid to refunded. Zero affected
// rows means the order was never paid here or the entry is a replay.
func (store *Store) MarkOrderRefunded(ctx context.Context, orderID string, atUnixUTC int64) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, orderStatusPaid).
		Updates(map[string]any{
			"status":     orderStatusRefunded,
			"updated_at": unixTime(atUnixUTC),
		})
	if result.Error != nil {
		return false, fmt.Errorf("mark order refunded: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// InsertNotification appends one notification row.
func (store *Store) InsertNotification(ctx context.Context, userID string, kind string, body string, atUnixUTC int64) error {
	row := Notification{
		UserID:    userID,
		Kind:      kind,
		Body:      body,
		CreatedAt: unixTime(atUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetWalletBalance returns the denormalized scalar, zero when the user has
// no row yet.
func (store *Store) GetWalletBalance(ctx context.Context, userID string) (int64, error) {
	var row WalletBalance
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get wallet balance: %w", err)
	}
	return row.BalanceCents, nil
}

// SetWalletBalance upserts the scalar to a ledger-derived value. The write
// is absolute, so replays converge instead of compounding.
func (store *Store) SetWalletBalance(ctx context.Context, userID string, balanceCents int64) error {
	row := WalletBalance{UserID: userID, BalanceCents: balanceCents}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance_cents", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set wallet balance: %w", err)
	}
	return nil
}
