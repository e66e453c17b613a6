package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/tempandmajor/commonly-payments/internal/idempotency"
)

// GetOrReserve inserts a reservation for the key; the unique primary key
// makes the first writer win. A key that was reserved but never completed
// grants a fresh reservation so the retried request re-executes.
func (store *Store) GetOrReserve(ctx context.Context, key string, atUnixUTC int64) (idempotency.Outcome, error) {
	if strings.TrimSpace(key) == "" {
		return idempotency.Outcome{}, idempotency.ErrInvalidKey
	}
	row := IdempotencyRecord{Key: key, CreatedAt: unixTime(atUnixUTC)}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil && !isUniqueViolation(result.Error) {
		return idempotency.Outcome{}, fmt.Errorf("reserve idempotency key: %w", result.Error)
	}
	if result.Error == nil && result.RowsAffected > 0 {
		return idempotency.Outcome{}, nil
	}
	var existing IdempotencyRecord
	if err := store.db.WithContext(ctx).Where("key = ?", key).Take(&existing).Error; err != nil {
		return idempotency.Outcome{}, fmt.Errorf("load idempotency record: %w", err)
	}
	if existing.CompletedAt == nil {
		return idempotency.Outcome{}, nil
	}
	return idempotency.Outcome{
		Replay:     true,
		StatusCode: existing.StatusCode,
		Response:   json.RawMessage(existing.Response),
	}, nil
}

// Complete records the response for a reserved key.
func (store *Store) Complete(ctx context.Context, key string, statusCode int, response json.RawMessage) error {
	completedAt := time.Now().UTC()
	err := store.db.WithContext(ctx).
		Model(&IdempotencyRecord{}).
		Where("key = ?", key).
		Updates(map[string]any{
			"status_code":  statusCode,
			"response":     datatypes.JSON(response),
			"completed_at": &completedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}
