package gormstore

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/tempandmajor/commonly-payments/internal/outbox"
	"github.com/tempandmajor/commonly-payments/internal/webhook"
)

// InsertProviderEventIfAbsent stores a provider event once per event id.
// It reports false for a redelivery without touching the stored row.
func (store *Store) InsertProviderEventIfAbsent(ctx context.Context, event webhook.ProviderEvent, atUnixUTC int64) (bool, error) {
	row := ProviderEvent{
		EventID:    event.EventID,
		Type:       event.Type,
		Payload:    datatypes.JSON(event.Payload),
		ReceivedAt: unixTime(atUnixUTC),
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, nil
		}
		return false, fmt.Errorf("insert provider event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkProviderEventProcessed stamps processed_at on a stored event.
func (store *Store) MarkProviderEventProcessed(ctx context.Context, eventID string, atUnixUTC int64) error {
	processedAt := unixTime(atUnixUTC)
	err := store.db.WithContext(ctx).
		Model(&ProviderEvent{}).
		Where("event_id = ?", eventID).
		Update("processed_at", &processedAt).Error
	if err != nil {
		return fmt.Errorf("mark provider event processed: %w", err)
	}
	return nil
}

// AppendOutboxEvent enqueues a durable side-effect intent, due immediately.
func (store *Store) AppendOutboxEvent(ctx context.Context, eventType outbox.EventType, payload json.RawMessage, atUnixUTC int64) error {
	row := OutboxEvent{
		EventType:     eventType.String(),
		Payload:       datatypes.JSON(payload),
		NextAttemptAt: unixTime(atUnixUTC),
		CreatedAt:     unixTime(atUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

// DueEntries selects up to limit unprocessed entries whose next attempt is
// due, oldest first.
func (store *Store) DueEntries(ctx context.Context, limit int, nowUnixUTC int64) ([]outbox.Entry, error) {
	var rows []OutboxEvent
	err := store.db.WithContext(ctx).
		Where("processed_at IS NULL AND next_attempt_at <= ?", unixTime(nowUnixUTC)).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list due outbox entries: %w", err)
	}
	entries := make([]outbox.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, outbox.Entry{
			EntryID:              row.EntryID,
			EventType:            outbox.EventType(row.EventType),
			Payload:              json.RawMessage(row.Payload),
			Attempts:             row.Attempts,
			NextAttemptAtUnixUTC: row.NextAttemptAt.Unix(),
			CreatedUnixUTC:       row.CreatedAt.Unix(),
		})
	}
	return entries, nil
}

// MarkProcessed finalizes an entry. Processed entries are terminal whether
// they succeeded or were dead-lettered.
func (store *Store) MarkProcessed(ctx context.Context, entryID string, attempts int, processedAtUnixUTC int64) error {
	processedAt := unixTime(processedAtUnixUTC)
	err := store.db.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("entry_id = ?", entryID).
		Updates(map[string]any{
			"attempts":     attempts,
			"processed_at": &processedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("mark outbox entry processed: %w", err)
	}
	return nil
}

// Reschedule records a failed attempt and pushes the next one out.
func (store *Store) Reschedule(ctx context.Context, entryID string, attempts int, nextAttemptAtUnixUTC int64) error {
	err := store.db.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("entry_id = ?", entryID).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": unixTime(nextAttemptAtUnixUTC),
		}).Error
	if err != nil {
		return fmt.Errorf("reschedule outbox entry: %w", err)
	}
	return nil
}

// InsertDeadLetter snapshots an exhausted entry for operator review.
func (store *Store) InsertDeadLetter(ctx context.Context, deadLetter outbox.DeadLetter) error {
	row := DeadLetterEvent{
		OriginalEntryID: deadLetter.OriginalEntryID,
		EventType:       deadLetter.EventType.String(),
		Payload:         datatypes.JSON(deadLetter.Payload),
		Attempt:         deadLetter.Attempt,
		LastError:       deadLetter.Error,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}
