package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tempandmajor/commonly-payments/internal/ticket"
)

// FindTicket loads one ticket by id.
func (store *Store) FindTicket(ctx context.Context, ticketID string) (ticket.Ticket, error) {
	var row Ticket
	err := store.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("find ticket: %w", err)
	}
	return mapTicket(row)
}

// FindTicketIDByCode resolves a fallback redemption code within an event.
func (store *Store) FindTicketIDByCode(ctx context.Context, eventID string, code string) (string, error) {
	var row Ticket
	err := store.db.WithContext(ctx).
		Where("event_id = ? AND code = ?", eventID, code).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ticket.ErrTicketNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find ticket by code: %w", err)
	}
	return row.TicketID, nil
}

// RedeemTicket performs the single conditional write that moves a ticket
// from active to used. Concurrent scans race on the status predicate and
// only one update can match, so the transition behaves as a compare and
// swap on status.
func (store *Store) RedeemTicket(ctx context.Context, ticketID string, eventID string, atUnixUTC int64) (ticket.Ticket, bool, error) {
	redeemedAt := unixTime(atUnixUTC)
	result := store.db.WithContext(ctx).
		Model(&Ticket{}).
		Where("ticket_id = ? AND event_id = ? AND status = ?", ticketID, eventID, ticket.StatusActive.String()).
		Updates(map[string]any{
			"status":      ticket.StatusUsed.String(),
			"redeemed_at": &redeemedAt,
		})
	if result.Error != nil {
		return ticket.Ticket{}, false, fmt.Errorf("redeem ticket: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ticket.Ticket{}, false, nil
	}
	var row Ticket
	if err := store.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Take(&row).Error; err != nil {
		return ticket.Ticket{}, false, fmt.Errorf("reload redeemed ticket: %w", err)
	}
	redeemed, err := mapTicket(row)
	if err != nil {
		return ticket.Ticket{}, false, err
	}
	return redeemed, true, nil
}

// InsertTicket seeds a ticket row. Ticket issuance itself lives outside
// this subsystem; the writer exists for provisioning and tests.
func (store *Store) InsertTicket(ctx context.Context, newTicket ticket.Ticket) error {
	row := Ticket{
		TicketID:    newTicket.TicketID,
		OwnerUserID: newTicket.OwnerUserID,
		EventID:     newTicket.EventID,
		Status:      newTicket.Status.String(),
		Code:        newTicket.Code,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func mapTicket(row Ticket) (ticket.Ticket, error) {
	status, err := ticket.ParseStatus(row.Status)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("map ticket: %w", err)
	}
	return ticket.Ticket{
		TicketID:    row.TicketID,
		OwnerUserID: row.OwnerUserID,
		EventID:     row.EventID,
		Status:      status,
		Code:        row.Code,
	}, nil
}
