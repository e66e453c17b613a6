// Package ticket mints short-lived signed redemption tokens and performs the
// atomic scan that moves a ticket from active to used. Minting persists
// nothing; the token is the only artifact and it expires on its own.
package ticket

import (
	"errors"
	"fmt"
)

// Status is a ticket lifecycle state. The only transition this package
// performs is active to used; cancellation happens elsewhere.
type Status string

const (
	StatusActive    Status = "active"
	StatusUsed      Status = "used"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrForbidden rejects a caller who does not own the ticket being
	// minted or lacks a scanning role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState rejects minting for a ticket that is not active.
	ErrInvalidState = errors.New("ticket is not in a valid state")
	// ErrInvalidOrAlreadyUsed is the single scan failure surfaced to
	// callers. It deliberately does not say which predicate failed so a
	// scanner cannot probe ticket validity.
	ErrInvalidOrAlreadyUsed = errors.New("ticket invalid or already used")
	// ErrTicketNotFound reports a mint request for an unknown ticket id.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrInvalidServiceConfig reports a missing Service dependency.
	ErrInvalidServiceConfig = errors.New("invalid ticket service configuration")
)

// Ticket is the redeemable credential record.
type Ticket struct {
	TicketID    string
	OwnerUserID string
	EventID     string
	Status      Status
	Code        string
}

// ParseStatus validates a stored status value.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusActive, StatusUsed, StatusCancelled:
		return Status(value), nil
	default:
		return "", fmt.Errorf("%w: unknown ticket status %q", ErrInvalidState, value)
	}
}

// String returns the status value.
func (status Status) String() string {
	return string(status)
}
