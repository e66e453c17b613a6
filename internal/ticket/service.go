package ticket

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Store is the persistence contract used by Service. RedeemTicket must be a
// single conditional write on status and report whether a row transitioned;
// it is the only concurrency control for concurrent scans.
type Store interface {
	FindTicket(ctx context.Context, ticketID string) (Ticket, error)
	FindTicketIDByCode(ctx context.Context, eventID string, code string) (string, error)
	RedeemTicket(ctx context.Context, ticketID string, eventID string, atUnixUTC int64) (Ticket, bool, error)
}

// ScanRequest carries one redemption attempt. Exactly one of Token or Code
// is expected; Token wins when both are present.
type ScanRequest struct {
	EventID string
	Token   string
	Code    string
}

// Roles allowed to redeem tickets.
var scanRoles = map[string]struct{}{
	"admin":     {},
	"organizer": {},
	"staff":     {},
}

// Service implements mint and scan.
type Service struct {
	store         Store
	signingSecret []byte
	nowFn         func() int64
	logger        *zap.Logger
}

// NewService validates dependencies and builds a Service.
func NewService(store Store, signingSecret string, now func() int64, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if signingSecret == "" {
		return nil, fmt.Errorf("%w: signing secret is empty", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:         store,
		signingSecret: []byte(signingSecret),
		nowFn:         now,
		logger:        logger,
	}, nil
}

// Mint issues a signed scan token for a ticket the caller owns. Only active
// tickets mint; nothing is persisted.
func (service *Service) Mint(ctx context.Context, callerUserID string, ticketID string) (string, error) {
	if callerUserID == "" || ticketID == "" {
		return "", fmt.Errorf("%w: caller and ticket id are required", ErrInvalidOrAlreadyUsed)
	}
	ticket, err := service.store.FindTicket(ctx, ticketID)
	if err != nil {
		return "", err
	}
	if ticket.OwnerUserID != callerUserID {
		return "", fmt.Errorf("%w: ticket %s is not owned by caller", ErrForbidden, ticketID)
	}
	if ticket.Status != StatusActive {
		return "", fmt.Errorf("%w: ticket %s is %s", ErrInvalidState, ticketID, ticket.Status)
	}
	return signScanToken(service.signingSecret, ticket, callerUserID, service.nowFn())
}

// Scan redeems a ticket presented as a signed token or a raw fallback code.
// Every failure after the role check collapses into ErrInvalidOrAlreadyUsed.
func (service *Service) Scan(ctx context.Context, callerRoles []string, request ScanRequest) (Ticket, error) {
	if !hasScanRole(callerRoles) {
		return Ticket{}, fmt.Errorf("%w: scanning requires an admin, organizer, or staff role", ErrForbidden)
	}
	if request.EventID == "" {
		return Ticket{}, fmt.Errorf("%w: event id is required", ErrInvalidOrAlreadyUsed)
	}
	ticketID, err := service.resolveTicketID(ctx, request)
	if err != nil {
		service.logger.Info("ticket scan rejected",
			zap.String("event_id", request.EventID),
			zap.Error(err),
		)
		return Ticket{}, ErrInvalidOrAlreadyUsed
	}
	redeemed, transitioned, err := service.store.RedeemTicket(ctx, ticketID, request.EventID, service.nowFn())
	if err != nil {
		return Ticket{}, err
	}
	if !transitioned {
		return Ticket{}, ErrInvalidOrAlreadyUsed
	}
	return redeemed, nil
}

func (service *Service) resolveTicketID(ctx context.Context, request ScanRequest) (string, error) {
	if request.Token != "" {
		claims, err := parseScanToken(service.signingSecret, request.Token, service.nowFn())
		if err != nil {
			return "", err
		}
		if claims.EventID != request.EventID {
			return "", fmt.Errorf("%w: token issued for a different event", errTokenInvalid)
		}
		return claims.TicketID, nil
	}
	if request.Code != "" {
		ticketID, err := service.store.FindTicketIDByCode(ctx, request.EventID, request.Code)
		if err != nil {
			return "", err
		}
		return ticketID, nil
	}
	return "", errors.New("no token or code presented")
}

func hasScanRole(roles []string) bool {
	for _, role := range roles {
		if _, allowed := scanRoles[role]; allowed {
			return true
		}
	}
	return false
}
