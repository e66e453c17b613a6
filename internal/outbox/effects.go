package outbox

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tempandmajor/commonly-payments/internal/wallet"
	"github.com/tempandmajor/commonly-payments/pkg/ledger"
)

// Notification kinds written by drain handlers.
const (
	NotificationOrderPaid          = "order_paid"
	NotificationOrderRefunded      = "order_refunded"
	NotificationWalletCredit       = "wallet_credit"
	NotificationPaymentMethodAdded = "payment_method_added"
)

const walletCreditReferencePrefix = "wallet-credit:"

// RecordsStore covers the primary records drain handlers mutate. Order
// transitions are conditional single-row updates; zero rows affected means
// the transition already happened, which a replayed entry treats as done.
type RecordsStore interface {
	MarkOrderPaid(ctx context.Context, orderID string, atUnixUTC int64) (bool, error)
	MarkOrderRefunded(ctx context.Context, orderID string, atUnixUTC int64) (bool, error)
	InsertNotification(ctx context.Context, userID string, kind string, body string, atUnixUTC int64) error
}

// Mailer dispatches outbound notification email. Calls are best-effort:
// a failure fails the entry for retry purposes but never blocks the other
// sub-steps in the same pass.
type Mailer interface {
	Send(ctx context.Context, userID string, subject string, body string) error
}

// FulfillmentSubmitter submits a paid order downstream.
type FulfillmentSubmitter interface {
	SubmitFulfillment(ctx context.Context, orderID string) error
}

// Effects binds the drain worker's side effects to their dependencies.
type Effects struct {
	records     RecordsStore
	ledger      *ledger.Service
	wallet      *wallet.Service
	mailer      Mailer
	fulfillment FulfillmentSubmitter
	nowFn       func() int64
	logger      *zap.Logger
}

// NewEffects wires the side-effect handlers. Mailer and fulfillment are
// optional; the corresponding sub-steps are skipped when nil.
func NewEffects(records RecordsStore, ledgerService *ledger.Service, walletService *wallet.Service, mailer Mailer, fulfillment FulfillmentSubmitter, now func() int64, logger *zap.Logger) (*Effects, error) {
	if records == nil {
		return nil, fmt.Errorf("outbox effects: records dependency is nil")
	}
	if ledgerService == nil {
		return nil, fmt.Errorf("outbox effects: ledger dependency is nil")
	}
	if walletService == nil {
		return nil, fmt.Errorf("outbox effects: wallet dependency is nil")
	}
	if now == nil {
		return nil, fmt.Errorf("outbox effects: clock dependency is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Effects{
		records:     records,
		ledger:      ledgerService,
		wallet:      walletService,
		mailer:      mailer,
		fulfillment: fulfillment,
		nowFn:       now,
		logger:      logger,
	}, nil
}

// Handlers returns the event-type dispatch table for a Worker.
func (effects *Effects) Handlers() map[EventType]Handler {
	return map[EventType]Handler{
		EventOrderPaid:              effects.handleOrderPaid,
		EventOrderRefunded:          effects.handleOrderRefunded,
		EventPaymentMethodAdded:     effects.handlePaymentMethodAdded,
		EventProviderEventProcessed: effects.handleProviderEventProcessed,
	}
}

// handleOrderPaid applies every consequence of a paid order. Each sub-step
// is attempted independently; a failed sub-step never blocks the rest, but
// any failure fails the entry so the drain worker retries it. Every
// sub-step tolerates re-execution.
func (effects *Effects) handleOrderPaid(ctx context.Context, entry Entry) error {
	payload, err := DecodeOrderPaid(entry.Payload)
	if err != nil {
		return err
	}
	var stepErrors []error

	if _, err := effects.records.MarkOrderPaid(ctx, payload.OrderID, effects.nowFn()); err != nil {
		stepErrors = append(stepErrors, fmt.Errorf("order transition: %w", err))
	}

	if payload.AddToWallet {
		if err := effects.creditWallet(ctx, payload); err != nil {
			stepErrors = append(stepErrors, fmt.Errorf("wallet credit: %w", err))
		}
	}

	notificationKind := NotificationOrderPaid
	notificationBody := fmt.Sprintf("Order %s paid (%d cents)", payload.OrderID, payload.AmountCents)
	if payload.AddToWallet {
		notificationKind = NotificationWalletCredit
		notificationBody = fmt.Sprintf("Wallet credited with %d cents for order %s", payload.AmountCents, payload.OrderID)
	}
	if err := effects.records.InsertNotification(ctx, payload.UserID, notificationKind, notificationBody, effects.nowFn()); err != nil {
		stepErrors = append(stepErrors, fmt.Errorf("notification: %w", err))
	}

	if effects.mailer != nil {
		if err := effects.mailer.Send(ctx, payload.UserID, "Payment received", notificationBody); err != nil {
			stepErrors = append(stepErrors, fmt.Errorf("mail dispatch: %w", err))
		}
	}
	if effects.fulfillment != nil && !payload.AddToWallet {
		if err := effects.fulfillment.SubmitFulfillment(ctx, payload.OrderID); err != nil {
			stepErrors = append(stepErrors, fmt.Errorf("fulfillment: %w", err))
		}
	}
	return errors.Join(stepErrors...)
}

func (effects *Effects) creditWallet(ctx context.Context, payload OrderPaidPayload) error {
	userID, err := ledger.NewUserID(payload.UserID)
	if err != nil {
		return err
	}
	reference, err := ledger.NewReference(walletCreditReferencePrefix + payload.OrderID)
	if err != nil {
		return err
	}
	description := fmt.Sprintf("wallet top-up for order %s", payload.OrderID)
	if _, err := effects.ledger.CreditWallet(ctx, userID, ledger.AmountCents(payload.AmountCents), reference, description); err != nil {
		return err
	}
	if _, err := effects.wallet.SyncFromLedger(ctx, payload.UserID); err != nil {
		return err
	}
	return nil
}

func (effects *Effects) handleOrderRefunded(ctx context.Context, entry Entry) error {
	payload, err := DecodeOrderRefunded(entry.Payload)
	if err != nil {
		return err
	}
	var stepErrors []error
	if _, err := effects.records.MarkOrderRefunded(ctx, payload.OrderID, effects.nowFn()); err != nil {
		stepErrors = append(stepErrors, fmt.Errorf("order transition: %w", err))
	}
	if payload.UserID != "" {
		body := fmt.Sprintf("Order %s refunded", payload.OrderID)
		if err := effects.records.InsertNotification(ctx, payload.UserID, NotificationOrderRefunded, body, effects.nowFn()); err != nil {
			stepErrors = append(stepErrors, fmt.Errorf("notification: %w", err))
		}
	}
	return errors.Join(stepErrors...)
}

func (effects *Effects) handlePaymentMethodAdded(ctx context.Context, entry Entry) error {
	payload, err := DecodePaymentMethodAdded(entry.Payload)
	if err != nil {
		return err
	}
	body := "A new payment method was added to your account"
	return effects.records.InsertNotification(ctx, payload.UserID, NotificationPaymentMethodAdded, body, effects.nowFn())
}

// handleProviderEventProcessed is the observability fan-out hook; today it
// only logs.
func (effects *Effects) handleProviderEventProcessed(_ context.Context, entry Entry) error {
	payload, err := DecodeProviderEventProcessed(entry.Payload)
	if err != nil {
		return err
	}
	effects.logger.Info("provider event processed",
		zap.String("provider_event_id", payload.ProviderEventID),
		zap.String("provider_event_type", payload.ProviderEventType),
	)
	return nil
}
