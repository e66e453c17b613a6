package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tempandmajor/commonly-payments/internal/outbox"
)

// handleCheckoutSessionCompleted translates a completed checkout session
// into an order_paid entry. The session metadata carries our identifiers;
// when no order id was attached the provider session id stands in for it so
// the paid marker still converges on a stable key.
func handleCheckoutSessionCompleted(ctx context.Context, emit EmitFunc, event ProviderEvent) error {
	var session checkoutSessionObject
	if err := json.Unmarshal(event.Payload, &session); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	if session.Metadata.UserID == "" {
		return fmt.Errorf("checkout session %s: metadata user_id is required", session.ID)
	}
	if session.AmountTotal <= 0 {
		return fmt.Errorf("checkout session %s: amount_total must be positive", session.ID)
	}
	orderID := session.Metadata.OrderID
	if orderID == "" {
		orderID = session.ID
	}
	return emit(ctx, outbox.EventOrderPaid, outbox.OrderPaidPayload{
		OrderID:           orderID,
		UserID:            session.Metadata.UserID,
		AmountCents:       session.AmountTotal,
		Currency:          session.Currency,
		AddToWallet:       session.Metadata.AddToWallet == "true",
		ProviderSessionID: session.ID,
	})
}

// handleChargeRefunded translates a refunded charge into an order_refunded
// entry.
func handleChargeRefunded(ctx context.Context, emit EmitFunc, event ProviderEvent) error {
	var charge chargeObject
	if err := json.Unmarshal(event.Payload, &charge); err != nil {
		return fmt.Errorf("decode charge: %w", err)
	}
	orderID := charge.Metadata.OrderID
	if orderID == "" {
		return fmt.Errorf("charge %s: metadata order_id is required", charge.ID)
	}
	return emit(ctx, outbox.EventOrderRefunded, outbox.OrderRefundedPayload{
		OrderID:          orderID,
		UserID:           charge.Metadata.UserID,
		AmountCents:      charge.AmountRefunded,
		ProviderChargeID: charge.ID,
	})
}

// handlePaymentMethodAttached translates an attached payment method into a
// payment_method_added entry.
func handlePaymentMethodAttached(ctx context.Context, emit EmitFunc, event ProviderEvent) error {
	var method paymentMethodObject
	if err := json.Unmarshal(event.Payload, &method); err != nil {
		return fmt.Errorf("decode payment method: %w", err)
	}
	if method.Metadata.UserID == "" {
		return fmt.Errorf("payment method %s: metadata user_id is required", method.ID)
	}
	return emit(ctx, outbox.EventPaymentMethodAdded, outbox.PaymentMethodAddedPayload{
		UserID:          method.Metadata.UserID,
		PaymentMethodID: method.ID,
	})
}
