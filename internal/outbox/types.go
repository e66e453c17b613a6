package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags the domain-level consequence an entry describes. It is
// distinct from the provider's own event types: provider events are decoded
// at the webhook boundary and re-expressed as these tags.
type EventType string

const (
	EventOrderPaid              EventType = "order_paid"
	EventOrderRefunded          EventType = "order_refunded"
	EventPaymentMethodAdded     EventType = "payment_method_added"
	EventProviderEventProcessed EventType = "provider_event_processed"
)

// String returns the event type tag.
func (eventType EventType) String() string {
	return string(eventType)
}

var (
	ErrInvalidPayload   = errors.New("invalid outbox payload")
	ErrUnknownEventType = errors.New("unknown outbox event type")
)

// Entry is a durable side-effect intent. It is eligible for processing iff
// ProcessedAt is unset and NextAttemptAt is due; only the drain worker
// mutates attempts and scheduling.
type Entry struct {
	EntryID              string
	EventType            EventType
	Payload              json.RawMessage
	Attempts             int
	NextAttemptAtUnixUTC int64
	CreatedUnixUTC       int64
}

// DeadLetter snapshots an entry that exhausted its retries. Write-once;
// replay is a manual operation outside this subsystem.
type DeadLetter struct {
	OriginalEntryID string
	EventType       EventType
	Payload         json.RawMessage
	Attempt         int
	Error           string
}

// OrderPaidPayload describes a completed checkout. The drain handler works
// purely from this payload; nothing is implicitly captured at enqueue time.
type OrderPaidPayload struct {
	OrderID           string `json:"order_id"`
	UserID            string `json:"user_id"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	AddToWallet       bool   `json:"add_to_wallet"`
	ProviderSessionID string `json:"provider_session_id"`
}

// OrderRefundedPayload describes a refunded order.
type OrderRefundedPayload struct {
	OrderID          string `json:"order_id"`
	UserID           string `json:"user_id"`
	AmountCents      int64  `json:"amount_cents"`
	ProviderChargeID string `json:"provider_charge_id"`
}

// PaymentMethodAddedPayload describes a newly attached payment method.
type PaymentMethodAddedPayload struct {
	UserID          string `json:"user_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

// ProviderEventProcessedPayload is the generic observability fan-out entry
// appended after every successfully dispatched provider event.
type ProviderEventProcessedPayload struct {
	ProviderEventID   string `json:"provider_event_id"`
	ProviderEventType string `json:"provider_event_type"`
}

// MarshalPayload encodes a typed payload for storage.
func MarshalPayload(payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return raw, nil
}

// DecodeOrderPaid decodes and validates an order_paid payload.
func DecodeOrderPaid(raw json.RawMessage) (OrderPaidPayload, error) {
	var payload OrderPaidPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return OrderPaidPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.OrderID == "" || payload.UserID == "" {
		return OrderPaidPayload{}, fmt.Errorf("%w: order_id and user_id are required", ErrInvalidPayload)
	}
	if payload.AmountCents <= 0 {
		return OrderPaidPayload{}, fmt.Errorf("%w: amount_cents must be positive", ErrInvalidPayload)
	}
	return payload, nil
}

// DecodeOrderRefunded decodes and validates an order_refunded payload.
func DecodeOrderRefunded(raw json.RawMessage) (OrderRefundedPayload, error) {
	var payload OrderRefundedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return OrderRefundedPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.OrderID == "" {
		return OrderRefundedPayload{}, fmt.Errorf("%w: order_id is required", ErrInvalidPayload)
	}
	return payload, nil
}

// DecodePaymentMethodAdded decodes and validates a payment_method_added payload.
func DecodePaymentMethodAdded(raw json.RawMessage) (PaymentMethodAddedPayload, error) {
	var payload PaymentMethodAddedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PaymentMethodAddedPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.UserID == "" {
		return PaymentMethodAddedPayload{}, fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	return payload, nil
}

// DecodeProviderEventProcessed decodes a provider_event_processed payload.
func DecodeProviderEventProcessed(raw json.RawMessage) (ProviderEventProcessedPayload, error) {
	var payload ProviderEventProcessedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ProviderEventProcessedPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payload, nil
}
