package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Provider event types this intake understands. Unknown types are still
// persisted and acknowledged so the provider can add types without breaking
// deliveries.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventChargeRefunded           = "charge.refunded"
	EventPaymentMethodAttached    = "payment_method.attached"
)

// ErrMalformedEvent rejects a verified body that does not parse into an
// event envelope.
var ErrMalformedEvent = errors.New("malformed provider event")

// ProviderEvent is the stored form of one provider notification. The raw
// object payload stays opaque until a handler decodes its own schema.
type ProviderEvent struct {
	EventID string
	Type    string
	Payload json.RawMessage
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified raw body into a ProviderEvent.
func ParseEvent(body []byte) (ProviderEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ProviderEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if envelope.ID == "" || envelope.Type == "" {
		return ProviderEvent{}, fmt.Errorf("%w: id and type are required", ErrMalformedEvent)
	}
	payload := envelope.Data.Object
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return ProviderEvent{EventID: envelope.ID, Type: envelope.Type, Payload: payload}, nil
}

// checkoutSessionObject is the slice of the provider's checkout session we
// consume. Metadata values arrive as strings.
type checkoutSessionObject struct {
	ID          string `json:"id"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
	Metadata    struct {
		UserID      string `json:"user_id"`
		OrderID     string `json:"order_id"`
		AddToWallet string `json:"add_to_wallet"`
	} `json:"metadata"`
}

type chargeObject struct {
	ID             string `json:"id"`
	AmountRefunded int64  `json:"amount_refunded"`
	Metadata       struct {
		UserID  string `json:"user_id"`
		OrderID string `json:"order_id"`
	} `json:"metadata"`
}

type paymentMethodObject struct {
	ID       string `json:"id"`
	Metadata struct {
		UserID string `json:"user_id"`
	} `json:"metadata"`
}
