// Package webhook is the event ledger's intake: it verifies, persists, and
// dispatches provider notifications exactly once per event id. Delivery is
// at-least-once from the provider's side; the insert-if-absent on the event
// id is what collapses redeliveries.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tempandmajor/commonly-payments/internal/outbox"
)

// Store is the persistence contract used by Service.
type Store interface {
	InsertProviderEventIfAbsent(ctx context.Context, event ProviderEvent, atUnixUTC int64) (bool, error)
	MarkProviderEventProcessed(ctx context.Context, eventID string, atUnixUTC int64) error
	AppendOutboxEvent(ctx context.Context, eventType outbox.EventType, payload json.RawMessage, atUnixUTC int64) error
}

// SignatureVerifier validates a delivery against the provider-shared
// secret. *provider.Client satisfies it.
type SignatureVerifier interface {
	VerifyWebhookSignature(body []byte, header string, nowUnixUTC int64) error
}

// EmitFunc appends one durable outbox entry describing a domain-level
// consequence of the event being handled.
type EmitFunc func(ctx context.Context, eventType outbox.EventType, payload any) error

// Handler consumes one verified, deduplicated provider event. Handlers
// describe consequences through emit instead of performing them inline, so
// the consequence can be retried independently of the webhook call.
type Handler func(ctx context.Context, emit EmitFunc, event ProviderEvent) error

// Receipt reports how a delivery was acknowledged.
type Receipt struct {
	EventID   string
	Type      string
	Duplicate bool
}

// Service runs the intake pipeline.
type Service struct {
	store    Store
	verifier SignatureVerifier
	handlers map[string][]Handler
	nowFn    func() int64
	logger   *zap.Logger
}

// NewService wires a Service with the default handler registry.
func NewService(store Store, verifier SignatureVerifier, now func() int64, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("webhook service: store dependency is nil")
	}
	if verifier == nil {
		return nil, fmt.Errorf("webhook service: verifier dependency is nil")
	}
	if now == nil {
		return nil, fmt.Errorf("webhook service: clock dependency is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		store:    store,
		verifier: verifier,
		handlers: map[string][]Handler{},
		nowFn:    now,
		logger:   logger,
	}
	service.Register(EventCheckoutSessionCompleted, handleCheckoutSessionCompleted)
	service.Register(EventChargeRefunded, handleChargeRefunded)
	service.Register(EventPaymentMethodAttached, handlePaymentMethodAttached)
	return service, nil
}

// Register appends a handler for a provider event type.
func (service *Service) Register(eventType string, handler Handler) {
	service.handlers[eventType] = append(service.handlers[eventType], handler)
}

// Receive verifies and processes one delivery. Once the signature checks
// out the delivery is always acknowledged: handler failures are logged and
// recovered through the outbox and dead-letter records, never by provider
// redelivery. A rejected signature is the only error return.
func (service *Service) Receive(ctx context.Context, body []byte, signatureHeader string) (Receipt, error) {
	if err := service.verifier.VerifyWebhookSignature(body, signatureHeader, service.nowFn()); err != nil {
		return Receipt{}, err
	}
	event, err := ParseEvent(body)
	if err != nil {
		return Receipt{}, err
	}
	inserted, err := service.store.InsertProviderEventIfAbsent(ctx, event, service.nowFn())
	if err != nil {
		return Receipt{}, err
	}
	if !inserted {
		// Already seen: acknowledge without re-dispatching.
		return Receipt{EventID: event.EventID, Type: event.Type, Duplicate: true}, nil
	}
	for _, handler := range service.handlers[event.Type] {
		if handlerError := service.runHandler(ctx, handler, event); handlerError != nil {
			service.logger.Error("webhook handler failed",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.Type),
				zap.Error(handlerError),
			)
		}
	}
	if err := service.store.MarkProviderEventProcessed(ctx, event.EventID, service.nowFn()); err != nil {
		service.logger.Error("mark provider event processed failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
	if err := service.appendProcessedFanout(ctx, event); err != nil {
		service.logger.Error("append processed fan-out failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
	return Receipt{EventID: event.EventID, Type: event.Type}, nil
}

func (service *Service) runHandler(ctx context.Context, handler Handler, event ProviderEvent) (handlerError error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			handlerError = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return handler(ctx, service.emit, event)
}

func (service *Service) emit(ctx context.Context, eventType outbox.EventType, payload any) error {
	raw, err := outbox.MarshalPayload(payload)
	if err != nil {
		return err
	}
	return service.store.AppendOutboxEvent(ctx, eventType, raw, service.nowFn())
}

func (service *Service) appendProcessedFanout(ctx context.Context, event ProviderEvent) error {
	payload, err := outbox.MarshalPayload(outbox.ProviderEventProcessedPayload{
		ProviderEventID:   event.EventID,
		ProviderEventType: event.Type,
	})
	if err != nil {
		return err
	}
	return service.store.AppendOutboxEvent(ctx, outbox.EventProviderEventProcessed, payload, service.nowFn())
}
