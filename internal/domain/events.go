/**
 * @description
 * This file defines the request-scoped models for inbound payment-provider webhooks.
 * An InboundEvent is built once per HTTP request by the webhook handler and handed
 * to the orchestrator, which decides what account and notification work to do.
 *
 * @notes
 * - Nothing here is persisted. Every value is discarded once the request completes.
 * - Provider event names are normalised into a small EventType set so the
 *   orchestrator never switches on provider strings directly.
 */
package domain

import (
	"encoding/json"
	"time"
)

// EventType is the normalised kind of an inbound provider event.
type EventType string

const (
	EventPurchaseCompleted     EventType = "purchase_completed"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventPaymentFailed         EventType = "payment_failed"
	EventOther                 EventType = "other"
)

// Provider event names that map onto the handled EventType values.
const (
	ProviderCheckoutCompleted   = "checkout.session.completed"
	ProviderSubscriptionDeleted = "customer.subscription.deleted"
	ProviderInvoicePaymentFail  = "invoice.payment_failed"
)

var providerEventTypes = map[string]EventType{
	ProviderCheckoutCompleted:   EventPurchaseCompleted,
	ProviderSubscriptionDeleted: EventSubscriptionCancelled,
	ProviderInvoicePaymentFail:  EventPaymentFailed,
}

// ClassifyProviderType maps a provider event name to an EventType.
// Unknown names map to EventOther.
func ClassifyProviderType(providerType string) EventType {
	if t, ok := providerEventTypes[providerType]; ok {
		return t
	}
	return EventOther
}

// InboundEvent is a single webhook delivery after its signature has been checked.
type InboundEvent struct {
	ID              string
	Type            EventType
	ProviderType    string          // e.g. "checkout.session.completed"
	RawPayload      []byte          // the exact request body
	Object          json.RawMessage // the provider's data.object
	SignatureHeader string
	ReceivedAt      time.Time
}

// NewInboundEvent classifies providerType and stamps the receive time.
func NewInboundEvent(id, providerType string, body []byte, object json.RawMessage, signatureHeader string, receivedAt time.Time) InboundEvent {
	return InboundEvent{
		ID:              id,
		Type:            ClassifyProviderType(providerType),
		ProviderType:    providerType,
		RawPayload:      body,
		Object:          object,
		SignatureHeader: signatureHeader,
		ReceivedAt:      receivedAt,
	}
}
