package domain

import "time"

// Channel is the delivery route of a NotificationJob.
type Channel string

const (
	ChannelEmail           Channel = "email"
	ChannelOutboundWebhook Channel = "outbound_webhook"
	ChannelEventBus        Channel = "event_bus"
)

// NotificationJob is one independent piece of outbound work produced for an event.
type NotificationJob struct {
	Channel      Channel
	Recipient    string // email address, relay URL or routing key
	TemplateData map[string]string
}

// Email is a transactional message handed to the email provider.
type Email struct {
	From           string
	To             []string
	Subject        string
	HTML           string
	IdempotencyKey string `json:"-"`
}

// Branch names used in outcome reports, logs and metrics.
const (
	BranchWelcome      = "welcome_email"
	BranchSaleNotice   = "sale_notification"
	BranchRelay        = "outbound_webhook"
	BranchEventBus     = "event_bus"
	BranchPaymentIssue = "payment_issue_email"
)

// BranchOutcome records how one fan-out branch settled. Err is nil on success.
type BranchOutcome struct {
	Branch   string
	Job      NotificationJob
	Skipped  bool
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the branch ran and did not fail.
func (o BranchOutcome) Succeeded() bool {
	return !o.Skipped && o.Err == nil
}

// HandleReport summarises how an InboundEvent was handled. It is informational
// only; the webhook is acknowledged whatever the outcomes are.
type HandleReport struct {
	EventID   string
	EventType EventType
	Outcomes  []BranchOutcome
	MagicLink *MagicLinkResult
	Duplicate bool
}

// Failed returns the outcomes whose branch ran and failed.
func (r HandleReport) Failed() []BranchOutcome {
	var failed []BranchOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// PurchaseRelayPayload is posted to the outbound relay after a sale.
type PurchaseRelayPayload struct {
	EventType string `json:"eventType"`
	Platform  string `json:"platform"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Plan      string `json:"plan"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Timestamp string `json:"timestamp"`
}

// CancellationRelayPayload is posted to the outbound relay when a subscription ends.
type CancellationRelayPayload struct {
	EventType        string `json:"eventType"`
	Platform         string `json:"platform"`
	StripeCustomerID string `json:"stripeCustomerId"`
	Timestamp        string `json:"timestamp"`
}

// PurchaseCompletedMessage is published on the event bus after a sale.
type PurchaseCompletedMessage struct {
	EventID          string `json:"event_id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Plan             string `json:"plan"`
	PlanID           string `json:"plan_id,omitempty"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
	OccurredAt       string `json:"occurred_at"`
}

// SubscriptionCancelledMessage is published on the event bus when a subscription ends.
type SubscriptionCancelledMessage struct {
	EventID          string `json:"event_id"`
	SubscriptionID   string `json:"subscription_id"`
	StripeCustomerID string `json:"stripe_customer_id"`
	OccurredAt       string `json:"occurred_at"`
}
