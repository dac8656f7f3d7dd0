package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v80"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
)

const (
	defaultCustomerName = "Friend"
	defaultCurrency     = "USD"
	defaultPlanName     = "Starter"
)

// PlanCatalog maps provider price ids to plan display names.
type PlanCatalog map[string]string

// Resolve picks the display name for a checkout: the catalog entry for
// priceID, then the checkout's own plan label, then the default plan.
func (c PlanCatalog) Resolve(priceID, planLabel string) string {
	if name, ok := c[priceID]; ok && priceID != "" {
		return name
	}
	if strings.TrimSpace(planLabel) != "" {
		return planLabel
	}
	return defaultPlanName
}

func decodeObject(ev domain.InboundEvent, target interface{}) error {
	if len(ev.Object) == 0 || string(ev.Object) == "null" {
		return fmt.Errorf("%w: %s has no data.object", domain.ErrMalformedEvent, ev.ProviderType)
	}
	if err := json.Unmarshal(ev.Object, target); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, ev.ProviderType, err)
	}
	return nil
}

// purchaseFact derives what the service needs from a completed checkout session.
func purchaseFact(ev domain.InboundEvent, catalog PlanCatalog) (domain.PurchaseFact, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(ev, &session); err != nil {
		return domain.PurchaseFact{}, err
	}

	fact := domain.PurchaseFact{
		SessionID:        session.ID,
		CustomerEmail:    session.CustomerEmail,
		CustomerName:     defaultCustomerName,
		AmountMinorUnits: session.AmountTotal,
		Currency:         strings.ToUpper(string(session.Currency)),
	}
	if d := session.CustomerDetails; d != nil {
		if d.Email != "" {
			fact.CustomerEmail = d.Email
		}
		if d.Name != "" {
			fact.CustomerName = d.Name
		}
	}
	if fact.Currency == "" {
		fact.Currency = defaultCurrency
	}

	fact.PlanIdentifier = session.Metadata["price_id"]
	fact.PlanDisplayName = catalog.Resolve(fact.PlanIdentifier, session.Metadata["plan"])

	return fact, nil
}

// cancelledCustomer returns the provider customer id of a deleted subscription.
func cancelledCustomer(ev domain.InboundEvent) (subscriptionID, customerID string, err error) {
	var sub stripe.Subscription
	if err := decodeObject(ev, &sub); err != nil {
		return "", "", err
	}
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	return sub.ID, customerID, nil
}

// failedInvoiceEmail returns the customer email of a failed invoice, if any.
func failedInvoiceEmail(ev domain.InboundEvent) (string, error) {
	var invoice stripe.Invoice
	if err := decodeObject(ev, &invoice); err != nil {
		return "", err
	}
	return strings.TrimSpace(invoice.CustomerEmail), nil
}
