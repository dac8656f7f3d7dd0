package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/config"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/store"
	"github.com/kendryah-htp/apps-on-purpose-netlify/pkg/rabbitmq"
)

const (
	relayURL     = "https://relay.example.com/hook"
	dashboardURL = "https://app.example.com/dashboard"
	notifyEmail  = "ops@example.com"
	agencyPrice  = "price_1T3gqx0490AThCZFe2kX0xWF"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func testSettings() Settings {
	return Settings{
		Sender:                     "Shop <shop@example.com>",
		NotifyEmail:                notifyEmail,
		SupportEmail:               "support@example.com",
		SiteURL:                    "https://app.example.com",
		DashboardURL:               dashboardURL,
		BillingPortalURL:           "https://billing.example.com/portal",
		PlatformName:               "apps-on-purpose",
		RelayURL:                   relayURL,
		IdentityIntegrationEnabled: true,
		Plans:                      PlanCatalog(config.DefaultPlanNames),
	}
}

type fixture struct {
	svc       *Service
	identity  *MockIdentityGateway
	notifier  *MockNotifier
	publisher *MockPublisher
}

func newFixture(settings Settings, withPublisher bool) *fixture {
	f := &fixture{
		identity: new(MockIdentityGateway),
		notifier: new(MockNotifier),
	}
	var publisher rabbitmq.Publisher
	if withPublisher {
		f.publisher = new(MockPublisher)
		publisher = f.publisher
	}
	f.svc = NewService(settings, f.identity, f.notifier, publisher, store.NewMemoryDeduper(time.Hour), nil)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func inboundEvent(t *testing.T, id, providerType string, object interface{}) domain.InboundEvent {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return domain.NewInboundEvent(id, providerType, nil, raw, "", fixedNow)
}

func checkoutObject() map[string]interface{} {
	return map[string]interface{}{
		"id":           "cs_test_1",
		"object":       "checkout.session",
		"amount_total": 29700,
		"currency":     "usd",
		"customer_details": map[string]interface{}{
			"email": "buyer@x.com",
			"name":  "Ada Lovelace",
		},
		"metadata": map[string]string{"price_id": agencyPrice},
	}
}

func emailTo(addr string) interface{} {
	return mock.MatchedBy(func(e domain.Email) bool {
		return len(e.To) == 1 && e.To[0] == addr
	})
}

func outcomeByBranch(report domain.HandleReport) map[string]domain.BranchOutcome {
	out := make(map[string]domain.BranchOutcome, len(report.Outcomes))
	for _, o := range report.Outcomes {
		out[o.Branch] = o
	}
	return out
}

func TestHandleEvent_PurchaseCompletedFansOutToEveryBranch(t *testing.T) {
	f := newFixture(testSettings(), true)
	ctx := context.Background()

	f.identity.On("UpsertAccountAndGenerateMagicLink", mock.Anything, mock.MatchedBy(func(req domain.AccountProvisionRequest) bool {
		return req.Email == "buyer@x.com" && req.DisplayName == "Ada Lovelace" && req.Metadata["plan"] == "Agency"
	})).Return(domain.Obtained("https://id.example.com/magic", true)).Once()

	var welcome, sale domain.Email
	f.notifier.On("SendEmail", mock.Anything, emailTo("buyer@x.com")).
		Run(func(args mock.Arguments) { welcome = args.Get(1).(domain.Email) }).
		Return("msg_welcome", nil).Once()
	f.notifier.On("SendEmail", mock.Anything, emailTo(notifyEmail)).
		Run(func(args mock.Arguments) { sale = args.Get(1).(domain.Email) }).
		Return("msg_sale", nil).Once()

	f.notifier.On("SendOutboundWebhook", mock.Anything, relayURL, domain.PurchaseRelayPayload{
		EventType: "purchase_completed",
		Platform:  "apps-on-purpose",
		Email:     "buyer@x.com",
		Name:      "Ada Lovelace",
		Plan:      "Agency",
		Amount:    "297.00",
		Currency:  "USD",
		Timestamp: "2026-03-14T15:09:26.000Z",
	}).Return().Once()

	f.publisher.On("Publish", mock.Anything, rabbitmq.RoutingKeyPurchaseCompleted, mock.MatchedBy(func(m domain.PurchaseCompletedMessage) bool {
		return m.EventID == "evt_1" && m.AmountMinorUnits == 29700 && m.PlanID == agencyPrice
	})).Return(nil).Once()

	report, err := f.svc.HandleEvent(ctx, inboundEvent(t, "evt_1", domain.ProviderCheckoutCompleted, checkoutObject()))
	require.NoError(t, err)

	f.identity.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
	f.publisher.AssertExpectations(t)

	assert.Equal(t, domain.EventPurchaseCompleted, report.EventType)
	assert.False(t, report.Duplicate)
	assert.Len(t, report.Outcomes, 4)
	assert.Empty(t, report.Failed())
	require.NotNil(t, report.MagicLink)
	assert.Equal(t, domain.LinkObtained, report.MagicLink.Source)

	assert.Equal(t, "You're in, Ada — access your Apps on Purpose™ dashboard ✦", welcome.Subject)
	assert.Equal(t, "Shop <shop@example.com>", welcome.From)
	assert.Contains(t, welcome.HTML, `href="https://id.example.com/magic"`)
	assert.Contains(t, welcome.HTML, "Agency Access Active")
	assert.NotEmpty(t, welcome.IdempotencyKey)

	assert.Equal(t, "[AOP] ✦ New Sale — Agency $297.00 USD", sale.Subject)
	assert.Contains(t, sale.HTML, "buyer@x.com")
	assert.Contains(t, sale.HTML, "3/14/2026, 11:09:26 AM EST")
	assert.NotEqual(t, welcome.IdempotencyKey, sale.IdempotencyKey)

	outcomes := outcomeByBranch(report)
	assert.Equal(t, "https://id.example.com/magic", outcomes[domain.BranchWelcome].Job.TemplateData["magic_link"])
}

func TestHandleEvent_WelcomeFailureDoesNotBlockOtherBranches(t *testing.T) {
	settings := testSettings()
	settings.RelayURL = ""
	f := newFixture(settings, false)

	f.identity.On("UpsertAccountAndGenerateMagicLink", mock.Anything, mock.Anything).
		Return(domain.Fallback(dashboardURL, false)).Once()
	f.notifier.On("SendEmail", mock.Anything, emailTo("buyer@x.com")).
		Return("", errors.New("email provider returned status 500")).Once()
	f.notifier.On("SendEmail", mock.Anything, emailTo(notifyEmail)).Return("msg_sale", nil).Once()

	report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_2", domain.ProviderCheckoutCompleted, checkoutObject()))
	require.NoError(t, err)

	f.notifier.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "SendOutboundWebhook", mock.Anything, mock.Anything, mock.Anything)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.BranchWelcome, failed[0].Branch)

	outcomes := outcomeByBranch(report)
	assert.True(t, outcomes[domain.BranchSaleNotice].Succeeded())
	assert.True(t, outcomes[domain.BranchRelay].Skipped)
	assert.True(t, outcomes[domain.BranchEventBus].Skipped)
}

func TestHandleEvent_PurchaseWithoutEmailSkipsWelcome(t *testing.T) {
	f := newFixture(testSettings(), false)

	obj := checkoutObject()
	obj["customer_details"] = map[string]interface{}{"name": "Walk In"}
	f.notifier.On("SendEmail", mock.Anything, emailTo(notifyEmail)).Return("msg_sale", nil).Once()
	f.notifier.On("SendOutboundWebhook", mock.Anything, relayURL, mock.Anything).Return().Once()

	report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_3", domain.ProviderCheckoutCompleted, obj))
	require.NoError(t, err)

	f.identity.AssertNotCalled(t, "UpsertAccountAndGenerateMagicLink", mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
	assert.True(t, outcomeByBranch(report)[domain.BranchWelcome].Skipped)
	assert.Nil(t, report.MagicLink)
}

func TestHandleEvent_IdentityIntegrationDisabledUsesDashboardLink(t *testing.T) {
	settings := testSettings()
	settings.IdentityIntegrationEnabled = false
	settings.RelayURL = ""
	f := newFixture(settings, false)

	var welcome domain.Email
	f.notifier.On("SendEmail", mock.Anything, emailTo("buyer@x.com")).
		Run(func(args mock.Arguments) { welcome = args.Get(1).(domain.Email) }).
		Return("msg", nil).Once()
	f.notifier.On("SendEmail", mock.Anything, emailTo(notifyEmail)).Return("msg", nil).Once()

	report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_4", domain.ProviderCheckoutCompleted, checkoutObject()))
	require.NoError(t, err)

	f.identity.AssertNotCalled(t, "UpsertAccountAndGenerateMagicLink", mock.Anything, mock.Anything)
	require.NotNil(t, report.MagicLink)
	assert.Equal(t, domain.LinkFallback, report.MagicLink.Source)
	assert.Contains(t, welcome.HTML, `href="`+dashboardURL+`"`)
}

func TestHandleEvent_SubscriptionCancelledSendsExactlyOneRelay(t *testing.T) {
	f := newFixture(testSettings(), false)

	f.notifier.On("SendOutboundWebhook", mock.Anything, relayURL, domain.CancellationRelayPayload{
		EventType:        "subscription_cancelled",
		Platform:         "apps-on-purpose",
		StripeCustomerID: "cus_123",
		Timestamp:        "2026-03-14T15:09:26.000Z",
	}).Return().Once()

	report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_5", domain.ProviderSubscriptionDeleted, map[string]interface{}{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_123",
	}))
	require.NoError(t, err)

	f.notifier.AssertExpectations(t)
	f.notifier.AssertNumberOfCalls(t, "SendOutboundWebhook", 1)
	f.notifier.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	assert.Empty(t, report.Failed())
}

func TestHandleEvent_SubscriptionCancelledWithoutRelayDoesNothing(t *testing.T) {
	settings := testSettings()
	settings.RelayURL = ""
	f := newFixture(settings, false)

	report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_6", domain.ProviderSubscriptionDeleted, map[string]interface{}{
		"id":       "sub_1",
		"customer": "cus_123",
	}))
	require.NoError(t, err)

	f.notifier.AssertNotCalled(t, "SendOutboundWebhook", mock.Anything, mock.Anything, mock.Anything)
	for _, o := range report.Outcomes {
		assert.True(t, o.Skipped, o.Branch)
	}
}

func TestHandleEvent_SubscriptionCancelledPublishesToEventBus(t *testing.T) {
	settings := testSettings()
	settings.RelayURL = ""
	f := newFixture(settings, true)

	f.publisher.On("Publish", mock.Anything, rabbitmq.RoutingKeySubscriptionCancelled, domain.SubscriptionCancelledMessage{
		EventID:          "evt_7",
		SubscriptionID:   "sub_1",
		StripeCustomerID: "cus_123",
		OccurredAt:       "2026-03-14T15:09:26.000Z",
	}).Return(errors.New("channel closed")).Once()

	report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_7", domain.ProviderSubscriptionDeleted, map[string]interface{}{
		"id":       "sub_1",
		"customer": map[string]interface{}{"id": "cus_123", "object": "customer"},
	}))
	require.NoError(t, err)

	f.publisher.AssertExpectations(t)
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.BranchEventBus, failed[0].Branch)
}

func TestHandleEvent_PaymentFailed(t *testing.T) {
	t.Run("with customer email", func(t *testing.T) {
		f := newFixture(testSettings(), false)
		var notice domain.Email
		f.notifier.On("SendEmail", mock.Anything, emailTo("late@x.com")).
			Run(func(args mock.Arguments) { notice = args.Get(1).(domain.Email) }).
			Return("msg", nil).Once()

		_, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_8", domain.ProviderInvoicePaymentFail, map[string]interface{}{
			"id":             "in_1",
			"customer_email": "late@x.com",
		}))
		require.NoError(t, err)

		f.notifier.AssertExpectations(t)
		f.notifier.AssertNumberOfCalls(t, "SendEmail", 1)
		f.notifier.AssertNotCalled(t, "SendOutboundWebhook", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, "Action needed — payment issue with Apps on Purpose™", notice.Subject)
		assert.Contains(t, notice.HTML, "https://billing.example.com/portal")
	})

	t.Run("without customer email", func(t *testing.T) {
		f := newFixture(testSettings(), false)

		report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_9", domain.ProviderInvoicePaymentFail, map[string]interface{}{
			"id": "in_2",
		}))
		require.NoError(t, err)

		f.notifier.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
		require.Len(t, report.Outcomes, 1)
		assert.True(t, report.Outcomes[0].Skipped)
	})
}

func TestHandleEvent_UnknownTypeHasNoSideEffects(t *testing.T) {
	f := newFixture(testSettings(), true)

	report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_10", "customer.created", map[string]interface{}{"id": "cus_1"}))
	require.NoError(t, err)

	assert.Equal(t, domain.EventOther, report.EventType)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, f.identity.Calls)
	assert.Empty(t, f.notifier.Calls)
	assert.Empty(t, f.publisher.Calls)
}

func TestHandleEvent_MalformedObjectIsRejectedBeforeSideEffects(t *testing.T) {
	f := newFixture(testSettings(), false)

	bad := domain.NewInboundEvent("evt_11", domain.ProviderCheckoutCompleted, nil, json.RawMessage(`[1,2,3]`), "", fixedNow)
	_, err := f.svc.HandleEvent(context.Background(), bad)
	require.ErrorIs(t, err, domain.ErrMalformedEvent)

	missing := domain.NewInboundEvent("evt_11", domain.ProviderInvoicePaymentFail, nil, nil, "", fixedNow)
	_, err = f.svc.HandleEvent(context.Background(), missing)
	require.ErrorIs(t, err, domain.ErrMalformedEvent)

	assert.Empty(t, f.notifier.Calls)

	// The id was not consumed, so a well-formed redelivery is still handled.
	f.notifier.On("SendEmail", mock.Anything, mock.Anything).Return("msg", nil)
	report, err := f.svc.HandleEvent(context.Background(), inboundEvent(t, "evt_11", domain.ProviderInvoicePaymentFail, map[string]interface{}{
		"customer_email": "late@x.com",
	}))
	require.NoError(t, err)
	assert.False(t, report.Duplicate)
}

func TestHandleEvent_DuplicateDeliveryIsAcknowledgedWithoutSideEffects(t *testing.T) {
	f := newFixture(testSettings(), false)
	f.notifier.On("SendEmail", mock.Anything, mock.Anything).Return("msg", nil).Once()

	ev := inboundEvent(t, "evt_12", domain.ProviderInvoicePaymentFail, map[string]interface{}{"customer_email": "late@x.com"})

	first, err := f.svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.Outcomes)

	f.notifier.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestPurchaseFact_Derivation(t *testing.T) {
	catalog := PlanCatalog(config.DefaultPlanNames)

	tests := []struct {
		name   string
		object map[string]interface{}
		want   domain.PurchaseFact
	}{
		{
			name:   "catalog plan and customer details",
			object: checkoutObject(),
			want: domain.PurchaseFact{
				SessionID:        "cs_test_1",
				CustomerEmail:    "buyer@x.com",
				CustomerName:     "Ada Lovelace",
				AmountMinorUnits: 29700,
				Currency:         "USD",
				PlanIdentifier:   agencyPrice,
				PlanDisplayName:  "Agency",
			},
		},
		{
			name: "fallbacks",
			object: map[string]interface{}{
				"id":             "cs_2",
				"customer_email": "top@x.com",
				"metadata":       map[string]string{"plan": "Custom Plan"},
			},
			want: domain.PurchaseFact{
				SessionID:       "cs_2",
				CustomerEmail:   "top@x.com",
				CustomerName:    "Friend",
				Currency:        "USD",
				PlanDisplayName: "Custom Plan",
			},
		},
		{
			name: "unknown price without label",
			object: map[string]interface{}{
				"id":       "cs_3",
				"currency": "eur",
				"metadata": map[string]string{"price_id": "price_unknown"},
			},
			want: domain.PurchaseFact{
				SessionID:       "cs_3",
				CustomerName:    "Friend",
				Currency:        "EUR",
				PlanIdentifier:  "price_unknown",
				PlanDisplayName: "Starter",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := purchaseFact(inboundEvent(t, "evt", domain.ProviderCheckoutCompleted, tt.object), catalog)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPurchaseFact_FirstNameAndAmount(t *testing.T) {
	fact := domain.PurchaseFact{CustomerName: "Ada King Lovelace", AmountMinorUnits: 4705}
	assert.Equal(t, "Ada", fact.FirstName())
	assert.Equal(t, "47.05", fact.Amount())

	fact = domain.PurchaseFact{CustomerName: "Cher", AmountMinorUnits: 5}
	assert.Equal(t, "Cher", fact.FirstName())
	assert.Equal(t, "0.05", fact.Amount())
}

func TestWelcomeEmail_BonusBlockAndEscaping(t *testing.T) {
	tests := []struct {
		plan    string
		want    string
		notWant []string
	}{
		{plan: "Creator License", want: "Creator License Active", notWant: []string{"Agency Access Active"}},
		{plan: "Agency (Activation)", want: "Agency Access Active", notWant: []string{"Creator License Active"}},
		{plan: "Starter", notWant: []string{"Creator License Active", "Agency Access Active"}},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			html, err := render(welcomeTemplate, welcomeData{
				FirstName:    "<b>Ada</b>",
				PlanName:     tt.plan,
				MagicLink:    "https://id.example.com/magic?token=a&type=magiclink",
				Bonus:        bonusFor(tt.plan),
				SupportEmail: "support@example.com",
				SiteURL:      "https://app.example.com",
				SiteHost:     "app.example.com",
				Year:         2026,
			})
			require.NoError(t, err)
			if tt.want != "" {
				assert.Contains(t, html, tt.want)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, html, s)
			}
			assert.NotContains(t, html, "<b>Ada</b>")
			assert.True(t, strings.Contains(html, "&lt;b&gt;Ada&lt;/b&gt;"))
		})
	}
}

func TestPlanCatalog_Resolve(t *testing.T) {
	catalog := PlanCatalog{"price_a": "Alpha"}

	assert.Equal(t, "Alpha", catalog.Resolve("price_a", "ignored"))
	assert.Equal(t, "Label", catalog.Resolve("price_b", "Label"))
	assert.Equal(t, "Starter", catalog.Resolve("", ""))
	assert.Equal(t, "Starter", catalog.Resolve("price_b", "  "))
}
