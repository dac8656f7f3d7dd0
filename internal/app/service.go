/**
 * @description
 * This file contains the core business logic of the service. The `Service` struct
 * turns verified payment-provider events into account provisioning and outbound
 * notifications, and backs the login and set-password endpoints.
 *
 * Key features:
 * - Routes each event type to a fixed set of independent branches.
 * - Runs the branches concurrently and waits for all of them before answering,
 *   so the webhook acknowledgement is never blocked by a single failure.
 * - Skips side effects for event ids that were already handled.
 *
 * @dependencies
 * - github.com/sourcegraph/conc: result pool used as the fan-out join.
 * - github.com/google/uuid: idempotency keys for outbound email.
 * - internal/store, pkg/rabbitmq: de-duplication and the optional event bus.
 */

package app

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/config"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/metrics"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/store"
	"github.com/kendryah-htp/apps-on-purpose-netlify/pkg/rabbitmq"
)

// IdentityGateway is the identity provider as seen by the service.
type IdentityGateway interface {
	PasswordLogin(ctx context.Context, email, password string) (*domain.LoginSession, error)
	SetPassword(ctx context.Context, inviteToken, newPassword string) error
	UpsertAccountAndGenerateMagicLink(ctx context.Context, req domain.AccountProvisionRequest) domain.MagicLinkResult
}

// Notifier delivers email and relay notifications.
type Notifier interface {
	SendEmail(ctx context.Context, email domain.Email) (string, error)
	SendOutboundWebhook(ctx context.Context, url string, payload interface{})
}

var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://app.elvtsocial.xyz/webhooks"))

// Settings is the part of the configuration the service reads.
type Settings struct {
	Sender                     string
	NotifyEmail                string
	SupportEmail               string
	SiteURL                    string
	DashboardURL               string
	BillingPortalURL           string
	PlatformName               string
	RelayURL                   string
	IdentityIntegrationEnabled bool
	Plans                      PlanCatalog
}

// SettingsFromConfig extracts Settings from the loaded configuration.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		Sender:                     cfg.Sender(),
		NotifyEmail:                cfg.NotifyEmail,
		SupportEmail:               cfg.SupportEmail,
		SiteURL:                    cfg.SiteURL,
		DashboardURL:               cfg.DashboardURL(),
		BillingPortalURL:           cfg.BillingPortalURL,
		PlatformName:               cfg.PlatformName,
		RelayURL:                   cfg.OutboundRelayURL,
		IdentityIntegrationEnabled: cfg.IdentityAdminEnabled(),
		Plans:                      PlanCatalog(cfg.PlanNames),
	}
}

// Service provides the core business logic.
type Service struct {
	settings  Settings
	identity  IdentityGateway
	notifier  Notifier
	publisher rabbitmq.Publisher
	deduper   store.Deduper
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new service instance. publisher may be nil, which
// disables the event bus branch; a nil deduper gets an in-process one.
func NewService(settings Settings, identity IdentityGateway, notifier Notifier, publisher rabbitmq.Publisher, deduper store.Deduper, logger *zap.Logger) *Service {
	if deduper == nil {
		deduper = store.NewMemoryDeduper(store.DefaultMemoryDedupeWindow)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Plans == nil {
		settings.Plans = PlanCatalog(config.DefaultPlanNames)
	}
	return &Service{
		settings:  settings,
		identity:  identity,
		notifier:  notifier,
		publisher: publisher,
		deduper:   deduper,
		logger:    logger,
		now:       time.Now,
	}
}

// branch is one unit of fan-out work.
type branch struct {
	name string
	job  domain.NotificationJob
	// run is nil when the branch does not apply to this event.
	run func(ctx context.Context) error
}

// HandleEvent performs every side effect the event calls for and reports how
// each branch settled. The only error is domain.ErrMalformedEvent, returned
// before anything has been sent.
func (s *Service) HandleEvent(ctx context.Context, ev domain.InboundEvent) (domain.HandleReport, error) {
	report := domain.HandleReport{EventID: ev.ID, EventType: ev.Type}
	log := s.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.ProviderType),
	)

	var (
		branches []branch
		err      error
	)
	switch ev.Type {
	case domain.EventPurchaseCompleted:
		branches, err = s.purchaseBranches(ev, &report)
	case domain.EventSubscriptionCancelled:
		branches, err = s.cancellationBranches(ev)
	case domain.EventPaymentFailed:
		branches, err = s.paymentFailedBranches(ev)
	default:
		log.Debug("ignoring unhandled event type")
		return report, nil
	}
	if err != nil {
		return report, err
	}

	first, err := s.deduper.MarkProcessed(ctx, ev.ID, ev.ProviderType)
	if err != nil {
		log.Warn("event de-duplication unavailable, handling anyway", zap.Error(err))
	}
	if !first {
		log.Info("duplicate event delivery, skipping side effects")
		report.Duplicate = true
		return report, nil
	}

	report.Outcomes = s.fanOut(ctx, ev, branches, log)

	for _, o := range report.Outcomes {
		if o.Err != nil {
			log.Warn("branch failed", zap.String("branch", o.Branch), zap.Error(o.Err))
		}
	}
	log.Info("event handled",
		zap.Int("branches", len(report.Outcomes)),
		zap.Int("failed", len(report.Failed())),
	)
	return report, nil
}

// fanOut runs every applicable branch concurrently and waits for all of them.
func (s *Service) fanOut(ctx context.Context, ev domain.InboundEvent, branches []branch, log *zap.Logger) []domain.BranchOutcome {
	p := pool.NewWithResults[domain.BranchOutcome]()
	for _, b := range branches {
		b := b
		p.Go(func() domain.BranchOutcome {
			return s.runBranch(ctx, b, log)
		})
	}
	return p.Wait()
}

func (s *Service) runBranch(ctx context.Context, b branch, log *zap.Logger) (outcome domain.BranchOutcome) {
	outcome = domain.BranchOutcome{Branch: b.name, Job: b.job}
	if b.run == nil {
		outcome.Skipped = true
		metrics.BranchOutcomes.WithLabelValues(b.name, "skipped").Inc()
		return outcome
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("branch panicked", zap.String("branch", b.name), zap.Any("panic", r))
			outcome.Err = errors.New("branch panicked")
		}
		outcome.Duration = time.Since(start)
		result := "ok"
		if outcome.Err != nil {
			result = "failed"
		}
		metrics.BranchOutcomes.WithLabelValues(b.name, result).Inc()
	}()

	outcome.Err = b.run(ctx)
	return outcome
}

func (s *Service) idempotencyKey(eventID, branchName string) string {
	if eventID == "" {
		return ""
	}
	return uuid.NewSHA1(idempotencyNamespace, []byte(eventID+":"+branchName)).String()
}

func (s *Service) sendEmail(ctx context.Context, ev domain.InboundEvent, branchName, to, subject, html string) error {
	_, err := s.notifier.SendEmail(ctx, domain.Email{
		From:           s.settings.Sender,
		To:             []string{to},
		Subject:        subject,
		HTML:           html,
		IdempotencyKey: s.idempotencyKey(ev.ID, branchName),
	})
	return err
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func (s *Service) relayJob() domain.NotificationJob {
	return domain.NotificationJob{Channel: domain.ChannelOutboundWebhook, Recipient: s.settings.RelayURL}
}

func (s *Service) purchaseBranches(ev domain.InboundEvent, report *domain.HandleReport) ([]branch, error) {
	fact, err := purchaseFact(ev, s.settings.Plans)
	if err != nil {
		return nil, err
	}
	s.logger.Info("new sale",
		zap.String("event_id", ev.ID),
		zap.String("email", fact.CustomerEmail),
		zap.String("plan", fact.PlanDisplayName),
		zap.String("amount", fact.Amount()),
		zap.String("currency", fact.Currency),
	)

	welcome := branch{
		name: domain.BranchWelcome,
		job: domain.NotificationJob{
			Channel:   domain.ChannelEmail,
			Recipient: fact.CustomerEmail,
			TemplateData: map[string]string{
				"first_name": fact.FirstName(),
				"plan":       fact.PlanDisplayName,
			},
		},
	}
	if fact.CustomerEmail != "" {
		welcome.run = func(ctx context.Context) error {
			link := s.provisionAccount(ctx, fact)
			report.MagicLink = &link
			welcome.job.TemplateData["magic_link"] = link.Link()

			html, err := render(welcomeTemplate, welcomeData{
				FirstName:    fact.FirstName(),
				PlanName:     fact.PlanDisplayName,
				MagicLink:    link.Link(),
				Bonus:        bonusFor(fact.PlanDisplayName),
				SupportEmail: s.settings.SupportEmail,
				SiteURL:      s.settings.SiteURL,
				SiteHost:     siteHost(s.settings.SiteURL),
				Year:         s.now().Year(),
			})
			if err != nil {
				return err
			}
			return s.sendEmail(ctx, ev, domain.BranchWelcome, fact.CustomerEmail, welcomeSubject(fact.FirstName()), html)
		}
	}

	sale := branch{
		name: domain.BranchSaleNotice,
		job: domain.NotificationJob{
			Channel:   domain.ChannelEmail,
			Recipient: s.settings.NotifyEmail,
			TemplateData: map[string]string{
				"plan":   fact.PlanDisplayName,
				"amount": fact.Amount(),
			},
		},
		run: func(ctx context.Context) error {
			html, err := render(saleNoticeTemplate, saleNoticeData{
				Name:     fact.CustomerName,
				Email:    fact.CustomerEmail,
				Plan:     fact.PlanDisplayName,
				Amount:   fact.Amount(),
				Currency: fact.Currency,
				Time:     formatSaleTime(s.now()),
			})
			if err != nil {
				return err
			}
			return s.sendEmail(ctx, ev, domain.BranchSaleNotice, s.settings.NotifyEmail,
				saleNoticeSubject(fact.PlanDisplayName, fact.Amount(), fact.Currency), html)
		},
	}

	relay := branch{name: domain.BranchRelay, job: s.relayJob()}
	if s.settings.RelayURL != "" {
		relay.run = func(ctx context.Context) error {
			s.notifier.SendOutboundWebhook(ctx, s.settings.RelayURL, domain.PurchaseRelayPayload{
				EventType: string(domain.EventPurchaseCompleted),
				Platform:  s.settings.PlatformName,
				Email:     fact.CustomerEmail,
				Name:      fact.CustomerName,
				Plan:      fact.PlanDisplayName,
				Amount:    fact.Amount(),
				Currency:  fact.Currency,
				Timestamp: s.timestamp(),
			})
			return nil
		}
	}

	bus := branch{
		name: domain.BranchEventBus,
		job:  domain.NotificationJob{Channel: domain.ChannelEventBus, Recipient: rabbitmq.RoutingKeyPurchaseCompleted},
	}
	if s.publisher != nil {
		bus.run = func(ctx context.Context) error {
			return s.publisher.Publish(ctx, rabbitmq.RoutingKeyPurchaseCompleted, domain.PurchaseCompletedMessage{
				EventID:          ev.ID,
				Email:            fact.CustomerEmail,
				Name:             fact.CustomerName,
				Plan:             fact.PlanDisplayName,
				PlanID:           fact.PlanIdentifier,
				AmountMinorUnits: fact.AmountMinorUnits,
				Currency:         fact.Currency,
				OccurredAt:       s.timestamp(),
			})
		}
	}

	return []branch{welcome, sale, relay, bus}, nil
}

// provisionAccount makes sure the buyer has an account and returns the link
// to put in the welcome email. It never fails.
func (s *Service) provisionAccount(ctx context.Context, fact domain.PurchaseFact) domain.MagicLinkResult {
	var link domain.MagicLinkResult
	if !s.settings.IdentityIntegrationEnabled || s.identity == nil {
		link = domain.Fallback(s.settings.DashboardURL, false)
	} else {
		link = s.identity.UpsertAccountAndGenerateMagicLink(ctx, domain.AccountProvisionRequest{
			Email:       fact.CustomerEmail,
			DisplayName: fact.CustomerName,
			Metadata: map[string]string{
				"plan":         fact.PlanDisplayName,
				"purchased_at": s.timestamp(),
			},
		})
		if link.Link() == "" {
			link = domain.Fallback(s.settings.DashboardURL, link.AccountCreated)
		}
	}
	metrics.MagicLinks.WithLabelValues(string(link.Source)).Inc()
	return link
}

func (s *Service) cancellationBranches(ev domain.InboundEvent) ([]branch, error) {
	subscriptionID, customerID, err := cancelledCustomer(ev)
	if err != nil {
		return nil, err
	}

	relay := branch{name: domain.BranchRelay, job: s.relayJob()}
	if s.settings.RelayURL != "" {
		relay.run = func(ctx context.Context) error {
			s.notifier.SendOutboundWebhook(ctx, s.settings.RelayURL, domain.CancellationRelayPayload{
				EventType:        string(domain.EventSubscriptionCancelled),
				Platform:         s.settings.PlatformName,
				StripeCustomerID: customerID,
				Timestamp:        s.timestamp(),
			})
			return nil
		}
	}

	bus := branch{
		name: domain.BranchEventBus,
		job:  domain.NotificationJob{Channel: domain.ChannelEventBus, Recipient: rabbitmq.RoutingKeySubscriptionCancelled},
	}
	if s.publisher != nil {
		bus.run = func(ctx context.Context) error {
			return s.publisher.Publish(ctx, rabbitmq.RoutingKeySubscriptionCancelled, domain.SubscriptionCancelledMessage{
				EventID:          ev.ID,
				SubscriptionID:   subscriptionID,
				StripeCustomerID: customerID,
				OccurredAt:       s.timestamp(),
			})
		}
	}

	return []branch{relay, bus}, nil
}

func (s *Service) paymentFailedBranches(ev domain.InboundEvent) ([]branch, error) {
	email, err := failedInvoiceEmail(ev)
	if err != nil {
		return nil, err
	}

	notice := branch{
		name: domain.BranchPaymentIssue,
		job:  domain.NotificationJob{Channel: domain.ChannelEmail, Recipient: email},
	}
	if email != "" {
		notice.run = func(ctx context.Context) error {
			html, err := render(paymentIssueTemplate, paymentIssueData{
				BillingPortalURL: s.settings.BillingPortalURL,
				SupportEmail:     s.settings.SupportEmail,
			})
			if err != nil {
				return err
			}
			return s.sendEmail(ctx, ev, domain.BranchPaymentIssue, email, paymentIssueSubject, html)
		}
	}
	return []branch{notice}, nil
}

func siteHost(siteURL string) string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return siteURL
	}
	return u.Host
}
