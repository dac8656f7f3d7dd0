/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, then normalises the result into an immutable Config value that is
 * injected into every component at startup.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults of the storefront this service was built for.
const (
	DefaultSiteURL          = "https://app.elvtsocial.xyz"
	DefaultFromEmail        = "re@elvt.social"
	DefaultFromName         = "ELVT Social — Apps on Purpose"
	DefaultNotifyEmail      = "kendryah@highticketpurpose.com"
	DefaultSupportEmail     = "support@elvt.social"
	DefaultBillingPortalURL = "https://billing.stripe.com/p/login/aEUg2v0XIdoRfgk3cc"
	DefaultPlatformName     = "apps-on-purpose"
	DefaultRedisKeyPrefix   = "aop"
	DefaultExchange         = "commerce_events"
)

// DefaultPlanNames maps the storefront's price ids to plan display names.
var DefaultPlanNames = map[string]string{
	"price_1T3gqo0490AThCZFXMpe0xwZ": "Starter",
	"price_1T3gqr0490AThCZFJxTNqvs6": "Creator License",
	"price_1T3gqu0490AThCZF5tE4mu2d": "Creator License (Activation)",
	"price_1T3gqx0490AThCZFe2kX0xWF": "Agency",
	"price_1T3gr00490AThCZFKwMqWz6j": "Agency (Activation)",
}

// Config holds all the configuration variables for the service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogEnv     string `mapstructure:"LOG_ENV"`

	IdentityBaseURL            string `mapstructure:"SUPABASE_URL"`
	IdentityPublicKey          string `mapstructure:"SUPABASE_ANON_KEY"`
	IdentityAdminKey           string `mapstructure:"SUPABASE_SERVICE_KEY"`
	IdentityIntegrationEnabled bool   `mapstructure:"IDENTITY_INTEGRATION_ENABLED"`

	EmailAPIKey  string `mapstructure:"RESEND_API_KEY"`
	EmailBaseURL string `mapstructure:"RESEND_BASE_URL"`

	WebhookSigningSecret    string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	WebhookToleranceSeconds int    `mapstructure:"WEBHOOK_TOLERANCE_SECONDS"`
	AllowUnsignedWebhooks   bool   `mapstructure:"ALLOW_UNSIGNED_WEBHOOKS"`
	OutboundRelayURL        string `mapstructure:"GHL_WEBHOOK_URL"`

	FromEmail        string `mapstructure:"FROM_EMAIL"`
	FromName         string `mapstructure:"FROM_NAME"`
	NotifyEmail      string `mapstructure:"NOTIFY_EMAIL"`
	SiteURL          string `mapstructure:"SITE_URL"`
	SupportEmail     string `mapstructure:"SUPPORT_EMAIL"`
	BillingPortalURL string `mapstructure:"BILLING_PORTAL_URL"`
	PlatformName     string `mapstructure:"PLATFORM_NAME"`
	PlanNamesRaw     string `mapstructure:"PLAN_NAMES"`

	HTTPClientTimeoutSeconds int `mapstructure:"HTTP_CLIENT_TIMEOUT_SECONDS"`

	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix          string `mapstructure:"REDIS_KEY_PREFIX"`
	WebhookDedupeTTLMinutes int    `mapstructure:"WEBHOOK_DEDUPE_TTL_MINUTES"`
	LoginRateLimitPerMinute int    `mapstructure:"LOGIN_RATE_LIMIT_PER_MINUTE"`

	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`

	// PlanNames is DefaultPlanNames overlaid with PLAN_NAMES entries.
	PlanNames map[string]string `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_ENV", "production")
	viper.SetDefault("IDENTITY_INTEGRATION_ENABLED", true)
	viper.SetDefault("WEBHOOK_TOLERANCE_SECONDS", 300)
	viper.SetDefault("ALLOW_UNSIGNED_WEBHOOKS", false)
	viper.SetDefault("FROM_EMAIL", DefaultFromEmail)
	viper.SetDefault("FROM_NAME", DefaultFromName)
	viper.SetDefault("NOTIFY_EMAIL", DefaultNotifyEmail)
	viper.SetDefault("SITE_URL", DefaultSiteURL)
	viper.SetDefault("SUPPORT_EMAIL", DefaultSupportEmail)
	viper.SetDefault("BILLING_PORTAL_URL", DefaultBillingPortalURL)
	viper.SetDefault("PLATFORM_NAME", DefaultPlatformName)
	viper.SetDefault("HTTP_CLIENT_TIMEOUT_SECONDS", 15)
	viper.SetDefault("REDIS_KEY_PREFIX", DefaultRedisKeyPrefix)
	viper.SetDefault("WEBHOOK_DEDUPE_TTL_MINUTES", 1440)
	viper.SetDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("RABBITMQ_EXCHANGE", DefaultExchange)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("LOG_ENV", "LOG_ENV", "APP_ENV")
	_ = viper.BindEnv("SUPABASE_URL", "SUPABASE_URL", "IDENTITY_BASE_URL")
	_ = viper.BindEnv("SUPABASE_ANON_KEY", "SUPABASE_ANON_KEY", "IDENTITY_PUBLIC_KEY")
	_ = viper.BindEnv("SUPABASE_SERVICE_KEY", "SUPABASE_SERVICE_KEY", "SUPABASE_SERVICE_ROLE_KEY", "IDENTITY_ADMIN_KEY")
	_ = viper.BindEnv("IDENTITY_INTEGRATION_ENABLED")
	_ = viper.BindEnv("RESEND_API_KEY", "RESEND_API_KEY", "EMAIL_API_KEY")
	_ = viper.BindEnv("RESEND_BASE_URL")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET", "WEBHOOK_SIGNING_SECRET")
	_ = viper.BindEnv("WEBHOOK_TOLERANCE_SECONDS")
	_ = viper.BindEnv("ALLOW_UNSIGNED_WEBHOOKS")
	_ = viper.BindEnv("GHL_WEBHOOK_URL", "GHL_WEBHOOK_URL", "OUTBOUND_RELAY_URL")
	_ = viper.BindEnv("FROM_EMAIL")
	_ = viper.BindEnv("FROM_NAME")
	_ = viper.BindEnv("NOTIFY_EMAIL")
	_ = viper.BindEnv("SITE_URL")
	_ = viper.BindEnv("SUPPORT_EMAIL")
	_ = viper.BindEnv("BILLING_PORTAL_URL")
	_ = viper.BindEnv("PLATFORM_NAME")
	_ = viper.BindEnv("PLAN_NAMES")
	_ = viper.BindEnv("HTTP_CLIENT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("WEBHOOK_DEDUPE_TTL_MINUTES")
	_ = viper.BindEnv("LOGIN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("RABBITMQ_EXCHANGE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.normalize()

	config.PlanNames, err = ParsePlanNames(config.PlanNamesRaw)
	if err != nil {
		return config, err
	}

	return config, nil
}

func (c *Config) normalize() {
	trim := func(dst *string, fallback string) {
		*dst = strings.Trim(strings.TrimSpace(*dst), "\"'")
		if *dst == "" {
			*dst = fallback
		}
	}

	trim(&c.ServerPort, "8080")
	trim(&c.LogEnv, "production")
	trim(&c.IdentityBaseURL, "")
	c.IdentityBaseURL = strings.TrimSuffix(c.IdentityBaseURL, "/")
	trim(&c.IdentityPublicKey, "")
	trim(&c.IdentityAdminKey, "")
	trim(&c.EmailAPIKey, "")
	trim(&c.EmailBaseURL, "")
	trim(&c.WebhookSigningSecret, "")
	trim(&c.OutboundRelayURL, "")
	trim(&c.FromEmail, DefaultFromEmail)
	trim(&c.FromName, DefaultFromName)
	trim(&c.NotifyEmail, DefaultNotifyEmail)
	trim(&c.SiteURL, DefaultSiteURL)
	c.SiteURL = strings.TrimSuffix(c.SiteURL, "/")
	trim(&c.SupportEmail, DefaultSupportEmail)
	trim(&c.BillingPortalURL, DefaultBillingPortalURL)
	trim(&c.PlatformName, DefaultPlatformName)
	trim(&c.RedisURL, "")
	trim(&c.RedisKeyPrefix, DefaultRedisKeyPrefix)
	trim(&c.RabbitMQURL, "")
	trim(&c.RabbitMQExchange, DefaultExchange)

	if c.WebhookToleranceSeconds <= 0 {
		c.WebhookToleranceSeconds = 300
	}
	if c.HTTPClientTimeoutSeconds <= 0 {
		c.HTTPClientTimeoutSeconds = 15
	}
	if c.WebhookDedupeTTLMinutes <= 0 {
		c.WebhookDedupeTTLMinutes = 1440
	}
	if c.LoginRateLimitPerMinute < 0 {
		c.LoginRateLimitPerMinute = 0
	}
}

// ParsePlanNames overlays "price_id=Display Name" pairs, separated by commas,
// on DefaultPlanNames.
func ParsePlanNames(raw string) (map[string]string, error) {
	names := make(map[string]string, len(DefaultPlanNames))
	for id, name := range DefaultPlanNames {
		names[id] = name
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, name, ok := strings.Cut(entry, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			return nil, fmt.Errorf("invalid PLAN_NAMES entry %q: expected price_id=Name", entry)
		}
		names[id] = name
	}
	return names, nil
}

// Validate reports configuration that would leave the service unable to do its job.
func (c Config) Validate() error {
	var problems []string

	if c.WebhookSigningSecret == "" && !c.AllowUnsignedWebhooks {
		problems = append(problems, "STRIPE_WEBHOOK_SECRET is required (set ALLOW_UNSIGNED_WEBHOOKS=true to accept unsigned webhooks)")
	}
	if c.EmailAPIKey == "" {
		problems = append(problems, "RESEND_API_KEY is required")
	}
	if c.FromEmail == "" {
		problems = append(problems, "FROM_EMAIL is required")
	}
	if c.IdentityBaseURL == "" {
		problems = append(problems, "SUPABASE_URL is required")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}

// IdentityAdminEnabled reports whether account provisioning can call the identity provider.
func (c Config) IdentityAdminEnabled() bool {
	return c.IdentityIntegrationEnabled && c.IdentityBaseURL != "" && c.IdentityAdminKey != ""
}

// Sender renders the From header of outbound email.
func (c Config) Sender() string {
	if c.FromName == "" {
		return c.FromEmail
	}
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromEmail)
}

// DashboardURL is where buyers land when no magic link is available.
func (c Config) DashboardURL() string {
	return c.SiteURL + "/dashboard"
}

func (c Config) WebhookTolerance() time.Duration {
	return time.Duration(c.WebhookToleranceSeconds) * time.Second
}

func (c Config) HTTPClientTimeout() time.Duration {
	return time.Duration(c.HTTPClientTimeoutSeconds) * time.Second
}

func (c Config) WebhookDedupeTTL() time.Duration {
	return time.Duration(c.WebhookDedupeTTLMinutes) * time.Minute
}
