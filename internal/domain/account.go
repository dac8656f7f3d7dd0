package domain

import (
	"fmt"
	"time"
)

// PurchaseFact is what the service needs to know about a completed checkout.
type PurchaseFact struct {
	SessionID        string
	CustomerEmail    string
	CustomerName     string
	AmountMinorUnits int64
	Currency         string // ISO-4217, upper case
	PlanIdentifier   string // provider price id, may be empty
	PlanDisplayName  string
}

// FirstName returns the first word of the customer name.
func (p PurchaseFact) FirstName() string {
	for i, r := range p.CustomerName {
		if r == ' ' {
			return p.CustomerName[:i]
		}
	}
	return p.CustomerName
}

// Amount renders the amount in major units with two decimals, e.g. "297.00".
func (p PurchaseFact) Amount() string {
	sign := ""
	minor := p.AmountMinorUnits
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// AccountProvisionRequest asks the identity provider to make sure an account exists.
// An already existing account is a success path.
type AccountProvisionRequest struct {
	Email       string
	DisplayName string
	Metadata    map[string]string
}

// LoginArtifactKind tells how a LoginArtifact authenticates its holder.
type LoginArtifactKind string

const (
	ArtifactMagicLink    LoginArtifactKind = "magic_link"
	ArtifactSessionToken LoginArtifactKind = "session_token"
)

// LoginArtifact is a credential produced by the identity provider.
type LoginArtifact struct {
	Kind        LoginArtifactKind
	Value       string
	ExpiresHint *time.Duration
}

// MagicLinkSource records whether a magic link came from the identity provider
// or is the configured fallback destination.
type MagicLinkSource string

const (
	LinkObtained MagicLinkSource = "obtained"
	LinkFallback MagicLinkSource = "fallback"
)

// MagicLinkResult is the outcome of account provisioning. It is never an error:
// either the provider issued a link, or the caller gets the fallback URL.
type MagicLinkResult struct {
	Source   MagicLinkSource
	Artifact LoginArtifact
	// AccountCreated is false when the create call failed, usually because the
	// account already exists.
	AccountCreated bool
}

// Obtained wraps a provider-issued link.
func Obtained(link string, accountCreated bool) MagicLinkResult {
	return MagicLinkResult{
		Source:         LinkObtained,
		Artifact:       LoginArtifact{Kind: ArtifactMagicLink, Value: link},
		AccountCreated: accountCreated,
	}
}

// Fallback wraps the default destination used when no link could be issued.
func Fallback(defaultLink string, accountCreated bool) MagicLinkResult {
	return MagicLinkResult{
		Source:         LinkFallback,
		Artifact:       LoginArtifact{Kind: ArtifactMagicLink, Value: defaultLink},
		AccountCreated: accountCreated,
	}
}

// Link returns the URL to embed in an email.
func (r MagicLinkResult) Link() string {
	return r.Artifact.Value
}

// UserSummary is the subset of the identity provider's user returned to callers.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Plan  string `json:"plan"`
}

// LoginSession is the result of a successful password login.
type LoginSession struct {
	Artifact LoginArtifact
	User     UserSummary
}

// AccessToken returns the bearer token of the session.
func (s LoginSession) AccessToken() string {
	return s.Artifact.Value
}
