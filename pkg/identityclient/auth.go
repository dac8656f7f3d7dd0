package identityclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
)

// DefaultPlan is reported for users whose metadata carries no plan.
const DefaultPlan = "Starter"

var validate = validator.New()

type gotrueUser struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	RefreshToken string      `json:"refresh_token"`
	User         *gotrueUser `json:"user"`
}

type credentials struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// PasswordLogin exchanges email and password for a session. Every failure,
// including transport errors, is returned as *domain.AuthenticationError with
// the provider detail as its cause.
func (c *Client) PasswordLogin(ctx context.Context, email, password string) (*domain.LoginSession, error) {
	creds := credentials{Email: strings.TrimSpace(email), Password: password}
	if err := validate.Struct(creds); err != nil {
		return nil, domain.NewValidationError("email", "Email and password required")
	}

	var resp tokenResponse
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/auth/v1/token?grant_type=password",
		apiKey:  c.publicKey,
		payload: creds,
	}, &resp)
	if err != nil {
		c.logger.Info("password login rejected", zap.Error(err))
		return nil, &domain.AuthenticationError{Cause: err}
	}
	if resp.AccessToken == "" {
		return nil, &domain.AuthenticationError{Cause: &GatewayError{StatusCode: http.StatusOK, Message: "no access token in response"}}
	}

	session := &domain.LoginSession{
		Artifact: domain.LoginArtifact{Kind: domain.ArtifactSessionToken, Value: resp.AccessToken},
		User:     domain.UserSummary{Plan: DefaultPlan},
	}

	claims := tokenClaims(resp.AccessToken)
	if resp.ExpiresIn > 0 {
		d := time.Duration(resp.ExpiresIn) * time.Second
		session.Artifact.ExpiresHint = &d
	} else if claims != nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			d := time.Until(exp.Time)
			session.Artifact.ExpiresHint = &d
		}
	}

	if resp.User != nil {
		session.User.ID = resp.User.ID
		session.User.Email = resp.User.Email
		if plan, ok := resp.User.UserMetadata["plan"].(string); ok && plan != "" {
			session.User.Plan = plan
		}
	}
	if session.User.ID == "" && claims != nil {
		if sub, err := claims.GetSubject(); err == nil {
			session.User.ID = sub
		}
	}
	if session.User.Email == "" {
		session.User.Email = creds.Email
	}

	return session, nil
}

// tokenClaims reads the claims of an access token without checking its
// signature. The token has just been issued by the provider over TLS.
func tokenClaims(token string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

type passwordChange struct {
	Token    string `validate:"required"`
	Password string `validate:"required,min=8"`
}

// SetPassword sets the password of the account the invite token belongs to.
// The password rule is checked before any request is made.
func (c *Client) SetPassword(ctx context.Context, inviteToken, newPassword string) error {
	in := passwordChange{Token: strings.TrimSpace(inviteToken), Password: newPassword}
	if err := validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				if fe.Field() == "Password" && fe.Tag() == "min" {
					return domain.NewValidationError("password", "Password must be at least 8 characters")
				}
			}
		}
		return domain.NewValidationError("token", "Token and password required")
	}

	err := c.do(ctx, request{
		method:  http.MethodPut,
		path:    "/auth/v1/user",
		apiKey:  c.adminKey,
		bearer:  in.Token,
		payload: map[string]string{"password": in.Password},
	}, nil)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

type createUserRequest struct {
	Email        string            `json:"email"`
	EmailConfirm bool              `json:"email_confirm"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
}

type generateLinkRequest struct {
	Type       string `json:"type"`
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

type generateLinkResponse struct {
	ActionLink string `json:"action_link"`
	Properties struct {
		ActionLink string `json:"action_link"`
	} `json:"properties"`
}

func (r generateLinkResponse) link() string {
	if r.ActionLink != "" {
		return r.ActionLink
	}
	return r.Properties.ActionLink
}

// UpsertAccountAndGenerateMagicLink makes sure an account exists for req.Email
// and returns a sign-in link for it. It never fails: when the provider cannot
// issue a link the configured fallback link is returned instead.
func (c *Client) UpsertAccountAndGenerateMagicLink(ctx context.Context, req domain.AccountProvisionRequest) domain.MagicLinkResult {
	log := c.logger.With(zap.String("email", req.Email))

	if !c.AdminConfigured() {
		log.Warn("identity admin access not configured, using fallback link")
		return domain.Fallback(c.fallbackLink, false)
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.DisplayName != "" {
		metadata["full_name"] = req.DisplayName
	}

	created := true
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/admin/users",
		apiKey: c.adminKey,
		bearer: c.adminKey,
		payload: createUserRequest{
			Email:        req.Email,
			EmailConfirm: true,
			UserMetadata: metadata,
		},
	}, nil)
	if err != nil {
		created = false
		log.Info("create account failed, continuing with link generation", zap.Error(err))
	}

	var linkResp generateLinkResponse
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/admin/generate_link",
		apiKey: c.adminKey,
		bearer: c.adminKey,
		payload: generateLinkRequest{
			Type:       "magiclink",
			Email:      req.Email,
			RedirectTo: c.magicLinkRedirect,
		},
	}, &linkResp)
	if err != nil {
		log.Warn("magic link generation failed, using fallback link", zap.Error(err))
		return domain.Fallback(c.fallbackLink, created)
	}

	if link := linkResp.link(); link != "" {
		return domain.Obtained(link, created)
	}

	log.Warn("magic link response had no link, using fallback link")
	return domain.Fallback(c.fallbackLink, created)
}
