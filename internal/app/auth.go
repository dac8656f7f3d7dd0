package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/metrics"
)

// Login authenticates a member with email and password.
// Provider rejections come back as *domain.AuthenticationError.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.LoginSession, error) {
	session, err := s.identity.PasswordLogin(ctx, email, password)
	if err != nil {
		result := "rejected"
		if domain.IsValidation(err) {
			result = "invalid"
		}
		metrics.LoginAttempts.WithLabelValues(result).Inc()

		var authErr *domain.AuthenticationError
		if errors.As(err, &authErr) {
			s.logger.Info("login rejected", zap.String("email", email), zap.NamedError("cause", authErr.Cause))
		}
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues("ok").Inc()
	s.logger.Info("login succeeded", zap.String("user_id", session.User.ID))
	return session, nil
}

// SetPassword sets the password of the account an invite token belongs to.
func (s *Service) SetPassword(ctx context.Context, inviteToken, newPassword string) error {
	err := s.identity.SetPassword(ctx, inviteToken, newPassword)
	switch {
	case err == nil:
		metrics.PasswordSets.WithLabelValues("ok").Inc()
		return nil
	case domain.IsValidation(err):
		metrics.PasswordSets.WithLabelValues("invalid").Inc()
		return err
	default:
		metrics.PasswordSets.WithLabelValues("failed").Inc()
		s.logger.Warn("set password failed", zap.Error(err))
		return err
	}
}
