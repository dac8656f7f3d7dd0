package app

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
)

// --- Mocks for Dependencies ---

type MockIdentityGateway struct{ mock.Mock }

func (m *MockIdentityGateway) PasswordLogin(ctx context.Context, email, password string) (*domain.LoginSession, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LoginSession), args.Error(1)
}

func (m *MockIdentityGateway) SetPassword(ctx context.Context, inviteToken, newPassword string) error {
	args := m.Called(ctx, inviteToken, newPassword)
	return args.Error(0)
}

func (m *MockIdentityGateway) UpsertAccountAndGenerateMagicLink(ctx context.Context, req domain.AccountProvisionRequest) domain.MagicLinkResult {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.MagicLinkResult)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) SendEmail(ctx context.Context, email domain.Email) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *MockNotifier) SendOutboundWebhook(ctx context.Context, url string, payload interface{}) {
	m.Called(ctx, url, payload)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	args := m.Called(ctx, routingKey, body)
	return args.Error(0)
}
