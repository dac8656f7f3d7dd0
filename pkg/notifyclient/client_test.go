package notifyclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
)

func TestSendEmail_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))

		var body sendEmailRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Shop <shop@example.com>", body.From)
		assert.Equal(t, []string{"buyer@x.com"}, body.To)
		assert.Equal(t, "Hello", body.Subject)
		assert.Equal(t, "<p>hi</p>", body.HTML)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_123"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "re_test", BaseURL: srv.URL}, nil)
	id, err := c.SendEmail(context.Background(), domain.Email{
		From:           "Shop <shop@example.com>",
		To:             []string{"buyer@x.com"},
		Subject:        "Hello",
		HTML:           "<p>hi</p>",
		IdempotencyKey: "key-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "msg_123", id)
}

func TestSendEmail_RejectedIsNotificationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from address"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "re_test", BaseURL: srv.URL + "/"}, nil)
	_, err := c.SendEmail(context.Background(), domain.Email{To: []string{"a@b.com"}})

	var nErr *NotificationError
	require.ErrorAs(t, err, &nErr)
	assert.Equal(t, http.StatusUnprocessableEntity, nErr.StatusCode)
	assert.Contains(t, nErr.Body, "invalid from address")
}

func TestSendEmail_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(Config{APIKey: "re_test", BaseURL: srv.URL}, nil)
	_, err := c.SendEmail(context.Background(), domain.Email{To: []string{"a@b.com"}})
	require.Error(t, err)

	var nErr *NotificationError
	assert.False(t, errors.As(err, &nErr))
}

func TestNewClient_DefaultsBaseURL(t *testing.T) {
	c := NewClient(Config{}, nil)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, defaultTimeout, c.httpClient.Timeout)
}

func TestSendOutboundWebhook_PostsJSON(t *testing.T) {
	received := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
	}))
	defer srv.Close()

	c := NewClient(Config{}, nil)
	c.SendOutboundWebhook(context.Background(), srv.URL, map[string]string{"eventType": "purchase_completed"})

	select {
	case body := <-received:
		assert.Equal(t, "purchase_completed", body["eventType"])
	case <-time.After(time.Second):
		t.Fatal("relay was not called")
	}
}

func TestSendOutboundWebhook_SwallowsFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{}, nil)

	assert.NotPanics(t, func() {
		c.SendOutboundWebhook(context.Background(), srv.URL, map[string]string{"a": "b"})
		c.SendOutboundWebhook(context.Background(), "http://127.0.0.1:1/unreachable", map[string]string{"a": "b"})
		c.SendOutboundWebhook(context.Background(), "://bad-url", map[string]string{"a": "b"})
		c.SendOutboundWebhook(context.Background(), srv.URL, func() {})
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewClient_NamesLoggerOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	c := NewClient(Config{}, zap.New(core))
	c.SendOutboundWebhook(context.Background(), srv.URL, map[string]string{"a": "b"})

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "notify", logs.All()[0].LoggerName)
	assert.Equal(t, "outbound webhook rejected", logs.All()[0].Message)
}
