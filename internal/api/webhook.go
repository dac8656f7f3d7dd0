package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/logger"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/metrics"
)

const (
	signatureHeader         = "Stripe-Signature"
	fallbackSignatureHeader = "X-Provider-Signature"
)

// webhookEnvelope is the provider event without its type-specific object.
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// handleWebhook verifies, decodes and dispatches a payment-provider webhook.
// Once the signature and JSON are accepted the delivery is always acknowledged.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.ForRequest(r.Context(), h.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("error reading webhook body", zap.Error(err))
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get(signatureHeader)
	if sigHeader == "" {
		sigHeader = r.Header.Get(fallbackSignatureHeader)
	}

	if h.verifier.Enabled() {
		if err := h.verifier.Verify(body, sigHeader); err != nil {
			log.Warn("webhook signature rejected", zap.Error(err))
			metrics.WebhookEvents.WithLabelValues("unknown", "rejected_signature").Inc()
			http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Warn("error decoding webhook JSON", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_json").Inc()
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ev := domain.NewInboundEvent(envelope.ID, envelope.Type, body, envelope.Data.Object, sigHeader, start)
	log = log.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.ProviderType))

	report, err := h.service.HandleEvent(r.Context(), ev)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			log.Warn("webhook event rejected", zap.Error(err))
			metrics.WebhookEvents.WithLabelValues(string(ev.Type), "malformed").Inc()
			http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
			return
		}
		log.Error("webhook handling failed", zap.Error(err))
	}

	result := "handled"
	switch {
	case report.Duplicate:
		result = "duplicate"
	case ev.Type == domain.EventOther:
		result = "ignored"
	case len(report.Failed()) > 0:
		result = "partial"
	}
	metrics.WebhookEvents.WithLabelValues(string(ev.Type), result).Inc()
	metrics.WebhookHandlingDuration.WithLabelValues(string(ev.Type)).Observe(time.Since(start).Seconds())

	log.Info("webhook processed", zap.String("result", result), zap.Duration("elapsed", time.Since(start)))
	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}
