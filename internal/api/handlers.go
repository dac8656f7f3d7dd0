/**
 * @description
 * This file contains the HTTP handler functions for the member endpoints.
 * Handlers parse incoming requests, call the service layer, and map its
 * results and errors onto HTTP responses.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/logger"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/store"
	"github.com/kendryah-htp/apps-on-purpose-netlify/pkg/signature"
)

const (
	maxBodyBytes   = 1 << 20
	loginRateScope = "login"
)

// Service is the application layer the handlers call into.
type Service interface {
	Login(ctx context.Context, email, password string) (*domain.LoginSession, error)
	SetPassword(ctx context.Context, inviteToken, newPassword string) error
	HandleEvent(ctx context.Context, ev domain.InboundEvent) (domain.HandleReport, error)
}

// Handler holds the application service and the request guards.
type Handler struct {
	service  Service
	verifier *signature.Verifier
	limiter  store.RateLimiter
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a new Handler. A nil or disabled verifier accepts
// unsigned webhooks; a nil limiter disables login rate limiting.
func NewHandler(service Service, verifier *signature.Verifier, limiter store.RateLimiter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		service:  service,
		verifier: verifier,
		limiter:  limiter,
		validate: validator.New(),
		logger:   log,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Success     bool               `json:"success"`
	AccessToken string             `json:"access_token"`
	User        domain.UserSummary `json:"user"`
}

// handleLogin handles password login for members.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := logger.ForRequest(r.Context(), h.logger)

	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	if h.limiter != nil {
		allowed, retryAfter, err := h.limiter.Consume(r.Context(), loginRateScope, clientIP(r)+"|"+req.Email)
		if err != nil {
			log.Warn("login rate limiter unavailable", zap.Error(err))
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respondWithError(w, http.StatusTooManyRequests, "Too many login attempts, please try again later")
			return
		}
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			respondWithError(w, http.StatusBadRequest, vErr.Message)
			return
		}
		log.Info("login failed", zap.Error(errors.Unwrap(err)))
		respondWithError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	respondWithJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		AccessToken: session.AccessToken(),
		User:        session.User,
	})
}

type setPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// handleSetPassword sets a member's password from an invite token.
func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, setPasswordValidationMessage(err))
		return
	}

	if err := h.service.SetPassword(r.Context(), req.Token, req.Password); err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			respondWithError(w, http.StatusBadRequest, vErr.Message)
			return
		}
		logger.ForRequest(r.Context(), h.logger).Warn("set password failed", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "Failed to set password")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Password set successfully",
	})
}

func setPasswordValidationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if fe.Field() == "Password" && fe.Tag() == "min" {
				return "Password must be at least 8 characters"
			}
		}
	}
	return "Token and password required"
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+signatureHeader+", "+fallbackSignatureHeader)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

// respondWithJSON is a helper function to write a JSON response.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
