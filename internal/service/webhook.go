package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
)

const serviceName = "keycloak-openfga-event-publisher"

// EventListener receives decoded Keycloak events
type EventListener interface {
	OnEvent(ctx context.Context, ev types.UserEvent)
	OnAdminEvent(ctx context.Context, ev *types.AdminEvent) (types.Outcome, error)
}

// WebhookService accepts Keycloak events over HTTP and hands them to the listener
type WebhookService struct {
	cfg      *config.ServiceConfig
	server   *http.Server
	router   *mux.Router
	listener EventListener
}

// NewWebhookService creates a new webhook service instance
func NewWebhookService(cfg *config.ServiceConfig, listener EventListener) *WebhookService {
	svc := &WebhookService{
		cfg:      cfg,
		router:   mux.NewRouter(),
		listener: listener,
	}

	svc.setupRoutes()

	svc.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      svc.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return svc
}

// setupRoutes configures the HTTP routes
func (s *WebhookService) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/events/admin", s.handleAdminEvent).Methods("POST")
	s.router.HandleFunc("/events", s.handleUserEvent).Methods("POST")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// Handler exposes the router, mostly for tests and embedding
func (s *WebhookService) Handler() http.Handler {
	return s.router
}

// Start starts the webhook service
func (s *WebhookService) Start() error {
	slog.Info("starting webhook service", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the webhook service
func (s *WebhookService) Shutdown(ctx context.Context) error {
	slog.InfoContext(ctx, "shutting down webhook service")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *WebhookService) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   serviceName,
	})
}

// handleAdminEvent translates one admin event. Translated events answer 200,
// skipped or dropped ones 202 and infrastructure failures 503 so the sender
// retries.
func (s *WebhookService) handleAdminEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var ev types.AdminEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		slog.WarnContext(r.Context(), "failed to parse admin event", "error", err)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	outcome, err := s.listener.OnAdminEvent(r.Context(), &ev)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "error",
			"event_id": ev.ID,
			"error":    err.Error(),
		})
		return
	}

	status := http.StatusAccepted
	if outcome.Status == types.StatusTranslated {
		status = http.StatusOK
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   outcome.Status,
		"event_id": ev.ID,
		"reason":   outcome.Reason,
		"batch":    outcome.Batch,
	})
}

// handleUserEvent accepts non-administrative events, which are never translated
func (s *WebhookService) handleUserEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var ev types.UserEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.listener.OnEvent(r.Context(), ev)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": types.StatusSkipped,
		"type":   ev.Type,
	})
}

// readBody reads the request body and checks its signature when configured
func (s *WebhookService) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to read request body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}

	// an empty secret never verifies, so a misconfigured service rejects everything
	if s.cfg.Webhook.VerifySignature {
		if !VerifySignature(s.cfg.Webhook.Secret, r.Header.Get(SignatureHeader), body) {
			slog.WarnContext(r.Context(), "invalid webhook signature", "path", r.URL.Path)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return nil, false
		}
	}

	return body, true
}

// SignatureHeader carries the hex HMAC-SHA256 of the body, optionally prefixed with "sha256="
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature checks signature against the HMAC-SHA256 of body
func VerifySignature(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}

	signature = strings.TrimPrefix(signature, "sha256=")

	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// loggingMiddleware logs all HTTP requests
func (s *WebhookService) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

// recoveryMiddleware recovers from panics and returns a 500 error
func (s *WebhookService) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(r.Context(), "panic recovered", "panic", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
