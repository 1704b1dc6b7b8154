// Package web exposes the broker's HTTP surface.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
	"github.com/louisbranch/ssobroker/internal/services/broker/audit"
	"github.com/louisbranch/ssobroker/internal/services/broker/engine"
	"github.com/louisbranch/ssobroker/internal/services/broker/projection"
	"github.com/louisbranch/ssobroker/internal/services/broker/upstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

// Handler serves the broker's JSON endpoints and the OAuth login leg.
type Handler struct {
	engine      *engine.Engine
	registry    *upstream.Registry
	logger      *log.Logger
	tracer      trace.Tracer
	userInfoURL string
}

// Option adjusts a Handler.
type Option func(*Handler)

// WithRegistry enables the OAuth login and callback routes.
func WithRegistry(registry *upstream.Registry) Option {
	return func(h *Handler) {
		h.registry = registry
	}
}

// WithUserInfoURL overrides the provider profile endpoint for tests.
func WithUserInfoURL(url string) Option {
	return func(h *Handler) {
		h.userInfoURL = url
	}
}

// NewHandler creates the broker HTTP handler.
func NewHandler(eng *engine.Engine, logger *log.Logger, opts ...Option) *Handler {
	h := &Handler{
		engine:      eng,
		logger:      logger,
		tracer:      otel.Tracer("ssobroker/web"),
		userInfoURL: googleUserInfoURL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the broker's route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", h.handleExchange)
	mux.HandleFunc("POST /auth/verify", h.handleVerify)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/sessions", h.handleSessions)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.registry != nil {
		mux.HandleFunc("GET /auth/login/{app}", h.handleLogin)
		mux.HandleFunc("GET /auth/callback/{app}", h.handleCallback)
	}
	return mux
}

type exchangeRequest struct {
	TemporalToken string `json:"temporal_token"`
}

type exchangeResponse struct {
	Token     string                    `json:"token"`
	ExpiresAt time.Time                 `json:"expires_at"`
	User      projection.PublicIdentity `json:"user"`
}

func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "web.exchange")
	defer span.End()

	var req exchangeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.engine.ExchangeTemporalForBearer(ctx, req.TemporalToken, clientFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, exchangeResponse{
		Token:     result.BearerCredential,
		ExpiresAt: result.ExpiresAt,
		User:      result.Identity,
	})
}

type verifyRequest struct {
	Token    string `json:"token"`
	UniqueID string `json:"unique_id"`
}

type verifyResponse struct {
	User      projection.PublicIdentity `json:"user"`
	ExpiresAt time.Time                 `json:"expires_at"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "web.verify")
	defer span.End()

	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	credential := bearerOr(r, req.Token)

	result, err := h.engine.VerifyAndExtend(ctx, credential, req.UniqueID, clientFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		User:      result.Identity,
		ExpiresAt: result.ExpiresAt,
	})
}

type logoutRequest struct {
	Token string `json:"token"`
}

type logoutResponse struct {
	Revoked         bool `json:"revoked"`
	UpstreamRevoked bool `json:"upstream_revoked"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "web.logout")
	defer span.End()

	var req logoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	credential := bearerOr(r, req.Token)

	result, err := h.engine.Revoke(ctx, credential, clientFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, logoutResponse{
		Revoked:         true,
		UpstreamRevoked: result.UpstreamRevoked,
	})
}

type sessionView struct {
	ID          string    `json:"id"`
	AppID       string    `json:"app_id,omitempty"`
	ClientIP    string    `json:"client_ip,omitempty"`
	ClientAgent string    `json:"client_agent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type sessionsResponse struct {
	Sessions []sessionView `json:"sessions"`
}

// handleSessions authenticates like verify does, so listing sessions also
// slides the caller's own window.
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "web.sessions")
	defer span.End()

	result, err := h.engine.VerifyAndExtend(ctx, bearerOr(r, ""), "", clientFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	sessions, err := h.engine.ActiveSessions(ctx, result.Identity.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, sessionView{
			ID:          session.ID,
			AppID:       session.AppID,
			ClientIP:    session.ClientIP,
			ClientAgent: session.ClientAgent,
			CreatedAt:   session.CreatedAt,
			ExpiresAt:   session.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: views})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody tolerates an empty body; endpoints that accept the credential
// in the Authorization header have nothing else to send.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeInvalidToken, "request body is not valid JSON", err)
	}
	return nil
}

// bearerOr prefers the Authorization header over a body field.
func bearerOr(r *http.Request, fallback string) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return fallback
}

// clientFromRequest extracts audit attribution, honoring the first
// X-Forwarded-For hop when present.
func clientFromRequest(r *http.Request) audit.Client {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if trimmed := strings.TrimSpace(first); trimmed != "" {
			ip = trimmed
		}
	}
	return audit.Client{IP: ip, Agent: r.UserAgent()}
}
