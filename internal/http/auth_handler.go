package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/application"
)

type authService interface {
	Issue(ctx context.Context, params application.IssueParams) (application.IssueResult, error)
	Renew(ctx context.Context, params application.RenewParams) (application.RenewResult, error)
	Revoke(ctx context.Context, principal application.Principal, sessionID string) error
	ListSessions(ctx context.Context, principal application.Principal, userID string) ([]application.SessionSummary, error)
}

type AuthHandler struct {
	service   authService
	responder responder
	logger    zerolog.Logger
}

func NewAuthHandler(service authService, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *AuthHandler) log(ctx context.Context, operation string, attrs ...any) zerolog.Logger {
	return handlerLogger(ctx, h.logger, "AuthHandler", operation, attrs...)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger := h.log(r.Context(), "Login", "error_kind", "bad_request")
		logger.Warn().Err(err).Msg("failed to decode login request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Login", "device_id", req.DeviceID)

	result, err := h.service.Issue(r.Context(), application.IssueParams{
		Email:      req.Email,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("login rejected")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.Info().Str("user_id", result.User.ID).Str("session_id", result.SessionID).Msg("user logged in")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, loginResponse{
		credentialsResponse: credentialsResponse{
			AccessToken:           result.AccessToken,
			AccessTokenExpiresAt:  result.AccessExpiresAt.UTC(),
			RefreshToken:          result.RenewalToken,
			RefreshTokenExpiresAt: result.RenewalExpiresAt.UTC(),
			SessionID:             result.SessionID,
			Role:                  string(result.Role),
		},
		User: toUserDTO(result.User),
	})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger := h.log(r.Context(), "Refresh", "error_kind", "bad_request")
		logger.Warn().Err(err).Msg("failed to decode refresh request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Refresh", "session_id", req.SessionID)

	result, err := h.service.Renew(r.Context(), application.RenewParams{
		SessionID:    req.SessionID,
		RenewalToken: req.RefreshToken,
	})
	if err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("renewal rejected")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.Debug().Msg("session renewed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, credentialsResponse{
		AccessToken:           result.AccessToken,
		AccessTokenExpiresAt:  result.AccessExpiresAt.UTC(),
		RefreshToken:          result.RenewalToken,
		RefreshTokenExpiresAt: result.RenewalExpiresAt.UTC(),
		SessionID:             result.SessionID,
		Role:                  string(result.Role),
	})
}

// Logout handles POST /api/auth/logout. The body may name a session; the
// session behind the access token is used otherwise.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger := h.log(r.Context(), "Logout", "error_kind", "bad_request")
		logger.Warn().Err(err).Msg("failed to decode logout request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, errBadRequestBody)
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = principal.SessionID
	}

	h.revoke(w, r, "Logout", principal, sessionID)
}

// RevokeSession handles DELETE /api/auth/sessions/{sessionId}.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	h.revoke(w, r, "RevokeSession", principal, chi.URLParam(r, "sessionId"))
}

func (h *AuthHandler) revoke(w http.ResponseWriter, r *http.Request, operation string, principal application.Principal, sessionID string) {
	logger := h.log(r.Context(), operation, "session_id", sessionID)

	if err := h.service.Revoke(r.Context(), principal, sessionID); err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("session revocation failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.Info().Msg("session revoked")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// ListSessions handles GET /api/auth/sessions.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	userID := r.URL.Query().Get("userId")
	logger := h.log(r.Context(), "ListSessions", "user_id", userID)

	sessions, err := h.service.ListSessions(r.Context(), principal, userID)
	if err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("session list failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionDTO{
			SessionID:     s.ID,
			DeviceID:      s.DeviceID,
			DeviceName:    s.DeviceName,
			CreatedAt:     s.CreatedAt.UTC(),
			LastRenewedAt: s.LastRenewedAt,
			ExpiresAt:     s.ExpiresAt.UTC(),
			Revoked:       s.Revoked,
			Current:       s.Current,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, out)
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type refreshRequest struct {
	SessionID    string `json:"sessionId"`
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

type credentialsResponse struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	SessionID             string    `json:"sessionId"`
	Role                  string    `json:"role"`
}

type loginResponse struct {
	credentialsResponse
	User userDTO `json:"user"`
}

type sessionDTO struct {
	SessionID     string     `json:"sessionId"`
	DeviceID      string     `json:"deviceId"`
	DeviceName    string     `json:"deviceName"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastRenewedAt *time.Time `json:"lastRenewedAt,omitempty"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	Revoked       bool       `json:"revoked"`
	Current       bool       `json:"current"`
}
