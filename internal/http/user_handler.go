package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/application"
)

type userService interface {
	Register(ctx context.Context, params application.RegisterParams) (application.User, error)
	Me(ctx context.Context, principal application.Principal) (application.User, error)
	ListDoctors(ctx context.Context) ([]application.User, error)
	ListPendingDoctors(ctx context.Context, principal application.Principal) ([]application.User, error)
	ApproveDoctor(ctx context.Context, principal application.Principal, userID string) (application.User, error)
}

type UserHandler struct {
	service   userService
	responder responder
	logger    zerolog.Logger
}

func NewUserHandler(service userService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *UserHandler) log(ctx context.Context, operation string, attrs ...any) zerolog.Logger {
	return handlerLogger(ctx, h.logger, "UserHandler", operation, attrs...)
}

// Register handles POST /api/auth/register.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger := h.log(r.Context(), "Register", "error_kind", "bad_request")
		logger.Warn().Err(err).Msg("failed to decode register request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, errBadRequestBody)
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Name
	}
	logger := h.log(r.Context(), "Register", "apply_as_doctor", req.ApplyAsDoctor)

	user, err := h.service.Register(r.Context(), application.RegisterParams{
		Email:         req.Email,
		Password:      req.Password,
		DisplayName:   displayName,
		ApplyAsDoctor: req.ApplyAsDoctor,
	})
	if err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("registration failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.Info().Str("user_id", user.ID).Msg("user registered")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toUserDTO(user))
}

// Me handles GET /api/users/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.Me(r.Context(), principal)
	if err != nil {
		logger := h.log(r.Context(), "Me")
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("profile lookup failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toUserDTO(user))
}

// ListDoctors handles GET /api/doctors.
func (h *UserHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	doctors, err := h.service.ListDoctors(r.Context())
	if err != nil {
		logger := h.log(r.Context(), "ListDoctors")
		logger.Error().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("doctor list failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toUserDTOs(doctors))
}

// ListPendingDoctors handles GET /api/admin/doctors/pending.
func (h *UserHandler) ListPendingDoctors(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "ListPendingDoctors")
	users, err := h.service.ListPendingDoctors(r.Context(), principal)
	if err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("pending doctor list failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.Debug().Int("result_count", len(users)).Msg("pending doctors listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toUserDTOs(users))
}

// ApproveDoctor handles POST /api/admin/doctors/approve.
func (h *UserHandler) ApproveDoctor(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req approveDoctorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger := h.log(r.Context(), "ApproveDoctor", "error_kind", "bad_request")
		logger.Warn().Err(err).Msg("failed to decode approval request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "ApproveDoctor", "user_id", req.UserID)

	user, err := h.service.ApproveDoctor(r.Context(), principal, req.UserID)
	if err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("doctor approval failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.Info().Msg("doctor approved")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toUserDTO(user))
}

type registerRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	DisplayName   string `json:"displayName"`
	Name          string `json:"name"`
	ApplyAsDoctor bool   `json:"applyAsDoctor"`
}

type approveDoctorRequest struct {
	UserID string `json:"userId"`
}

type userDTO struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"`
	DoctorStatus string    `json:"doctorStatus,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toUserDTO(user application.User) userDTO {
	return userDTO{
		ID:           user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         string(user.Role),
		DoctorStatus: user.DoctorStatus,
		CreatedAt:    user.CreatedAt.UTC(),
		UpdatedAt:    user.UpdatedAt.UTC(),
	}
}

func toUserDTOs(users []application.User) []userDTO {
	out := make([]userDTO, 0, len(users))
	for _, user := range users {
		out = append(out, toUserDTO(user))
	}
	return out
}
