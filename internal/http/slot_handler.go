package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/application"
)

type slotService interface {
	GenerateSlots(ctx context.Context, params application.GenerateSlotsParams) (application.GenerateSlotsResult, error)
	ListSlotsForDate(ctx context.Context, doctorID, rawDate string) ([]application.Slot, error)
	ReserveSlot(ctx context.Context, principal application.Principal, slotID string) error
	ReleaseSlot(ctx context.Context, principal application.Principal, slotID string) error
}

type SlotHandler struct {
	service   slotService
	responder responder
	logger    zerolog.Logger
}

func NewSlotHandler(service slotService, logger zerolog.Logger) *SlotHandler {
	return &SlotHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *SlotHandler) log(ctx context.Context, operation string, attrs ...any) zerolog.Logger {
	return handlerLogger(ctx, h.logger, "SlotHandler", operation, attrs...)
}

// Generate handles POST /api/doctor/availability/generate.
func (h *SlotHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req generateSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger := h.log(r.Context(), "Generate", "error_kind", "bad_request")
		logger.Warn().Err(err).Msg("failed to decode availability request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Generate", "doctor_id", req.DoctorID, "date", req.Date)

	ranges := make([]application.TimeRange, 0, len(req.Slots))
	for _, s := range req.Slots {
		ranges = append(ranges, application.TimeRange{Start: s.Start, End: s.End})
	}

	result, err := h.service.GenerateSlots(r.Context(), application.GenerateSlotsParams{
		Principal: principal,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		Ranges:    ranges,
	})
	if err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("slot generation failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.Info().Int("created", result.Created).Msg("slots regenerated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, generateSlotsResponse{
		Message:      "Slots regenerated successfully",
		Date:         result.Date.String(),
		CreatedSlots: result.Created,
	})
}

// List handles GET /api/doctors/{doctorId}/slots?date=YYYY-MM-DD.
func (h *SlotHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	doctorID := chi.URLParam(r, "doctorId")
	date := r.URL.Query().Get("date")

	slots, err := h.service.ListSlotsForDate(r.Context(), doctorID, date)
	if err != nil {
		logger := h.log(r.Context(), "List", "doctor_id", doctorID, "date", date)
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("slot list failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]slotDTO, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotDTO{
			SlotID: s.ID,
			Start:  s.Start.String(),
			End:    s.End.String(),
			Booked: s.Booked,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, out)
}

// Reserve handles POST /api/slots/{slotId}/reserve.
func (h *SlotHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Reserve", func(ctx context.Context, principal application.Principal, slotID string) error {
		return h.service.ReserveSlot(ctx, principal, slotID)
	})
}

// Release handles POST /api/slots/{slotId}/release.
func (h *SlotHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Release", func(ctx context.Context, principal application.Principal, slotID string) error {
		return h.service.ReleaseSlot(ctx, principal, slotID)
	})
}

func (h *SlotHandler) transition(w http.ResponseWriter, r *http.Request, operation string, apply func(context.Context, application.Principal, string) error) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	slotID := chi.URLParam(r, "slotId")
	logger := h.log(r.Context(), operation, "slot_id", slotID)

	if err := apply(r.Context(), principal, slotID); err != nil {
		logger.Warn().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("slot transition failed")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type availabilityRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type generateSlotsRequest struct {
	DoctorID string              `json:"doctorId"`
	Date     string              `json:"date"`
	Slots    []availabilityRange `json:"slots"`
}

type generateSlotsResponse struct {
	Message      string `json:"message"`
	Date         string `json:"date"`
	CreatedSlots int    `json:"createdSlots"`
}

type slotDTO struct {
	SlotID string `json:"slotId"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Booked bool   `json:"booked"`
}
