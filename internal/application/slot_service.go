package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/calendar"
	"github.com/example/clinic-scheduler/internal/persistence"
	"github.com/example/clinic-scheduler/internal/scheduler"
)

// SlotPolicy tunes slot generation.
type SlotPolicy struct {
	Duration time.Duration
	// PreserveBookedSlots keeps booked slots across regeneration and drops
	// new slots that would overlap them.
	PreserveBookedSlots bool
}

// DefaultSlotPolicy returns one hour slots with destructive regeneration.
func DefaultSlotPolicy() SlotPolicy {
	return SlotPolicy{Duration: scheduler.DefaultSlotDuration}
}

// SlotService turns doctor availability into bookable slots and manages
// reservations against them.
type SlotService struct {
	slots       persistence.SlotRepository
	users       persistence.UserRepository
	metrics     MetricsRecorder
	idGenerator func() string
	now         func() time.Time
	policy      SlotPolicy
	logger      zerolog.Logger
}

// NewSlotService wires dependencies for the slot service.
func NewSlotService(slots persistence.SlotRepository, users persistence.UserRepository, metrics MetricsRecorder, idGenerator func() string, now func() time.Time, policy SlotPolicy) *SlotService {
	return NewSlotServiceWithLogger(slots, users, metrics, idGenerator, now, policy, zerolog.Nop())
}

// NewSlotServiceWithLogger wires dependencies for the slot service with a logger.
func NewSlotServiceWithLogger(slots persistence.SlotRepository, users persistence.UserRepository, metrics MetricsRecorder, idGenerator func() string, now func() time.Time, policy SlotPolicy, logger zerolog.Logger) *SlotService {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	if policy.Duration < time.Minute || policy.Duration%time.Minute != 0 {
		if policy.Duration != 0 {
			logger.Warn().Dur("duration", policy.Duration).Msg("slot duration must be whole minutes, using default")
		}
		policy.Duration = scheduler.DefaultSlotDuration
	}
	return &SlotService{
		slots:       slots,
		users:       users,
		metrics:     metricsOrNop(metrics),
		idGenerator: idGenerator,
		now:         now,
		policy:      policy,
		logger:      logger,
	}
}

func (s *SlotService) loggerWith(ctx context.Context, operation string, attrs ...any) zerolog.Logger {
	return serviceLogger(ctx, s.logger, "SlotService", operation, attrs...)
}

// GenerateSlots replaces the doctor's slots for a day with slots cut from
// the declared ranges.
func (s *SlotService) GenerateSlots(ctx context.Context, params GenerateSlotsParams) (result GenerateSlotsResult, err error) {
	if s == nil {
		err = fmt.Errorf("SlotService is nil")
		return
	}
	if s.slots == nil || s.users == nil {
		err = fmt.Errorf("slot repositories not configured")
		return
	}

	doctorID := strings.TrimSpace(params.DoctorID)
	logger := s.loggerWith(ctx, "GenerateSlots",
		"principal_id", params.Principal.UserID,
		"doctor_id", doctorID,
		"date", strings.TrimSpace(params.Date),
		"range_count", len(params.Ranges),
	)
	defer func() {
		if err != nil {
			logFailure(logger, err, "slot generation failed")
			return
		}
		logger.Info().Int("created", result.Created).Msg("slots regenerated")
	}()

	if params.Principal.Role != RoleDoctor || params.Principal.UserID == "" || params.Principal.UserID != doctorID {
		err = ErrUnauthorized
		return
	}

	date, ranges, vErr := validateAvailability(doctorID, params.Date, params.Ranges)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var doctor persistence.User
	doctor, err = s.users.GetUser(ctx, doctorID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrDoctorNotFound
		}
		return
	}
	if doctor.Role != string(RoleDoctor) {
		err = ErrDoctorNotFound
		return
	}

	candidates := scheduler.SliceAll(ranges, s.policy.Duration)
	now := s.now().UTC()

	var inserted []persistence.Slot
	inserted, err = s.slots.ReplaceSlotsForDate(ctx, persistence.SlotReplacement{
		DoctorID:   doctorID,
		Date:       date.String(),
		KeepBooked: s.policy.PreserveBookedSlots,
		Build: func(kept []persistence.Slot) []persistence.Slot {
			fresh := candidates
			if len(kept) > 0 {
				fresh = scheduler.WithoutConflicts(toSchedulerSlots(kept), candidates)
			}
			records := make([]persistence.Slot, 0, len(fresh))
			for _, slot := range fresh {
				records = append(records, persistence.Slot{
					ID:          s.idGenerator(),
					DoctorID:    doctorID,
					Date:        date.String(),
					StartMinute: slot.Start.Minutes(),
					EndMinute:   slot.End.Minutes(),
					CreatedAt:   now,
					UpdatedAt:   now,
				})
			}
			return records
		},
	})
	if err != nil {
		return
	}

	s.metrics.SlotsGenerated(len(inserted))
	result = GenerateSlotsResult{Date: date, Created: len(inserted), Slots: toSlots(inserted)}
	return
}

func validateAvailability(doctorID, rawDate string, raw []TimeRange) (calendar.Date, []scheduler.Range, *ValidationError) {
	vErr := &ValidationError{}

	if doctorID == "" {
		vErr.add("doctorId", "doctor id is required")
	}

	date, err := calendar.ParseDate(rawDate)
	if err != nil {
		vErr.addCause("date", "date must be formatted as YYYY-MM-DD", ErrInvalidDate)
	}

	if len(raw) == 0 {
		vErr.addCause("slots", "at least one time range is required", ErrEmptyRanges)
		return date, nil, vErr
	}

	ranges := make([]scheduler.Range, 0, len(raw))
	for i, tr := range raw {
		field := fmt.Sprintf("slots[%d]", i)
		start, startErr := calendar.ParseTimeOfDay(tr.Start)
		end, endErr := calendar.ParseTimeOfDay(tr.End)
		if startErr != nil || endErr != nil {
			vErr.addCause(field, "start and end must be formatted as HH:MM", ErrInvalidRange)
			continue
		}
		r := scheduler.Range{Start: start, End: end}
		if r.Validate() != nil {
			vErr.addCause(field, "end time must be after start time", ErrInvalidRange)
			continue
		}
		ranges = append(ranges, r)
	}
	return date, ranges, vErr
}

// ReserveSlot books a free slot for the patient. Of several concurrent
// attempts exactly one succeeds.
func (s *SlotService) ReserveSlot(ctx context.Context, principal Principal, slotID string) (err error) {
	if s == nil {
		return fmt.Errorf("SlotService is nil")
	}
	if s.slots == nil {
		return fmt.Errorf("slot repository not configured")
	}

	slotID = strings.TrimSpace(slotID)
	logger := s.loggerWith(ctx, "ReserveSlot", "principal_id", principal.UserID, "slot_id", slotID)
	defer func() {
		s.metrics.SlotTransition("reserve", failureReason(err))
		if err != nil {
			logFailure(logger, err, "slot reservation failed")
			return
		}
		logger.Info().Msg("slot reserved")
	}()

	if principal.Role != RolePatient || principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if slotID == "" {
		err = ErrSlotNotFound
		return
	}

	err = s.slots.ReserveSlot(ctx, slotID, principal.UserID, s.now().UTC())
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		err = ErrSlotNotFound
	case errors.Is(err, persistence.ErrConflict):
		err = ErrSlotAlreadyBooked
	}
	return
}

// ReleaseSlot frees a slot held by the patient.
func (s *SlotService) ReleaseSlot(ctx context.Context, principal Principal, slotID string) (err error) {
	if s == nil {
		return fmt.Errorf("SlotService is nil")
	}
	if s.slots == nil {
		return fmt.Errorf("slot repository not configured")
	}

	slotID = strings.TrimSpace(slotID)
	logger := s.loggerWith(ctx, "ReleaseSlot", "principal_id", principal.UserID, "slot_id", slotID)
	defer func() {
		s.metrics.SlotTransition("release", failureReason(err))
		if err != nil {
			logFailure(logger, err, "slot release failed")
			return
		}
		logger.Info().Msg("slot released")
	}()

	if principal.Role != RolePatient || principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if slotID == "" {
		err = ErrSlotNotFound
		return
	}

	err = s.slots.ReleaseSlot(ctx, slotID, principal.UserID, s.now().UTC())
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		err = ErrSlotNotFound
	case errors.Is(err, persistence.ErrConflict):
		err = s.classifyReleaseMiss(ctx, slotID)
	}
	return
}

func (s *SlotService) classifyReleaseMiss(ctx context.Context, slotID string) error {
	slot, err := s.slots.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrSlotNotFound
		}
		return err
	}
	if !slot.IsBooked {
		return ErrSlotNotBooked
	}
	return ErrSlotNotOwner
}

// ListSlotsForDate returns the doctor's slots for a day ordered by start time.
func (s *SlotService) ListSlotsForDate(ctx context.Context, doctorID, rawDate string) ([]Slot, error) {
	if s == nil {
		return nil, fmt.Errorf("SlotService is nil")
	}
	if s.slots == nil {
		return nil, fmt.Errorf("slot repository not configured")
	}

	date, err := calendar.ParseDate(rawDate)
	if err != nil {
		vErr := &ValidationError{}
		vErr.addCause("date", "date must be formatted as YYYY-MM-DD", ErrInvalidDate)
		return nil, vErr
	}

	records, err := s.slots.ListSlotsForDate(ctx, strings.TrimSpace(doctorID), date.String())
	if err != nil {
		return nil, err
	}
	return toSlots(records), nil
}

func toSchedulerSlots(records []persistence.Slot) []scheduler.Slot {
	out := make([]scheduler.Slot, 0, len(records))
	for _, record := range records {
		out = append(out, scheduler.Slot{
			Start: calendar.TimeOfDay(record.StartMinute),
			End:   calendar.TimeOfDay(record.EndMinute),
		})
	}
	return out
}

func toSlots(records []persistence.Slot) []Slot {
	out := make([]Slot, 0, len(records))
	for _, record := range records {
		out = append(out, toSlot(record))
	}
	return out
}

func toSlot(record persistence.Slot) Slot {
	slot := Slot{
		ID:        record.ID,
		DoctorID:  record.DoctorID,
		Start:     calendar.TimeOfDay(record.StartMinute),
		End:       calendar.TimeOfDay(record.EndMinute),
		Booked:    record.IsBooked,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	if date, err := calendar.ParseDate(record.Date); err == nil {
		slot.Date = date
	}
	if record.PatientID != nil {
		slot.PatientID = *record.PatientID
	}
	return slot
}
