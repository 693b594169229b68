package persistence

import (
	"context"
	"time"
)

// UserRepository exposes account storage.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsersByRole(ctx context.Context, role string) ([]User, error)
	ListUsersByDoctorStatus(ctx context.Context, status string) ([]User, error)
}

// SessionRepository stores renewal sessions.
type SessionRepository interface {
	// CreateSession revokes any active session for the same user and device
	// and inserts the new one in a single transaction. The identifiers of the
	// superseded sessions are returned.
	CreateSession(ctx context.Context, session Session) (created Session, superseded []string, err error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessionsForUser(ctx context.Context, userID string) ([]Session, error)
	// RotateRenewal swaps the renewal hash only if the presented hash still
	// matches and the session is not revoked. ErrConflict reports a miss.
	RotateRenewal(ctx context.Context, rotation RenewalRotation) (Session, error)
	// RevokeSession marks the session revoked. Revoking an already revoked
	// session leaves the original timestamp and reason untouched.
	RevokeSession(ctx context.Context, id string, revokedAt time.Time, reason string) (Session, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// SlotRepository stores appointment slots.
type SlotRepository interface {
	// ReplaceSlotsForDate deletes and regenerates a doctor's slots for one day
	// atomically and returns the inserted slots.
	ReplaceSlotsForDate(ctx context.Context, replacement SlotReplacement) ([]Slot, error)
	GetSlot(ctx context.Context, id string) (Slot, error)
	// ListSlotsForDate returns slots ordered by start time.
	ListSlotsForDate(ctx context.Context, doctorID, date string) ([]Slot, error)
	// ReserveSlot books a free slot. ErrConflict is returned when it is already booked.
	ReserveSlot(ctx context.Context, id, patientID string, at time.Time) error
	// ReleaseSlot frees a slot held by patientID. ErrConflict is returned when
	// the slot is free or held by someone else.
	ReleaseSlot(ctx context.Context, id, patientID string, at time.Time) error
}
