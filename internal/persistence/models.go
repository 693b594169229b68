package persistence

import "time"

// User is an account row. Role is one of patient, doctor or admin.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	DoctorStatus string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is a per-device renewal session. Only the SHA-256 digest of the
// renewal token is stored. PreviousHash holds the digest rotated away by the
// most recent renewal.
type Session struct {
	ID            string
	UserID        string
	DeviceID      string
	DeviceName    string
	RenewalHash   string
	PreviousHash  string
	Version       int64
	ExpiresAt     time.Time
	LastRenewedAt *time.Time
	RevokedAt     *time.Time
	RevokeReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the session is neither revoked nor expired at the given instant.
func (s Session) Active(at time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(at)
}

// RenewalRotation describes a compare-and-swap of a session's renewal token.
type RenewalRotation struct {
	SessionID     string
	PresentedHash string
	NextHash      string
	ExpiresAt     time.Time
	RenewedAt     time.Time
}

// Slot is a bookable appointment window. Date is "YYYY-MM-DD"; start and end
// are minutes since midnight.
type Slot struct {
	ID          string
	DoctorID    string
	Date        string
	StartMinute int
	EndMinute   int
	IsBooked    bool
	PatientID   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SlotReplacement describes a regeneration of one doctor's slots for one day.
// When KeepBooked is set, booked slots survive and Build receives them so it
// can avoid overlaps; otherwise every slot of the day is deleted and Build
// receives nil.
type SlotReplacement struct {
	DoctorID   string
	Date       string
	KeepBooked bool
	Build      func(kept []Slot) []Slot
}
