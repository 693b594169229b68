package application

import (
	"time"

	"github.com/example/clinic-scheduler/internal/calendar"
)

// Role is the authorisation role carried by users and access tokens.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Doctor application states.
const (
	DoctorStatusNone     = ""
	DoctorStatusPending  = "pending"
	DoctorStatusApproved = "approved"
)

// Revocation reasons recorded on sessions.
const (
	RevokeReasonLogout     = "logout"
	RevokeReasonAdmin      = "revoked_by_admin"
	RevokeReasonSuperseded = "superseded"
	RevokeReasonReuse      = "renewal_token_reuse"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID    string
	SessionID string
	Role      Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// User represents an account exposed by the application services.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Role         Role
	DoctorStatus string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterParams captures a self-service signup.
type RegisterParams struct {
	Email         string
	Password      string
	DisplayName   string
	ApplyAsDoctor bool
}

// CreateUserParams captures an operator-created account (CLI bootstrap).
type CreateUserParams struct {
	Email       string
	Password    string
	DisplayName string
	Role        Role
}

// IssueParams captures the data required to log a device in.
type IssueParams struct {
	Email      string
	Password   string
	DeviceID   string
	DeviceName string
}

// IssueResult is the credential pair handed to a freshly logged in device.
type IssueResult struct {
	User             User
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RenewalToken     string
	RenewalExpiresAt time.Time
	Role             Role
}

// RenewParams captures a renewal request.
type RenewParams struct {
	SessionID    string
	RenewalToken string
}

// RenewResult carries a fresh access token and the rotated renewal token.
type RenewResult struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RenewalToken     string
	RenewalExpiresAt time.Time
	Role             Role
}

// SessionSummary describes one device session for session management screens.
type SessionSummary struct {
	ID            string
	DeviceID      string
	DeviceName    string
	CreatedAt     time.Time
	LastRenewedAt *time.Time
	ExpiresAt     time.Time
	Revoked       bool
	Current       bool
}

// TimeRange is a raw "HH:MM" availability window as submitted by a doctor.
type TimeRange struct {
	Start string
	End   string
}

// GenerateSlotsParams wraps an availability declaration.
type GenerateSlotsParams struct {
	Principal Principal
	DoctorID  string
	Date      string
	Ranges    []TimeRange
}

// GenerateSlotsResult reports the outcome of a regeneration.
type GenerateSlotsResult struct {
	Date    calendar.Date
	Created int
	Slots   []Slot
}

// Slot is a bookable window of a doctor's day.
type Slot struct {
	ID        string
	DoctorID  string
	Date      calendar.Date
	Start     calendar.TimeOfDay
	End       calendar.TimeOfDay
	Booked    bool
	PatientID string
	CreatedAt time.Time
	UpdatedAt time.Time
}
