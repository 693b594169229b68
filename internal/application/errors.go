package application

import "errors"

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a unique attribute is already taken.
	ErrAlreadyExists = errors.New("application: already exists")

	ErrInvalidCredentials   = errors.New("application: invalid credentials")
	ErrSessionNotFound      = errors.New("application: session not found")
	ErrSessionRevoked       = errors.New("application: session revoked")
	ErrSessionExpired       = errors.New("application: session expired")
	ErrRenewalTokenMismatch = errors.New("application: renewal token mismatch")
	ErrAccessTokenExpired   = errors.New("application: access token expired")
	ErrInvalidAccessToken   = errors.New("application: invalid access token")

	ErrDoctorNotFound    = errors.New("application: doctor not found")
	ErrInvalidDate       = errors.New("application: invalid date")
	ErrEmptyRanges       = errors.New("application: time ranges required")
	ErrInvalidRange      = errors.New("application: invalid time range")
	ErrSlotNotFound      = errors.New("application: slot not found")
	ErrSlotAlreadyBooked = errors.New("application: slot already booked")
	ErrSlotNotOwner      = errors.New("application: slot booked by another patient")
	ErrSlotNotBooked     = errors.New("application: slot not booked")
)

// ValidationError captures field level validation issues that callers can surface to users.
// Err, when set, is the sentinel the failure corresponds to.
type ValidationError struct {
	FieldErrors map[string]string
	Err         error
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if v.Err != nil {
		return "validation failed: " + v.Err.Error()
	}
	return "validation failed"
}

// Unwrap exposes the sentinel so errors.Is(err, ErrInvalidDate) and friends work.
func (v *ValidationError) Unwrap() error {
	if v == nil {
		return nil
	}
	return v.Err
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// addCause records a field error and remembers the first sentinel seen.
func (v *ValidationError) addCause(field, message string, cause error) {
	v.add(field, message)
	if v.Err == nil {
		v.Err = cause
	}
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
	if v.Err == nil {
		v.Err = other.Err
	}
}
