package application

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/logging"
)

// Error kinds reported in logs and metrics.
const (
	KindValidation      = "validation"
	KindNotFound        = "not_found"
	KindConflict        = "conflict"
	KindUnauthenticated = "unauthenticated"
	KindUnauthorized    = "unauthorized"
	KindUnexpected      = "unexpected"
)

func serviceLogger(ctx context.Context, base zerolog.Logger, serviceName, operation string, attrs ...any) zerolog.Logger {
	logger := base
	if fromCtx := logging.FromContext(ctx); fromCtx != nil {
		logger = *fromCtx
	}

	lc := logger.With().Str("service", serviceName)
	if operation != "" {
		lc = lc.Str("operation", operation)
	}
	if len(attrs) > 0 {
		lc = lc.Fields(attrs)
	}
	return lc.Logger()
}

// logFailure logs caller mistakes at warn and everything else at error.
func logFailure(logger zerolog.Logger, err error, msg string) {
	kind := ErrorKind(err)
	event := logger.Warn()
	if kind == KindUnexpected {
		event = logger.Error()
	}
	event.Err(err).Str("error_kind", kind).Msg(msg)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return KindValidation
	}

	switch {
	case errors.Is(err, ErrInvalidDate), errors.Is(err, ErrEmptyRanges), errors.Is(err, ErrInvalidRange):
		return KindValidation
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccessTokenExpired), errors.Is(err, ErrInvalidAccessToken):
		return KindUnauthenticated
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrSlotNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrRenewalTokenMismatch),
		errors.Is(err, ErrSlotAlreadyBooked),
		errors.Is(err, ErrSlotNotOwner),
		errors.Is(err, ErrSlotNotBooked):
		return KindConflict
	}
	return KindUnexpected
}

// failureReason gives the fine grained label used for renewal and
// reservation metrics.
func failureReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrRenewalTokenMismatch):
		return "renewal_token_mismatch"
	case errors.Is(err, ErrSlotNotFound):
		return "slot_not_found"
	case errors.Is(err, ErrSlotAlreadyBooked):
		return "already_booked"
	case errors.Is(err, ErrSlotNotOwner):
		return "not_owner"
	case errors.Is(err, ErrSlotNotBooked):
		return "not_booked"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	return ErrorKind(err)
}
