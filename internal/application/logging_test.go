package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/example/clinic-scheduler/internal/logging"
)

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var baseBuf, ctxBuf bytes.Buffer
	base := zerolog.New(&baseBuf)
	ctx := logging.ContextWithLogger(context.Background(), zerolog.New(&ctxBuf).With().Str("request_id", "r1").Logger())

	logger := serviceLogger(ctx, base, "AuthService", "Issue", "email", "a@example.com")
	logger.Info().Msg("hello")

	assert.Empty(t, baseBuf.String())
	assert.Contains(t, ctxBuf.String(), `"request_id":"r1"`)
	assert.Contains(t, ctxBuf.String(), `"service":"AuthService"`)
	assert.Contains(t, ctxBuf.String(), `"operation":"Issue"`)
	assert.Contains(t, ctxBuf.String(), `"email":"a@example.com"`)

	logger = serviceLogger(context.Background(), base, "SlotService", "")
	logger.Info().Msg("fallback")
	assert.Contains(t, baseBuf.String(), `"service":"SlotService"`)
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ValidationError{Err: ErrInvalidDate}, KindValidation},
		{ErrEmptyRanges, KindValidation},
		{ErrUnauthorized, KindUnauthorized},
		{ErrInvalidCredentials, KindUnauthenticated},
		{fmt.Errorf("wrapped: %w", ErrAccessTokenExpired), KindUnauthenticated},
		{ErrSlotNotFound, KindNotFound},
		{ErrDoctorNotFound, KindNotFound},
		{ErrSlotAlreadyBooked, KindConflict},
		{ErrRenewalTokenMismatch, KindConflict},
		{ErrSessionRevoked, KindConflict},
		{errors.New("disk full"), KindUnexpected},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorKind(tc.err), "%v", tc.err)
	}
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", failureReason(nil))
	assert.Equal(t, "renewal_token_mismatch", failureReason(ErrRenewalTokenMismatch))
	assert.Equal(t, "already_booked", failureReason(ErrSlotAlreadyBooked))
	assert.Equal(t, KindUnexpected, failureReason(errors.New("boom")))
}
