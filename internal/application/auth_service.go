package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/persistence"
)

// DefaultSessionTTL is the lifetime of a renewal token.
const DefaultSessionTTL = 7 * 24 * time.Hour

// DefaultReuseGrace is how long a just rotated renewal token is tolerated.
const DefaultReuseGrace = 30 * time.Second

// AuthPolicy tunes session handling.
type AuthPolicy struct {
	SessionTTL time.Duration
	// RevokeOnReuse revokes a session when the renewal token replaced by its
	// last rotation is presented again after ReuseGrace has passed. Tokens the
	// session never issued are rejected without revoking.
	RevokeOnReuse bool
	// ReuseGrace is the window after a rotation in which the replaced token is
	// answered with a mismatch only. Concurrent renewals from one device land
	// here.
	ReuseGrace time.Duration
}

// DefaultAuthPolicy returns the policy used when nothing is configured.
func DefaultAuthPolicy() AuthPolicy {
	return AuthPolicy{SessionTTL: DefaultSessionTTL, RevokeOnReuse: true, ReuseGrace: DefaultReuseGrace}
}

// AuthService issues, renews, and revokes per-device sessions and validates
// the access tokens minted for them.
type AuthService struct {
	users            persistence.UserRepository
	sessions         persistence.SessionRepository
	tokens           *AccessTokenIssuer
	status           SessionStatusCache
	metrics          MetricsRecorder
	verifyPassword   PasswordVerifier
	idGenerator      func() string
	renewalGenerator func() (string, error)
	now              func() time.Time
	policy           AuthPolicy
	logger           zerolog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(users persistence.UserRepository, sessions persistence.SessionRepository, tokens *AccessTokenIssuer, status SessionStatusCache, metrics MetricsRecorder, now func() time.Time, policy AuthPolicy) *AuthService {
	return NewAuthServiceWithLogger(users, sessions, tokens, status, metrics, now, policy, zerolog.Nop())
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(users persistence.UserRepository, sessions persistence.SessionRepository, tokens *AccessTokenIssuer, status SessionStatusCache, metrics MetricsRecorder, now func() time.Time, policy AuthPolicy, logger zerolog.Logger) *AuthService {
	if now == nil {
		now = time.Now
	}
	if policy.SessionTTL <= 0 {
		policy.SessionTTL = DefaultSessionTTL
	}
	if policy.ReuseGrace < 0 {
		policy.ReuseGrace = 0
	}
	return &AuthService{
		users:            users,
		sessions:         sessions,
		tokens:           tokens,
		status:           status,
		metrics:          metricsOrNop(metrics),
		verifyPassword:   VerifyPassword,
		idGenerator:      uuid.NewString,
		renewalGenerator: NewRenewalToken,
		now:              now,
		policy:           policy,
		logger:           logger,
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) zerolog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

func (s *AuthService) configured() error {
	if s.users == nil || s.sessions == nil {
		return fmt.Errorf("auth repositories not configured")
	}
	if s.tokens == nil {
		return fmt.Errorf("access token issuer not configured")
	}
	return nil
}

// Issue verifies credentials and opens a session for the device. Any live
// session of the same user and device is superseded.
func (s *AuthService) Issue(ctx context.Context, params IssueParams) (result IssueResult, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if err = s.configured(); err != nil {
		return
	}

	email := strings.ToLower(strings.TrimSpace(params.Email))
	deviceID := strings.TrimSpace(params.DeviceID)

	logger := s.loggerWith(ctx, "Issue", "email", email, "device_id", deviceID)
	var superseded []string
	defer func() {
		if err != nil {
			logFailure(logger, err, "session issue failed")
			return
		}
		logger.Info().
			Str("user_id", result.User.ID).
			Str("session_id", result.SessionID).
			Strs("superseded", superseded).
			Msg("session issued")
	}()

	if email == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}
	if deviceID == "" {
		vErr := &ValidationError{}
		vErr.add("deviceId", "device id is required")
		err = vErr
		return
	}

	var record persistence.User
	record, err = s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
		}
		return
	}
	if err = s.verifyPassword(record.PasswordHash, params.Password); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			logger.Error().Err(err).Str("user_id", record.ID).Msg("stored password hash unusable")
		}
		err = ErrInvalidCredentials
		return
	}

	now := s.now().UTC()
	if err = s.sessions.DeleteExpiredSessions(ctx, now.Add(-s.policy.SessionTTL)); err != nil {
		return
	}

	var renewalToken string
	renewalToken, err = s.renewalGenerator()
	if err != nil {
		err = fmt.Errorf("generate renewal token: %w", err)
		return
	}

	session := persistence.Session{
		ID:          s.idGenerator(),
		UserID:      record.ID,
		DeviceID:    deviceID,
		DeviceName:  strings.TrimSpace(params.DeviceName),
		RenewalHash: HashRenewalToken(renewalToken),
		Version:     1,
		ExpiresAt:   now.Add(s.policy.SessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	session, superseded, err = s.sessions.CreateSession(ctx, session)
	if err != nil {
		return
	}
	for _, id := range superseded {
		s.markRevoked(ctx, logger, id)
		s.metrics.SessionRevoked(RevokeReasonSuperseded)
	}

	role := Role(record.Role)
	var accessToken string
	var accessExpiresAt time.Time
	accessToken, accessExpiresAt, err = s.tokens.Issue(record.ID, session.ID, role)
	if err != nil {
		return
	}
	s.markActive(ctx, logger, session.ID)
	s.metrics.SessionIssued()

	result = IssueResult{
		User:             toUser(record),
		SessionID:        session.ID,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RenewalToken:     renewalToken,
		RenewalExpiresAt: session.ExpiresAt,
		Role:             role,
	}
	return
}

// Renew exchanges a renewal token for a new access token and rotates the
// renewal token. The presented token is single use.
func (s *AuthService) Renew(ctx context.Context, params RenewParams) (result RenewResult, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if err = s.configured(); err != nil {
		return
	}

	sessionID := strings.TrimSpace(params.SessionID)
	logger := s.loggerWith(ctx, "Renew", "session_id", sessionID)
	defer func() {
		if err != nil {
			s.metrics.SessionRenewalFailed(failureReason(err))
			logFailure(logger, err, "session renewal failed")
			return
		}
		s.metrics.SessionRenewed()
		logger.Info().Str("role", string(result.Role)).Msg("session renewed")
	}()

	if sessionID == "" {
		err = ErrSessionNotFound
		return
	}

	var session persistence.Session
	session, err = s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrSessionNotFound
		}
		return
	}

	now := s.now().UTC()
	if session.RevokedAt != nil {
		err = ErrSessionRevoked
		return
	}
	if !session.ExpiresAt.After(now) {
		err = ErrSessionExpired
		return
	}

	if params.RenewalToken == "" || !renewalTokenMatches(session.RenewalHash, params.RenewalToken) {
		if s.reusedAfterGrace(session, params.RenewalToken, now) {
			s.revokeForReuse(ctx, logger, session.ID, now)
		}
		err = ErrRenewalTokenMismatch
		return
	}

	var next string
	next, err = s.renewalGenerator()
	if err != nil {
		err = fmt.Errorf("generate renewal token: %w", err)
		return
	}

	session, err = s.sessions.RotateRenewal(ctx, persistence.RenewalRotation{
		SessionID:     session.ID,
		PresentedHash: session.RenewalHash,
		NextHash:      HashRenewalToken(next),
		ExpiresAt:     now.Add(s.policy.SessionTTL),
		RenewedAt:     now,
	})
	if err != nil {
		err = s.classifyRotationMiss(ctx, sessionID, err)
		return
	}

	var record persistence.User
	record, err = s.users.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrSessionNotFound
		}
		return
	}

	role := Role(record.Role)
	var accessToken string
	var accessExpiresAt time.Time
	accessToken, accessExpiresAt, err = s.tokens.Issue(record.ID, session.ID, role)
	if err != nil {
		return
	}
	s.markActive(ctx, logger, session.ID)

	result = RenewResult{
		SessionID:        session.ID,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RenewalToken:     next,
		RenewalExpiresAt: session.ExpiresAt,
		Role:             role,
	}
	return
}

// classifyRotationMiss explains why the compare-and-swap did not apply. A
// concurrent renewal that won the race leaves the session live; the loser is
// told its token is stale without revoking the session.
func (s *AuthService) classifyRotationMiss(ctx context.Context, sessionID string, cause error) error {
	switch {
	case errors.Is(cause, persistence.ErrNotFound):
		return ErrSessionNotFound
	case !errors.Is(cause, persistence.ErrConflict):
		return cause
	}

	current, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if current.RevokedAt != nil {
		return ErrSessionRevoked
	}
	return ErrRenewalTokenMismatch
}

// reusedAfterGrace reports whether token is the one replaced by the session's
// last rotation and arrived after the reuse grace window closed.
func (s *AuthService) reusedAfterGrace(session persistence.Session, token string, now time.Time) bool {
	if !s.policy.RevokeOnReuse || token == "" || session.PreviousHash == "" {
		return false
	}
	if !renewalTokenMatches(session.PreviousHash, token) {
		return false
	}
	if session.LastRenewedAt != nil && now.Sub(*session.LastRenewedAt) <= s.policy.ReuseGrace {
		return false
	}
	return true
}

func (s *AuthService) revokeForReuse(ctx context.Context, logger zerolog.Logger, sessionID string, at time.Time) {
	session, err := s.sessions.RevokeSession(ctx, sessionID, at, RevokeReasonReuse)
	if err != nil {
		logger.Error().Err(err).Msg("failed to revoke session after renewal token reuse")
		return
	}
	s.markRevoked(ctx, logger, sessionID)
	if session.RevokeReason == RevokeReasonReuse {
		s.metrics.SessionRevoked(RevokeReasonReuse)
	}
	logger.Warn().Str("user_id", session.UserID).Msg("session revoked after renewal token reuse")
}

// Revoke ends a session. Owners may revoke their own sessions and admins may
// revoke any. Revoking a revoked session succeeds.
func (s *AuthService) Revoke(ctx context.Context, principal Principal, sessionID string) (err error) {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}
	if err = s.configured(); err != nil {
		return err
	}

	sessionID = strings.TrimSpace(sessionID)
	logger := s.loggerWith(ctx, "Revoke", "principal_id", principal.UserID, "session_id", sessionID)
	var reason string
	defer func() {
		if err != nil {
			logFailure(logger, err, "session revocation failed")
			return
		}
		logger.Info().Str("reason", reason).Msg("session revoked")
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if sessionID == "" {
		err = ErrSessionNotFound
		return
	}

	var session persistence.Session
	session, err = s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrSessionNotFound
		}
		return
	}

	reason = RevokeReasonLogout
	if session.UserID != principal.UserID {
		if !principal.IsAdmin() {
			err = ErrUnauthorized
			return
		}
		reason = RevokeReasonAdmin
	}

	alreadyRevoked := session.RevokedAt != nil
	if !alreadyRevoked {
		if _, err = s.sessions.RevokeSession(ctx, sessionID, s.now().UTC(), reason); err != nil {
			return
		}
		s.metrics.SessionRevoked(reason)
	}

	if s.status != nil {
		if cacheErr := s.status.MarkRevoked(ctx, sessionID); cacheErr != nil {
			err = fmt.Errorf("session revoked but status cache update failed: %w", cacheErr)
			return
		}
	}
	return nil
}

// ListSessions returns the sessions of userID, newest first. An empty userID
// means the principal's own sessions.
func (s *AuthService) ListSessions(ctx context.Context, principal Principal, userID string) (summaries []SessionSummary, err error) {
	if s == nil {
		return nil, fmt.Errorf("AuthService is nil")
	}
	if err = s.configured(); err != nil {
		return nil, err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = principal.UserID
	}

	logger := s.loggerWith(ctx, "ListSessions", "principal_id", principal.UserID, "user_id", userID)
	defer func() {
		if err != nil {
			logFailure(logger, err, "list sessions failed")
			return
		}
		logger.Debug().Int("count", len(summaries)).Msg("sessions listed")
	}()

	if principal.UserID == "" || (userID != principal.UserID && !principal.IsAdmin()) {
		err = ErrUnauthorized
		return
	}

	var sessions []persistence.Session
	sessions, err = s.sessions.ListSessionsForUser(ctx, userID)
	if err != nil {
		return
	}

	summaries = make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, SessionSummary{
			ID:            session.ID,
			DeviceID:      session.DeviceID,
			DeviceName:    session.DeviceName,
			CreatedAt:     session.CreatedAt,
			LastRenewedAt: session.LastRenewedAt,
			ExpiresAt:     session.ExpiresAt,
			Revoked:       session.RevokedAt != nil,
			Current:       session.ID == principal.SessionID,
		})
	}
	return
}

// ValidateAccess verifies an access token and confirms its session has not
// been revoked.
func (s *AuthService) ValidateAccess(ctx context.Context, token string) (principal Principal, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ValidateAccess")
	defer func() {
		if err != nil {
			if ErrorKind(err) == KindUnexpected {
				logFailure(logger, err, "access validation failed")
				return
			}
			logger.Debug().Err(err).Msg("access rejected")
		}
	}()

	var claims AccessClaims
	claims, err = s.tokens.Parse(strings.TrimSpace(token))
	if err != nil {
		return
	}

	var revoked bool
	revoked, err = s.sessionRevoked(ctx, logger, claims.SessionID)
	if err != nil {
		return
	}
	if revoked {
		err = ErrSessionRevoked
		return
	}

	principal = Principal{UserID: claims.Subject, SessionID: claims.SessionID, Role: claims.Role}
	return
}

func (s *AuthService) sessionRevoked(ctx context.Context, logger zerolog.Logger, sessionID string) (bool, error) {
	if s.status != nil {
		revoked, found, err := s.status.Lookup(ctx, sessionID)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("session status cache lookup failed")
		case found:
			return revoked, nil
		}
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if session.RevokedAt != nil {
		s.markRevoked(ctx, logger, sessionID)
		return true, nil
	}
	s.markActive(ctx, logger, sessionID)
	return false, nil
}

func (s *AuthService) markActive(ctx context.Context, logger zerolog.Logger, sessionID string) {
	if s.status == nil {
		return
	}
	if err := s.status.MarkActive(ctx, sessionID); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to cache session status")
	}
}

func (s *AuthService) markRevoked(ctx context.Context, logger zerolog.Logger, sessionID string) {
	if s.status == nil {
		return
	}
	if err := s.status.MarkRevoked(ctx, sessionID); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to cache session revocation")
	}
}

func toUser(record persistence.User) User {
	return User{
		ID:           record.ID,
		Email:        record.Email,
		DisplayName:  record.DisplayName,
		Role:         Role(record.Role),
		DoctorStatus: record.DoctorStatus,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}
