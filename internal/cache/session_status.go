package cache

import (
	"context"
	"errors"
	"time"
)

const sessionStatusPrefix = "session-status"

const (
	statusActive  = "active"
	statusRevoked = "revoked"
)

// SessionStatusStore records whether sessions are live so that access token
// validation can skip the database. Revoked markers must outlive every access
// token minted for the session, so revokedTTL should be at least the access
// token lifetime.
type SessionStatusStore struct {
	cache      Cache
	activeTTL  time.Duration
	revokedTTL time.Duration
}

// NewSessionStatusStore wraps c.
func NewSessionStatusStore(c Cache, activeTTL, revokedTTL time.Duration) *SessionStatusStore {
	if activeTTL <= 0 {
		activeTTL = 30 * time.Second
	}
	if revokedTTL <= 0 {
		revokedTTL = time.Hour
	}
	return &SessionStatusStore{cache: c, activeTTL: activeTTL, revokedTTL: revokedTTL}
}

// Lookup reports the cached status. found is false on a miss.
func (s *SessionStatusStore) Lookup(ctx context.Context, sessionID string) (revoked, found bool, err error) {
	raw, err := s.cache.Get(ctx, Key(sessionStatusPrefix, sessionID))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, false, nil
		}
		return false, false, err
	}
	switch string(raw) {
	case statusRevoked:
		return true, true, nil
	case statusActive:
		return false, true, nil
	}
	return false, false, nil
}

// MarkActive caches a live session for the active TTL.
func (s *SessionStatusStore) MarkActive(ctx context.Context, sessionID string) error {
	return s.cache.Set(ctx, Key(sessionStatusPrefix, sessionID), []byte(statusActive), s.activeTTL)
}

// MarkRevoked caches a revoked session for the revoked TTL.
func (s *SessionStatusStore) MarkRevoked(ctx context.Context, sessionID string) error {
	return s.cache.Set(ctx, Key(sessionStatusPrefix, sessionID), []byte(statusRevoked), s.revokedTTL)
}
