package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinic-scheduler/internal/persistence"
)

const sessionColumns = `id, user_id, device_id, device_name, renewal_hash, previous_hash, version,
	expires_at, last_renewed_at, revoked_at, revoke_reason, created_at, updated_at`

// SupersededReason is recorded on sessions replaced by a newer login from the same device.
const SupersededReason = "superseded"

// createAttempts bounds retries when two logins from one device race past
// the supersede step and collide on the live session index.
const createAttempts = 3

// SessionRepository implements persistence.SessionRepository on PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// CreateSession supersedes any live session of the same user and device and
// stores the new one.
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.Session) (persistence.Session, []string, error) {
	if session.ID == "" || session.UserID == "" || strings.TrimSpace(session.DeviceID) == "" || session.RenewalHash == "" {
		return persistence.Session{}, nil, persistence.ErrConstraintViolation
	}

	session = normalizeSession(session)
	if session.Version == 0 {
		session.Version = 1
	}

	var (
		superseded []string
		err        error
	)
	for attempt := 0; attempt < createAttempts; attempt++ {
		superseded, err = r.createOnce(ctx, session)
		if err == nil || !violatesConstraint(err, liveSessionIndex) {
			break
		}
	}
	if err != nil {
		return persistence.Session{}, nil, mapError(err)
	}
	return session, superseded, nil
}

func (r *SessionRepository) createOnce(ctx context.Context, session persistence.Session) ([]string, error) {
	var superseded []string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE sessions
			SET revoked_at = $1, revoke_reason = $2, updated_at = $1
			WHERE user_id = $3 AND device_id = $4 AND revoked_at IS NULL
			RETURNING id
		`, session.CreatedAt, SupersededReason, session.UserID, session.DeviceID)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		superseded = ids

		_, err = tx.Exec(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			session.ID,
			session.UserID,
			session.DeviceID,
			session.DeviceName,
			session.RenewalHash,
			session.PreviousHash,
			session.Version,
			session.ExpiresAt,
			session.LastRenewedAt,
			session.RevokedAt,
			session.RevokeReason,
			session.CreatedAt,
			session.UpdatedAt,
		)
		return err
	})
	return superseded, err
}

// GetSession retrieves a session by identifier.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	if strings.TrimSpace(id) == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// ListSessionsForUser returns the user's sessions, newest first.
func (r *SessionRepository) ListSessionsForUser(ctx context.Context, userID string) ([]persistence.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanSession)
}

// RotateRenewal swaps the renewal hash in a single conditional UPDATE and
// keeps the replaced digest in previous_hash.
func (r *SessionRepository) RotateRenewal(ctx context.Context, rotation persistence.RenewalRotation) (persistence.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET previous_hash = renewal_hash, renewal_hash = $1, version = version + 1, expires_at = $2, last_renewed_at = $3, updated_at = $3
		WHERE id = $4 AND renewal_hash = $5 AND revoked_at IS NULL
		RETURNING `+sessionColumns,
		rotation.NextHash,
		rotation.ExpiresAt.UTC(),
		rotation.RenewedAt.UTC(),
		rotation.SessionID,
		rotation.PresentedHash,
	)
	session, err := scanSession(row)
	if errors.Is(err, persistence.ErrNotFound) {
		if _, getErr := r.GetSession(ctx, rotation.SessionID); getErr != nil {
			return persistence.Session{}, getErr
		}
		return persistence.Session{}, persistence.ErrConflict
	}
	return session, err
}

// RevokeSession marks a session as revoked. Already revoked sessions are
// returned unchanged.
func (r *SessionRepository) RevokeSession(ctx context.Context, id string, revokedAt time.Time, reason string) (persistence.Session, error) {
	if _, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = $1, revoke_reason = $2, updated_at = $1
		WHERE id = $3 AND revoked_at IS NULL
	`, revokedAt.UTC(), reason, id); err != nil {
		return persistence.Session{}, mapError(err)
	}
	return r.GetSession(ctx, id)
}

// DeleteExpiredSessions removes sessions whose renewal window closed on or
// before the reference time.
func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, reference.UTC())
	return mapError(err)
}

func scanSession(row rowScanner) (persistence.Session, error) {
	var session persistence.Session
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.DeviceID,
		&session.DeviceName,
		&session.RenewalHash,
		&session.PreviousHash,
		&session.Version,
		&session.ExpiresAt,
		&session.LastRenewedAt,
		&session.RevokedAt,
		&session.RevokeReason,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return persistence.Session{}, mapError(err)
	}
	return normalizeSession(session), nil
}

func normalizeSession(session persistence.Session) persistence.Session {
	session.DeviceID = strings.TrimSpace(session.DeviceID)
	session.DeviceName = strings.TrimSpace(session.DeviceName)
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	if session.LastRenewedAt != nil {
		t := session.LastRenewedAt.UTC()
		session.LastRenewedAt = &t
	}
	if session.RevokedAt != nil {
		t := session.RevokedAt.UTC()
		session.RevokedAt = &t
	}
	return session
}
