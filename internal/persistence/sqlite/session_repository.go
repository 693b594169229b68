package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/example/clinic-scheduler/internal/persistence"
)

const sessionColumns = `id, user_id, device_id, device_name, renewal_hash, previous_hash, version,
	expires_at, last_renewed_at, revoked_at, revoke_reason, created_at, updated_at`

// SupersededReason is recorded on sessions replaced by a newer login from the same device.
const SupersededReason = "superseded"

// SessionRepository implements persistence.SessionRepository using SQLite.
type SessionRepository struct {
	pool *ConnectionPool
}

// NewSessionRepository creates a new SQLite session repository.
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{pool: pool}
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

	var superseded []string
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM sessions
			WHERE user_id = ? AND device_id = ? AND revoked_at IS NULL
		`, session.UserID, session.DeviceID)
		if err != nil {
			return mapError(err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return mapError(err)
			}
			superseded = append(superseded, id)
		}
		if err := rows.Close(); err != nil {
			return mapError(err)
		}

		if len(superseded) > 0 {
			at := formatTime(session.CreatedAt)
			if _, err := tx.ExecContext(ctx, `
				UPDATE sessions
				SET revoked_at = ?, revoke_reason = ?, updated_at = ?
				WHERE user_id = ? AND device_id = ? AND revoked_at IS NULL
			`, at, SupersededReason, at, session.UserID, session.DeviceID); err != nil {
				return mapError(err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.UserID,
			session.DeviceID,
			session.DeviceName,
			session.RenewalHash,
			session.PreviousHash,
			session.Version,
			formatTime(session.ExpiresAt),
			formatNullTime(session.LastRenewedAt),
			formatNullTime(session.RevokedAt),
			session.RevokeReason,
			formatTime(session.CreatedAt),
			formatTime(session.UpdatedAt),
		)
		return mapError(err)
	})
	if err != nil {
		return persistence.Session{}, nil, err
	}
	return session, superseded, nil
}

// GetSession retrieves a session by identifier.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	if strings.TrimSpace(id) == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessionsForUser returns the user's sessions, newest first.
func (r *SessionRepository) ListSessionsForUser(ctx context.Context, userID string) ([]persistence.Session, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = ?
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sessions := make([]persistence.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return sessions, nil
}

// RotateRenewal performs the renewal compare-and-swap as one UPDATE so that
// concurrent renewals presenting the same token cannot both succeed. The
// replaced digest moves to previous_hash.
func (r *SessionRepository) RotateRenewal(ctx context.Context, rotation persistence.RenewalRotation) (persistence.Session, error) {
	renewedAt := formatTime(rotation.RenewedAt)
	result, err := r.pool.DB().ExecContext(ctx, `
		UPDATE sessions
		SET previous_hash = renewal_hash, renewal_hash = ?, version = version + 1, expires_at = ?, last_renewed_at = ?, updated_at = ?
		WHERE id = ? AND renewal_hash = ? AND revoked_at IS NULL
	`,
		rotation.NextHash,
		formatTime(rotation.ExpiresAt),
		renewedAt,
		renewedAt,
		rotation.SessionID,
		rotation.PresentedHash,
	)
	if err != nil {
		return persistence.Session{}, mapError(err)
	}
	changed, err := rowsChanged(result)
	if err != nil {
		return persistence.Session{}, err
	}
	if !changed {
		if _, err := r.GetSession(ctx, rotation.SessionID); err != nil {
			return persistence.Session{}, err
		}
		return persistence.Session{}, persistence.ErrConflict
	}
	return r.GetSession(ctx, rotation.SessionID)
}

// RevokeSession marks a session as revoked. Already revoked sessions are
// returned unchanged.
func (r *SessionRepository) RevokeSession(ctx context.Context, id string, revokedAt time.Time, reason string) (persistence.Session, error) {
	at := formatTime(revokedAt)
	if _, err := r.pool.DB().ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = ?, revoke_reason = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL
	`, at, reason, at, id); err != nil {
		return persistence.Session{}, mapError(err)
	}
	return r.GetSession(ctx, id)
}

// DeleteExpiredSessions removes sessions whose renewal window closed on or
// before the reference time.
func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	_, err := r.pool.DB().ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(reference))
	return mapError(err)
}

func scanSession(row rowScanner) (persistence.Session, error) {
	var (
		session                         persistence.Session
		expiresAt, createdAt, updatedAt string
		lastRenewedAt, revokedAt        sql.NullString
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.DeviceID,
		&session.DeviceName,
		&session.RenewalHash,
		&session.PreviousHash,
		&session.Version,
		&expiresAt,
		&lastRenewedAt,
		&revokedAt,
		&session.RevokeReason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Session{}, persistence.ErrNotFound
		}
		return persistence.Session{}, mapError(err)
	}

	if session.ExpiresAt, err = parseTime("expires_at", expiresAt); err != nil {
		return persistence.Session{}, err
	}
	if session.LastRenewedAt, err = parseNullTime("last_renewed_at", lastRenewedAt); err != nil {
		return persistence.Session{}, err
	}
	if session.RevokedAt, err = parseNullTime("revoked_at", revokedAt); err != nil {
		return persistence.Session{}, err
	}
	if session.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Session{}, err
	}
	if session.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Session{}, err
	}
	return session, nil
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
