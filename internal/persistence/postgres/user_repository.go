package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinic-scheduler/internal/persistence"
)

const userColumns = `id, email, display_name, password_hash, role, doctor_status, created_at, updated_at`

// UserRepository implements persistence.UserRepository on PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// CreateUser inserts a new account. Emails are stored lower-cased.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.Email) == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID,
		normalizeEmail(user.Email),
		strings.TrimSpace(user.DisplayName),
		user.PasswordHash,
		user.Role,
		user.DoctorStatus,
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
	)
	return mapError(err)
}

// UpdateUser replaces the mutable attributes of an account.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET email = $1, display_name = $2, password_hash = $3, role = $4, doctor_status = $5, updated_at = $6
		WHERE id = $7
	`,
		normalizeEmail(user.Email),
		strings.TrimSpace(user.DisplayName),
		user.PasswordHash,
		user.Role,
		user.DoctorStatus,
		user.UpdatedAt.UTC(),
		user.ID,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetUser retrieves an account by identifier.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail retrieves an account by its (case-insensitive) email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
}

// ListUsersByRole lists accounts holding the role, ordered by display name.
func (r *UserRepository) ListUsersByRole(ctx context.Context, role string) ([]persistence.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY display_name, id`, role)
}

// ListUsersByDoctorStatus lists accounts by doctor application status, oldest first.
func (r *UserRepository) ListUsersByDoctorStatus(ctx context.Context, status string) ([]persistence.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE doctor_status = $1 ORDER BY created_at, id`, status)
}

func (r *UserRepository) list(ctx context.Context, query string, args ...any) ([]persistence.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanUser)
}

func scanUser(row rowScanner) (persistence.User, error) {
	var user persistence.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&user.DoctorStatus,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return persistence.User{}, mapError(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// collect drains rows through scan, always returning a non-nil slice.
func collect[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}
