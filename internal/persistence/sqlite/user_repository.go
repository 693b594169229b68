package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/example/clinic-scheduler/internal/persistence"
)

const userColumns = `id, email, display_name, password_hash, role, doctor_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// UserRepository implements persistence.UserRepository using SQLite.
type UserRepository struct {
	pool *ConnectionPool
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{pool: pool}
}

// CreateUser inserts a new account. Emails are stored lower-cased.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.Email) == "" {
		return persistence.ErrConstraintViolation
	}

	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID,
		normalizeEmail(user.Email),
		strings.TrimSpace(user.DisplayName),
		user.PasswordHash,
		user.Role,
		user.DoctorStatus,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	return mapError(err)
}

// UpdateUser replaces the mutable attributes of an account.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	result, err := r.pool.DB().ExecContext(ctx, `
		UPDATE users
		SET email = ?, display_name = ?, password_hash = ?, role = ?, doctor_status = ?, updated_at = ?
		WHERE id = ?
	`,
		normalizeEmail(user.Email),
		strings.TrimSpace(user.DisplayName),
		user.PasswordHash,
		user.Role,
		user.DoctorStatus,
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return mapError(err)
	}
	changed, err := rowsChanged(result)
	if err != nil {
		return err
	}
	if !changed {
		return persistence.ErrNotFound
	}
	return nil
}

// GetUser retrieves an account by identifier.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves an account by its (case-insensitive) email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
	return scanUser(row)
}

// ListUsersByRole lists accounts holding the role, ordered by display name.
func (r *UserRepository) ListUsersByRole(ctx context.Context, role string) ([]persistence.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY display_name, id`, role)
}

// ListUsersByDoctorStatus lists accounts by doctor application status, oldest first.
func (r *UserRepository) ListUsersByDoctorStatus(ctx context.Context, status string) ([]persistence.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE doctor_status = ? ORDER BY created_at, id`, status)
}

func (r *UserRepository) list(ctx context.Context, query string, args ...any) ([]persistence.User, error) {
	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	users := make([]persistence.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

func scanUser(row rowScanner) (persistence.User, error) {
	var (
		user                 persistence.User
		createdAt, updatedAt string
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&user.DoctorStatus,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.User{}, persistence.ErrNotFound
		}
		return persistence.User{}, mapError(err)
	}
	if user.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
