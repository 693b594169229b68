package application

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/persistence"
)

// UserService handles registration, profile lookup and doctor approval.
type UserService struct {
	users        persistence.UserRepository
	hashPassword PasswordHasher
	idGenerator  func() string
	now          func() time.Time
	logger       zerolog.Logger
}

// NewUserService wires dependencies for the user service.
func NewUserService(users persistence.UserRepository, hasher PasswordHasher, idGenerator func() string, now func() time.Time) *UserService {
	return NewUserServiceWithLogger(users, hasher, idGenerator, now, zerolog.Nop())
}

// NewUserServiceWithLogger wires dependencies for the user service with a logger.
func NewUserServiceWithLogger(users persistence.UserRepository, hasher PasswordHasher, idGenerator func() string, now func() time.Time, logger zerolog.Logger) *UserService {
	if hasher == nil {
		hasher = HashPassword
	}
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &UserService{users: users, hashPassword: hasher, idGenerator: idGenerator, now: now, logger: logger}
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) zerolog.Logger {
	return serviceLogger(ctx, s.logger, "UserService", operation, attrs...)
}

// Register creates a patient account. Applicants for the doctor role are
// recorded as pending until an administrator approves them.
func (s *UserService) Register(ctx context.Context, params RegisterParams) (user User, err error) {
	if s == nil {
		err = fmt.Errorf("UserService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Register", "apply_as_doctor", params.ApplyAsDoctor)
	defer func() {
		if err != nil {
			logFailure(logger, err, "registration failed")
			return
		}
		logger.Info().Str("user_id", user.ID).Str("doctor_status", user.DoctorStatus).Msg("user registered")
	}()

	status := DoctorStatusNone
	if params.ApplyAsDoctor {
		status = DoctorStatusPending
	}
	user, err = s.create(ctx, params.Email, params.Password, params.DisplayName, RolePatient, status)
	return
}

// CreateUser provisions an account with an explicit role. It is meant for
// operator tooling and performs no principal check.
func (s *UserService) CreateUser(ctx context.Context, params CreateUserParams) (user User, err error) {
	if s == nil {
		err = fmt.Errorf("UserService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateUser", "role", string(params.Role))
	defer func() {
		if err != nil {
			logFailure(logger, err, "user creation failed")
			return
		}
		logger.Info().Str("user_id", user.ID).Msg("user created")
	}()

	if !params.Role.Valid() {
		vErr := &ValidationError{}
		vErr.add("role", "role must be patient, doctor or admin")
		err = vErr
		return
	}

	status := DoctorStatusNone
	if params.Role == RoleDoctor {
		status = DoctorStatusApproved
	}
	user, err = s.create(ctx, params.Email, params.Password, params.DisplayName, params.Role, status)
	return
}

func (s *UserService) create(ctx context.Context, email, password, displayName string, role Role, doctorStatus string) (User, error) {
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}

	input := normalizeUserInput(userInput{Email: email, Password: password, DisplayName: displayName})
	if vErr := validateUserInput(input); vErr.HasErrors() {
		return User{}, vErr
	}

	hash, err := s.hashPassword(input.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	record := persistence.User{
		ID:           s.idGenerator(),
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		PasswordHash: hash,
		Role:         string(role),
		DoctorStatus: doctorStatus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, record); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return User{}, ErrAlreadyExists
		}
		return User{}, err
	}
	return toUser(record), nil
}

// Me returns the principal's own account.
func (s *UserService) Me(ctx context.Context, principal Principal) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}
	if principal.UserID == "" {
		return User{}, ErrUnauthorized
	}

	record, err := s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return toUser(record), nil
}

// ListPendingDoctors returns doctor applications awaiting approval, oldest first.
func (s *UserService) ListPendingDoctors(ctx context.Context, principal Principal) ([]User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if s.users == nil {
		return nil, fmt.Errorf("user repository not configured")
	}

	records, err := s.users.ListUsersByDoctorStatus(ctx, DoctorStatusPending)
	if err != nil {
		return nil, err
	}
	return toUsers(records), nil
}

// ApproveDoctor grants the doctor role to a pending applicant.
func (s *UserService) ApproveDoctor(ctx context.Context, principal Principal, userID string) (user User, err error) {
	if s == nil {
		err = fmt.Errorf("UserService is nil")
		return
	}

	userID = strings.TrimSpace(userID)
	logger := s.loggerWith(ctx, "ApproveDoctor", "principal_id", principal.UserID, "user_id", userID)
	defer func() {
		if err != nil {
			logFailure(logger, err, "doctor approval failed")
			return
		}
		logger.Info().Msg("doctor approved")
	}()

	if !principal.IsAdmin() {
		err = ErrUnauthorized
		return
	}
	if s.users == nil {
		err = fmt.Errorf("user repository not configured")
		return
	}
	if userID == "" {
		vErr := &ValidationError{}
		vErr.add("userId", "user id is required")
		err = vErr
		return
	}

	var record persistence.User
	record, err = s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrNotFound
		}
		return
	}
	if record.Role == string(RoleDoctor) && record.DoctorStatus == DoctorStatusApproved {
		user = toUser(record)
		return
	}
	if record.DoctorStatus != DoctorStatusPending {
		vErr := &ValidationError{}
		vErr.add("userId", "user has not applied as a doctor")
		err = vErr
		return
	}

	record.Role = string(RoleDoctor)
	record.DoctorStatus = DoctorStatusApproved
	record.UpdatedAt = s.now().UTC()
	if err = s.users.UpdateUser(ctx, record); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrNotFound
		}
		return
	}
	user = toUser(record)
	return
}

// ListDoctors returns every doctor ordered by display name.
func (s *UserService) ListDoctors(ctx context.Context) ([]User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return nil, fmt.Errorf("user repository not configured")
	}

	records, err := s.users.ListUsersByRole(ctx, string(RoleDoctor))
	if err != nil {
		return nil, err
	}
	return toUsers(records), nil
}

type userInput struct {
	Email       string
	Password    string
	DisplayName string
}

func normalizeUserInput(input userInput) userInput {
	return userInput{
		Email:       strings.ToLower(strings.TrimSpace(input.Email)),
		Password:    input.Password,
		DisplayName: strings.TrimSpace(input.DisplayName),
	}
}

func validateUserInput(input userInput) *ValidationError {
	vErr := &ValidationError{}

	if input.Email == "" {
		vErr.add("email", "email is required")
	} else if addr, err := mail.ParseAddress(input.Email); err != nil || addr.Address != input.Email {
		vErr.add("email", "email is invalid")
	}

	if input.Password == "" {
		vErr.add("password", "password is required")
	} else if len(input.Password) < MinPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	if input.DisplayName == "" {
		vErr.add("displayName", "display name is required")
	}

	return vErr
}

func toUsers(records []persistence.User) []User {
	out := make([]User, 0, len(records))
	for _, record := range records {
		out = append(out, toUser(record))
	}
	return out
}
