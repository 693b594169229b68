package testfixtures

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/clinic-scheduler/internal/application"
	"github.com/example/clinic-scheduler/internal/persistence"
)

var (
	userCounter    uint64
	sessionCounter uint64
	slotCounter    uint64
)

var referenceTime = time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// DefaultPassword is the plain text password of every user fixture unless overridden.
const DefaultPassword = "correct horse battery"

// FastPasswordParams keep argon2id cheap enough for tests.
var FastPasswordParams = application.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

// FastPasswordHasher hashes with FastPasswordParams.
func FastPasswordHasher(password string) (string, error) {
	return application.CreatePasswordHash(password, FastPasswordParams)
}

var (
	hashMu    sync.Mutex
	hashCache = map[string]string{}
)

// PasswordHash returns a cached argon2id hash of password.
func PasswordHash(password string) string {
	hashMu.Lock()
	defer hashMu.Unlock()
	if hash, ok := hashCache[password]; ok {
		return hash
	}
	hash, err := FastPasswordHasher(password)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: hash password: %v", err))
	}
	hashCache[password] = hash
	return hash
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic account.
type UserFixture struct {
	ID           string
	Email        string
	DisplayName  string
	Password     string
	Role         application.Role
	DoctorStatus string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic patient fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := UserFixture{
		ID:          id,
		Email:       fmt.Sprintf("%s@clinic.test", id),
		DisplayName: fmt.Sprintf("User %03d", idx),
		Password:    DefaultPassword,
		Role:        application.RolePatient,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID. The email follows unless set explicitly.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
		f.Email = id + "@clinic.test"
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserDisplayName overrides the generated display name.
func WithUserDisplayName(name string) UserOption {
	return func(f *UserFixture) {
		f.DisplayName = name
	}
}

// WithUserPassword overrides the plain text password.
func WithUserPassword(password string) UserOption {
	return func(f *UserFixture) {
		f.Password = password
	}
}

// WithUserRole sets the role. Doctors are marked approved.
func WithUserRole(role application.Role) UserOption {
	return func(f *UserFixture) {
		f.Role = role
		if role == application.RoleDoctor {
			f.DoctorStatus = application.DoctorStatusApproved
		}
	}
}

// WithDoctorStatus sets the doctor application status.
func WithDoctorStatus(status string) UserOption {
	return func(f *UserFixture) {
		f.DoctorStatus = status
	}
}

// WithUserTimestamps sets both created and updated timestamps on the fixture.
func WithUserTimestamps(created, updated time.Time) UserOption {
	return func(f *UserFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Application returns the fixture as an application.User value.
func (f UserFixture) Application() application.User {
	return application.User{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		Role:         f.Role,
		DoctorStatus: f.DoctorStatus,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Persistence returns the fixture as a persistence.User with a hashed password.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		PasswordHash: PasswordHash(f.Password),
		Role:         string(f.Role),
		DoctorStatus: f.DoctorStatus,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Principal returns a principal acting as the fixture user.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, Role: f.Role}
}

// ----------------------------- Session fixtures -------------------------

// SessionFixture represents a deterministic session row.
type SessionFixture struct {
	ID           string
	UserID       string
	DeviceID     string
	DeviceName   string
	RenewalToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a deterministic session fixture with optional overrides.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := SessionFixture{
		ID:           fmt.Sprintf("session-%03d", idx),
		UserID:       "user-001",
		DeviceID:     fmt.Sprintf("device-%03d", idx),
		DeviceName:   "Test device",
		RenewalToken: fmt.Sprintf("renewal-%03d", idx),
		CreatedAt:    created,
		ExpiresAt:    created.Add(application.DefaultSessionTTL),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the session ID.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

// WithSessionUserID sets the owning user.
func WithSessionUserID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.UserID = id
	}
}

// WithSessionDevice sets the device identifier.
func WithSessionDevice(deviceID string) SessionOption {
	return func(f *SessionFixture) {
		f.DeviceID = deviceID
	}
}

// WithSessionRenewalToken overrides the raw renewal token.
func WithSessionRenewalToken(token string) SessionOption {
	return func(f *SessionFixture) {
		f.RenewalToken = token
	}
}

// WithSessionExpiry sets the renewal window end.
func WithSessionExpiry(expiresAt time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.ExpiresAt = expiresAt
	}
}

// WithSessionRevoked marks the session revoked.
func WithSessionRevoked(at time.Time, reason string) SessionOption {
	return func(f *SessionFixture) {
		f.RevokedAt = &at
		f.RevokeReason = reason
	}
}

// Persistence returns the fixture as a persistence.Session.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:           f.ID,
		UserID:       f.UserID,
		DeviceID:     f.DeviceID,
		DeviceName:   f.DeviceName,
		RenewalHash:  application.HashRenewalToken(f.RenewalToken),
		Version:      1,
		ExpiresAt:    f.ExpiresAt,
		RevokedAt:    f.RevokedAt,
		RevokeReason: f.RevokeReason,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.CreatedAt,
	}
}

// ------------------------------ Slot fixtures ----------------------------

// SlotFixture represents a deterministic slot row.
type SlotFixture struct {
	ID          string
	DoctorID    string
	Date        string
	StartMinute int
	EndMinute   int
	PatientID   string
	CreatedAt   time.Time
}

// SlotOption configures the generated slot fixture.
type SlotOption func(*SlotFixture)

// NewSlotFixture returns a free 09:00-10:00 slot.
func NewSlotFixture(opts ...SlotOption) SlotFixture {
	idx := atomic.AddUint64(&slotCounter, 1)
	fixture := SlotFixture{
		ID:          fmt.Sprintf("slot-%03d", idx),
		DoctorID:    "doctor-001",
		Date:        "2024-06-10",
		StartMinute: 9 * 60,
		EndMinute:   10 * 60,
		CreatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSlotID overrides the slot ID.
func WithSlotID(id string) SlotOption {
	return func(f *SlotFixture) {
		f.ID = id
	}
}

// WithSlotDoctor sets the owning doctor.
func WithSlotDoctor(doctorID string) SlotOption {
	return func(f *SlotFixture) {
		f.DoctorID = doctorID
	}
}

// WithSlotDate sets the calendar day.
func WithSlotDate(date string) SlotOption {
	return func(f *SlotFixture) {
		f.Date = date
	}
}

// WithSlotWindow sets start and end in minutes since midnight.
func WithSlotWindow(start, end int) SlotOption {
	return func(f *SlotFixture) {
		f.StartMinute = start
		f.EndMinute = end
	}
}

// WithSlotPatient books the slot for patientID.
func WithSlotPatient(patientID string) SlotOption {
	return func(f *SlotFixture) {
		f.PatientID = patientID
	}
}

// Persistence returns the fixture as a persistence.Slot.
func (f SlotFixture) Persistence() persistence.Slot {
	slot := persistence.Slot{
		ID:          f.ID,
		DoctorID:    f.DoctorID,
		Date:        f.Date,
		StartMinute: f.StartMinute,
		EndMinute:   f.EndMinute,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.CreatedAt,
	}
	if f.PatientID != "" {
		patient := f.PatientID
		slot.IsBooked = true
		slot.PatientID = &patient
	}
	return slot
}
