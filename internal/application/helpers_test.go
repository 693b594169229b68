package application

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/clinic-scheduler/internal/cache"
	"github.com/example/clinic-scheduler/internal/persistence"
	"github.com/example/clinic-scheduler/internal/persistence/sqlite"
)

const testPassword = "correct horse battery"

var testEpoch = time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStorage(t *testing.T) *sqlite.Storage {
	t.Helper()

	storage, err := sqlite.Open(filepath.Join(t.TempDir(), "application.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	require.NoError(t, storage.Migrate(context.Background(), zerolog.Nop()))
	return storage
}

func seedUser(t *testing.T, users persistence.UserRepository, id string, role Role) persistence.User {
	t.Helper()

	hash, err := CreatePasswordHash(testPassword, fastArgon2)
	require.NoError(t, err)

	record := persistence.User{
		ID:           id,
		Email:        id + "@clinic.test",
		DisplayName:  "User " + id,
		PasswordHash: hash,
		Role:         string(role),
		CreatedAt:    testEpoch,
		UpdatedAt:    testEpoch,
	}
	if role == RoleDoctor {
		record.DoctorStatus = DoctorStatusApproved
	}
	require.NoError(t, users.CreateUser(context.Background(), record))
	return record
}

func fastHasher(password string) (string, error) {
	return CreatePasswordHash(password, fastArgon2)
}

type recordingMetrics struct {
	mu        sync.Mutex
	issued    int
	renewed   int
	failures  map[string]int
	revoked   map[string]int
	generated []int
	slots     map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		failures: make(map[string]int),
		revoked:  make(map[string]int),
		slots:    make(map[string]int),
	}
}

func (m *recordingMetrics) SessionIssued() {
	m.mu.Lock()
	m.issued++
	m.mu.Unlock()
}

func (m *recordingMetrics) SessionRenewed() {
	m.mu.Lock()
	m.renewed++
	m.mu.Unlock()
}

func (m *recordingMetrics) SessionRenewalFailed(reason string) {
	m.mu.Lock()
	m.failures[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) SessionRevoked(reason string) {
	m.mu.Lock()
	m.revoked[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) SlotsGenerated(created int) {
	m.mu.Lock()
	m.generated = append(m.generated, created)
	m.mu.Unlock()
}

func (m *recordingMetrics) SlotTransition(action, outcome string) {
	m.mu.Lock()
	m.slots[action+":"+outcome]++
	m.mu.Unlock()
}

type authFixture struct {
	storage *sqlite.Storage
	clock   *testClock
	metrics *recordingMetrics
	status  *cache.SessionStatusStore
	service *AuthService
}

func newAuthFixture(t *testing.T, policy AuthPolicy) *authFixture {
	t.Helper()

	storage := newTestStorage(t)
	clock := newTestClock()
	metrics := newRecordingMetrics()

	memory := cache.NewMemoryCacheWithClock(clock.Now, 0)
	t.Cleanup(func() { _ = memory.Close() })
	status := cache.NewSessionStatusStore(memory, 30*time.Second, time.Hour)

	tokens, err := NewAccessTokenIssuer("test-secret", "clinic-scheduler", 15*time.Minute, clock.Now)
	require.NoError(t, err)

	service := NewAuthService(storage.Users, storage.Sessions, tokens, status, metrics, clock.Now, policy)
	return &authFixture{storage: storage, clock: clock, metrics: metrics, status: status, service: service}
}

func (f *authFixture) login(t *testing.T, userID, deviceID string) IssueResult {
	t.Helper()

	result, err := f.service.Issue(context.Background(), IssueParams{
		Email:      userID + "@clinic.test",
		Password:   testPassword,
		DeviceID:   deviceID,
		DeviceName: "Device " + deviceID,
	})
	require.NoError(t, err)
	return result
}

type failingStatusCache struct{}

var errCacheDown = errors.New("cache down")

func (failingStatusCache) Lookup(context.Context, string) (bool, bool, error) {
	return false, false, errCacheDown
}

func (failingStatusCache) MarkActive(context.Context, string) error  { return errCacheDown }
func (failingStatusCache) MarkRevoked(context.Context, string) error { return errCacheDown }
