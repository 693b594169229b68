// Package persistencetest holds behavioural tests shared by every
// persistence backend. Each store package runs Run against its own
// implementation so SQLite and PostgreSQL keep identical semantics.
package persistencetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinic-scheduler/internal/persistence"
)

// Stores is the set of repositories under test.
type Stores struct {
	Users    persistence.UserRepository
	Sessions persistence.SessionRepository
	Slots    persistence.SlotRepository
}

// Factory returns empty, migrated stores. It is called once per subtest.
type Factory func(t *testing.T) Stores

var base = time.Date(2024, time.March, 4, 8, 30, 0, 0, time.UTC)

// Run executes the shared behaviour checks.
func Run(t *testing.T, newStores Factory) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStores(t)) })
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStores(t)) })
	t.Run("session supersede", func(t *testing.T) { testSessionSupersede(t, newStores(t)) })
	t.Run("session rotation", func(t *testing.T) { testSessionRotation(t, newStores(t)) })
	t.Run("session revoke", func(t *testing.T) { testSessionRevoke(t, newStores(t)) })
	t.Run("slot replacement", func(t *testing.T) { testSlotReplacement(t, newStores(t)) })
	t.Run("slot replacement keeps booked", func(t *testing.T) { testSlotReplacementKeepBooked(t, newStores(t)) })
	t.Run("slot reserve and release", func(t *testing.T) { testSlotReserveRelease(t, newStores(t)) })
	t.Run("concurrent reservations", func(t *testing.T) { testConcurrentReservations(t, newStores(t)) })
}

// User builds a persistence user with deterministic timestamps.
func User(id, role string) persistence.User {
	return persistence.User{
		ID:           id,
		Email:        id + "@example.com",
		DisplayName:  "User " + id,
		PasswordHash: "hash-" + id,
		Role:         role,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

func testUsers(t *testing.T, stores Stores) {
	ctx := context.Background()

	alice := User("alice", "patient")
	alice.Email = "Alice@Example.com"
	require.NoError(t, stores.Users.CreateUser(ctx, alice))

	fetched, err := stores.Users.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", fetched.Email)
	assert.True(t, fetched.CreatedAt.Equal(base))

	dup := User("alice-2", "patient")
	dup.Email = "alice@example.com"
	assert.ErrorIs(t, stores.Users.CreateUser(ctx, dup), persistence.ErrDuplicate)

	_, err = stores.Users.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	zed := User("zed", "patient")
	zed.DisplayName = "Zed"
	zed.DoctorStatus = "pending"
	zed.CreatedAt = base.Add(time.Minute)
	require.NoError(t, stores.Users.CreateUser(ctx, zed))

	pending, err := stores.Users.ListUsersByDoctorStatus(ctx, "pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "zed", pending[0].ID)

	zed.Role = "doctor"
	zed.DoctorStatus = "approved"
	zed.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, stores.Users.UpdateUser(ctx, zed))

	amy := User("amy", "doctor")
	amy.DisplayName = "Amy"
	amy.DoctorStatus = "approved"
	require.NoError(t, stores.Users.CreateUser(ctx, amy))

	doctors, err := stores.Users.ListUsersByRole(ctx, "doctor")
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, "amy", doctors[0].ID)
	assert.Equal(t, "zed", doctors[1].ID)

	assert.ErrorIs(t, stores.Users.UpdateUser(ctx, User("ghost", "patient")), persistence.ErrNotFound)
}

// Session builds a live session for the given user and device.
func Session(id, userID, deviceID, hash string, createdAt time.Time) persistence.Session {
	return persistence.Session{
		ID:          id,
		UserID:      userID,
		DeviceID:    deviceID,
		DeviceName:  "Device " + deviceID,
		RenewalHash: hash,
		ExpiresAt:   createdAt.Add(7 * 24 * time.Hour),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func testSessions(t *testing.T, stores Stores) {
	ctx := context.Background()
	require.NoError(t, stores.Users.CreateUser(ctx, User("u1", "patient")))

	first, superseded, err := stores.Sessions.CreateSession(ctx, Session("s1", "u1", "laptop", "h1", base))
	require.NoError(t, err)
	assert.Empty(t, superseded)
	assert.EqualValues(t, 1, first.Version)

	_, _, err = stores.Sessions.CreateSession(ctx, Session("s2", "u1", "phone", "h2", base.Add(time.Minute)))
	require.NoError(t, err)

	list, err := stores.Sessions.ListSessionsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].ID)
	assert.Equal(t, "s1", list[1].ID)

	got, err := stores.Sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "laptop", got.DeviceID)
	assert.Nil(t, got.RevokedAt)
	assert.True(t, got.ExpiresAt.Equal(base.Add(7*24*time.Hour)))

	_, err = stores.Sessions.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	_, _, err = stores.Sessions.CreateSession(ctx, Session("s3", "ghost", "laptop", "h3", base))
	assert.ErrorIs(t, err, persistence.ErrForeignKeyViolation)

	require.NoError(t, stores.Sessions.DeleteExpiredSessions(ctx, base.Add(8*24*time.Hour)))
	list, err = stores.Sessions.ListSessionsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testSessionSupersede(t *testing.T, stores Stores) {
	ctx := context.Background()
	require.NoError(t, stores.Users.CreateUser(ctx, User("u1", "patient")))

	_, _, err := stores.Sessions.CreateSession(ctx, Session("old", "u1", "laptop", "h1", base))
	require.NoError(t, err)
	_, _, err = stores.Sessions.CreateSession(ctx, Session("other", "u1", "phone", "h2", base))
	require.NoError(t, err)

	_, superseded, err := stores.Sessions.CreateSession(ctx, Session("new", "u1", "laptop", "h3", base.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, superseded)

	old, err := stores.Sessions.GetSession(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)
	assert.Equal(t, "superseded", old.RevokeReason)

	other, err := stores.Sessions.GetSession(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, other.RevokedAt)
}

func testSessionRotation(t *testing.T, stores Stores) {
	ctx := context.Background()
	require.NoError(t, stores.Users.CreateUser(ctx, User("u1", "patient")))
	_, _, err := stores.Sessions.CreateSession(ctx, Session("s1", "u1", "laptop", "h1", base))
	require.NoError(t, err)

	renewedAt := base.Add(time.Hour)
	rotated, err := stores.Sessions.RotateRenewal(ctx, persistence.RenewalRotation{
		SessionID:     "s1",
		PresentedHash: "h1",
		NextHash:      "h2",
		ExpiresAt:     renewedAt.Add(7 * 24 * time.Hour),
		RenewedAt:     renewedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "h2", rotated.RenewalHash)
	assert.Equal(t, "h1", rotated.PreviousHash)
	assert.EqualValues(t, 2, rotated.Version)
	require.NotNil(t, rotated.LastRenewedAt)
	assert.True(t, rotated.LastRenewedAt.Equal(renewedAt))

	_, err = stores.Sessions.RotateRenewal(ctx, persistence.RenewalRotation{
		SessionID:     "s1",
		PresentedHash: "h1",
		NextHash:      "h3",
		ExpiresAt:     renewedAt.Add(7 * 24 * time.Hour),
		RenewedAt:     renewedAt,
	})
	assert.ErrorIs(t, err, persistence.ErrConflict)

	stored, err := stores.Sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "h2", stored.RenewalHash)
	assert.Equal(t, "h1", stored.PreviousHash, "a lost swap leaves the previous digest alone")

	_, err = stores.Sessions.RotateRenewal(ctx, persistence.RenewalRotation{SessionID: "missing", PresentedHash: "h1", NextHash: "h2"})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func testSessionRevoke(t *testing.T, stores Stores) {
	ctx := context.Background()
	require.NoError(t, stores.Users.CreateUser(ctx, User("u1", "patient")))
	_, _, err := stores.Sessions.CreateSession(ctx, Session("s1", "u1", "laptop", "h1", base))
	require.NoError(t, err)

	first := base.Add(time.Hour)
	revoked, err := stores.Sessions.RevokeSession(ctx, "s1", first, "logout")
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.True(t, revoked.RevokedAt.Equal(first))

	again, err := stores.Sessions.RevokeSession(ctx, "s1", first.Add(time.Hour), "admin")
	require.NoError(t, err)
	assert.True(t, again.RevokedAt.Equal(first))
	assert.Equal(t, "logout", again.RevokeReason)

	_, err = stores.Sessions.RotateRenewal(ctx, persistence.RenewalRotation{SessionID: "s1", PresentedHash: "h1", NextHash: "h2"})
	assert.ErrorIs(t, err, persistence.ErrConflict)

	_, err = stores.Sessions.RevokeSession(ctx, "missing", first, "logout")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	// A revoked session no longer blocks a new login from the same device.
	_, superseded, err := stores.Sessions.CreateSession(ctx, Session("s2", "u1", "laptop", "h2", first))
	require.NoError(t, err)
	assert.Empty(t, superseded)
}

// Slots builds free slots for the given windows in minutes.
func Slots(prefix string, windows ...[2]int) []persistence.Slot {
	slots := make([]persistence.Slot, 0, len(windows))
	for i, w := range windows {
		slots = append(slots, persistence.Slot{
			ID:          fmt.Sprintf("%s-%d", prefix, i+1),
			StartMinute: w[0],
			EndMinute:   w[1],
			CreatedAt:   base,
			UpdatedAt:   base,
		})
	}
	return slots
}

func replace(t *testing.T, stores Stores, doctorID, date string, keep bool, slots []persistence.Slot) []persistence.Slot {
	t.Helper()
	inserted, err := stores.Slots.ReplaceSlotsForDate(context.Background(), persistence.SlotReplacement{
		DoctorID:   doctorID,
		Date:       date,
		KeepBooked: keep,
		Build:      func([]persistence.Slot) []persistence.Slot { return slots },
	})
	require.NoError(t, err)
	return inserted
}

func testSlotReplacement(t *testing.T, stores Stores) {
	ctx := context.Background()
	require.NoError(t, stores.Users.CreateUser(ctx, User("doc", "doctor")))
	require.NoError(t, stores.Users.CreateUser(ctx, User("pat", "patient")))

	inserted := replace(t, stores, "doc", "2024-03-05", false, Slots("a", [2]int{660, 720}, [2]int{540, 600}, [2]int{600, 660}))
	require.Len(t, inserted, 3)

	listed, err := stores.Slots.ListSlotsForDate(ctx, "doc", "2024-03-05")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, []int{540, 600, 660}, []int{listed[0].StartMinute, listed[1].StartMinute, listed[2].StartMinute})
	for _, s := range listed {
		assert.False(t, s.IsBooked)
		assert.Nil(t, s.PatientID)
		assert.Equal(t, "2024-03-05", s.Date)
	}

	require.NoError(t, stores.Slots.ReserveSlot(ctx, "a-1", "pat", base))

	replace(t, stores, "doc", "2024-03-05", false, Slots("b", [2]int{780, 840}))
	listed, err = stores.Slots.ListSlotsForDate(ctx, "doc", "2024-03-05")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "b-1", listed[0].ID)

	_, err = stores.Slots.GetSlot(ctx, "a-1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	other, err := stores.Slots.ListSlotsForDate(ctx, "doc", "2024-03-06")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testSlotReplacementKeepBooked(t *testing.T, stores Stores) {
	ctx := context.Background()
	require.NoError(t, stores.Users.CreateUser(ctx, User("doc", "doctor")))
	require.NoError(t, stores.Users.CreateUser(ctx, User("pat", "patient")))

	replace(t, stores, "doc", "2024-03-05", true, Slots("a", [2]int{540, 600}, [2]int{600, 660}))
	require.NoError(t, stores.Slots.ReserveSlot(ctx, "a-2", "pat", base))

	var kept []persistence.Slot
	_, err := stores.Slots.ReplaceSlotsForDate(ctx, persistence.SlotReplacement{
		DoctorID:   "doc",
		Date:       "2024-03-05",
		KeepBooked: true,
		Build: func(k []persistence.Slot) []persistence.Slot {
			kept = k
			return Slots("b", [2]int{720, 780})
		},
	})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "a-2", kept[0].ID)

	listed, err := stores.Slots.ListSlotsForDate(ctx, "doc", "2024-03-05")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "a-2", listed[0].ID)
	assert.True(t, listed[0].IsBooked)
	assert.Equal(t, "b-1", listed[1].ID)
}

func testSlotReserveRelease(t *testing.T, stores Stores) {
	ctx := context.Background()
	require.NoError(t, stores.Users.CreateUser(ctx, User("doc", "doctor")))
	require.NoError(t, stores.Users.CreateUser(ctx, User("a", "patient")))
	require.NoError(t, stores.Users.CreateUser(ctx, User("b", "patient")))
	replace(t, stores, "doc", "2024-03-05", false, Slots("s", [2]int{540, 600}))

	require.NoError(t, stores.Slots.ReserveSlot(ctx, "s-1", "a", base))
	assert.ErrorIs(t, stores.Slots.ReserveSlot(ctx, "s-1", "b", base), persistence.ErrConflict)

	slot, err := stores.Slots.GetSlot(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, slot.IsBooked)
	require.NotNil(t, slot.PatientID)
	assert.Equal(t, "a", *slot.PatientID)

	assert.ErrorIs(t, stores.Slots.ReleaseSlot(ctx, "s-1", "b", base), persistence.ErrConflict)
	require.NoError(t, stores.Slots.ReleaseSlot(ctx, "s-1", "a", base))
	assert.ErrorIs(t, stores.Slots.ReleaseSlot(ctx, "s-1", "a", base), persistence.ErrConflict)

	slot, err = stores.Slots.GetSlot(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, slot.IsBooked)
	assert.Nil(t, slot.PatientID)

	require.NoError(t, stores.Slots.ReserveSlot(ctx, "s-1", "b", base))

	assert.ErrorIs(t, stores.Slots.ReserveSlot(ctx, "missing", "a", base), persistence.ErrNotFound)
	assert.ErrorIs(t, stores.Slots.ReleaseSlot(ctx, "missing", "a", base), persistence.ErrNotFound)
}

func testConcurrentReservations(t *testing.T, stores Stores) {
	ctx := context.Background()
	const patients = 8

	require.NoError(t, stores.Users.CreateUser(ctx, User("doc", "doctor")))
	for i := 0; i < patients; i++ {
		require.NoError(t, stores.Users.CreateUser(ctx, User(fmt.Sprintf("p%d", i), "patient")))
	}
	replace(t, stores, "doc", "2024-03-05", false, Slots("s", [2]int{540, 600}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < patients; i++ {
		wg.Add(1)
		go func(patientID string) {
			defer wg.Done()
			<-start
			err := stores.Slots.ReserveSlot(ctx, "s-1", patientID, base)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, persistence.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(fmt.Sprintf("p%d", i))
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, patients-1, conflicts)
}
