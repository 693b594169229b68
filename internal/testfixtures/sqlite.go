package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/persistence"
	"github.com/example/clinic-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness provides repository access backed by a temporary SQLite storage
// instance for integration-style tests.
type SQLiteHarness struct {
	Storage  *sqlite.Storage
	Users    persistence.UserRepository
	Sessions persistence.SessionRepository
	Slots    persistence.SlotRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "scheduler.db")
	storage, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background(), zerolog.Nop()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage:  storage,
		Users:    storage.Users,
		Sessions: storage.Sessions,
		Slots:    storage.Slots,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// CreateUser stores the fixture and returns it.
func (h *SQLiteHarness) CreateUser(tb testing.TB, fixture UserFixture) UserFixture {
	tb.Helper()

	if err := h.Users.CreateUser(context.Background(), fixture.Persistence()); err != nil {
		tb.Fatalf("failed to create user %s: %v", fixture.ID, err)
	}
	return fixture
}

// CreateSlots stores free or booked slots for one doctor and day.
func (h *SQLiteHarness) CreateSlots(tb testing.TB, fixtures ...SlotFixture) {
	tb.Helper()

	byDay := make(map[[2]string][]persistence.Slot)
	var order [][2]string
	for _, f := range fixtures {
		key := [2]string{f.DoctorID, f.Date}
		if _, ok := byDay[key]; !ok {
			order = append(order, key)
		}
		byDay[key] = append(byDay[key], f.Persistence())
	}

	for _, key := range order {
		slots := byDay[key]
		_, err := h.Slots.ReplaceSlotsForDate(context.Background(), persistence.SlotReplacement{
			DoctorID:   key[0],
			Date:       key[1],
			KeepBooked: true,
			Build: func([]persistence.Slot) []persistence.Slot {
				return slots
			},
		})
		if err != nil {
			tb.Fatalf("failed to create slots for %s on %s: %v", key[0], key[1], err)
		}
	}
}
