package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/clinic-scheduler/internal/persistence"
)

const slotColumns = `id, doctor_id, slot_date, start_minute, end_minute, is_booked, patient_id, created_at, updated_at`

// SlotRepository implements persistence.SlotRepository using SQLite.
type SlotRepository struct {
	pool *ConnectionPool
}

// NewSlotRepository creates a new SQLite slot repository.
func NewSlotRepository(pool *ConnectionPool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

// ReplaceSlotsForDate swaps a doctor's slots for one day inside one transaction.
func (r *SlotRepository) ReplaceSlotsForDate(ctx context.Context, replacement persistence.SlotReplacement) ([]persistence.Slot, error) {
	if replacement.DoctorID == "" || replacement.Date == "" || replacement.Build == nil {
		return nil, persistence.ErrConstraintViolation
	}

	var inserted []persistence.Slot
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var kept []persistence.Slot
		if replacement.KeepBooked {
			rows, err := tx.QueryContext(ctx, `
				SELECT `+slotColumns+`
				FROM slots
				WHERE doctor_id = ? AND slot_date = ? AND is_booked = 1
				ORDER BY start_minute, id
			`, replacement.DoctorID, replacement.Date)
			if err != nil {
				return mapError(err)
			}
			for rows.Next() {
				slot, err := scanSlot(rows)
				if err != nil {
					rows.Close()
					return err
				}
				kept = append(kept, slot)
			}
			if err := rows.Close(); err != nil {
				return mapError(err)
			}

			if _, err := tx.ExecContext(ctx, `
				DELETE FROM slots WHERE doctor_id = ? AND slot_date = ? AND is_booked = 0
			`, replacement.DoctorID, replacement.Date); err != nil {
				return mapError(err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM slots WHERE doctor_id = ? AND slot_date = ?
			`, replacement.DoctorID, replacement.Date); err != nil {
				return mapError(err)
			}
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO slots (`+slotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return mapError(err)
		}
		defer stmt.Close()

		for _, slot := range replacement.Build(kept) {
			slot.DoctorID = replacement.DoctorID
			slot.Date = replacement.Date
			if _, err := stmt.ExecContext(ctx,
				slot.ID,
				slot.DoctorID,
				slot.Date,
				slot.StartMinute,
				slot.EndMinute,
				boolToInt(slot.IsBooked),
				slot.PatientID,
				formatTime(slot.CreatedAt),
				formatTime(slot.UpdatedAt),
			); err != nil {
				return mapError(err)
			}
			slot.CreatedAt = slot.CreatedAt.UTC()
			slot.UpdatedAt = slot.UpdatedAt.UTC()
			inserted = append(inserted, slot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if inserted == nil {
		inserted = make([]persistence.Slot, 0)
	}
	return inserted, nil
}

// GetSlot retrieves a slot by identifier.
func (r *SlotRepository) GetSlot(ctx context.Context, id string) (persistence.Slot, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	return scanSlot(row)
}

// ListSlotsForDate returns a doctor's slots for the day ordered by start time.
func (r *SlotRepository) ListSlotsForDate(ctx context.Context, doctorID, date string) ([]persistence.Slot, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = ? AND slot_date = ?
		ORDER BY start_minute, id
	`, doctorID, date)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	slots := make([]persistence.Slot, 0)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return slots, nil
}

// ReserveSlot books the slot only while it is still free.
func (r *SlotRepository) ReserveSlot(ctx context.Context, id, patientID string, at time.Time) error {
	result, err := r.pool.DB().ExecContext(ctx, `
		UPDATE slots
		SET is_booked = 1, patient_id = ?, updated_at = ?
		WHERE id = ? AND is_booked = 0
	`, patientID, formatTime(at), id)
	if err != nil {
		return mapError(err)
	}
	return r.classifyMiss(ctx, result, id)
}

// ReleaseSlot frees the slot only when patientID holds it.
func (r *SlotRepository) ReleaseSlot(ctx context.Context, id, patientID string, at time.Time) error {
	result, err := r.pool.DB().ExecContext(ctx, `
		UPDATE slots
		SET is_booked = 0, patient_id = NULL, updated_at = ?
		WHERE id = ? AND is_booked = 1 AND patient_id = ?
	`, formatTime(at), id, patientID)
	if err != nil {
		return mapError(err)
	}
	return r.classifyMiss(ctx, result, id)
}

func (r *SlotRepository) classifyMiss(ctx context.Context, result sql.Result, id string) error {
	changed, err := rowsChanged(result)
	if err != nil {
		return err
	}
	if changed {
		return nil
	}
	if _, err := r.GetSlot(ctx, id); err != nil {
		return err
	}
	return persistence.ErrConflict
}

func scanSlot(row rowScanner) (persistence.Slot, error) {
	var (
		slot                 persistence.Slot
		isBooked             int
		patientID            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&slot.ID,
		&slot.DoctorID,
		&slot.Date,
		&slot.StartMinute,
		&slot.EndMinute,
		&isBooked,
		&patientID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Slot{}, persistence.ErrNotFound
		}
		return persistence.Slot{}, mapError(err)
	}

	slot.IsBooked = isBooked != 0
	if patientID.Valid {
		p := patientID.String
		slot.PatientID = &p
	}
	if slot.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Slot{}, err
	}
	if slot.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Slot{}, err
	}
	return slot, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
