package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinic-scheduler/internal/persistence"
)

const slotColumns = `id, doctor_id, to_char(slot_date, 'YYYY-MM-DD'), start_minute, end_minute, is_booked, patient_id, created_at, updated_at`

// SlotRepository implements persistence.SlotRepository on PostgreSQL.
type SlotRepository struct {
	pool *pgxpool.Pool
}

// ReplaceSlotsForDate swaps a doctor's slots for one day inside one
// transaction. Regenerations of the same doctor and day are serialised with
// a transaction scoped advisory lock; when booked slots are kept the day's
// rows are also locked against concurrent reservations.
func (r *SlotRepository) ReplaceSlotsForDate(ctx context.Context, replacement persistence.SlotReplacement) ([]persistence.Slot, error) {
	if replacement.DoctorID == "" || replacement.Date == "" || replacement.Build == nil {
		return nil, persistence.ErrConstraintViolation
	}

	var inserted []persistence.Slot
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, replacement.DoctorID+"|"+replacement.Date); err != nil {
			return err
		}

		var kept []persistence.Slot
		if replacement.KeepBooked {
			// Lock the whole day so a reservation cannot commit between
			// reading the booked rows and deleting the free ones.
			rows, err := tx.Query(ctx, `
				SELECT `+slotColumns+`
				FROM slots
				WHERE doctor_id = $1 AND slot_date = $2::date
				ORDER BY start_minute, id
				FOR UPDATE
			`, replacement.DoctorID, replacement.Date)
			if err != nil {
				return err
			}
			day, err := collect(rows, scanSlot)
			if err != nil {
				return err
			}
			for _, slot := range day {
				if slot.IsBooked {
					kept = append(kept, slot)
				}
			}
			if _, err := tx.Exec(ctx, `
				DELETE FROM slots WHERE doctor_id = $1 AND slot_date = $2::date AND NOT is_booked
			`, replacement.DoctorID, replacement.Date); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(ctx, `
				DELETE FROM slots WHERE doctor_id = $1 AND slot_date = $2::date
			`, replacement.DoctorID, replacement.Date); err != nil {
				return err
			}
		}

		batch := &pgx.Batch{}
		for _, slot := range replacement.Build(kept) {
			slot.DoctorID = replacement.DoctorID
			slot.Date = replacement.Date
			slot.CreatedAt = slot.CreatedAt.UTC()
			slot.UpdatedAt = slot.UpdatedAt.UTC()
			batch.Queue(`
				INSERT INTO slots (id, doctor_id, slot_date, start_minute, end_minute, is_booked, patient_id, created_at, updated_at)
				VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9)
			`,
				slot.ID,
				slot.DoctorID,
				slot.Date,
				slot.StartMinute,
				slot.EndMinute,
				slot.IsBooked,
				slot.PatientID,
				slot.CreatedAt,
				slot.UpdatedAt,
			)
			inserted = append(inserted, slot)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, mapError(err)
	}
	if inserted == nil {
		inserted = make([]persistence.Slot, 0)
	}
	return inserted, nil
}

// GetSlot retrieves a slot by identifier.
func (r *SlotRepository) GetSlot(ctx context.Context, id string) (persistence.Slot, error) {
	return scanSlot(r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
}

// ListSlotsForDate returns a doctor's slots for the day ordered by start time.
func (r *SlotRepository) ListSlotsForDate(ctx context.Context, doctorID, date string) ([]persistence.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1 AND slot_date = $2::date
		ORDER BY start_minute, id
	`, doctorID, date)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanSlot)
}

// ReserveSlot books the slot only while it is still free.
func (r *SlotRepository) ReserveSlot(ctx context.Context, id, patientID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET is_booked = TRUE, patient_id = $1, updated_at = $2
		WHERE id = $3 AND NOT is_booked
	`, patientID, at.UTC(), id)
	if err != nil {
		return mapError(err)
	}
	return r.classifyMiss(ctx, tag.RowsAffected(), id)
}

// ReleaseSlot frees the slot only when patientID holds it.
func (r *SlotRepository) ReleaseSlot(ctx context.Context, id, patientID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET is_booked = FALSE, patient_id = NULL, updated_at = $1
		WHERE id = $2 AND is_booked AND patient_id = $3
	`, at.UTC(), id, patientID)
	if err != nil {
		return mapError(err)
	}
	return r.classifyMiss(ctx, tag.RowsAffected(), id)
}

func (r *SlotRepository) classifyMiss(ctx context.Context, affected int64, id string) error {
	if affected > 0 {
		return nil
	}
	if _, err := r.GetSlot(ctx, id); err != nil {
		return err
	}
	return persistence.ErrConflict
}

func scanSlot(row rowScanner) (persistence.Slot, error) {
	var slot persistence.Slot
	err := row.Scan(
		&slot.ID,
		&slot.DoctorID,
		&slot.Date,
		&slot.StartMinute,
		&slot.EndMinute,
		&slot.IsBooked,
		&slot.PatientID,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		return persistence.Slot{}, mapError(err)
	}
	slot.CreatedAt = slot.CreatedAt.UTC()
	slot.UpdatedAt = slot.UpdatedAt.UTC()
	return slot, nil
}
