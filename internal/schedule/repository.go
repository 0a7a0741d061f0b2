package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chinmaydhabale/medschedule/internal/apperr"
	"github.com/chinmaydhabale/medschedule/internal/db"
)

var (
	ErrScheduleNotFound  = apperr.NotFound("schedule not found")
	ErrSlotNotFound      = apperr.NotFound("slot not found")
	ErrSlotUnavailable   = apperr.Conflict("slot not available")
	ErrBookedSlotChanged = apperr.Conflict("booked slots cannot be removed or changed")
)

// Store is the slot calendar. Every mutation touches exactly one
// (doctor, date) schedule.
type Store interface {
	FindUnbookedSlot(ctx context.Context, doctorID uuid.UUID, date Date, start time.Time) (*Slot, error)
	MarkBooked(ctx context.Context, doctorID uuid.UUID, date Date, start time.Time, appointmentID uuid.UUID) error
	MarkUnbooked(ctx context.Context, doctorID uuid.UUID, date Date, start time.Time, appointmentID uuid.UUID) error
	ListAvailable(ctx context.Context, doctorID uuid.UUID, date *Date) ([]DayAvailability, error)
	ReplaceDaySchedule(ctx context.Context, next *Schedule) (*Schedule, error)
}

type PgRepository struct {
	q db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.StartTime,
		&s.EndTime,
		&s.IsBooked,
		&s.AppointmentID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	return &s, nil
}

// FindUnbookedSlot share-locks the schedule row, so inside a transaction the
// returned end time cannot be changed by a republish before commit.
func (r *PgRepository) FindUnbookedSlot(ctx context.Context, doctorID uuid.UUID, date Date, start time.Time) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT sl.start_time, sl.end_time, sl.is_booked, sl.appointment_id
		FROM schedule_slots sl
		JOIN schedules s ON s.id = sl.schedule_id
		WHERE s.doctor_id = $1
		  AND s.schedule_date = $2
		  AND sl.start_time = $3
		  AND sl.is_booked = false
		FOR SHARE OF s
	`, doctorID, date.Time(), NormalizeTime(start))

	slot, err := scanSlot(row)
	if err != nil && !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("find unbooked slot: %w", err)
	}
	return slot, err
}

// MarkBooked is a conditional write on is_booked = false. The schedule row is
// share-locked so a concurrent republish of the same day waits for us.
func (r *PgRepository) MarkBooked(ctx context.Context, doctorID uuid.UUID, date Date, start time.Time, appointmentID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		WITH s AS (
			SELECT id FROM schedules
			WHERE doctor_id = $1 AND schedule_date = $2
			FOR SHARE
		)
		UPDATE schedule_slots sl
		SET is_booked = true,
		    appointment_id = $4
		FROM s
		WHERE sl.schedule_id = s.id
		  AND sl.start_time = $3
		  AND sl.is_booked = false
	`, doctorID, date.Time(), NormalizeTime(start), appointmentID)
	if err != nil {
		return fmt.Errorf("mark slot booked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

// MarkUnbooked releases the slot only if appointmentID holds it. A missing
// schedule, a missing slot or a slot held by someone else is not an error.
func (r *PgRepository) MarkUnbooked(ctx context.Context, doctorID uuid.UUID, date Date, start time.Time, appointmentID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		WITH s AS (
			SELECT id FROM schedules
			WHERE doctor_id = $1 AND schedule_date = $2
			FOR SHARE
		)
		UPDATE schedule_slots sl
		SET is_booked = false,
		    appointment_id = NULL
		FROM s
		WHERE sl.schedule_id = s.id
		  AND sl.start_time = $3
		  AND sl.is_booked = true
		  AND sl.appointment_id = $4
	`, doctorID, date.Time(), NormalizeTime(start), appointmentID)
	if err != nil {
		return fmt.Errorf("mark slot unbooked: %w", err)
	}
	return nil
}

func (r *PgRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, date *Date) ([]DayAvailability, error) {
	var dateArg *time.Time
	if date != nil {
		t := date.Time()
		dateArg = &t
	}

	rows, err := r.q.Query(ctx, `
		SELECT s.schedule_date, sl.start_time, sl.end_time, sl.is_booked, sl.appointment_id
		FROM schedules s
		JOIN schedule_slots sl ON sl.schedule_id = s.id
		WHERE s.doctor_id = $1
		  AND ($2::date IS NULL OR s.schedule_date = $2::date)
		  AND sl.is_booked = false
		ORDER BY s.schedule_date, sl.start_time
	`, doctorID, dateArg)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	defer rows.Close()

	var result []DayAvailability
	for rows.Next() {
		var day time.Time
		var s Slot
		if err := rows.Scan(&day, &s.StartTime, &s.EndTime, &s.IsBooked, &s.AppointmentID); err != nil {
			return nil, err
		}
		s.StartTime = s.StartTime.UTC()
		s.EndTime = s.EndTime.UTC()

		d := DateOf(day)
		if n := len(result); n == 0 || result[n-1].Date != d {
			result = append(result, DayAvailability{Date: d})
		}
		result[len(result)-1].Slots = append(result[len(result)-1].Slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetDaySchedule loads the full slot list of one day.
func (r *PgRepository) GetDaySchedule(ctx context.Context, doctorID uuid.UUID, date Date) (*Schedule, error) {
	sched := &Schedule{DoctorID: doctorID, Date: date}
	err := r.q.QueryRow(ctx, `
		SELECT id, created_at, updated_at
		FROM schedules
		WHERE doctor_id = $1 AND schedule_date = $2
	`, doctorID, date.Time()).Scan(&sched.ID, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}

	slots, err := loadSlots(ctx, r.q, sched.ID)
	if err != nil {
		return nil, err
	}
	sched.Slots = slots
	return sched, nil
}

// ReplaceDaySchedule upserts the (doctor, date) schedule and overwrites its
// slot list. Bookings on slots that survive unchanged are kept.
func (r *PgRepository) ReplaceDaySchedule(ctx context.Context, next *Schedule) (*Schedule, error) {
	saved := *next
	saved.Slots = append([]Slot(nil), next.Slots...)

	err := db.WithTx(ctx, r.q, func(tx pgx.Tx) error {
		// the upsert row-locks the schedule against concurrent Mark* calls
		err := tx.QueryRow(ctx, `
			INSERT INTO schedules (id, doctor_id, schedule_date, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
			ON CONFLICT (doctor_id, schedule_date)
			DO UPDATE SET updated_at = now()
			RETURNING id, created_at, updated_at
		`, uuid.New(), next.DoctorID, next.Date.Time()).Scan(&saved.ID, &saved.CreatedAt, &saved.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert schedule: %w", err)
		}

		existing, err := loadSlots(ctx, tx, saved.ID)
		if err != nil {
			return err
		}
		if err := saved.CarryBookings(&Schedule{Slots: existing}); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM schedule_slots WHERE schedule_id = $1`, saved.ID); err != nil {
			return fmt.Errorf("clear slots: %w", err)
		}

		rows := make([][]any, 0, len(saved.Slots))
		for _, s := range saved.Slots {
			rows = append(rows, []any{saved.ID, s.StartTime, s.EndTime, s.IsBooked, s.AppointmentID})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"schedule_slots"},
			[]string{"schedule_id", "start_time", "end_time", "is_booked", "appointment_id"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert slots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &saved, nil
}

func loadSlots(ctx context.Context, q db.Querier, scheduleID uuid.UUID) ([]Slot, error) {
	rows, err := q.Query(ctx, `
		SELECT start_time, end_time, is_booked, appointment_id
		FROM schedule_slots
		WHERE schedule_id = $1
		ORDER BY start_time
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}
