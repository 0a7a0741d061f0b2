package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chinmaydhabale/medschedule/internal/db"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

const singleScheduledIndex = "appointments_one_scheduled_per_patient"

const appointmentColumns = `
	id, patient_id, doctor_id, appointment_time, appointment_end_time, status,
	check_in_time, reschedule_notice_sent, rescheduled_from, created_at, updated_at`

type PgRepository struct {
	q db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.AppointmentTime,
		&a.AppointmentEndTime,
		&a.Status,
		&a.CheckInTime,
		&a.RescheduleNoticeSent,
		&a.RescheduledFrom,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.AppointmentTime = a.AppointmentTime.UTC()
	a.AppointmentEndTime = a.AppointmentEndTime.UTC()
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) CreateIfNoActive(ctx context.Context, a *Appointment) (*Appointment, error) {
	// ON CONFLICT against the partial unique index makes check and insert a
	// single statement; a concurrent insert for the same patient waits and
	// then falls into DO NOTHING.
	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, appointment_time, appointment_end_time,
			status, reschedule_notice_sent, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 'scheduled', false, now(), now())
		ON CONFLICT (patient_id) WHERE status = 'scheduled' DO NOTHING
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.AppointmentTime, a.AppointmentEndTime,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrActiveAppointmentExists
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
}

func (r *PgRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
}

func (r *PgRepository) get(ctx context.Context, query string, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.q.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, err
}

func (r *PgRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 OR doctor_id = $1
		ORDER BY appointment_time DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) TransitionToCheckedIn(ctx context.Context, id uuid.UUID, actor user.Actor, now time.Time) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'checked-in',
		    check_in_time = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		  AND CASE $4::text
		        WHEN 'patient' THEN patient_id = $3
		        WHEN 'doctor'  THEN doctor_id = $3
		        ELSE false
		      END
		RETURNING `+appointmentColumns,
		id, now.UTC(), actor.ID, string(actor.Role),
	)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("check in appointment: %w", err)
	}

	// nothing matched; report why
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.CanCheckIn(actor) {
		return nil, ErrCheckInForbidden
	}
	return nil, ErrNotScheduled
}

func (r *PgRepository) ApplyReschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET rescheduled_from = id,
		    appointment_time = $2,
		    appointment_end_time = $3,
		    status = 'scheduled',
		    check_in_time = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, schedule.NormalizeTime(start), schedule.NormalizeTime(end),
	)

	updated, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, singleScheduledIndex) {
			return nil, ErrActiveAppointmentExists
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reschedule appointment: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) MarkNoShowIfNoticePending(ctx context.Context, id uuid.UUID, now time.Time) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'no-show',
		    reschedule_notice_sent = true,
		    updated_at = now()
		WHERE id = $1
		  AND reschedule_notice_sent = false
		  AND status = 'scheduled'
		  AND check_in_time IS NULL
		  AND appointment_end_time <= $2
		RETURNING `+appointmentColumns, id, now)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("mark no-show: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindNoShowCandidates(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND check_in_time IS NULL
		  AND reschedule_notice_sent = false
		  AND appointment_end_time <= $1
		ORDER BY appointment_end_time
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find no-show candidates: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Stats(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (*Stats, error) {
	var s Stats
	err := r.q.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE appointment_time >= $2 AND appointment_time < $3),
			count(*) FILTER (WHERE appointment_time >= $2 AND appointment_time < $3 AND status = 'no-show'),
			count(*) FILTER (WHERE appointment_time >= $2 AND appointment_time < $3 AND status = 'checked-in'),
			count(DISTINCT patient_id)
		FROM appointments
		WHERE doctor_id = $1
	`, doctorID, from, to).Scan(
		&s.TodayAppointments,
		&s.MissedAppointments,
		&s.CompletedToday,
		&s.TotalPatients,
	)
	if err != nil {
		return nil, fmt.Errorf("appointment stats: %w", err)
	}
	return &s, nil
}
