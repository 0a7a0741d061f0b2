package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/apperr"
	"github.com/chinmaydhabale/medschedule/internal/metrics"
	"github.com/chinmaydhabale/medschedule/internal/notification"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

var (
	ErrPatientOnly      = apperr.Forbidden("only patients can book appointments")
	ErrDoctorOnly       = apperr.Forbidden("only doctors can view appointment stats")
	ErrNotOwner         = apperr.Forbidden("only the appointment's patient can reschedule it")
	ErrCancelForbidden  = apperr.Forbidden("not allowed to cancel this appointment")
	ErrViewForbidden    = apperr.Forbidden("not allowed to view this appointment")
	ErrDoctorNotFound   = apperr.NotFound("doctor not found")
	ErrSlotNotAvailable = apperr.Conflict("slot not available")
	ErrMissingTime      = apperr.Validation("appointment time is required")
	ErrInvalidEndTime   = apperr.Validation("end time must be after start time")
)

const timeLayout = "Mon, 02 Jan 2006 15:04 MST"

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLocation sets the zone whose calendar day bounds the stats window.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// Service is the booking engine. Every mutating operation runs its store
// writes in one atomic unit and notifies only after that unit committed.
type Service struct {
	tx       Transactor
	appts    Repository
	users    user.Directory
	notifier notification.Dispatcher
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	loc      *time.Location
}

func NewService(tx Transactor, appts Repository, users user.Directory, notifier notification.Dispatcher, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		appts:    appts,
		users:    users,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create books the slot starting at start for the calling patient. The
// stored end time is the slot's; end, when given, only has to follow start.
func (s *Service) Create(ctx context.Context, actor user.Actor, doctorID uuid.UUID, start, end time.Time) (appt *Appointment, err error) {
	defer s.observe("create", time.Now(), &err)

	if !actor.Is(user.RolePatient) {
		return nil, ErrPatientOnly
	}
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctor id is required")
	}
	if start.IsZero() {
		return nil, ErrMissingTime
	}
	if !end.IsZero() && !end.After(start) {
		return nil, ErrInvalidEndTime
	}

	doctor, err := s.lookupDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	date := schedule.DateOf(start)
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st TxStores) error {
		slot, err := st.Slots.FindUnbookedSlot(ctx, doctorID, date, start)
		if err != nil {
			return slotError(err)
		}

		created, err := st.Appointments.CreateIfNoActive(ctx, New(actor.ID, doctorID, slot.StartTime, slot.EndTime))
		if err != nil {
			return err
		}

		if err := st.Slots.MarkBooked(ctx, doctorID, date, slot.StartTime, created.ID); err != nil {
			return slotError(err)
		}

		appt = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("patient_id", appt.PatientID.String()),
		zap.String("doctor_id", appt.DoctorID.String()),
		zap.Time("appointment_time", appt.AppointmentTime),
	)

	if patient := s.lookupRecipient(ctx, appt.PatientID); patient != nil {
		s.notifier.Dispatch(ctx, *doctor, notification.Email(
			fmt.Sprintf("New appointment booked with %s on %s", patient.Name, s.formatTime(appt.AppointmentTime)), appt.ID))
		s.notifier.Dispatch(ctx, *patient, notification.Email(
			fmt.Sprintf("Your appointment with Dr. %s is confirmed for %s", doctor.Name, s.formatTime(appt.AppointmentTime)), appt.ID))
	}

	return appt, nil
}

// Reschedule moves the caller's appointment to the doctor's free slot at
// newTime. Booking the new slot, releasing the old one and moving the
// appointment happen together or not at all.
func (s *Service) Reschedule(ctx context.Context, actor user.Actor, id uuid.UUID, newTime time.Time) (appt *Appointment, err error) {
	defer s.observe("reschedule", time.Now(), &err)

	if newTime.IsZero() {
		return nil, ErrMissingTime
	}

	current, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != current.PatientID {
		return nil, ErrNotOwner
	}

	var previous time.Time
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st TxStores) error {
		locked, err := st.Appointments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previous = locked.AppointmentTime

		newDate := schedule.DateOf(newTime)
		slot, err := st.Slots.FindUnbookedSlot(ctx, locked.DoctorID, newDate, newTime)
		if err != nil {
			return slotError(err)
		}
		if err := st.Slots.MarkBooked(ctx, locked.DoctorID, newDate, slot.StartTime, locked.ID); err != nil {
			return slotError(err)
		}

		// the old slot may have been removed independently; releasing is a no-op then
		if err := st.Slots.MarkUnbooked(ctx, locked.DoctorID, locked.Date(), locked.AppointmentTime, locked.ID); err != nil {
			return err
		}

		moved, err := st.Appointments.ApplyReschedule(ctx, locked.ID, slot.StartTime, slot.EndTime)
		if err != nil {
			return err
		}
		appt = moved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", appt.ID.String()),
		zap.Time("from", previous),
		zap.Time("to", appt.AppointmentTime),
	)

	if doctor := s.lookupRecipient(ctx, appt.DoctorID); doctor != nil {
		s.notifier.Dispatch(ctx, *doctor, notification.Email(
			fmt.Sprintf("Appointment with %s moved from %s to %s", actor.Name, s.formatTime(previous), s.formatTime(appt.AppointmentTime)), appt.ID))
	}

	return appt, nil
}

// CheckIn marks a scheduled appointment attended.
func (s *Service) CheckIn(ctx context.Context, actor user.Actor, id uuid.UUID) (appt *Appointment, err error) {
	defer s.observe("check_in", time.Now(), &err)

	current, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.CanCheckIn(actor) {
		return nil, ErrCheckInForbidden
	}
	if current.Status != StatusScheduled {
		return nil, ErrNotScheduled
	}

	appt, err = s.appts.TransitionToCheckedIn(ctx, id, actor, s.now())
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment checked in",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return appt, nil
}

// Cancel deletes the appointment and releases its slot.
func (s *Service) Cancel(ctx context.Context, actor user.Actor, id uuid.UUID) (err error) {
	defer s.observe("cancel", time.Now(), &err)

	current, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.CanCancel(actor) {
		return ErrCancelForbidden
	}

	var cancelled *Appointment
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st TxStores) error {
		locked, err := st.Appointments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := st.Slots.MarkUnbooked(ctx, locked.DoctorID, locked.Date(), locked.AppointmentTime, locked.ID); err != nil {
			return err
		}
		if err := st.Appointments.DeleteByID(ctx, locked.ID); err != nil {
			return err
		}
		cancelled = locked
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.String("actor_role", string(actor.Role)),
	)

	if doctor := s.lookupRecipient(ctx, cancelled.DoctorID); doctor != nil {
		s.notifier.Dispatch(ctx, *doctor, notification.Email(
			fmt.Sprintf("Appointment on %s has been cancelled", s.formatTime(cancelled.AppointmentTime)), cancelled.ID))
	}
	return nil
}

// Get returns one appointment with doctor and patient summaries.
func (s *Service) Get(ctx context.Context, actor user.Actor, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.CanView(actor) {
		return nil, ErrViewForbidden
	}

	detail := &AppointmentDetail{Appointment: *appt}
	if doctor, err := s.users.GetByID(ctx, appt.DoctorID); err == nil {
		detail.Doctor = participantOf(doctor)
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, err
	}
	if patient, err := s.users.GetByID(ctx, appt.PatientID); err == nil {
		detail.Patient = participantOf(patient)
		detail.Patient.Specialization = nil
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, err
	}
	return detail, nil
}

// List returns the caller's appointments as patient or doctor, latest first.
func (s *Service) List(ctx context.Context, actor user.Actor) ([]Appointment, error) {
	return s.appts.ListForUser(ctx, actor.ID)
}

// GetStats aggregates the calling doctor's appointments for today.
func (s *Service) GetStats(ctx context.Context, actor user.Actor) (*Stats, error) {
	if !actor.Is(user.RoleDoctor) {
		return nil, ErrDoctorOnly
	}
	from, to := dayBounds(s.now(), s.loc)
	return s.appts.Stats(ctx, actor.ID, from, to)
}

func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func (s *Service) lookupDoctor(ctx context.Context, id uuid.UUID) (*user.User, error) {
	doctor, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	if doctor.Role != user.RoleDoctor {
		return nil, ErrDoctorNotFound
	}
	return doctor, nil
}

// lookupRecipient resolves a notification recipient. Failures are logged
// and yield nil; they never fail the operation that already committed.
func (s *Service) lookupRecipient(ctx context.Context, id uuid.UUID) *user.User {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		s.log.Warn("notification recipient lookup failed",
			zap.String("user_id", id.String()),
			zap.Error(err),
		)
		return nil
	}
	return u
}

func (s *Service) formatTime(t time.Time) string {
	return t.In(s.loc).Format(timeLayout)
}

func (s *Service) observe(op string, started time.Time, err *error) {
	s.metrics.ObserveBooking(op, outcome(*err), time.Since(started))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

// slotError maps slot store misses to the booking conflict callers see.
func slotError(err error) error {
	if errors.Is(err, schedule.ErrSlotNotFound) || errors.Is(err, schedule.ErrSlotUnavailable) {
		return ErrSlotNotAvailable
	}
	return err
}
