package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chinmaydhabale/medschedule/internal/apperr"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

var (
	ErrAppointmentNotFound     = apperr.NotFound("appointment not found")
	ErrActiveAppointmentExists = apperr.Conflict("patient already has an active appointment")
	ErrAlreadyProcessed        = apperr.Conflict("appointment already processed")
	ErrNotScheduled            = apperr.Conflict("appointment is not in scheduled status")
	ErrCheckInForbidden        = apperr.Forbidden("only the appointment's patient or doctor can check in")
)

// Repository is the appointment store. Writes are conditional so that racing
// callers see a classified error instead of overwriting each other.
type Repository interface {
	// CreateIfNoActive inserts a unless its patient already holds a scheduled
	// appointment, in one statement.
	CreateIfNoActive(ctx context.Context, a *Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetByIDForUpdate row-locks the appointment until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Appointment, error)
	TransitionToCheckedIn(ctx context.Context, id uuid.UUID, actor user.Actor, now time.Time) (*Appointment, error)
	ApplyReschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error)
	// MarkNoShowIfNoticePending flips a still-pending appointment whose end
	// time is at or before now. Anything else is ErrAlreadyProcessed.
	MarkNoShowIfNoticePending(ctx context.Context, id uuid.UUID, now time.Time) (*Appointment, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error
	FindNoShowCandidates(ctx context.Context, now time.Time, limit int) ([]Appointment, error)
	Stats(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (*Stats, error)
}

// SlotStore is the part of the slot calendar the booking engine mutates.
type SlotStore interface {
	FindUnbookedSlot(ctx context.Context, doctorID uuid.UUID, date schedule.Date, start time.Time) (*schedule.Slot, error)
	MarkBooked(ctx context.Context, doctorID uuid.UUID, date schedule.Date, start time.Time, appointmentID uuid.UUID) error
	MarkUnbooked(ctx context.Context, doctorID uuid.UUID, date schedule.Date, start time.Time, appointmentID uuid.UUID) error
}

// TxStores are stores bound to one atomic unit.
type TxStores struct {
	Slots        SlotStore
	Appointments Repository
}

// Transactor runs fn as one atomic unit: every write made through the
// provided stores commits together or not at all. fn may be invoked more than
// once when the unit is retried.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error
}
