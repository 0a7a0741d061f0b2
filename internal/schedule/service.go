package schedule

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/apperr"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

var (
	ErrDoctorOnly     = apperr.Forbidden("only doctors can publish schedules")
	ErrDoctorNotFound = apperr.NotFound("doctor not found")
)

// Service publishes and lists doctor availability.
type Service struct {
	store Store
	users user.Directory
	log   *zap.Logger
}

func NewService(store Store, users user.Directory, log *zap.Logger) *Service {
	return &Service{store: store, users: users, log: log}
}

// Publish replaces the actor's slot list for date.
func (s *Service) Publish(ctx context.Context, actor user.Actor, date Date, slots []SlotInput) (*Schedule, error) {
	if !actor.Is(user.RoleDoctor) {
		return nil, ErrDoctorOnly
	}

	next, err := NewSchedule(actor.ID, date, slots)
	if err != nil {
		return nil, err
	}

	saved, err := s.store.ReplaceDaySchedule(ctx, next)
	if err != nil {
		return nil, err
	}

	s.log.Info("schedule published",
		zap.String("doctor_id", actor.ID.String()),
		zap.String("date", date.String()),
		zap.Int("slots", len(saved.Slots)),
	)
	return saved, nil
}

// Available lists the doctor's unbooked slots, optionally for one date only.
func (s *Service) Available(ctx context.Context, doctorID uuid.UUID, date *Date) ([]DayAvailability, error) {
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.store.ListAvailable(ctx, doctorID, date)
}

func (s *Service) requireDoctor(ctx context.Context, id uuid.UUID) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return ErrDoctorNotFound
		}
		return err
	}
	if u.Role != user.RoleDoctor {
		return ErrDoctorNotFound
	}
	return nil
}
