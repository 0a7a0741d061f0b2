package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/chinmaydhabale/medschedule/internal/schedule"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCheckedIn Status = "checked-in"
	StatusNoShow    Status = "no-show"
)

type Appointment struct {
	ID                   uuid.UUID
	PatientID            uuid.UUID
	DoctorID             uuid.UUID
	AppointmentTime      time.Time
	AppointmentEndTime   time.Time
	Status               Status
	CheckInTime          *time.Time
	RescheduleNoticeSent bool
	RescheduledFrom      *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// New returns a scheduled appointment for the given slot interval.
func New(patientID, doctorID uuid.UUID, start, end time.Time) *Appointment {
	return &Appointment{
		ID:                 uuid.New(),
		PatientID:          patientID,
		DoctorID:           doctorID,
		AppointmentTime:    schedule.NormalizeTime(start),
		AppointmentEndTime: schedule.NormalizeTime(end),
		Status:             StatusScheduled,
	}
}

// Date is the schedule day holding the appointment's slot.
func (a *Appointment) Date() schedule.Date {
	return schedule.DateOf(a.AppointmentTime)
}

func (a *Appointment) IsParticipant(actor user.Actor) bool {
	return actor.ID == a.PatientID || actor.ID == a.DoctorID
}

// CanCheckIn: the appointment's patient, or its doctor.
func (a *Appointment) CanCheckIn(actor user.Actor) bool {
	switch actor.Role {
	case user.RolePatient:
		return actor.ID == a.PatientID
	case user.RoleDoctor:
		return actor.ID == a.DoctorID
	}
	return false
}

// CanCancel: the owning patient, the owning doctor, or any admin.
func (a *Appointment) CanCancel(actor user.Actor) bool {
	switch {
	case actor.ID == a.PatientID:
		return true
	case actor.Role == user.RoleAdmin:
		return true
	case actor.Role == user.RoleDoctor && actor.ID == a.DoctorID:
		return true
	}
	return false
}

// CanView: participants and admins.
func (a *Appointment) CanView(actor user.Actor) bool {
	return a.IsParticipant(actor) || actor.Role == user.RoleAdmin
}

type Participant struct {
	ID             uuid.UUID
	Name           string
	Email          string
	Specialization *string
}

func participantOf(u *user.User) *Participant {
	if u == nil {
		return nil
	}
	return &Participant{ID: u.ID, Name: u.Name, Email: u.Email, Specialization: u.Specialization}
}

type AppointmentDetail struct {
	Appointment
	Doctor  *Participant
	Patient *Participant
}

type Stats struct {
	TodayAppointments  int
	MissedAppointments int
	CompletedToday     int
	TotalPatients      int
}
