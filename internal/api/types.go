package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/chinmaydhabale/medschedule/internal/appointment"
	"github.com/chinmaydhabale/medschedule/internal/notification"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
)

type CreateAppointmentRequest struct {
	DoctorID           string     `json:"doctorId" validate:"required,uuid"`
	AppointmentTime    *time.Time `json:"appointmentTime" validate:"required"`
	AppointmentEndTime *time.Time `json:"appointmentEndTime"`
}

type RescheduleRequest struct {
	NewAppointmentTime *time.Time `json:"newAppointmentTime" validate:"required"`
}

type SlotRequest struct {
	StartTime *time.Time `json:"startTime" validate:"required"`
	EndTime   *time.Time `json:"endTime" validate:"required"`
}

type PublishScheduleRequest struct {
	Date  string        `json:"date" validate:"required,datetime=2006-01-02"`
	Slots []SlotRequest `json:"slots" validate:"required,min=1,dive"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Errors []FieldError `json:"errors"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type AppointmentResponse struct {
	ID                   uuid.UUID  `json:"id"`
	PatientID            uuid.UUID  `json:"patientId"`
	DoctorID             uuid.UUID  `json:"doctorId"`
	AppointmentTime      time.Time  `json:"appointmentTime"`
	AppointmentEndTime   time.Time  `json:"appointmentEndTime"`
	Status               string     `json:"status"`
	CheckInTime          *time.Time `json:"checkInTime"`
	RescheduleNoticeSent bool       `json:"rescheduleNoticeSent"`
	RescheduledFrom      *uuid.UUID `json:"rescheduledFrom,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

type ParticipantResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Specialization *string   `json:"specialization,omitempty"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Doctor  *ParticipantResponse `json:"doctor,omitempty"`
	Patient *ParticipantResponse `json:"patient,omitempty"`
}

type AppointmentEnvelope struct {
	Message     string `json:"message,omitempty"`
	Appointment any    `json:"appointment"`
}

type AppointmentsEnvelope struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type StatsResponse struct {
	TodayAppointments  int `json:"todayAppointments"`
	MissedAppointments int `json:"missedAppointments"`
	CompletedToday     int `json:"completedToday"`
	TotalPatients      int `json:"totalPatients"`
}

type SlotResponse struct {
	StartTime     time.Time  `json:"startTime"`
	EndTime       time.Time  `json:"endTime"`
	IsBooked      bool       `json:"isBooked"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
}

type ScheduleResponse struct {
	ID       uuid.UUID      `json:"id"`
	DoctorID uuid.UUID      `json:"doctorId"`
	Date     string         `json:"date"`
	Slots    []SlotResponse `json:"slots"`
}

type ScheduleEnvelope struct {
	Message  string           `json:"message"`
	Schedule ScheduleResponse `json:"schedule"`
}

type DayResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type AvailabilityResponse struct {
	DoctorID       uuid.UUID     `json:"doctorId"`
	AvailableSlots []DayResponse `json:"availableSlots"`
}

type NotificationResponse struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"userId"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	Type          string     `json:"type"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	IsRead        bool       `json:"isRead"`
	SentAt        time.Time  `json:"sentAt"`
}

type NotificationsEnvelope struct {
	Notifications []NotificationResponse `json:"notifications"`
}

type NotificationEnvelope struct {
	Message      string               `json:"message"`
	Notification NotificationResponse `json:"notification"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                   a.ID,
		PatientID:            a.PatientID,
		DoctorID:             a.DoctorID,
		AppointmentTime:      a.AppointmentTime,
		AppointmentEndTime:   a.AppointmentEndTime,
		Status:               string(a.Status),
		CheckInTime:          a.CheckInTime,
		RescheduleNoticeSent: a.RescheduleNoticeSent,
		RescheduledFrom:      a.RescheduledFrom,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func toParticipantResponse(p *appointment.Participant) *ParticipantResponse {
	if p == nil {
		return nil
	}
	return &ParticipantResponse{ID: p.ID, Name: p.Name, Email: p.Email, Specialization: p.Specialization}
}

func toSlotResponses(slots []schedule.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
			IsBooked:      s.IsBooked,
			AppointmentID: s.AppointmentID,
		})
	}
	return out
}

func toNotificationResponse(n *notification.Notification) NotificationResponse {
	return NotificationResponse{
		ID:            n.ID,
		UserID:        n.UserID,
		AppointmentID: n.AppointmentID,
		Type:          string(n.Type),
		Message:       n.Message,
		Status:        string(n.Status),
		IsRead:        n.IsRead,
		SentAt:        n.SentAt,
	}
}
