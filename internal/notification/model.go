package notification

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is what the booking engine hands to a Dispatcher.
type Message struct {
	Type          Type
	Message       string
	AppointmentID *uuid.UUID
}

type Notification struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AppointmentID *uuid.UUID
	Type          Type
	Message       string
	Status        Status
	IsRead        bool
	SentAt        time.Time
	CreatedAt     time.Time
}

func Email(text string, appointmentID uuid.UUID) Message {
	return Message{Type: TypeEmail, Message: text, AppointmentID: &appointmentID}
}
