package user

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID             uuid.UUID
	Name           string
	Email          string
	PhoneNumber    *string
	Role           Role
	Specialization *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
	Name string
}

func (a Actor) Is(role Role) bool { return a.Role == role }
