package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chinmaydhabale/medschedule/internal/apperr"
	"github.com/chinmaydhabale/medschedule/internal/db"
)

var ErrUserNotFound = apperr.NotFound("user not found")

// Directory resolves users for authorization checks and notification delivery.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type PgRepository struct {
	q db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PhoneNumber,
		&u.Role,
		&u.Specialization,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, phone_number, role, specialization, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	u, err := scanUser(row)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, err
}

// Create inserts u, generating an id when u.ID is nil. Used by seeding.
func (r *PgRepository) Create(ctx context.Context, u *User) (*User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if !u.Role.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("invalid role %q", u.Role))
	}
	row := r.q.QueryRow(ctx, `
		INSERT INTO users (id, name, email, phone_number, role, specialization, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, name, email, phone_number, role, specialization, created_at, updated_at
	`, u.ID, u.Name, u.Email, u.PhoneNumber, u.Role, u.Specialization)
	created, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err, "users_email_key") {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}
