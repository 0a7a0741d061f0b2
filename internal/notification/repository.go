package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chinmaydhabale/medschedule/internal/apperr"
	"github.com/chinmaydhabale/medschedule/internal/db"
)

var ErrNotificationNotFound = apperr.NotFound("notification not found")

// Every read and write below is scoped to one user's records.
type PgRepository struct {
	q db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

const notificationColumns = `id, user_id, appointment_id, type, message, status, is_read, sent_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.AppointmentID,
		&n.Type,
		&n.Message,
		&n.Status,
		&n.IsRead,
		&n.SentAt,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *PgRepository) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, appointment_id, type, message, status, is_read, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, now(), now())
		RETURNING sent_at, created_at
	`, n.ID, n.UserID, n.AppointmentID, n.Type, n.Message, n.Status).Scan(&n.SentAt, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE notifications
		SET status = $2, sent_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PgRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1 AND user_id = $2
		RETURNING `+notificationColumns, id, userID)
	n, err := scanNotification(row)
	if err != nil && !errors.Is(err, ErrNotificationNotFound) {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, err
}

func (r *PgRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE user_id = $1 AND is_read = false
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PgRepository) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
