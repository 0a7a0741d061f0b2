package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/metrics"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

// Dispatcher is fire-and-forget delivery. Dispatch never fails and never
// blocks on delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipient user.User, msg Message)
}

// Recorder persists the notification record that backs a dispatch.
type Recorder interface {
	Create(ctx context.Context, n *Notification) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}

// AsyncDispatcher delivers each message on its own goroutine with a bounded
// timeout, detached from the caller's cancellation.
type AsyncDispatcher struct {
	sender  Sender
	records Recorder
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// NewAsyncDispatcher returns a dispatcher. records may be nil, in which case
// nothing is persisted.
func NewAsyncDispatcher(sender Sender, records Recorder, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AsyncDispatcher{
		sender:  sender,
		records: records,
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, recipient user.User, msg Message) {
	if msg.Type == "" {
		msg.Type = TypeEmail
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				d.log.Error("notification delivery panicked", zap.Any("panic", p))
			}
		}()

		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.deliver(deliverCtx, recipient, msg)
	}()
}

func (d *AsyncDispatcher) deliver(ctx context.Context, recipient user.User, msg Message) {
	n := &Notification{
		ID:            uuid.New(),
		UserID:        recipient.ID,
		AppointmentID: msg.AppointmentID,
		Type:          msg.Type,
		Message:       msg.Message,
		Status:        StatusPending,
	}

	recorded := false
	if d.records != nil {
		if err := d.records.Create(ctx, n); err != nil {
			d.log.Warn("failed to record notification",
				zap.String("user_id", recipient.ID.String()),
				zap.Error(err),
			)
		} else {
			recorded = true
		}
	}

	status := StatusSent
	if err := d.sender.Send(ctx, recipient, msg); err != nil {
		status = StatusFailed
		d.log.Warn("notification delivery failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", recipient.ID.String()),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
	d.metrics.ObserveNotification(string(status))

	if recorded {
		if err := d.records.UpdateStatus(ctx, n.ID, status); err != nil {
			d.log.Warn("failed to update notification status",
				zap.String("notification_id", n.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *AsyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
