package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/chinmaydhabale/medschedule/internal/config"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

var (
	ErrNoAddress       = errors.New("recipient has no address for this notification type")
	ErrUnsupportedType = errors.New("notification type not supported by sender")
)

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient user.User, msg Message) error
}

// NewSender builds the sender selected by cfg.Driver. The returned close
// function releases connections held by the sender.
func NewSender(cfg config.NotifyConfig, log *zap.Logger) (Sender, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "log":
		return NewLogSender(log), noop, nil
	case "smtp":
		return NewSMTPSender(cfg), noop, nil
	case "amqp":
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect amqp: %w", err)
		}
		qs, err := NewQueueSender(conn, cfg.AMQPQueue)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return qs, func() error {
			_ = qs.Close()
			return conn.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify driver %q", cfg.Driver)
	}
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, recipient user.User, msg Message) error {
	s.log.Info("notification",
		zap.String("user_id", recipient.ID.String()),
		zap.String("type", string(msg.Type)),
		zap.String("message", msg.Message),
	)
	return nil
}

// SMTPSender delivers email notifications through gomail.
type SMTPSender struct {
	from   string
	dialer *gomail.Dialer
}

func NewSMTPSender(cfg config.NotifyConfig) *SMTPSender {
	return &SMTPSender{
		from:   cfg.SMTPFrom,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
	}
}

func (s *SMTPSender) Send(ctx context.Context, recipient user.User, msg Message) error {
	if msg.Type != TypeEmail {
		return ErrUnsupportedType
	}
	if recipient.Email == "" {
		return ErrNoAddress
	}

	m := buildEmail(s.from, recipient, msg)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildEmail(from string, recipient user.User, msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetAddressHeader("To", recipient.Email, recipient.Name)
	m.SetHeader("Subject", "Appointment update")
	m.SetBody("text/plain", msg.Message)
	return m
}

// QueueSender publishes notifications as JSON to an AMQP queue for an
// out-of-process delivery worker.
type QueueSender struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

type queuePayload struct {
	UserID        string  `json:"userId"`
	Email         string  `json:"email,omitempty"`
	PhoneNumber   string  `json:"phoneNumber,omitempty"`
	Type          string  `json:"type"`
	Message       string  `json:"message"`
	AppointmentID *string `json:"appointmentId,omitempty"`
}

func NewQueueSender(conn *amqp.Connection, queue string) (*QueueSender, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &QueueSender{ch: ch, queue: queue}, nil
}

func (s *QueueSender) Send(ctx context.Context, recipient user.User, msg Message) error {
	body, err := encodePayload(recipient, msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (s *QueueSender) Close() error {
	return s.ch.Close()
}

func encodePayload(recipient user.User, msg Message) ([]byte, error) {
	p := queuePayload{
		UserID:  recipient.ID.String(),
		Email:   recipient.Email,
		Type:    string(msg.Type),
		Message: msg.Message,
	}
	if recipient.PhoneNumber != nil {
		p.PhoneNumber = *recipient.PhoneNumber
	}
	if msg.Type == TypeSMS && p.PhoneNumber == "" {
		return nil, ErrNoAddress
	}
	if msg.AppointmentID != nil {
		id := msg.AppointmentID.String()
		p.AppointmentID = &id
	}
	return json.Marshal(p)
}
