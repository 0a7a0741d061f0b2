package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/appointment"
	"github.com/chinmaydhabale/medschedule/internal/metrics"
	"github.com/chinmaydhabale/medschedule/internal/notification"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

type BookingService interface {
	Create(ctx context.Context, actor user.Actor, doctorID uuid.UUID, start, end time.Time) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, actor user.Actor, id uuid.UUID, newTime time.Time) (*appointment.Appointment, error)
	CheckIn(ctx context.Context, actor user.Actor, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, actor user.Actor, id uuid.UUID) error
	Get(ctx context.Context, actor user.Actor, id uuid.UUID) (*appointment.AppointmentDetail, error)
	List(ctx context.Context, actor user.Actor) ([]appointment.Appointment, error)
	GetStats(ctx context.Context, actor user.Actor) (*appointment.Stats, error)
}

type ScheduleService interface {
	Publish(ctx context.Context, actor user.Actor, date schedule.Date, slots []schedule.SlotInput) (*schedule.Schedule, error)
	Available(ctx context.Context, doctorID uuid.UUID, date *schedule.Date) ([]schedule.DayAvailability, error)
}

// NotificationInbox is the caller-scoped view of stored notifications.
type NotificationInbox interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]notification.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*notification.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error)
}

type RouterConfig struct {
	Bookings      BookingService
	Schedules     ScheduleService
	Notifications NotificationInbox
	Auth          Authenticator
	Log           *zap.Logger
	Metrics       *metrics.Metrics

	PostgresPing PingFunc
	RedisPing    PingFunc
	Env          string
	Version      string

	RateLimitRPS   int
	AllowedOrigins []string
}

// anyOrigin reports whether the CORS list admits every origin. An empty list
// does too.
func anyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	d := &deps{
		bookings:  cfg.Bookings,
		schedules: cfg.Schedules,
		inbox:     cfg.Notifications,
		validate:  newRequestValidator(),
		log:       log,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !anyOrigin(cfg.AllowedOrigins),
		MaxAge:           300,
	}))
	if cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitRPS, time.Second))
	}

	health := NewHealthHandler(cfg.PostgresPing, cfg.RedisPing, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Get("/schedules/doctor/{doctorId}", availableSlotsHandler(d))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		r.Post("/appointments", createAppointmentHandler(d))
		r.Get("/appointments", listAppointmentsHandler(d))
		r.Get("/appointments/stats", appointmentStatsHandler(d))
		r.Get("/appointments/{id}", getAppointmentHandler(d))
		r.Put("/appointments/{id}/check-in", checkInHandler(d))
		r.Put("/appointments/{id}/reschedule", rescheduleHandler(d))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(d))

		r.Post("/schedules", publishScheduleHandler(d))

		r.Get("/notifications", listNotificationsHandler(d))
		r.Put("/notifications/read-all", markAllNotificationsReadHandler(d))
		r.Put("/notifications/{id}/read", markNotificationReadHandler(d))
		r.Delete("/notifications/{id}", deleteNotificationHandler(d))
		r.Delete("/notifications", deleteAllNotificationsHandler(d))
	})

	return r
}
