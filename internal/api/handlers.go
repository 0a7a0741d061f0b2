package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/schedule"
)

// deps is what every handler closes over.
type deps struct {
	bookings  BookingService
	schedules ScheduleService
	inbox     NotificationInbox
	validate  *requestValidator
	log       *zap.Logger
}

func createAppointmentHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !d.validate.decode(w, r, &req) {
			return
		}

		// validated as a uuid above
		doctorID := uuid.MustParse(req.DoctorID)
		var end time.Time
		if req.AppointmentEndTime != nil {
			end = *req.AppointmentEndTime
		}

		appt, err := d.bookings.Create(r.Context(), actorFrom(r.Context()), doctorID, *req.AppointmentTime, end)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		writeJSON(w, http.StatusCreated, AppointmentEnvelope{
			Message:     "Appointment booked successfully",
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func listAppointmentsHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := d.bookings.List(r.Context(), actorFrom(r.Context()))
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		resp := AppointmentsEnvelope{Appointments: make([]AppointmentResponse, 0, len(appts))}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		detail, err := d.bookings.Get(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		writeJSON(w, http.StatusOK, AppointmentEnvelope{
			Appointment: AppointmentDetailResponse{
				AppointmentResponse: toAppointmentResponse(&detail.Appointment),
				Doctor:              toParticipantResponse(detail.Doctor),
				Patient:             toParticipantResponse(detail.Patient),
			},
		})
	}
}

func appointmentStatsHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := d.bookings.GetStats(r.Context(), actorFrom(r.Context()))
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		writeJSON(w, http.StatusOK, StatsResponse{
			TodayAppointments:  stats.TodayAppointments,
			MissedAppointments: stats.MissedAppointments,
			CompletedToday:     stats.CompletedToday,
			TotalPatients:      stats.TotalPatients,
		})
	}
}

func checkInHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		appt, err := d.bookings.CheckIn(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		writeJSON(w, http.StatusOK, AppointmentEnvelope{
			Message:     "Checked in successfully",
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func rescheduleHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		var req RescheduleRequest
		if !d.validate.decode(w, r, &req) {
			return
		}

		appt, err := d.bookings.Reschedule(r.Context(), actorFrom(r.Context()), id, *req.NewAppointmentTime)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		writeJSON(w, http.StatusOK, AppointmentEnvelope{
			Message:     "Appointment rescheduled successfully",
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func cancelAppointmentHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		if err := d.bookings.Cancel(r.Context(), actorFrom(r.Context()), id); err != nil {
			writeError(w, r, d.log, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "Appointment cancelled successfully"})
	}
}

func publishScheduleHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PublishScheduleRequest
		if !d.validate.decode(w, r, &req) {
			return
		}

		date, err := schedule.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}
		inputs := make([]schedule.SlotInput, 0, len(req.Slots))
		for _, s := range req.Slots {
			inputs = append(inputs, schedule.SlotInput{StartTime: *s.StartTime, EndTime: *s.EndTime})
		}

		sched, err := d.schedules.Publish(r.Context(), actorFrom(r.Context()), date, inputs)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		writeJSON(w, http.StatusOK, ScheduleEnvelope{
			Message: "Schedule saved successfully",
			Schedule: ScheduleResponse{
				ID:       sched.ID,
				DoctorID: sched.DoctorID,
				Date:     sched.Date.String(),
				Slots:    toSlotResponses(sched.Slots),
			},
		})
	}
}

func availableSlotsHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseIDParam(r, "doctorId")
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		var date *schedule.Date
		if raw := r.URL.Query().Get("date"); raw != "" {
			parsed, err := schedule.ParseDate(raw)
			if err != nil {
				writeError(w, r, d.log, err)
				return
			}
			date = &parsed
		}

		days, err := d.schedules.Available(r.Context(), doctorID, date)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		resp := AvailabilityResponse{DoctorID: doctorID, AvailableSlots: make([]DayResponse, 0, len(days))}
		for _, day := range days {
			resp.AvailableSlots = append(resp.AvailableSlots, DayResponse{
				Date:  day.Date.String(),
				Slots: toSlotResponses(day.Slots),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listNotificationsHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := d.inbox.ListForUser(r.Context(), actorFrom(r.Context()).ID)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		resp := NotificationsEnvelope{Notifications: make([]NotificationResponse, 0, len(items))}
		for i := range items {
			resp.Notifications = append(resp.Notifications, toNotificationResponse(&items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func markNotificationReadHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		n, err := d.inbox.MarkRead(r.Context(), actorFrom(r.Context()).ID, id)
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		writeJSON(w, http.StatusOK, NotificationEnvelope{
			Message:      "Notification marked as read",
			Notification: toNotificationResponse(n),
		})
	}
}

func markAllNotificationsReadHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := d.inbox.MarkAllRead(r.Context(), actorFrom(r.Context()).ID); err != nil {
			writeError(w, r, d.log, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "All notifications marked as read"})
	}
}

func deleteNotificationHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, r, d.log, err)
			return
		}

		if err := d.inbox.Delete(r.Context(), actorFrom(r.Context()).ID, id); err != nil {
			writeError(w, r, d.log, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Notification deleted"})
	}
}

func deleteAllNotificationsHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := d.inbox.DeleteAll(r.Context(), actorFrom(r.Context()).ID); err != nil {
			writeError(w, r, d.log, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "All notifications deleted"})
	}
}
