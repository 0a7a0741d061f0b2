package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chinmaydhabale/medschedule/internal/apperr"
	"github.com/chinmaydhabale/medschedule/internal/appointment"
	"github.com/chinmaydhabale/medschedule/internal/metrics"
	"github.com/chinmaydhabale/medschedule/internal/notification"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

type fakeAuth map[string]user.Actor

func (f fakeAuth) Verify(token string) (user.Actor, error) {
	a, ok := f[token]
	if !ok {
		return user.Actor{}, errors.New("bad token")
	}
	return a, nil
}

type bookingCall struct {
	actor    user.Actor
	id       uuid.UUID
	start    time.Time
	end      time.Time
	doctorID uuid.UUID
}

type fakeBookings struct {
	appt  *appointment.Appointment
	stats *appointment.Stats
	err   error
	calls []bookingCall
}

func (f *fakeBookings) Create(_ context.Context, actor user.Actor, doctorID uuid.UUID, start, end time.Time) (*appointment.Appointment, error) {
	f.calls = append(f.calls, bookingCall{actor: actor, doctorID: doctorID, start: start, end: end})
	return f.appt, f.err
}

func (f *fakeBookings) Reschedule(_ context.Context, actor user.Actor, id uuid.UUID, newTime time.Time) (*appointment.Appointment, error) {
	f.calls = append(f.calls, bookingCall{actor: actor, id: id, start: newTime})
	return f.appt, f.err
}

func (f *fakeBookings) CheckIn(_ context.Context, actor user.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	f.calls = append(f.calls, bookingCall{actor: actor, id: id})
	return f.appt, f.err
}

func (f *fakeBookings) Cancel(_ context.Context, actor user.Actor, id uuid.UUID) error {
	f.calls = append(f.calls, bookingCall{actor: actor, id: id})
	return f.err
}

func (f *fakeBookings) Get(_ context.Context, actor user.Actor, id uuid.UUID) (*appointment.AppointmentDetail, error) {
	f.calls = append(f.calls, bookingCall{actor: actor, id: id})
	if f.err != nil {
		return nil, f.err
	}
	return &appointment.AppointmentDetail{
		Appointment: *f.appt,
		Doctor:      &appointment.Participant{ID: f.appt.DoctorID, Name: "House", Email: "house@example.com"},
		Patient:     &appointment.Participant{ID: f.appt.PatientID, Name: "Pat", Email: "pat@example.com"},
	}, nil
}

func (f *fakeBookings) List(_ context.Context, actor user.Actor) ([]appointment.Appointment, error) {
	f.calls = append(f.calls, bookingCall{actor: actor})
	if f.err != nil {
		return nil, f.err
	}
	return []appointment.Appointment{*f.appt}, nil
}

func (f *fakeBookings) GetStats(_ context.Context, actor user.Actor) (*appointment.Stats, error) {
	f.calls = append(f.calls, bookingCall{actor: actor})
	return f.stats, f.err
}

type fakeSchedules struct {
	published []schedule.SlotInput
	date      *schedule.Date
	days      []schedule.DayAvailability
	err       error
}

func (f *fakeSchedules) Publish(_ context.Context, actor user.Actor, date schedule.Date, slots []schedule.SlotInput) (*schedule.Schedule, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = slots
	return schedule.NewSchedule(actor.ID, date, slots)
}

func (f *fakeSchedules) Available(_ context.Context, _ uuid.UUID, date *schedule.Date) ([]schedule.DayAvailability, error) {
	f.date = date
	return f.days, f.err
}

type fakeInbox struct {
	userID uuid.UUID
	err    error
}

func (f *fakeInbox) ListForUser(_ context.Context, userID uuid.UUID) ([]notification.Notification, error) {
	f.userID = userID
	return []notification.Notification{{ID: uuid.New(), UserID: userID, Type: notification.TypeEmail, Message: "hi"}}, f.err
}

func (f *fakeInbox) MarkRead(_ context.Context, userID, id uuid.UUID) (*notification.Notification, error) {
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	return &notification.Notification{ID: id, UserID: userID, IsRead: true}, nil
}

func (f *fakeInbox) MarkAllRead(_ context.Context, userID uuid.UUID) (int64, error) {
	f.userID = userID
	return 2, f.err
}

func (f *fakeInbox) Delete(_ context.Context, userID, _ uuid.UUID) error {
	f.userID = userID
	return f.err
}

func (f *fakeInbox) DeleteAll(_ context.Context, userID uuid.UUID) (int64, error) {
	f.userID = userID
	return 3, f.err
}

type routerFixture struct {
	handler   http.Handler
	bookings  *fakeBookings
	schedules *fakeSchedules
	inbox     *fakeInbox
	patient   user.Actor
	doctor    user.Actor
	appt      *appointment.Appointment
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		patient:   user.Actor{ID: uuid.New(), Role: user.RolePatient, Name: "Pat"},
		doctor:    user.Actor{ID: uuid.New(), Role: user.RoleDoctor, Name: "House"},
		schedules: &fakeSchedules{},
		inbox:     &fakeInbox{},
	}
	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.appt = appointment.New(f.patient.ID, f.doctor.ID, start, start.Add(30*time.Minute))
	f.bookings = &fakeBookings{appt: f.appt}

	f.handler = NewRouter(RouterConfig{
		Bookings:      f.bookings,
		Schedules:     f.schedules,
		Notifications: f.inbox,
		Auth:          fakeAuth{"patient": f.patient, "doctor": f.doctor},
		Log:           zaptest.NewLogger(t),
		Metrics:       metrics.New(),
		PostgresPing:  func(context.Context) error { return nil },
		RedisPing:     func(context.Context) error { return nil },
		Env:           "test",
		Version:       "dev",
	})
	return f
}

func (f *routerFixture) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreateAppointment(t *testing.T) {
	f := newRouterFixture(t)
	body := `{"doctorId":"` + f.doctor.ID.String() + `","appointmentTime":"2024-01-10T09:00:00Z","appointmentEndTime":"2024-01-10T09:30:00Z"}`

	rec, out := f.do(t, http.MethodPost, "/appointments", "patient", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Appointment booked successfully", out["message"])

	appt := out["appointment"].(map[string]any)
	assert.Equal(t, f.appt.ID.String(), appt["id"])
	assert.Equal(t, "scheduled", appt["status"])
	assert.Equal(t, "2024-01-10T09:00:00Z", appt["appointmentTime"])

	require.Len(t, f.bookings.calls, 1)
	call := f.bookings.calls[0]
	assert.Equal(t, f.patient, call.actor)
	assert.Equal(t, f.doctor.ID, call.doctorID)
	assert.True(t, call.end.Equal(f.appt.AppointmentEndTime))
}

func TestCreateAppointment_EndTimeOptional(t *testing.T) {
	f := newRouterFixture(t)
	body := `{"doctorId":"` + f.doctor.ID.String() + `","appointmentTime":"2024-01-10T09:00:00Z"}`

	rec, _ := f.do(t, http.MethodPost, "/appointments", "patient", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, f.bookings.calls[0].end.IsZero())
}

func TestCreateAppointment_ValidationErrors(t *testing.T) {
	f := newRouterFixture(t)

	rec, out := f.do(t, http.MethodPost, "/appointments", "patient", `{"doctorId":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	fields := map[string]string{}
	for _, e := range out["errors"].([]any) {
		fe := e.(map[string]any)
		fields[fe["field"].(string)] = fe["message"].(string)
	}
	assert.Equal(t, map[string]string{
		"doctorId":        "must be a valid id",
		"appointmentTime": "is required",
	}, fields)
	assert.Empty(t, f.bookings.calls)
}

func TestCreateAppointment_BadJSON(t *testing.T) {
	f := newRouterFixture(t)

	rec, out := f.do(t, http.MethodPost, "/appointments", "patient", `{"appointmentTime":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", out["message"])
}

func TestAuthRequired(t *testing.T) {
	f := newRouterFixture(t)

	for name, token := range map[string]string{"missing": "", "unknown": "forged"} {
		t.Run(name, func(t *testing.T) {
			rec, out := f.do(t, http.MethodGet, "/appointments", token, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotEmpty(t, out["message"])
		})
	}
	assert.Empty(t, f.bookings.calls)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"conflict", appointment.ErrSlotNotAvailable, http.StatusConflict, "slot not available"},
		{"active", appointment.ErrActiveAppointmentExists, http.StatusConflict, "patient already has an active appointment"},
		{"forbidden", appointment.ErrPatientOnly, http.StatusForbidden, appointment.ErrPatientOnly.Message},
		{"not found", appointment.ErrAppointmentNotFound, http.StatusNotFound, appointment.ErrAppointmentNotFound.Message},
		{"validation", appointment.ErrMissingTime, http.StatusBadRequest, appointment.ErrMissingTime.Message},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, "internal server error"},
		{"wrapped internal", apperr.Internal("create appointment", errors.New("boom")), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.bookings.err = tc.err

			rec, out := f.do(t, http.MethodPut, "/appointments/"+f.appt.ID.String()+"/check-in", "patient", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.message, out["message"])
		})
	}
}

func TestInvalidPathID(t *testing.T) {
	f := newRouterFixture(t)

	rec, out := f.do(t, http.MethodDelete, "/appointments/42", "patient", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "id must be a valid id", out["message"])
	assert.Empty(t, f.bookings.calls)
}

func TestGetAppointment_Detail(t *testing.T) {
	f := newRouterFixture(t)

	rec, out := f.do(t, http.MethodGet, "/appointments/"+f.appt.ID.String(), "patient", "")
	require.Equal(t, http.StatusOK, rec.Code)

	appt := out["appointment"].(map[string]any)
	assert.Equal(t, f.appt.ID.String(), appt["id"])
	assert.Equal(t, "House", appt["doctor"].(map[string]any)["name"])
	assert.Equal(t, "Pat", appt["patient"].(map[string]any)["name"])
	assert.NotContains(t, out, "message")
}

func TestRescheduleCancelAndList(t *testing.T) {
	f := newRouterFixture(t)
	path := "/appointments/" + f.appt.ID.String()

	rec, out := f.do(t, http.MethodPut, path+"/reschedule", "patient", `{"newAppointmentTime":"2024-01-10T09:30:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Appointment rescheduled successfully", out["message"])
	assert.Equal(t, time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC), f.bookings.calls[0].start.UTC())

	rec, out = f.do(t, http.MethodPut, path+"/reschedule", "patient", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, out["errors"], 1)

	rec, out = f.do(t, http.MethodDelete, path, "patient", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Appointment cancelled successfully", out["message"])

	rec, out = f.do(t, http.MethodGet, "/appointments", "patient", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["appointments"], 1)
}

func TestStats(t *testing.T) {
	f := newRouterFixture(t)
	f.bookings.stats = &appointment.Stats{TodayAppointments: 4, MissedAppointments: 1, CompletedToday: 2, TotalPatients: 3}

	rec, out := f.do(t, http.MethodGet, "/appointments/stats", "doctor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"todayAppointments":  float64(4),
		"missedAppointments": float64(1),
		"completedToday":     float64(2),
		"totalPatients":      float64(3),
	}, out)
	assert.Equal(t, f.doctor, f.bookings.calls[0].actor)
}

func TestPublishSchedule(t *testing.T) {
	f := newRouterFixture(t)
	body := `{"date":"2024-01-10","slots":[
		{"startTime":"2024-01-10T09:30:00Z","endTime":"2024-01-10T10:00:00Z"},
		{"startTime":"2024-01-10T09:00:00Z","endTime":"2024-01-10T09:30:00Z"}]}`

	rec, out := f.do(t, http.MethodPost, "/schedules", "doctor", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Schedule saved successfully", out["message"])

	sched := out["schedule"].(map[string]any)
	assert.Equal(t, "2024-01-10", sched["date"])
	assert.Equal(t, f.doctor.ID.String(), sched["doctorId"])
	slots := sched["slots"].([]any)
	require.Len(t, slots, 2)
	assert.Equal(t, "2024-01-10T09:00:00Z", slots[0].(map[string]any)["startTime"])
}

func TestPublishSchedule_Validation(t *testing.T) {
	f := newRouterFixture(t)

	rec, out := f.do(t, http.MethodPost, "/schedules", "doctor", `{"date":"10/01/2024","slots":[{"startTime":"2024-01-10T09:00:00Z"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	fields := []string{}
	for _, e := range out["errors"].([]any) {
		fields = append(fields, e.(map[string]any)["field"].(string))
	}
	assert.ElementsMatch(t, []string{"date", "slots[0].endTime"}, fields)
	assert.Nil(t, f.schedules.published)
}

func TestAvailableSlots_Public(t *testing.T) {
	f := newRouterFixture(t)
	date, err := schedule.ParseDate("2024-01-10")
	require.NoError(t, err)
	start := date.Time().Add(9 * time.Hour)
	f.schedules.days = []schedule.DayAvailability{{
		Date:  date,
		Slots: []schedule.Slot{{StartTime: start, EndTime: start.Add(30 * time.Minute)}},
	}}

	rec, out := f.do(t, http.MethodGet, "/schedules/doctor/"+f.doctor.ID.String()+"?date=2024-01-10", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.doctor.ID.String(), out["doctorId"])
	require.NotNil(t, f.schedules.date)
	assert.Equal(t, date, *f.schedules.date)

	days := out["availableSlots"].([]any)
	require.Len(t, days, 1)
	assert.Equal(t, "2024-01-10", days[0].(map[string]any)["date"])

	rec, _ = f.do(t, http.MethodGet, "/schedules/doctor/"+f.doctor.ID.String()+"?date=tomorrow", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationRoutes(t *testing.T) {
	f := newRouterFixture(t)
	id := uuid.New().String()

	cases := []struct {
		method, path, message string
	}{
		{http.MethodPut, "/notifications/" + id + "/read", "Notification marked as read"},
		{http.MethodPut, "/notifications/read-all", "All notifications marked as read"},
		{http.MethodDelete, "/notifications/" + id, "Notification deleted"},
		{http.MethodDelete, "/notifications", "All notifications deleted"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			f.inbox.userID = uuid.Nil
			rec, out := f.do(t, tc.method, tc.path, "patient", "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.message, out["message"])
			assert.Equal(t, f.patient.ID, f.inbox.userID)
		})
	}

	rec, out := f.do(t, http.MethodGet, "/notifications", "doctor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["notifications"], 1)
	assert.Equal(t, f.doctor.ID, f.inbox.userID)

	f.inbox.err = notification.ErrNotificationNotFound
	rec, _ = f.do(t, http.MethodDelete, "/notifications/"+id, "patient", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	cases := []struct {
		name      string
		pg, redis PingFunc
		status    int
		overall   string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusOK, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
		{"no redis", up, nil, http.StatusOK, "ok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{PostgresPing: tc.pg, RedisPing: tc.redis, Version: "dev"})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tc.status, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.overall, resp.Status)
		})
	}
}

func TestRequestIDPropagated(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	f.do(t, http.MethodGet, "/appointments", "patient", "")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/appointments"`)
}

func TestCORSCredentials(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		allowOrigin string
		credentials string
	}{
		{"wildcard drops credentials", []string{"*"}, "https://evil.example", "*", ""},
		{"empty list drops credentials", nil, "https://evil.example", "*", ""},
		{"listed origin gets credentials", []string{"https://clinic.example"}, "https://clinic.example", "https://clinic.example", "true"},
		{"unlisted origin gets nothing", []string{"https://clinic.example"}, "https://evil.example", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{
				PostgresPing:   func(context.Context) error { return nil },
				AllowedOrigins: tt.origins,
			})
			req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.allowOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}
