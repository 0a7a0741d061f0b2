package appointment

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chinmaydhabale/medschedule/internal/notification"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

// memDB is an in-memory slot calendar and appointment table. Atomic units
// hold the lock for their whole duration and restore a snapshot on error, so
// tests observe the same all-or-nothing behaviour as the Postgres stores.
type memDB struct {
	mu     sync.Mutex
	slots  map[slotKey]schedule.Slot
	appts  map[uuid.UUID]Appointment
	failOn map[string]error
}

type slotKey struct {
	doctor uuid.UUID
	start  int64
}

func keyOf(doctor uuid.UUID, start time.Time) slotKey {
	return slotKey{doctor: doctor, start: schedule.NormalizeTime(start).UnixNano()}
}

func newMemDB() *memDB {
	return &memDB{
		slots:  map[slotKey]schedule.Slot{},
		appts:  map[uuid.UUID]Appointment{},
		failOn: map[string]error{},
	}
}

func (db *memDB) publish(doctor uuid.UUID, slots ...schedule.SlotInput) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, in := range slots {
		db.slots[keyOf(doctor, in.StartTime)] = schedule.Slot{
			StartTime: schedule.NormalizeTime(in.StartTime),
			EndTime:   schedule.NormalizeTime(in.EndTime),
		}
	}
}

func (db *memDB) removeSlot(doctor uuid.UUID, start time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.slots, keyOf(doctor, start))
}

func (db *memDB) slot(doctor uuid.UUID, start time.Time) (schedule.Slot, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.slots[keyOf(doctor, start)]
	return s, ok
}

func (db *memDB) appointment(id uuid.UUID) (Appointment, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, ok := db.appts[id]
	return a, ok
}

func (db *memDB) put(a Appointment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.appts[a.ID] = a
}

func (db *memDB) count() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.appts)
}

func (db *memDB) failWith(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failOn[op] = err
}

func (db *memDB) repo() *lockedRepo           { return &lockedRepo{ops: memOps{db: db}} }
func (db *memDB) transactor() *memTransactor { return &memTransactor{db: db} }

type memTransactor struct {
	db *memDB
}

func (t *memTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	slots := make(map[slotKey]schedule.Slot, len(t.db.slots))
	for k, v := range t.db.slots {
		slots[k] = v
	}
	appts := make(map[uuid.UUID]Appointment, len(t.db.appts))
	for k, v := range t.db.appts {
		appts[k] = v
	}

	ops := memOps{db: t.db}
	if err := fn(ctx, TxStores{Slots: ops, Appointments: ops}); err != nil {
		t.db.slots = slots
		t.db.appts = appts
		return err
	}
	return nil
}

// memOps assumes the caller holds db.mu.
type memOps struct {
	db *memDB
}

func (m memOps) fail(op string) error {
	return m.db.failOn[op]
}

func (m memOps) FindUnbookedSlot(_ context.Context, doctorID uuid.UUID, date schedule.Date, start time.Time) (*schedule.Slot, error) {
	if err := m.fail("FindUnbookedSlot"); err != nil {
		return nil, err
	}
	s, ok := m.db.slots[keyOf(doctorID, start)]
	if !ok || s.IsBooked || !date.Contains(start) {
		return nil, schedule.ErrSlotNotFound
	}
	return &s, nil
}

func (m memOps) MarkBooked(_ context.Context, doctorID uuid.UUID, date schedule.Date, start time.Time, appointmentID uuid.UUID) error {
	if err := m.fail("MarkBooked"); err != nil {
		return err
	}
	k := keyOf(doctorID, start)
	s, ok := m.db.slots[k]
	if !ok || s.IsBooked || !date.Contains(start) {
		return schedule.ErrSlotUnavailable
	}
	id := appointmentID
	s.IsBooked = true
	s.AppointmentID = &id
	m.db.slots[k] = s
	return nil
}

func (m memOps) MarkUnbooked(_ context.Context, doctorID uuid.UUID, _ schedule.Date, start time.Time, appointmentID uuid.UUID) error {
	if err := m.fail("MarkUnbooked"); err != nil {
		return err
	}
	k := keyOf(doctorID, start)
	if s, ok := m.db.slots[k]; ok && s.AppointmentID != nil && *s.AppointmentID == appointmentID {
		s.IsBooked = false
		s.AppointmentID = nil
		m.db.slots[k] = s
	}
	return nil
}

func (m memOps) CreateIfNoActive(_ context.Context, a *Appointment) (*Appointment, error) {
	if err := m.fail("CreateIfNoActive"); err != nil {
		return nil, err
	}
	for _, existing := range m.db.appts {
		if existing.PatientID == a.PatientID && existing.Status == StatusScheduled {
			return nil, ErrActiveAppointmentExists
		}
	}
	created := *a
	created.Status = StatusScheduled
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	m.db.appts[created.ID] = created
	return &created, nil
}

func (m memOps) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.db.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m memOps) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m memOps) ListForUser(_ context.Context, userID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	for _, a := range m.db.appts {
		if a.PatientID == userID || a.DoctorID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AppointmentTime.After(out[j].AppointmentTime)
	})
	return out, nil
}

func (m memOps) TransitionToCheckedIn(_ context.Context, id uuid.UUID, actor user.Actor, now time.Time) (*Appointment, error) {
	a, ok := m.db.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.CanCheckIn(actor) {
		return nil, ErrCheckInForbidden
	}
	if a.Status != StatusScheduled {
		return nil, ErrNotScheduled
	}
	t := now.UTC()
	a.Status = StatusCheckedIn
	a.CheckInTime = &t
	m.db.appts[id] = a
	return &a, nil
}

func (m memOps) ApplyReschedule(_ context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	if err := m.fail("ApplyReschedule"); err != nil {
		return nil, err
	}
	a, ok := m.db.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	for _, other := range m.db.appts {
		if other.ID != id && other.PatientID == a.PatientID && other.Status == StatusScheduled {
			return nil, ErrActiveAppointmentExists
		}
	}
	prev := a.ID
	a.RescheduledFrom = &prev
	a.AppointmentTime = schedule.NormalizeTime(start)
	a.AppointmentEndTime = schedule.NormalizeTime(end)
	a.Status = StatusScheduled
	a.CheckInTime = nil
	m.db.appts[id] = a
	return &a, nil
}

func (m memOps) MarkNoShowIfNoticePending(_ context.Context, id uuid.UUID, now time.Time) (*Appointment, error) {
	if err := m.fail("MarkNoShowIfNoticePending"); err != nil {
		return nil, err
	}
	a, ok := m.db.appts[id]
	if !ok || a.RescheduleNoticeSent || a.Status != StatusScheduled || a.CheckInTime != nil || a.AppointmentEndTime.After(now) {
		return nil, ErrAlreadyProcessed
	}
	a.Status = StatusNoShow
	a.RescheduleNoticeSent = true
	m.db.appts[id] = a
	return &a, nil
}

func (m memOps) DeleteByID(_ context.Context, id uuid.UUID) error {
	if err := m.fail("DeleteByID"); err != nil {
		return err
	}
	if _, ok := m.db.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.db.appts, id)
	return nil
}

func (m memOps) FindNoShowCandidates(_ context.Context, now time.Time, limit int) ([]Appointment, error) {
	if err := m.fail("FindNoShowCandidates"); err != nil {
		return nil, err
	}
	var out []Appointment
	for _, a := range m.db.appts {
		if a.Status == StatusScheduled && a.CheckInTime == nil && !a.RescheduleNoticeSent && !a.AppointmentEndTime.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AppointmentEndTime.Before(out[j].AppointmentEndTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memOps) Stats(_ context.Context, doctorID uuid.UUID, from, to time.Time) (*Stats, error) {
	var s Stats
	patients := map[uuid.UUID]struct{}{}
	for _, a := range m.db.appts {
		if a.DoctorID != doctorID {
			continue
		}
		patients[a.PatientID] = struct{}{}
		if a.AppointmentTime.Before(from) || !a.AppointmentTime.Before(to) {
			continue
		}
		s.TodayAppointments++
		switch a.Status {
		case StatusNoShow:
			s.MissedAppointments++
		case StatusCheckedIn:
			s.CompletedToday++
		}
	}
	s.TotalPatients = len(patients)
	return &s, nil
}

// lockedRepo is the standalone (non transactional) view of memDB.
type lockedRepo struct {
	ops memOps
}

func (r *lockedRepo) lock() func() {
	r.ops.db.mu.Lock()
	return r.ops.db.mu.Unlock
}

func (r *lockedRepo) CreateIfNoActive(ctx context.Context, a *Appointment) (*Appointment, error) {
	defer r.lock()()
	return r.ops.CreateIfNoActive(ctx, a)
}

func (r *lockedRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.lock()()
	return r.ops.GetByID(ctx, id)
}

func (r *lockedRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.lock()()
	return r.ops.GetByIDForUpdate(ctx, id)
}

func (r *lockedRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]Appointment, error) {
	defer r.lock()()
	return r.ops.ListForUser(ctx, userID)
}

func (r *lockedRepo) TransitionToCheckedIn(ctx context.Context, id uuid.UUID, actor user.Actor, now time.Time) (*Appointment, error) {
	defer r.lock()()
	return r.ops.TransitionToCheckedIn(ctx, id, actor, now)
}

func (r *lockedRepo) ApplyReschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	defer r.lock()()
	return r.ops.ApplyReschedule(ctx, id, start, end)
}

func (r *lockedRepo) MarkNoShowIfNoticePending(ctx context.Context, id uuid.UUID, now time.Time) (*Appointment, error) {
	defer r.lock()()
	return r.ops.MarkNoShowIfNoticePending(ctx, id, now)
}

func (r *lockedRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()
	return r.ops.DeleteByID(ctx, id)
}

func (r *lockedRepo) FindNoShowCandidates(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	defer r.lock()()
	return r.ops.FindNoShowCandidates(ctx, now, limit)
}

func (r *lockedRepo) Stats(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (*Stats, error) {
	defer r.lock()()
	return r.ops.Stats(ctx, doctorID, from, to)
}

type memDirectory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
	err   error
}

func newMemDirectory(users ...*user.User) *memDirectory {
	d := &memDirectory{users: map[uuid.UUID]*user.User{}}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *memDirectory) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

type sentMessage struct {
	to  uuid.UUID
	msg notification.Message
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage

	// onDispatch runs after recording, outside mu.
	onDispatch func(msg notification.Message)
}

func (d *recordingDispatcher) Dispatch(_ context.Context, recipient user.User, msg notification.Message) {
	d.mu.Lock()
	d.sent = append(d.sent, sentMessage{to: recipient.ID, msg: msg})
	hook := d.onDispatch
	d.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
}

func (d *recordingDispatcher) to(id uuid.UUID) []notification.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notification.Message
	for _, s := range d.sent {
		if s.to == id {
			out = append(out, s.msg)
		}
	}
	return out
}

func (d *recordingDispatcher) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func newPatient(name string) *user.User {
	return &user.User{ID: uuid.New(), Name: name, Email: name + "@example.com", Role: user.RolePatient}
}

func newDoctor(name string) *user.User {
	spec := "General"
	return &user.User{ID: uuid.New(), Name: name, Email: name + "@example.com", Role: user.RoleDoctor, Specialization: &spec}
}

func actorOf(u *user.User) user.Actor {
	return user.Actor{ID: u.ID, Role: u.Role, Name: u.Name}
}

// clinicTime parses "2024-01-10T09:00" as UTC.
func clinicTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return v
}
