package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/chinmaydhabale/medschedule/internal/apperr"
)

const DateLayout = "2006-01-02"

// Date is a calendar day in UTC. Schedules are keyed by (doctor, Date).
type Date struct {
	t time.Time
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, apperr.Validation(fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s))
	}
	return Date{t: t}, nil
}

// DateOf returns the UTC calendar day containing t.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Time() time.Time { return d.t }
func (d Date) IsZero() bool    { return d.t.IsZero() }
func (d Date) String() string  { return d.t.Format(DateLayout) }

// Contains reports whether t falls on this day.
func (d Date) Contains(t time.Time) bool {
	return DateOf(t) == d
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NormalizeTime brings a timestamp to the precision and zone slots are stored
// in, so that client supplied times compare equal to stored ones.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

type Slot struct {
	StartTime     time.Time
	EndTime       time.Time
	IsBooked      bool
	AppointmentID *uuid.UUID
}

type SlotInput struct {
	StartTime time.Time
	EndTime   time.Time
}

type Schedule struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      Date
	Slots     []Slot // ordered by StartTime
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DayAvailability is one day of a doctor's unbooked slots.
type DayAvailability struct {
	Date  Date
	Slots []Slot
}

var (
	ErrNoSlots        = apperr.Validation("date and slots are required")
	ErrSlotTimes      = apperr.Validation("slot end time must be after its start time")
	ErrSlotOutsideDay = apperr.Validation("slot must start on the schedule date")
	ErrSlotsOverlap   = apperr.Validation("slots must not overlap")
)

// NewSchedule validates a day's slot list and returns an unbooked schedule
// with slots ordered by start time.
func NewSchedule(doctorID uuid.UUID, date Date, inputs []SlotInput) (*Schedule, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctor id is required")
	}
	if date.IsZero() || len(inputs) == 0 {
		return nil, ErrNoSlots
	}

	slots := make([]Slot, 0, len(inputs))
	for _, in := range inputs {
		start := NormalizeTime(in.StartTime)
		end := NormalizeTime(in.EndTime)
		if !end.After(start) {
			return nil, ErrSlotTimes
		}
		if !date.Contains(start) {
			return nil, ErrSlotOutsideDay
		}
		slots = append(slots, Slot{StartTime: start, EndTime: end})
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
	for i := 1; i < len(slots); i++ {
		if slots[i].StartTime.Before(slots[i-1].EndTime) {
			return nil, ErrSlotsOverlap
		}
	}

	return &Schedule{
		DoctorID: doctorID,
		Date:     date,
		Slots:    slots,
	}, nil
}

// Find returns the index of the slot starting at start.
func (s *Schedule) Find(start time.Time) (int, bool) {
	start = NormalizeTime(start)
	for i, sl := range s.Slots {
		if sl.StartTime.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

// Available returns the unbooked slots in order.
func (s *Schedule) Available() []Slot {
	var out []Slot
	for _, sl := range s.Slots {
		if !sl.IsBooked {
			out = append(out, sl)
		}
	}
	return out
}

// CarryBookings copies the booking state of prev into s. Every booked slot of
// prev must still exist in s with the same interval.
func (s *Schedule) CarryBookings(prev *Schedule) error {
	if prev == nil {
		return nil
	}
	for _, old := range prev.Slots {
		if !old.IsBooked {
			continue
		}
		i, ok := s.Find(old.StartTime)
		if !ok || !s.Slots[i].EndTime.Equal(old.EndTime) {
			return ErrBookedSlotChanged
		}
		s.Slots[i].IsBooked = true
		s.Slots[i].AppointmentID = old.AppointmentID
	}
	return nil
}
