package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hhmm string) time.Time {
	t, err := time.Parse(time.RFC3339, "2024-01-10T"+hhmm+":00Z")
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-10", d.String())
	assert.True(t, d.Contains(at("23:59")))
	assert.False(t, d.Contains(at("09:00").Add(24*time.Hour)))

	_, err = ParseDate("10/01/2024")
	assert.Error(t, err)
}

func TestDateOf_UsesUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2024, 1, 11, 2, 0, 0, 0, loc) // 2024-01-10 21:00 UTC
	assert.Equal(t, "2024-01-10", DateOf(local).String())
}

func TestDate_TextRoundTrip(t *testing.T) {
	var d Date
	require.NoError(t, d.UnmarshalText([]byte("2024-02-29")))
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", string(b))
}

func TestNewSchedule_SortsSlots(t *testing.T) {
	date, _ := ParseDate("2024-01-10")
	sched, err := NewSchedule(uuid.New(), date, []SlotInput{
		{StartTime: at("09:30"), EndTime: at("10:00")},
		{StartTime: at("09:00"), EndTime: at("09:30")},
	})
	require.NoError(t, err)
	require.Len(t, sched.Slots, 2)
	assert.Equal(t, at("09:00"), sched.Slots[0].StartTime)
	assert.Equal(t, at("09:30"), sched.Slots[1].StartTime)
	assert.False(t, sched.Slots[0].IsBooked)
}

func TestNewSchedule_Validation(t *testing.T) {
	date, _ := ParseDate("2024-01-10")
	doctor := uuid.New()

	tests := []struct {
		name  string
		slots []SlotInput
		want  error
	}{
		{"empty", nil, ErrNoSlots},
		{"end before start", []SlotInput{{StartTime: at("10:00"), EndTime: at("09:00")}}, ErrSlotTimes},
		{"zero length", []SlotInput{{StartTime: at("10:00"), EndTime: at("10:00")}}, ErrSlotTimes},
		{"other day", []SlotInput{{StartTime: at("10:00").Add(24 * time.Hour), EndTime: at("10:30").Add(24 * time.Hour)}}, ErrSlotOutsideDay},
		{"overlap", []SlotInput{
			{StartTime: at("09:00"), EndTime: at("09:45")},
			{StartTime: at("09:30"), EndTime: at("10:00")},
		}, ErrSlotsOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchedule(doctor, date, tt.slots)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSchedule_CarryBookings(t *testing.T) {
	date, _ := ParseDate("2024-01-10")
	doctor := uuid.New()
	apptID := uuid.New()

	prev, err := NewSchedule(doctor, date, []SlotInput{
		{StartTime: at("09:00"), EndTime: at("09:30")},
		{StartTime: at("09:30"), EndTime: at("10:00")},
	})
	require.NoError(t, err)
	prev.Slots[0].IsBooked = true
	prev.Slots[0].AppointmentID = &apptID

	t.Run("booked slot kept", func(t *testing.T) {
		next, err := NewSchedule(doctor, date, []SlotInput{
			{StartTime: at("09:00"), EndTime: at("09:30")},
			{StartTime: at("11:00"), EndTime: at("11:30")},
		})
		require.NoError(t, err)
		require.NoError(t, next.CarryBookings(prev))
		assert.True(t, next.Slots[0].IsBooked)
		assert.Equal(t, apptID, *next.Slots[0].AppointmentID)
		assert.Len(t, next.Available(), 1)
	})

	t.Run("booked slot removed", func(t *testing.T) {
		next, err := NewSchedule(doctor, date, []SlotInput{
			{StartTime: at("09:30"), EndTime: at("10:00")},
		})
		require.NoError(t, err)
		assert.ErrorIs(t, next.CarryBookings(prev), ErrBookedSlotChanged)
	})

	t.Run("booked slot resized", func(t *testing.T) {
		next, err := NewSchedule(doctor, date, []SlotInput{
			{StartTime: at("09:00"), EndTime: at("09:15")},
		})
		require.NoError(t, err)
		assert.ErrorIs(t, next.CarryBookings(prev), ErrBookedSlotChanged)
	})
}

func TestSchedule_FindNormalizesTime(t *testing.T) {
	date, _ := ParseDate("2024-01-10")
	sched, err := NewSchedule(uuid.New(), date, []SlotInput{{StartTime: at("09:00"), EndTime: at("09:30")}})
	require.NoError(t, err)

	local := at("09:00").In(time.FixedZone("IST", 19800))
	i, ok := sched.Find(local)
	assert.True(t, ok)
	assert.Equal(t, 0, i)

	_, ok = sched.Find(at("09:01"))
	assert.False(t, ok)
}
