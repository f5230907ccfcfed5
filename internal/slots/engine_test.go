package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staffbook/scheduling/internal/authority"
	"github.com/staffbook/scheduling/internal/booking"
	"github.com/staffbook/scheduling/pkg/logging"
)

// fakeAuthority serves canned availability, generating time slots the way
// the scheduling authority does: a grid of slot starts inside working
// hours, skipping any slot whose interval would overlap an existing
// booking or run past closing.
type fakeAuthority struct {
	dates     []authority.AvailableDate
	datesErr  error
	timesErr  error
	dayStart  int // opening hour
	dayEnd    int // closing hour
	stepMin   int
	serviceMn int
	booked    []booking.Interval
}

func (f *fakeAuthority) ListAvailableDates(ctx context.Context, staffID string) ([]authority.AvailableDate, error) {
	if f.datesErr != nil {
		return nil, f.datesErr
	}
	return f.dates, nil
}

func (f *fakeAuthority) ListAvailableTimes(ctx context.Context, staffID, serviceID string, date time.Time) ([]string, error) {
	if f.timesErr != nil {
		return nil, f.timesErr
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	open := day.Add(time.Duration(f.dayStart) * time.Hour)
	close := day.Add(time.Duration(f.dayEnd) * time.Hour)
	dur := time.Duration(f.serviceMn) * time.Minute

	var out []string
	for start := open; !start.Add(dur).After(close); start = start.Add(time.Duration(f.stepMin) * time.Minute) {
		slot := booking.Interval{Start: start, End: start.Add(dur)}
		free := true
		for _, b := range f.booked {
			if slot.Overlaps(b) {
				free = false
				break
			}
		}
		if free {
			out = append(out, start.Format("15:04"))
		}
	}
	return out, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 31, 12, 0, 0, 0, time.Local)
}

func TestAvailableDates_DeduplicatesAndSorts(t *testing.T) {
	fake := &fakeAuthority{dates: []authority.AvailableDate{
		{Date: "2026-09-03"},
		{Date: "2026-09-01"},
		{Date: "2026-09-03"},
		{Date: "2026-09-02"},
	}}
	engine := NewEngine(fake, logging.Default(), fixedNow)

	dates, err := engine.AvailableDates(context.Background(), "staff-7")
	require.NoError(t, err)
	require.Len(t, dates, 3)
	assert.True(t, dates[0].Before(dates[1]) && dates[1].Before(dates[2]))
	assert.Equal(t, "2026-09-01", dates[0].Format("2006-01-02"))
}

func TestAvailableDates_RequiresStaffID(t *testing.T) {
	engine := NewEngine(&fakeAuthority{}, logging.Default(), fixedNow)

	_, err := engine.AvailableDates(context.Background(), "")
	var verr *booking.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAvailableDates_BadWireDateIsFetchFailure(t *testing.T) {
	fake := &fakeAuthority{dates: []authority.AvailableDate{{Date: "tomorrow"}}}
	engine := NewEngine(fake, logging.Default(), fixedNow)

	_, err := engine.AvailableDates(context.Background(), "staff-7")
	var fe *authority.FetchError
	require.ErrorAs(t, err, &fe)
}

func TestDisabledForDisplay_PastDatesAlwaysDisabled(t *testing.T) {
	engine := NewEngine(&fakeAuthority{}, logging.Default(), fixedNow)

	yesterday := time.Date(2026, 8, 30, 0, 0, 0, 0, time.Local)
	today := time.Date(2026, 8, 31, 0, 0, 0, 0, time.Local)
	tomorrow := time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local)

	assert.True(t, engine.DisabledForDisplay(yesterday),
		"a past date renders disabled even when the authority lists it")
	assert.False(t, engine.DisabledForDisplay(today))
	assert.False(t, engine.DisabledForDisplay(tomorrow))
}

func TestAvailableTimes_ExcludesBookedAndRespectsBounds(t *testing.T) {
	// Staff A: bookings 09:00-09:30 and 10:00-10:30, 30-minute service,
	// working day 09:00-18:00.
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local)
	fake := &fakeAuthority{
		dayStart:  9,
		dayEnd:    18,
		stepMin:   30,
		serviceMn: 30,
		booked: []booking.Interval{
			{Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 30*time.Minute)},
			{Start: day.Add(10 * time.Hour), End: day.Add(10*time.Hour + 30*time.Minute)},
		},
	}
	engine := NewEngine(fake, logging.Default(), fixedNow)

	times, err := engine.AvailableTimes(context.Background(), "staff-a", "svc-30", day)
	require.NoError(t, err)
	require.NotEmpty(t, times)

	rendered := make(map[string]bool, len(times))
	for _, tod := range times {
		rendered[tod.String()] = true

		slotStart := tod.At(day)
		slotEnd := slotStart.Add(30 * time.Minute)
		assert.False(t, slotStart.Before(day.Add(9*time.Hour)), "slot %s before opening", tod)
		assert.False(t, slotEnd.After(day.Add(18*time.Hour)), "slot %s runs past closing", tod)
		for _, b := range fake.booked {
			assert.False(t, (booking.Interval{Start: slotStart, End: slotEnd}).Overlaps(b),
				"slot %s overlaps booking %v", tod, b)
		}
	}

	assert.False(t, rendered["09:00"])
	assert.False(t, rendered["10:00"])
	assert.True(t, rendered["09:30"])
	assert.True(t, rendered["17:30"], "last slot of a 09-18 day for a 30-minute service")
	assert.False(t, rendered["18:00"])
}

func TestAvailableTimes_Validation(t *testing.T) {
	engine := NewEngine(&fakeAuthority{}, logging.Default(), fixedNow)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local)

	tests := []struct {
		name      string
		staffID   string
		serviceID string
		date      time.Time
	}{
		{name: "missing staff", staffID: "", serviceID: "svc", date: day},
		{name: "missing service", staffID: "staff", serviceID: "", date: day},
		{name: "missing date", staffID: "staff", serviceID: "svc", date: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.AvailableTimes(context.Background(), tt.staffID, tt.serviceID, tt.date)
			var verr *booking.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestAvailableTimes_BadWireTimeIsFetchFailure(t *testing.T) {
	fake := &fakeAuthority{timesErr: nil, dayStart: 9, dayEnd: 10, stepMin: 30, serviceMn: 30}
	engine := NewEngine(fake, logging.Default(), fixedNow)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local)

	// corrupt wire data through a custom fake
	bad := availabilityFunc{
		times: func() ([]string, error) { return []string{"quarter past"}, nil },
	}
	engineBad := NewEngine(bad, logging.Default(), fixedNow)
	_, err := engineBad.AvailableTimes(context.Background(), "s", "svc", day)
	var fe *authority.FetchError
	require.ErrorAs(t, err, &fe)

	_, err = engine.AvailableTimes(context.Background(), "s", "svc", day)
	require.NoError(t, err)
}

// availabilityFunc adapts closures to AvailabilityClient for one-off fakes.
type availabilityFunc struct {
	dates func() ([]authority.AvailableDate, error)
	times func() ([]string, error)
}

func (f availabilityFunc) ListAvailableDates(context.Context, string) ([]authority.AvailableDate, error) {
	if f.dates == nil {
		return nil, nil
	}
	return f.dates()
}

func (f availabilityFunc) ListAvailableTimes(context.Context, string, string, time.Time) ([]string, error) {
	if f.times == nil {
		return nil, nil
	}
	return f.times()
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 9, Minute: 30}, tod)
	assert.Equal(t, "09:30", tod.String())

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
	_, err = ParseTimeOfDay("")
	assert.Error(t, err)
}

func TestFetchFailurePropagates(t *testing.T) {
	fake := &fakeAuthority{datesErr: &authority.FetchError{Op: "list dates", Err: errors.New("boom")}}
	engine := NewEngine(fake, logging.Default(), fixedNow)

	_, err := engine.AvailableDates(context.Background(), "staff-7")
	var fe *authority.FetchError
	require.ErrorAs(t, err, &fe)
}
