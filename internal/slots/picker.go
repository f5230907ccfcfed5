package slots

import (
	"context"
	"errors"
	"time"

	"github.com/staffbook/scheduling/internal/authority"
	"github.com/staffbook/scheduling/internal/booking"
)

// State is the picker's position in its session state machine.
type State int

const (
	NoStaffSelected State = iota
	DatesLoading
	DatesReady
	DatesEmpty
	DatesError
	TimesLoading
	TimesReady
	TimesEmpty
	TimesError
	SlotChosen
)

func (s State) String() string {
	switch s {
	case NoStaffSelected:
		return "no_staff_selected"
	case DatesLoading:
		return "dates_loading"
	case DatesReady:
		return "dates_ready"
	case DatesEmpty:
		return "dates_empty"
	case DatesError:
		return "dates_error"
	case TimesLoading:
		return "times_loading"
	case TimesReady:
		return "times_ready"
	case TimesEmpty:
		return "times_empty"
	case TimesError:
		return "times_error"
	case SlotChosen:
		return "slot_chosen"
	default:
		return "unknown"
	}
}

// Picker holds one booking attempt's selection state. It is session-scoped:
// two concurrent pickers never share selections.
type Picker struct {
	engine *Engine

	state     State
	staffID   string
	serviceID string
	dates     []time.Time
	date      time.Time
	times     []TimeOfDay
	slot      TimeOfDay
	hasSlot   bool
}

// NewPicker starts a session with no staff selected.
func NewPicker(engine *Engine) *Picker {
	if engine == nil {
		panic("slots: engine required")
	}
	return &Picker{engine: engine, state: NoStaffSelected}
}

// State returns the current machine state.
func (p *Picker) State() State { return p.state }

// Dates returns a copy of the loaded bookable dates.
func (p *Picker) Dates() []time.Time {
	out := make([]time.Time, len(p.dates))
	copy(out, p.dates)
	return out
}

// Times returns a copy of the loaded bookable times.
func (p *Picker) Times() []TimeOfDay {
	out := make([]TimeOfDay, len(p.times))
	copy(out, p.times)
	return out
}

// SelectedDate returns the chosen date, zero until one is selected.
func (p *Picker) SelectedDate() time.Time { return p.date }

// SetService records the service sizing the slots. Changing service drops
// any loaded times and chosen slot; the date survives but times must be
// re-queried.
func (p *Picker) SetService(serviceID string) {
	if p.serviceID == serviceID {
		return
	}
	p.serviceID = serviceID
	p.times = nil
	p.hasSlot = false
	if p.state == TimesReady || p.state == TimesEmpty || p.state == TimesError || p.state == SlotChosen {
		p.state = DatesReady
	}
}

// SelectStaff resets the session unconditionally and loads the staff
// member's bookable dates. Every prior date/time selection is discarded
// before the fetch, so a failure never leaves another staff member's data
// showing.
func (p *Picker) SelectStaff(ctx context.Context, staffID string) error {
	p.reset()
	if staffID == "" {
		return &booking.ValidationError{Field: "staff_id", Reason: "required"}
	}
	p.staffID = staffID
	p.state = DatesLoading

	dates, err := p.engine.AvailableDates(ctx, staffID)
	if err != nil {
		p.state = DatesError
		var verr *booking.ValidationError
		if errors.As(err, &verr) {
			p.state = NoStaffSelected
		}
		return err
	}
	if len(dates) == 0 {
		p.state = DatesEmpty
		return nil
	}
	p.dates = dates
	p.state = DatesReady
	return nil
}

// SelectDate picks one of the loaded dates and loads its times. The date
// must come from the loaded set and must not be a past day; any previously
// chosen time is invalidated first.
func (p *Picker) SelectDate(ctx context.Context, date time.Time) error {
	if p.state != DatesReady && p.state != TimesReady && p.state != TimesEmpty &&
		p.state != TimesError && p.state != SlotChosen {
		return &booking.ValidationError{Field: "date", Reason: "no dates loaded"}
	}
	if p.serviceID == "" {
		return &booking.ValidationError{Field: "service_id", Reason: "required before selecting a date"}
	}
	if !p.containsDate(date) {
		return &booking.ValidationError{Field: "date", Reason: "not an available date"}
	}
	if p.engine.DisabledForDisplay(date) {
		return &booking.ValidationError{Field: "date", Reason: "past dates cannot be selected"}
	}

	// A stale time bound to the old date is an invariant violation; clear
	// before fetching.
	p.date = date
	p.times = nil
	p.hasSlot = false
	p.state = TimesLoading

	times, err := p.engine.AvailableTimes(ctx, p.staffID, p.serviceID, date)
	if err != nil {
		p.state = TimesError
		return err
	}
	if len(times) == 0 {
		p.state = TimesEmpty
		return nil
	}
	p.times = times
	p.state = TimesReady
	return nil
}

// SelectTime chooses a slot from the loaded times. Terminal for this
// booking attempt.
func (p *Picker) SelectTime(t TimeOfDay) error {
	if p.state != TimesReady {
		return &booking.ValidationError{Field: "time", Reason: "no times loaded"}
	}
	for _, candidate := range p.times {
		if candidate == t {
			p.slot = t
			p.hasSlot = true
			p.state = SlotChosen
			return nil
		}
	}
	return &booking.ValidationError{Field: "time", Reason: "not an available time"}
}

// BookingRequest materializes the chosen slot for the booking-creation
// flow. Only valid in SlotChosen.
func (p *Picker) BookingRequest() (authority.CreateBookingRequest, error) {
	if p.state != SlotChosen || !p.hasSlot {
		return authority.CreateBookingRequest{}, &booking.ValidationError{Field: "selection", Reason: "no slot chosen"}
	}
	return authority.CreateBookingRequest{
		StaffID:   p.staffID,
		ServiceID: p.serviceID,
		Date:      p.date.Format("2006-01-02"),
		Time:      p.slot.String(),
	}, nil
}

func (p *Picker) containsDate(date time.Time) bool {
	for _, d := range p.dates {
		if d.Year() == date.Year() && d.YearDay() == date.YearDay() {
			return true
		}
	}
	return false
}

func (p *Picker) reset() {
	p.staffID = ""
	p.dates = nil
	p.date = time.Time{}
	p.times = nil
	p.hasSlot = false
	p.state = NoStaffSelected
}
