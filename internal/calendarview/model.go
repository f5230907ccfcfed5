// Package calendarview translates the coordinator's booking cache into the
// model a staff-column day calendar renders, and routes user gestures from
// the rendering surface back into scheduling mutations.
package calendarview

import (
	"time"

	"github.com/staffbook/scheduling/internal/booking"
	"github.com/staffbook/scheduling/internal/schedule"
)

// Event is one rendered booking block.
type Event struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	StaffID     string    `json:"staff_id"`
	Color       string    `json:"color"`
	BorderColor string    `json:"border_color"`
	IsConfirmed bool      `json:"is_confirmed"`
	Opacity     float64   `json:"opacity"`
	Customer    string    `json:"customer"`
	Service     string    `json:"service"`
}

// Resource is one staff column.
type Resource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Occupancy int    `json:"occupancy"`
}

// Snapshot is everything a surface needs to render one day.
type Snapshot struct {
	Date      time.Time  `json:"date"`
	DayStart  int        `json:"day_start"`
	DayEnd    int        `json:"day_end"`
	Resources []Resource `json:"resources"`
	Events    []Event    `json:"events"`
}

// Action is one entry in an event's detail menu.
type Action string

const (
	ActionEdit    Action = "edit"
	ActionConfirm Action = "confirm"
	ActionDelete  Action = "delete"
	ActionClose   Action = "close"
)

// EventDetail is the popup model for an activated event. Actions depend on
// status: only pending bookings offer Confirm.
type EventDetail struct {
	Event   Event    `json:"event"`
	Status  string   `json:"status"`
	Notes   string   `json:"notes,omitempty"`
	Actions []Action `json:"actions"`
}

// palette provides a stable fallback color per staff member when the
// authority supplies none. Same ids always hash to the same entry.
var palette = []string{
	"#7c4dff", "#00bcd4", "#ff7043", "#66bb6a",
	"#ffca28", "#5c6bc0", "#ec407a", "#26a69a",
}

func staffColor(staffID string) string {
	var h uint32
	for i := 0; i < len(staffID); i++ {
		h = h*31 + uint32(staffID[i])
	}
	return palette[h%uint32(len(palette))]
}

func eventFromBooking(b *booking.Booking) Event {
	color := b.Color
	if color == "" {
		color = staffColor(b.StaffID)
	}
	subject := b.ServiceName
	if subject == "" {
		subject = b.Customer
	}
	return Event{
		ID:          b.ID,
		Subject:     subject,
		Start:       b.Start,
		End:         b.End,
		StaffID:     b.StaffID,
		Color:       color,
		BorderColor: b.BorderColor,
		IsConfirmed: b.Status == booking.StatusConfirmed,
		Opacity:     b.DisplayOpacity(),
		Customer:    b.Customer,
		Service:     b.ServiceName,
	}
}

func snapshotFromSchedule(s schedule.Snapshot) Snapshot {
	snap := Snapshot{
		Date:      s.Date,
		DayStart:  s.DayStart,
		DayEnd:    s.DayEnd,
		Resources: make([]Resource, 0, len(s.Staff)),
		Events:    make([]Event, 0, len(s.Bookings)),
	}
	for _, st := range s.Staff {
		snap.Resources = append(snap.Resources, Resource{
			ID:        st.ID,
			Name:      st.Name,
			Avatar:    st.Avatar,
			Occupancy: st.Occupancy,
		})
	}
	for _, b := range s.Bookings {
		snap.Events = append(snap.Events, eventFromBooking(b))
	}
	return snap
}

func detailFromBooking(b *booking.Booking) EventDetail {
	actions := []Action{ActionEdit}
	if b.IsPending() {
		actions = append(actions, ActionConfirm)
	}
	actions = append(actions, ActionDelete, ActionClose)
	return EventDetail{
		Event:   eventFromBooking(b),
		Status:  b.Status.String(),
		Notes:   b.Notes,
		Actions: actions,
	}
}

// Surface is the rendering side the adapter pushes to. Implementations
// must tolerate Render being called from multiple goroutines.
type Surface interface {
	Render(Snapshot) error
	ShowError(message string)
}
