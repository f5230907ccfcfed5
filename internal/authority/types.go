// Package authority contains the HTTP client for the remote scheduling
// authority: availability reads, the day-schedule feed, and the booking
// mutation endpoints. The authority owns every booking; this package only
// mirrors it.
package authority

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AvailableDate is a single bookable day for a staff member.
type AvailableDate struct {
	Date string `json:"date"` // YYYY-MM-DD
}

type availableDatesResponse struct {
	AvailableDates []AvailableDate `json:"available_dates"`
}

type availableTimesResponse struct {
	AvailableTimes []string `json:"available_times"` // HH:MM
}

// WireStatus accepts both encodings the authority emits: a JSON number
// (0, 1) and a JSON string ("Pending", "1", "Confirmed").
type WireStatus string

// UnmarshalJSON keeps the raw encoding so booking.ParseStatus can normalize
// it exactly once.
func (s *WireStatus) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = WireStatus(str)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("authority: status is neither string nor number: %s", trimmed)
	}
	*s = WireStatus(strconv.Itoa(n))
	return nil
}

func (s WireStatus) String() string { return string(s) }

// RawBookingProps carries the display metadata nested under the feed's
// extendedProps object. The core treats customer/service text as opaque.
type RawBookingProps struct {
	BookingID json.Number `json:"booking_id"`
	StaffID   string      `json:"staff_id"`
	Status    WireStatus  `json:"status"`
	Customer  string      `json:"customer"`
	Service   string      `json:"service"`
	Notes     string      `json:"notes"`
}

// RawBooking is one booking as the day-schedule feed delivers it.
type RawBooking struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Start           string          `json:"start"` // RFC 3339
	End             string          `json:"end"`
	BackgroundColor string          `json:"backgroundColor"`
	BorderColor     string          `json:"borderColor"`
	ExtendedProps   RawBookingProps `json:"extendedProps"`
}

// RawStaff is one staff resource in the day-schedule feed.
type RawStaff struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Avatar    string `json:"avatar"`
	Occupancy int    `json:"occupancy"`
}

// DaySchedule is the full feed for one calendar day.
type DaySchedule struct {
	Bookings []RawBooking `json:"bookings"`
	Staff    []RawStaff   `json:"staff"`
	DayStart int          `json:"day_start"` // opening hour, e.g. 9
	DayEnd   int          `json:"day_end"`   // closing hour, e.g. 18
}

// UpdateBookingRequest carries only the changed subset of a reschedule.
// Empty fields are omitted from the wire payload.
type UpdateBookingRequest struct {
	StartTime string `json:"start_time,omitempty"` // RFC 3339
	EndTime   string `json:"end_time,omitempty"`
	StaffID   string `json:"staff_id,omitempty"`
}

// CreateBookingRequest is the confirmed slot selection produced by the
// picker flow.
type CreateBookingRequest struct {
	StaffID   string `json:"staff_id"`
	ServiceID string `json:"service_id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // HH:MM
	Customer  string `json:"customer,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// CreateBookingResponse reports the authority's booking creation result.
type CreateBookingResponse struct {
	Success   bool   `json:"success"`
	BookingID string `json:"booking_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type mutationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}
