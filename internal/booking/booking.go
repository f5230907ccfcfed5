// Package booking holds the canonical in-memory representation of a booking
// and its lifecycle status. All transport encodings (numeric and textual
// statuses, raw timestamps) are normalized here, exactly once, at ingestion.
package booking

import (
	"fmt"
	"strings"
	"time"
)

// Status is the canonical booking lifecycle status.
type Status int

const (
	// StatusPending means the booking awaits staff confirmation.
	StatusPending Status = 0
	// StatusConfirmed means staff confirmed the booking.
	StatusConfirmed Status = 1
	// StatusCancelled removes the booking from the active set.
	StatusCancelled Status = 2
)

// String returns the textual encoding used on the wire.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusConfirmed:
		return "Confirmed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus normalizes the status encodings seen across authority
// responses. Both numeric ("0", "1") and textual ("Pending", "Confirmed")
// forms map to the same canonical value; matching is case-insensitive.
// Unknown encodings are an error rather than a silent default.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "pending":
		return StatusPending, nil
	case "1", "confirmed":
		return StatusConfirmed, nil
	case "2", "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return 0, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown encoding %q", raw)}
	}
}

// Interval is a half-open time interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the interval is well formed (Start strictly
// before End).
func (iv Interval) Valid() bool {
	return iv.Start.Before(iv.End)
}

// Overlaps reports whether two half-open intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// StaffMember is a read-only, per-day snapshot of a staff resource owned by
// the remote authority.
type StaffMember struct {
	ID        string
	Name      string
	Avatar    string
	Occupancy int // 0-100, informational only
}

// Service sizes slots; the client never edits it.
type Service struct {
	ID              string
	Name            string
	DurationMinutes int
}

// Booking is a cached mirror of a server-side booking. The remote authority
// is always the source of truth; the client never holds the sole copy.
type Booking struct {
	ID          string
	StaffID     string
	Start       time.Time
	End         time.Time
	Status      Status
	Customer    string
	ServiceName string
	Color       string
	BorderColor string
	Notes       string
}

// New validates and constructs a Booking from already-normalized fields.
// Intervals where End <= Start never enter the active set silently.
func New(id, staffID string, start, end time.Time, status Status) (*Booking, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &ValidationError{Field: "id", Reason: "required"}
	}
	if strings.TrimSpace(staffID) == "" {
		return nil, &ValidationError{Field: "staff_id", Reason: "required"}
	}
	if !(Interval{Start: start, End: end}).Valid() {
		return nil, &ValidationError{
			Field:  "interval",
			Reason: fmt.Sprintf("end %s not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)),
		}
	}
	return &Booking{ID: id, StaffID: staffID, Start: start, End: end, Status: status}, nil
}

// Interval returns the booking's [Start, End) interval.
func (b *Booking) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// IsPending gates the Confirm action and drives the dimmed display hint.
func (b *Booking) IsPending() bool {
	return b.Status == StatusPending
}

// IsActive reports whether the booking belongs in the visible set.
func (b *Booking) IsActive() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// DisplayOpacity exposes the presentation convention that pending bookings
// render dimmed. The core surfaces the value; rendering it is the surface's
// job.
func (b *Booking) DisplayOpacity() float64 {
	if b.IsPending() {
		return 0.7
	}
	return 1.0
}

// Clone returns a deep copy, used for mutation snapshots.
func (b *Booking) Clone() *Booking {
	cp := *b
	return &cp
}

// ValidationError is malformed local input: a missing staff/date/service
// before a dependent query, or a booking record that fails validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("booking: invalid %s: %s", e.Field, e.Reason)
}
