// Package slots derives bookable dates and times for a staff member and
// service. All availability comes from the remote authority; this package
// only shapes, de-duplicates and guards what the authority returns. It
// never invents a slot.
package slots

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/staffbook/scheduling/internal/authority"
	"github.com/staffbook/scheduling/internal/booking"
	"github.com/staffbook/scheduling/pkg/logging"
)

// AvailabilityClient is the slice of the authority API this engine reads.
type AvailabilityClient interface {
	ListAvailableDates(ctx context.Context, staffID string) ([]authority.AvailableDate, error)
	ListAvailableTimes(ctx context.Context, staffID, serviceID string, date time.Time) ([]string, error)
}

// TimeOfDay is a wall-clock slot start within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// String renders the authority's HH:MM wire form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// At anchors the time of day onto a specific date.
func (t TimeOfDay) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, date.Location())
}

// ParseTimeOfDay parses the authority's HH:MM encoding.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("slots: parse time %q: %w", s, err)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// Engine performs the read-through slot queries.
type Engine struct {
	client AvailabilityClient
	logger *logging.Logger
	now    func() time.Time
}

// NewEngine constructs an Engine. now may be nil and defaults to time.Now;
// tests pin it.
func NewEngine(client AvailabilityClient, logger *logging.Logger, now func() time.Time) *Engine {
	if client == nil {
		panic("slots: availability client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{client: client, logger: logger, now: now}
}

// AvailableDates returns the ordered, de-duplicated set of bookable days
// for a staff member. The caller must treat the result as read-only.
func (e *Engine) AvailableDates(ctx context.Context, staffID string) ([]time.Time, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, &booking.ValidationError{Field: "staff_id", Reason: "required"}
	}

	raw, err := e.client.ListAvailableDates(ctx, staffID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(raw))
	dates := make([]time.Time, 0, len(raw))
	for _, d := range raw {
		if _, dup := seen[d.Date]; dup {
			continue
		}
		parsed, err := time.ParseInLocation("2006-01-02", d.Date, time.Local)
		if err != nil {
			return nil, &authority.FetchError{Op: "list dates", Err: fmt.Errorf("bad date %q: %w", d.Date, err)}
		}
		seen[d.Date] = struct{}{}
		dates = append(dates, parsed)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// AvailableTimes returns the ordered bookable times of day for a staff
// member, service and date. Ordering is the authority's; parse failures are
// fetch failures, not silent drops.
func (e *Engine) AvailableTimes(ctx context.Context, staffID, serviceID string, date time.Time) ([]TimeOfDay, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, &booking.ValidationError{Field: "staff_id", Reason: "required"}
	}
	if strings.TrimSpace(serviceID) == "" {
		return nil, &booking.ValidationError{Field: "service_id", Reason: "required"}
	}
	if date.IsZero() {
		return nil, &booking.ValidationError{Field: "date", Reason: "required"}
	}

	raw, err := e.client.ListAvailableTimes(ctx, staffID, serviceID, date)
	if err != nil {
		return nil, err
	}

	times := make([]TimeOfDay, 0, len(raw))
	for _, s := range raw {
		tod, err := ParseTimeOfDay(s)
		if err != nil {
			return nil, &authority.FetchError{Op: "list times", Err: err}
		}
		times = append(times, tod)
	}
	return times, nil
}

// Today returns the current local day at midnight, the reference point for
// the past-date display guard.
func (e *Engine) Today() time.Time {
	now := e.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// DisabledForDisplay reports whether a date must render disabled. Dates
// before the current local day are always disabled, even when a malformed
// authority response still lists them.
func (e *Engine) DisabledForDisplay(date time.Time) bool {
	return date.Before(e.Today())
}
