// Package schedule keeps the client-visible day schedule consistent with
// the remote authority under direct manipulation. Mutations apply to the
// local cache immediately and are committed or rolled back when the
// authority answers.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/staffbook/scheduling/internal/authority"
	"github.com/staffbook/scheduling/internal/booking"
	"github.com/staffbook/scheduling/internal/observability/metrics"
	"github.com/staffbook/scheduling/pkg/logging"
)

var scheduleTracer = otel.Tracer("staffbook.internal.schedule")

var (
	// ErrMutationPending means a mutation is already in flight for the
	// booking; a second request must not race the first.
	ErrMutationPending = errors.New("schedule: mutation already in flight for this booking")
	// ErrUnknownBooking means the booking id is not in the current view.
	ErrUnknownBooking = errors.New("schedule: booking not in current view")
	// ErrInvalidTransition means a status change the client may not
	// request (the only allowed transition is Pending to Confirmed).
	ErrInvalidTransition = errors.New("schedule: only pending bookings can be confirmed")
)

// AuthorityClient is the slice of the authority API the coordinator drives.
type AuthorityClient interface {
	DaySchedule(ctx context.Context, date time.Time) (*authority.DaySchedule, error)
	UpdateBooking(ctx context.Context, bookingID string, req authority.UpdateBookingRequest) error
	UpdateStatus(ctx context.Context, bookingID string, status int) error
	DeleteBooking(ctx context.Context, bookingID string) error
}

// DayInvalidator is implemented by clients that keep a day-schedule cache.
type DayInvalidator interface {
	InvalidateDay(ctx context.Context, date time.Time)
}

// Listener observes cache changes so the rendering surface can re-render.
// reload=true means the view must be rebuilt from a fresh authority fetch,
// not just re-rendered from the cache.
type Listener func(reload bool)

// Delta is the field subset an optimistic mutation changes. Status never
// appears here: confirmation applies only after the authority's ack.
type Delta struct {
	NewInterval *booking.Interval
	NewStaffID  *string
}

// PendingMutation is one in-flight optimistic change, with the snapshot
// needed to roll it back.
type PendingMutation struct {
	ID         uuid.UUID
	BookingID  string
	Delta      Delta
	Snapshot   *booking.Booking
	Generation uint64
	StartedAt  time.Time
}

// RejectedRecord is a raw booking that failed validation during a day load.
// Malformed records are surfaced, never silently dropped.
type RejectedRecord struct {
	ID     string
	Reason string
}

// LoadResult reports what a day load produced.
type LoadResult struct {
	Date     time.Time
	Loaded   int
	Rejected []RejectedRecord
}

// Snapshot is a read-only copy of the visible day for the view adapter and
// pickers. Nothing outside the coordinator mutates the cache.
type Snapshot struct {
	Date     time.Time
	DayStart int
	DayEnd   int
	Staff    []booking.StaffMember
	Bookings []*booking.Booking
}

// Coordinator owns the single client-side booking cache for the visible
// day and runs the optimistic-update/reconcile protocol against the
// authority.
type Coordinator struct {
	client   AuthorityClient
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics
	listener Listener

	mu         sync.Mutex
	date       time.Time
	generation uint64
	bookings   map[string]*booking.Booking
	staff      []booking.StaffMember
	dayStart   int
	dayEnd     int
	pending    map[string]*PendingMutation
}

// NewCoordinator constructs a coordinator. metrics and listener may be nil.
func NewCoordinator(client AuthorityClient, logger *logging.Logger, m *metrics.SchedulingMetrics, listener Listener) *Coordinator {
	if client == nil {
		panic("schedule: authority client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if listener == nil {
		listener = func(bool) {}
	}
	return &Coordinator{
		client:   client,
		logger:   logger,
		metrics:  m,
		listener: listener,
		bookings: make(map[string]*booking.Booking),
		pending:  make(map[string]*PendingMutation),
	}
}

// SetListener replaces the change listener. Call before the first LoadDay;
// the view adapter registers itself here since it needs the coordinator
// to exist first.
func (c *Coordinator) SetListener(listener Listener) {
	if listener == nil {
		listener = func(bool) {}
	}
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()
}

// notify invokes the listener outside the cache lock.
func (c *Coordinator) notify(reload bool) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	listener(reload)
}

// LoadDay replaces the cache with the authority's schedule for date. On
// fetch failure the prior view is kept untouched and the error returned.
// A successful load starts a new generation: responses to mutations issued
// against the old view are ignored when they land.
func (c *Coordinator) LoadDay(ctx context.Context, date time.Time) (*LoadResult, error) {
	sched, err := c.client.DaySchedule(ctx, date)
	if err != nil {
		c.metrics.ObserveFetch("day_schedule", "error")
		return nil, err
	}
	c.metrics.ObserveFetch("day_schedule", "ok")

	result := &LoadResult{Date: date}
	fresh := make(map[string]*booking.Booking, len(sched.Bookings))
	for _, raw := range sched.Bookings {
		b, err := normalizeRawBooking(raw)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedRecord{ID: raw.ID, Reason: err.Error()})
			c.logger.Warn("rejected malformed booking record", "booking_id", raw.ID, "reason", err.Error())
			continue
		}
		if !b.IsActive() {
			continue
		}
		fresh[b.ID] = b
		result.Loaded++
	}

	staff := make([]booking.StaffMember, 0, len(sched.Staff))
	for _, s := range sched.Staff {
		staff = append(staff, booking.StaffMember{
			ID:        s.ID,
			Name:      s.Title,
			Avatar:    s.Avatar,
			Occupancy: s.Occupancy,
		})
	}

	c.mu.Lock()
	c.date = date
	c.generation++
	c.bookings = fresh
	c.staff = staff
	c.dayStart = sched.DayStart
	c.dayEnd = sched.DayEnd
	c.pending = make(map[string]*PendingMutation)
	c.mu.Unlock()

	c.notify(false)
	return result, nil
}

// Snapshot returns a deep copy of the visible day.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Date:     c.date,
		DayStart: c.dayStart,
		DayEnd:   c.dayEnd,
		Staff:    make([]booking.StaffMember, len(c.staff)),
		Bookings: make([]*booking.Booking, 0, len(c.bookings)),
	}
	copy(snap.Staff, c.staff)
	for _, b := range c.bookings {
		snap.Bookings = append(snap.Bookings, b.Clone())
	}
	sort.Slice(snap.Bookings, func(i, j int) bool {
		if snap.Bookings[i].Start.Equal(snap.Bookings[j].Start) {
			return snap.Bookings[i].ID < snap.Bookings[j].ID
		}
		return snap.Bookings[i].Start.Before(snap.Bookings[j].Start)
	})
	return snap
}

// Booking returns a copy of one cached booking.
func (c *Coordinator) Booking(id string) (*booking.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bookings[id]
	if !ok {
		return nil, ErrUnknownBooking
	}
	return b.Clone(), nil
}

// Reschedule moves and/or reassigns a booking: optimistic apply, then
// reconcile with the authority. On rejection the snapshot is restored and
// the caller receives a *authority.MutationRejectedError whose UserMessage
// is ready to surface; the listener is additionally told to reload the
// view, since partial state may already have reached the surface.
func (c *Coordinator) Reschedule(ctx context.Context, bookingID string, newInterval booking.Interval, newStaffID string) error {
	ctx, span := scheduleTracer.Start(ctx, "schedule.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("staffbook.booking_id", bookingID))

	if !newInterval.Valid() {
		return &booking.ValidationError{Field: "interval", Reason: "end not after start"}
	}

	delta := Delta{NewInterval: &newInterval}
	if newStaffID != "" {
		delta.NewStaffID = &newStaffID
	}
	pm, err := c.beginMutation(bookingID, delta)
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.metrics.ObserveMutation("reschedule", "applied")
	c.notify(false)

	req := authority.UpdateBookingRequest{
		StartTime: newInterval.Start.Format(time.RFC3339),
		EndTime:   newInterval.End.Format(time.RFC3339),
	}
	if newStaffID != "" && newStaffID != pm.Snapshot.StaffID {
		req.StaffID = newStaffID
	}

	err = c.client.UpdateBooking(ctx, bookingID, req)
	return c.reconcile(ctx, span, "reschedule", pm, err)
}

// Confirm requests the one status transition the client may make: Pending
// to Confirmed. The flip is not optimistic: the cached status changes only
// after the authority acknowledges, so the view never shows Confirmed for
// a booking the server still considers pending.
func (c *Coordinator) Confirm(ctx context.Context, bookingID string) error {
	ctx, span := scheduleTracer.Start(ctx, "schedule.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("staffbook.booking_id", bookingID))

	c.mu.Lock()
	current, ok := c.bookings[bookingID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownBooking
	}
	if !current.IsPending() {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if _, inFlight := c.pending[bookingID]; inFlight {
		c.mu.Unlock()
		return ErrMutationPending
	}
	pm := &PendingMutation{
		ID:         uuid.New(),
		BookingID:  bookingID,
		Snapshot:   current.Clone(),
		Generation: c.generation,
		StartedAt:  time.Now(),
	}
	c.pending[bookingID] = pm
	date := c.date
	c.mu.Unlock()

	err := c.client.UpdateStatus(ctx, bookingID, int(booking.StatusConfirmed))
	c.metrics.ObserveMutationLag("confirm", time.Since(pm.StartedAt).Seconds())

	c.mu.Lock()
	if c.generation != pm.Generation {
		c.mu.Unlock()
		c.logger.Info("ignoring stale confirm response", "booking_id", bookingID)
		return nil
	}
	delete(c.pending, bookingID)
	if err != nil {
		c.mu.Unlock()
		span.RecordError(err)
		c.metrics.ObserveMutation("confirm", "rejected")
		rej := asRejection(err, "confirm")
		c.logger.Warn("confirm rejected", "booking_id", bookingID, "message", rej.UserMessage())
		return rej
	}
	if b, ok := c.bookings[bookingID]; ok {
		b.Status = booking.StatusConfirmed
	}
	c.mu.Unlock()

	c.metrics.ObserveMutation("confirm", "committed")
	c.invalidateDay(ctx, date)
	c.notify(false)
	return nil
}

// Delete removes a booking. Deletion is not optimistic: the booking stays
// untouched until the authority acknowledges, then leaves the active set
// and the view reloads.
func (c *Coordinator) Delete(ctx context.Context, bookingID string) error {
	ctx, span := scheduleTracer.Start(ctx, "schedule.delete")
	defer span.End()
	span.SetAttributes(attribute.String("staffbook.booking_id", bookingID))

	c.mu.Lock()
	current, ok := c.bookings[bookingID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownBooking
	}
	if _, inFlight := c.pending[bookingID]; inFlight {
		c.mu.Unlock()
		return ErrMutationPending
	}
	// Occupy the per-booking slot so no reschedule or confirm can start
	// while the delete is in flight. No delta: the cache stays untouched
	// until the authority acknowledges.
	pm := &PendingMutation{
		ID:         uuid.New(),
		BookingID:  bookingID,
		Snapshot:   current.Clone(),
		Generation: c.generation,
		StartedAt:  time.Now(),
	}
	c.pending[bookingID] = pm
	date := c.date
	c.mu.Unlock()

	err := c.client.DeleteBooking(ctx, bookingID)

	c.mu.Lock()
	if c.generation != pm.Generation {
		c.mu.Unlock()
		c.logger.Info("ignoring stale delete response", "booking_id", bookingID)
		return nil
	}
	delete(c.pending, bookingID)
	if err != nil {
		c.mu.Unlock()
		span.RecordError(err)
		c.metrics.ObserveMutation("delete", "rejected")
		return err
	}
	delete(c.bookings, bookingID)
	c.mu.Unlock()

	c.metrics.ObserveMutation("delete", "committed")
	c.invalidateDay(ctx, date)
	c.notify(true)
	c.logger.Info("booking deleted", "booking_id", bookingID)
	return nil
}

// PendingCount reports outstanding optimistic mutations, for diagnostics.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// beginMutation snapshots the booking, registers the pending entry and
// applies the delta to the cache. Serialization is per booking id only;
// mutations of different bookings proceed concurrently.
func (c *Coordinator) beginMutation(bookingID string, delta Delta) (*PendingMutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.bookings[bookingID]
	if !ok {
		return nil, ErrUnknownBooking
	}
	if _, inFlight := c.pending[bookingID]; inFlight {
		return nil, ErrMutationPending
	}

	pm := &PendingMutation{
		ID:         uuid.New(),
		BookingID:  bookingID,
		Delta:      delta,
		Snapshot:   current.Clone(),
		Generation: c.generation,
		StartedAt:  time.Now(),
	}
	c.pending[bookingID] = pm

	if delta.NewInterval != nil {
		current.Start = delta.NewInterval.Start
		current.End = delta.NewInterval.End
	}
	if delta.NewStaffID != nil {
		current.StaffID = *delta.NewStaffID
	}
	return pm, nil
}

// reconcile finishes a mutation once the authority answered. A stale
// response, one whose generation has since been replaced by a day load,
// must not mutate current state in either direction.
func (c *Coordinator) reconcile(ctx context.Context, span trace.Span, kind string, pm *PendingMutation, callErr error) error {
	c.metrics.ObserveMutationLag(kind, time.Since(pm.StartedAt).Seconds())

	c.mu.Lock()
	if c.generation != pm.Generation {
		c.mu.Unlock()
		c.logger.Info("ignoring stale mutation response",
			"booking_id", pm.BookingID,
			"mutation_id", pm.ID.String(),
		)
		return nil
	}
	delete(c.pending, pm.BookingID)
	date := c.date

	if callErr == nil {
		// The already-applied optimistic state becomes canonical.
		c.mu.Unlock()
		c.metrics.ObserveMutation(kind, "committed")
		c.invalidateDay(ctx, date)
		c.notify(false)
		return nil
	}

	span.RecordError(callErr)
	c.bookings[pm.BookingID] = pm.Snapshot
	c.mu.Unlock()

	c.metrics.ObserveMutation(kind, "rolled_back")
	c.metrics.ObserveRollback()

	rej := asRejection(callErr, kind)
	c.logger.Warn("mutation rejected, rolled back",
		"booking_id", pm.BookingID,
		"kind", kind,
		"message", rej.UserMessage(),
	)
	// Partial state may already have reached the surface; a full reload
	// beats fine-grained undo.
	c.notify(true)
	return rej
}

func (c *Coordinator) invalidateDay(ctx context.Context, date time.Time) {
	if inv, ok := c.client.(DayInvalidator); ok {
		inv.InvalidateDay(ctx, date)
	}
}

func asRejection(err error, op string) *authority.MutationRejectedError {
	var rej *authority.MutationRejectedError
	if errors.As(err, &rej) {
		return rej
	}
	return &authority.MutationRejectedError{Op: op, Message: "", Err: err}
}

// normalizeRawBooking converts one feed record into the canonical entity.
// Status normalization happens here, exactly once.
func normalizeRawBooking(raw authority.RawBooking) (*booking.Booking, error) {
	status, err := booking.ParseStatus(raw.ExtendedProps.Status.String())
	if err != nil {
		return nil, err
	}
	start, err := time.Parse(time.RFC3339, raw.Start)
	if err != nil {
		return nil, fmt.Errorf("schedule: bad start %q: %w", raw.Start, err)
	}
	end, err := time.Parse(time.RFC3339, raw.End)
	if err != nil {
		return nil, fmt.Errorf("schedule: bad end %q: %w", raw.End, err)
	}

	b, err := booking.New(raw.ID, raw.ExtendedProps.StaffID, start, end, status)
	if err != nil {
		return nil, err
	}
	b.Customer = raw.ExtendedProps.Customer
	b.ServiceName = raw.ExtendedProps.Service
	b.Notes = raw.ExtendedProps.Notes
	b.Color = raw.BackgroundColor
	b.BorderColor = raw.BorderColor
	return b, nil
}
