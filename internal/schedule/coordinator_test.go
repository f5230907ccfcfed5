package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staffbook/scheduling/internal/authority"
	"github.com/staffbook/scheduling/internal/booking"
	"github.com/staffbook/scheduling/pkg/logging"
)

type updateCall struct {
	bookingID string
	req       authority.UpdateBookingRequest
}

type statusCall struct {
	bookingID string
	status    int
}

// fakeAuthority scripts the remote side. When updateGate is set,
// UpdateBooking signals updateStarted and blocks until the gate closes,
// so tests can observe the optimistic window.
type fakeAuthority struct {
	mu sync.Mutex

	schedule    *authority.DaySchedule
	scheduleErr error

	updateErr error
	statusErr error
	deleteErr error

	updateCalls   []updateCall
	statusCalls   []statusCall
	deleteCalls   []string
	invalidations []time.Time

	updateGate    chan struct{}
	updateStarted chan struct{}
	statusGate    chan struct{}
	statusStarted chan struct{}
}

func (f *fakeAuthority) DaySchedule(_ context.Context, _ time.Time) (*authority.DaySchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	return f.schedule, nil
}

func (f *fakeAuthority) UpdateBooking(_ context.Context, bookingID string, req authority.UpdateBookingRequest) error {
	f.mu.Lock()
	f.updateCalls = append(f.updateCalls, updateCall{bookingID: bookingID, req: req})
	gate, started := f.updateGate, f.updateStarted
	err := f.updateErr
	f.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
		f.mu.Lock()
		err = f.updateErr
		f.mu.Unlock()
	}
	return err
}

func (f *fakeAuthority) UpdateStatus(_ context.Context, bookingID string, status int) error {
	f.mu.Lock()
	f.statusCalls = append(f.statusCalls, statusCall{bookingID: bookingID, status: status})
	gate, started := f.statusGate, f.statusStarted
	err := f.statusErr
	f.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
		f.mu.Lock()
		err = f.statusErr
		f.mu.Unlock()
	}
	return err
}

func (f *fakeAuthority) DeleteBooking(_ context.Context, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, bookingID)
	return f.deleteErr
}

func (f *fakeAuthority) InvalidateDay(_ context.Context, date time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations = append(f.invalidations, date)
}

func (f *fakeAuthority) invalidationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invalidations)
}

// reloadRecorder captures listener notifications.
type reloadRecorder struct {
	mu      sync.Mutex
	reloads []bool
}

func (r *reloadRecorder) listen(reload bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloads = append(r.reloads, reload)
}

func (r *reloadRecorder) sawReload() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.reloads {
		if v {
			return true
		}
	}
	return false
}

var testDay = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

func rawBooking(id, staffID string, startHour int, status string) authority.RawBooking {
	start := time.Date(2026, 8, 31, startHour, 0, 0, 0, time.UTC)
	return authority.RawBooking{
		ID:    id,
		Title: "Cut & Style",
		Start: start.Format(time.RFC3339),
		End:   start.Add(30 * time.Minute).Format(time.RFC3339),
		ExtendedProps: authority.RawBookingProps{
			StaffID:  staffID,
			Status:   authority.WireStatus(status),
			Customer: "Dana",
			Service:  "Cut & Style",
		},
	}
}

func testSchedule() *authority.DaySchedule {
	return &authority.DaySchedule{
		Bookings: []authority.RawBooking{
			rawBooking("b1", "s1", 9, "0"),
			rawBooking("b2", "s1", 10, "Confirmed"),
		},
		Staff: []authority.RawStaff{
			{ID: "s1", Title: "Alex", Occupancy: 40},
		},
		DayStart: 9,
		DayEnd:   18,
	}
}

func newTestCoordinator(t *testing.T, fake *fakeAuthority, rec *reloadRecorder) *Coordinator {
	t.Helper()
	var listener Listener
	if rec != nil {
		listener = rec.listen
	}
	c := NewCoordinator(fake, logging.New("error"), nil, listener)
	_, err := c.LoadDay(context.Background(), testDay)
	require.NoError(t, err)
	return c
}

func TestLoadDayNormalizesAndSurfacesRejects(t *testing.T) {
	sched := testSchedule()
	sched.Bookings = append(sched.Bookings,
		authority.RawBooking{
			ID:    "bad-date",
			Start: "not-a-timestamp",
			End:   "2026-08-31T11:30:00Z",
			ExtendedProps: authority.RawBookingProps{
				StaffID: "s1",
				Status:  "0",
			},
		},
		rawBooking("bad-status", "s1", 12, "tentative"),
		rawBooking("cancelled", "s1", 13, "2"),
	)
	fake := &fakeAuthority{schedule: sched}

	c := NewCoordinator(fake, logging.New("error"), nil, nil)
	result, err := c.LoadDay(context.Background(), testDay)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Loaded)
	require.Len(t, result.Rejected, 2)
	rejectedIDs := []string{result.Rejected[0].ID, result.Rejected[1].ID}
	assert.Contains(t, rejectedIDs, "bad-date")
	assert.Contains(t, rejectedIDs, "bad-status")

	snap := c.Snapshot()
	require.Len(t, snap.Bookings, 2)
	assert.Equal(t, "b1", snap.Bookings[0].ID)
	assert.Equal(t, booking.StatusPending, snap.Bookings[0].Status)
	assert.Equal(t, booking.StatusConfirmed, snap.Bookings[1].Status)
	assert.Equal(t, 9, snap.DayStart)
	require.Len(t, snap.Staff, 1)
	assert.Equal(t, "Alex", snap.Staff[0].Name)
}

func TestLoadDayFailureKeepsPriorView(t *testing.T) {
	fake := &fakeAuthority{schedule: testSchedule()}
	c := newTestCoordinator(t, fake, nil)

	fake.mu.Lock()
	fake.scheduleErr = errors.New("upstream down")
	fake.mu.Unlock()

	_, err := c.LoadDay(context.Background(), testDay)
	require.Error(t, err)
	assert.Len(t, c.Snapshot().Bookings, 2)
}

func TestRescheduleCommits(t *testing.T) {
	fake := &fakeAuthority{schedule: testSchedule()}
	c := newTestCoordinator(t, fake, nil)

	newStart := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	iv := booking.Interval{Start: newStart, End: newStart.Add(30 * time.Minute)}
	require.NoError(t, c.Reschedule(context.Background(), "b1", iv, ""))

	b, err := c.Booking("b1")
	require.NoError(t, err)
	assert.True(t, b.Start.Equal(newStart))
	assert.Equal(t, 0, c.PendingCount())

	require.Len(t, fake.updateCalls, 1)
	assert.Equal(t, newStart.Format(time.RFC3339), fake.updateCalls[0].req.StartTime)
	assert.Empty(t, fake.updateCalls[0].req.StaffID, "unchanged staff must not be sent")
	assert.Equal(t, 1, fake.invalidationCount())
}

func TestRescheduleAppliesOptimisticallyBeforeAck(t *testing.T) {
	fake := &fakeAuthority{
		schedule:      testSchedule(),
		updateGate:    make(chan struct{}),
		updateStarted: make(chan struct{}, 1),
	}
	c := newTestCoordinator(t, fake, nil)

	newStart := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	iv := booking.Interval{Start: newStart, End: newStart.Add(30 * time.Minute)}
	done := make(chan error, 1)
	go func() {
		done <- c.Reschedule(context.Background(), "b1", iv, "")
	}()
	<-fake.updateStarted

	// The cache already shows the move while the authority is thinking.
	b, err := c.Booking("b1")
	require.NoError(t, err)
	assert.True(t, b.Start.Equal(newStart))
	assert.Equal(t, 1, c.PendingCount())

	close(fake.updateGate)
	require.NoError(t, <-done)
	assert.Equal(t, 0, c.PendingCount())
}

func TestRescheduleRejectionRollsBack(t *testing.T) {
	fake := &fakeAuthority{
		schedule:  testSchedule(),
		updateErr: &authority.MutationRejectedError{Op: "update booking", Message: "slot taken"},
	}
	rec := &reloadRecorder{}
	c := newTestCoordinator(t, fake, rec)

	orig, err := c.Booking("b1")
	require.NoError(t, err)

	newStart := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	iv := booking.Interval{Start: newStart, End: newStart.Add(30 * time.Minute)}
	err = c.Reschedule(context.Background(), "b1", iv, "")

	var rej *authority.MutationRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "slot taken", rej.UserMessage())

	b, err := c.Booking("b1")
	require.NoError(t, err)
	assert.True(t, b.Start.Equal(orig.Start), "booking must reappear at its original time")
	assert.Equal(t, orig.StaffID, b.StaffID)
	assert.Equal(t, 0, c.PendingCount())
	assert.True(t, rec.sawReload(), "rejection must trigger an authoritative reload")
	assert.Equal(t, 0, fake.invalidationCount())
}

func TestRescheduleTransportFailureIsObservableNoOp(t *testing.T) {
	fake := &fakeAuthority{
		schedule:  testSchedule(),
		updateErr: errors.New("connection reset"),
	}
	c := newTestCoordinator(t, fake, nil)

	orig, err := c.Booking("b1")
	require.NoError(t, err)

	newStart := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	iv := booking.Interval{Start: newStart, End: newStart.Add(30 * time.Minute)}
	err = c.Reschedule(context.Background(), "b1", iv, "")

	var rej *authority.MutationRejectedError
	require.ErrorAs(t, err, &rej, "transport failure is reported like a rejection")
	assert.NotEmpty(t, rej.UserMessage())

	b, err := c.Booking("b1")
	require.NoError(t, err)
	assert.True(t, b.Start.Equal(orig.Start))
}

func TestRescheduleValidation(t *testing.T) {
	fake := &fakeAuthority{schedule: testSchedule()}
	c := newTestCoordinator(t, fake, nil)

	start := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)

	err := c.Reschedule(context.Background(), "b1", booking.Interval{Start: start, End: start}, "")
	var verr *booking.ValidationError
	require.ErrorAs(t, err, &verr)

	err = c.Reschedule(context.Background(), "nope", booking.Interval{Start: start, End: start.Add(time.Hour)}, "")
	assert.ErrorIs(t, err, ErrUnknownBooking)
	assert.Empty(t, fake.updateCalls)
}

func TestConcurrentMutationOfSameBookingRejected(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeAuthority{
		schedule:      testSchedule(),
		updateGate:    gate,
		updateStarted: make(chan struct{}, 1),
	}
	c := newTestCoordinator(t, fake, nil)

	start := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	iv := booking.Interval{Start: start, End: start.Add(30 * time.Minute)}
	done := make(chan error, 1)
	go func() {
		done <- c.Reschedule(context.Background(), "b1", iv, "")
	}()
	<-fake.updateStarted

	// Same booking: blocked. A different booking: proceeds.
	err := c.Reschedule(context.Background(), "b1", iv, "")
	assert.ErrorIs(t, err, ErrMutationPending)
	err = c.Confirm(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrMutationPending)
	err = c.Delete(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrMutationPending)

	start2 := time.Date(2026, 8, 31, 16, 0, 0, 0, time.UTC)
	iv2 := booking.Interval{Start: start2, End: start2.Add(30 * time.Minute)}
	fake.mu.Lock()
	fake.updateGate = nil
	fake.mu.Unlock()
	require.NoError(t, c.Reschedule(context.Background(), "b2", iv2, ""))

	close(gate)
	require.NoError(t, <-done)
}

func TestStaleResponseIgnoredAfterReload(t *testing.T) {
	fake := &fakeAuthority{
		schedule:      testSchedule(),
		updateGate:    make(chan struct{}),
		updateStarted: make(chan struct{}, 1),
	}
	c := newTestCoordinator(t, fake, nil)

	start := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	iv := booking.Interval{Start: start, End: start.Add(30 * time.Minute)}
	done := make(chan error, 1)
	go func() {
		done <- c.Reschedule(context.Background(), "b1", iv, "")
	}()
	<-fake.updateStarted

	// A fresh day load supersedes the in-flight mutation's view.
	_, err := c.LoadDay(context.Background(), testDay)
	require.NoError(t, err)

	// The late rejection must not roll anything back in the new view.
	fake.mu.Lock()
	fake.updateErr = errors.New("too late")
	fake.mu.Unlock()
	close(fake.updateGate)
	require.NoError(t, <-done, "stale outcome is swallowed")

	b, err := c.Booking("b1")
	require.NoError(t, err)
	assert.Equal(t, 9, b.Start.Hour(), "view reflects the reload, not the stale mutation")
	assert.Equal(t, 0, c.PendingCount())
}

func TestConfirmTransitions(t *testing.T) {
	fake := &fakeAuthority{schedule: testSchedule()}
	c := newTestCoordinator(t, fake, nil)

	require.NoError(t, c.Confirm(context.Background(), "b1"))
	b, err := c.Booking("b1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, b.Status)

	require.Len(t, fake.statusCalls, 1)
	assert.Equal(t, int(booking.StatusConfirmed), fake.statusCalls[0].status)

	// Already confirmed: refused locally, no call made.
	err = c.Confirm(context.Background(), "b2")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, fake.statusCalls, 1)

	err = c.Confirm(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownBooking)
}

func TestConfirmAppliesOnlyAfterAck(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeAuthority{
		schedule:      testSchedule(),
		statusGate:    gate,
		statusStarted: make(chan struct{}, 1),
	}
	c := newTestCoordinator(t, fake, nil)

	done := make(chan error, 1)
	go func() {
		done <- c.Confirm(context.Background(), "b1")
	}()
	<-fake.statusStarted

	// The request is on the wire but unanswered: the cache must still say
	// Pending, and the slot is occupied against concurrent gestures.
	b, err := c.Booking("b1")
	require.NoError(t, err)
	assert.True(t, b.IsPending(), "status must not flip before the ack")
	assert.Equal(t, 1, c.PendingCount())
	assert.ErrorIs(t, c.Confirm(context.Background(), "b1"), ErrMutationPending)

	close(gate)
	require.NoError(t, <-done)

	b, err = c.Booking("b1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, 0, c.PendingCount())
}

func TestConfirmRejectionLeavesPending(t *testing.T) {
	fake := &fakeAuthority{
		schedule:  testSchedule(),
		statusErr: errors.New("gateway timeout"),
	}
	c := newTestCoordinator(t, fake, nil)

	err := c.Confirm(context.Background(), "b1")
	var rej *authority.MutationRejectedError
	require.ErrorAs(t, err, &rej)

	b, err := c.Booking("b1")
	require.NoError(t, err)
	assert.True(t, b.IsPending(), "failed confirm must leave the booking pending")
}

func TestDeleteWaitsForAck(t *testing.T) {
	fake := &fakeAuthority{schedule: testSchedule()}
	rec := &reloadRecorder{}
	c := newTestCoordinator(t, fake, rec)

	require.NoError(t, c.Delete(context.Background(), "b1"))

	_, err := c.Booking("b1")
	assert.ErrorIs(t, err, ErrUnknownBooking)
	assert.Len(t, fake.deleteCalls, 1)
	assert.True(t, rec.sawReload())

	err = c.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownBooking)
}

func TestDeleteFailureKeepsBooking(t *testing.T) {
	fake := &fakeAuthority{
		schedule:  testSchedule(),
		deleteErr: errors.New("booking already started"),
	}
	c := newTestCoordinator(t, fake, nil)

	err := c.Delete(context.Background(), "b1")
	require.Error(t, err)

	b, berr := c.Booking("b1")
	require.NoError(t, berr)
	assert.Equal(t, "b1", b.ID)
	assert.Equal(t, 0, c.PendingCount())
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	fake := &fakeAuthority{schedule: testSchedule()}
	c := newTestCoordinator(t, fake, nil)

	snap := c.Snapshot()
	snap.Bookings[0].Customer = "tampered"

	b, err := c.Booking(snap.Bookings[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Dana", b.Customer)
}
