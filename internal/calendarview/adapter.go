package calendarview

import (
	"context"
	"errors"
	"time"

	"github.com/staffbook/scheduling/internal/authority"
	"github.com/staffbook/scheduling/internal/booking"
	"github.com/staffbook/scheduling/internal/observability/metrics"
	"github.com/staffbook/scheduling/internal/schedule"
	"github.com/staffbook/scheduling/pkg/logging"
)

// fetchFailureMessage is what the surface shows when a day load fails.
// The previously rendered view stays on screen.
const fetchFailureMessage = "Could not load the schedule. Please try again."

// Adapter sits between the rendering surface and the mutation coordinator.
// It never decides success or failure itself: every gesture is forwarded,
// and the surface is re-rendered from whatever state the coordinator ends
// up in.
type Adapter struct {
	coord   *schedule.Coordinator
	surface Surface
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
}

// NewAdapter wires an adapter to a coordinator and a surface. Pass the
// returned adapter's Listener to the coordinator so cache changes reach
// the surface.
func NewAdapter(coord *schedule.Coordinator, surface Surface, logger *logging.Logger, m *metrics.SchedulingMetrics) *Adapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{coord: coord, surface: surface, logger: logger, metrics: m}
}

// Listener is the coordinator callback. A reload notification refetches the
// day from the authority before rendering; a plain one renders the cache.
func (a *Adapter) Listener(reload bool) {
	if reload {
		if _, err := a.coord.LoadDay(context.Background(), a.coord.Snapshot().Date); err != nil {
			a.logger.Warn("reload after mutation outcome failed", "error", err.Error())
			// The cache is already rolled back; push it so the surface never
			// keeps showing the rejected change.
			a.render()
		}
		// LoadDay notifies again on success; rendering here would double up.
		return
	}
	a.render()
}

func (a *Adapter) render() {
	if a.surface == nil {
		return
	}
	if err := a.surface.Render(snapshotFromSchedule(a.coord.Snapshot())); err != nil {
		a.logger.Warn("surface render failed", "error", err.Error())
	}
}

// Snapshot exposes the current view model, for surfaces that pull on
// connect rather than wait for the next push.
func (a *Adapter) Snapshot() Snapshot {
	return snapshotFromSchedule(a.coord.Snapshot())
}

// HandleViewDateChanged loads the newly visible day. On failure the prior
// view is kept and the surface shows a fetch error.
func (a *Adapter) HandleViewDateChanged(ctx context.Context, date time.Time) error {
	a.metrics.ObserveSurfaceEvent("view_date_changed")
	result, err := a.coord.LoadDay(ctx, date)
	if err != nil {
		a.showError(fetchFailureMessage)
		return err
	}
	for _, rej := range result.Rejected {
		a.logger.Warn("schedule feed record not rendered", "booking_id", rej.ID, "reason", rej.Reason)
	}
	return nil
}

// HandleEventMoved applies a drag-and-drop: new interval, optionally a new
// staff column.
func (a *Adapter) HandleEventMoved(ctx context.Context, eventID string, newInterval booking.Interval, newStaffID string) error {
	a.metrics.ObserveSurfaceEvent("event_moved")
	return a.forwardMutation(a.coord.Reschedule(ctx, eventID, newInterval, newStaffID))
}

// HandleEventResized applies a resize: same staff, new interval.
func (a *Adapter) HandleEventResized(ctx context.Context, eventID string, newInterval booking.Interval) error {
	a.metrics.ObserveSurfaceEvent("event_resized")
	return a.forwardMutation(a.coord.Reschedule(ctx, eventID, newInterval, ""))
}

// HandleEventActivated builds the detail popup for a clicked event.
func (a *Adapter) HandleEventActivated(eventID string) (EventDetail, error) {
	a.metrics.ObserveSurfaceEvent("event_activated")
	b, err := a.coord.Booking(eventID)
	if err != nil {
		return EventDetail{}, err
	}
	return detailFromBooking(b), nil
}

// HandleConfirm requests the pending-to-confirmed transition.
func (a *Adapter) HandleConfirm(ctx context.Context, eventID string) error {
	a.metrics.ObserveSurfaceEvent("confirm")
	return a.forwardMutation(a.coord.Confirm(ctx, eventID))
}

// HandleDelete removes an event once the authority acknowledges.
func (a *Adapter) HandleDelete(ctx context.Context, eventID string) error {
	a.metrics.ObserveSurfaceEvent("delete")
	err := a.coord.Delete(ctx, eventID)
	if err != nil {
		a.showError(mutationMessage(err))
	}
	return err
}

// forwardMutation turns a coordinator outcome into surface feedback. The
// coordinator already rolled back and requested a reload on failure; the
// adapter only adds the human-readable message.
func (a *Adapter) forwardMutation(err error) error {
	if err == nil {
		return nil
	}
	a.showError(mutationMessage(err))
	return err
}

func (a *Adapter) showError(message string) {
	if a.surface != nil {
		a.surface.ShowError(message)
	}
}

func mutationMessage(err error) string {
	var rej *authority.MutationRejectedError
	if errors.As(err, &rej) {
		return rej.UserMessage()
	}
	var verr *booking.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	switch {
	case errors.Is(err, schedule.ErrMutationPending):
		return "Another change to this booking is still saving. Please wait."
	case errors.Is(err, schedule.ErrUnknownBooking):
		return "This booking is no longer on the schedule."
	case errors.Is(err, schedule.ErrInvalidTransition):
		return "Only pending bookings can be confirmed."
	}
	return "The change could not be saved. Please try again."
}
