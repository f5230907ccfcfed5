// Package wsurface is the websocket rendering surface: it pushes calendar
// snapshots to connected clients and feeds their gestures back through the
// view adapter.
package wsurface

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/staffbook/scheduling/internal/authority"
	"github.com/staffbook/scheduling/internal/booking"
	"github.com/staffbook/scheduling/internal/calendarview"
	"github.com/staffbook/scheduling/internal/slots"
	"github.com/staffbook/scheduling/pkg/logging"
)

// View is the adapter surface the handler drives with client gestures.
type View interface {
	Snapshot() calendarview.Snapshot
	HandleViewDateChanged(ctx context.Context, date time.Time) error
	HandleEventMoved(ctx context.Context, eventID string, newInterval booking.Interval, newStaffID string) error
	HandleEventResized(ctx context.Context, eventID string, newInterval booking.Interval) error
	HandleEventActivated(eventID string) (calendarview.EventDetail, error)
	HandleConfirm(ctx context.Context, eventID string) error
	HandleDelete(ctx context.Context, eventID string) error
}

// BookingCreator submits a completed slot selection to the authority.
type BookingCreator interface {
	CreateBooking(ctx context.Context, req authority.CreateBookingRequest) (*authority.CreateBookingResponse, error)
}

// InboundMessage is a client gesture. Calendar gestures carry event fields;
// the booking-flow gestures carry the picker selection fields.
type InboundMessage struct {
	Type    string `json:"type"` // "event_moved", "event_resized", "event_activated", "view_date_changed", "confirm", "delete", "staff_selected", "service_selected", "date_selected", "time_selected", "submit_booking", "ping"
	EventID string `json:"event_id,omitempty"`
	Start   string `json:"start,omitempty"` // RFC 3339
	End     string `json:"end,omitempty"`
	StaffID string `json:"staff_id,omitempty"`
	Date    string `json:"date,omitempty"` // YYYY-MM-DD

	ServiceID string `json:"service_id,omitempty"`
	Time      string `json:"time,omitempty"` // HH:MM
	Customer  string `json:"customer,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// OutboundMessage is what the handler pushes to clients.
type OutboundMessage struct {
	Type      string                    `json:"type"` // "snapshot", "detail", "error", "dates", "times", "picker_state", "booking_created", "pong"
	Snapshot  *calendarview.Snapshot    `json:"snapshot,omitempty"`
	Detail    *calendarview.EventDetail `json:"detail,omitempty"`
	Text      string                    `json:"text,omitempty"`
	Dates     []string                  `json:"dates,omitempty"`
	Times     []string                  `json:"times,omitempty"`
	State     string                    `json:"state,omitempty"`
	BookingID string                    `json:"booking_id,omitempty"`
}

// Handler manages calendar websocket connections. It implements
// calendarview.Surface: renders broadcast to every connected client. Each
// connection additionally owns one slot-picker session for the booking
// flow.
type Handler struct {
	view      View
	newPicker func() *slots.Picker
	creator   BookingCreator
	logger    *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*wsConn
}

type wsConn struct {
	conn *websocket.Conn
}

// NewHandler creates a calendar surface handler. Call BindView before
// serving if the view needs the handler first.
func NewHandler(view View, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		view:     view,
		logger:   logger,
		sessions: make(map[string]*wsConn),
	}
}

// BindView attaches the view after construction. The adapter needs a
// Surface at build time and the handler needs the adapter, so one side
// binds late.
func (h *Handler) BindView(view View) {
	h.mu.Lock()
	h.view = view
	h.mu.Unlock()
}

// BindBookingFlow enables the picker gestures: each new connection gets a
// fresh picker session, and submissions go through creator.
func (h *Handler) BindBookingFlow(newPicker func() *slots.Picker, creator BookingCreator) {
	h.mu.Lock()
	h.newPicker = newPicker
	h.creator = creator
	h.mu.Unlock()
}

func (h *Handler) currentView() View {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.view
}

// Render implements calendarview.Surface by broadcasting the snapshot.
func (h *Handler) Render(snap calendarview.Snapshot) error {
	h.broadcast(OutboundMessage{Type: "snapshot", Snapshot: &snap})
	return nil
}

// ShowError implements calendarview.Surface.
func (h *Handler) ShowError(message string) {
	h.broadcast(OutboundMessage{Type: "error", Text: message})
}

func (h *Handler) broadcast(msg OutboundMessage) {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.sessions))
	for _, wsc := range h.sessions {
		conns = append(conns, wsc)
	}
	h.mu.RUnlock()
	for _, wsc := range conns {
		if err := websocket.JSON.Send(wsc.conn, msg); err != nil {
			h.logger.Debug("calendar ws: send failed", "error", err.Error())
		}
	}
}

// HandleWebSocket upgrades to WebSocket and serves the calendar session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	view := h.currentView()
	if view == nil {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "calendar not ready"})
		return
	}

	sessionID := uuid.New().String()
	wsc := &wsConn{conn: conn}
	h.mu.Lock()
	h.sessions[sessionID] = wsc
	newPicker := h.newPicker
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[sessionID] == wsc {
			delete(h.sessions, sessionID)
		}
		h.mu.Unlock()
	}()

	// One picker session per connection; selections never leak across
	// clients.
	var picker *slots.Picker
	if newPicker != nil {
		picker = newPicker()
	}

	h.logger.Info("calendar ws: connection opened", "session_id", sessionID)

	// New clients get the current view immediately.
	snap := view.Snapshot()
	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "snapshot", Snapshot: &snap})

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("calendar ws: connection closed", "session_id", sessionID, "error", err.Error())
			return
		}
		h.dispatch(r.Context(), conn, view, picker, msg)
	}
}

// dispatch routes one inbound gesture. Calendar mutation outcomes reach
// clients via the Surface callbacks, not via the dispatch return path;
// detail lookups, picker answers and malformed payloads answer the sender
// directly.
func (h *Handler) dispatch(ctx context.Context, conn *websocket.Conn, view View, picker *slots.Picker, msg InboundMessage) {
	switch msg.Type {
	case "ping":
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})

	case "view_date_changed":
		date, err := time.ParseInLocation("2006-01-02", msg.Date, time.Local)
		if err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "bad date"})
			return
		}
		if err := view.HandleViewDateChanged(ctx, date); err != nil {
			h.logger.Warn("calendar ws: date change failed", "date", msg.Date, "error", err.Error())
		}

	case "event_moved", "event_resized":
		iv, err := parseInterval(msg.Start, msg.End)
		if err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "bad interval"})
			return
		}
		if msg.Type == "event_moved" {
			err = view.HandleEventMoved(ctx, msg.EventID, iv, msg.StaffID)
		} else {
			err = view.HandleEventResized(ctx, msg.EventID, iv)
		}
		if err != nil {
			h.logger.Warn("calendar ws: mutation failed", "type", msg.Type, "event_id", msg.EventID, "error", err.Error())
		}

	case "event_activated":
		detail, err := view.HandleEventActivated(msg.EventID)
		if err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "This booking is no longer on the schedule."})
			return
		}
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "detail", Detail: &detail})

	case "confirm":
		if err := view.HandleConfirm(ctx, msg.EventID); err != nil {
			h.logger.Warn("calendar ws: confirm failed", "event_id", msg.EventID, "error", err.Error())
		}

	case "delete":
		if err := view.HandleDelete(ctx, msg.EventID); err != nil {
			h.logger.Warn("calendar ws: delete failed", "event_id", msg.EventID, "error", err.Error())
		}

	case "staff_selected", "service_selected", "date_selected", "time_selected", "submit_booking":
		if picker == nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "booking is not available"})
			return
		}
		h.dispatchPicker(ctx, conn, picker, msg)

	default:
		h.logger.Debug("calendar ws: unknown message type", "type", msg.Type)
	}
}

// dispatchPicker drives the connection's slot-picker session. Every answer
// carries the machine state so the client can render the step it is on.
func (h *Handler) dispatchPicker(ctx context.Context, conn *websocket.Conn, picker *slots.Picker, msg InboundMessage) {
	switch msg.Type {
	case "staff_selected":
		if err := picker.SelectStaff(ctx, msg.StaffID); err != nil {
			h.logger.Warn("calendar ws: staff selection failed", "staff_id", msg.StaffID, "error", err.Error())
			_ = websocket.JSON.Send(conn, OutboundMessage{
				Type:  "error",
				Text:  "Could not load available dates. Please try again.",
				State: picker.State().String(),
			})
			return
		}
		dates := picker.Dates()
		wire := make([]string, 0, len(dates))
		for _, d := range dates {
			wire = append(wire, d.Format("2006-01-02"))
		}
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "dates", Dates: wire, State: picker.State().String()})

	case "service_selected":
		picker.SetService(msg.ServiceID)
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "picker_state", State: picker.State().String()})

	case "date_selected":
		date, err := time.ParseInLocation("2006-01-02", msg.Date, time.Local)
		if err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "bad date", State: picker.State().String()})
			return
		}
		if err := picker.SelectDate(ctx, date); err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{
				Type:  "error",
				Text:  pickerMessage(err),
				State: picker.State().String(),
			})
			return
		}
		times := picker.Times()
		wire := make([]string, 0, len(times))
		for _, tod := range times {
			wire = append(wire, tod.String())
		}
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "times", Times: wire, State: picker.State().String()})

	case "time_selected":
		tod, err := slots.ParseTimeOfDay(msg.Time)
		if err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "bad time", State: picker.State().String()})
			return
		}
		if err := picker.SelectTime(tod); err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: pickerMessage(err), State: picker.State().String()})
			return
		}
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "picker_state", State: picker.State().String()})

	case "submit_booking":
		h.mu.RLock()
		creator := h.creator
		h.mu.RUnlock()
		if creator == nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "booking is not available"})
			return
		}
		req, err := picker.BookingRequest()
		if err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: pickerMessage(err), State: picker.State().String()})
			return
		}
		req.Customer = msg.Customer
		req.Phone = msg.Phone
		req.Notes = msg.Notes
		resp, err := creator.CreateBooking(ctx, req)
		if err != nil {
			h.logger.Warn("calendar ws: booking submission failed", "staff_id", req.StaffID, "error", err.Error())
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "The booking could not be created. Please try again."})
			return
		}
		if !resp.Success {
			text := resp.Error
			if text == "" {
				text = "The booking could not be created. Please try again."
			}
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: text})
			return
		}
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "booking_created", BookingID: resp.BookingID})
	}
}

func pickerMessage(err error) string {
	var verr *booking.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return "Could not load available times. Please try again."
}

func parseInterval(start, end string) (booking.Interval, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return booking.Interval{}, err
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return booking.Interval{}, err
	}
	return booking.Interval{Start: s, End: e}, nil
}
