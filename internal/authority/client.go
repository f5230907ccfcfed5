package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/staffbook/scheduling/pkg/logging"
)

const (
	defaultTimeout  = 15 * time.Second
	csrfHeader      = "X-CSRF-Token"
	dateWireFormat  = "2006-01-02"
	maxErrorBodyLen = 300
)

// TokenSource supplies the anti-forgery token attached to every mutating
// request. The token is opaque to this package.
type TokenSource func() string

// StaticToken wraps a fixed token string as a TokenSource.
func StaticToken(token string) TokenSource {
	return func() string { return token }
}

// Client speaks the scheduling authority's JSON API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      TokenSource
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient constructs an authority client. token may be nil when the
// caller will never mutate.
func NewClient(baseURL string, token TokenSource, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListAvailableDates returns the bookable days for a staff member.
func (c *Client) ListAvailableDates(ctx context.Context, staffID string) ([]AvailableDate, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, &FetchError{Op: "list dates", Err: fmt.Errorf("missing staff id")}
	}
	path := fmt.Sprintf("/api/dates/%s", url.PathEscape(staffID))

	var out availableDatesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, &FetchError{Op: "list dates", Err: err}
	}
	return out.AvailableDates, nil
}

// ListAvailableTimes returns the bookable times of day for a staff member,
// service and date.
func (c *Client) ListAvailableTimes(ctx context.Context, staffID, serviceID string, date time.Time) ([]string, error) {
	if strings.TrimSpace(staffID) == "" || strings.TrimSpace(serviceID) == "" {
		return nil, &FetchError{Op: "list times", Err: fmt.Errorf("missing staff or service id")}
	}
	path := fmt.Sprintf("/api/times/%s/%s/%s",
		url.PathEscape(staffID), url.PathEscape(serviceID), date.Format(dateWireFormat))

	var out availableTimesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, &FetchError{Op: "list times", Err: err}
	}
	return out.AvailableTimes, nil
}

// DaySchedule fetches the calendar feed for one day.
func (c *Client) DaySchedule(ctx context.Context, date time.Time) (*DaySchedule, error) {
	path := "/calendar-api?date=" + date.Format(dateWireFormat)

	var out DaySchedule
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, &FetchError{Op: "day schedule", Err: err}
	}
	return &out, nil
}

// UpdateBooking sends the changed subset of a booking's interval/staff.
func (c *Client) UpdateBooking(ctx context.Context, bookingID string, req UpdateBookingRequest) error {
	const op = "update booking"
	path := fmt.Sprintf("/api/update-booking/%s", url.PathEscape(bookingID))

	var out mutationResponse
	if err := c.doJSON(ctx, http.MethodPost, path, req, &out); err != nil {
		return rejected(op, authorityMessage(err), err)
	}
	if !out.Success {
		return rejected(op, out.Error, nil)
	}
	return nil
}

// UpdateStatus requests a status transition. The wire keeps the authority's
// numeric-string encoding.
func (c *Client) UpdateStatus(ctx context.Context, bookingID string, status int) error {
	const op = "update status"
	path := fmt.Sprintf("/update-status/%s", url.PathEscape(bookingID))
	body := map[string]string{"status": fmt.Sprintf("%d", status)}

	var out mutationResponse
	if err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return rejected(op, authorityMessage(err), err)
	}
	if !out.Success {
		return rejected(op, out.Error, nil)
	}
	return nil
}

// DeleteBooking removes a booking. Distinct from a status change: on
// success the booking leaves the active set entirely.
func (c *Client) DeleteBooking(ctx context.Context, bookingID string) error {
	const op = "delete booking"
	path := fmt.Sprintf("/api/delete-booking/%s", url.PathEscape(bookingID))

	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return rejected(op, authorityMessage(err), err)
	}
	return nil
}

// CreateBooking submits a confirmed slot selection from the picker flow.
func (c *Client) CreateBooking(ctx context.Context, req CreateBookingRequest) (*CreateBookingResponse, error) {
	const op = "create booking"

	var out CreateBookingResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/bookings", req, &out); err != nil {
		return nil, rejected(op, authorityMessage(err), err)
	}
	if !out.Success {
		return nil, rejected(op, out.Error, nil)
	}
	return &out, nil
}

// authorityMessage extracts the {"error": ...} body from a non-2xx
// response, when the authority sent one.
func authorityMessage(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		return se.authorityError
	}
	return ""
}

// statusError is a non-2xx response, with any {"error": ...} payload
// already decoded.
type statusError struct {
	status         int
	body           string
	authorityError string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	endpoint := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if c.token == nil {
			return fmt.Errorf("mutating request without anti-forgery token source")
		}
		req.Header.Set(csrfHeader, c.token())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > maxErrorBodyLen {
			msg = msg[:maxErrorBodyLen]
		}
		se := &statusError{status: resp.StatusCode, body: msg}
		var envelope errorResponse
		if json.Unmarshal(respBody, &envelope) == nil {
			se.authorityError = envelope.Error
		}
		c.logger.Warn("authority request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return se
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
