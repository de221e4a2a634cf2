// Package api provides the HTTP client for the remote attendance service.
// Connectivity failures and server rejections are classified into distinct
// error codes so the offline gateway can tell "enqueue and retry later"
// apart from "the server said no".
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/models"
)

// Client calls the attendance REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the given base URL. Every call carries
// the configured timeout (default 10s) so a dead network turns into a
// classified timeout instead of a hang.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// MarkAttendance upserts one roll-call entry on (memberId, date).
func (c *Client) MarkAttendance(ctx context.Context, p models.AttendancePayload) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	if err := c.doJSON(ctx, http.MethodPost, "/attendance", p, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DailyAttendance returns the server's roll-call entries for one date.
func (c *Client) DailyAttendance(ctx context.Context, date string) ([]models.AttendanceRecord, error) {
	var recs []models.AttendanceRecord
	if err := c.doJSON(ctx, http.MethodGet, "/attendance/daily/"+url.PathEscape(date), nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// AttendanceSummary returns per-date attendance totals for a date range.
func (c *Client) AttendanceSummary(ctx context.Context, startDate, endDate string) ([]models.AttendanceSummary, error) {
	path := fmt.Sprintf("/attendance/summary/%s/%s", url.PathEscape(startDate), url.PathEscape(endDate))
	var summary []models.AttendanceSummary
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// CreateMember creates a member on the server.
func (c *Client) CreateMember(ctx context.Context, p models.MemberPayload) (*models.Member, error) {
	var m models.Member
	if err := c.doJSON(ctx, http.MethodPost, "/members", p, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMember updates a member on the server.
func (c *Client) UpdateMember(ctx context.Context, id int64, p models.MemberPayload) (*models.Member, error) {
	var m models.Member
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/members/%d", id), p, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMembers returns all members.
func (c *Client) ListMembers(ctx context.Context) ([]models.Member, error) {
	var members []models.Member
	if err := c.doJSON(ctx, http.MethodGet, "/members", nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// ListActiveMembers returns active members, optionally filtered by a name
// search term and a class name.
func (c *Client) ListActiveMembers(ctx context.Context, search, class string) ([]models.Member, error) {
	params := url.Values{}
	if search != "" {
		params.Set("search", search)
	}
	if class != "" {
		params.Set("class", class)
	}
	path := "/members/active"
	if q := params.Encode(); q != "" {
		path += "?" + q
	}

	var members []models.Member
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// ListClasses returns classes; active only when activeOnly is set.
func (c *Client) ListClasses(ctx context.Context, activeOnly bool) ([]models.ClassGroup, error) {
	path := "/classes"
	if activeOnly {
		path = "/classes/active"
	}
	var classes []models.ClassGroup
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// doJSON executes one request and decodes the JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "failed to marshal request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteRejection(path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteRejected,
			fmt.Sprintf("invalid response body from %s", path), err)
	}
	return nil
}

// classifyTransportError maps a transport failure to a network or timeout
// code. Both count as connectivity failures for the gateway.
func classifyTransportError(path string, err error) error {
	var urlErr *url.Error
	if (errors.As(err, &urlErr) && urlErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrTimeout,
			fmt.Sprintf("request to %s timed out", path), err)
	}
	return apperrors.Wrap(apperrors.ErrNetwork,
		fmt.Sprintf("request to %s failed", path), err)
}

// remoteRejection builds the error for a non-2xx response, carrying the
// server's own error message when it sent one.
func remoteRejection(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := fmt.Sprintf("%s returned HTTP %d", path, resp.StatusCode)
	var serverErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &serverErr); err == nil {
		if serverErr.Error != "" {
			message = fmt.Sprintf("%s: %s", message, serverErr.Error)
		} else if serverErr.Message != "" {
			message = fmt.Sprintf("%s: %s", message, serverErr.Message)
		}
	}

	return apperrors.New(apperrors.ErrRemoteRejected, message)
}
