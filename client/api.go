package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"tasktracker/domain"
	"tasktracker/internal/consts"
)

const maxResponseSize = 4 << 20

// APIError is a non-2xx response from the task API.
type APIError struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// Validation reports whether the server rejected the input field by field.
func (e *APIError) Validation() bool {
	return e.Status == http.StatusUnprocessableEntity
}

type envelope[T any] struct {
	Message string              `json:"message"`
	Data    T                   `json:"data"`
	Errors  map[string][]string `json:"errors"`
}

type updatesEnvelope struct {
	Message         string                `json:"message"`
	Updates         []domain.Notification `json:"updates"`
	Timestamp       int64                 `json:"timestamp"`
	BroadcastDriver string                `json:"broadcast_driver"`
}

// PageData is the reference data needed to render the create form.
type PageData struct {
	Categories []domain.Category `json:"categories"`
	Priorities []domain.Priority `json:"priorities"`
}

// Client wraps http.Client with the task API's JSON endpoints.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a Client for the server rooted at baseURL.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

// StreamURL is the server-sent events endpoint for task broadcasts.
func (c *Client) StreamURL() string {
	return c.BaseURL + "/api/tasks/stream"
}

// ListTasks fetches one page of tasks, optionally filtered by search.
func (c *Client) ListTasks(ctx context.Context, search string, page int) (domain.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if search != "" {
		q.Set("search", search)
	}
	var out envelope[domain.Page]
	if err := c.do(ctx, http.MethodGet, "/api/tasks?"+q.Encode(), nil, nil, &out); err != nil {
		return domain.Page{}, err
	}
	return out.Data, nil
}

// CreateTask submits a new task. Every call carries a fresh idempotency key so
// transport retries cannot create duplicates.
func (c *Client) CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error) {
	hdr := http.Header{}
	hdr.Set(consts.HeaderIdempotencyKey, uuid.NewString())
	var out envelope[domain.Task]
	if err := c.do(ctx, http.MethodPost, "/api/tasks", in, hdr, &out); err != nil {
		return domain.Task{}, err
	}
	return out.Data, nil
}

// UpdateStatus changes a task's status and returns the stored task.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status domain.Status) (domain.Task, error) {
	body := map[string]string{"status": string(status)}
	var out envelope[domain.Task]
	path := "/api/tasks/" + strconv.FormatInt(id, 10) + "/status"
	if err := c.do(ctx, http.MethodPatch, path, body, nil, &out); err != nil {
		return domain.Task{}, err
	}
	return out.Data, nil
}

// Updates returns the status changes recorded at or after since, truncated to
// whole seconds.
func (c *Client) Updates(ctx context.Context, since time.Time) ([]domain.Notification, error) {
	path := "/api/tasks/updates?last_check=" + strconv.FormatInt(since.Unix(), 10)
	var out updatesEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Updates, nil
}

// PageData loads the categories and priorities.
func (c *Client) PageData(ctx context.Context) (PageData, error) {
	var out PageData
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, nil, &out); err != nil {
		return PageData{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, hdr http.Header, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var failure envelope[any]
		if len(bytes.TrimSpace(raw)) > 0 && sonic.ConfigStd.Unmarshal(raw, &failure) == nil {
			apiErr.Message = failure.Message
			apiErr.Fields = failure.Errors
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(raw, out)
}
