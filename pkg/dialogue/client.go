package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParentKind selects which dialogue surface a call targets.
type ParentKind string

const (
	ParentConversation ParentKind = "conversation"
	ParentNode         ParentKind = "node"
)

// APIError is a decoded server error envelope.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

// Client talks to the dialogue API over HTTP. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client

	retryBase   time.Duration
	maxAttempts int
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithStreamRetry overrides the stream reconnect policy (default: 1s base
// doubling, five attempts).
func WithStreamRetry(base time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		c.retryBase = base
		c.maxAttempts = maxAttempts
	}
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		hc:          &http.Client{Timeout: 30 * time.Second},
		retryBase:   reconnectBase,
		maxAttempts: reconnectMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func parentPath(kind ParentKind, id uuid.UUID) string {
	if kind == ParentNode {
		return "/api/nodes/" + id.String()
	}
	return "/api/conversations/" + id.String()
}

// Submit enqueues a user message for the given dialogue and returns without
// waiting for the completion. A non-empty idempotencyKey makes retries of the
// same logical submission safe: the server returns the original job instead
// of enqueueing twice.
func (c *Client) Submit(ctx context.Context, kind ParentKind, parentID uuid.UUID, content, idempotencyKey string) (*SubmitResult, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+parentPath(kind, parentID)+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	var out SubmitResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches up to limit messages older than beforeSeq. beforeSeq <= 0
// means "from the newest". The page is chronological.
func (c *Client) History(ctx context.Context, kind ParentKind, parentID uuid.UUID, beforeSeq int64, limit int) (*HistoryPage, error) {
	q := url.Values{}
	if beforeSeq > 0 {
		q.Set("before_seq", strconv.FormatInt(beforeSeq, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := c.baseURL + parentPath(kind, parentID) + "/history"
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out HistoryPage
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JobStatus is the server's view of a submitted job.
type JobStatus struct {
	Job      json.RawMessage `json:"job"`
	Position int             `json:"position"`
}

func (c *Client) Job(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs/"+jobID.String(), nil)
	if err != nil {
		return nil, err
	}
	var out JobStatus
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			env.Error.StatusCode = resp.StatusCode
			return &env.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Code: "http_error", Message: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
