package dialogue

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	reconnectBase        = time.Second
	reconnectMaxAttempts = 5
)

// Stream is a live subscription to one dialogue's event feed. Events arrive
// on Events() in server order. A dropped transport is retried with
// exponential backoff (base 1s, doubling); after five consecutive failed
// attempts the stream gives up and closes with the last error.
type Stream struct {
	events chan Event
	cancel context.CancelFunc

	retryBase   time.Duration
	maxAttempts int

	mu      sync.Mutex
	lastErr error
	closed  bool
}

// wireFrame is the JSON the server puts on each event's data line.
type wireFrame struct {
	Channel string    `json:"channel"`
	Event   EventType `json:"event"`
	Data    struct {
		JobID   uuid.UUID `json:"job_id"`
		Attempt int       `json:"attempt"`
		Note    string    `json:"note"`
		Message *Message  `json:"message"`
		Error   string    `json:"error"`
	} `json:"data"`
}

// Stream opens the event feed for a dialogue. The token rides as a query
// parameter because EventSource transports cannot set headers.
func (c *Client) Stream(ctx context.Context, kind ParentKind, parentID uuid.UUID) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events:      make(chan Event, 32),
		cancel:      cancel,
		retryBase:   c.retryBase,
		maxAttempts: c.maxAttempts,
	}
	u := c.baseURL + parentPath(kind, parentID) + "/stream?token=" + url.QueryEscape(c.token)
	go s.run(ctx, c.hc, u)
	return s
}

// Events yields decoded events until the stream ends. The channel closes on
// Close, context cancellation, or reconnect exhaustion; check Err afterwards.
func (s *Stream) Events() <-chan Event { return s.events }

// Err reports why the stream stopped, nil for a clean close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Stream) Close() {
	s.cancel()
}

func (s *Stream) run(ctx context.Context, hc *http.Client, streamURL string) {
	defer close(s.events)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.consume(ctx, hc, streamURL, &attempt)
		if ctx.Err() != nil {
			return
		}
		attempt++
		if attempt >= s.maxAttempts {
			s.setErr(fmt.Errorf("stream reconnect attempts exhausted: %w", err))
			return
		}
		delay := s.retryBase << (attempt - 1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume holds one transport connection open and decodes frames until it
// drops. A connection that delivers at least one event resets the reconnect
// budget.
func (s *Stream) consume(ctx context.Context, hc *http.Client, streamURL string, attempt *int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// Long-lived request: the client-level timeout would sever it.
	streamClient := &http.Client{Transport: hc.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if ev, ok := decodeFrame(data.String()); ok {
					*attempt = 0
					select {
					case s.events <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event: lines are redundant; the payload names its own event
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed by server")
}

func decodeFrame(raw string) (Event, bool) {
	var f wireFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Event{}, false
	}
	if f.Event == "" {
		return Event{}, false
	}
	return Event{
		Type:    f.Event,
		JobID:   f.Data.JobID,
		Attempt: f.Data.Attempt,
		Note:    f.Data.Note,
		Message: f.Data.Message,
		Err:     f.Data.Error,
	}, true
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.lastErr = err
		s.closed = true
	}
}
