package dialogue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Session binds a client, a reconciled transcript, and the per-submission
// state machine for one dialogue. Submit applies the message optimistically
// before the server answers; the enqueue response (or a later stream event)
// confirms it, and enqueue failure rolls it back.
type Session struct {
	client   *Client
	kind     ParentKind
	parentID uuid.UUID

	rec *Reconciler

	mu      sync.Mutex
	machine *Machine
}

func NewSession(client *Client, kind ParentKind, parentID uuid.UUID) *Session {
	return &Session{
		client:   client,
		kind:     kind,
		parentID: parentID,
		rec:      NewReconciler(),
		machine:  NewMachine(),
	}
}

// Load seeds the transcript with the newest page of history.
func (s *Session) Load(ctx context.Context, limit int) error {
	page, err := s.client.History(ctx, s.kind, s.parentID, 0, limit)
	if err != nil {
		return err
	}
	return s.rec.Seed(page.Messages)
}

// Submit enqueues content with an optimistic local append. The optimistic
// entry's temporary id doubles as the idempotency key, so a transport-level
// retry of the same submission cannot enqueue twice.
func (s *Session) Submit(ctx context.Context, content string) (*SubmitResult, error) {
	optimistic, err := s.rec.Begin(content)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Submit(ctx, s.kind, s.parentID, content, optimistic.ID.String())
	if err != nil {
		s.rec.Abort()
		return nil, err
	}

	s.mu.Lock()
	s.machine = NewMachine()
	_ = s.machine.Submitted(res.JobID.String())
	s.mu.Unlock()

	if res.Message != nil {
		s.rec.Commit(*res.Message)
	}
	return res, nil
}

// Stream opens the dialogue's event feed. Feed its events to HandleEvent.
func (s *Session) Stream(ctx context.Context) *Stream {
	return s.client.Stream(ctx, s.kind, s.parentID)
}

// HandleEvent advances the state machine and merges the event into the
// transcript.
func (s *Session) HandleEvent(ev Event) {
	s.mu.Lock()
	s.machine.Observe(ev)
	s.mu.Unlock()
	s.rec.Apply(ev)
}

func (s *Session) State() JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

func (s *Session) Messages() []Message {
	return s.rec.Messages()
}
