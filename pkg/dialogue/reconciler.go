package dialogue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

/*
Reconciler merges optimistic local state with server-confirmed messages for
one dialogue. A submission is a three-state transaction:

  - Begin: snapshot the transcript, append an optimistic user entry with a
    temporary id and a provisional sequence (last known + 1).
  - Commit: swap the optimistic entry for the authoritative one, in place, so
    the entry keeps its visual position and gains the real sequence.
  - Abort: restore the snapshot exactly; no residual optimistic entry.

Confirmed messages are inserted in sequence order and deduplicated by
sequence, so redelivered stream events are harmless. Sequences may contain
gaps (a failed job burns its reserved number); the reconciler never treats a
gap as missing data.
*/
type Reconciler struct {
	mu       sync.Mutex
	messages []Message
	pending  *optimisticTx
}

type optimisticTx struct {
	tempID   uuid.UUID
	content  string
	snapshot []Message
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Seed loads server-fetched history, replacing local state. Fails if an
// optimistic transaction is open.
func (r *Reconciler) Seed(msgs []Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		return fmt.Errorf("cannot seed with a pending submission")
	}
	r.messages = append([]Message(nil), msgs...)
	sort.Slice(r.messages, func(i, j int) bool { return r.messages[i].Seq < r.messages[j].Seq })
	return nil
}

// Messages returns a copy of the current transcript, ascending by sequence,
// optimistic entry included.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// LastSeq is the highest confirmed sequence, 0 for an empty transcript.
func (r *Reconciler) LastSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastConfirmedSeqLocked()
}

func (r *Reconciler) lastConfirmedSeqLocked() int64 {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.pending == nil || r.messages[i].ID != r.pending.tempID {
			return r.messages[i].Seq
		}
	}
	return 0
}

// Pending reports whether an optimistic entry is awaiting confirmation.
func (r *Reconciler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// Begin opens the optimistic transaction: the returned message carries a
// temporary id and a provisional sequence and is already applied locally.
// One transaction at a time.
func (r *Reconciler) Begin(content string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		return Message{}, fmt.Errorf("a submission is already pending")
	}
	tx := &optimisticTx{
		tempID:   uuid.New(),
		content:  content,
		snapshot: append([]Message(nil), r.messages...),
	}
	optimistic := Message{
		ID:        tx.tempID,
		Role:      RoleUser,
		Content:   content,
		Seq:       r.lastConfirmedSeqLocked() + 1,
		CreatedAt: time.Now().UTC(),
	}
	r.pending = tx
	r.messages = append(r.messages, optimistic)
	return optimistic, nil
}

// Commit replaces the optimistic entry with the authoritative user message at
// the same position. No-op when no transaction is open.
func (r *Reconciler) Commit(confirmed Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitLocked(confirmed)
}

func (r *Reconciler) commitLocked(confirmed Message) {
	if r.pending == nil {
		return
	}
	for i := range r.messages {
		if r.messages[i].ID == r.pending.tempID {
			r.messages[i] = confirmed
			break
		}
	}
	r.pending = nil
	sort.Slice(r.messages, func(i, j int) bool { return r.messages[i].Seq < r.messages[j].Seq })
}

// Abort restores the pre-submission snapshot exactly.
func (r *Reconciler) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return
	}
	r.messages = r.pending.snapshot
	r.pending = nil
}

// Apply folds one stream event into local state. A user-role message matching
// the pending optimistic entry commits the transaction; an error event aborts
// it; confirmed messages are inserted by sequence with duplicates dropped.
func (r *Reconciler) Apply(ev Event) {
	switch ev.Type {
	case EventMessage:
		if ev.Message == nil {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pending != nil && ev.Message.Role == RoleUser && ev.Message.Content == r.pending.content {
			r.commitLocked(*ev.Message)
			return
		}
		r.insertLocked(*ev.Message)
	case EventError:
		r.Abort()
	}
}

func (r *Reconciler) insertLocked(msg Message) {
	for _, m := range r.messages {
		if m.Seq == msg.Seq && (r.pending == nil || m.ID != r.pending.tempID) {
			return
		}
	}
	r.messages = append(r.messages, msg)
	sort.SliceStable(r.messages, func(i, j int) bool { return r.messages[i].Seq < r.messages[j].Seq })
}
