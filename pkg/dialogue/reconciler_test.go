package dialogue

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func confirmed(role string, seq int64, content string) Message {
	return Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		Seq:       seq,
		CreatedAt: time.Now().UTC(),
	}
}

func seqs(msgs []Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func TestBeginAppliesOptimisticEntry(t *testing.T) {
	r := NewReconciler()
	if err := r.Seed([]Message{confirmed(RoleUser, 1, "a"), confirmed(RoleAssistant, 2, "b")}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	opt, err := r.Begin("what is piety?")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if opt.Seq != 3 {
		t.Errorf("provisional seq = %d, want lastKnown+1 = 3", opt.Seq)
	}
	msgs := r.Messages()
	if len(msgs) != 3 || msgs[2].ID != opt.ID {
		t.Fatalf("optimistic entry not applied at the tail: %v", seqs(msgs))
	}
	if !r.Pending() {
		t.Errorf("Pending() = false after Begin")
	}
	if _, err := r.Begin("another"); err == nil {
		t.Errorf("second Begin succeeded while one is pending")
	}
}

func TestCommitReplacesInPlace(t *testing.T) {
	r := NewReconciler()
	_ = r.Seed([]Message{confirmed(RoleUser, 1, "a")})

	opt, _ := r.Begin("what is piety?")
	auth := confirmed(RoleUser, 4, "what is piety?") // server may have burned 2 and 3

	r.Commit(auth)

	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 (replace, not append)", len(msgs))
	}
	if msgs[1].ID == opt.ID {
		t.Errorf("temporary id survived commit")
	}
	if msgs[1].Seq != 4 {
		t.Errorf("seq = %d, want the authoritative 4", msgs[1].Seq)
	}
	if r.Pending() {
		t.Errorf("still pending after commit")
	}
}

func TestAbortRestoresSnapshotExactly(t *testing.T) {
	r := NewReconciler()
	before := []Message{confirmed(RoleUser, 1, "a"), confirmed(RoleAssistant, 2, "b")}
	_ = r.Seed(before)

	_, _ = r.Begin("doomed question")
	r.Abort()

	msgs := r.Messages()
	if len(msgs) != len(before) {
		t.Fatalf("len = %d, want %d", len(msgs), len(before))
	}
	for i := range before {
		if msgs[i].ID != before[i].ID || msgs[i].Seq != before[i].Seq {
			t.Errorf("message %d differs from the pre-submission state", i)
		}
	}
	if r.Pending() {
		t.Errorf("still pending after abort")
	}
}

func TestApplyCommitsMatchingUserMessage(t *testing.T) {
	r := NewReconciler()
	_ = r.Seed([]Message{confirmed(RoleUser, 1, "a")})
	_, _ = r.Begin("what is piety?")

	auth := confirmed(RoleUser, 2, "what is piety?")
	r.Apply(Event{Type: EventMessage, Message: &auth})

	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 (confirmation replaced the optimistic entry)", len(msgs))
	}
	if r.Pending() {
		t.Errorf("still pending after a matching user message event")
	}
}

func TestApplyErrorRollsBack(t *testing.T) {
	r := NewReconciler()
	_ = r.Seed([]Message{confirmed(RoleUser, 1, "a")})
	_, _ = r.Begin("doomed")

	r.Apply(Event{Type: EventError, Err: "provider exploded"})

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1 (optimistic entry rolled back)", len(msgs))
	}
}

func TestApplyDeduplicatesBySequence(t *testing.T) {
	r := NewReconciler()
	_ = r.Seed([]Message{confirmed(RoleUser, 1, "a")})

	reply := confirmed(RoleAssistant, 2, "and what do you mean by a?")
	r.Apply(Event{Type: EventMessage, Message: &reply})
	r.Apply(Event{Type: EventMessage, Message: &reply})

	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 (redelivered event dropped)", len(msgs))
	}
}

func TestTranscriptToleratesSequenceGaps(t *testing.T) {
	r := NewReconciler()
	// seq 4 was burned by a failed job
	_ = r.Seed([]Message{
		confirmed(RoleUser, 1, "a"),
		confirmed(RoleAssistant, 2, "b"),
		confirmed(RoleUser, 3, "c"),
		confirmed(RoleUser, 5, "d"),
	})

	reply := confirmed(RoleAssistant, 6, "e")
	r.Apply(Event{Type: EventMessage, Message: &reply})

	got := seqs(r.Messages())
	want := []int64{1, 2, 3, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("seqs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("seqs = %v, want %v", got, want)
		}
	}
	if r.LastSeq() != 6 {
		t.Errorf("LastSeq = %d, want 6", r.LastSeq())
	}
}
