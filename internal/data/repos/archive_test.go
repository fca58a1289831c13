package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/maieulabs/maieutic-backend/internal/data/repos/testutil"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
)

func seedArchive(t *testing.T, dbc dbctx.Context, repo ArchivedMessageRepo, parent uuid.UUID, seqs []int64) {
	t.Helper()
	now := time.Now().UTC()
	rows := make([]*types.ArchivedMessage, 0, len(seqs))
	for _, seq := range seqs {
		role := types.RoleUser
		if seq%2 == 0 {
			role = types.RoleAssistant
		}
		rows = append(rows, &types.ArchivedMessage{
			ID:         uuid.New(),
			ParentKind: types.ParentConversation,
			ParentID:   parent,
			Seq:        seq,
			MessageID:  uuid.New(),
			Role:       role,
			Content:    fmt.Sprintf("message %d", seq),
			Meta:       datatypes.JSON([]byte("{}")),
			CreatedAt:  now.Add(time.Duration(seq) * time.Second),
			ArchivedAt: now,
		})
	}
	if _, err := repo.Create(dbc, rows); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestArchivedMessageRepoListBefore(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewArchivedMessageRepo(db, testutil.Logger(t))

	parent := uuid.New()
	seedArchive(t, dbc, repo, parent, []int64{1, 2, 3, 4, 5, 6, 7, 8})

	rows, err := repo.ListBefore(dbc, types.ParentConversation, parent, 6, 3)
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	// Newest first below the cursor: 5, 4, 3.
	want := []int64{5, 4, 3}
	if len(rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(rows), len(want))
	}
	for i, w := range want {
		if rows[i].Seq != w {
			t.Fatalf("rows[%d].Seq = %d, want %d", i, rows[i].Seq, w)
		}
	}

	// Walking the cursor down and reversing pages rebuilds the full history
	// with no duplicates or omissions.
	var collected []int64
	cursor := int64(9)
	for {
		page, err := repo.ListBefore(dbc, types.ParentConversation, parent, cursor, 3)
		if err != nil {
			t.Fatalf("ListBefore(cursor=%d): %v", cursor, err)
		}
		if len(page) == 0 {
			break
		}
		for _, row := range page {
			collected = append(collected, row.Seq)
		}
		cursor = page[len(page)-1].Seq
	}
	if len(collected) != 8 {
		t.Fatalf("collected %d rows, want 8: %v", len(collected), collected)
	}
	for i, seq := range collected {
		if seq != int64(8-i) {
			t.Fatalf("collected = %v, want 8..1 descending", collected)
		}
	}
}

func TestArchivedMessageRepoHasSeqAndCount(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewArchivedMessageRepo(db, testutil.Logger(t))

	parent := uuid.New()
	seedArchive(t, dbc, repo, parent, []int64{1, 2, 3})

	has, err := repo.HasSeq(dbc, types.ParentConversation, parent, 2)
	if err != nil {
		t.Fatalf("HasSeq: %v", err)
	}
	if !has {
		t.Fatalf("seq 2 should be archived")
	}
	if has, _ := repo.HasSeq(dbc, types.ParentConversation, parent, 99); has {
		t.Fatalf("seq 99 should not exist")
	}
	if has, _ := repo.HasSeq(dbc, types.ParentNode, parent, 2); has {
		t.Fatalf("lookups must be scoped by parent kind")
	}

	count, err := repo.CountByParent(dbc, types.ParentConversation, parent)
	if err != nil {
		t.Fatalf("CountByParent: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	if err := repo.DeleteByParents(dbc, types.ParentConversation, []uuid.UUID{parent}); err != nil {
		t.Fatalf("DeleteByParents: %v", err)
	}
	if count, _ := repo.CountByParent(dbc, types.ParentConversation, parent); count != 0 {
		t.Fatalf("count after delete = %d, want 0", count)
	}
}
