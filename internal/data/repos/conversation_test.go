package repos

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/maieulabs/maieutic-backend/internal/data/repos/testutil"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
)

func seedConversation(t *testing.T, dbc dbctx.Context, repo ConversationRepo, user uuid.UUID, title string, tags []string) *types.Conversation {
	t.Helper()
	rawTags, err := json.Marshal(tags)
	if err != nil {
		t.Fatalf("marshal tags: %v", err)
	}
	rows, err := repo.Create(dbc, []*types.Conversation{{
		UserID:    user,
		Title:     title,
		Technique: types.TechniqueMaieutics,
		Tags:      datatypes.JSON(rawTags),
		DialogueState: types.DialogueState{
			RecentMessages: datatypes.JSON([]byte("[]")),
			LastMessageAt:  time.Now().UTC(),
		},
	}})
	if err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return rows[0]
}

func TestConversationRepoTagFilter(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewConversationRepo(db, testutil.Logger(t))

	user := uuid.New()
	ethics := seedConversation(t, dbc, repo, user, "ethics", []string{"virtue", "ethics"})
	seedConversation(t, dbc, repo, user, "logic", []string{"logic"})

	rows, err := repo.ListByUser(dbc, user, ConversationListFilter{Tag: "virtue"})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != ethics.ID {
		t.Fatalf("tag filter matched %d rows, want just %q", len(rows), "ethics")
	}
}

func TestConversationRepoTagFilterEscapesSpecialCharacters(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewConversationRepo(db, testutil.Logger(t))

	user := uuid.New()
	quoted := `he said "know thyself"`
	slashed := `paths\and\backslashes`
	target := seedConversation(t, dbc, repo, user, "quoted", []string{quoted})
	seedConversation(t, dbc, repo, user, "slashed", []string{slashed})

	// Quotes and backslashes in a tag must produce a valid containment
	// document, not a malformed-JSON error from the database.
	rows, err := repo.ListByUser(dbc, user, ConversationListFilter{Tag: quoted})
	if err != nil {
		t.Fatalf("ListByUser(quoted tag): %v", err)
	}
	if len(rows) != 1 || rows[0].ID != target.ID {
		t.Fatalf("quoted tag matched %d rows, want 1", len(rows))
	}

	rows, err = repo.ListByUser(dbc, user, ConversationListFilter{Tag: slashed})
	if err != nil {
		t.Fatalf("ListByUser(backslash tag): %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "slashed" {
		t.Fatalf("backslash tag matched %d rows, want 1", len(rows))
	}
}
