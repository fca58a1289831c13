package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/maieulabs/maieutic-backend/internal/data/repos"
	"github.com/maieulabs/maieutic-backend/internal/data/repos/testutil"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/ctxutil"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
)

type canvasFixture struct {
	svc      CanvasService
	jobs     repos.CompletionJobRepo
	archive  repos.ArchivedMessageRepo
	dbc      dbctx.Context
	userID   uuid.UUID
	canvasID uuid.UUID
}

func newCanvasFixture(t *testing.T) *canvasFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	nodeRepo := repos.NewCanvasNodeRepo(tx, log)
	archiveRepo := repos.NewArchivedMessageRepo(tx, log)
	jobRepo := repos.NewCompletionJobRepo(tx, log)

	svc := NewCanvasService(tx, log, nodeRepo, archiveRepo, jobRepo)

	userID := uuid.New()
	ctx := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: userID})
	return &canvasFixture{
		svc:      svc,
		jobs:     jobRepo,
		archive:  archiveRepo,
		dbc:      dbctx.Context{Ctx: ctx},
		userID:   userID,
		canvasID: uuid.New(),
	}
}

func (f *canvasFixture) newNode(t *testing.T, parent *uuid.UUID, title string) *types.CanvasNode {
	t.Helper()
	node, err := f.svc.CreateNode(f.dbc, f.canvasID, parent, title, types.TechniqueMaieutics)
	if err != nil {
		t.Fatalf("CreateNode(%q): %v", title, err)
	}
	return node
}

func TestCreateNodeValidatesParent(t *testing.T) {
	f := newCanvasFixture(t)

	root := f.newNode(t, nil, "root")
	child := f.newNode(t, &root.ID, "child")
	if child.ParentNodeID == nil || *child.ParentNodeID != root.ID {
		t.Errorf("child parent = %v, want %v", child.ParentNodeID, root.ID)
	}

	// Parent on another canvas is rejected.
	otherCanvas, err := f.svc.CreateNode(f.dbc, uuid.New(), &root.ID, "stray", types.TechniqueMaieutics)
	if err == nil {
		t.Errorf("CreateNode accepted a parent on a different canvas: %+v", otherCanvas)
	}

	// Unknown parent is rejected.
	missing := uuid.New()
	if _, err := f.svc.CreateNode(f.dbc, f.canvasID, &missing, "orphan", types.TechniqueMaieutics); err == nil {
		t.Errorf("CreateNode accepted a missing parent")
	}
}

func TestDeleteNodeRefusedWithoutCascade(t *testing.T) {
	f := newCanvasFixture(t)

	root := f.newNode(t, nil, "root")
	f.newNode(t, &root.ID, "child")

	if _, err := f.svc.DeleteNode(f.dbc, root.ID, false); !errors.Is(err, ErrNodeHasDependents) {
		t.Fatalf("err = %v, want ErrNodeHasDependents", err)
	}
	// The refused delete left everything in place.
	if _, err := f.svc.GetNode(f.dbc, root.ID); err != nil {
		t.Fatalf("root vanished after a refused delete: %v", err)
	}
}

func TestDeleteNodeCascadesSubtree(t *testing.T) {
	f := newCanvasFixture(t)

	root := f.newNode(t, nil, "root")
	childA := f.newNode(t, &root.ID, "child a")
	childB := f.newNode(t, &root.ID, "child b")
	grandchild := f.newNode(t, &childA.ID, "grandchild")
	sibling := f.newNode(t, nil, "untouched sibling")

	// Attach dialogue residue to a subtree node so the cascade has rows to sweep.
	now := time.Now().UTC()
	job := &types.CompletionJob{
		ID:               uuid.New(),
		OwnerUserID:      f.userID,
		ParentKind:       types.ParentNode,
		ParentID:         grandchild.ID,
		TriggerMessageID: uuid.New(),
		TriggerSeq:       1,
		AssistantSeq:     2,
		Status:           types.JobCompleted,
		NextRunAt:        now,
		Payload:          datatypes.JSON([]byte("{}")),
		Result:           datatypes.JSON([]byte("{}")),
	}
	if _, err := f.jobs.Create(f.dbc, []*types.CompletionJob{job}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	archived := &types.ArchivedMessage{
		ID:         uuid.New(),
		ParentKind: types.ParentNode,
		ParentID:   grandchild.ID,
		Seq:        1,
		MessageID:  uuid.New(),
		Role:       types.RoleUser,
		Content:    "old message",
		Meta:       datatypes.JSON([]byte("{}")),
		CreatedAt:  now,
		ArchivedAt: now,
	}
	if _, err := f.archive.Create(f.dbc, []*types.ArchivedMessage{archived}); err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	deleted, err := f.svc.DeleteNode(f.dbc, root.ID, true)
	if err != nil {
		t.Fatalf("DeleteNode(cascade): %v", err)
	}
	want := map[uuid.UUID]bool{root.ID: true, childA.ID: true, childB.ID: true, grandchild.ID: true}
	if len(deleted) != len(want) {
		t.Fatalf("deleted %d nodes, want %d: %v", len(deleted), len(want), deleted)
	}
	for _, id := range deleted {
		if !want[id] {
			t.Fatalf("deleted unexpected node %v", id)
		}
	}

	for _, id := range deleted {
		if _, err := f.svc.GetNode(f.dbc, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("node %v still readable after cascade: %v", id, err)
		}
	}
	if _, err := f.svc.GetNode(f.dbc, sibling.ID); err != nil {
		t.Errorf("cascade deleted an unrelated node: %v", err)
	}

	jobs, err := f.jobs.GetByIDs(f.dbc, []uuid.UUID{job.ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("subtree job survived the cascade")
	}
	count, err := f.archive.CountByParent(f.dbc, types.ParentNode, grandchild.ID)
	if err != nil {
		t.Fatalf("CountByParent: %v", err)
	}
	if count != 0 {
		t.Errorf("subtree archive rows = %d after cascade, want 0", count)
	}
}

func TestDeleteLeafWithoutCascade(t *testing.T) {
	f := newCanvasFixture(t)

	root := f.newNode(t, nil, "root")
	leaf := f.newNode(t, &root.ID, "leaf")

	deleted, err := f.svc.DeleteNode(f.dbc, leaf.ID, false)
	if err != nil {
		t.Fatalf("DeleteNode(leaf): %v", err)
	}
	if len(deleted) != 1 || deleted[0] != leaf.ID {
		t.Fatalf("deleted = %v, want just the leaf", deleted)
	}
	if _, err := f.svc.GetNode(f.dbc, root.ID); err != nil {
		t.Fatalf("root vanished with the leaf: %v", err)
	}
}

func TestNodeOwnershipIsEnforced(t *testing.T) {
	f := newCanvasFixture(t)
	node := f.newNode(t, nil, "mine")

	stranger := dbctx.Context{Ctx: ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: uuid.New()})}

	if _, err := f.svc.GetNode(stranger, node.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNode by stranger: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.DeleteNode(stranger, node.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteNode by stranger: err = %v, want ErrNotFound", err)
	}
	nodes, err := f.svc.ListNodes(stranger, f.canvasID)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("stranger can list %d foreign nodes", len(nodes))
	}
}
