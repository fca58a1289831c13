package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/maieulabs/maieutic-backend/internal/data/repos"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/ctxutil"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

// ErrNodeHasDependents is returned when a delete would orphan child nodes and
// the caller did not ask for a cascade.
var ErrNodeHasDependents = errors.New("node has dependent nodes")

type NodePatch struct {
	Title     *string
	Technique *types.Technique
}

// CanvasService manages the node graph: each node carries its own dialogue
// (through DialogueState) and an optional parent edge forming a tree per
// canvas.
type CanvasService interface {
	CreateNode(dbc dbctx.Context, canvasID uuid.UUID, parentNodeID *uuid.UUID, title string, technique types.Technique) (*types.CanvasNode, error)
	ListNodes(dbc dbctx.Context, canvasID uuid.UUID) ([]*types.CanvasNode, error)
	GetNode(dbc dbctx.Context, id uuid.UUID) (*types.CanvasNode, error)
	PatchNode(dbc dbctx.Context, id uuid.UUID, patch NodePatch) (*types.CanvasNode, error)
	// DeleteNode removes the node and, with cascade, its whole subtree. Without
	// cascade a node that still has children is refused.
	DeleteNode(dbc dbctx.Context, id uuid.UUID, cascade bool) (deleted []uuid.UUID, err error)
}

type canvasService struct {
	db      *gorm.DB
	log     *logger.Logger
	nodes   repos.CanvasNodeRepo
	archive repos.ArchivedMessageRepo
	jobs    repos.CompletionJobRepo
}

func NewCanvasService(
	db *gorm.DB,
	log *logger.Logger,
	nodes repos.CanvasNodeRepo,
	archive repos.ArchivedMessageRepo,
	jobs repos.CompletionJobRepo,
) CanvasService {
	return &canvasService{
		db:      db,
		log:     log.With("service", "CanvasService"),
		nodes:   nodes,
		archive: archive,
		jobs:    jobs,
	}
}

func (s *canvasService) CreateNode(dbc dbctx.Context, canvasID uuid.UUID, parentNodeID *uuid.UUID, title string, technique types.Technique) (*types.CanvasNode, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	if canvasID == uuid.Nil {
		return nil, fmt.Errorf("missing canvas id")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("missing title")
	}
	if technique == "" {
		technique = types.TechniqueMaieutics
	}
	if !technique.Valid() {
		return nil, fmt.Errorf("unknown technique %q", technique)
	}

	if parentNodeID != nil && *parentNodeID != uuid.Nil {
		parents, err := s.nodes.GetByIDs(dbc, []uuid.UUID{*parentNodeID})
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 || parents[0].UserID != rd.UserID || parents[0].CanvasID != canvasID {
			return nil, fmt.Errorf("parent node not found")
		}
	} else {
		parentNodeID = nil
	}

	row := &types.CanvasNode{
		CanvasID:     canvasID,
		UserID:       rd.UserID,
		ParentNodeID: parentNodeID,
		Title:        title,
		Technique:    technique,
		DialogueState: types.DialogueState{
			RecentMessages: datatypes.JSON([]byte("[]")),
			LastMessageAt:  time.Now().UTC(),
		},
	}
	created, err := s.nodes.Create(dbc, []*types.CanvasNode{row})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *canvasService) ListNodes(dbc dbctx.Context, canvasID uuid.UUID) ([]*types.CanvasNode, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	rows, err := s.nodes.ListByCanvas(dbc, canvasID, 0)
	if err != nil {
		return nil, err
	}
	owned := make([]*types.CanvasNode, 0, len(rows))
	for _, n := range rows {
		if n.UserID == rd.UserID {
			owned = append(owned, n)
		}
	}
	return owned, nil
}

func (s *canvasService) GetNode(dbc dbctx.Context, id uuid.UUID) (*types.CanvasNode, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	rows, err := s.nodes.GetByIDs(dbc, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].UserID != rd.UserID {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (s *canvasService) PatchNode(dbc dbctx.Context, id uuid.UUID, patch NodePatch) (*types.CanvasNode, error) {
	row, err := s.GetNode(dbc, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("title cannot be empty")
		}
		updates["title"] = title
		row.Title = title
	}
	if patch.Technique != nil {
		if !patch.Technique.Valid() {
			return nil, fmt.Errorf("unknown technique %q", *patch.Technique)
		}
		updates["technique"] = *patch.Technique
		row.Technique = *patch.Technique
	}
	if len(updates) == 0 {
		return row, nil
	}
	if err := s.nodes.UpdateFields(dbc, id, updates); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *canvasService) DeleteNode(dbc dbctx.Context, id uuid.UUID, cascade bool) ([]uuid.UUID, error) {
	if _, err := s.GetNode(dbc, id); err != nil {
		return nil, err
	}

	children, err := s.nodes.ListDependents(dbc, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(children) > 0 && !cascade {
		return nil, ErrNodeHasDependents
	}

	// Collect the subtree breadth-first.
	toDelete := []uuid.UUID{id}
	frontier := []uuid.UUID{id}
	for len(frontier) > 0 {
		next, err := s.nodes.ListDependents(dbc, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, n := range next {
			toDelete = append(toDelete, n.ID)
			frontier = append(frontier, n.ID)
		}
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	err = transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		if err := s.jobs.DeleteByParents(inner, types.ParentNode, toDelete); err != nil {
			return err
		}
		if err := s.archive.DeleteByParents(inner, types.ParentNode, toDelete); err != nil {
			return err
		}
		return s.nodes.DeleteByIDs(inner, toDelete)
	})
	if err != nil {
		return nil, err
	}
	return toDelete, nil
}
