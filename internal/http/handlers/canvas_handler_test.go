package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/services"
)

type fakeCanvasService struct {
	nodes []*types.CanvasNode
}

func (f *fakeCanvasService) CreateNode(dbc dbctx.Context, canvasID uuid.UUID, parentNodeID *uuid.UUID, title string, technique types.Technique) (*types.CanvasNode, error) {
	panic("not used")
}

func (f *fakeCanvasService) ListNodes(dbc dbctx.Context, canvasID uuid.UUID) ([]*types.CanvasNode, error) {
	return f.nodes, nil
}

func (f *fakeCanvasService) GetNode(dbc dbctx.Context, id uuid.UUID) (*types.CanvasNode, error) {
	panic("not used")
}

func (f *fakeCanvasService) PatchNode(dbc dbctx.Context, id uuid.UUID, patch services.NodePatch) (*types.CanvasNode, error) {
	panic("not used")
}

func (f *fakeCanvasService) DeleteNode(dbc dbctx.Context, id uuid.UUID, cascade bool) ([]uuid.UUID, error) {
	panic("not used")
}

func TestListNodesIncludesExploredFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)

	explored := &types.CanvasNode{ID: uuid.New(), Title: "settled"}
	explored.MessageCount = 2
	fresh := &types.CanvasNode{ID: uuid.New(), Title: "untouched"}

	h := NewCanvasHandler(&fakeCanvasService{nodes: []*types.CanvasNode{explored, fresh}}, nil)

	r := gin.New()
	r.GET("/api/canvases/:id/nodes", h.ListNodes)

	req := httptest.NewRequest(http.MethodGet, "/api/canvases/"+uuid.New().String()+"/nodes", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body struct {
		Nodes []struct {
			Node     types.CanvasNode `json:"node"`
			Explored bool             `json:"explored"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(body.Nodes))
	}
	for _, item := range body.Nodes {
		want := item.Node.ID == explored.ID
		if item.Explored != want {
			t.Errorf("node %q explored = %v, want %v", item.Node.Title, item.Explored, want)
		}
	}
}
