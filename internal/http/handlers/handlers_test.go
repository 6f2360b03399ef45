package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yungbote/lessonweave-backend/internal/data/repos"
	"github.com/yungbote/lessonweave-backend/internal/data/repos/testutil"
	"github.com/yungbote/lessonweave-backend/internal/generation"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/realtime"
	"github.com/yungbote/lessonweave-backend/internal/services"
	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

type fakeRunner struct {
	started  []generation.StartRequest
	trees    []generation.TreeRequest
	canceled []streaming.Key
	startErr error
}

func (f *fakeRunner) Start(_ context.Context, req generation.StartRequest) (*generation.Handle, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	return &generation.Handle{ID: uuid.New(), Key: streaming.Key{EntityID: req.NodeID, WorkspaceID: req.WorkspaceID}}, nil
}

func (f *fakeRunner) StartTree(_ context.Context, req generation.TreeRequest) (*generation.Handle, error) {
	f.trees = append(f.trees, req)
	return &generation.Handle{ID: uuid.New(), ModuleID: req.ModuleID, Tree: true}, nil
}

func (f *fakeRunner) CancelKey(_ context.Context, key streaming.Key) bool {
	f.canceled = append(f.canceled, key)
	return len(f.started) > 0
}

type testServer struct {
	engine *gin.Engine
	runner *fakeRunner
	hub    *realtime.SSEHub
	buf    *streaming.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	hub := realtime.NewSSEHub(log)
	emitter := &realtime.HubEmitter{Hub: hub}
	store := services.NewContentStore(db, log, repos.New(db, log))
	buf := streaming.NewBuffer(log, emitter, store)
	svc := services.NewContentService(log, store, buf, emitter)
	runner := &fakeRunner{}

	modules := NewModuleHandler(svc)
	nodes := NewNodeHandler(svc)
	gen := NewGenerationHandler(log, runner, buf)
	rt := NewRealtimeHandler(log, hub, runner, nil)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/modules", modules.CreateModule)
	api.GET("/modules", modules.ListModules)
	api.GET("/modules/:id", modules.GetModule)
	api.DELETE("/modules/:id", modules.DeleteModule)
	api.GET("/modules/:id/tree", modules.GetTree)
	api.GET("/modules/:id/verify", modules.Verify)
	api.GET("/modules/:id/nodes/:node_id/subtree", modules.GetSubtree)
	api.POST("/modules/:id/nodes", nodes.InsertNode)
	api.GET("/nodes/:id", nodes.GetNode)
	api.PATCH("/nodes/:id", nodes.UpdateNode)
	api.DELETE("/nodes/:id", nodes.DeleteNode)
	api.POST("/nodes/:id/move", nodes.MoveNode)
	api.POST("/nodes/:id/generate", gen.GenerateNode)
	api.POST("/modules/:id/generate", gen.GenerateModule)
	api.GET("/generations/:node_id", gen.GetGeneration)
	api.DELETE("/generations/:node_id", gen.CancelGeneration)
	api.GET("/realtime/sse", rt.SSEStream)
	api.GET("/realtime/ws", rt.WebSocket)

	return &testServer{engine: r, runner: runner, hub: hub, buf: buf}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (s *testServer) createModule(t *testing.T, ws uuid.UUID) uuid.UUID {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/modules", gin.H{"workspace_id": ws.String(), "name": "M"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create module: status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Module struct {
			ID uuid.UUID `json:"id"`
		} `json:"module"`
	}](t, rec)
	return body.Module.ID
}

func (s *testServer) insertNode(t *testing.T, moduleID, parentID uuid.UUID, title string) uuid.UUID {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/modules/"+moduleID.String()+"/nodes", gin.H{"parent_id": parentID.String(), "title": title})
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert node: status=%d body=%s", rec.Code, rec.Body.String())
	}
	return decode[struct {
		NodeID uuid.UUID `json:"node_id"`
	}](t, rec).NodeID
}

func TestModuleTreeEndpoints(t *testing.T) {
	s := newTestServer(t)
	m := s.createModule(t, uuid.New())
	a := s.insertNode(t, m, m, "A")
	b := s.insertNode(t, m, m, "B")

	rec := s.do(t, http.MethodGet, "/api/modules/"+m.String()+"/tree", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get tree: status=%d body=%s", rec.Code, rec.Body.String())
	}
	view := decode[struct {
		Source string `json:"source"`
		Tree   struct {
			ID       uuid.UUID `json:"id"`
			Children []struct {
				ID       uuid.UUID `json:"id"`
				Position int       `json:"position"`
			} `json:"children"`
		} `json:"tree"`
	}](t, rec)
	if view.Source != services.SourceStore {
		t.Fatalf("source: got=%q", view.Source)
	}
	if len(view.Tree.Children) != 2 || view.Tree.Children[0].ID != a || view.Tree.Children[1].ID != b {
		t.Fatalf("children: %+v", view.Tree.Children)
	}

	rec = s.do(t, http.MethodGet, "/api/modules/"+m.String()+"/verify", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodDelete, "/api/nodes/"+a.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete node: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/nodes/"+a.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted node: status=%d", rec.Code)
	}
	if got := decode[errorBody](t, rec).Error.Code; got != "not_found" {
		t.Fatalf("error code: got=%q", got)
	}
}

func TestNodeValidationErrors(t *testing.T) {
	s := newTestServer(t)
	m := s.createModule(t, uuid.New())

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad module id", http.MethodGet, "/api/modules/nope/tree", nil, http.StatusBadRequest, "validation_error"},
		{"missing title", http.MethodPost, "/api/modules/" + m.String() + "/nodes", gin.H{"parent_id": m.String()}, http.StatusBadRequest, "validation_error"},
		{"unknown parent", http.MethodPost, "/api/modules/" + m.String() + "/nodes", gin.H{"parent_id": uuid.NewString(), "title": "x"}, http.StatusNotFound, "not_found"},
		{"negative position", http.MethodPost, "/api/nodes/" + m.String() + "/move", gin.H{"parent_id": m.String(), "position": -1}, http.StatusBadRequest, "validation_error"},
		{"move root", http.MethodPost, "/api/nodes/" + m.String() + "/move", gin.H{"parent_id": m.String(), "position": 0}, http.StatusBadRequest, "validation_error"},
		{"delete root", http.MethodDelete, "/api/nodes/" + m.String(), nil, http.StatusBadRequest, "validation_error"},
		{"unknown module", http.MethodGet, "/api/modules/" + uuid.NewString(), nil, http.StatusNotFound, "not_found"},
		{"list without workspace", http.MethodGet, "/api/modules", nil, http.StatusBadRequest, "validation_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status: got=%d want=%d body=%s", rec.Code, tc.status, rec.Body.String())
			}
			if got := decode[errorBody](t, rec).Error.Code; got != tc.code {
				t.Fatalf("code: got=%q want=%q", got, tc.code)
			}
		})
	}
}

func TestUpdateNodeConflictsWithActiveGeneration(t *testing.T) {
	s := newTestServer(t)
	ws := uuid.New()
	m := s.createModule(t, ws)
	n := s.insertNode(t, m, m, "N")

	key := streaming.Key{EntityID: n, WorkspaceID: ws}
	if _, err := s.buf.Open(context.Background(), key, streaming.OpenOptions{ModuleID: m}); err != nil {
		t.Fatalf("open: %v", err)
	}
	rec := s.do(t, http.MethodPatch, "/api/nodes/"+n.String(), gin.H{"content": "manual"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: got=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/generations/"+n.String()+"?workspace_id="+ws.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get generation: status=%d body=%s", rec.Code, rec.Body.String())
	}

	s.buf.Abort(context.Background(), key, nil)
	rec = s.do(t, http.MethodPatch, "/api/nodes/"+n.String(), gin.H{"content": "manual"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status after abort: got=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestGenerationEndpoints(t *testing.T) {
	s := newTestServer(t)
	ws := uuid.New()
	node := uuid.New()

	rec := s.do(t, http.MethodPost, "/api/nodes/"+node.String()+"/generate", gin.H{"workspace_id": ws.String(), "context": "intro"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate: status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(s.runner.started) != 1 || s.runner.started[0].NodeID != node || s.runner.started[0].Context != "intro" {
		t.Fatalf("started: %+v", s.runner.started)
	}

	rec = s.do(t, http.MethodPost, "/api/modules/"+node.String()+"/generate", gin.H{"workspace_id": ws.String(), "skip_root": true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate module: status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(s.runner.trees) != 1 || !s.runner.trees[0].SkipRoot {
		t.Fatalf("trees: %+v", s.runner.trees)
	}

	rec = s.do(t, http.MethodDelete, "/api/generations/"+node.String()+"?workspace_id="+ws.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(s.runner.canceled) != 1 || s.runner.canceled[0] != (streaming.Key{EntityID: node, WorkspaceID: ws}) {
		t.Fatalf("canceled: %+v", s.runner.canceled)
	}

	rec = s.do(t, http.MethodDelete, "/api/generations/"+node.String()+"?workspace_id=bad", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("cancel bad workspace: status=%d", rec.Code)
	}

	s.runner.startErr = apierr.Conflict("generation already running")
	rec = s.do(t, http.MethodPost, "/api/nodes/"+node.String()+"/generate", gin.H{"workspace_id": ws.String()})
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflict: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/nodes/"+node.String()+"/generate", gin.H{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing workspace: status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestWebSocketSubscribeReceivesBroadcasts(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/realtime/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	ws := uuid.New()
	if err := conn.WriteJSON(WSMessage{Type: "subscribe", WorkspaceID: ws.String()}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var reply WSReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != "subscribe" || !reply.OK {
		t.Fatalf("reply: %+v", reply)
	}

	emitter := &realtime.HubEmitter{Hub: s.hub}
	if err := emitter.Publish(context.Background(), ws.String(), "generation.delta", gin.H{"delta": "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var msg realtime.SSEMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if msg.Channel != ws.String() || msg.Event != realtime.SSEEventGenerationDelta {
		t.Fatalf("broadcast: %+v", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "cancel", WorkspaceID: ws.String(), NodeID: uuid.NewString()}); err != nil {
		t.Fatalf("write cancel: %v", err)
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read cancel reply: %v", err)
	}
	if reply.OK || reply.Code != "not_found" {
		t.Fatalf("cancel reply: %+v", reply)
	}
}
