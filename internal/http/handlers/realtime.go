package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yungbote/lessonweave-backend/internal/http/response"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
	"github.com/yungbote/lessonweave-backend/internal/realtime"
	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 64 * 1024
)

// GenerationCanceler stops generations on behalf of websocket clients.
type GenerationCanceler interface {
	CancelKey(ctx context.Context, key streaming.Key) bool
}

type RealtimeHandler struct {
	Log      *logger.Logger
	Hub      *realtime.SSEHub
	Canceler GenerationCanceler

	upgrader websocket.Upgrader
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, canceler GenerationCanceler, allowedOrigins []string) *RealtimeHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &RealtimeHandler{
		Log:      log.With("handler", "RealtimeHandler"),
		Hub:      hub,
		Canceler: canceler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
	}
}

// GET /api/realtime/sse?workspace_id=
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Query("workspace_id"))
	if err != nil {
		response.RespondAPIError(c, apierr.Validation("invalid workspace id"))
		return
	}
	client := h.Hub.NewSSEClient()
	h.Hub.AddChannel(client, workspaceID.String())
	h.Log.Debug("SSE stream open", "client_id", client.ID, "workspace_id", workspaceID)

	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.Hub.CloseClient(client)
	h.Log.Debug("SSE stream closed", "client_id", client.ID)
}

// WSMessage is a client command on the websocket.
type WSMessage struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	NodeID      string `json:"node_id,omitempty"`
}

// WSReply acknowledges a command or reports its failure.
type WSReply struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// GET /api/realtime/ws
//
// Clients send {"type":"subscribe","workspace_id":...}, "unsubscribe",
// {"type":"cancel","workspace_id":...,"node_id":...} or "ping". Broadcasts
// arrive as SSEMessage JSON objects.
func (h *RealtimeHandler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := h.Hub.NewSSEClient()
	replies := make(chan WSReply, 16)
	log := h.Log.With("client_id", client.ID)
	log.Debug("websocket connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, client, replies)
	}()

	h.readLoop(c.Request.Context(), conn, client, replies, writerDone)

	h.Hub.CloseClient(client)
	<-writerDone
	_ = conn.Close()
	log.Debug("websocket closed")
}

func (h *RealtimeHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *realtime.SSEClient, replies chan<- WSReply, writerDone <-chan struct{}) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Log.Debug("websocket read failed", "client_id", client.ID, "error", err)
			}
			return
		}
		reply := h.handleCommand(ctx, client, msg)
		select {
		case replies <- reply:
		case <-writerDone:
			return
		case <-client.Done():
			return
		}
	}
}

func (h *RealtimeHandler) handleCommand(ctx context.Context, client *realtime.SSEClient, msg WSMessage) WSReply {
	fail := func(err error) WSReply {
		return WSReply{Type: msg.Type, Error: err.Error(), Code: apierr.Kind(err)}
	}
	switch msg.Type {
	case "ping":
		return WSReply{Type: "pong", OK: true}
	case "subscribe", "unsubscribe":
		workspaceID, err := uuid.Parse(msg.WorkspaceID)
		if err != nil {
			return fail(apierr.Validation("invalid workspace id"))
		}
		if msg.Type == "subscribe" {
			h.Hub.AddChannel(client, workspaceID.String())
		} else {
			h.Hub.RemoveChannel(client, workspaceID.String())
		}
		return WSReply{Type: msg.Type, OK: true}
	case "cancel":
		workspaceID, err := uuid.Parse(msg.WorkspaceID)
		if err != nil {
			return fail(apierr.Validation("invalid workspace id"))
		}
		nodeID, err := uuid.Parse(msg.NodeID)
		if err != nil {
			return fail(apierr.Validation("invalid node id"))
		}
		if h.Canceler == nil || !h.Canceler.CancelKey(ctx, streaming.Key{EntityID: nodeID, WorkspaceID: workspaceID}) {
			return fail(apierr.NotFound("no generation in flight for node %s", nodeID))
		}
		return WSReply{Type: msg.Type, OK: true}
	default:
		return fail(apierr.Validation("unknown message type %q", msg.Type))
	}
}

func (h *RealtimeHandler) writeLoop(conn *websocket.Conn, client *realtime.SSEClient, replies <-chan WSReply) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			h.Log.Debug("websocket write failed", "client_id", client.ID, "error", err)
			return false
		}
		return true
	}
	for {
		select {
		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case reply := <-replies:
			if !write(reply) {
				// Unblock the reader so the handler can clean up.
				_ = conn.Close()
				return
			}
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			if !write(msg) {
				_ = conn.Close()
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
