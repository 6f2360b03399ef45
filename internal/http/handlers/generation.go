package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/generation"
	"github.com/yungbote/lessonweave-backend/internal/http/response"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

// GenerationRunner is the part of the pipeline the HTTP layer drives.
type GenerationRunner interface {
	Start(ctx context.Context, req generation.StartRequest) (*generation.Handle, error)
	StartTree(ctx context.Context, req generation.TreeRequest) (*generation.Handle, error)
	CancelKey(ctx context.Context, key streaming.Key) bool
}

// SessionReader exposes the in-flight state of a generation.
type SessionReader interface {
	Get(key streaming.Key) (streaming.SessionInfo, bool)
}

type GenerationHandler struct {
	log      *logger.Logger
	runner   GenerationRunner
	sessions SessionReader
}

func NewGenerationHandler(log *logger.Logger, runner GenerationRunner, sessions SessionReader) *GenerationHandler {
	return &GenerationHandler{
		log:      log.With("handler", "GenerationHandler"),
		runner:   runner,
		sessions: sessions,
	}
}

type generateNodeRequest struct {
	WorkspaceID       string `json:"workspace_id" binding:"required,uuid"`
	Context           string `json:"context" binding:"max=20000"`
	RequireSubscriber bool   `json:"require_subscriber"`
}

type generateModuleRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required,uuid"`
	Context     string `json:"context" binding:"max=20000"`
	SkipRoot    bool   `json:"skip_root"`
}

// POST /api/nodes/:id/generate
func (h *GenerationHandler) GenerateNode(c *gin.Context) {
	nodeID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req generateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	handle, err := h.runner.Start(c.Request.Context(), generation.StartRequest{
		NodeID:            nodeID,
		WorkspaceID:       uuid.MustParse(req.WorkspaceID),
		Context:           req.Context,
		RequireSubscriber: req.RequireSubscriber,
	})
	if err != nil {
		if !apierr.IsClientError(err) {
			h.log.Warn("start generation failed", "node_id", nodeID, "error", err)
		}
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"generation": handle})
}

// POST /api/modules/:id/generate
func (h *GenerationHandler) GenerateModule(c *gin.Context) {
	moduleID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req generateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	handle, err := h.runner.StartTree(c.Request.Context(), generation.TreeRequest{
		ModuleID:    moduleID,
		WorkspaceID: uuid.MustParse(req.WorkspaceID),
		Context:     req.Context,
		SkipRoot:    req.SkipRoot,
	})
	if err != nil {
		if !apierr.IsClientError(err) {
			h.log.Warn("start tree generation failed", "module_id", moduleID, "error", err)
		}
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"generation": handle})
}

// GET /api/generations/:node_id?workspace_id=
func (h *GenerationHandler) GetGeneration(c *gin.Context) {
	key, ok := generationKey(c)
	if !ok {
		return
	}
	info, found := h.sessions.Get(key)
	if !found {
		response.RespondAPIError(c, apierr.NotFound("no generation in flight for %s", key))
		return
	}
	response.RespondOK(c, gin.H{"session": info})
}

// DELETE /api/generations/:node_id?workspace_id=
func (h *GenerationHandler) CancelGeneration(c *gin.Context) {
	key, ok := generationKey(c)
	if !ok {
		return
	}
	if !h.runner.CancelKey(c.Request.Context(), key) {
		response.RespondAPIError(c, apierr.NotFound("no generation in flight for %s", key))
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func generationKey(c *gin.Context) (streaming.Key, bool) {
	nodeID, ok := pathID(c, "node_id")
	if !ok {
		return streaming.Key{}, false
	}
	workspaceID, err := uuid.Parse(c.Query("workspace_id"))
	if err != nil {
		response.RespondAPIError(c, apierr.Validation("invalid workspace id"))
		return streaming.Key{}, false
	}
	return streaming.Key{EntityID: nodeID, WorkspaceID: workspaceID}, true
}
