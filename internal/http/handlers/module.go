package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/http/response"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/services"
)

type ModuleHandler struct {
	svc services.ContentService
}

func NewModuleHandler(svc services.ContentService) *ModuleHandler {
	return &ModuleHandler{svc: svc}
}

type createModuleRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required,uuid"`
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=4000"`
}

// POST /api/modules
func (h *ModuleHandler) CreateModule(c *gin.Context) {
	var req createModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	m, err := h.svc.CreateModule(c.Request.Context(), services.CreateModuleInput{
		WorkspaceID: uuid.MustParse(req.WorkspaceID),
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"module": m})
}

// GET /api/modules?workspace_id=
func (h *ModuleHandler) ListModules(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Query("workspace_id"))
	if err != nil {
		response.RespondAPIError(c, apierr.Validation("invalid workspace id"))
		return
	}
	modules, err := h.svc.ListModules(c.Request.Context(), workspaceID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"modules": modules})
}

// GET /api/modules/:id
func (h *ModuleHandler) GetModule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	m, err := h.svc.GetModule(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"module": m})
}

// DELETE /api/modules/:id
func (h *ModuleHandler) DeleteModule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteModule(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// GET /api/modules/:id/tree
func (h *ModuleHandler) GetTree(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.svc.GetTree(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, view)
}

// GET /api/modules/:id/nodes/:node_id/subtree
func (h *ModuleHandler) GetSubtree(c *gin.Context) {
	moduleID, ok := pathID(c, "id")
	if !ok {
		return
	}
	nodeID, ok := pathID(c, "node_id")
	if !ok {
		return
	}
	root, err := h.svc.GetSubtree(c.Request.Context(), moduleID, nodeID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"tree": root})
}

// GET /api/modules/:id/verify
func (h *ModuleHandler) Verify(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Verify(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.RespondAPIError(c, apierr.Validation("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}
