package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/http/response"
	"github.com/yungbote/lessonweave-backend/internal/services"
)

type NodeHandler struct {
	svc services.ContentService
}

func NewNodeHandler(svc services.ContentService) *NodeHandler {
	return &NodeHandler{svc: svc}
}

type insertNodeRequest struct {
	ParentID string `json:"parent_id" binding:"required,uuid"`
	Title    string `json:"title" binding:"required,max=300"`
	Content  string `json:"content"`
}

type updateNodeRequest struct {
	Title   *string `json:"title" binding:"omitempty,max=300"`
	Content *string `json:"content"`
}

type moveNodeRequest struct {
	ParentID string `json:"parent_id" binding:"required,uuid"`
	Position *int   `json:"position" binding:"required,min=0"`
}

// POST /api/modules/:id/nodes
func (h *NodeHandler) InsertNode(c *gin.Context) {
	moduleID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req insertNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	id, err := h.svc.InsertNode(c.Request.Context(), services.InsertNodeInput{
		ModuleID: moduleID,
		ParentID: uuid.MustParse(req.ParentID),
		Title:    req.Title,
		Content:  req.Content,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"node_id": id})
}

// GET /api/nodes/:id
func (h *NodeHandler) GetNode(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := h.svc.GetNode(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}

// PATCH /api/nodes/:id
func (h *NodeHandler) UpdateNode(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	n, err := h.svc.UpdateNode(c.Request.Context(), id, services.NodeUpdate{Title: req.Title, Content: req.Content})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}

// DELETE /api/nodes/:id
func (h *NodeHandler) DeleteNode(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteNode(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// POST /api/nodes/:id/move
func (h *NodeHandler) MoveNode(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req moveNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	if err := h.svc.MoveNode(c.Request.Context(), id, uuid.MustParse(req.ParentID), *req.Position); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
