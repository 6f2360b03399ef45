package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/lessonweave-backend/internal/platform/ctxutil"
)

const (
	headerTraceID     = "X-Trace-Id"
	headerRequestID   = "X-Request-Id"
	headerWorkspaceID = "X-Workspace-Id"
)

// AttachTraceContext stores request, trace and workspace ids on the request
// context for logging. Trace ids come from the header, then the otel span,
// then a fresh uuid. The workspace id is the room a request's broadcasts go
// to and is taken from the header or the workspace_id query parameter.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}

		span := trace.SpanFromContext(c.Request.Context())
		traceID := strings.TrimSpace(c.GetHeader(headerTraceID))
		if traceID == "" && span.SpanContext().HasTraceID() {
			traceID = span.SpanContext().TraceID().String()
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		td := &ctxutil.TraceData{TraceID: traceID, RequestID: reqID}
		if ws := workspaceFrom(c); ws != "" {
			td.WorkspaceID = ws
			span.SetAttributes(attribute.String("workspace_id", ws))
		}

		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Set("trace_id", traceID)
		c.Set("request_id", reqID)
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

// workspaceFrom returns a well-formed workspace id or "".
func workspaceFrom(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(headerWorkspaceID))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("workspace_id"))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return ""
	}
	return id.String()
}
