package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/lessonweave-backend/internal/http/handlers"
	httpMW "github.com/yungbote/lessonweave-backend/internal/http/middleware"
	"github.com/yungbote/lessonweave-backend/internal/observability"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string

	ModuleHandler     *httpH.ModuleHandler
	NodeHandler       *httpH.NodeHandler
	GenerationHandler *httpH.GenerationHandler
	RealtimeHandler   *httpH.RealtimeHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Modules
		if cfg.ModuleHandler != nil {
			api.POST("/modules", cfg.ModuleHandler.CreateModule)
			api.GET("/modules", cfg.ModuleHandler.ListModules)
			api.GET("/modules/:id", cfg.ModuleHandler.GetModule)
			api.DELETE("/modules/:id", cfg.ModuleHandler.DeleteModule)
			api.GET("/modules/:id/tree", cfg.ModuleHandler.GetTree)
			api.GET("/modules/:id/verify", cfg.ModuleHandler.Verify)
			api.GET("/modules/:id/nodes/:node_id/subtree", cfg.ModuleHandler.GetSubtree)
		}

		// Nodes
		if cfg.NodeHandler != nil {
			api.POST("/modules/:id/nodes", cfg.NodeHandler.InsertNode)
			api.GET("/nodes/:id", cfg.NodeHandler.GetNode)
			api.PATCH("/nodes/:id", cfg.NodeHandler.UpdateNode)
			api.DELETE("/nodes/:id", cfg.NodeHandler.DeleteNode)
			api.POST("/nodes/:id/move", cfg.NodeHandler.MoveNode)
		}

		// Generation
		if cfg.GenerationHandler != nil {
			api.POST("/nodes/:id/generate", cfg.GenerationHandler.GenerateNode)
			api.POST("/modules/:id/generate", cfg.GenerationHandler.GenerateModule)
			api.GET("/generations/:node_id", cfg.GenerationHandler.GetGeneration)
			api.DELETE("/generations/:node_id", cfg.GenerationHandler.CancelGeneration)
		}

		// Realtime
		if cfg.RealtimeHandler != nil {
			api.GET("/realtime/sse", cfg.RealtimeHandler.SSEStream)
			api.GET("/realtime/ws", cfg.RealtimeHandler.WebSocket)
		}
	}

	return r
}
