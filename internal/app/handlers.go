package app

import (
	httpH "github.com/yungbote/lessonweave-backend/internal/http/handlers"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type Handlers struct {
	Module     *httpH.ModuleHandler
	Node       *httpH.NodeHandler
	Generation *httpH.GenerationHandler
	Realtime   *httpH.RealtimeHandler
	Health     *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, cfg Config, svcs Services, pingers map[string]httpH.Pinger) Handlers {
	return Handlers{
		Module:     httpH.NewModuleHandler(svcs.Content),
		Node:       httpH.NewNodeHandler(svcs.Content),
		Generation: httpH.NewGenerationHandler(log, svcs.Pipeline, svcs.Buffer),
		Realtime:   httpH.NewRealtimeHandler(log, svcs.Hub, svcs.Pipeline, cfg.AllowedOrigins),
		Health:     httpH.NewHealthHandler(pingers),
	}
}
