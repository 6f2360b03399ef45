package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/lessonweave-backend/internal/data/db"
	apphttp "github.com/yungbote/lessonweave-backend/internal/http"
	httpH "github.com/yungbote/lessonweave-backend/internal/http/handlers"
	"github.com/yungbote/lessonweave-backend/internal/observability"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
	"github.com/yungbote/lessonweave-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.PostgresService
	Clients  Clients
	Metrics  *observability.Metrics
	Services Services
	Handlers Handlers
	Server   *apphttp.Server

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	cfg, err := LoadConfig(log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, log, cfg)
}

func NewWithConfig(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.Init(log)
	}

	pg, err := db.NewPostgresService(log, cfg.DB)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		_ = pg.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = pg.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	svcs, err := wireServices(ctx, log, cfg, pg.DB(), clients)
	if err != nil {
		clients.Close()
		_ = pg.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	pingers := map[string]httpH.Pinger{"database": dbPinger{db: pg.DB()}}
	if clients.Redis != nil {
		pingers["redis"] = redisPinger{rdb: clients.Redis}
	}
	handlers := wireHandlers(log, cfg, svcs, pingers)

	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	server := apphttp.NewServer(cfg.Addr, apphttp.RouterConfig{
		Log:               log,
		Metrics:           metrics,
		ServiceName:       serviceName,
		AllowedOrigins:    cfg.AllowedOrigins,
		ModuleHandler:     handlers.Module,
		NodeHandler:       handlers.Node,
		GenerationHandler: handlers.Generation,
		RealtimeHandler:   handlers.Realtime,
		HealthHandler:     handlers.Health,
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           pg,
		Clients:      clients,
		Metrics:      metrics,
		Services:     svcs,
		Handlers:     handlers,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves HTTP and forwards bus messages to the local hub until ctx is
// canceled, then stops generation runs before closing.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := a.Services.Bus.StartForwarder(gctx, func(m realtime.SSEMessage) {
		a.Services.Hub.Broadcast(m)
	}); err != nil {
		return fmt.Errorf("start bus forwarder: %w", err)
	}

	g.Go(func() error {
		a.Log.Info("http server listening", "addr", a.Cfg.Addr)
		return a.Server.Run(gctx, a.Cfg.ShutdownTimeout)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Log.Error("server stopped", "error", err)
	}
	return errors.Join(err, a.shutdown())
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Services.Pipeline.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline shutdown: %w", err))
	}
	if err := a.Services.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bus close: %w", err))
	}
	a.Clients.Close()
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("db close: %w", err))
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
		}
	}
	a.Log.Info("shutdown complete")
	return errors.Join(errs...)
}
