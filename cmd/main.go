package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/lessonweave-backend/internal/app"
	"github.com/yungbote/lessonweave-backend/internal/data/db"
	"github.com/yungbote/lessonweave-backend/internal/platform/envutil"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logMode string
	var log *logger.Logger

	root := &cobra.Command{
		Use:           "lessonweave",
		Short:         "Hierarchical lesson content service with streamed generation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.New(logMode)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&logMode, "log-mode", envutil.String("LOG_MODE", "development"), "logger mode (development|production)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, log)
			if err != nil {
				log.Error("app init failed", "error", err)
				return err
			}
			if err := a.Run(ctx); err != nil {
				log.Error("app exited with error", "error", err)
				return err
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(log)
			if err != nil {
				return err
			}
			pg, err := db.NewPostgresService(log, cfg.DB)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := db.AutoMigrateAll(pg.DB()); err != nil {
				log.Error("migration failed", "error", err)
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	})

	return root
}
