package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shenikar/field_incident_sync/internal/config"
	"github.com/shenikar/field_incident_sync/internal/handler/http/local"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agent",
		Short:        "Offline-first field reporting agent",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newSyncCmd(), newPendingCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API, connectivity monitor and sync engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadAgentConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := logger.New(cfg.LogLevel)

			// Контекст для graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			// Новые данные с сервера подтягиваются при каждом восстановлении связи
			unsubscribe := app.monitor.OnOnline(func() {
				if !app.session.Active() {
					return
				}
				if err := app.feed.Refresh(ctx); err != nil {
					log.WithError(err).Warn("Failed to refresh incidents after reconnect")
				}
			})
			defer unsubscribe()

			unwatch := app.store.Subscribe(func(change models.ReportChange) {
				log.WithFields(logrus.Fields{
					"report_id": change.ReportID,
					"status":    change.Status,
				}).Debug("Local report changed")
			})
			defer unwatch()

			handler := local.NewHandler(app.store, app.engine, app.feed, app.gateway, app.session, app.monitor, log)
			router := gin.New()
			router.Use(gin.Recovery())
			handler.RegisterRoutes(router.Group("/api/local"))

			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return app.monitor.Run(gctx)
			})
			g.Go(func() error {
				return app.engine.Run(gctx)
			})
			g.Go(func() error {
				return app.feed.Run(gctx)
			})
			g.Go(func() error {
				log.Infof("Local API started on %s", cfg.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("local http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("Received shutdown signal, stopping agent...")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("Agent gracefully stopped")
			return nil
		},
	}
}

// newSyncCmd разовый проход синхронизации, например из cron
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload pending reports once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadAgentConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := logger.New(cfg.LogLevel)
			ctx := cmd.Context()

			app, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			app.monitor.Check(ctx)
			result, err := app.engine.Sync(ctx)
			if err != nil {
				return fmt.Errorf("sync pass failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: attempted=%d synced=%d duplicates=%d failed=%d pending=%d\n",
				result.Outcome, result.Attempted, result.Synced, result.Duplicates, result.Failed, result.PendingCount)
			return nil
		},
	}
}

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the number of reports not yet confirmed by the remote service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadAgentConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx := cmd.Context()

			app, err := newApp(ctx, cfg, logger.Discard())
			if err != nil {
				return err
			}
			defer app.Close()

			count, err := app.engine.PendingCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}
}
