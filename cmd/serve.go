package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cynergists/specter/internal/api"
	"github.com/cynergists/specter/internal/monitoring"
	"github.com/cynergists/specter/internal/scoring"
)

var (
	servePort    int
	serveMonitor bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingest and operations HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		handler := api.NewRouter(api.Deps{
			Store:     env.Store,
			Ingester:  env.Ingest,
			Scorer:    env.Scorer,
			Resolver:  env.Resolver,
			Syncer:    env.Syncer,
			Escalator: env.Escalations,
			Trigger:   env.Trigger,
		}, api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		if cfg.Scoring.WatchRulesFile {
			w, err := scoring.NewWatcher(cfg.Scoring.RulesFile, env.Defaults)
			if err != nil {
				return err
			}
			g.Go(func() error { return w.Run(gctx) })
		}

		if serveMonitor {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Policy),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring, "",
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveMonitor, "monitor", false, "run the alert checker alongside the server")
	rootCmd.AddCommand(serveCmd)
}
