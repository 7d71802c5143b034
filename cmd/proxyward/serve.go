package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"proxyward/internal/config"
	"proxyward/internal/db"
	"proxyward/internal/dispatch"
	"proxyward/internal/lifecycle"
	"proxyward/internal/logger"
	"proxyward/internal/server"
	"proxyward/internal/vault"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator API server",
	Long:  `Starts the HTTP API: run control and results for the dashboard, callback endpoints for the worker. Shuts down cleanly on SIGINT/SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. Load Config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logger.Log.Fatalf("Error loading config: %v", err)
		}

		// 2. Connect DB + migrate
		database, err := db.Connect(cfg.Database.Path)
		if err != nil {
			logger.Log.Fatalf("Error connecting to DB: %v", err)
		}
		defer db.Close(database)
		if err := db.Migrate(database); err != nil {
			logger.Log.Fatalf("Error migrating DB: %v", err)
		}

		// 3. Vault + worker client
		v, err := vault.New(cfg.Vault.Key)
		if err != nil {
			logger.Log.Fatalf("Error initializing vault: %v", err)
		}
		worker := dispatch.NewClient(cfg.Worker.URL, cfg.Worker.TriggerTimeout)
		target := dispatch.Target{
			HTTPURL:  cfg.Worker.TargetHTTPURL,
			HTTPSURL: cfg.Worker.TargetHTTPSURL,
		}
		runs := lifecycle.NewManager(database, v, worker, target)

		// 4. HTTP server
		api := server.New(database, v, runs, cfg.Server.CORSOrigin)
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Log.Infof("🚀 Listening on %s (worker: %s)", cfg.Server.Addr, cfg.Worker.URL)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Log.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil {
			logger.Log.Fatalf("Server error: %v", err)
		}
		logger.Log.Info("✅ Server stopped.")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
