package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/cortex/internal/controlplane"
	"github.com/fentz26/cortex/internal/logging"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the cortex daemon",
	Long: `Starts the cortex daemon, which serves the HTTP API, polls the task
scheduler and runs subscribed input handlers until interrupted.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("listen", "", "Listen address for the API server (default from config)")
	_ = v.BindPFlag("server.addr", daemonCmd.Flags().Lookup("listen"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := logging.Component(rt.logger, "daemon")
	logger.Info("starting cortex daemon", "db", cfg.Store.Path, "addr", cfg.Server.Addr)

	if n, err := rt.scheduler.RecoverStale(ctx); err != nil {
		logger.Warn("stale task recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("recovered stale tasks", "count", n)
	}

	server := controlplane.NewServer(rt.service(), rt.metrics.Handler(), controlplane.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, rt.logger)

	rt.scheduler.Start(cfg.Scheduler.PollInterval)
	unsubscribe := rt.router.Subscribe(ctx)
	defer unsubscribe()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received signal, initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	rt.scheduler.Stop()

	logger.Info("shutdown complete")
	return nil
}
