package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/fanout/internal/config"
	"github.com/syntrixbase/fanout/internal/logging"
	"github.com/syntrixbase/fanout/internal/services"
)

func main() {
	configDir := flag.String("config", "config", "Directory holding config.yml and config.local.yml")
	standalone := flag.Bool("standalone", false, "Run a single node that owns every partition")
	noServer := flag.Bool("no-server", false, "Do not expose the HTTP and gRPC endpoints")
	flag.Parse()

	if *standalone {
		os.Setenv("FANOUT_DEPLOYMENT_MODE", "standalone")
	}

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Logging
	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() {
		if err := logging.Shutdown(); err != nil {
			log.Printf("Failed to flush logs: %v", err)
		}
	}()

	slog.Info("Starting fan-out node",
		"serviceID", cfg.Node.ServiceID,
		"mode", cfg.Deployment.Mode,
		"queue", cfg.Queue.Type,
		"partitions", cfg.Node.Partitions,
	)

	// 3. Build and start
	mgr := services.NewManager(cfg, services.Options{RunServer: !*noServer})

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	if err := mgr.Init(initCtx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		return
	}
	if err := mgr.Start(context.Background()); err != nil {
		slog.Error("Failed to start services", "error", err)
		shutdown(mgr, cfg.Server.ShutdownTimeout)
		return
	}

	// 4. Wait for a signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Shutting down", "signal", sig.String())

	shutdown(mgr, cfg.Server.ShutdownTimeout)
	slog.Info("All services stopped")
}

func shutdown(mgr *services.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
	}
}
