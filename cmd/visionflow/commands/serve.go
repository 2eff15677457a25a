package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/internal/ai"
	grpcserver "github.com/visionflow/visionflow/internal/grpc"
	"github.com/visionflow/visionflow/internal/health"
	"github.com/visionflow/visionflow/internal/service"
	"github.com/visionflow/visionflow/internal/telemetry"
	"github.com/visionflow/visionflow/internal/web"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the VisionFlow API server",
	Long: `Start the HTTP API that accepts image uploads, runs detection, stores
every result and serves history and class analytics. When grpc.enabled is
set a gRPC health endpoint is started alongside it.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting VisionFlow",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"backend", cfg.AI.Backend,
		"storage", cfg.Storage.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	svcManager := service.NewManager(log)
	a.detector.SetEventBus(svcManager.GetEventBus())

	healthManager := health.NewManager(log, svcManager)
	healthManager.RegisterChecker(health.NewSystemChecker(cfg.App.DataDir))
	healthManager.RegisterChecker(health.NewStorageChecker(cfg.App.DataDir))
	healthManager.RegisterChecker(health.NewDatabaseChecker(a.repo, cfg.Storage.Driver))
	healthManager.RegisterChecker(health.NewModelChecker(a.model))
	if cfg.AI.Backend == "remote" {
		client := ai.NewClient(ai.ClientConfig{ServiceURL: cfg.AI.ServiceURL, Timeout: cfg.AI.Timeout}, log)
		defer client.Close()
		healthManager.RegisterChecker(health.NewAIServiceChecker(client, cfg.AI.ServiceURL))
	}

	collector := telemetry.NewCollector(log)

	webServer := web.NewServer(cfg, a.detector, log)
	webServer.SetHealthManager(healthManager)
	webServer.SetTelemetry(collector)
	webServer.SetModelInfo(a.model)

	// Model first so it is closed last; web last so requests stop first
	svcManager.Register(ai.NewModelService(a.model, cfg.AI.Warmup, log))
	svcManager.Register(collector)
	if cfg.GRPC.Enabled {
		addr := net.JoinHostPort(cfg.Web.Host, strconv.Itoa(cfg.GRPC.Port))
		svcManager.Register(grpcserver.NewHealthServer(addr, a.model, log))
	}
	svcManager.Register(webServer)

	if err := svcManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	pterm.Success.Printf("VisionFlow listening on http://%s%s\n", webServer.Addr(), cfg.App.APIPrefix)
	if cfg.GRPC.Enabled {
		pterm.Info.Printf("gRPC health on port %d\n", cfg.GRPC.Port)
	}
	pterm.Info.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svcManager.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		return err
	}

	log.Info("VisionFlow stopped")
	return nil
}
