package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visionflow/visionflow/internal/ai"
	"github.com/visionflow/visionflow/internal/config"
	"github.com/visionflow/visionflow/internal/detection"
	"github.com/visionflow/visionflow/internal/health"
	"github.com/visionflow/visionflow/internal/logger"
	"github.com/visionflow/visionflow/internal/service"
	"github.com/visionflow/visionflow/internal/state"
	"github.com/visionflow/visionflow/internal/telemetry"
	"github.com/visionflow/visionflow/internal/web"
)

// streetEngine always reports two cars and a person
type streetEngine struct {
	closed *atomic.Bool
}

func (e streetEngine) Predict(ctx context.Context, img ai.Image, threshold float64) (ai.RawOutput, error) {
	return ai.RawOutput{
		Detections: []ai.RawDetection{
			{ClassID: 2, Confidence: 0.91, Box: [4]float64{1, 1, 10, 8}},
			{ClassID: 0, Confidence: 0.77, Box: [4]float64{12, 2, 16, 14}},
			{ClassID: 2, Confidence: 0.64, Box: [4]float64{18, 3, 30, 9}},
		},
		Names: map[int]string{0: "person", 2: "car"},
	}, nil
}

func (e streetEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// TestEnvironment wires the full service stack the way serve does, with a
// fake inference engine and a temp-dir database
type TestEnvironment struct {
	TempDir   string
	Config    *config.Config
	Logger    *logger.Logger
	Model     *ai.ModelManager
	Repo      detection.Repository
	Detector  *detection.Service
	Manager   *service.Manager
	Health    *health.Manager
	Telemetry *telemetry.Collector
	Web       *web.Server

	Loads  atomic.Int32
	Closed atomic.Bool
}

// SetupTestEnvironment creates a test environment
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "data")

	cfgPath := filepath.Join(tmpDir, "config.yaml")
	content := fmt.Sprintf(`app:
  environment: test
  data_dir: %q
log:
  level: debug
web:
  host: 127.0.0.1
  max_upload_mb: 1
storage:
  driver: sqlite
  path: %q
`, dataDir, filepath.Join(dataDir, "visionflow.db"))
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid config: %v", err)
	}
	// Ephemeral port
	cfg.Web.Port = 0

	env := &TestEnvironment{
		TempDir: tmpDir,
		Config:  cfg,
		Logger:  logger.NewNopLogger(),
	}

	factory := func(ctx context.Context, spec ai.ModelSpec) (ai.Engine, error) {
		env.Loads.Add(1)
		return streetEngine{closed: &env.Closed}, nil
	}
	env.Model, err = ai.NewModelManager(ai.ModelSpec{
		ModelPath:           cfg.AI.ModelPath,
		Device:              cfg.AI.Device,
		ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
	}, factory, env.Logger)
	if err != nil {
		t.Fatalf("Failed to create model manager: %v", err)
	}

	env.Repo, err = state.Open(context.Background(), cfg.Storage.Driver, cfg.Storage.Path, env.Logger)
	if err != nil {
		t.Fatalf("Failed to open history store: %v", err)
	}
	t.Cleanup(func() { env.Repo.Close() })

	env.Detector = detection.NewService(env.Model, env.Repo, env.Logger)
	env.Manager = service.NewManager(env.Logger)
	env.Detector.SetEventBus(env.Manager.GetEventBus())

	env.Health = health.NewManager(env.Logger, env.Manager)
	env.Health.RegisterChecker(health.NewDatabaseChecker(env.Repo, cfg.Storage.Driver))
	env.Health.RegisterChecker(health.NewModelChecker(env.Model))
	env.Health.RegisterChecker(health.NewStorageChecker(cfg.App.DataDir))

	env.Telemetry = telemetry.NewCollector(env.Logger)
	env.Web = web.NewServer(cfg, env.Detector, env.Logger)
	env.Web.SetHealthManager(env.Health)
	env.Web.SetTelemetry(env.Telemetry)
	env.Web.SetModelInfo(env.Model)

	env.Manager.Register(ai.NewModelService(env.Model, cfg.AI.Warmup, env.Logger))
	env.Manager.Register(env.Telemetry)
	env.Manager.Register(env.Web)

	return env
}

// Start starts every service and stops them again when the test ends
func (e *TestEnvironment) Start(t *testing.T) {
	t.Helper()

	ctx, cancel := ContextWithTimeout(5 * time.Second)
	defer cancel()
	if err := e.Manager.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := ContextWithTimeout(5 * time.Second)
		defer cancel()
		_ = e.Manager.Shutdown(ctx)
	})
}

// BaseURL returns the URL of the running web server
func (e *TestEnvironment) BaseURL() string {
	return "http://" + e.Web.Addr()
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}

	return condition()
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
