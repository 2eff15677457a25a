package commands

import (
	"context"

	"github.com/visionflow/visionflow/internal/ai"
	"github.com/visionflow/visionflow/internal/config"
	"github.com/visionflow/visionflow/internal/detection"
	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
	"github.com/visionflow/visionflow/internal/state"
)

// app holds the components every command needs
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	model    *ai.ModelManager
	repo     detection.Repository
	detector *detection.Service
}

// newApp builds the model manager, the history store and the detection
// service from configuration. The model is not loaded until first use.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	factory, err := engineFactory(cfg, log)
	if err != nil {
		return nil, err
	}

	model, err := ai.NewModelManager(ai.ModelSpec{
		ModelPath:           cfg.AI.ModelPath,
		Device:              cfg.AI.Device,
		ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
	}, factory, log)
	if err != nil {
		return nil, err
	}

	repo, err := state.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		model:    model,
		repo:     repo,
		detector: detection.NewService(model, repo, log),
	}, nil
}

func engineFactory(cfg *config.Config, log *logger.Logger) (ai.EngineFactory, error) {
	switch cfg.AI.Backend {
	case "onnx":
		return ai.NewONNXFactory(ai.ONNXConfig{
			InputSize:         cfg.AI.InputSize,
			IOUThreshold:      cfg.AI.IOUThreshold,
			Labels:            cfg.AI.Labels,
			SharedLibraryPath: cfg.AI.SharedLibraryPath,
			IntraOpThreads:    cfg.AI.IntraOpThreads,
			CUDADeviceID:      cfg.AI.CUDADeviceID(),
		}, log), nil
	case "remote":
		return ai.NewRemoteFactory(ai.ClientConfig{
			ServiceURL: cfg.AI.ServiceURL,
			Timeout:    cfg.AI.Timeout,
		}, log), nil
	default:
		return nil, errors.NewConfigurationError("unknown ai backend %q", cfg.AI.Backend)
	}
}

// close releases the store and, for the onnx backend, the model and runtime.
// The model may already be closed by its service; closing again is a no-op.
func (a *app) close() {
	if err := a.model.Close(); err != nil {
		a.log.Warn("Failed to close model", "error", err)
	}
	if err := a.repo.Close(); err != nil {
		a.log.Warn("Failed to close history store", "error", err)
	}
	if a.cfg.AI.Backend == "onnx" {
		if err := ai.ShutdownRuntime(); err != nil {
			a.log.Warn("Failed to shut down onnx runtime", "error", err)
		}
	}
}
