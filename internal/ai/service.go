package ai

import (
	"context"
	"sync"
	"time"

	"github.com/visionflow/visionflow/internal/logger"
	"github.com/visionflow/visionflow/internal/service"
)

// ModelService ties a ModelManager to the service lifecycle. On start it
// optionally loads the model in the background; on stop it releases the
// engine. Every successful load is published as an ai.model_loaded event.
type ModelService struct {
	*service.ServiceBase
	model  *ModelManager
	warmup bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewModelService creates the lifecycle service for model
func NewModelService(model *ModelManager, warmup bool, log *logger.Logger) *ModelService {
	s := &ModelService{
		ServiceBase: service.NewServiceBase("model", log),
		model:       model,
		warmup:      warmup,
	}
	model.OnLoad(func(spec ModelSpec, loadTime time.Duration) {
		s.PublishEvent(service.EventTypeModelLoaded, map[string]interface{}{
			"model_path": spec.ModelPath,
			"device":     spec.Device,
			"load_ms":    loadTime.Milliseconds(),
		})
	})
	return s
}

// Start begins the optional warmup and returns immediately
func (s *ModelService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.GetStatus().SetStatus(service.StatusRunning)

	if !s.warmup {
		s.LogInfo("Model will load on first request", "model_path", s.model.Spec().ModelPath)
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.model.EnsureLoaded(ctx); err != nil {
			// Requests retry the load lazily
			s.LogError("Model warmup failed", err)
		}
	}()
	return nil
}

// Stop waits for a running warmup and releases the engine
func (s *ModelService) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.model.Close(); err != nil {
		s.GetStatus().SetError(err)
		return err
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Model returns the managed model
func (s *ModelService) Model() *ModelManager {
	return s.model
}
