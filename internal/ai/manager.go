package ai

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
)

// ModelManager owns the single engine instance of a model and loads it
// lazily on first use. It is safe for concurrent use.
type ModelManager struct {
	spec    ModelSpec
	factory EngineFactory
	logger  *logger.Logger

	engine atomic.Pointer[engineHandle]
	mu     sync.Mutex // serializes construction
	onLoad func(ModelSpec, time.Duration)
}

type engineHandle struct {
	engine   Engine
	loadedAt time.Time
	loadTime time.Duration
}

// ModelInfo describes the load state of a model
type ModelInfo struct {
	ModelPath string        `json:"model_path"`
	Device    string        `json:"device"`
	Loaded    bool          `json:"loaded"`
	LoadedAt  *time.Time    `json:"loaded_at,omitempty"`
	LoadTime  time.Duration `json:"load_time_ns,omitempty"`
}

// NewModelManager creates a manager for spec. No engine is constructed until
// EnsureLoaded is called.
func NewModelManager(spec ModelSpec, factory EngineFactory, log *logger.Logger) (*ModelManager, error) {
	if factory == nil {
		return nil, errors.NewConfigurationError("no inference engine available for model %q", spec.ModelPath)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ModelManager{
		spec:    spec,
		factory: factory,
		logger:  log.Named("model"),
	}, nil
}

// EnsureLoaded returns the engine, constructing it on the first call.
// Concurrent callers block until the one in-flight construction finishes and
// then share its result. A failed construction leaves the manager unloaded so
// a later call retries.
func (m *ModelManager) EnsureLoaded(ctx context.Context) (Engine, error) {
	if h := m.engine.Load(); h != nil {
		return h.engine, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h := m.engine.Load(); h != nil {
		return h.engine, nil
	}

	m.logger.Info("Loading model", "model_path", m.spec.ModelPath, "device", m.spec.Device)
	start := time.Now()

	engine, err := m.factory(ctx, m.spec)
	if err != nil {
		m.logger.Error("Failed to load model", "model_path", m.spec.ModelPath, "error", err)
		return nil, errors.WrapServiceUnavailable(err, "failed to load detection model")
	}
	if engine == nil {
		return nil, errors.Mark(errors.Newf("engine factory returned no engine for %q", m.spec.ModelPath), errors.ErrServiceUnavailable)
	}

	loadTime := time.Since(start)
	m.engine.Store(&engineHandle{engine: engine, loadedAt: time.Now().UTC(), loadTime: loadTime})
	m.logger.Info("Model loaded",
		"model_path", m.spec.ModelPath,
		"device", m.spec.Device,
		"load_ms", loadTime.Milliseconds(),
	)
	if m.onLoad != nil {
		m.onLoad(m.spec, loadTime)
	}
	return engine, nil
}

// Predict runs engine on img and reports the wall-clock duration of the
// engine call alone.
func (m *ModelManager) Predict(ctx context.Context, engine Engine, img Image, threshold float64) (RawOutput, time.Duration, error) {
	start := time.Now()
	out, err := engine.Predict(ctx, img, threshold)
	elapsed := time.Since(start)
	if err != nil {
		return RawOutput{}, elapsed, errors.WrapServiceUnavailable(err, "inference failed")
	}

	m.logger.Debug("Inference completed",
		"detections", len(out.Detections),
		"elapsed_ms", float64(elapsed.Microseconds())/1000,
	)
	return out, elapsed, nil
}

// Loaded reports whether the engine has been constructed
func (m *ModelManager) Loaded() bool {
	return m.engine.Load() != nil
}

// OnLoad registers fn to run after each successful engine construction,
// while the construction lock is still held
func (m *ModelManager) OnLoad(fn func(ModelSpec, time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLoad = fn
}

// Info returns the current load state
func (m *ModelManager) Info() ModelInfo {
	info := ModelInfo{ModelPath: m.spec.ModelPath, Device: m.spec.Device}
	if h := m.engine.Load(); h != nil {
		loadedAt := h.loadedAt
		info.Loaded = true
		info.LoadedAt = &loadedAt
		info.LoadTime = h.loadTime
	}
	return info
}

// Spec returns the model description the manager was created with
func (m *ModelManager) Spec() ModelSpec {
	return m.spec
}

// Close releases the engine if one was loaded
func (m *ModelManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.engine.Swap(nil)
	if h == nil {
		return nil
	}
	if err := h.engine.Close(); err != nil {
		return errors.Wrap(err, "failed to release model")
	}
	m.logger.Info("Model released", "model_path", m.spec.ModelPath)
	return nil
}
