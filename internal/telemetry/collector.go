package telemetry

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/visionflow/visionflow/internal/logger"
	"github.com/visionflow/visionflow/internal/service"
)

// Snapshot is a point-in-time view of application and process metrics
type Snapshot struct {
	Timestamp       time.Time        `json:"timestamp"`
	Uptime          time.Duration    `json:"uptime_ns"`
	DetectionRuns   int64            `json:"detection_runs"`
	ObjectsDetected int64            `json:"objects_detected"`
	ClassCounts     map[string]int64 `json:"class_counts"`
	LastDetectionAt *time.Time       `json:"last_detection_at,omitempty"`
	ModelLoads      int64            `json:"model_loads"`
	LastModelLoadAt *time.Time       `json:"last_model_load_at,omitempty"`
	Process         ProcessMetrics   `json:"process"`
}

// ProcessMetrics describes resource usage of this process
type ProcessMetrics struct {
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Collector counts detection and model events from the event bus and
// samples process metrics on demand
type Collector struct {
	*service.ServiceBase
	logger    *logger.Logger
	startTime time.Time
	proc      *process.Process

	mu              sync.RWMutex
	detectionRuns   int64
	objectsDetected int64
	classCounts     map[string]int64
	lastDetectionAt time.Time
	modelLoads      int64
	lastModelLoadAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector creates a new telemetry collector
func NewCollector(log *logger.Logger) *Collector {
	if log == nil {
		log = logger.NewNopLogger()
	}
	c := &Collector{
		ServiceBase: service.NewServiceBase("telemetry-collector", log),
		logger:      log,
		startTime:   time.Now(),
		classCounts: make(map[string]int64),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	} else {
		log.Warn("Process metrics unavailable", "error", err)
	}
	return c
}

// Start subscribes to the event bus
func (c *Collector) Start(ctx context.Context) error {
	bus := c.GetEventBus()
	if bus == nil {
		c.LogInfo("No event bus, telemetry counters disabled")
		c.GetStatus().SetStatus(service.StatusRunning)
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	detections := bus.Subscribe(service.EventTypeDetection)
	loads := bus.Subscribe(service.EventTypeModelLoaded)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer bus.Unsubscribe(service.EventTypeDetection, detections)
		defer bus.Unsubscribe(service.EventTypeModelLoaded, loads)
		for {
			select {
			case ev, ok := <-detections:
				if !ok {
					return
				}
				c.Record(ev)
			case ev, ok := <-loads:
				if !ok {
					return
				}
				c.Record(ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	c.GetStatus().SetStatus(service.StatusRunning)
	c.LogInfo("Telemetry collector started")
	return nil
}

// Stop stops the telemetry collector service
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.LogInfo("Telemetry collector stopped")
	c.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Record updates the counters from one event
func (c *Collector) Record(ev service.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case service.EventTypeDetection:
		c.detectionRuns++
		c.objectsDetected += int64(intValue(ev.Data["total_detections"]))
		if classes, ok := ev.Data["detected_classes"].([]string); ok {
			for _, name := range classes {
				c.classCounts[name]++
			}
		}
		c.lastDetectionAt = ev.Timestamp
	case service.EventTypeModelLoaded:
		c.modelLoads++
		c.lastModelLoadAt = ev.Timestamp
	}
}

// Collect returns the current counters and process metrics
func (c *Collector) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(c.startTime),
		Process:   c.collectProcessMetrics(ctx),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap.DetectionRuns = c.detectionRuns
	snap.ObjectsDetected = c.objectsDetected
	snap.ClassCounts = make(map[string]int64, len(c.classCounts))
	for k, v := range c.classCounts {
		snap.ClassCounts[k] = v
	}
	snap.LastDetectionAt = timePtr(c.lastDetectionAt)
	snap.ModelLoads = c.modelLoads
	snap.LastModelLoadAt = timePtr(c.lastModelLoadAt)
	return snap
}

func (c *Collector) collectProcessMetrics(ctx context.Context) ProcessMetrics {
	m := ProcessMetrics{Goroutines: runtime.NumGoroutine()}
	if c.proc == nil {
		return m
	}
	if mem, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
		m.RSSBytes = mem.RSS
	} else {
		c.logger.Debug("Failed to read process memory", "error", err)
	}
	if cpu, err := c.proc.CPUPercentWithContext(ctx); err == nil {
		m.CPUPercent = cpu
	}
	return m
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
