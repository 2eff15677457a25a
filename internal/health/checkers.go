package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/visionflow/visionflow/internal/ai"
)

// SystemChecker reports memory and disk pressure. Usage above the limit
// marks the system degraded.
type SystemChecker struct {
	dataDir      string
	limitPercent float64
}

func NewSystemChecker(dataDir string) *SystemChecker {
	return &SystemChecker{dataDir: dataDir, limitPercent: 95}
}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Status:    StatusHealthy,
		Message:   "System resources OK",
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to read memory stats: %v", err)
		return check
	}
	check.Details["memory_total_bytes"] = vm.Total
	check.Details["memory_available_bytes"] = vm.Available
	check.Details["memory_used_percent"] = vm.UsedPercent
	if vm.UsedPercent > c.limitPercent {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Memory usage at %.1f%%", vm.UsedPercent)
	}

	if c.dataDir == "" {
		return check
	}
	usage, err := disk.UsageWithContext(ctx, c.dataDir)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		return check
	}
	check.Details["disk_path"] = c.dataDir
	check.Details["disk_used_percent"] = usage.UsedPercent
	check.Details["disk_free_bytes"] = usage.Free
	if usage.UsedPercent > c.limitPercent {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage at %.1f%%", usage.UsedPercent)
	}

	return check
}

// Pinger is implemented by the history repository
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks history store connectivity
type DatabaseChecker struct {
	store  Pinger
	driver string
}

func NewDatabaseChecker(store Pinger, driver string) *DatabaseChecker {
	return &DatabaseChecker{store: store, driver: driver}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"driver": c.driver},
	}

	if c.store == nil {
		check.Status = StatusUnhealthy
		check.Message = "History store not configured"
		return check
	}

	if err := c.store.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// ModelInfoProvider is implemented by ai.ModelManager
type ModelInfoProvider interface {
	Info() ai.ModelInfo
}

// ModelChecker reports whether the detection model is loaded. An unloaded
// model is degraded, not unhealthy: it loads on the first request.
type ModelChecker struct {
	model ModelInfoProvider
}

func NewModelChecker(model ModelInfoProvider) *ModelChecker {
	return &ModelChecker{model: model}
}

func (c *ModelChecker) Name() string {
	return "model"
}

func (c *ModelChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.model == nil {
		check.Status = StatusUnhealthy
		check.Message = "No detection model configured"
		return check
	}

	info := c.model.Info()
	check.Details["model_path"] = info.ModelPath
	check.Details["device"] = info.Device
	check.Details["loaded"] = info.Loaded

	if !info.Loaded {
		check.Status = StatusDegraded
		check.Message = "Model not loaded yet"
		return check
	}

	check.Details["loaded_at"] = info.LoadedAt
	check.Status = StatusHealthy
	check.Message = "Model loaded"
	return check
}

// RemoteHealthChecker is implemented by ai.Client
type RemoteHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// AIServiceChecker checks remote inference service connectivity
type AIServiceChecker struct {
	client     RemoteHealthChecker
	serviceURL string
}

func NewAIServiceChecker(client RemoteHealthChecker, serviceURL string) *AIServiceChecker {
	return &AIServiceChecker{client: client, serviceURL: serviceURL}
}

func (c *AIServiceChecker) Name() string {
	return "ai_service"
}

func (c *AIServiceChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"url": c.serviceURL},
	}

	if c.client == nil {
		check.Status = StatusDegraded
		check.Message = "AI service client not configured"
		return check
	}

	if err := c.client.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("AI service unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "AI service is reachable"
	return check
}

// StorageChecker checks the data directory is writable
type StorageChecker struct {
	dataDir string
}

func NewStorageChecker(dataDir string) *StorageChecker {
	return &StorageChecker{dataDir: dataDir}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"data_dir": c.dataDir},
	}

	if c.dataDir == "" {
		check.Status = StatusHealthy
		check.Message = "No data directory in use"
		return check
	}

	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}

	probe, err := os.CreateTemp(c.dataDir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Data directory not writable: %v", err)
		return check
	}
	probe.Close()
	os.Remove(probe.Name())

	check.Details["writable"] = true
	check.Status = StatusHealthy
	check.Message = "Data directory writable"
	return check
}
