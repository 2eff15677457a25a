package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	App     AppConfig     `yaml:"app"`
	Log     LogConfig     `yaml:"log,omitempty"`
	Web     WebConfig     `yaml:"web"`
	GRPC    GRPCConfig    `yaml:"grpc"`
	AI      AIConfig      `yaml:"ai"`
	Storage StorageConfig `yaml:"storage"`
}

// AppConfig contains service identity settings
type AppConfig struct {
	ProjectName string `yaml:"project_name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	APIPrefix   string `yaml:"api_prefix"`
	DataDir     string `yaml:"data_dir"`
}

// WebConfig contains HTTP API server configuration
type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"` // 0 disables rate limiting
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// GRPCConfig contains the gRPC health endpoint configuration
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AIConfig contains inference engine configuration
type AIConfig struct {
	Backend             string        `yaml:"backend"` // onnx or remote
	ModelPath           string        `yaml:"model_path"`
	Device              string        `yaml:"device"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	IOUThreshold        float64       `yaml:"iou_threshold"`
	InputSize           int           `yaml:"input_size"`
	Labels              []string      `yaml:"labels"` // Optional: overrides the COCO class names
	SharedLibraryPath   string        `yaml:"shared_library_path"`
	IntraOpThreads      int           `yaml:"intra_op_threads"`
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	Warmup              bool          `yaml:"warmup"`
}

// StorageConfig contains detection history storage configuration
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite3, sqlite or memory
	Path   string `yaml:"path"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the configuration file, applies VISIONFLOW_* environment
// overrides and fills defaults. An empty configPath searches the default
// locations; when none exists the service runs from environment and defaults.
func Load(configPath string) (*Config, error) {
	var cfg Config

	explicit := configPath != ""
	if !explicit {
		configPath = getDefaultConfigPath()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse configuration: %w", err)
			}
		case os.IsNotExist(err) && explicit:
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the first configuration file found in the
// usual locations, or "" when there is none
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/visionflow/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Addr returns the host:port the HTTP server listens on
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// MaxUploadBytes returns the upload size limit in bytes
func (w WebConfig) MaxUploadBytes() int64 {
	return int64(w.MaxUploadMB) << 20
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.App.ProjectName == "" {
		c.App.ProjectName = "VisionFlow"
	}
	if c.App.Version == "" {
		c.App.Version = "0.1.0"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	if c.App.APIPrefix == "" {
		c.App.APIPrefix = "/api/v1"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "./data"
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8000
	}
	if len(c.Web.CORSOrigins) == 0 {
		c.Web.CORSOrigins = []string{"http://localhost:5173"}
	}
	if c.Web.MaxUploadMB == 0 {
		c.Web.MaxUploadMB = 20
	}
	if c.Web.RateLimitBurst == 0 {
		c.Web.RateLimitBurst = 20
	}

	if c.GRPC.Port == 0 {
		c.GRPC.Port = 9090
	}

	if c.AI.Backend == "" {
		c.AI.Backend = "onnx"
	}
	if c.AI.ModelPath == "" {
		c.AI.ModelPath = "yolo11n.onnx"
	}
	if c.AI.Device == "" {
		c.AI.Device = "cpu"
	}
	if c.AI.ConfidenceThreshold == 0 {
		c.AI.ConfidenceThreshold = 0.25
	}
	if c.AI.IOUThreshold == 0 {
		c.AI.IOUThreshold = 0.7
	}
	if c.AI.InputSize == 0 {
		c.AI.InputSize = 640
	}
	if c.AI.ServiceURL == "" {
		c.AI.ServiceURL = "http://localhost:8080"
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 30 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite3"
	}
	if c.Storage.Path == "" && c.Storage.Driver != "memory" {
		c.Storage.Path = filepath.Join(c.App.DataDir, "visionflow.db")
	}
}
