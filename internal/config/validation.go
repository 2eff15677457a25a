package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	// Validate log settings
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if !strings.HasPrefix(c.App.APIPrefix, "/") {
		errors = append(errors, fmt.Sprintf("app.api_prefix must start with '/', got: %q", c.App.APIPrefix))
	}

	// Validate web settings
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}
	if c.Web.MaxUploadMB <= 0 {
		errors = append(errors, fmt.Sprintf("web.max_upload_mb must be > 0, got: %d", c.Web.MaxUploadMB))
	}
	if c.Web.RateLimitRPS < 0 {
		errors = append(errors, fmt.Sprintf("web.rate_limit_rps must be >= 0, got: %.2f", c.Web.RateLimitRPS))
	}
	if c.Web.RateLimitBurst < 0 {
		errors = append(errors, fmt.Sprintf("web.rate_limit_burst must be >= 0, got: %d", c.Web.RateLimitBurst))
	}

	if c.GRPC.Enabled {
		if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
			errors = append(errors, fmt.Sprintf("grpc.port must be between 1 and 65535, got: %d", c.GRPC.Port))
		} else if c.GRPC.Port == c.Web.Port {
			errors = append(errors, fmt.Sprintf("grpc.port (%d) cannot equal web.port", c.GRPC.Port))
		}
	}

	// Validate AI settings
	switch c.AI.Backend {
	case "onnx":
		if c.AI.ModelPath == "" {
			errors = append(errors, "ai.model_path is required for the onnx backend")
		}
	case "remote":
		if c.AI.ServiceURL == "" {
			errors = append(errors, "ai.service_url is required for the remote backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid ai.backend: %s (must be: onnx or remote)", c.AI.Backend))
	}

	if c.AI.ConfidenceThreshold < 0 || c.AI.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("ai.confidence_threshold must be between 0 and 1, got: %.2f", c.AI.ConfidenceThreshold))
	}
	if c.AI.IOUThreshold <= 0 || c.AI.IOUThreshold > 1 {
		errors = append(errors, fmt.Sprintf("ai.iou_threshold must be in (0, 1], got: %.2f", c.AI.IOUThreshold))
	}
	if c.AI.InputSize <= 0 || c.AI.InputSize%32 != 0 {
		errors = append(errors, fmt.Sprintf("ai.input_size must be a positive multiple of 32, got: %d", c.AI.InputSize))
	}
	if !validDevice(c.AI.Device) {
		errors = append(errors, fmt.Sprintf("invalid ai.device: %s (must be: cpu, cuda or cuda:<index>)", c.AI.Device))
	}
	if c.AI.IntraOpThreads < 0 {
		errors = append(errors, fmt.Sprintf("ai.intra_op_threads must be >= 0, got: %d", c.AI.IntraOpThreads))
	}
	if c.AI.Timeout < 0 {
		errors = append(errors, fmt.Sprintf("ai.timeout must be >= 0, got: %v", c.AI.Timeout))
	}

	// Validate storage settings
	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
		if c.Storage.Path == "" {
			errors = append(errors, "storage.path is required for sqlite drivers")
		}
	case "memory":
	default:
		errors = append(errors, fmt.Sprintf("invalid storage.driver: %s (must be: sqlite3, sqlite or memory)", c.Storage.Driver))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// validDevice accepts "cpu", "cuda" and "cuda:<index>"
func validDevice(device string) bool {
	device = strings.ToLower(strings.TrimSpace(device))
	if device == "cpu" || device == "cuda" {
		return true
	}
	if idx, ok := strings.CutPrefix(device, "cuda:"); ok {
		n, err := strconv.Atoi(idx)
		return err == nil && n >= 0
	}
	return false
}

// CUDADeviceID returns the CUDA device index for a "cuda[:N]" device, or -1
// when the device is the CPU
func (a AIConfig) CUDADeviceID() int {
	device := strings.ToLower(strings.TrimSpace(a.Device))
	if device == "cuda" {
		return 0
	}
	if idx, ok := strings.CutPrefix(device, "cuda:"); ok {
		if n, err := strconv.Atoi(idx); err == nil {
			return n
		}
	}
	return -1
}
