package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// VISIONFLOW_AI_MODEL_PATH overrides ai.model_path.
const EnvPrefix = "VISIONFLOW"

// envKeys lists every configuration key that can be overridden from the
// environment
var envKeys = []string{
	"app.project_name", "app.version", "app.environment", "app.api_prefix", "app.data_dir",
	"log.level", "log.format", "log.output",
	"web.host", "web.port", "web.cors_origins", "web.max_upload_mb",
	"web.rate_limit_rps", "web.rate_limit_burst",
	"grpc.enabled", "grpc.port",
	"ai.backend", "ai.model_path", "ai.device", "ai.confidence_threshold",
	"ai.iou_threshold", "ai.input_size", "ai.labels", "ai.shared_library_path",
	"ai.intra_op_threads", "ai.service_url", "ai.timeout", "ai.warmup",
	"storage.driver", "storage.path",
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	v := newEnvViper()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = strings.TrimSpace(v.GetString(key))
		}
	}
	list := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = splitList(v.GetString(key))
		}
	}
	var errs []string
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			n, err := parseInt(v.GetString(key))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s_%s: %v", EnvPrefix, envName(key), err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v.IsSet(key) {
			f, err := parseFloat64(v.GetString(key))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s_%s: %v", EnvPrefix, envName(key), err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	str("app.project_name", &cfg.App.ProjectName)
	str("app.version", &cfg.App.Version)
	str("app.environment", &cfg.App.Environment)
	str("app.api_prefix", &cfg.App.APIPrefix)
	str("app.data_dir", &cfg.App.DataDir)

	str("log.level", &cfg.Log.Level)
	str("log.format", &cfg.Log.Format)
	str("log.output", &cfg.Log.Output)

	str("web.host", &cfg.Web.Host)
	integer("web.port", &cfg.Web.Port)
	list("web.cors_origins", &cfg.Web.CORSOrigins)
	integer("web.max_upload_mb", &cfg.Web.MaxUploadMB)
	float("web.rate_limit_rps", &cfg.Web.RateLimitRPS)
	integer("web.rate_limit_burst", &cfg.Web.RateLimitBurst)

	boolean("grpc.enabled", &cfg.GRPC.Enabled)
	integer("grpc.port", &cfg.GRPC.Port)

	str("ai.backend", &cfg.AI.Backend)
	str("ai.model_path", &cfg.AI.ModelPath)
	str("ai.device", &cfg.AI.Device)
	float("ai.confidence_threshold", &cfg.AI.ConfidenceThreshold)
	float("ai.iou_threshold", &cfg.AI.IOUThreshold)
	integer("ai.input_size", &cfg.AI.InputSize)
	list("ai.labels", &cfg.AI.Labels)
	str("ai.shared_library_path", &cfg.AI.SharedLibraryPath)
	integer("ai.intra_op_threads", &cfg.AI.IntraOpThreads)
	str("ai.service_url", &cfg.AI.ServiceURL)
	if v.IsSet("ai.timeout") {
		cfg.AI.Timeout = v.GetDuration("ai.timeout")
	}
	boolean("ai.warmup", &cfg.AI.Warmup)

	str("storage.driver", &cfg.Storage.Driver)
	str("storage.path", &cfg.Storage.Path)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// splitList parses a comma-separated value, dropping blank entries
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &result)
	return result, err
}

func parseFloat64(s string) (float64, error) {
	var result float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &result)
	return result, err
}
