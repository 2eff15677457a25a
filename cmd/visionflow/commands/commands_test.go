package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionflow/visionflow/internal/ai"
	"github.com/visionflow/visionflow/internal/config"
	"github.com/visionflow/visionflow/internal/detection"
	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
)

// inferenceServer fakes a remote inference service that always sees a car
// and a person
func inferenceServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health/ready":
			w.WriteHeader(http.StatusOK)
		case "/api/v1/inference":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(ai.InferenceResponse{
				BoundingBoxes: []ai.BoundingBox{
					{X1: 1, Y1: 1, X2: 10, Y2: 10, Confidence: 0.9, ClassID: 2, ClassName: "car"},
					{X1: 2, Y1: 2, X2: 6, Y2: 12, Confidence: 0.8, ClassID: 0, ClassName: "person"},
				},
				DetectionCount: 2,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func writeConfig(t *testing.T, serviceURL string) string {
	t.Helper()

	dir := t.TempDir()
	content := fmt.Sprintf(`app:
  data_dir: %q
log:
  level: error
  output: stderr
ai:
  backend: remote
  service_url: %q
storage:
  driver: sqlite
  path: %q
`, dir, serviceURL, filepath.Join(dir, "visionflow.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 10), B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func execute(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.Bytes(), err
}

func TestDetectHistoryClasses(t *testing.T) {
	server := inferenceServer(t)
	cfgPath := writeConfig(t, server.URL)
	imgPath := writePNG(t, t.TempDir(), "street.png")

	out, err := execute(t, "detect", imgPath, "--classes", "Car", "--json", "--config", cfgPath)
	require.NoError(t, err)

	var result detection.Result
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, 32, result.Metadata.Width)
	assert.Equal(t, 24, result.Metadata.Height)
	assert.Equal(t, 1, result.Summary.TotalDetections)
	require.Len(t, result.Payload.Detections, 1)
	assert.Equal(t, "car", result.Payload.Detections[0].ClassName)

	out, err = execute(t, "history", "--json", "--config", cfgPath)
	require.NoError(t, err)

	var page detection.HistoryPage
	require.NoError(t, json.Unmarshal(out, &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Items[0].SourceName)
	assert.Equal(t, "street.png", *page.Items[0].SourceName)

	out, err = execute(t, "classes", "--json", "--config", cfgPath)
	require.NoError(t, err)

	var report detection.ClassFrequencyReport
	require.NoError(t, json.Unmarshal(out, &report))
	assert.Equal(t, 1, report.TotalDetections)
	assert.Equal(t, 1, report.TotalClasses)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "car", report.Items[0].ClassName)
}

func TestDetect_MissingFile(t *testing.T) {
	server := inferenceServer(t)
	cfgPath := writeConfig(t, server.URL)

	_, err := execute(t, "detect", filepath.Join(t.TempDir(), "missing.png"), "--config", cfgPath)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := execute(t, "history", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal(out, &info))
	assert.Equal(t, Version, info["version"])
	assert.NotEmpty(t, info["go_version"])
}

func TestEngineFactory(t *testing.T) {
	log := logger.NewNopLogger()

	for _, backend := range []string{"onnx", "remote"} {
		cfg := &config.Config{AI: config.AIConfig{Backend: backend}}
		factory, err := engineFactory(cfg, log)
		require.NoError(t, err, backend)
		assert.NotNil(t, factory, backend)
	}

	_, err := engineFactory(&config.Config{AI: config.AIConfig{Backend: "tflite"}}, log)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}
