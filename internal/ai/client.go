package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
)

// Client is an HTTP client for a remote inference service. It implements
// Engine and is safe for concurrent use.
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
}

// ClientConfig contains configuration for the inference client
type ClientConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// NewClient creates a new inference service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Client{
		serviceURL: config.ServiceURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log,
	}
}

// NewRemoteFactory returns an EngineFactory that checks the remote service
// is ready and hands out a Client
func NewRemoteFactory(config ClientConfig, log *logger.Logger) EngineFactory {
	return func(ctx context.Context, spec ModelSpec) (Engine, error) {
		client := NewClient(config, log)
		if err := client.HealthCheck(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Infer sends img to the inference service as a base64 JPEG
func (c *Client) Infer(ctx context.Context, img Image, threshold float64) (*InferenceResponse, error) {
	if img.Pixels == nil {
		return nil, errors.NewValidationError("empty image")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img.Pixels, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	req := InferenceRequest{
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	if threshold > 0 {
		req.ConfidenceThreshold = &threshold
	}

	return c.inferRequest(ctx, req)
}

// Predict implements Engine
func (c *Client) Predict(ctx context.Context, img Image, threshold float64) (RawOutput, error) {
	resp, err := c.Infer(ctx, img, threshold)
	if err != nil {
		return RawOutput{}, err
	}

	out := RawOutput{
		Detections: make([]RawDetection, 0, len(resp.BoundingBoxes)),
		Names:      make(map[int]string),
	}
	for _, bb := range resp.BoundingBoxes {
		out.Detections = append(out.Detections, RawDetection{
			ClassID:    bb.ClassID,
			Confidence: bb.Confidence,
			Box:        [4]float64{bb.X1, bb.Y1, bb.X2, bb.Y2},
		})
		if bb.ClassName != "" {
			out.Names[bb.ClassID] = bb.ClassName
		}
	}
	return out, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// inferRequest performs a single inference request
func (c *Client) inferRequest(ctx context.Context, req InferenceRequest) (*InferenceResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending inference request", "url", url)
	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	requestDuration := time.Since(startTime)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn(
			"Inference service returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(body))
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug(
		"Remote inference completed",
		"detection_count", len(inferenceResp.BoundingBoxes),
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", requestDuration.Milliseconds(),
	)

	return &inferenceResp, nil
}

// HealthCheck checks if the inference service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health check failed: status %d", resp.StatusCode)
	}

	return nil
}
