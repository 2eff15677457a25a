package ai

import (
	"context"
	"image"
)

// Image is a decoded, request-owned picture handed to an engine
type Image struct {
	Pixels   image.Image
	Width    int
	Height   int
	Channels int // 3 for color sources, 1 for grayscale
}

// NewImage wraps a decoded image and records its dimensions
func NewImage(img image.Image, channels int) Image {
	b := img.Bounds()
	return Image{
		Pixels:   img,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: channels,
	}
}

// RawDetection is one engine output row. Box is [x_min, y_min, x_max, y_max]
// in source-image pixels.
type RawDetection struct {
	ClassID    int
	Confidence float64
	Box        [4]float64
}

// RawOutput is everything an engine returns for a single image
type RawOutput struct {
	Detections []RawDetection
	Names      map[int]string // class id -> class name
}

// Engine runs inference for a loaded model
type Engine interface {
	// Predict returns the detections scoring at or above threshold
	Predict(ctx context.Context, img Image, threshold float64) (RawOutput, error)
	// Close releases the engine's resources
	Close() error
}

// ModelSpec describes the model a ModelManager loads
type ModelSpec struct {
	ModelPath           string
	Device              string
	ConfidenceThreshold float64
}

// EngineFactory constructs an engine for a model. It is called at most once
// per successful load.
type EngineFactory func(ctx context.Context, spec ModelSpec) (Engine, error)

// InferenceRequest represents a request to a remote inference service
type InferenceRequest struct {
	Image               string   `json:"image"`                          // Base64-encoded JPEG image
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"` // Optional override
	EnabledClasses      []string `json:"enabled_classes,omitempty"`      // Optional filter
}

// BoundingBox represents a remotely detected object's bounding box
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// InferenceResponse represents the response from a remote inference service
type InferenceResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	InferenceTimeMs float64       `json:"inference_time_ms"`
	FrameShape      []int         `json:"frame_shape"`       // [height, width]
	ModelInputShape []int         `json:"model_input_shape"` // [height, width]
	DetectionCount  int           `json:"detection_count"`
}
