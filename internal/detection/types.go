// Package detection turns raw model output into persisted detection results
// and serves history and class-frequency queries over them.
package detection

import (
	"context"
	"math"
	"time"
)

// BoundingBox is an axis-aligned box in source-image pixels, origin top-left
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Width returns XMax-XMin clamped at zero. Non-finite coordinates yield zero.
func (b BoundingBox) Width() float64 {
	return span(b.XMin, b.XMax)
}

// Height returns YMax-YMin clamped at zero. Non-finite coordinates yield zero.
func (b BoundingBox) Height() float64 {
	return span(b.YMin, b.YMax)
}

// Area returns Width()*Height()
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

func span(lo, hi float64) float64 {
	d := hi - lo
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0
	}
	return d
}

// Detection is a single retained object
type Detection struct {
	DetectionID string      `json:"detection_id"`
	ClassID     int         `json:"class_id"`
	ClassName   string      `json:"class_name"`
	Confidence  float64     `json:"confidence"`
	BBox        BoundingBox `json:"bbox"`
}

// Metadata describes the image a result was computed from
type Metadata struct {
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Channels    int       `json:"channels"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Summary aggregates a result's detections
type Summary struct {
	TotalDetections int      `json:"total_detections"`
	DetectedClasses []string `json:"detected_classes"`
	SelectedClasses []string `json:"selected_classes"`
	ProcessingMs    float64  `json:"processing_ms"`
}

// Payload carries the detections in engine output order
type Payload struct {
	Detections []Detection `json:"detections"`
}

// Result is the outcome of one inference
type Result struct {
	Metadata Metadata `json:"metadata"`
	Summary  Summary  `json:"summary"`
	Payload  Payload  `json:"payload"`
}

// DefaultSourceType is recorded for uploaded images
const DefaultSourceType = "upload"

// Record is a persisted Result. Records are never updated or deleted.
type Record struct {
	ID         string    `json:"id"`
	SourceName *string   `json:"source_name"`
	SourceType string    `json:"source_type"`
	Metadata   Metadata  `json:"metadata"`
	Summary    Summary   `json:"summary"`
	Payload    Payload   `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

// Result returns the detection result stored in the record
func (r *Record) Result() Result {
	return Result{Metadata: r.Metadata, Summary: r.Summary, Payload: r.Payload}
}

// ClassRow is one persisted detection flattened out of its record
type ClassRow struct {
	ClassName string
	CreatedAt time.Time
}

// ClassFrequency is the number of detections of a class and when it was
// last seen
type ClassFrequency struct {
	ClassName  string    `json:"class_name"`
	Detections int       `json:"detections"`
	LastSeen   time.Time `json:"last_seen"`
}

// ClassFrequencyReport is the class-frequency analytics response
type ClassFrequencyReport struct {
	TotalDetections int              `json:"total_detections"`
	TotalClasses    int              `json:"total_classes"`
	Items           []ClassFrequency `json:"items"`
}

// HistoryQuery selects a page of records, newest first
type HistoryQuery struct {
	Page      int    // 1-indexed
	PageSize  int    // >= 1
	ClassName string // optional exact match on any detection's class name
}

// Offset returns the number of records skipped before the page. Offsets
// past math.MaxInt are capped there.
func (q HistoryQuery) Offset() int {
	if q.Page < 1 || q.PageSize < 1 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.PageSize {
		return math.MaxInt
	}
	return (q.Page - 1) * q.PageSize
}

// HistoryPage is the paginated history response
type HistoryPage struct {
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int      `json:"total"`
	Pages    int      `json:"pages"`
	Items    []Record `json:"items"`
}

// Repository is the append-only store of detection records
type Repository interface {
	// Persist stores result and returns the new record
	Persist(ctx context.Context, result *Result, sourceName *string, sourceType string) (*Record, error)
	// FetchHistory returns one page of records and the total number matching
	FetchHistory(ctx context.Context, q HistoryQuery) ([]Record, int, error)
	// ClassRows returns one row per persisted detection, restricted to
	// classNames when it is non-empty
	ClassRows(ctx context.Context, classNames []string) ([]ClassRow, error)
	// Ping checks the store is reachable
	Ping(ctx context.Context) error
	// Close releases the store
	Close() error
}
