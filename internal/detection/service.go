package detection

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/visionflow/visionflow/internal/ai"
	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
	"github.com/visionflow/visionflow/internal/service"
)

// Model is the lazily loaded inference engine the service runs
type Model interface {
	EnsureLoaded(ctx context.Context) (ai.Engine, error)
	Predict(ctx context.Context, engine ai.Engine, img ai.Image, threshold float64) (ai.RawOutput, time.Duration, error)
	Spec() ai.ModelSpec
}

// Service runs detections and answers history and analytics queries
type Service struct {
	model  Model
	repo   Repository
	logger *logger.Logger
	events *service.EventBus
}

// NewService creates a detection service
func NewService(model Model, repo Repository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Service{
		model:  model,
		repo:   repo,
		logger: log.Named("detection"),
	}
}

// SetEventBus sets the bus that receives ai.detection events
func (s *Service) SetEventBus(bus *service.EventBus) {
	s.events = bus
}

// RunDetection runs the model on img, filters by allowList and persists the
// result. A persistence failure is returned even though inference succeeded.
func (s *Service) RunDetection(ctx context.Context, img ai.Image, allowList []string, sourceName *string) (*Result, error) {
	if s.model == nil {
		return nil, errors.NewConfigurationError("no detection model configured")
	}
	s.logger.Debug("Running detection", "classes", allowList)

	engine, err := s.model.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	raw, elapsed, err := s.model.Predict(ctx, engine, img, s.model.Spec().ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	result := Normalize(raw, allowList, elapsed, img)

	record, err := s.repo.Persist(ctx, result, sourceName, DefaultSourceType)
	if err != nil {
		s.logger.Error("Failed to persist detection result", "error", err)
		return nil, errors.WrapPersistence(err, "failed to persist detection result")
	}

	s.logger.Info("Detection completed",
		"record_id", record.ID,
		"detections", result.Summary.TotalDetections,
		"processing_ms", result.Summary.ProcessingMs,
	)
	s.publish(record)

	return result, nil
}

func (s *Service) publish(record *Record) {
	if s.events == nil {
		return
	}
	s.events.Publish(service.Event{
		Type:   service.EventTypeDetection,
		Source: "detection",
		Data: map[string]interface{}{
			"record_id":        record.ID,
			"total_detections": record.Summary.TotalDetections,
			"detected_classes": record.Summary.DetectedClasses,
		},
	})
}

// ListHistory returns one page of persisted results, newest first
func (s *Service) ListHistory(ctx context.Context, page, pageSize int, className string) (*HistoryPage, error) {
	if page < 1 {
		return nil, errors.NewValidationError("page must be >= 1, got %d", page)
	}
	if pageSize < 1 {
		return nil, errors.NewValidationError("page_size must be >= 1, got %d", pageSize)
	}
	if page-1 > math.MaxInt/pageSize {
		return nil, errors.NewValidationError("page %d is out of range for page_size %d", page, pageSize)
	}

	items, total, err := s.repo.FetchHistory(ctx, HistoryQuery{
		Page:      page,
		PageSize:  pageSize,
		ClassName: strings.TrimSpace(className),
	})
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to fetch detection history")
	}
	if items == nil {
		items = []Record{}
	}

	return &HistoryPage{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Pages:    PageCount(total, pageSize),
		Items:    items,
	}, nil
}

// ClassFrequency counts persisted detections per class. A limit of zero
// returns every class.
func (s *Service) ClassFrequency(ctx context.Context, classNames []string, limit int) (*ClassFrequencyReport, error) {
	if limit < 0 {
		return nil, errors.NewValidationError("limit must be >= 0, got %d", limit)
	}

	names := uniqueNonEmpty(classNames)
	rows, err := s.repo.ClassRows(ctx, names)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to load class frequency rows")
	}

	report := AggregateClassFrequency(rows, names, limit)
	return &report, nil
}

// uniqueNonEmpty drops blank and repeated names, keeping order
func uniqueNonEmpty(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
