package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visionflow/visionflow/internal/detection"
	"github.com/visionflow/visionflow/internal/errors"
)

// MemoryRepository keeps detection records in process memory
type MemoryRepository struct {
	mu      sync.RWMutex
	records []detection.Record // newest first
	now     func() time.Time
}

var _ detection.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

// Persist stores result as a new record
func (m *MemoryRepository) Persist(ctx context.Context, result *detection.Result, sourceName *string, sourceType string) (*detection.Record, error) {
	if result == nil {
		return nil, errors.NewValidationError("nil detection result")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "failed to save detection result")
	}
	if sourceType == "" {
		sourceType = detection.DefaultSourceType
	}

	record := detection.Record{
		ID:         uuid.NewString(),
		SourceName: sourceName,
		SourceType: sourceType,
		Metadata:   result.Metadata,
		Summary:    result.Summary,
		Payload:    result.Payload,
		CreatedAt:  m.now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, record)
	sort.SliceStable(m.records, func(i, j int) bool {
		return newer(m.records[i], m.records[j])
	})
	return &record, nil
}

// FetchHistory returns one page of records, newest first
func (m *MemoryRepository) FetchHistory(ctx context.Context, q detection.HistoryQuery) ([]detection.Record, int, error) {
	if q.PageSize < 1 {
		return nil, 0, errors.NewValidationError("page_size must be >= 1, got %d", q.PageSize)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matching := make([]detection.Record, 0, len(m.records))
	for _, rec := range m.records {
		if q.ClassName == "" || hasClass(rec, q.ClassName) {
			matching = append(matching, rec)
		}
	}

	total := len(matching)
	start := q.Offset()
	if start < 0 || start >= total {
		return []detection.Record{}, total, nil
	}
	end := start + q.PageSize
	if end > total || end < start {
		end = total
	}

	page := make([]detection.Record, end-start)
	copy(page, matching[start:end])
	return page, total, nil
}

// ClassRows returns one row per stored detection, newest record first
func (m *MemoryRepository) ClassRows(ctx context.Context, classNames []string) ([]detection.ClassRow, error) {
	var filter map[string]struct{}
	if len(classNames) > 0 {
		filter = make(map[string]struct{}, len(classNames))
		for _, n := range classNames {
			filter[n] = struct{}{}
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []detection.ClassRow
	for _, rec := range m.records {
		for _, d := range rec.Payload.Detections {
			if filter != nil {
				if _, ok := filter[d.ClassName]; !ok {
					continue
				}
			}
			rows = append(rows, detection.ClassRow{ClassName: d.ClassName, CreatedAt: rec.CreatedAt})
		}
	}
	return rows, nil
}

// Ping always succeeds
func (m *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *MemoryRepository) Close() error {
	return nil
}

// Len returns the number of stored records
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func newer(a, b detection.Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func hasClass(rec detection.Record, className string) bool {
	for _, d := range rec.Payload.Detections {
		if d.ClassName == className {
			return true
		}
	}
	return false
}
