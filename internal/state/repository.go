package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visionflow/visionflow/internal/detection"
	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
)

// SQLiteRepository stores detection records in SQLite. Each record is one
// detection_results row plus one detection_items row per detection, written
// in a single transaction.
type SQLiteRepository struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
	now    func() time.Time
}

var _ detection.Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on an open database
func NewSQLiteRepository(db *Database, log *logger.Logger) *SQLiteRepository {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SQLiteRepository{
		db:     db,
		logger: log.Named("history"),
		now:    time.Now,
	}
}

// Open returns the repository selected by driver: "memory", or one of the
// SQLite drivers backed by the file at path
func Open(ctx context.Context, driver, path string, log *logger.Logger) (detection.Repository, error) {
	if driver == "memory" {
		return NewMemoryRepository(), nil
	}

	db, err := NewDatabase(ctx, driver, path)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to open history database")
	}
	if log != nil {
		log.Info("History database opened", "driver", driver, "path", path)
	}
	return NewSQLiteRepository(db, log), nil
}

// Persist stores result as a new record
func (r *SQLiteRepository) Persist(ctx context.Context, result *detection.Result, sourceName *string, sourceType string) (*detection.Record, error) {
	if result == nil {
		return nil, errors.NewValidationError("nil detection result")
	}
	if sourceType == "" {
		sourceType = detection.DefaultSourceType
	}

	record := &detection.Record{
		ID:         uuid.NewString(),
		SourceName: sourceName,
		SourceType: sourceType,
		Metadata:   result.Metadata,
		Summary:    result.Summary,
		Payload:    result.Payload,
		CreatedAt:  r.now().UTC(),
	}

	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to marshal metadata")
	}
	summaryJSON, err := json.Marshal(record.Summary)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to marshal summary")
	}
	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to marshal payload")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	createdAt := record.CreatedAt.UnixNano()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO detection_results (id, source_name, source_type, metadata, summary, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, nullString(sourceName), sourceType,
		string(metadataJSON), string(summaryJSON), string(payloadJSON), createdAt,
	)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to save detection result")
	}

	for i, d := range record.Payload.Detections {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO detection_items (detection_id, record_id, position, class_id, class_name, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.DetectionID, record.ID, i, d.ClassID, d.ClassName, d.Confidence, createdAt,
		)
		if err != nil {
			return nil, errors.WrapPersistence(err, "failed to save detection item")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WrapPersistence(err, "failed to commit detection result")
	}

	r.logger.Debug("Detection result saved", "record_id", record.ID, "detections", len(record.Payload.Detections))
	return record, nil
}

// FetchHistory returns one page of records, newest first, and the number of
// records matching the query
func (r *SQLiteRepository) FetchHistory(ctx context.Context, q detection.HistoryQuery) ([]detection.Record, int, error) {
	if q.PageSize < 1 {
		return nil, 0, errors.NewValidationError("page_size must be >= 1, got %d", q.PageSize)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	whereClause := ""
	args := []interface{}{}
	if q.ClassName != "" {
		whereClause = "WHERE id IN (SELECT record_id FROM detection_items WHERE class_name = ?)"
		args = append(args, q.ClassName)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM detection_results %s", whereClause)
	if err := r.db.GetDB().QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.WrapPersistence(err, "failed to count detection results")
	}
	if q.Offset() >= total {
		return []detection.Record{}, total, nil
	}

	query := fmt.Sprintf(`
		SELECT id, source_name, source_type, metadata, summary, payload, created_at
		FROM detection_results
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, whereClause)
	args = append(args, q.PageSize, q.Offset())

	rows, err := r.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.WrapPersistence(err, "failed to list detection results")
	}
	defer rows.Close()

	records := make([]detection.Record, 0, q.PageSize)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, errors.WrapPersistence(err, "failed to read detection result")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.WrapPersistence(err, "failed to iterate detection results")
	}

	return records, total, nil
}

// ClassRows returns one row per persisted detection, newest first. When
// classNames is non-empty only those exact class names are returned.
func (r *SQLiteRepository) ClassRows(ctx context.Context, classNames []string) ([]detection.ClassRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	whereClause := ""
	args := make([]interface{}, 0, len(classNames))
	if len(classNames) > 0 {
		placeholders := make([]string, len(classNames))
		for i, name := range classNames {
			placeholders[i] = "?"
			args = append(args, name)
		}
		whereClause = fmt.Sprintf("WHERE class_name IN (%s)", strings.Join(placeholders, ", "))
	}

	query := fmt.Sprintf(`
		SELECT class_name, created_at
		FROM detection_items
		%s
		ORDER BY created_at DESC, record_id DESC, position ASC`, whereClause)

	rows, err := r.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to query detection items")
	}
	defer rows.Close()

	var out []detection.ClassRow
	for rows.Next() {
		var row detection.ClassRow
		var createdAt int64
		if err := rows.Scan(&row.ClassName, &createdAt); err != nil {
			return nil, errors.WrapPersistence(err, "failed to read detection item")
		}
		row.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "failed to iterate detection items")
	}
	return out, nil
}

// Ping checks the database is reachable
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close closes the database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (detection.Record, error) {
	var rec detection.Record
	var sourceName sql.NullString
	var metadataJSON, summaryJSON, payloadJSON string
	var createdAt int64

	if err := row.Scan(&rec.ID, &sourceName, &rec.SourceType, &metadataJSON, &summaryJSON, &payloadJSON, &createdAt); err != nil {
		return rec, err
	}

	if sourceName.Valid {
		name := sourceName.String
		rec.SourceName = &name
	}
	if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
		return rec, fmt.Errorf("metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &rec.Summary); err != nil {
		return rec, fmt.Errorf("summary: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return rec, fmt.Errorf("payload: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
