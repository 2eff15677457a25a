package state

import (
	"context"
	"fmt"
	"image"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionflow/visionflow/internal/ai"
	"github.com/visionflow/visionflow/internal/detection"
	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
)

func makeResult(classes ...string) *detection.Result {
	dets := make([]detection.Detection, 0, len(classes))
	for i, c := range classes {
		dets = append(dets, detection.Detection{
			DetectionID: uuid.NewString(),
			ClassID:     i,
			ClassName:   c,
			Confidence:  0.9,
			BBox:        detection.BoundingBox{XMin: 1, YMin: 2, XMax: 3, YMax: 4},
		})
	}
	return &detection.Result{
		Metadata: detection.Metadata{Width: 640, Height: 480, Channels: 3, ProcessedAt: time.Now().UTC().Truncate(time.Millisecond)},
		Summary: detection.Summary{
			TotalDetections: len(dets),
			DetectedClasses: classes,
			SelectedClasses: []string{},
			ProcessingMs:    12.5,
		},
		Payload: detection.Payload{Detections: dets},
	}
}

// repositories returns every repository implementation under test
func repositories(t *testing.T) map[string]detection.Repository {
	mem := NewMemoryRepository()
	mem.now = steppingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return map[string]detection.Repository{
		DriverCGO:    setupTestRepository(t, DriverCGO),
		DriverPureGo: setupTestRepository(t, DriverPureGo),
		"memory":     mem,
	}
}

func TestRepository_PersistAndFetch(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			source := "street.jpg"
			result := makeResult("car", "person")

			rec, err := repo.Persist(ctx, result, &source, "")
			require.NoError(t, err)
			assert.NotEmpty(t, rec.ID)
			assert.Equal(t, detection.DefaultSourceType, rec.SourceType)
			assert.Equal(t, time.UTC, rec.CreatedAt.Location())

			items, total, err := repo.FetchHistory(ctx, detection.HistoryQuery{Page: 1, PageSize: 10})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			require.Len(t, items, 1)

			got := items[0]
			assert.Equal(t, rec.ID, got.ID)
			require.NotNil(t, got.SourceName)
			assert.Equal(t, "street.jpg", *got.SourceName)
			assert.Equal(t, result.Summary, got.Summary)
			assert.Equal(t, result.Payload, got.Payload)
			assert.True(t, result.Metadata.ProcessedAt.Equal(got.Metadata.ProcessedAt))
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		})
	}
}

func TestRepository_NilSourceName(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := repo.Persist(ctx, makeResult(), nil, "upload")
			require.NoError(t, err)

			items, _, err := repo.FetchHistory(ctx, detection.HistoryQuery{Page: 1, PageSize: 1})
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Nil(t, items[0].SourceName)
			assert.Empty(t, items[0].Payload.Detections)
		})
	}
}

func TestRepository_Pagination(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var ids []string
			for i := 0; i < 23; i++ {
				src := fmt.Sprintf("img-%02d.jpg", i)
				rec, err := repo.Persist(ctx, makeResult("car"), &src, "upload")
				require.NoError(t, err)
				ids = append(ids, rec.ID)
			}

			// newest first
			want := make([]string, len(ids))
			for i, id := range ids {
				want[len(ids)-1-i] = id
			}

			var got []string
			for page := 1; page <= 3; page++ {
				items, total, err := repo.FetchHistory(ctx, detection.HistoryQuery{Page: page, PageSize: 10})
				require.NoError(t, err)
				assert.Equal(t, 23, total)
				for _, it := range items {
					got = append(got, it.ID)
				}
				if page < 3 {
					assert.Len(t, items, 10)
				} else {
					assert.Len(t, items, 3)
				}
			}
			assert.Equal(t, want, got)
			assert.Equal(t, 3, detection.PageCount(23, 10))

			items, total, err := repo.FetchHistory(ctx, detection.HistoryQuery{Page: 4, PageSize: 10})
			require.NoError(t, err)
			assert.Equal(t, 23, total)
			assert.Empty(t, items)
		})
	}
}

func TestRepository_ClassFilter(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := repo.Persist(ctx, makeResult("car", "car"), nil, "upload")
			require.NoError(t, err)
			_, err = repo.Persist(ctx, makeResult("person"), nil, "upload")
			require.NoError(t, err)
			_, err = repo.Persist(ctx, makeResult("car", "person"), nil, "upload")
			require.NoError(t, err)

			items, total, err := repo.FetchHistory(ctx, detection.HistoryQuery{Page: 1, PageSize: 10, ClassName: "car"})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			assert.Len(t, items, 2)

			_, total, err = repo.FetchHistory(ctx, detection.HistoryQuery{Page: 1, PageSize: 10, ClassName: "Car"})
			require.NoError(t, err)
			assert.Equal(t, 0, total)
		})
	}
}

func TestRepository_ClassRows(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				classes := []string{"car"}
				if i < 2 {
					classes = append(classes, "person")
				}
				_, err := repo.Persist(ctx, makeResult(classes...), nil, "upload")
				require.NoError(t, err)
			}

			rows, err := repo.ClassRows(ctx, nil)
			require.NoError(t, err)
			assert.Len(t, rows, 7)

			report := detection.AggregateClassFrequency(rows, nil, 1)
			assert.Equal(t, 7, report.TotalDetections)
			assert.Equal(t, 2, report.TotalClasses)
			require.Len(t, report.Items, 1)
			assert.Equal(t, "car", report.Items[0].ClassName)
			assert.Equal(t, 5, report.Items[0].Detections)

			personRows, err := repo.ClassRows(ctx, []string{"person"})
			require.NoError(t, err)
			assert.Len(t, personRows, 2)
			for i := 1; i < len(personRows); i++ {
				assert.False(t, personRows[i].CreatedAt.After(personRows[i-1].CreatedAt))
			}
		})
	}
}

func TestRepository_InvalidPageSize(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := repo.FetchHistory(context.Background(), detection.HistoryQuery{Page: 1, PageSize: 0})
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestRepository_Ping(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, repo.Ping(context.Background()))
		})
	}
}

func TestSQLiteRepository_PersistFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO detection_results").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "upload", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO detection_items").
		WillReturnError(fmt.Errorf("database is locked"))
	mock.ExpectRollback()

	repo := NewSQLiteRepository(NewDatabaseFromDB(db, DriverCGO), logger.NewTestLogger(t))

	rec, err := repo.Persist(context.Background(), makeResult("car"), nil, "upload")
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, errors.IsPersistenceError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_CountFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnError(fmt.Errorf("disk I/O error"))

	repo := NewSQLiteRepository(NewDatabaseFromDB(db, DriverCGO), nil)

	_, _, err = repo.FetchHistory(context.Background(), detection.HistoryQuery{Page: 1, PageSize: 10})
	assert.True(t, errors.IsPersistenceError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen(t *testing.T) {
	repo, err := Open(context.Background(), "memory", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo)

	_, err = Open(context.Background(), "postgres", t.TempDir()+"/x.db", nil)
	assert.True(t, errors.IsPersistenceError(err))
}

type nonFiniteEngine struct{}

func (nonFiniteEngine) Predict(ctx context.Context, img ai.Image, threshold float64) (ai.RawOutput, error) {
	return ai.RawOutput{
		Detections: []ai.RawDetection{
			{ClassID: 2, Confidence: math.NaN(), Box: [4]float64{math.NaN(), 1, math.Inf(1), 5}},
			{ClassID: 2, Confidence: 0.7, Box: [4]float64{math.Inf(-1), 0, 4, 4}},
		},
		Names: map[int]string{2: "car"},
	}, nil
}

func (nonFiniteEngine) Close() error { return nil }

func TestRunDetection_NonFiniteOutputIsStored(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			factory := func(ctx context.Context, spec ai.ModelSpec) (ai.Engine, error) {
				return nonFiniteEngine{}, nil
			}
			model, err := ai.NewModelManager(ai.ModelSpec{ModelPath: "test.onnx", Device: "cpu", ConfidenceThreshold: 0.25}, factory, logger.NewNopLogger())
			require.NoError(t, err)

			svc := detection.NewService(model, repo, logger.NewNopLogger())
			img := ai.NewImage(image.NewNRGBA(image.Rect(0, 0, 8, 8)), 3)

			result, err := svc.RunDetection(ctx, img, nil, nil)
			require.NoError(t, err)
			require.Len(t, result.Payload.Detections, 2)

			page, err := svc.ListHistory(ctx, 1, 10, "car")
			require.NoError(t, err)
			require.Len(t, page.Items, 1)

			stored := page.Items[0].Payload.Detections
			require.Len(t, stored, 2)
			assert.Equal(t, detection.BoundingBox{XMin: 0, YMin: 1, XMax: 0, YMax: 5}, stored[0].BBox)
			assert.Equal(t, 0.0, stored[0].Confidence)
			assert.Equal(t, detection.BoundingBox{XMin: 0, YMin: 0, XMax: 4, YMax: 4}, stored[1].BBox)
		})
	}
}

func TestRepository_PageOffsetOverflow(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := repo.Persist(ctx, makeResult("car"), nil, "")
				require.NoError(t, err)
			}

			items, total, err := repo.FetchHistory(ctx, detection.HistoryQuery{Page: math.MaxInt/100 + 2, PageSize: 100})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Empty(t, items)
		})
	}
}
