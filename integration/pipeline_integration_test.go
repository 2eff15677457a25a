package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionflow/visionflow/internal/detection"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, url, filename string, data []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

// TestPipeline_UploadHistoryAnalytics drives uploads through the running HTTP
// server and reads them back through history and analytics
func TestPipeline_UploadHistoryAnalytics(t *testing.T) {
	env := SetupTestEnvironment(t)
	env.Start(t)

	api := env.BaseURL() + env.Config.App.APIPrefix
	img := pngBytes(t, 40, 30)

	resp := upload(t, api+"/detection/image?classes=car", "first.png", img)
	var filtered detection.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&filtered))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, filtered.Summary.TotalDetections)
	assert.Equal(t, []string{"car"}, filtered.Summary.DetectedClasses)
	assert.Equal(t, 40, filtered.Metadata.Width)
	assert.Equal(t, 30, filtered.Metadata.Height)

	resp = upload(t, api+"/detection/image", "second.png", img)
	var all detection.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, all.Summary.TotalDetections)

	// One model construction shared by both requests
	assert.Equal(t, int32(1), env.Loads.Load())

	var page detection.HistoryPage
	require.Equal(t, http.StatusOK, getJSON(t, api+"/detection/history?page=1&page_size=1", &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Items[0].SourceName)
	assert.Equal(t, "second.png", *page.Items[0].SourceName)

	var people detection.HistoryPage
	require.Equal(t, http.StatusOK, getJSON(t, api+"/detection/history?class_name=person", &people))
	assert.Equal(t, 1, people.Total)

	var report detection.ClassFrequencyReport
	require.Equal(t, http.StatusOK, getJSON(t, api+"/detection/analytics/classes", &report))
	assert.Equal(t, 5, report.TotalDetections)
	assert.Equal(t, 2, report.TotalClasses)
	require.Len(t, report.Items, 2)
	assert.Equal(t, "car", report.Items[0].ClassName)
	assert.Equal(t, 4, report.Items[0].Detections)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ok := WaitForCondition(2*time.Second, func() bool {
		snap := env.Telemetry.Collect(ctx)
		return snap.DetectionRuns == 2 && snap.ModelLoads == 1
	})
	assert.True(t, ok, "telemetry should count the model load and both detection runs")

	snap := env.Telemetry.Collect(ctx)
	assert.Equal(t, int64(5), snap.ObjectsDetected)
	assert.Equal(t, int64(2), snap.ClassCounts["car"])
	assert.Equal(t, int64(1), snap.ClassCounts["person"])
}

func TestPipeline_HealthReflectsModel(t *testing.T) {
	env := SetupTestEnvironment(t)
	env.Start(t)

	var body map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, env.BaseURL()+"/health", &body))
	assert.Equal(t, "degraded", body["health"])

	resp := upload(t, env.BaseURL()+env.Config.App.APIPrefix+"/detection/image", "street.png", pngBytes(t, 16, 16))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, env.BaseURL()+"/health", &body))
	assert.Equal(t, "healthy", body["health"])
}
