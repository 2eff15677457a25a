package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionflow/visionflow/internal/logger"
	"github.com/visionflow/visionflow/internal/service"
	"github.com/visionflow/visionflow/internal/state"
)

func TestServer_NewServer(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{}, state.NewMemoryRepository())
	if server.Name() != "web-server" {
		t.Errorf("Expected service name 'web-server', got '%s'", server.Name())
	}
	if server.Addr() != "127.0.0.1:0" {
		t.Errorf("Expected configured address before start, got %s", server.Addr())
	}
}

func TestServer_StartStop(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{}, state.NewMemoryRepository())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if !server.GetStatus().IsRunning() {
		t.Error("Server should be running")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + server.Addr() + "/health/live")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if server.GetStatus().GetStatus() != service.StatusStopped {
		t.Errorf("Expected stopped, got %s", server.GetStatus().GetStatus())
	}

	// Stopping twice is a no-op
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Second stop failed: %v", err)
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first, _ := newTestServer(t, &fakeEngine{}, state.NewMemoryRepository())
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	cfg := testConfig()
	_, portStr, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	cfg.Web.Port, err = strconv.Atoi(portStr)
	require.NoError(t, err)

	second := NewServer(cfg, nil, logger.NewNopLogger())
	err = second.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, service.StatusError, second.GetStatus().GetStatus())
}

func TestServer_CORS(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{}, state.NewMemoryRepository())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/detection/image", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := serve(server, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = serve(server, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_CORSWildcard(t *testing.T) {
	cfg := testConfig()
	cfg.Web.CORSOrigins = []string{"*"}
	server := NewServer(cfg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rec := serve(server, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Web.RateLimitRPS = 0.001
	cfg.Web.RateLimitBurst = 1
	server := NewServer(cfg, nil, nil)

	rec := serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Probes are never limited
	for i := 0; i < 3; i++ {
		rec = serve(server, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
