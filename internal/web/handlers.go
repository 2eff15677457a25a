package web

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/health"
	"github.com/visionflow/visionflow/internal/imageio"
)

// Query parameter bounds
const (
	defaultPageSize   = 10
	maxPageSize       = 100
	defaultClassLimit = 20
	maxClassLimit     = 200
)

// handleHealth reports overall health and the running environment
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":      "ok",
		"environment": s.app.Environment,
	}
	if s.healthMgr == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	report := s.healthMgr.Check(c.Request.Context())
	resp["health"] = report.Status
	resp["checks"] = report.Checks
	resp["services"] = report.Services

	statusCode := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		resp["status"] = "error"
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, resp)
}

// handleLiveness handles the liveness probe
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// handleReadiness handles the readiness probe
func (s *Server) handleReadiness(c *gin.Context) {
	if s.healthMgr == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy, "ready": true})
		return
	}

	report := s.healthMgr.Check(c.Request.Context())
	statusCode := http.StatusOK
	if !report.Ready() {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"ready":     report.Ready(),
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	resp := gin.H{
		"service":        s.app.ProjectName,
		"version":        s.app.Version,
		"environment":    s.app.Environment,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if s.model != nil {
		resp["model"] = s.model.Info()
	}
	if s.telemetry != nil {
		resp["telemetry"] = s.telemetry.Collect(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}

// handleDetectImage runs detection on an uploaded image
func (s *Server) handleDetectImage(c *gin.Context) {
	maxBytes := s.config.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds " + strconv.FormatInt(maxBytes, 10) + " bytes"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read upload"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read upload"})
		return
	}

	img, err := imageio.Decode(fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		s.writeError(c, err)
		return
	}

	classes := append([]string{}, c.QueryArray("classes")...)
	classes = append(classes, c.PostFormArray("classes")...)

	var sourceName *string
	if name := strings.TrimSpace(fileHeader.Filename); name != "" {
		sourceName = &name
	}

	result, err := s.detector.RunDetection(c.Request.Context(), img, classes, sourceName)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleHistory lists persisted detection records, newest first
func (s *Server) handleHistory(c *gin.Context) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		s.writeError(c, err)
		return
	}
	pageSize, err := intQuery(c, "page_size", defaultPageSize)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if page < 1 {
		s.writeError(c, errors.NewValidationError("page must be >= 1"))
		return
	}
	if pageSize < 1 || pageSize > maxPageSize {
		s.writeError(c, errors.NewValidationError("page_size must be between 1 and %d", maxPageSize))
		return
	}

	result, err := s.detector.ListHistory(c.Request.Context(), page, pageSize, c.Query("class_name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleClassAnalytics reports detection counts per class
func (s *Server) handleClassAnalytics(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultClassLimit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if limit < 0 || limit > maxClassLimit {
		s.writeError(c, errors.NewValidationError("limit must be between 0 and %d", maxClassLimit))
		return
	}

	report, err := s.detector.ClassFrequency(c.Request.Context(), c.QueryArray("class_name"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// writeError maps pipeline error kinds to HTTP status codes
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.IsServiceUnavailableError(err), errors.IsConfigurationError(err):
		status = http.StatusServiceUnavailable
	case errors.IsPersistenceError(err):
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"error", err,
		)
	}

	resp := gin.H{"error": err.Error()}
	if hints := errors.FlattenHints(err); hints != "" {
		resp["hint"] = hints
	}
	c.JSON(status, resp)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.NewValidationError("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}
