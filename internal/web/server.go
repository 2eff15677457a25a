package web

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visionflow/visionflow/internal/ai"
	"github.com/visionflow/visionflow/internal/config"
	"github.com/visionflow/visionflow/internal/detection"
	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/health"
	"github.com/visionflow/visionflow/internal/logger"
	"github.com/visionflow/visionflow/internal/service"
	"github.com/visionflow/visionflow/internal/telemetry"
)

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config    *config.WebConfig
	app       config.AppConfig
	logger    *logger.Logger
	router    *gin.Engine
	detector  Detector
	healthMgr *health.Manager  // Optional health manager for /health
	telemetry Telemetry        // Optional collector for /status counters
	model     ModelInfoSource  // Optional model state for /status
	startTime time.Time

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// Detector runs detections and queries history
type Detector interface {
	RunDetection(ctx context.Context, img ai.Image, allowList []string, sourceName *string) (*detection.Result, error)
	ListHistory(ctx context.Context, page, pageSize int, className string) (*detection.HistoryPage, error)
	ClassFrequency(ctx context.Context, classNames []string, limit int) (*detection.ClassFrequencyReport, error)
}

// Telemetry provides application counters
type Telemetry interface {
	Collect(ctx context.Context) telemetry.Snapshot
}

// ModelInfoSource reports the model load state
type ModelInfoSource interface {
	Info() ai.ModelInfo
}

// NewServer creates a new web server service
func NewServer(cfg *config.Config, detector Detector, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.Web.CORSOrigins))
	if cfg.Web.RateLimitRPS > 0 {
		router.Use(rateLimitMiddleware(newClientLimiter(cfg.Web.RateLimitRPS, cfg.Web.RateLimitBurst)))
	}
	router.MaxMultipartMemory = cfg.Web.MaxUploadBytes()

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      &cfg.Web,
		app:         cfg.App,
		logger:      log,
		router:      router,
		detector:    detector,
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetHealthManager sets the health manager behind /health and /health/ready
func (s *Server) SetHealthManager(m *health.Manager) {
	s.healthMgr = m
}

// SetTelemetry sets the collector reported by the status endpoint
func (s *Server) SetTelemetry(t Telemetry) {
	s.telemetry = t
}

// SetModelInfo sets the model reported by the status endpoint
func (s *Server) SetModelInfo(m ModelInfoSource) {
	s.model = m
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := s.config.Addr()
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.GetStatus().SetError(err)
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.listener = lis

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srv := s.httpServer
	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", lis.Addr().String())
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", lis.Addr().String(), "api_prefix", s.app.APIPrefix)
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopping)
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	if err != nil {
		s.GetStatus().SetError(err)
		return err
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr()
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleLiveness)
	s.router.GET("/health/ready", s.handleReadiness)

	api := s.router.Group(s.app.APIPrefix)
	{
		api.GET("/status", s.handleStatus)

		det := api.Group("/detection")
		{
			det.POST("/image", s.handleDetectImage)
			det.GET("/history", s.handleHistory)
			det.GET("/analytics/classes", s.handleClassAnalytics)
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}
