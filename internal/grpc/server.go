package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
	"github.com/visionflow/visionflow/internal/service"
)

// DetectionService is the service name reported by the health endpoint
const DetectionService = "visionflow.Detection"

// ModelState reports whether the detection model is loaded
type ModelState interface {
	Loaded() bool
}

// HealthServer serves grpc.health.v1.Health. Both the overall status and
// DetectionService report NOT_SERVING until the model is loaded.
type HealthServer struct {
	*service.ServiceBase
	addr   string
	model  ModelState
	logger *logger.Logger

	mu       sync.Mutex
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewHealthServer creates a gRPC health server listening on addr
func NewHealthServer(addr string, model ModelState, log *logger.Logger) *HealthServer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &HealthServer{
		ServiceBase: service.NewServiceBase("grpc-health", log),
		addr:        addr,
		model:       model,
		logger:      log,
	}
}

// Start binds the listener and serves in the background
func (s *HealthServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.GetStatus().SetStatus(service.StatusStarting)

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.GetStatus().SetError(err)
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}
	s.listener = lis

	s.server = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.setServing(s.model != nil && s.model.Loaded())

	ctx, s.cancel = context.WithCancel(ctx)
	if bus := s.GetEventBus(); bus != nil {
		loads := bus.Subscribe(service.EventTypeModelLoaded)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case _, ok := <-loads:
					if !ok {
						return
					}
					s.setServing(true)
				case <-ctx.Done():
					bus.Unsubscribe(service.EventTypeModelLoaded, loads)
					return
				}
			}
		}()
	}

	srv := s.server
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			s.LogError("gRPC server error", err)
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("gRPC health server started", "addr", lis.Addr().String())
	return nil
}

// Stop drains in-flight calls, falling back to a hard stop when ctx ends
func (s *HealthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	s.GetStatus().SetStatus(service.StatusStopping)

	s.health.Shutdown()
	if s.cancel != nil {
		s.cancel()
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
	}
	s.wg.Wait()

	s.server = nil
	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("gRPC health server stopped")
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *HealthServer) setServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(DetectionService, status)
	s.LogDebug("Health status updated", "status", status.String())
}
