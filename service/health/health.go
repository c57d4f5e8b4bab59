// Package health serves the standard gRPC health protocol and keeps each
// service's status in step with a set of probes.
package health

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health key for the gateway as a whole; "" mirrors it.
const ServiceName = "pplink.Gateway"

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) bool

type Server struct {
	gs     *grpc.Server
	hs     *health.Server
	probes map[string]Probe
	log    *zap.Logger
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		gs:     grpc.NewServer(),
		hs:     health.NewServer(),
		probes: make(map[string]Probe),
		log:    log.Named("health"),
	}
	healthpb.RegisterHealthServer(s.gs, s.hs)
	s.set(healthpb.HealthCheckResponse_SERVING)
	return s
}

// AddProbe makes the gateway NOT_SERVING while p fails.
func (s *Server) AddProbe(name string, p Probe) {
	s.probes[name] = p
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.hs.SetServingStatus("", st)
	s.hs.SetServingStatus(ServiceName, st)
}

// CheckOnce runs every probe and publishes the combined status.
func (s *Server) CheckOnce(ctx context.Context) bool {
	ok := true
	for name, p := range s.probes {
		if !p(ctx) {
			s.log.Warn("probe failing", zap.String("probe", name))
			ok = false
		}
	}
	if ok {
		s.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Watch re-runs the probes every interval until ctx ends.
func (s *Server) Watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.CheckOnce(ctx)
		}
	}
}

// Serve blocks serving on lis.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
	return s.gs.Serve(lis)
}

// Stop marks everything NOT_SERVING and stops the gRPC server.
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.gs.GracefulStop()
}
