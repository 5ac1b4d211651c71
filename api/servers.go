package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"google.golang.org/grpc"
)

// RESTService runs the fiber app under a suture supervisor.
type RESTService struct {
	app             *fiber.App
	addr            string
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

func NewRESTService(app *fiber.App, addr string, shutdownTimeout time.Duration, logger zerolog.Logger) *RESTService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &RESTService{app: app, addr: addr, shutdownTimeout: shutdownTimeout, logger: logger}
}

func (s *RESTService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("starting fiber server")
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("fiber server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(s.shutdownTimeout); err != nil {
			return fmt.Errorf("fiber server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *RESTService) String() string { return "rest-server" }

// GRPCService runs a grpc.Server under a suture supervisor.
type GRPCService struct {
	server          *grpc.Server
	addr            string
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

func NewGRPCService(server *grpc.Server, addr string, shutdownTimeout time.Duration, logger zerolog.Logger) *GRPCService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &GRPCService{server: server, addr: addr, shutdownTimeout: shutdownTimeout, logger: logger}
}

func (s *GRPCService) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("starting gRPC server")
		errCh <- s.server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			s.server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(s.shutdownTimeout):
			s.server.Stop()
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *GRPCService) String() string { return "grpc-server" }

// ModelWarmup loads the models once in the background so the first request
// does not pay for it.
type ModelWarmup struct {
	load   func(ctx context.Context) error
	logger zerolog.Logger
}

func NewModelWarmup(load func(ctx context.Context) error, logger zerolog.Logger) *ModelWarmup {
	return &ModelWarmup{load: load, logger: logger}
}

func (w *ModelWarmup) Serve(ctx context.Context) error {
	if err := w.load(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("model warmup finished without handles")
	}
	return suture.ErrDoNotRestart
}

func (w *ModelWarmup) String() string { return "model-warmup" }
