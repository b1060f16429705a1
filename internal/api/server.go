// Package api exposes the backtest engine over HTTP (JSON, Server-Sent Events
// and WebSocket) and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
	"tradelab/internal/strategy"
	"tradelab/internal/stream"
)

// Engine runs and invalidates single backtests. *backtest.Engine satisfies it.
type Engine interface {
	Run(ctx context.Context, req backtest.Request) (*domain.BacktestResult, error)
	Invalidate(ctx context.Context, instrumentID string) (int, error)
	Instruments(ctx context.Context, interval domain.Interval) ([]string, error)
	Registry() *strategy.Registry
}

// Batcher runs multi-instrument batches. *stream.Coordinator satisfies it.
type Batcher interface {
	Stream(ctx context.Context, req stream.BatchRequest) (<-chan stream.Event, error)
	RunBatch(ctx context.Context, req stream.BatchRequest) (*stream.BatchResult, error)
}

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	engine  Engine
	batcher Batcher
	hub     *Hub
	log     *slog.Logger
}

// NewServer creates a Server backed by engine and batcher.
func NewServer(engine Engine, batcher Batcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, batcher: batcher, hub: NewHub(), log: logger.With("component", "api")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/v1/instruments", s.handleInstruments)
	mux.HandleFunc("POST /api/v1/backtests", s.handleRun)
	mux.HandleFunc("POST /api/v1/backtests/batch", s.handleBatch)
	mux.HandleFunc("POST /api/v1/backtests/stream", s.handleStream)
	mux.HandleFunc("GET /api/v1/backtests/ws", s.handleWebSocket)
	mux.HandleFunc("DELETE /api/v1/cache/{instrument}", s.handleInvalidate)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// GRPCServer returns a gRPC server with the backtest service registered.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	s.RegisterGRPC(gs)
	return gs
}

// ListenAndServe serves HTTP on httpAddr and, when grpcAddr is non-empty,
// gRPC on grpcAddr. It blocks until ctx is cancelled or a listener fails,
// then shuts both down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	hs := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	var (
		gs  *grpc.Server
		lis net.Listener
	)
	if grpcAddr != "" {
		var err error
		if lis, err = net.Listen("tcp", grpcAddr); err != nil {
			return fmt.Errorf("grpc listen %s: %w", grpcAddr, err)
		}
		gs = s.GRPCServer()
	}

	g, gctx := errgroup.WithContext(ctx)
	if gs != nil {
		g.Go(func() error {
			s.log.Info("grpc listening", "addr", grpcAddr)
			if err := gs.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.log.Info("http listening", "addr", httpAddr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if gs != nil {
			gs.GracefulStop()
		}
		s.hub.CloseAll()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown", "error", err)
		}
		s.log.Info("api stopped")
		return nil
	})

	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
