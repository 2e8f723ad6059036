// Package server exposes the Chameleon transformer over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/lsm/chameleon/internal/batch"
	"github.com/lsm/chameleon/internal/correlation"
	"github.com/lsm/chameleon/internal/dlq"
	"github.com/lsm/chameleon/internal/event"
	"github.com/lsm/chameleon/internal/observability"
)

// Routes served by the transform handler.
const (
	PathProcess = "/v0/destinations/chameleon"
	PathRouter  = "/routerTransform"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 10 << 20

// Server handles transform requests.
type Server struct {
	processor    *batch.Processor
	dlq          *dlq.Handler
	logger       *slog.Logger
	metrics      *observability.Metrics
	limiter      atomic.Pointer[rate.Limiter]
	maxBodyBytes int64
	tp           trace.TracerProvider

	httpServer *http.Server
	ListenAddr string
	ready      chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables rate-limit accounting.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDLQ forwards failed events in the background once the response is
// written.
func WithDLQ(h *dlq.Handler) Option {
	return func(s *Server) { s.dlq = h }
}

// WithRateLimit limits transform requests. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.SetRateLimit(rps, burst) }
}

// WithMaxBodyBytes caps request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithTracerProvider sets the provider used by the HTTP instrumentation.
// The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tp = tp }
}

// New creates a server around processor.
func New(processor *batch.Processor, opts ...Option) *Server {
	s := &Server{
		processor:    processor,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
		ready:        make(chan struct{}),
	}
	s.SetRateLimit(0, 0)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRateLimit swaps in a fresh limiter with a full bucket. Safe for
// concurrent use.
func (s *Server) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		s.limiter.Store(rate.NewLimiter(rate.Inf, 0))
		return
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	s.limiter.Store(rate.NewLimiter(rate.Limit(rps), burst))
}

// Handler returns the instrumented transform handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathProcess, s.transformHandler(batch.ModeProcess))
	mux.HandleFunc(PathRouter, s.transformHandler(batch.ModeRouter))

	var otelOpts []otelhttp.Option
	if s.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(s.tp))
	}
	return otelhttp.NewHandler(mux, "chameleon", otelOpts...)
}

func (s *Server) transformHandler(mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := correlation.FromHeaders(r.Header)
		w.Header().Set(correlation.HeaderXCorrelationID, id.Value)
		ctx := correlation.WithID(r.Context(), id)
		logger := s.logger.With("correlation_id", id.Value, "path", r.URL.Path)

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if !s.limiter.Load().Allow() {
			if s.metrics != nil {
				s.metrics.RateLimited.Inc()
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		events, err := event.DecodeBatch(body)
		if err != nil {
			logger.WarnContext(ctx, "rejected transform request", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		var results []batch.Result
		if mode == batch.ModeRouter {
			results = s.processor.ProcessRouterDest(ctx, events)
		} else {
			results = s.processor.Process(ctx, events)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(results); err != nil {
			logger.ErrorContext(ctx, "write response failed", "error", err)
		}

		if s.dlq != nil {
			s.dlq.Dispatch(ctx, events, results, id.Value)
		}
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ListenAddr = lis.Addr().String()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("transform server starting", "addr", s.ListenAddr)
		close(s.ready)
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Close stops the HTTP server immediately.
func (s *Server) Close() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}
