// Package server exposes the producer over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/digestpipe/internal/pipeline"
)

// DefaultRequestTimeout bounds a produce request when none is configured.
const DefaultRequestTimeout = 30 * time.Second

// Producer is the operation served on /produce. *pipeline.Producer implements it.
type Producer interface {
	Produce(ctx context.Context, params pipeline.Params) (pipeline.ProduceResult, error)
}

// Server routes HTTP requests to the producer.
type Server struct {
	mux            *http.ServeMux
	producer       Producer
	log            logrus.FieldLogger
	metrics        http.Handler
	requestTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRequestTimeout bounds each produce call. Values <= 0 keep the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// New creates a Server for p.
func New(p Producer, opts ...Option) *Server {
	s := &Server{
		mux:            http.NewServeMux(),
		producer:       p,
		log:            logrus.StandardLogger(),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /produce", s.handleProduce)
	s.mux.HandleFunc("POST /produce", s.handleProduce)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleProduce(w http.ResponseWriter, r *http.Request) {
	// Form values merge the query string with a urlencoded POST body.
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	params := pipeline.ParseParams(r.Form)

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	result, err := s.producer.Produce(ctx, params)
	if err != nil {
		status, code := statusFor(err)
		s.log.WithFields(logrus.Fields{
			"batch_size": params.BatchSize,
			"status":     status,
		}).WithError(err).Error("produce failed")
		writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) (int, string) {
	var pe *pipeline.PipelineError
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError, ""
	}
	switch pe.Code {
	case pipeline.CodeTransient:
		return http.StatusServiceUnavailable, string(pe.Code)
	case pipeline.CodeMalformed:
		return http.StatusBadRequest, string(pe.Code)
	default:
		return http.StatusInternalServerError, string(pe.Code)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves s on addr until ctx is cancelled, then shuts down
// gracefully. ready, if non-nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.requestTimeout + 5*time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.log.WithField("addr", ln.Addr().String()).Info("http server listening")
	if ready != nil {
		ready <- ln.Addr()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
