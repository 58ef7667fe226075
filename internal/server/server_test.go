package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/digestpipe/internal/logging"
	"github.com/roach88/digestpipe/internal/metrics"
	"github.com/roach88/digestpipe/internal/pipeline"
	"github.com/roach88/digestpipe/internal/testutil"
)

// stubProducer records the params it was called with.
type stubProducer struct {
	got pipeline.Params
	err error
}

func (p *stubProducer) Produce(_ context.Context, params pipeline.Params) (pipeline.ProduceResult, error) {
	p.got = params
	if p.err != nil {
		return pipeline.ProduceResult{}, p.err
	}
	return pipeline.ProduceResult{Requested: params.BatchSize, Accepted: params.BatchSize, IDs: []string{"a"}}, nil
}

func newTestServer(p Producer, opts ...Option) *Server {
	return New(p, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestProduce_QueryParams(t *testing.T) {
	p := &stubProducer{}
	s := newTestServer(p)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/produce?document_length=10&target_iterations=2&batch_size=3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, pipeline.Params{DocumentLength: 10, TargetIterations: 2, BatchSize: 3}, p.got)

	var res pipeline.ProduceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3, res.Accepted)
}

func TestProduce_InvalidParamsFallBack(t *testing.T) {
	p := &stubProducer{}
	s := newTestServer(p)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/produce?batch_size=9999&document_length=x", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.DefaultParams(), p.got)
}

func TestProduce_PostForm(t *testing.T) {
	p := &stubProducer{}
	s := newTestServer(p)

	req := httptest.NewRequest(http.MethodPost, "/produce", strings.NewReader("batch_size=7"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, p.got.BatchSize)
}

func TestProduce_ErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{pipeline.NewTransientError(pipeline.StageProducer, "down", nil), http.StatusServiceUnavailable, "TRANSIENT_FAILURE"},
		{pipeline.NewMalformedError(pipeline.StageProducer, "bad", nil), http.StatusBadRequest, "MALFORMED_RECORD"},
		{pipeline.NewLogicFault(pipeline.StageProducer, "bug", nil), http.StatusInternalServerError, "LOGIC_FAULT"},
		{errors.New("plain"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status, tt.code), func(t *testing.T) {
			s := newTestServer(&stubProducer{err: tt.err})
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/produce", nil))

			assert.Equal(t, tt.status, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(&stubProducer{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/produce", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&stubProducer{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(&stubProducer{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics are only served when configured")

	m := metrics.New()
	s = newTestServer(&stubProducer{}, WithMetrics(m.Handler()))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProduce_RealProducer(t *testing.T) {
	l := testutil.OpenLog(t)
	p := pipeline.NewProducer(l, pipeline.ProducerConfig{Topic: "ingest"})
	s := newTestServer(p)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/produce?batch_size=4&document_length=8", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res pipeline.ProduceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 4, res.Accepted)
	assert.Len(t, res.IDs, 4)

	high, err := l.HighWater(context.Background(), "ingest")
	require.NoError(t, err)
	assert.Equal(t, int64(4), high)
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(&stubProducer{})
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0", ready) }()

	addr := <-ready
	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
