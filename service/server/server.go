package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/HelloWorldImJoe/v2ex-tx2json/service/cache"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/db"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/explorer"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/metrics"
	natspkg "github.com/HelloWorldImJoe/v2ex-tx2json/service/nats"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RecordFetcher retrieves a transaction page and extracts its record.
// *client.Client satisfies it.
type RecordFetcher interface {
	Parse(ctx context.Context, tx string) (explorer.Record, error)
}

// RecordStore is the subset of *db.Store the HTTP handlers use.
type RecordStore interface {
	UpsertRecord(ctx context.Context, rec explorer.Record) (*db.StoredRecord, error)
	GetRecord(ctx context.Context, txHash string) (*db.StoredRecord, error)
	ListRecords(ctx context.Context, limit, offset int32) ([]*db.StoredRecord, error)
	ListRecordsByTopic(ctx context.Context, topicID int64) ([]*db.StoredRecord, error)
	CountRecords(ctx context.Context) (int64, error)
}

// Server represents the HTTP server for the extraction service.
type Server struct {
	addr      string
	fetcher   RecordFetcher
	store     RecordStore
	cache     *cache.RecordCache
	publisher natspkg.Publisher
	stream    *RecordStream
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, records are neither persisted nor listable.
// The cache is optional - a nil cache always misses.
// The publisher is optional - if nil, extracted records are not fanned out.
// The metrics is optional - if nil, the metrics endpoint isn't registered.
func New(addr string, fetcher RecordFetcher, store RecordStore, recordCache *cache.RecordCache, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		fetcher:   fetcher,
		store:     store,
		cache:     recordCache,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// WithStream enables the SSE record streaming endpoints.
func (s *Server) WithStream(stream *RecordStream) *Server {
	s.stream = stream
	return s
}

// Handler builds the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	instrument := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Record routes
	mux.Handle("GET /api/v1/transactions/{tx}", instrument("/api/v1/transactions/{tx}",
		handleGetTransaction(s.fetcher, s.store, s.cache, s.publisher, s.logger)))
	mux.Handle("POST /api/v1/extract", instrument("/api/v1/extract",
		handleExtract(s.store, s.publisher, s.metrics, s.logger)))
	mux.Handle("GET /api/v1/records", instrument("/api/v1/records",
		handleListRecords(s.store, s.logger)))
	mux.Handle("GET /api/v1/records/topic/{topic_id}", instrument("/api/v1/records/topic/{topic_id}",
		handleListRecordsByTopic(s.store, s.logger)))

	// SSE streaming endpoints (if the record stream is configured)
	if s.stream != nil {
		mux.Handle("GET /api/v1/stream/records/{topic_id}", handleStreamRecords(s.stream, s.logger))
		mux.Handle("GET /api/v1/stream/records", handleStreamRecords(s.stream, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(requestIDMiddleware(s.logger)(mux))
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the stream first so SSE clients disconnect.
	if s.stream != nil {
		s.stream.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
