package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/HelloWorldImJoe/v2ex-tx2json/client"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/cache"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/db"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/explorer"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/metrics"
	natspkg "github.com/HelloWorldImJoe/v2ex-tx2json/service/nats"
)

const (
	maxExtractBodySize = client.MaxBodySize
	defaultListLimit   = 100
	maxListLimit       = 1000

	// SourceHeader reports where a transaction response came from.
	SourceHeader = "X-Record-Source"
)

// handleGetTransaction returns a handler that resolves a transaction id to a record.
// GET /api/v1/transactions/{tx}?refresh=true
//
// Lookups go cache, then store, then the explorer. A freshly fetched record is
// cached, persisted and published; failures of the latter two are only logged.
func handleGetTransaction(fetcher RecordFetcher, store RecordStore, recordCache *cache.RecordCache, publisher natspkg.Publisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tx := r.PathValue("tx")
		requestID := RequestIDFromContext(ctx)

		if err := client.ValidateSignature(tx); err != nil {
			logger.DebugContext(ctx, "invalid transaction id", "tx", tx, "error", err, "request_id", requestID)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		refresh := false
		if raw := r.URL.Query().Get("refresh"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, "invalid refresh parameter: must be a boolean", http.StatusBadRequest)
				return
			}
			refresh = v
		}

		if refresh {
			// A failed refetch must not leave the stale record served from cache.
			recordCache.Remove(tx)
		} else {
			if rec, ok := recordCache.Get(tx); ok {
				w.Header().Set(SourceHeader, "cache")
				writeJSON(w, rec, http.StatusOK)
				return
			}

			if store != nil {
				stored, err := store.GetRecord(ctx, tx)
				switch {
				case err == nil:
					recordCache.Add(tx, stored.Record)
					w.Header().Set(SourceHeader, "store")
					writeJSON(w, stored.Record, http.StatusOK)
					return
				case !errors.Is(err, db.ErrNotFound):
					logger.WarnContext(ctx, "failed to read stored record, fetching instead",
						"tx", tx, "error", err, "request_id", requestID)
				}
			}
		}

		rec, err := fetcher.Parse(ctx, tx)
		if err != nil {
			status := statusForError(err)
			logger.InfoContext(ctx, "failed to resolve transaction",
				"tx", tx, "status", status, "error", err, "request_id", requestID)
			writeError(w, err.Error(), status)
			return
		}

		recordCache.Add(tx, rec)
		persistAndPublish(context.WithoutCancel(ctx), rec, "fetch", store, publisher, logger)

		logger.DebugContext(ctx, "transaction resolved", "tx", tx, "request_id", requestID)
		w.Header().Set(SourceHeader, "explorer")
		writeJSON(w, rec, http.StatusOK)
	})
}

// handleExtract returns a handler that extracts a record from caller-supplied HTML.
// POST /api/v1/extract?persist=true
func handleExtract(store RecordStore, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		persist := false
		if raw := r.URL.Query().Get("persist"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, "invalid persist parameter: must be a boolean", http.StatusBadRequest)
				return
			}
			persist = v
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxExtractBodySize)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		rec, err := explorer.Extract(string(body))
		m.RecordExtraction(err)
		if err != nil {
			logger.DebugContext(ctx, "extraction failed", "error", err, "request_id", RequestIDFromContext(ctx))
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		if persist {
			persistAndPublish(context.WithoutCancel(ctx), rec, "extract", store, publisher, logger)
		}

		writeJSON(w, rec, http.StatusOK)
	})
}

// handleListRecords returns a handler that lists stored records along with the
// total number stored.
// GET /api/v1/records?limit=N&offset=N
func handleListRecords(store RecordStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "record store not configured", http.StatusServiceUnavailable)
			return
		}

		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		records, err := store.ListRecords(r.Context(), limit, offset)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list records", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		total, err := store.CountRecords(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to count records", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.DebugContext(r.Context(), "records listed", "count", len(records), "total", total)

		writeJSON(w, map[string]any{
			"records": records,
			"count":   len(records),
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

// handleListRecordsByTopic returns a handler that lists stored records whose memo references a topic.
// GET /api/v1/records/topic/{topic_id}
func handleListRecordsByTopic(store RecordStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "record store not configured", http.StatusServiceUnavailable)
			return
		}

		topicID, err := parseTopicID(r.PathValue("topic_id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		records, err := store.ListRecordsByTopic(r.Context(), topicID)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list records by topic", "topic_id", topicID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{
			"topic_id": topicID,
			"records":  records,
			"count":    len(records),
		}, http.StatusOK)
	})
}

// persistAndPublish stores and fans out a record. Both steps are best-effort.
func persistAndPublish(ctx context.Context, rec explorer.Record, source string, store RecordStore, publisher natspkg.Publisher, logger *slog.Logger) {
	if store != nil {
		if _, err := store.UpsertRecord(ctx, rec); err != nil {
			logger.WarnContext(ctx, "failed to persist record", "tx_hash", rec.TxHash, "error", err)
		}
	}
	if publisher != nil {
		if err := publisher.PublishRecord(ctx, natspkg.FromRecord(rec, source)); err != nil {
			logger.WarnContext(ctx, "failed to publish record", "tx_hash", rec.TxHash, "error", err)
		}
	}
}

// statusForError maps resolution failures to HTTP statuses. Fetch failures are
// checked first so a collaborator error is never reported as a parse failure.
func statusForError(err error) int {
	switch {
	case errors.Is(err, client.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, explorer.ErrParse):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parsePagination(r *http.Request) (int32, int32, error) {
	query := r.URL.Query()

	limit := int32(defaultListLimit)
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if v < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if v > maxListLimit {
			return 0, 0, errorf("limit cannot exceed %d", maxListLimit)
		}
		limit = int32(v)
	}

	offset := int32(0)
	if raw := query.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if v < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
		if v > 1<<31-1 {
			return 0, 0, errorf("offset too large")
		}
		offset = int32(v)
	}

	return limit, offset, nil
}

func parseTopicID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, errorf("invalid topic id %q: must be a non-negative integer", raw)
	}
	return id, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
