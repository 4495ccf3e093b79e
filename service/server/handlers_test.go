package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/HelloWorldImJoe/v2ex-tx2json/client"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/cache"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/db"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/explorer"
	natspkg "github.com/HelloWorldImJoe/v2ex-tx2json/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTx = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

const samplePage = `<table>
<tr><td>交易哈希</td><td>` + validTx + `</td></tr>
<tr><td>发送方</td><td><img src="https://cdn.v2ex.com/a.png" alt="alice" data-uid="1">alice</td></tr>
<tr><td>接收方</td><td>bob</td></tr>
<tr><td>数额</td><td>12.5 V2EX</td></tr>
<tr><td>Memo</td><td>topic: 77</td></tr>
</table>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

type fakeFetcher struct {
	mu    sync.Mutex
	rec   explorer.Record
	err   error
	calls int
}

func (f *fakeFetcher) Parse(ctx context.Context, tx string) (explorer.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return explorer.Record{}, f.err
	}
	return f.rec, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memStore struct {
	mu       sync.Mutex
	records  map[string]explorer.Record
	order    []string
	err      error
	countErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]explorer.Record)}
}

func (s *memStore) UpsertRecord(ctx context.Context, rec explorer.Record) (*db.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if _, ok := s.records[rec.TxHash]; !ok {
		s.order = append(s.order, rec.TxHash)
	}
	s.records[rec.TxHash] = rec
	return &db.StoredRecord{Record: rec}, nil
}

func (s *memStore) GetRecord(ctx context.Context, txHash string) (*db.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[txHash]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &db.StoredRecord{Record: rec}, nil
}

func (s *memStore) ListRecords(ctx context.Context, limit, offset int32) ([]*db.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*db.StoredRecord, 0)
	for i := int(offset); i < len(s.order) && len(out) < int(limit); i++ {
		out = append(out, &db.StoredRecord{Record: s.records[s.order[i]]})
	}
	return out, nil
}

func (s *memStore) ListRecordsByTopic(ctx context.Context, topicID int64) ([]*db.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*db.StoredRecord, 0)
	for _, h := range s.order {
		rec := s.records[h]
		if rec.TopicID != nil && *rec.TopicID == topicID {
			out = append(out, &db.StoredRecord{Record: rec})
		}
	}
	return out, nil
}

func (s *memStore) CountRecords(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return int64(len(s.records)), nil
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type testEnv struct {
	fetcher   *fakeFetcher
	store     *memStore
	cache     *cache.RecordCache
	publisher *natspkg.MockPublisher
	handler   http.Handler
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()

	topic := int64(77)
	env := &testEnv{
		fetcher: &fakeFetcher{rec: explorer.Record{
			TxHash:  validTx,
			Sender:  explorer.Identity{Username: strPtr("alice")},
			Memo:    strPtr("topic: 77"),
			TopicID: &topic,
		}},
		publisher: natspkg.NewMockPublisher(),
	}

	c, err := cache.New(16, nil)
	require.NoError(t, err)
	env.cache = c

	var store RecordStore
	if withStore {
		env.store = newMemStore()
		store = env.store
	}

	env.handler = New(":0", env.fetcher, store, env.cache, env.publisher, nil, testLogger()).Handler()
	return env
}

func (e *testEnv) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestGetTransaction_FetchesAndFansOut(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "explorer", w.Header().Get(SourceHeader))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got explorer.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, validTx, got.TxHash)
	assert.Equal(t, "alice", *got.Sender.Username)

	assert.Equal(t, 1, env.store.Len())
	assert.Equal(t, 1, env.cache.Len())
	events := env.publisher.GetPublishedEventsForSubject("txrecords.77")
	require.Len(t, events, 1)
	assert.Equal(t, "fetch", events[0].Source)
}

func TestGetTransaction_CacheHit(t *testing.T) {
	env := newTestEnv(t, false)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil).Code)
	w := env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cache", w.Header().Get(SourceHeader))
	assert.Equal(t, 1, env.fetcher.Calls())
}

func TestGetTransaction_StoreHit(t *testing.T) {
	env := newTestEnv(t, true)
	_, err := env.store.UpsertRecord(context.Background(), explorer.Record{TxHash: validTx, Memo: strPtr("stored")})
	require.NoError(t, err)

	w := env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "store", w.Header().Get(SourceHeader))
	assert.Contains(t, w.Body.String(), "stored")
	assert.Equal(t, 0, env.fetcher.Calls())
	assert.Equal(t, 1, env.cache.Len())
}

func TestGetTransaction_StoreErrorFallsBackToFetch(t *testing.T) {
	env := newTestEnv(t, true)
	env.store.err = errors.New("connection refused")

	w := env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "explorer", w.Header().Get(SourceHeader))
	assert.Equal(t, 1, env.fetcher.Calls())
	assert.Equal(t, 1, env.publisher.GetPublishedEventCount())
}

func TestGetTransaction_Refresh(t *testing.T) {
	env := newTestEnv(t, true)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil).Code)
	w := env.do(http.MethodGet, "/api/v1/transactions/"+validTx+"?refresh=true", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "explorer", w.Header().Get(SourceHeader))
	assert.Equal(t, 2, env.fetcher.Calls())

	w = env.do(http.MethodGet, "/api/v1/transactions/"+validTx+"?refresh=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTransaction_FailedRefreshEvictsCache(t *testing.T) {
	env := newTestEnv(t, false)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil).Code)
	require.Equal(t, 1, env.cache.Len())

	env.fetcher.err = &client.FetchError{StatusCode: http.StatusServiceUnavailable, Reason: "unexpected status"}
	w := env.do(http.MethodGet, "/api/v1/transactions/"+validTx+"?refresh=true", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 0, env.cache.Len())

	// The next plain lookup goes back to the explorer instead of the stale entry.
	env.fetcher.err = nil
	w = env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "explorer", w.Header().Get(SourceHeader))
	assert.Equal(t, 3, env.fetcher.Calls())
}

func TestGetTransaction_StatusMapping(t *testing.T) {
	tests := []struct {
		name           string
		tx             string
		err            error
		expectedStatus int
	}{
		{
			name:           "invalid signature",
			tx:             "not-a-signature",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "fetch failure",
			tx:             validTx,
			err:            &client.FetchError{StatusCode: http.StatusServiceUnavailable, Reason: "unexpected status"},
			expectedStatus: http.StatusBadGateway,
		},
		{
			name:           "parse failure",
			tx:             validTx,
			err:            &explorer.ParseError{Reason: "transaction hash not found in HTML"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "unexpected failure",
			tx:             validTx,
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)
			env.fetcher.err = tt.err

			w := env.do(http.MethodGet, "/api/v1/transactions/"+tt.tx, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])

			assert.Equal(t, 0, env.store.Len())
			assert.Equal(t, 0, env.publisher.GetPublishedEventCount())
		})
	}
}

func TestGetTransaction_PublishFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, true)
	env.publisher.SetPublishError(errors.New("nats down"))

	w := env.do(http.MethodGet, "/api/v1/transactions/"+validTx, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.store.Len())
}

func TestExtract(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodPost, "/api/v1/extract", strings.NewReader(samplePage))
	require.Equal(t, http.StatusOK, w.Code)

	var got explorer.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, validTx, got.TxHash)
	assert.Equal(t, "alice", *got.Sender.Username)
	assert.Equal(t, "1", *got.Sender.UID)
	assert.Equal(t, "bob", *got.Receiver.Username)
	assert.Equal(t, 12.5, *got.AmountValue)
	assert.Equal(t, int64(77), *got.TopicID)

	assert.Equal(t, 0, env.store.Len(), "extract does not persist unless asked")
	assert.Equal(t, 0, env.publisher.GetPublishedEventCount())
}

func TestExtract_Persist(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodPost, "/api/v1/extract?persist=true", strings.NewReader(samplePage))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.store.Len())

	events := env.publisher.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "extract", events[0].Source)
	assert.Equal(t, []string{validTx}, env.publisher.PublishedTxHashes())
}

func TestExtract_Failures(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodPost, "/api/v1/extract", strings.NewReader("<html><body>nothing here</body></html>"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "transaction hash not found")

	big := strings.Repeat("a", int(maxExtractBodySize)+1)
	w = env.do(http.MethodPost, "/api/v1/extract", strings.NewReader(big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = env.do(http.MethodPost, "/api/v1/extract?persist=sometimes", strings.NewReader(samplePage))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRecords(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	for _, h := range []string{"a", "b", "c"} {
		_, err := env.store.UpsertRecord(ctx, explorer.Record{TxHash: h})
		require.NoError(t, err)
	}

	w := env.do(http.MethodGet, "/api/v1/records?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Records []explorer.Record `json:"records"`
		Count   int               `json:"count"`
		Total   int64             `json:"total"`
		Limit   int               `json:"limit"`
		Offset  int               `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, 1, resp.Offset)
	assert.Equal(t, "b", resp.Records[0].TxHash)
}

func TestListRecords_CountFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.store.countErr = errors.New("connection refused")

	w := env.do(http.MethodGet, "/api/v1/records", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListRecords_InvalidPagination(t *testing.T) {
	env := newTestEnv(t, true)

	for _, q := range []string{"limit=abc", "limit=0", "limit=1001", "offset=-1", "offset=x"} {
		w := env.do(http.MethodGet, "/api/v1/records?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListRecordsByTopic(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	t1, t2 := int64(1), int64(2)
	_, _ = env.store.UpsertRecord(ctx, explorer.Record{TxHash: "a", TopicID: &t1})
	_, _ = env.store.UpsertRecord(ctx, explorer.Record{TxHash: "b", TopicID: &t2})

	w := env.do(http.MethodGet, "/api/v1/records/topic/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = env.do(http.MethodGet, "/api/v1/records/topic/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecords_NoStore(t *testing.T) {
	env := newTestEnv(t, false)

	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/api/v1/records", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/api/v1/records/topic/1", nil).Code)
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = env.do(http.MethodOptions, "/api/v1/extract", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/health", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestStatusForError_WrappedErrors(t *testing.T) {
	fetchErr := &client.FetchError{Reason: "timeout", Err: context.DeadlineExceeded}
	assert.Equal(t, http.StatusBadGateway, statusForError(errors.Join(errors.New("tx x"), fetchErr)))
	assert.Equal(t, http.StatusUnprocessableEntity,
		statusForError(errors.Join(errors.New("tx x"), &explorer.ParseError{Reason: "empty"})))
}
