package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/hrygo/dualstore/internal/errors"
	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/store"
	"github.com/hrygo/dualstore/store/backend"
)

// stubBackend returns canned results and records the last request it saw.
type stubBackend struct {
	mu sync.Mutex

	fetched *backend.Fetched
	list    []*store.Record
	record  *store.Record
	err     error
	health  backend.Health

	lastFind    *store.FindRecord
	lastUpsert  *store.UpsertRecord
	lastDelete  *store.DeleteRecord
	hasDeadline bool
}

func (b *stubBackend) Mode() profile.BackendMode { return profile.ModeHybridCached }

func (b *stubBackend) Get(ctx context.Context, kind store.Kind, id string) (*backend.Fetched, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, b.hasDeadline = ctx.Deadline()
	return b.fetched, b.err
}

func (b *stubBackend) Find(_ context.Context, find *store.FindRecord) ([]*store.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFind = find
	return b.list, b.err
}

func (b *stubBackend) Upsert(_ context.Context, upsert *store.UpsertRecord) (*store.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUpsert = upsert
	return b.record, b.err
}

func (b *stubBackend) Delete(_ context.Context, delete *store.DeleteRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastDelete = delete
	return b.err
}

func (b *stubBackend) Ping(context.Context) backend.Health { return b.health }

func (b *stubBackend) Close() error { return nil }

var _ backend.Backend = (*stubBackend)(nil)

func newTestServer(t *testing.T, b backend.Backend) (*Server, *backend.Metrics) {
	t.Helper()
	p := &profile.Profile{Version: "test", RequestTimeout: 2 * time.Second}
	metrics := backend.NewMetrics("dualstore")
	s, err := NewServer(context.Background(), p, b, metrics)
	require.NoError(t, err)
	return s, metrics
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

var clientA = &store.Record{Kind: store.KindClient, ID: "1", Payload: json.RawMessage(`{"name":"A"}`), CreatedTs: 1, UpdatedTs: 2}

func TestGetRecord(t *testing.T) {
	t.Run("FromStore", func(t *testing.T) {
		b := &stubBackend{fetched: &backend.Fetched{Record: clientA, Source: backend.SourceStore}}
		s, _ := newTestServer(t, b)

		rec := doRequest(t, s, http.MethodGet, "/api/v1/records/client/1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "store", rec.Header().Get("X-Cache-Source"))
		assert.Empty(t, rec.Header().Get("Warning"))
		assert.JSONEq(t, `{"kind":"client","id":"1","payload":{"name":"A"},"created_ts":1,"updated_ts":2}`, rec.Body.String())
		assert.True(t, b.hasDeadline)
	})

	t.Run("Degraded", func(t *testing.T) {
		b := &stubBackend{fetched: &backend.Fetched{Record: clientA, Source: backend.SourceStale}}
		s, _ := newTestServer(t, b)

		rec := doRequest(t, s, http.MethodGet, "/api/v1/records/client/1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "stale", rec.Header().Get("X-Cache-Source"))
		assert.Equal(t, `110 - "Response is Stale"`, rec.Header().Get("Warning"))
	})

	t.Run("Errors", func(t *testing.T) {
		tests := []struct {
			name       string
			target     string
			err        error
			wantStatus int
			wantCode   string
			wantReason string
		}{
			{"NotFound", "/api/v1/records/client/1", derrors.NotFound("client \"1\" not found"), http.StatusNotFound, "NOT_FOUND", ""},
			{"InvalidArgument", "/api/v1/records/client/1", derrors.InvalidArgument("invalid record id"), http.StatusBadRequest, "INVALID_ARGUMENT", ""},
			{"Timeout", "/api/v1/records/client/1", derrors.BackendUnavailable(derrors.ReasonTimeout, "durable store get failed", context.DeadlineExceeded), http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "timeout"},
			{"Unreachable", "/api/v1/records/agent/x", derrors.BackendUnavailable(derrors.ReasonUnreachable, "durable store get failed", nil), http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "unreachable"},
			{"UnknownKind", "/api/v1/records/user/1", nil, http.StatusBadRequest, "INVALID_ARGUMENT", ""},
			{"Uncoded", "/api/v1/records/site/1", io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL", ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s, _ := newTestServer(t, &stubBackend{err: tt.err})

				rec := doRequest(t, s, http.MethodGet, tt.target, "")
				assert.Equal(t, tt.wantStatus, rec.Code)
				body := decodeError(t, rec)
				assert.Equal(t, tt.wantCode, body["code"])
				assert.Equal(t, tt.wantReason, body["reason"])
			})
		}
	})
}

func TestListRecords(t *testing.T) {
	b := &stubBackend{list: []*store.Record{clientA}}
	s, _ := newTestServer(t, b)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/records/client?match.name=A&match.plan=pro&limit=5&offset=10&other=x", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Records []*store.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, "1", body.Records[0].ID)

	require.NotNil(t, b.lastFind)
	assert.Equal(t, store.KindClient, b.lastFind.Kind)
	assert.Equal(t, map[string]string{"name": "A", "plan": "pro"}, b.lastFind.Match)
	assert.Equal(t, 5, b.lastFind.Limit)
	assert.Equal(t, 10, b.lastFind.Offset)

	t.Run("EmptyListIsArray", func(t *testing.T) {
		s, _ := newTestServer(t, &stubBackend{})
		rec := doRequest(t, s, http.MethodGet, "/api/v1/records/site", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"records":[]}`, rec.Body.String())
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		for _, query := range []string{"limit=abc", "limit=-1", "offset=x"} {
			rec := doRequest(t, s, http.MethodGet, "/api/v1/records/client?"+query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		}
	})
}

func TestUpsertRecord(t *testing.T) {
	b := &stubBackend{record: clientA}
	s, _ := newTestServer(t, b)

	rec := doRequest(t, s, http.MethodPut, "/api/v1/records/client/1", `{"name":"A"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, b.lastUpsert)
	assert.Equal(t, store.KindClient, b.lastUpsert.Kind)
	assert.Equal(t, "1", b.lastUpsert.ID)
	assert.JSONEq(t, `{"name":"A"}`, string(b.lastUpsert.Payload))

	t.Run("Unavailable", func(t *testing.T) {
		s, _ := newTestServer(t, &stubBackend{err: derrors.BackendUnavailable(derrors.ReasonUnreachable, "durable store upsert failed", nil)})
		rec := doRequest(t, s, http.MethodPut, "/api/v1/records/client/1", `{"name":"A"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})
}

func TestDeleteRecord(t *testing.T) {
	b := &stubBackend{}
	s, _ := newTestServer(t, b)

	rec := doRequest(t, s, http.MethodDelete, "/api/v1/records/site/wp-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, b.lastDelete)
	assert.Equal(t, store.KindSite, b.lastDelete.Kind)
	assert.Equal(t, "wp-1", b.lastDelete.ID)
}

func TestHealth(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		s, _ := newTestServer(t, &stubBackend{health: backend.Health{
			Mode:  profile.ModeHybridCached,
			Store: backend.StateReachable,
			Cache: backend.StateUnreachable,
		}})

		rec := doRequest(t, s, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "HYBRID_CACHED", body["mode"])
		assert.Equal(t, "unreachable", body["cache"])
		assert.Equal(t, "test", body["version"])
	})

	t.Run("StoreDown", func(t *testing.T) {
		s, _ := newTestServer(t, &stubBackend{health: backend.Health{
			Mode:       profile.ModeDirectOnly,
			Store:      backend.StateUnreachable,
			Cache:      backend.StateDisabled,
			StoreError: "connection refused",
		}})

		rec := doRequest(t, s, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"unavailable"`)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s, metrics := newTestServer(t, &stubBackend{})
	metrics.CacheLookups.WithLabelValues("hit").Inc()

	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dualstore_cache_lookups_total{result="hit"} 1`)
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/records/site", "")
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records/site", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(context.Background(), &profile.Profile{}, nil, nil)
	assert.Error(t, err)
}
