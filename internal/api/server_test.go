package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphwriter/internal/config"
	"github.com/roach88/graphwriter/internal/graph"
	"github.com/roach88/graphwriter/internal/idempotency"
	"github.com/roach88/graphwriter/internal/metrics"
	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/queue"
	"github.com/roach88/graphwriter/internal/service"
	"github.com/roach88/graphwriter/internal/store"
	"github.com/roach88/graphwriter/internal/testutil"
)

const testRef model.ModelRef = "model-1"

type fakeSnapshots map[model.ModelRef]graph.CachedSnapshot

func (f fakeSnapshots) Snapshot(ref model.ModelRef) (graph.CachedSnapshot, bool) {
	s, ok := f[ref]
	return s, ok
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	server *Server
	queue  *queue.Queue
	deps   Deps
}

func setupTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFakeClock()

	q := queue.New(testutil.NewStubApplier(nil), queue.Config{SettleDelay: -1},
		queue.WithNow(clock.Now),
		queue.WithIDGenerator(testutil.NewSequentialIDs("op")),
		queue.WithLogger(logger),
	)
	t.Cleanup(q.Close)

	reg, err := idempotency.New(idempotency.DefaultConfig(), idempotency.WithNow(clock.Now))
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	deps := Deps{
		Service:  service.New(q, reg, service.WithLogger(logger), service.WithReservationObserver(m)),
		Queue:    q,
		Gatherer: promReg,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&deps)
	}
	cfg := config.Default().Server
	cfg.BodyLimit = 4096
	return &testServer{server: New(cfg, testRef, deps), queue: q, deps: deps}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const createBody = `{"changes":[{"op":"createElement","type":"business-actor","name":"Customer"}]}`

func TestSubmit_Accepted(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/operations", createBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	res := decode[service.SubmitResult](t, rec)
	assert.Equal(t, "op-1", res.OperationID)
	assert.Equal(t, model.StatusQueued, res.Status)

	rec = ts.do(t, http.MethodGet, "/operations/op-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	op := decode[model.Operation](t, rec)
	assert.Equal(t, model.StatusQueued, op.Status)
	assert.Equal(t, 1, op.ChangeCount)
	assert.Nil(t, op.StartedAt)
}

func TestSubmit_ReplayAndConflict(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/operations", createBody, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/operations", createBody, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[service.SubmitResult](t, rec)
	assert.True(t, res.Replayed)
	assert.Equal(t, "op-1", res.OperationID)

	other := `{"idempotencyKey":"k-1","changes":[{"op":"createView","name":"Main"}]}`
	rec = ts.do(t, http.MethodPost, "/operations", other)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeConflict, decode[errorResponse](t, rec).Error.Code)
}

func TestSubmit_RequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
		field  string
	}{
		{"invalid json", `{"changes":`, http.StatusBadRequest, CodeInvalidJSON, ""},
		{"no changes", `{"changes":[]}`, http.StatusBadRequest, CodeValidation, "changes"},
		{"bad strategy", `{"changes":[{"op":"x"}],"duplicateStrategy":"merge"}`, http.StatusBadRequest, CodeValidation, "duplicateStrategy"},
		{"missing op", `{"changes":[{"name":"x"}]}`, http.StatusBadRequest, CodeValidation, "changes[0].op"},
		{"bad key", `{"changes":[{"op":"x"}],"idempotencyKey":"a b"}`, http.StatusBadRequest, CodeValidation, "idempotencyKey"},
		{"too large", `{"changes":[{"op":"createElement","name":"` + strings.Repeat("x", 5000) + `"}]}`, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t, nil)
			rec := ts.do(t, http.MethodPost, "/operations", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[errorResponse](t, rec).Error
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.field, body.Field)
			assert.Equal(t, 0, ts.queue.Stats().Total)
		})
	}
}

func TestSubmit_QueueClosed(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.queue.Close()

	rec := ts.do(t, http.MethodPost, "/operations", createBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus_NotFound(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/operations/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode[errorResponse](t, rec).Error.Code)
}

func TestListAndStats(t *testing.T) {
	ts := setupTestServer(t, nil)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/operations", createBody).Code)
	}
	require.NoError(t, ts.queue.RunCycle(context.Background(), queue.ProcessorHooks{ModelRef: testRef}))

	rec := ts.do(t, http.MethodGet, "/operations?limit=2&summary=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[queue.ListPage](t, rec)
	assert.Len(t, page.Operations, 2)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, 2, *page.NextCursor)
	assert.Nil(t, page.Operations[0].Timeline)

	rec = ts.do(t, http.MethodGet, "/operations?status=complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[queue.ListPage](t, rec).Total)

	rec = ts.do(t, http.MethodGet, "/operations?status=paused", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/operations/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, queue.Stats{Completed: 3, Total: 3}, decode[queue.Stats](t, rec))
}

func TestSnapshot(t *testing.T) {
	ts := setupTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/model/snapshot", "").Code)

	snaps := fakeSnapshots{testRef: {
		Snapshot: store.Snapshot{ModelRef: string(testRef), Elements: []store.Element{{ID: "e1", Type: "t", Name: "n"}}},
		Version:  4,
	}}
	ts = setupTestServer(t, func(d *Deps) { d.Snapshots = snaps })

	rec := ts.do(t, http.MethodGet, "/model/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[graph.CachedSnapshot](t, rec)
	assert.Equal(t, int64(4), got.Version)
	require.Len(t, got.Elements, 1)
	assert.Equal(t, "e1", got.Elements[0].ID)
}

func TestHealthz(t *testing.T) {
	ts := setupTestServer(t, func(d *Deps) { d.Health = fakePinger{} })
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)

	ts = setupTestServer(t, func(d *Deps) { d.Health = fakePinger{err: errors.New("disk gone")} })
	rec = ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "disk gone", decode[healthResponse](t, rec).Store)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodPost, "/operations", createBody, IdempotencyKeyHeader, "k-1")

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `graphwriter_idempotency_reservations_total{outcome="new"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	ts := setupTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeRouteNotFound, decode[errorResponse](t, rec).Error.Code)
}
