package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"tribune/internal/logger"
	"tribune/internal/pipeline"
	"tribune/internal/store/decisionlog"
	"tribune/internal/store/model"
	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	err    error
	seen   []string
	traces []string
}

func (f *fakePipeline) RunPipeline(ctx context.Context, sym string) (pipeline.Outcome, error) {
	f.seen = append(f.seen, sym)
	f.traces = append(f.traces, logger.TraceID(ctx))
	out := pipeline.Outcome{TraceID: "t-1", Symbol: sym, RejectedBy: pipeline.GateRisk, RejectionReason: "too big"}
	return out, f.err
}

func (f *fakePipeline) RunMany(ctx context.Context, symbols []string) ([]pipeline.Outcome, error) {
	outs := make([]pipeline.Outcome, 0, len(symbols))
	for _, s := range symbols {
		out, _ := f.RunPipeline(ctx, s)
		outs = append(outs, out)
	}
	return outs, f.err
}

type fakeOrders struct {
	orders    map[string]types.Order
	cancelled []string
}

func (f *fakeOrders) Get(id string) (types.Order, bool) {
	o, ok := f.orders[id]
	return o, ok
}

func (f *fakeOrders) List() []types.Order {
	out := make([]types.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out
}

func (f *fakeOrders) CancelOrder(_ context.Context, id string) bool {
	o, ok := f.orders[id]
	if !ok || o.Status != types.OrderStatusPending {
		return false
	}
	o.Status = types.OrderStatusCancelled
	f.orders[id] = o
	f.cancelled = append(f.cancelled, id)
	return true
}

type fakePortfolio struct{ snap types.PortfolioSnapshot }

func (f fakePortfolio) Snapshot() types.PortfolioSnapshot { return f.snap }

func newTestServer(t *testing.T, deps RouterDeps) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Deps: deps,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("tribune_up 1\n"))
		}),
	})
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, RouterDeps{Pipeline: &fakePipeline{}})
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	rec := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tribune_up")
}

func TestRequestIDPropagates(t *testing.T) {
	fp := &fakePipeline{}
	h := newTestServer(t, RouterDeps{Pipeline: fp})

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/AAPL", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))

	rec = do(h, http.MethodPost, "/api/pipeline/MSFT", "")
	generated := rec.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, []string{"req-42", generated}, fp.traces)
}

func TestRunPipelineReturnsOutcome(t *testing.T) {
	fp := &fakePipeline{}
	h := newTestServer(t, RouterDeps{Pipeline: fp})

	rec := do(h, http.MethodPost, "/api/pipeline/aapl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out pipeline.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "AAPL", out.Symbol)
	assert.Equal(t, pipeline.GateRisk, out.RejectedBy)
	assert.Equal(t, []string{"AAPL"}, fp.seen)
}

func TestRunPipelineInvariantIs500(t *testing.T) {
	fp := &fakePipeline{err: types.ErrInvariant}
	h := newTestServer(t, RouterDeps{Pipeline: fp})

	rec := do(h, http.MethodPost, "/api/pipeline/AAPL", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "invariant violation")
	assert.Contains(t, rec.Body.String(), "t-1")
}

func TestRunManyValidatesBody(t *testing.T) {
	fp := &fakePipeline{}
	h := newTestServer(t, RouterDeps{Pipeline: fp})

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/pipeline", `{"symbols":[]}`).Code)
	rec := do(h, http.MethodPost, "/api/pipeline", `{"symbols":["aapl","msft","AAPL"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"AAPL", "MSFT"}, fp.seen)
}

func TestOrderEndpoints(t *testing.T) {
	fo := &fakeOrders{orders: map[string]types.Order{
		"o-1": {ID: "o-1", Symbol: "AAPL", Status: types.OrderStatusPending},
		"o-2": {ID: "o-2", Symbol: "MSFT", Status: types.OrderStatusFilled},
	}}
	h := newTestServer(t, RouterDeps{Orders: fo})

	rec := do(h, http.MethodGet, "/api/orders/o-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"FILLED"`)

	rec = do(h, http.MethodGet, "/api/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")

	rec = do(h, http.MethodGet, "/api/orders?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_count":1`)

	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/orders/o-2/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/orders/nope/cancel", "").Code)
	rec = do(h, http.MethodPost, "/api/orders/o-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CANCELLED")
	assert.Equal(t, []string{"o-1"}, fo.cancelled)
}

type fakeEvents struct{ events []model.OrderEventModel }

func (f fakeEvents) ListOrderEvents(_ context.Context, id string) ([]model.OrderEventModel, error) {
	var out []model.OrderEventModel
	for _, e := range f.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestOrderEventsEndpoint(t *testing.T) {
	fo := &fakeOrders{orders: map[string]types.Order{
		"o-1": {ID: "o-1", Symbol: "AAPL", Status: types.OrderStatusFilled},
	}}
	ev := fakeEvents{events: []model.OrderEventModel{
		{OrderID: "o-1", FromStatus: "PENDING", ToStatus: "SUBMITTED"},
		{OrderID: "o-1", FromStatus: "SUBMITTED", ToStatus: "FILLED"},
	}}
	h := newTestServer(t, RouterDeps{Orders: fo, Events: ev})

	rec := do(h, http.MethodGet, "/api/orders/o-1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []model.OrderEventModel `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, "FILLED", body.Events[1].ToStatus)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/orders/nope/events", "").Code)
}

func TestPortfolioIncludesMetrics(t *testing.T) {
	snap := types.PortfolioSnapshot{
		TotalValue: 100000,
		Positions: map[string]types.Position{
			"AAPL": {Symbol: "AAPL", Quantity: 10, AvgPrice: 150, Sector: "Technology"},
		},
	}
	h := newTestServer(t, RouterDeps{Orders: &fakeOrders{}, Portfolio: fakePortfolio{snap: snap}})

	rec := do(h, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Snapshot types.PortfolioSnapshot `json:"snapshot"`
		Metrics  struct {
			TotalExposure float64 `json:"total_exposure"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1500.0, body.Metrics.TotalExposure)
	assert.Contains(t, body.Snapshot.Positions, "AAPL")
}

func TestDecisionEndpoints(t *testing.T) {
	logs, err := decisionlog.NewDecisionLogStore(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })
	ctx := context.Background()
	id, err := logs.Insert(ctx, decisionlog.Record{
		TraceID: "trace-a", Timestamp: time.Now().UnixMilli(), Symbol: "AAPL",
		Action: "BUY", Confidence: 1, RejectedBy: "compliance", Reason: "pdt",
	}, map[string]string{"k": "v"})
	require.NoError(t, err)

	h := newTestServer(t, RouterDeps{Pipeline: &fakePipeline{}, Logs: logs})

	rec := do(h, http.MethodGet, "/api/decisions?rejected_by=compliance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trace-a")

	rec = do(h, http.MethodGet, "/api/decisions/"+strconv.FormatInt(id, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"pdt"`)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/decisions/9999", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/decisions/abc", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/traces/trace-a", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/traces/missing", "").Code)

	rec = do(h, http.MethodGet, "/api/stats/gates?window=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Passed   int            `json:"passed"`
		Rejected map[string]int `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.Passed)
	assert.Equal(t, map[string]int{"compliance": 1}, stats.Rejected)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/stats/gates?window=soon", "").Code)
}
