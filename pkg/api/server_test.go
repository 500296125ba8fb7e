package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/waveq/waveq-engine/pkg/audio"
	"github.com/waveq/waveq-engine/pkg/blob"
	"github.com/waveq/waveq-engine/pkg/catalog"
	"github.com/waveq/waveq-engine/pkg/engine"
	"github.com/waveq/waveq-engine/pkg/metrics"
	"github.com/waveq/waveq-engine/pkg/models"
	"github.com/waveq/waveq-engine/pkg/pipeline"
	"github.com/waveq/waveq-engine/pkg/retry"
	"github.com/waveq/waveq-engine/pkg/scheduler"
	"github.com/waveq/waveq-engine/pkg/status"
	"github.com/waveq/waveq-engine/pkg/store"
)

type testServer struct {
	server *Server
	store  store.Store
	blobs  *blob.Local
	engine *engine.Engine
	broker *status.Broker
	met    *metrics.Metrics
}

func newTestServer(t *testing.T, clientLimit int, started bool) *testServer {
	t.Helper()
	log := zap.NewNop()

	blobs, err := blob.NewLocal(t.TempDir(), log)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	cat := catalog.New()
	if err := catalog.BindDefaults(cat, blobs); err != nil {
		t.Fatalf("bind defaults: %v", err)
	}
	st := store.NewMemoryStore()
	sched := scheduler.New(st, log, clientLimit)
	broker := status.NewBroker(log)
	t.Cleanup(func() { broker.Close() })
	pub := status.NewPublisher(broker)
	pipe := pipeline.New(cat, blobs, st, pub, log, pipeline.Config{
		OpTimeout: 5 * time.Second,
		Retry:     retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	})
	met := metrics.New()
	eng := engine.New(cat, st, sched, pipe, blobs, pub, met, log, engine.Config{Workers: 2})
	if started {
		if err := eng.Start(); err != nil {
			t.Fatalf("engine start: %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			eng.Stop(ctx)
		})
	}

	// Stage a source every test can reference.
	buf := &audio.Buffer{SampleRate: 8000, Channels: 1, Format: "wav"}
	buf.Samples = make([]float64, 4000)
	for i := range buf.Samples {
		buf.Samples[i] = 0.2
	}
	if err := blobs.PutSource(context.Background(), "in.wav", buf); err != nil {
		t.Fatalf("stage source: %v", err)
	}

	srv, err := NewServer(eng, broker, met, nil, log, Config{ListenAddr: ":0"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testServer{server: srv, store: st, blobs: blobs, engine: eng, broker: broker, met: met}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func submitBody(ops ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"client_id":    "client-a",
		"audio_source": "in.wav",
		"operations":   ops,
	}
}

func normalizeOp() map[string]interface{} {
	return map[string]interface{}{"kind": "normalize", "parameters": map[string]interface{}{"target_db": -20}}
}

func decodeRequest(t *testing.T, rec *httptest.ResponseRecorder) *models.EditRequest {
	t.Helper()
	var req models.EditRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return &req
}

func waitStatus(t *testing.T, st store.Store, id string, want models.RequestStatus) *models.EditRequest {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req, err := st.Get(id)
		if err == nil && req.Status == want {
			return req
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request %s never reached %s", id, want)
	return nil
}

func TestSubmitAccepted(t *testing.T) {
	ts := newTestServer(t, 0, true)

	rec := ts.do(t, http.MethodPost, "/api/requests", submitBody(normalizeOp()))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	req := decodeRequest(t, rec)
	if req.ID == "" {
		t.Fatal("no id assigned")
	}

	done := waitStatus(t, ts.store, req.ID, models.StatusCompleted)
	if done.ResultRef == "" {
		t.Error("completed without result_ref")
	}
}

func TestSubmitBadJSON(t *testing.T) {
	ts := newTestServer(t, 0, false)
	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitValidationErrorDetails(t *testing.T) {
	ts := newTestServer(t, 0, false)

	rec := ts.do(t, http.MethodPost, "/api/requests", submitBody(
		normalizeOp(),
		map[string]interface{}{"kind": "speed_change", "parameters": map[string]interface{}{"factor": 99}},
	))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Error errorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", body.Error.Code)
	}
	if body.Error.OpIndex == nil || *body.Error.OpIndex != 1 || body.Error.OpKind != "speed_change" {
		t.Errorf("location = %+v", body.Error)
	}
}

func TestSubmitAdmissionLimit(t *testing.T) {
	ts := newTestServer(t, 1, false)

	if rec := ts.do(t, http.MethodPost, "/api/requests", submitBody(normalizeOp())); rec.Code != http.StatusAccepted {
		t.Fatalf("first submit = %d", rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/api/requests", submitBody(normalizeOp()))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit = %d, want 429", rec.Code)
	}
}

func TestGetUnknownRequest(t *testing.T) {
	ts := newTestServer(t, 0, false)
	rec := ts.do(t, http.MethodGet, "/api/requests/REQ-999999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	ts := newTestServer(t, 0, false)

	first := decodeRequest(t, ts.do(t, http.MethodPost, "/api/requests", submitBody(normalizeOp())))
	ts.do(t, http.MethodPost, "/api/requests", submitBody(normalizeOp()))
	if rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%s/cancel", first.ID), nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/requests?status=queued", nil)
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("queued count = %d, want 1", body.Count)
	}
}

func TestCancelIsIdempotentOverHTTP(t *testing.T) {
	ts := newTestServer(t, 0, false)
	req := decodeRequest(t, ts.do(t, http.MethodPost, "/api/requests", submitBody(normalizeOp())))

	path := fmt.Sprintf("/api/requests/%s/cancel", req.ID)
	if rec := ts.do(t, http.MethodPost, path, nil); rec.Code != http.StatusOK {
		t.Fatalf("first cancel = %d", rec.Code)
	}
	rec := ts.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second cancel = %d, want 200", rec.Code)
	}
	if got := decodeRequest(t, rec); got.Status != models.StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
}

func TestDeleteLifecycle(t *testing.T) {
	ts := newTestServer(t, 0, false)
	req := decodeRequest(t, ts.do(t, http.MethodPost, "/api/requests", submitBody(normalizeOp())))

	// Active requests cannot be deleted.
	if rec := ts.do(t, http.MethodDelete, "/api/requests/"+req.ID, nil); rec.Code != http.StatusConflict {
		t.Fatalf("delete active = %d, want 409", rec.Code)
	}

	ts.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%s/cancel", req.ID), nil)
	if rec := ts.do(t, http.MethodDelete, "/api/requests/"+req.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete terminal = %d, want 204", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/requests/"+req.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", rec.Code)
	}
}

func TestListOperationsCatalog(t *testing.T) {
	ts := newTestServer(t, 0, false)
	rec := ts.do(t, http.MethodGet, "/api/operations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Operations []operationDoc `json:"operations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Operations) != 13 {
		t.Errorf("operations = %d, want 13", len(body.Operations))
	}
	seen := map[string]bool{}
	for _, op := range body.Operations {
		seen[op.Kind] = true
	}
	for _, kind := range []string{"trim", "split", "merge", "normalize", "convert_format"} {
		if !seen[kind] {
			t.Errorf("catalog missing %s", kind)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, 0, false)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	var report healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if report.Status != "healthy" {
		t.Errorf("status = %s", report.Status)
	}

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "waveq_") {
		t.Error("metrics exposition missing engine collectors")
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0, false)
	ts.do(t, http.MethodPost, "/api/requests", submitBody(normalizeOp()))

	rec := ts.do(t, http.MethodGet, "/api/queue", nil)
	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 {
		t.Errorf("total = %d, want 1", body.Total)
	}
}

func TestAPIKeyGate(t *testing.T) {
	ts := newTestServer(t, 0, false)
	srv, err := NewServer(ts.engine, ts.broker, ts.met, nil, zap.NewNop(),
		Config{ListenAddr: ":0", APIKeys: []string{"secret"}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	send := func(decorate func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
		decorate(req)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		return rec
	}

	if rec := send(func(r *http.Request) {}); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := send(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong")
	}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := send(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret")
	}); rec.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Probes stay open regardless of auth.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want %d", rec.Code, http.StatusOK)
	}
}
