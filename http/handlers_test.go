package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"minedetect/mine"
	"minedetect/ml"
	"minedetect/monitoring"
	"minedetect/pipeline"
)

const fixture = "../pipeline/testdata/mines.csv"

type fakeDetector struct {
	detection *mine.Detection
	err       error
	params    mine.Parameters
}

func (f *fakeDetector) Detect(ctx context.Context, req mine.PredictionRequest) (*mine.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := *f.detection
	d.Request = req
	return &d, nil
}

func (f *fakeDetector) Parameters() mine.Parameters {
	return f.params
}

func (f *fakeDetector) Distribution() []mine.ClassSummary {
	return []mine.ClassSummary{{Class: 1, Name: "Null", Count: 3}}
}

type fakeAudit struct {
	detections []mine.Detection
	err        error
}

func (f *fakeAudit) Recent(ctx context.Context, limit int) ([]mine.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.detections) {
		return f.detections[:limit], nil
	}
	return f.detections, nil
}

func newTestServer(t *testing.T, detector Detector, history DetectionLog, audit AuditLog) http.Handler {
	t.Helper()
	handler := NewHandler(detector, history, audit, nil)
	return Routes(DefaultServerConfig(), handler, nil, nil)
}

func realDetector(t *testing.T, sinks ...mine.Sink) *mine.Detector {
	t.Helper()
	detector, err := mine.Build(mine.BuildConfig{
		Dataset:   pipeline.LoaderConfig{Path: fixture},
		ModelType: ml.ModelRandomForest,
		Forest:    ml.DefaultForestConfig(),
	}, mine.WithSinks(sinks...))
	if err != nil {
		t.Fatalf("build detector: %v", err)
	}
	return detector
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	h := newTestServer(t, &fakeDetector{params: mine.Parameters{Samples: 42}}, nil, nil)

	rr := do(t, h, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}

	expected := `{"samples":42,"status":"ok"}`
	if strings.TrimSpace(rr.Body.String()) != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestDetectHandler(t *testing.T) {
	history, err := monitoring.NewHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	detector := realDetector(t, history)
	h := newTestServer(t, detector, history, nil)

	params := detector.Parameters()
	body := fmt.Sprintf(`{"voltage":%g,"height":%g,"soil":0.4}`, params.Voltage.Default, params.Height.Default)
	rr := do(t, h, http.MethodPost, "/api/detect", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var got mine.Detection
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.Class < 1 || got.Class > 5 {
		t.Fatalf("class %d outside 1..5", got.Class)
	}
	if got.Name != mine.MineTypeMap()[got.Class] {
		t.Fatalf("name %q does not match class %d", got.Name, got.Class)
	}
	if got.Advisory.OutOfRange {
		t.Fatalf("midpoint flagged out of range: %+v", got.Advisory)
	}

	rr = do(t, h, http.MethodGet, "/api/detections/"+got.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("lookup by id: expected 200, got %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/api/detections/recent?limit=5", "")
	var recent []mine.Detection
	if err := json.Unmarshal(rr.Body.Bytes(), &recent); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != got.ID {
		t.Fatalf("unexpected history: %+v", recent)
	}
}

func TestDetectHandlerOutOfRange(t *testing.T) {
	h := newTestServer(t, realDetector(t), nil, nil)

	rr := do(t, h, http.MethodPost, "/api/detect", `{"voltage":50,"height":0.5,"soil":0.3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("out-of-range input must still be predicted, got %d", rr.Code)
	}
	var got mine.Detection
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Advisory.OutOfRange {
		t.Fatal("expected advisory")
	}
	if len(got.Advisory.Fields) != 2 || got.Advisory.Fields[0] != "voltage" || got.Advisory.Fields[1] != "soil" {
		t.Fatalf("unexpected fields: %v", got.Advisory.Fields)
	}
}

func TestDetectHandlerErrors(t *testing.T) {
	ok := &fakeDetector{detection: &mine.Detection{ID: "x", Class: 1, Name: "Null", Timestamp: time.Now()}}

	tests := []struct {
		name     string
		detector Detector
		body     string
		want     int
	}{
		{"malformed json", ok, `{"voltage":`, http.StatusBadRequest},
		{"missing field", ok, `{"voltage":0.5,"height":0.5}`, http.StatusBadRequest},
		{"wrong type", ok, `{"voltage":"high","height":0.5,"soil":0}`, http.StatusBadRequest},
		{"trailing data", ok, `{"voltage":0,"height":0,"soil":0} junk`, http.StatusBadRequest},
		{"second object", ok, `{"voltage":0,"height":0,"soil":0}{"voltage":1}`, http.StatusBadRequest},
		{"trailing whitespace", ok, "{\"voltage\":0,\"height\":0,\"soil\":0}\n", http.StatusOK},
		{"unknown field", ok, `{"voltage":0.5,"height":0.5,"soil":0,"depth":1}`, http.StatusBadRequest},
		{"invalid request", &fakeDetector{err: fmt.Errorf("%w: voltage", mine.ErrInvalidRequest)}, `{"voltage":0,"height":0,"soil":0}`, http.StatusBadRequest},
		{"not ready", &fakeDetector{err: ml.ErrPipelineNotReady}, `{"voltage":0,"height":0,"soil":0}`, http.StatusServiceUnavailable},
		{"unknown label", &fakeDetector{err: &mine.UnknownLabelError{Class: 9}}, `{"voltage":0,"height":0,"soil":0}`, http.StatusInternalServerError},
		{"zero values accepted", ok, `{"voltage":0,"height":0,"soil":0}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.detector, nil, nil)
			rr := do(t, h, http.MethodPost, "/api/detect", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
			if tt.want != http.StatusOK {
				var payload map[string]string
				if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
					t.Fatalf("expected error body, got %q", rr.Body.String())
				}
			}
		})
	}
}

func TestParametersAndDistribution(t *testing.T) {
	h := newTestServer(t, realDetector(t), nil, nil)

	rr := do(t, h, http.MethodGet, "/api/parameters", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var params mine.Parameters
	if err := json.Unmarshal(rr.Body.Bytes(), &params); err != nil {
		t.Fatal(err)
	}
	if len(params.SoilOptions) != 6 || len(params.MineClasses) != 5 {
		t.Fatalf("unexpected parameters: %+v", params)
	}
	if params.Voltage.Min > params.Voltage.Default || params.Voltage.Default > params.Voltage.Max {
		t.Fatalf("default voltage outside range: %+v", params.Voltage)
	}

	rr = do(t, h, http.MethodGet, "/api/distribution", "")
	var dist []mine.ClassSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &dist); err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, c := range dist {
		total += c.Count
	}
	if total != params.Samples {
		t.Fatalf("distribution total %d, want %d", total, params.Samples)
	}
}

func TestRecentHandler(t *testing.T) {
	detector := &fakeDetector{}

	rr := do(t, newTestServer(t, detector, nil, nil), http.MethodGet, "/api/detections/recent", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("disabled history: got %d, want 404", rr.Code)
	}

	history, err := monitoring.NewHistory(5)
	if err != nil {
		t.Fatal(err)
	}
	h := newTestServer(t, detector, history, nil)

	rr = do(t, h, http.MethodGet, "/api/detections/recent?limit=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: got %d, want 400", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/api/detections/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown id: got %d, want 404", rr.Code)
	}
}

func TestAuditHandler(t *testing.T) {
	detector := &fakeDetector{}
	audit := &fakeAudit{detections: []mine.Detection{{ID: "b"}, {ID: "a"}}}

	rr := do(t, newTestServer(t, detector, nil, audit), http.MethodGet, "/api/audit/detections?limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []mine.Detection
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected audit rows: %+v", got)
	}

	failing := &fakeAudit{err: errors.New("disk full")}
	rr = do(t, newTestServer(t, detector, nil, failing), http.MethodGet, "/api/audit/detections", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	rr = do(t, newTestServer(t, detector, nil, nil), http.MethodGet, "/api/audit/detections", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	metrics := monitoring.NewDetectionMetrics()
	detector := realDetector(t, metrics)
	handler := NewHandler(detector, nil, nil, nil)
	handler.SetMetrics(metrics)
	h := Routes(DefaultServerConfig(), handler, nil, nil)

	for _, body := range []string{
		`{"voltage":0.5,"height":0.4,"soil":0.2}`,
		`{"voltage":7,"height":0.4,"soil":0.2}`,
	} {
		if rr := do(t, h, http.MethodPost, "/api/detect", body); rr.Code != http.StatusOK {
			t.Fatalf("detect: %d %s", rr.Code, rr.Body.String())
		}
	}

	rr := do(t, h, http.MethodGet, "/api/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "minedetect_detections_total 2") {
		t.Fatalf("unexpected export:\n%s", rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/api/metrics/summary", "")
	var snapshot monitoring.MetricsSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.Total != 2 || snapshot.OutOfRange != 1 || snapshot.ByField["voltage"] != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	disabled := newTestServer(t, detector, nil, nil)
	if rr := do(t, disabled, http.MethodGet, "/api/metrics", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("disabled metrics: got %d, want 404", rr.Code)
	}
}
