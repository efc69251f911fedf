package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/auth"
	"github.com/JohnathanBurchill/chaos/internal/cache"
	"github.com/JohnathanBurchill/chaos/internal/health"
	"github.com/JohnathanBurchill/chaos/internal/shc"
	"github.com/JohnathanBurchill/chaos/internal/stream"
	"github.com/JohnathanBurchill/chaos/internal/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Dipole-dominated release: g10 drifts from -30000 to -29000 over 2000-2020.
const (
	coreText = `# test core
1 1 2 6 5
2000.0 2020.0
1 0 -30000 -29000
1 1 0 0
1 -1 0 0
`
	extrapolationText = `1 1 2 2 1
2020.0 2030.0
1 0 -29000 -28000
1 1 0 0
1 -1 0 0
`
	crustText = `2 2 1 1 0
2019.0
2 0 1
2 1 0
2 -1 0
2 2 0
2 -2 0
`
)

func testCoefficients(t *testing.T) *shc.Coefficients {
	t.Helper()
	parse := func(text string) *shc.Set {
		set, err := shc.Parse(strings.NewReader(text))
		if err != nil {
			t.Fatalf("Parse error: %v", err)
		}
		return set
	}
	return &shc.Coefficients{
		Core:          parse(coreText),
		Extrapolation: parse(extrapolationText),
		Crust:         parse(crustText),
	}
}

type testServer struct {
	handler http.Handler
	ready   *health.Readiness
	models  *cache.ModelCache
}

func newTestServer(t *testing.T, authCfg auth.Config, loaded bool) *testServer {
	t.Helper()
	logger := testLogger()
	ready := &health.Readiness{}
	models := cache.NewModelCache(cache.Config{MaxEntries: 8}, nil, logger)
	if loaded {
		models.Replace(testCoefficients(t))
		ready.SetReady(true)
	}
	opts := trace.Options{Direction: 1, MinAltKm: 0, MaxAltKm: 1000}
	sweeps := stream.NewHandler(models, stream.Config{Trace: opts}, logger)
	srv := NewServer(":0", logger, authCfg, models, ready, sweeps, opts, "1.1")
	return &testServer{handler: srv.HTTPServer().Handler, ready: ready, models: models}
}

func (ts *testServer) get(t *testing.T, url string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", url, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestField(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, true)

	w := ts.get(t, "/api/v1/field?date=2010-01-01&lat=0&lon=0&alt=0")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["branch"] != "core" || body["date"] != "2010-01-01" {
		t.Errorf("model info = %v %v", body["branch"], body["date"])
	}

	// At the equator on the surface the dipole field points north with
	// magnitude |g10|, g10 being near -29500 in 2010.
	core := body["core"].(map[string]any)
	if n := core["n"].(float64); n < 29400 || n > 29600 {
		t.Errorf("core north = %v, want about 29500", n)
	}
	if c := core["c"].(float64); math.Abs(c) > 1e-6 {
		t.Errorf("core center = %v, want 0", c)
	}
	total := body["total"].(map[string]any)
	crust := body["crust"].(map[string]any)
	if got, want := total["n"].(float64), core["n"].(float64)+crust["n"].(float64); math.Abs(got-want) > 1e-9 {
		t.Errorf("total north = %v, want core+crust %v", got, want)
	}
}

func TestFieldBadRequest(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, true)
	tests := []string{
		"/api/v1/field?lat=0&lon=0",
		"/api/v1/field?lat=100&lon=0&alt=0",
		"/api/v1/field?lat=0&lon=0&alt=0&date=2010-13-01",
	}
	for _, url := range tests {
		t.Run(url, func(t *testing.T) {
			if w := ts.get(t, url); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestTrace(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, true)

	// Southern hemisphere: B points up, so direction 1 climbs.
	w := ts.get(t, "/api/v1/trace?date=2015-06-01&lat=-65&lon=10&alt=110&target=600&direction=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["reached"] != true {
		t.Errorf("reached = %v, body %v", body["reached"], body)
	}
	end := body["end"].(map[string]any)
	if alt := end["alt_km"].(float64); math.Abs(alt-600) > 1e-6 {
		t.Errorf("end altitude = %v, want 600", alt)
	}
	if lat := end["lat"].(float64); lat <= -65 || lat > -55 {
		t.Errorf("end latitude = %v, want equatorward of -65", lat)
	}

	// The same line traced back down.
	w = ts.get(t, "/api/v1/trace?date=2015-06-01&lat=-65&lon=10&alt=600&target=110&direction=-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["reached"] != true {
		t.Errorf("downward trace not reached: %v", body)
	}

	// Down from the configured maximum altitude.
	w = ts.get(t, "/api/v1/trace?date=2015-06-01&lat=-65&lon=10&alt=1000&target=110&direction=-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body = decode(t, w)
	if body["reached"] != true || body["steps"].(float64) == 0 {
		t.Errorf("trace from the band top: reached = %v, steps = %v", body["reached"], body["steps"])
	}

	for _, url := range []string{
		"/api/v1/trace?lat=-65&lon=10&alt=110&target=110",
		"/api/v1/trace?lat=-65&lon=10&alt=110",
		"/api/v1/trace?lat=-65&lon=10&alt=110&target=500&direction=3",
	} {
		if w := ts.get(t, url); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, w.Code)
		}
	}
}

func TestModelAndCache(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, true)

	body := decode(t, ts.get(t, "/api/v1/model"))
	if fp, _ := body["fingerprint"].(string); len(fp) != 16 {
		t.Errorf("fingerprint = %v", body["fingerprint"])
	}
	core := body["core"].(map[string]any)
	if core["first_epoch"].(float64) != 2000 || core["last_epoch"].(float64) != 2020 || core["max_degree"].(float64) != 1 {
		t.Errorf("core = %v", core)
	}
	if crust := body["crust"].(map[string]any); crust["min_degree"].(float64) != 2 {
		t.Errorf("crust = %v", crust)
	}

	ts.get(t, "/api/v1/field?date=2011-01-01&lat=0&lon=0&alt=0")
	ts.get(t, "/api/v1/field?date=2011-01-01&lat=10&lon=0&alt=0")
	stats := decode(t, ts.get(t, "/api/v1/cache"))
	if stats["entries"].(float64) != 1 || stats["hits"].(float64) != 1 || stats["misses"].(float64) != 1 {
		t.Errorf("cache stats = %v", stats)
	}
}

func TestNotReady(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, false)

	for _, url := range []string{"/readyz", "/api/v1/field?lat=0&lon=0&alt=0", "/api/v1/model"} {
		if w := ts.get(t, url); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", url, w.Code)
		}
	}
	if w := ts.get(t, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}

	ts.models.Replace(testCoefficients(t))
	ts.ready.SetReady(true)
	if w := ts.get(t, "/api/v1/field?lat=0&lon=0&alt=0"); w.Code != http.StatusOK {
		t.Errorf("after load: status = %d", w.Code)
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, auth.Config{Enabled: true, Token: "tok"}, true)

	if w := ts.get(t, "/api/v1/field?lat=0&lon=0&alt=0"); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	if w := ts.get(t, "/api/v1/field?lat=0&lon=0&alt=0", "Authorization", "Bearer tok"); w.Code != http.StatusOK {
		t.Errorf("token: status = %d, want 200", w.Code)
	}
	for _, url := range []string{"/healthz", "/readyz", "/metrics", "/api/v1/version"} {
		if w := ts.get(t, url); w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200 without token", url, w.Code)
		}
	}
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, false)
	body := decode(t, ts.get(t, "/api/v1/version"))
	if body["version"] != "1.1" || body["software"] != "chaos" {
		t.Errorf("version = %v", body)
	}
}

func TestSweepThroughMiddleware(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, true)

	w := ts.get(t, "/api/v1/sweep?date=2015-06-01&lat=-65&lon=10&alt=110&stop=310&step=100")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if n := strings.Count(w.Body.String(), `"type":"row"`); n != 3 {
		t.Errorf("got %d rows, want 3", n)
	}
	if !strings.Contains(w.Body.String(), `"type":"done"`) {
		t.Error("sweep did not finish")
	}
}

func TestServerTimeouts(t *testing.T) {
	ts := NewServer(":0", testLogger(), auth.Config{}, cache.NewModelCache(cache.Config{}, nil, testLogger()),
		&health.Readiness{}, stream.NewHandler(nil, stream.Config{}, testLogger()), trace.Options{}, "1.1")
	if ts.HTTPServer().ReadHeaderTimeout == 0 || ts.HTTPServer().WriteTimeout < 10*time.Second {
		t.Errorf("server timeouts not set: %+v", ts.HTTPServer())
	}
}
