package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/WilliamBenEmbarek/erdetkoldt/internal/cache"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/dmi"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/lifecycle"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/models"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/verdict"
)

type mockForecastClient struct {
	mu    sync.Mutex
	fc    *dmi.Forecast
	err   error
	calls int
}

func (m *mockForecastClient) GetForecast(ctx context.Context, window models.QueryWindow) (*dmi.Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.fc, nil
}

func (m *mockForecastClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func coldForecast() *dmi.Forecast {
	return &dmi.Forecast{
		Domain: dmi.Domain{Axes: dmi.Axes{T: dmi.TimeAxis{Values: []string{"2024-01-01T12:00:00Z"}}}},
		Ranges: map[string]dmi.Range{
			dmi.ParamTemperature: {Values: []float64{276.15}},
			dmi.ParamWindSpeed:   {Values: []float64{5.0}},
		},
	}
}

// newTestRouter wires the handler into a router the way main does, with the
// CORS middleware in place.
func newTestRouter(t *testing.T, client dmi.ForecastClient) (*mux.Router, *Handler) {
	t.Helper()
	svc := verdict.NewService(client, cache.NewInMemoryCache(), 5*time.Minute, 5.0)
	logger, _ := zap.NewDevelopment()
	handler := NewHandler(svc, 5*time.Minute, logger, nil)

	router := mux.NewRouter()
	router.Use(CORSMiddleware("*"))
	router.HandleFunc("/healthz", handler.GetHealth).Methods("GET")
	router.PathPrefix("/").HandlerFunc(handler.GetVerdict)
	return router, handler
}

// TestHandler_GetVerdict_Success verifies a 200 response with the verdict
// payload and the contract headers.
func TestHandler_GetVerdict_Success(t *testing.T) {
	router, _ := newTestRouter(t, &mockForecastClient{fc: coldForecast()})

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("Cache-Control = %q, want %q", got, "public, max-age=300")
	}

	var v models.Verdict
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if v.Temperature != "3.0" {
		t.Errorf("temperature = %q, want 3.0", v.Temperature)
	}
	if !v.IsKoldt {
		t.Error("isKoldt = false, want true")
	}
}

// TestHandler_GetVerdict_PathIgnored verifies any GET path serves the verdict.
func TestHandler_GetVerdict_PathIgnored(t *testing.T) {
	client := &mockForecastClient{fc: coldForecast()}
	router, _ := newTestRouter(t, client)

	for _, path := range []string{"/", "/er/det/koldt", "/whatever?x=1"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}
}

// TestHandler_Preflight verifies OPTIONS returns an empty body with the CORS
// header set and never contacts the upstream.
func TestHandler_Preflight(t *testing.T) {
	client := &mockForecastClient{fc: coldForecast()}
	router, _ := newTestRouter(t, client)

	req := httptest.NewRequest("OPTIONS", "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
	if got := client.callCount(); got != 0 {
		t.Errorf("upstream calls = %d, want 0 for preflight", got)
	}
	assertCORSHeaders(t, w)
}

// TestHandler_GetVerdict_UpstreamFailure verifies the uniform 500 error
// payload: localized message plus the underlying description, including the
// upstream status code.
func TestHandler_GetVerdict_UpstreamFailure(t *testing.T) {
	client := &mockForecastClient{err: fmt.Errorf("%w: HTTP 503", dmi.ErrUpstream)}
	router, _ := newTestRouter(t, client)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	assertCORSHeaders(t, w)

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Error("error field missing or empty")
	}
	if !strings.Contains(resp["detail"], "503") {
		t.Errorf("detail = %q, want upstream status in it", resp["detail"])
	}
}

// TestHandler_GetVerdict_SecondRequestCached verifies a repeated GET within
// the TTL serves the cached bytes and makes no further upstream call.
func TestHandler_GetVerdict_SecondRequestCached(t *testing.T) {
	client := &mockForecastClient{fc: coldForecast()}
	svc := verdict.NewService(client, cache.NewInMemoryCache(), 5*time.Minute, 5.0)
	logger, _ := zap.NewDevelopment()
	handler := NewHandler(svc, 5*time.Minute, logger, nil)

	router := mux.NewRouter()
	router.Use(CORSMiddleware("*"))
	router.PathPrefix("/").HandlerFunc(handler.GetVerdict)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.WaitForPendingWrites(ctx, time.Millisecond); err != nil {
		t.Fatalf("WaitForPendingWrites() error = %v", err)
	}

	// Upstream breaks; the cache must keep serving.
	client.mu.Lock()
	client.err = fmt.Errorf("%w: HTTP 503", dmi.ErrUpstream)
	client.mu.Unlock()

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("GET", "/andet/sted", nil))
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d, want 200 from cache", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("cached response body differs from original")
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

// TestHandler_GetHealth verifies the health endpoint in both lifecycle states.
func TestHandler_GetHealth(t *testing.T) {
	router, _ := newTestRouter(t, &mockForecastClient{fc: coldForecast()})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", w.Code)
	}

	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("shutting-down status = %d, want 503", w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "shutting-down" {
		t.Errorf("status = %v, want shutting-down", resp["status"])
	}
}

func assertCORSHeaders(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET,HEAD,POST,OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q, want GET,HEAD,POST,OPTIONS", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Access-Control-Max-Age = %q, want 86400", got)
	}
}
