package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/farmscan/internal/config"
	"github.com/anstrom/farmscan/internal/discovery"
	"github.com/anstrom/farmscan/internal/logging"
	"github.com/anstrom/farmscan/internal/metrics"
	"github.com/anstrom/farmscan/internal/probe"
	"github.com/anstrom/farmscan/internal/scanning"
	"github.com/anstrom/farmscan/internal/scanning/mocks"
	"github.com/anstrom/farmscan/internal/workers"
)

func TestMain(m *testing.M) {
	logging.SetDefault(logging.NewDiscard())
	m.Run()
}

// Test helper functions
func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.API.Port = 0
	cfg.API.RateLimit.Enabled = false
	cfg.Scanning.Concurrency = 4
	cfg.Scanning.Timeout = 500 * time.Millisecond
	cfg.Scanning.Retention = 0
	return cfg
}

// recognizeTen recognizes addresses ending in .10.
var recognizeTen = probe.ProberFunc(func(_ context.Context, addr string, _ time.Duration) (*probe.Device, bool) {
	if strings.HasSuffix(addr, ".10") {
		return &probe.Device{Address: addr, Model: "Snapmaker U1", Name: "u1"}, true
	}
	return nil, false
})

func newTestService(t *testing.T, cfg *config.Config) *scanning.Service {
	t.Helper()
	svc := scanning.NewService(cfg.Scanning, recognizeTen)
	require.NoError(t, svc.Start())
	t.Cleanup(func() {
		require.NoError(t, svc.Shutdown(context.Background()))
	})
	return svc
}

func newTestServer(t *testing.T, cfg *config.Config, engine scanning.Engine, opts ...Option) *Server {
	t.Helper()
	server, err := New(cfg, engine, opts...)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type staticSource []discovery.Candidate

func (s staticSource) Candidates(context.Context) ([]discovery.Candidate, error) {
	return s, nil
}

func TestNew(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		_, err := New(nil, mocks.NewMockEngine(gomock.NewController(t)))
		assert.Error(t, err)
	})

	t.Run("requires engine", func(t *testing.T) {
		_, err := New(createTestConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("applies http settings", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.API.ListenAddr = "0.0.0.0"
		cfg.API.Port = 9090

		server := newTestServer(t, cfg, mocks.NewMockEngine(gomock.NewController(t)))

		assert.Equal(t, "0.0.0.0:9090", server.GetAddress())
		assert.Equal(t, cfg.API.ReadTimeout, server.httpServer.ReadTimeout)
		assert.Equal(t, cfg.API.WriteTimeout, server.httpServer.WriteTimeout)
		assert.Equal(t, cfg.API.IdleTimeout, server.httpServer.IdleTimeout)
		assert.Equal(t, cfg.API.MaxHeaderBytes, server.httpServer.MaxHeaderBytes)
		assert.NotNil(t, server.Handler())
	})
}

func TestServer_ScanLifecycle(t *testing.T) {
	cfg := createTestConfig()
	server := newTestServer(t, cfg, newTestService(t, cfg))
	h := server.Handler()

	w := do(t, h, "POST", "/api/v1/scans", `[{"cidr":"192.168.77.0/28"}]`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	var snap workers.TaskSnapshot
	require.Eventually(t, func() bool {
		w := do(t, h, "GET", "/api/v1/scans/"+created.ID, "")
		if w.Code != http.StatusOK {
			return false
		}
		snap = workers.TaskSnapshot{}
		return json.Unmarshal(w.Body.Bytes(), &snap) == nil && snap.Done
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 16, snap.TotalCount)
	assert.Equal(t, 16, snap.ProbedCount)
	require.Len(t, snap.Recognized, 1)
	assert.Equal(t, "192.168.77.10", snap.Recognized[0].Address)

	w = do(t, h, "GET", "/api/v1/scans", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats workers.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.Concurrency)
	require.Len(t, stats.Tasks, 1)
	assert.Equal(t, created.ID, stats.Tasks[0].ID)

	w = do(t, h, "DELETE", "/api/v1/scans/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/api/v1/scans/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "DELETE", "/api/v1/scans/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_UpdateConfig(t *testing.T) {
	cfg := createTestConfig()
	svc := newTestService(t, cfg)
	h := newTestServer(t, cfg, svc).Handler()

	w := do(t, h, "PATCH", "/api/v1/scans", `{"concurrency":8,"timeout":1500}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"concurrency":8,"timeout":1500}`, w.Body.String())
	assert.Equal(t, 8, svc.Config().Concurrency)

	w = do(t, h, "PATCH", "/api/v1/scans", `{"concurrency":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 8, svc.Config().Concurrency)
}

func TestServer_DeleteAllScans(t *testing.T) {
	cfg := createTestConfig()
	h := newTestServer(t, cfg, newTestService(t, cfg)).Handler()

	for i := 0; i < 2; i++ {
		w := do(t, h, "POST", "/api/v1/scans", `[]`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, h, "DELETE", "/api/v1/scans", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":2}`, w.Body.String())
}

func TestServer_ErrorStatusMapping(t *testing.T) {
	cfg := createTestConfig()
	cfg.Scanning.MaxAddresses = 16
	h := newTestServer(t, cfg, newTestService(t, cfg)).Handler()

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{name: "malformed body", method: "POST", target: "/api/v1/scans", body: `[{`, wantStatus: http.StatusBadRequest},
		{name: "invalid range", method: "POST", target: "/api/v1/scans", body: `[{"begin":"10.0.0.5","end":"10.0.0.1"}]`, wantStatus: http.StatusUnprocessableEntity},
		{name: "range too large", method: "POST", target: "/api/v1/scans", body: `[{"cidr":"10.0.0.0/24"}]`, wantStatus: http.StatusUnprocessableEntity},
		{name: "unknown task", method: "GET", target: "/api/v1/scans/nope", wantStatus: http.StatusNotFound},
		{name: "unknown route", method: "GET", target: "/api/v1/printers", wantStatus: http.StatusNotFound},
		{name: "wrong method", method: "PUT", target: "/api/v1/scans", body: `{}`, wantStatus: http.StatusMethodNotAllowed},
		{name: "wrong method on task", method: "POST", target: "/api/v1/scans/abc", body: `{}`, wantStatus: http.StatusMethodNotAllowed},
		{name: "wrong method on health", method: "DELETE", target: "/api/v1/health", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestServer_EngineStopped(t *testing.T) {
	cfg := createTestConfig()
	svc := scanning.NewService(cfg.Scanning, recognizeTen)
	require.NoError(t, svc.Shutdown(context.Background()))

	h := newTestServer(t, cfg, svc).Handler()

	w := do(t, h, "POST", "/api/v1/scans", `[{"cidr":"10.0.0.0/30"}]`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, h, "GET", "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, h, "GET", "/api/v1/liveness", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Discovery(t *testing.T) {
	cfg := createTestConfig()

	t.Run("disabled", func(t *testing.T) {
		h := newTestServer(t, cfg, newTestService(t, cfg)).Handler()

		w := do(t, h, "GET", "/api/v1/discovery/mdns", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("scan announced printers", func(t *testing.T) {
		source := staticSource{
			{Instance: "u1", HostName: "u1.local.", Address: "10.9.0.10", Port: 7125},
			{Instance: "other", HostName: "other.local.", Address: "10.9.0.11", Port: 7125},
		}
		h := newTestServer(t, cfg, newTestService(t, cfg), WithDiscovery(source)).Handler()

		w := do(t, h, "GET", "/api/v1/discovery/mdns", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":2`)

		w = do(t, h, "POST", "/api/v1/discovery/mdns/scan", "")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		require.Eventually(t, func() bool {
			w := do(t, h, "GET", "/api/v1/scans/"+resp.ID, "")
			var snap workers.TaskSnapshot
			return json.Unmarshal(w.Body.Bytes(), &snap) == nil && snap.Done && len(snap.Recognized) == 1
		}, 5*time.Second, 20*time.Millisecond)
	})
}

func TestServer_Middleware(t *testing.T) {
	cfg := createTestConfig()
	h := newTestServer(t, cfg, mocks.NewMockEngine(gomock.NewController(t))).Handler()

	t.Run("security and request id headers", func(t *testing.T) {
		w := do(t, h, "GET", "/api/v1/liveness", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("rejects non json bodies", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/scans", strings.NewReader("cidr=10.0.0.0/24"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/api/v1/scans", http.NoBody)
		req.Header.Set("Origin", "http://farm.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("cors disabled", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.API.CORS.Enabled = false
		h := newTestServer(t, cfg, mocks.NewMockEngine(gomock.NewController(t))).Handler()

		req := httptest.NewRequest("GET", "/api/v1/liveness", http.NoBody)
		req.Header.Set("Origin", "http://farm.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestServer_RateLimit(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.RateLimit = config.APIRateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}

	engine := mocks.NewMockEngine(gomock.NewController(t))
	engine.EXPECT().Stats().Return(workers.Stats{}).Times(2)
	h := newTestServer(t, cfg, engine).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/api/v1/scans", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/api/v1/scans", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, "GET", "/api/v1/scans", "").Code)

	// Liveness is never limited.
	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/api/v1/liveness", "").Code)
}

func TestServer_Metrics(t *testing.T) {
	cfg := createTestConfig()

	t.Run("served when configured", func(t *testing.T) {
		m := metrics.NewPrometheusMetrics()
		h := newTestServer(t, cfg, newTestService(t, cfg), WithMetrics(m)).Handler()

		require.Equal(t, http.StatusOK, do(t, h, "GET", "/api/v1/liveness", "").Code)

		for _, path := range []string{"/metrics", "/api/v1/metrics"} {
			w := do(t, h, "GET", path, "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `farmscan_api_requests_total{method="GET",path="/api/v1/liveness",status="200"}`)
		}
	})

	t.Run("absent otherwise", func(t *testing.T) {
		h := newTestServer(t, cfg, mocks.NewMockEngine(gomock.NewController(t))).Handler()
		assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/metrics", "").Code)
	})
}

func TestServer_Index(t *testing.T) {
	h := newTestServer(t, createTestConfig(), mocks.NewMockEngine(gomock.NewController(t))).Handler()

	w := do(t, h, "GET", "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "farmscan API", resp["service"])
	assert.Contains(t, resp, "endpoints")
}

func TestServer_StartStop(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.ListenAddr = "127.0.0.1"
	cfg.API.Port = 0
	server := newTestServer(t, cfg, mocks.NewMockEngine(gomock.NewController(t)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Positive(t, server.Uptime())
}

func TestServer_StartFailsOnBusyAddress(t *testing.T) {
	busy := httptest.NewServer(http.NotFoundHandler())
	defer busy.Close()

	cfg := createTestConfig()
	host, port, ok := strings.Cut(strings.TrimPrefix(busy.URL, "http://"), ":")
	require.True(t, ok)
	cfg.API.ListenAddr = host
	var err error
	cfg.API.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	server := newTestServer(t, cfg, mocks.NewMockEngine(gomock.NewController(t)))

	err = server.Start(context.Background())
	assert.ErrorContains(t, err, "API server failed")
}
