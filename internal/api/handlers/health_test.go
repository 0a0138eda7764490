package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/farmscan/internal/scanning/mocks"
	"github.com/anstrom/farmscan/internal/workers"
)

type fixedStreams int

func (f fixedStreams) GetConnectedClients() int { return int(f) }

func TestNewHealthHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)

	handler := NewHealthHandler(engine, nil, createTestLogger())

	assert.NotNil(t, handler)
	assert.NotNil(t, handler.logger)
	assert.False(t, handler.startTime.IsZero())
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name           string
		running        bool
		nilEngine      bool
		expectedStatus int
		expectedHealth string
		expectedEngine string
	}{
		{
			name:           "engine running",
			running:        true,
			expectedStatus: http.StatusOK,
			expectedHealth: StatusHealthy,
			expectedEngine: "ok",
		},
		{
			name:           "engine stopped",
			running:        false,
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: StatusUnhealthy,
			expectedEngine: "stopped",
		},
		{
			name:           "no engine",
			nilEngine:      true,
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: StatusUnhealthy,
			expectedEngine: "not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handler *HealthHandler
			if tt.nilEngine {
				handler = NewHealthHandler(nil, nil, createTestLogger())
			} else {
				ctrl := gomock.NewController(t)
				engine := mocks.NewMockEngine(ctrl)
				engine.EXPECT().Running().Return(tt.running)
				handler = NewHealthHandler(engine, nil, createTestLogger())
			}

			w := httptest.NewRecorder()
			handler.Health(w, newRequest("GET", "/api/v1/health", "", ""))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			// The test process stays well under the memory and goroutine thresholds.
			assert.Equal(t, tt.expectedHealth, resp.Status)
			assert.Equal(t, tt.expectedEngine, resp.Checks["engine"])
			assert.Equal(t, "ok", resp.Checks["memory"])
			assert.Equal(t, "ok", resp.Checks["goroutines"])
			assert.NotEmpty(t, resp.Uptime)
		})
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	handler := NewHealthHandler(nil, nil, createTestLogger())

	w := httptest.NewRecorder()
	handler.Liveness(w, newRequest("GET", "/api/v1/liveness", "", ""))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHealthHandler_Status(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	engine.EXPECT().Running().Return(true).AnyTimes()
	engine.EXPECT().Stats().Return(workers.Stats{
		Concurrency: 200,
		TimeoutMS:   2000,
		Workers:     workers.WorkerStats{Waiting: 150, Running: 50},
		Tasks:       []workers.TaskSummary{{ID: "a"}, {ID: "b"}},
	})

	handler := NewHealthHandler(engine, fixedStreams(3), createTestLogger())

	w := httptest.NewRecorder()
	handler.Status(w, newRequest("GET", "/api/v1/status", "", ""))

	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "farmscan", resp.Service.Name)
	assert.NotZero(t, resp.Service.PID)
	assert.Equal(t, runtime.GOOS, resp.System.OS)
	assert.Equal(t, runtime.NumCPU(), resp.System.CPUs)
	assert.Positive(t, resp.System.Goroutines)

	assert.Equal(t, EngineInfo{
		Running:        true,
		Concurrency:    200,
		TimeoutMS:      2000,
		WorkersRunning: 50,
		WorkersWaiting: 150,
		Tasks:          2,
		Streams:        3,
	}, resp.Engine)
	assert.Equal(t, StatusHealthy, resp.Health.Status)
}

func TestHealthHandler_Version(t *testing.T) {
	SetBuildInfo("1.2.3", "abc123", "2026-01-01T00:00:00Z")
	t.Cleanup(func() { SetBuildInfo("dev", "none", "unknown") })

	handler := NewHealthHandler(nil, nil, createTestLogger())

	w := httptest.NewRecorder()
	handler.Version(w, newRequest("GET", "/api/v1/version", "", ""))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "abc123", resp.Commit)
	assert.Equal(t, "2026-01-01T00:00:00Z", resp.BuildTime)
	assert.Equal(t, runtime.Version(), resp.GoVersion)
}
