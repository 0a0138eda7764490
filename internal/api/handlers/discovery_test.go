package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/farmscan/internal/discovery"
	"github.com/anstrom/farmscan/internal/errors"
	"github.com/anstrom/farmscan/internal/netrange"
	"github.com/anstrom/farmscan/internal/scanning/mocks"
)

type staticSource struct {
	candidates []discovery.Candidate
	err        error
}

func (s staticSource) Candidates(context.Context) ([]discovery.Candidate, error) {
	return s.candidates, s.err
}

var testCandidates = []discovery.Candidate{
	{Instance: "u1-a", HostName: "u1-a.local.", Address: "192.168.1.20", Port: 7125},
	{Instance: "u1-b", HostName: "u1-b.local.", Address: "192.168.1.60", Port: 7125},
}

func TestDiscoveryHandler_ListCandidates(t *testing.T) {
	tests := []struct {
		name       string
		source     CandidateSource
		wantStatus int
		wantCount  int
	}{
		{name: "candidates found", source: staticSource{candidates: testCandidates}, wantStatus: http.StatusOK, wantCount: 2},
		{name: "nothing announced", source: staticSource{}, wantStatus: http.StatusOK},
		{name: "browse failed", source: staticSource{err: stderrors.New("no multicast")}, wantStatus: http.StatusBadGateway},
		{name: "disabled", source: nil, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewDiscoveryHandler(tt.source, nil, createTestLogger())

			w := httptest.NewRecorder()
			handler.ListCandidates(w, newRequest("GET", "/api/v1/discovery/mdns", "", ""))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp CandidatesResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCount, resp.Count)
			assert.NotNil(t, resp.Candidates)
		})
	}
}

func TestDiscoveryHandler_ScanCandidates(t *testing.T) {
	t.Run("creates scan over announced addresses", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		engine := mocks.NewMockEngine(ctrl)
		engine.EXPECT().CreateScan([]netrange.Spec{
			{Begin: "192.168.1.20", End: "192.168.1.20"},
			{Begin: "192.168.1.60", End: "192.168.1.60"},
		}).Return(testTaskID, nil)

		handler := NewDiscoveryHandler(staticSource{candidates: testCandidates}, engine, createTestLogger())

		w := httptest.NewRecorder()
		handler.ScanCandidates(w, newRequest("POST", "/api/v1/discovery/mdns/scan", "", ""))

		require.Equal(t, http.StatusCreated, w.Code)
		var resp DiscoveryScanResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, testTaskID, resp.ID)
		assert.Len(t, resp.Candidates, 2)
	})

	t.Run("engine stopped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		engine := mocks.NewMockEngine(ctrl)
		engine.EXPECT().CreateScan(gomock.Any()).Return("", errors.ErrNotRunning())

		handler := NewDiscoveryHandler(staticSource{candidates: testCandidates}, engine, createTestLogger())

		w := httptest.NewRecorder()
		handler.ScanCandidates(w, newRequest("POST", "/api/v1/discovery/mdns/scan", "", ""))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("browse failure creates nothing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		engine := mocks.NewMockEngine(ctrl)

		handler := NewDiscoveryHandler(staticSource{err: stderrors.New("socket")}, engine, createTestLogger())

		w := httptest.NewRecorder()
		handler.ScanCandidates(w, newRequest("POST", "/api/v1/discovery/mdns/scan", "", ""))

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
