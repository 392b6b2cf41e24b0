package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sentinelmarket/sentinel-sync/internal/api"
	"github.com/sentinelmarket/sentinel-sync/internal/service"
	"github.com/sentinelmarket/sentinel-sync/internal/service/mocks"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	// health never reaches the service
	server := api.NewServer(mocks.NewMockDashboardService(ctrl))

	rr := get(t, server, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		readinessErr   error
		expectedStatus int
	}{
		{name: "service ready", expectedStatus: http.StatusOK},
		{name: "service closed", readinessErr: service.ErrServiceClosed, expectedStatus: http.StatusServiceUnavailable},
		{name: "no views", readinessErr: errors.New("no views registered"), expectedStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockSvc := mocks.NewMockDashboardService(ctrl)
			mockSvc.EXPECT().CheckReadiness(gomock.Any()).Return(tt.readinessErr)

			rr := get(t, api.NewServer(mockSvc), "/readiness")
			assert.Equal(t, tt.expectedStatus, rr.Code)

			var response map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			if tt.readinessErr == nil {
				assert.Equal(t, "ready", response["status"])
			} else {
				assert.Contains(t, response["error"], tt.readinessErr.Error())
			}
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	rr := get(t, api.NewServer(mocks.NewMockDashboardService(ctrl)), "/version")
	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	for _, key := range []string{"version", "commit", "build_date", "go_version", "platform"} {
		assert.Contains(t, response, key)
	}
}

func TestAPIMountedUnderV1(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	mockSvc := mocks.NewMockDashboardService(ctrl)
	mockSvc.EXPECT().ListViews(gomock.Any()).Return([]service.ViewInfo{{ID: "dashboard"}})

	server := api.NewServer(mockSvc)

	rr := get(t, server, "/api/v1/views")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"dashboard"`)

	assert.Equal(t, http.StatusNotFound, get(t, server, "/views").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	mockSvc := mocks.NewMockDashboardService(ctrl)

	t.Run("not mounted by default", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, http.StatusNotFound, get(t, api.NewServer(mockSvc), "/metrics").Code)
	})

	t.Run("served when configured", func(t *testing.T) {
		t.Parallel()
		metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("sentinel_sync_active_sessions 0\n"))
		})
		rr := get(t, api.NewServer(mockSvc, api.WithMetricsHandler(metrics)), "/metrics")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "sentinel_sync_active_sessions")
	})
}

func TestWithMiddlewares(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	var seen []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = append(seen, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	server := api.NewServer(mocks.NewMockDashboardService(ctrl),
		api.WithMiddlewares(middleware.RequestID, tag("first"), api.LoggingMiddleware),
		api.WithMiddlewares(tag("second")),
	)

	rr := get(t, server, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"first", "second"}, seen)
}
