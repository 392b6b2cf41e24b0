package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/mock/gomock"

	"github.com/sentinelmarket/sentinel-sync/internal/config"
	"github.com/sentinelmarket/sentinel-sync/internal/httpclient/mocks"
	svcmocks "github.com/sentinelmarket/sentinel-sync/internal/service/mocks"
)

func createValidTestConfig() *config.Config {
	return &config.Config{
		API:   config.APIConfig{BaseURL: "http://backend.test"},
		Retry: config.RetryConfig{MaxAttempts: 1},
		Views: []config.ViewConfig{
			{
				ID:       "dashboard",
				Interval: "1h",
				Sources: []config.SourceConfig{
					{ID: "stocks", Path: "/api/stocks", Required: true},
					{ID: "alerts", Path: "/api/alerts"},
				},
			},
		},
	}
}

func TestBaseConfigDefaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig()))
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Greater(t, built.writeTimeout, built.requestTimeout)
	assert.NotNil(t, built.clock)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "port only", addr: ":9090"},
		{name: "localhost", addr: "localhost:8080"},
		{name: "ipv4", addr: "127.0.0.1:8080"},
		{name: "ipv6", addr: "[::1]:8080"},
		{name: "empty", addr: "", wantErr: true},
		{name: "missing port", addr: "localhost", wantErr: true},
		{name: "empty port", addr: "localhost:", wantErr: true},
		{name: "port out of range", addr: ":70000", wantErr: true},
		{name: "hostname", addr: "example.com:8080", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			built, err := baseConfig(WithAddress(tt.addr))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, built.address)
		})
	}
}

func TestWithClockRejectsNil(t *testing.T) {
	t.Parallel()

	_, err := baseConfig(WithClock(nil))
	require.Error(t, err)
}

func TestNewSyncAppRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewSyncApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

func TestNewSyncAppRejectsSourceWithoutSeed(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig()
	cfg.Views[0].Sources = append(cfg.Views[0].Sources, config.SourceConfig{ID: "unknown_feed", Path: "/api/unknown"})

	_, err := NewSyncApp(context.Background(), WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_feed")
}

func TestNewSyncAppWiresComponents(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	app, err := NewSyncApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithHTTPClient(mocks.NewMockClient(ctrl)),
		WithAddress("127.0.0.1:0"),
		WithMeterProvider(noop.NewMeterProvider()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.GetComponents().Service.Close() })

	c := app.GetComponents()
	require.NotNil(t, c.Registry)
	require.NotNil(t, c.Aggregator)
	require.NotNil(t, c.Service)
	assert.Equal(t, []string{"dashboard"}, c.Registry.IDs())
	assert.Equal(t, 1, c.Aggregator.Policy().MaxAttempts)

	srv := app.GetHTTPServer()
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Equal(t, defaultWriteTimeout, srv.WriteTimeout)
}

func TestStopClosesService(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	mockSvc := svcmocks.NewMockDashboardService(ctrl)
	mockSvc.EXPECT().Close().Return(nil)

	app, err := NewSyncApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithHTTPClient(mocks.NewMockClient(ctrl)),
		WithDashboardService(mockSvc),
		WithMiddlewares(),
	)
	require.NoError(t, err)

	require.NoError(t, app.Stop(time.Second))
	assert.ErrorIs(t, app.GetHTTPServer().ListenAndServe(), http.ErrServerClosed)
}
