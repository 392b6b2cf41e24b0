package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncapp "github.com/sentinelmarket/sentinel-sync/internal/app"
	"github.com/sentinelmarket/sentinel-sync/internal/telemetry"
	"github.com/sentinelmarket/sentinel-sync/internal/versions"
)

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
	telemetryFlushTimeout  = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync API server",
		Long: `Start the sync API server.

Clients mount a view, receive its seeded state immediately and read it back
while the server polls the analytics API in the background. The configuration
file (--config) selects the API base URL, the retry policy and the views; the
built-in views are served when it is omitted.

See examples/ directory for sample configurations.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().Bool("open", false, "Open the view listing in a browser once the server listens")

	for _, name := range []string{"address", "open"} {
		if err := viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			slog.Error("Failed to bind flag", "flag", name, "error", err)
		}
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("Configuration loaded",
		"base_url", cfg.GetBaseURL(),
		"views", len(cfg.Views),
		"config", viper.GetString("config"),
	)

	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = versions.Version
	}
	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithBackendURL(cfg.GetBaseURL()),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	address := viper.GetString("address")
	syncApp, err := syncapp.NewSyncApp(ctx,
		syncapp.WithConfig(cfg),
		syncapp.WithAddress(address),
		syncapp.WithMeterProvider(tel.MeterProvider()),
		syncapp.WithTracerProvider(tel.TracerProvider()),
		syncapp.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return fmt.Errorf("failed to build sync app: %w", err)
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		_ = syncApp.Stop(defaultGracefulTimeout)
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	served := make(chan error, 1)
	go func() { served <- syncApp.Serve(ln) }()

	if viper.GetBool("open") {
		openViews(ln.Addr())
	}

	select {
	case err := <-served:
		// the server stopped on its own; release sessions before returning
		_ = syncApp.Stop(defaultGracefulTimeout)
		return err
	case <-ctx.Done():
	}

	if err := syncApp.Stop(defaultGracefulTimeout); err != nil {
		slog.Error("Shutdown incomplete", "error", err)
		return err
	}
	return <-served
}

// openViews opens the view listing of the server listening on addr
func openViews(addr net.Addr) {
	host := "localhost"
	port := ""
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = fmt.Sprint(tcp.Port)
		if !tcp.IP.IsUnspecified() {
			host = tcp.IP.String()
		}
	}
	target := "http://" + net.JoinHostPort(host, port) + "/api/v1/views"
	if err := browser.OpenURL(target); err != nil {
		slog.Warn("Failed to open browser", "url", target, "error", err)
	}
}
