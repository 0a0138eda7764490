package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/farmscan/internal/api"
	"github.com/anstrom/farmscan/internal/config"
	"github.com/anstrom/farmscan/internal/discovery"
	"github.com/anstrom/farmscan/internal/logging"
	"github.com/anstrom/farmscan/internal/metrics"
	"github.com/anstrom/farmscan/internal/probe"
	"github.com/anstrom/farmscan/internal/scanning"
	"github.com/anstrom/farmscan/internal/workers"
)

const (
	metricsUpdateInterval = 15 * time.Second
	engineShutdownTimeout = 10 * time.Second
)

// Serve command flags.
var (
	serveHost string
	servePort int
	serveMDNS bool
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan API server",
	Long: `Run the scan engine behind the HTTP API.

Scans are created with POST /api/v1/scans and followed either by polling
GET /api/v1/scans/{id} or over the WebSocket at /api/v1/scans/{id}/ws.
The server runs until interrupted.`,
	Example: `  farmscan serve
  farmscan serve --host 0.0.0.0 --port 8080
  farmscan serve --mdns
  FARMSCAN_SCANNING_CONCURRENCY=400 farmscan serve`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd.Flags(), map[string]string{
			"api.listen_addr":        "host",
			"api.port":               "port",
			"discovery.mdns.enabled": "mdns",
			"scanning.concurrency":   "concurrency",
			"scanning.timeout":       "timeout",
			"scanning.vendor_prefix": "vendor",
			"scanning.probe_port":    "probe-port",
			"scanning.max_addresses": "max-addresses",
		})
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override listen address")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override listen port")
	serveCmd.Flags().BoolVar(&serveMDNS, "mdns", false, "Enable the mDNS discovery endpoints")
	addEngineFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := probe.NewMoonrakerProber(cfg.Scanning.ProbePort, cfg.Scanning.VendorPrefix)
	return serve(ctx, cfg, prober, cmd.OutOrStdout())
}

// serve runs the engine and the API server until ctx ends or the server
// fails, then shuts both down.
func serve(ctx context.Context, cfg *config.Config, prober probe.Prober, out io.Writer) error {
	logger := logging.Default()
	m := metrics.GetGlobalMetrics()

	svc := scanning.NewService(cfg.Scanning, prober, workers.WithRecorder(m))
	if err := svc.Start(); err != nil {
		_ = svc.Shutdown(context.Background())
		return fmt.Errorf("failed to start scan engine: %w", err)
	}

	opts := []api.Option{api.WithMetrics(m)}
	if cfg.Discovery.MDNS.Enabled {
		opts = append(opts, api.WithDiscovery(discovery.NewMDNS(cfg.Discovery.MDNS)))
	}

	server, err := api.New(cfg, svc, opts...)
	if err != nil {
		_ = svc.Shutdown(context.Background())
		return fmt.Errorf("failed to create API server: %w", err)
	}

	logger.Info("Starting farmscan",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"address", server.GetAddress(),
		"concurrency", cfg.Scanning.Concurrency,
		"timeout", cfg.Scanning.Timeout,
		"vendor_prefix", cfg.Scanning.VendorPrefix,
		"mdns", cfg.Discovery.MDNS.Enabled)
	printEndpoints(out, server.GetAddress())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.StartPeriodicUpdates(gctx, metricsUpdateInterval)
		return nil
	})

	g.Go(func() error {
		return server.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Stopping scan engine")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintln(out, "Server stopped successfully")
	return nil
}

// printEndpoints prints where the API can be reached.
func printEndpoints(out io.Writer, address string) {
	fmt.Fprintf(out, "farmscan %s listening on %s\n", getVersion(), address)
	fmt.Fprintf(out, "  Scans:    http://%s/api/v1/scans\n", address)
	fmt.Fprintf(out, "  Health:   http://%s/api/v1/health\n", address)
	fmt.Fprintf(out, "  Metrics:  http://%s/metrics\n", address)
}

// addEngineFlags adds the flags shared by every command that runs the
// scan engine.
func addEngineFlags(cmd *cobra.Command) {
	defaults := config.Default().Scanning

	cmd.Flags().Int("concurrency", defaults.Concurrency, "Number of concurrent probe workers")
	cmd.Flags().Duration("timeout", defaults.Timeout, "Per-address probe timeout")
	cmd.Flags().String("vendor", defaults.VendorPrefix, "Only report devices whose model starts with this prefix")
	cmd.Flags().Int("probe-port", defaults.ProbePort, "Moonraker HTTP port")
	cmd.Flags().Int("max-addresses", defaults.MaxAddresses, "Largest number of addresses one scan may cover")
}
