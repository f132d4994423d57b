package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/monorkin/mesh-node-stats/internal/bus"
	"github.com/monorkin/mesh-node-stats/internal/commands"
	"github.com/monorkin/mesh-node-stats/internal/config"
	"github.com/monorkin/mesh-node-stats/internal/ingest"
	"github.com/monorkin/mesh-node-stats/internal/mesh"
	"github.com/monorkin/mesh-node-stats/internal/query"
	"github.com/monorkin/mesh-node-stats/internal/telemetry"
)

var (
	serveHost        string
	serveInterval    time.Duration
	serveMetricsAddr string
	serveNoDBus      bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the mesh and answer queries until interrupted",
	Long: `Polls the mesh gateway on a fixed interval, recording node identities and
changed metrics, and serves queries over D-Bus and Prometheus metrics over HTTP.

Settings come from settings.yaml; flags override them for this run.`,
	Run: runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	settings := loadSettings()
	flags := cmd.Flags()
	if flags.Changed("host") {
		settings.MeshHost = serveHost
	}
	if flags.Changed("interval") {
		settings.PollInterval = serveInterval
	}
	if flags.Changed("metrics-addr") {
		settings.MetricsAddr = serveMetricsAddr
	}
	if flags.Changed("no-dbus") {
		settings.DBusEnabled = !serveNoDBus
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := resolveSource(ctx, settings)
	if err != nil {
		exitWithError("Failed to find a mesh gateway", err)
	}

	store := openStore()
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics().Register(registry)

	ingester := ingest.NewEngine(store, ingest.WithLogger(logger), ingest.WithMetrics(metrics))
	queries := query.NewEngine(store, query.WithLogger(logger), query.WithMetrics(metrics))
	responder := commands.NewResponder(queries,
		commands.WithPrefix(settings.CommandPrefix),
		commands.WithRecentWindow(settings.RecentWindow),
		commands.WithLogger(logger),
	)

	var batches mesh.BatchIngester = ingester
	if settings.DBusEnabled {
		service := bus.NewService(queries, responder, logger)
		if err := service.Connect(); err != nil {
			logger.Error("Failed to initialize DBUS service", "error", err)
		} else {
			defer service.Close()
			batches = service.Notify(ingester)
		}
	}

	if settings.MetricsAddr != "" {
		server := startMetricsServer(settings.MetricsAddr, registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	mesh.NewPoller(source, batches, settings.PollInterval, logger, metrics).Run(ctx)

	logger.Info("Shutting down")
}

func startMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return server
}

// resolveSource returns a client for the configured gateway, discovering one
// over mDNS when no host is configured
func resolveSource(ctx context.Context, settings *config.Settings) (*mesh.Client, error) {
	host := settings.MeshHost
	if host == "" {
		logger.Info("No mesh host configured, starting gateway discovery")

		gateways, err := mesh.Discover(ctx, mesh.DISCOVERY_TIMEOUT, logger)
		if err != nil {
			return nil, err
		}
		if len(gateways) == 0 {
			return nil, fmt.Errorf("no gateways found, set mesh_host in %s", config.DefaultSettingsPath())
		}

		host = gateways[0].Host()
		logger.Info("Using discovered gateway", "instance", gateways[0].Instance, "host", host)
	}

	client := mesh.NewClientWithLogger(host, logger)
	client.SetNodesPath(settings.MeshNodesPath)

	return client, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Mesh gateway host (overrides mesh_host)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", mesh.DEFAULT_POLL_INTERVAL, "Poll interval (overrides poll_interval)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Prometheus listen address (overrides metrics_addr)")
	serveCmd.Flags().BoolVar(&serveNoDBus, "no-dbus", false, "Do not expose the D-Bus service")
}
