package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"bikeflow/pkg/config"
	"bikeflow/pkg/logging"
	"bikeflow/pkg/metrics"
	"bikeflow/pkg/pipeline"
	"bikeflow/pkg/profiling"
	"bikeflow/pkg/server"
	"bikeflow/pkg/tracing"
	"bikeflow/pkg/traffic"
)

func main() {
	logging.InitLogging()

	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		fatal("Failed to load config", err)
	}

	// Command line flags; environment variables override the config file
	var (
		dryRun         = flag.Bool("dry-run", getEnvBool("BIKEFLOW_DRY_RUN", false), "Print snapshots to stdout instead of sending to Loki")
		serve          = flag.Bool("serve", getEnvBool("BIKEFLOW_SERVE", false), "Serve snapshots over HTTP instead of emitting them")
		stationsURL    = flag.String("stations-url", getEnv("BIKEFLOW_STATIONS_URL", cfg.StationsURL), "Station document URL or path")
		tripsURL       = flag.String("trips-url", getEnv("BIKEFLOW_TRIPS_URL", cfg.TripsURL), "Trip CSV URL or path")
		timeFilter     = flag.String("time-filter", getEnv("BIKEFLOW_TIME_FILTER", cfg.TimeFilter), "Time of day to filter on: -1, minutes since midnight or HH:MM")
		sweepStep      = flag.Int("sweep-step", getEnvInt("BIKEFLOW_SWEEP_STEP", cfg.SweepStep), "Emit a snapshot every N minutes of the day (0 emits one snapshot)")
		timezone       = flag.String("timezone", getEnv("BIKEFLOW_TIMEZONE", cfg.Timezone), "Timezone of trip timestamps without an offset")
		lokiURL        = flag.String("loki-url", getEnv("BIKEFLOW_LOKI_URL", cfg.Loki.URL), "Grafana Loki URL")
		lokiUser       = flag.String("loki-user", getEnv("BIKEFLOW_LOKI_USER", cfg.Loki.User), "Loki username (for Grafana Cloud authentication)")
		lokiPassword   = flag.String("loki-password", getEnv("BIKEFLOW_LOKI_PASSWORD", cfg.Loki.Password), "Loki password/token (for Grafana Cloud authentication)")
		addr           = flag.String("addr", getEnv("BIKEFLOW_ADDR", cfg.Server.Addr), "HTTP listen address in serve mode")
		allowedOrigins = flag.String("allowed-origins", getEnv("BIKEFLOW_ALLOWED_ORIGINS", strings.Join(cfg.Server.AllowedOrigins, ",")), "CORS origins, comma-separated (empty allows any)")
		cacheTTL       = flag.Duration("cache-ttl", getEnvDuration("BIKEFLOW_CACHE_TTL", cfg.Server.CacheTTL), "How long computed snapshots are cached in serve mode")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Bike-share station traffic\n\n")
		fmt.Fprintf(os.Stderr, "Loads a station list and a month of trips, counts departures and\n")
		fmt.Fprintf(os.Stderr, "arrivals per station around a time of day, and either pushes the\n")
		fmt.Fprintf(os.Stderr, "result to Grafana Loki or serves it to a map front end.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_CONFIG          - YAML file with defaults for the options below\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_STATIONS_URL    - Station document URL or path\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_TRIPS_URL       - Trip CSV URL or path\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_TIME_FILTER     - Time of day filter (default: -1, no filter)\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_SWEEP_STEP      - Sweep step in minutes (default: 0)\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_TIMEZONE        - Trip timestamp timezone (default: America/New_York)\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_LOKI_URL        - Loki URL (default: http://localhost:3100)\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_LOKI_USER       - Loki username (for Grafana Cloud)\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_LOKI_PASSWORD   - Loki password/token (for Grafana Cloud)\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_ADDR            - HTTP listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  BIKEFLOW_ALLOWED_ORIGINS - CORS origins, comma-separated\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL, LOG_FORMAT    - Logging level and format (text or json)\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Dry run for 8:30 AM\n")
		fmt.Fprintf(os.Stderr, "  %s --dry-run --time-filter=08:30\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Push a snapshot every 30 minutes of the day to Loki\n")
		fmt.Fprintf(os.Stderr, "  %s --sweep-step=30 --loki-url=http://localhost:3100\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Serve the map API\n")
		fmt.Fprintf(os.Stderr, "  %s --serve --addr=:8080\n\n", os.Args[0])
	}

	flag.Parse()

	filter, err := traffic.ParseTimeFilter(*timeFilter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	cfg.Timezone = *timezone
	location, err := cfg.Location()
	if err != nil {
		fatal("Invalid timezone", err)
	}

	shutdownTracing, err := tracing.InitTracing()
	if err != nil {
		fatal("Failed to initialize tracing", err)
	}
	defer shutdownTracing()

	shutdownMetrics, err := metrics.InitMetrics()
	if err != nil {
		fatal("Failed to initialize metrics", err)
	}
	defer shutdownMetrics()

	shutdownProfiling, err := profiling.InitProfiling()
	if err != nil {
		fatal("Failed to initialize profiling", err)
	}
	defer shutdownProfiling()

	pipelineInstance, err := pipeline.New(pipeline.Config{
		DryRun:       *dryRun,
		Serve:        *serve,
		StationsURL:  *stationsURL,
		TripsURL:     *tripsURL,
		LokiURL:      *lokiURL,
		LokiUser:     *lokiUser,
		LokiPassword: *lokiPassword,
		TimeFilter:   filter,
		SweepStep:    *sweepStep,
		Location:     location,
	})
	if err != nil {
		fatal("Failed to create pipeline", err)
	}

	switch {
	case *serve:
		slog.Info("Starting bikeflow in SERVE mode", "addr", *addr)
	case *dryRun:
		slog.Info("Starting bikeflow in DRY RUN mode", "detail", "snapshots are printed to stdout, not sent to Loki")
	default:
		slog.Info("Starting bikeflow in PRODUCTION mode", "loki_url", *lokiURL)
	}
	slog.Info("Datasets", "stations", *stationsURL, "trips", *tripsURL, "timezone", location.String())
	slog.Info("Snapshots", "time_filter", filter.Key(), "sweep_step", *sweepStep)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if !*serve {
			errChan <- pipelineInstance.Run(ctx)
			return
		}

		state, err := pipelineInstance.Load(ctx)
		if err != nil {
			errChan <- err
			return
		}
		srv := server.New(state, server.Options{
			AllowedOrigins: splitList(*allowedOrigins),
			CacheTTL:       *cacheTTL,
			MapWidth:       cfg.Server.MapWidth,
			MapHeight:      cfg.Server.MapHeight,
		})
		errChan <- srv.ListenAndServe(ctx, *addr)
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down gracefully", "signal", sig.String())
		cancel()
		select {
		case <-time.After(35 * time.Second):
			slog.Warn("Shutdown timeout, forcing exit")
		case <-errChan:
			slog.Info("bikeflow stopped")
		}
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			shutdownProfiling()
			shutdownMetrics()
			shutdownTracing()
			fatal("bikeflow failed", err)
		}
		slog.Info("bikeflow stopped")
	}

	slog.Info("bikeflow shutdown complete")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// getEnv returns the value of an environment variable or a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
