package profiling

import (
	"log/slog"
	"os"

	"bikeflow/pkg/otel"

	"github.com/grafana/pyroscope-go"
)

// InitProfiling starts continuous profiling when PYROSCOPE_PROFILING_ENABLED is set
func InitProfiling() (func(), error) {
	if !otel.IsTrue(os.Getenv("PYROSCOPE_PROFILING_ENABLED")) {
		slog.Debug("Pyroscope profiling is disabled")
		return func() {}, nil
	}

	serverAddress := getEnv("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040")
	applicationName := getEnv("PYROSCOPE_APPLICATION_NAME", otel.ServiceName)

	config := pyroscope.Config{
		ApplicationName: applicationName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": otel.ServiceName,
			"version": otel.Version,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	}

	user := os.Getenv("PYROSCOPE_BASIC_AUTH_USER")
	password := os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD")
	if user != "" && password != "" {
		config.BasicAuthUser = user
		config.BasicAuthPassword = password
	}

	profiler, err := pyroscope.Start(config)
	if err != nil {
		slog.Warn("Failed to start Pyroscope profiler", "error", err)
		return func() {}, nil
	}

	slog.Debug("Pyroscope profiling started", "server", serverAddress, "application", applicationName)

	return func() {
		if err := profiler.Stop(); err != nil {
			slog.Error("Error stopping Pyroscope profiler", "error", err)
		}
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
