package otel

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Protocol represents OTLP transport protocol
type Protocol string

const (
	ProtocolGRPC         Protocol = "grpc"
	ProtocolHTTPProtobuf Protocol = "http/protobuf"
	ProtocolHTTPJSON     Protocol = "http/json"
)

// SignalType represents the OTEL signal type
type SignalType string

const (
	SignalTraces  SignalType = "traces"
	SignalMetrics SignalType = "metrics"
)

// ExporterConfig holds parsed OTLP exporter configuration for a signal
type ExporterConfig struct {
	Endpoint    string
	Protocol    Protocol
	Headers     map[string]string
	Timeout     time.Duration
	Insecure    bool
	Compression string
}

// IsTracingEnabled returns true if OTEL tracing is enabled
func IsTracingEnabled() bool {
	return IsTrue(os.Getenv("OTEL_TRACING_ENABLED"))
}

// IsMetricsEnabled returns true if OTEL metrics is enabled
func IsMetricsEnabled() bool {
	return IsTrue(os.Getenv("OTEL_METRICS_ENABLED"))
}

// GetExporterConfig resolves the exporter settings for one signal.
// OTEL_EXPORTER_OTLP_<SIGNAL>_* variables win over OTEL_EXPORTER_OTLP_*.
func GetExporterConfig(signal SignalType) ExporterConfig {
	lookup := signalLookup(signal)

	protocol := parseProtocol(lookup("PROTOCOL", "http/protobuf"))
	endpoint := resolveEndpoint(signal, protocol)

	return ExporterConfig{
		Endpoint:    endpoint,
		Protocol:    protocol,
		Headers:     parseHeaders(lookup("HEADERS", "")),
		Timeout:     parseDuration(lookup("TIMEOUT", ""), 10*time.Second),
		Insecure:    resolveInsecure(lookup("INSECURE", ""), endpoint),
		Compression: lookup("COMPRESSION", ""),
	}
}

// signalLookup returns a getter that checks the signal specific variable,
// then the shared one, then the default.
func signalLookup(signal SignalType) func(suffix, def string) string {
	upper := strings.ToUpper(string(signal))
	return func(suffix, def string) string {
		if v := os.Getenv("OTEL_EXPORTER_OTLP_" + upper + "_" + suffix); v != "" {
			return v
		}
		if v := os.Getenv("OTEL_EXPORTER_OTLP_" + suffix); v != "" {
			return v
		}
		return def
	}
}

func parseProtocol(s string) Protocol {
	switch strings.ToLower(s) {
	case "grpc":
		return ProtocolGRPC
	case "http/json":
		return ProtocolHTTPJSON
	default:
		return ProtocolHTTPProtobuf
	}
}

// resolveEndpoint prefers the signal endpoint as-is, then the base endpoint
// with /v1/<signal> appended, then the collector default.
func resolveEndpoint(signal SignalType, protocol Protocol) string {
	upper := strings.ToUpper(string(signal))

	if ep := os.Getenv("OTEL_EXPORTER_OTLP_" + upper + "_ENDPOINT"); ep != "" {
		return normalizeEndpoint(ep, protocol)
	}
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		return appendSignalPath(normalizeEndpoint(ep, protocol), signal, protocol)
	}

	if protocol == ProtocolGRPC {
		return "localhost:4317"
	}
	return "http://localhost:4318/v1/" + string(signal)
}

// normalizeEndpoint strips gRPC endpoints down to host:port and gives HTTP
// endpoints a scheme.
func normalizeEndpoint(endpoint string, protocol Protocol) string {
	if protocol == ProtocolGRPC {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		host, _, _ := strings.Cut(endpoint, "/")
		return host
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return "https://" + endpoint
	}
	return endpoint
}

func appendSignalPath(endpoint string, signal SignalType, protocol Protocol) string {
	if protocol == ProtocolGRPC {
		return endpoint
	}

	signalPath := "/v1/" + string(signal)

	u, err := url.Parse(endpoint)
	if err != nil {
		return strings.TrimSuffix(endpoint, "/") + signalPath
	}
	if strings.HasSuffix(u.Path, signalPath) {
		return endpoint
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + signalPath
	return u.String()
}

// resolveInsecure honours an explicit setting, otherwise plain http is insecure
func resolveInsecure(explicit, endpoint string) bool {
	if explicit != "" {
		return IsTrue(explicit)
	}
	return strings.HasPrefix(endpoint, "http://")
}

// IsTrue checks if a string represents a true value
func IsTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// parseHeaders parses "key1=value1,key2=value2". Values keep any '=' they
// contain, e.g. "Authorization=Basic dXNlcjpwYXNz".
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	if headerStr == "" {
		return headers
	}

	for _, pair := range strings.Split(headerStr, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}

// parseDuration accepts Go durations ("10s") and OTEL millisecond integers ("10000")
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
