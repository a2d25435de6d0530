package profiling

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/grafana/pyroscope-go"
)

// PyroscopeProfiler holds the Pyroscope profiler instance
type PyroscopeProfiler struct {
	profiler *pyroscope.Profiler
}

// StartPyroscope initializes and starts Pyroscope continuous profiling.
// It reads configuration from environment variables:
// - ENABLE_CONTINUOUS_PROFILING: Set to "true" to enable (default: false)
// - PYROSCOPE_SERVER_URL: Pyroscope server address (default: http://pyroscope:4040)
// - PYROSCOPE_ENVIRONMENT: Environment tag (default: development)
//
// Returns nil if continuous profiling is disabled.
// Returns error if profiling is enabled but initialization fails.
func StartPyroscope(serviceName string) (*PyroscopeProfiler, error) {
	enabled := os.Getenv("ENABLE_CONTINUOUS_PROFILING")
	if enabled != "true" {
		return nil, nil // Not an error - just disabled
	}

	serverURL := os.Getenv("PYROSCOPE_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://pyroscope:4040"
	}

	environment := os.Getenv("PYROSCOPE_ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "unknown"
	}

	config := pyroscope.Config{
		ApplicationName: fmt.Sprintf("eventscrape.%s", serviceName),
		ServerAddress:   serverURL,

		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},

		// Tags for filtering and grouping
		Tags: map[string]string{
			"environment": environment,
			"version":     version,
			"hostname":    getHostname(),
			"go_version":  runtime.Version(),
		},
	}

	profiler, err := pyroscope.Start(config)
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	log.Printf("Pyroscope continuous profiling started: service=%s server=%s environment=%s",
		config.ApplicationName, serverURL, environment)

	return &PyroscopeProfiler{profiler: profiler}, nil
}

// Stop gracefully stops the Pyroscope profiler
func (p *PyroscopeProfiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}
	return p.profiler.Stop()
}

// getHostname returns the container hostname or "unknown"
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
