// Package config loads gateway configuration from flags and environment
// variables, following the docker-controller command's getEnv fallback
// convention so every value remains overridable without a rebuild.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// DefaultWorkspacePath is the conventional in-container workspace directory
// used when a session does not specify one explicitly.
const DefaultWorkspacePath = "/home/developer/workspace"

// Config holds all gateway runtime configuration.
type Config struct {
	// ListenAddr is the TCP address the WebSocket listener binds to.
	ListenAddr string

	// DockerHost is the container engine's domain-socket address.
	DockerHost string

	// LanguageServerBin is the executable name started inside the
	// container for each session.
	LanguageServerBin string

	// AttachTimeout bounds the container Verify+Attach sequence.
	AttachTimeout time.Duration

	// PendingBufferCap bounds the number of client messages buffered
	// before the language server is ready.
	PendingBufferCap int

	// ShutdownDrainTimeout bounds how long the signal handler waits for
	// live sessions to finish teardown before forcing exit.
	ShutdownDrainTimeout time.Duration

	// LogLevel is a zerolog level name.
	LogLevel string

	// LogPretty selects console-formatted logs over JSON.
	LogPretty bool
}

// Load parses command-line flags, falling back to environment variables and
// then to hardcoded defaults.
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("GATEWAY_LISTEN_ADDR", ":3001"), "TCP address for the WebSocket listener")
	flag.StringVar(&cfg.DockerHost, "docker-host", getEnv("DOCKER_HOST", "unix:///var/run/docker.sock"), "container engine domain socket")
	flag.StringVar(&cfg.LanguageServerBin, "language-server", getEnv("LSP_GATEWAY_LANGUAGE_SERVER", "rust-analyzer"), "language server executable")
	flag.DurationVar(&cfg.AttachTimeout, "attach-timeout", getEnvDuration("LSP_GATEWAY_ATTACH_TIMEOUT", 10*time.Second), "container verify+attach timeout")
	flag.IntVar(&cfg.PendingBufferCap, "pending-buffer-cap", getEnvInt("LSP_GATEWAY_PENDING_BUFFER_CAP", 500), "max buffered client messages before the language server is ready")
	flag.DurationVar(&cfg.ShutdownDrainTimeout, "shutdown-drain-timeout", getEnvDuration("LSP_GATEWAY_SHUTDOWN_DRAIN_TIMEOUT", 10*time.Second), "time allotted to drain live sessions on shutdown")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LSP_GATEWAY_LOG_LEVEL", "info"), "log level")
	flag.BoolVar(&cfg.LogPretty, "log-pretty", getEnvBool("LSP_GATEWAY_LOG_PRETTY", false), "use human-readable console logs")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
