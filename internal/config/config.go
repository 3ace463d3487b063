// Package config loads loghoi's runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable knob the service reads at startup.
type Config struct {
	// ListenAddr is the HTTP + websocket listen address.
	ListenAddr string

	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// requests before forcing close.
	ShutdownTimeout time.Duration

	// MetricsEnabled gates whether /metrics is mounted (§4.10).
	MetricsEnabled bool

	// AuditDBPath is the sqlite file backing the job audit log (§4.9).
	AuditDBPath string

	// CaptureConfigPath points at the {LOGFILE_LIST:[...]} JSON document.
	CaptureConfigPath string
	// CommandConfigPath points at the {COMMAND_LIST:[...]} JSON document.
	CommandConfigPath string

	// OutputLogDir is where a collection job stages fetched files before
	// zipping (§4.4). OutputZipDir is where the finished archive lands and
	// is where the download/ziplist/logsinzip endpoints read from (§4.6).
	OutputLogDir string
	OutputZipDir string

	SSHKeyPath       string
	ElasticsearchURL string
	BackendHost      string
	BackendPort      int

	// HostUID/HostGID, when both >= 0, are applied to every produced file
	// after a collection job archives (§4.4 step 5). -1 means unset.
	HostUID int
	HostGID int

	Debug       bool
	LogLevel    string
	CORSOrigins string

	// MaxLinesPerSecond is the per-sink token-bucket capacity for C5 monitors.
	MaxLinesPerSecond int
	// IdleTimeoutSeconds is how long a session with no active monitor may sit idle.
	IdleTimeoutSeconds int

	SSHConnectTimeout time.Duration
	SCPTimeout        time.Duration
	IndexHTTPTimeout  time.Duration

	AddSSHMaxAttempts int
	AddSSHBackoffBase time.Duration
}

// DefaultConfig returns the documented defaults (spec.md §4-§6).
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8080",
		ShutdownTimeout:    15 * time.Second,
		MetricsEnabled:     true,
		AuditDBPath:        "./output/loghoi-audit.db",
		CaptureConfigPath:  "./config/logfile_list.json",
		CommandConfigPath:  "./config/command_list.json",
		OutputLogDir:       "./output/log",
		OutputZipDir:       "./output/zip",
		SSHKeyPath:         "",
		ElasticsearchURL:   "http://localhost:9200",
		BackendHost:        "0.0.0.0",
		BackendPort:        8080,
		HostUID:            -1,
		HostGID:            -1,
		Debug:              false,
		LogLevel:           "info",
		CORSOrigins:        "*",
		MaxLinesPerSecond:  20,
		IdleTimeoutSeconds: 300,
		SSHConnectTimeout:  10 * time.Second,
		SCPTimeout:         60 * time.Second,
		IndexHTTPTimeout:   30 * time.Second,
		AddSSHMaxAttempts:  5,
		AddSSHBackoffBase:  2 * time.Second,
	}
}

// FromEnv builds a Config from defaults overridden by environment variables.
func FromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = v != "false" && v != "0"
	}
	if v := os.Getenv("AUDIT_DB_PATH"); v != "" {
		cfg.AuditDBPath = v
	}
	if v := os.Getenv("CAPTURE_CONFIG_PATH"); v != "" {
		cfg.CaptureConfigPath = v
	}
	if v := os.Getenv("COMMAND_CONFIG_PATH"); v != "" {
		cfg.CommandConfigPath = v
	}
	if v := os.Getenv("OUTPUT_LOG_DIR"); v != "" {
		cfg.OutputLogDir = v
	}
	if v := os.Getenv("OUTPUT_ZIP_DIR"); v != "" {
		cfg.OutputZipDir = v
	}
	if v := os.Getenv("SSH_KEY_PATH"); v != "" {
		cfg.SSHKeyPath = v
	}
	if v := os.Getenv("ELASTICSEARCH_URL"); v != "" {
		cfg.ElasticsearchURL = v
	}
	if v := os.Getenv("BACKEND_HOST"); v != "" {
		cfg.BackendHost = v
	}
	if v := os.Getenv("BACKEND_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackendPort = n
		}
	}
	if v := os.Getenv("HOST_UID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HostUID = n
		}
	}
	if v := os.Getenv("HOST_GID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HostGID = n
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = v
	}

	return cfg
}

// Validate rejects configurations that would fail at runtime anyway.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: ListenAddr must not be empty")
	}
	if c.MaxLinesPerSecond <= 0 {
		return fmt.Errorf("config: MaxLinesPerSecond must be positive, got %d", c.MaxLinesPerSecond)
	}
	if c.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("config: IdleTimeoutSeconds must be positive, got %d", c.IdleTimeoutSeconds)
	}
	if c.AddSSHMaxAttempts <= 0 {
		return fmt.Errorf("config: AddSSHMaxAttempts must be positive, got %d", c.AddSSHMaxAttempts)
	}
	if (c.HostUID >= 0) != (c.HostGID >= 0) {
		return fmt.Errorf("config: HOST_UID and HOST_GID must be set together")
	}
	return nil
}

// HasOwnershipNormalization reports whether HOST_UID/HOST_GID were both set.
func (c Config) HasOwnershipNormalization() bool {
	return c.HostUID >= 0 && c.HostGID >= 0
}

// IdleTimeout is IdleTimeoutSeconds as a time.Duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// LogDir is the directory a collection job stages fetched files under.
func (c Config) LogDir() string { return c.OutputLogDir }

// ZipDir is the directory finished collection archives land in.
func (c Config) ZipDir() string { return c.OutputZipDir }
