package loadgen

import (
	"errors"
	"flag"
	"time"
)

// Config holds operator-load-simulator configuration.
type Config struct {
	// Addr is the loghoid websocket endpoint, e.g. "ws://localhost:8080/ws".
	Addr string

	// Sessions is the number of concurrent operator sessions to open.
	Sessions int

	// Duration is how long each session stays connected before disconnecting.
	Duration time.Duration

	// HeartbeatInterval is how often a session sends a heartbeat event.
	HeartbeatInterval time.Duration

	// CVMs is the number of distinct synthetic CVM IPs start_tail_f targets
	// are drawn from.
	CVMs int

	// ErrorRate is the percentage (0-100) of sessions that target a CVM IP
	// expected to fail SSH connect, exercising the AddSSH retry/backoff path.
	ErrorRate int

	Verbose bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              "ws://localhost:8080/ws",
		Sessions:           50,
		Duration:          time.Minute,
		HeartbeatInterval: 5 * time.Second,
		CVMs:              20,
		ErrorRate:         5,
		Verbose:           false,
	}
}

// ParseFlags parses command-line flags into Config.
func ParseFlags() Config {
	cfg := DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "loghoid websocket address")
	flag.IntVar(&cfg.Sessions, "sessions", cfg.Sessions, "concurrent operator sessions")
	flag.DurationVar(&cfg.Duration, "duration", cfg.Duration, "how long each session stays connected")
	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "heartbeat send interval")
	flag.IntVar(&cfg.CVMs, "cvms", cfg.CVMs, "number of synthetic CVM IPs to target")
	flag.IntVar(&cfg.ErrorRate, "error-rate", cfg.ErrorRate, "percentage of sessions targeting an unreachable CVM (0-100)")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "enable verbose logging")

	flag.Parse()
	return cfg
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if c.Sessions <= 0 {
		return errors.New("sessions must be positive")
	}
	if c.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat-interval must be positive")
	}
	if c.CVMs <= 0 {
		return errors.New("cvms must be positive")
	}
	if c.ErrorRate < 0 || c.ErrorRate > 100 {
		return errors.New("error-rate must be between 0 and 100")
	}
	return nil
}
