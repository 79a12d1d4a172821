package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Yua17/tftp/internal/transfer"
)

const (
	EnvListenAddr     = "TFTP_LISTEN_ADDR"
	EnvServerAddr     = "TFTP_SERVER_ADDR"
	EnvRoot           = "TFTP_ROOT"
	EnvTimeout        = "TFTP_TIMEOUT"
	EnvRequestRetries = "TFTP_REQUEST_RETRIES"
	EnvBlockRetries   = "TFTP_BLOCK_RETRIES"
	EnvAwaitFinalAck  = "TFTP_AWAIT_FINAL_ACK"
	EnvDatabaseURL    = "TFTP_DATABASE_URL"
	EnvLogLevel       = "TFTP_LOG_LEVEL"
)

const (
	DefaultListenAddr = ":17017"
	DefaultServerAddr = "127.0.0.1:17017"
	DefaultRoot       = "."
)

var ErrInvalidValue = errors.New("invalid configuration value")

type Config struct {
	ListenAddr  string
	ServerAddr  string
	Root        string
	DatabaseURL string
	LogLevel    slog.Level

	Transfer transfer.Config
}

func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		ServerAddr: DefaultServerAddr,
		Root:       DefaultRoot,
		LogLevel:   slog.LevelInfo,
		Transfer:   transfer.DefaultConfig(),
	}
}

// Load starts from Default and applies every variable that is set.
func Load() (Config, error) {
	cfg := Default()

	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvServerAddr); v != "" {
		cfg.ServerAddr = v
	}
	if v := os.Getenv(EnvRoot); v != "" {
		cfg.Root = v
	}
	cfg.DatabaseURL = os.Getenv(EnvDatabaseURL)

	var err error
	if v := os.Getenv(EnvTimeout); v != "" {
		if cfg.Transfer.Timeout, err = ParseTimeout(v); err != nil {
			return Config{}, invalid(EnvTimeout, err)
		}
	}
	if v := os.Getenv(EnvRequestRetries); v != "" {
		if cfg.Transfer.RequestRetries, err = parseRetries(v); err != nil {
			return Config{}, invalid(EnvRequestRetries, err)
		}
	}
	if v := os.Getenv(EnvBlockRetries); v != "" {
		if cfg.Transfer.BlockRetries, err = parseRetries(v); err != nil {
			return Config{}, invalid(EnvBlockRetries, err)
		}
	}
	if v := os.Getenv(EnvAwaitFinalAck); v != "" {
		if cfg.Transfer.AwaitFinalAck, err = strconv.ParseBool(v); err != nil {
			return Config{}, invalid(EnvAwaitFinalAck, err)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		if cfg.LogLevel, err = ParseLevel(v); err != nil {
			return Config{}, invalid(EnvLogLevel, err)
		}
	}
	return cfg, nil
}

func invalid(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidValue, name, err)
}

// ParseTimeout accepts a Go duration. Zero and negative values are rejected.
func ParseTimeout(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return d, nil
}

func parseRetries(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("retry count must not be negative, got %d", n)
	}
	return n, nil
}

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
func ParseLevel(v string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return 0, err
	}
	return l, nil
}
