// Package config centralizes environment-variable configuration for the
// supervisor and wallet-worker processes, with an optional YAML overlay
// that environment variables take precedence over. Config fields are not
// set from command-line flags; the only flag Load sees is the YAML path.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the service reads at startup. Field names
// track the environment variables they are sourced from.
type Config struct {
	// Wallet node client
	APIURL      string        `yaml:"api_url"`
	APIToken    string        `yaml:"api_token"`
	HTTPTimeout time.Duration `yaml:"-"`
	SendTimeout time.Duration `yaml:"-"`

	// Postgres durable store
	PostgresURL            string `yaml:"postgres_url"`
	PostgresMinConnections int    `yaml:"postgres_min_connections"`
	PostgresMaxConnections int    `yaml:"postgres_max_connections"`

	// Job & watcher engine
	RefreshInterval          time.Duration `yaml:"-"`
	MaxRefreshRetries        int           `yaml:"max_refresh_retries"`
	RetryDelayBase           time.Duration `yaml:"-"`
	InvoiceWatcherExpiration time.Duration `yaml:"-"`
	WalletLockTTL            time.Duration `yaml:"-"`

	// Supervisor / wallet worker
	PollInterval             time.Duration `yaml:"-"`
	WalletWorkerIdleTimeout  time.Duration `yaml:"-"`
	WalletWorkerPollInterval time.Duration `yaml:"-"`
	MaxWalletProcesses       int           `yaml:"max_wallet_processes"`
	ShutdownGracePeriod      time.Duration `yaml:"-"`

	// Withdrawal orchestrator
	WithdrawalBalanceWaitTimeout time.Duration `yaml:"-"`
	WithdrawalBalanceRetryDelay  time.Duration `yaml:"-"`

	// Ambient
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
	HealthAddr  string `yaml:"health_addr"`
	DataDir     string `yaml:"data_dir"`
}

// Default returns a Config populated with the same defaults as the
// reference implementation's environment-variable table, except that
// PostgresURL has no default (Load requires POSTGRES_URL to be set).
// There are no fields for WATCHER_TTL or ENABLE_RECOVERY: watcher
// recovery always runs at supervisor startup.
func Default() Config {
	return Config{
		APIURL:      "http://localhost:8000",
		HTTPTimeout: 30 * time.Second,
		SendTimeout: 60 * time.Second,

		PostgresMinConnections: 2,
		PostgresMaxConnections: 10,

		RefreshInterval:          30 * time.Second,
		MaxRefreshRetries:        10,
		RetryDelayBase:           5 * time.Second,
		InvoiceWatcherExpiration: 180 * time.Second,
		WalletLockTTL:            30 * time.Second,

		PollInterval:             1 * time.Second,
		WalletWorkerIdleTimeout:  60 * time.Second,
		WalletWorkerPollInterval: 5 * time.Second,
		MaxWalletProcesses:       50,
		ShutdownGracePeriod:      10 * time.Second,

		WithdrawalBalanceWaitTimeout: 600 * time.Second,
		WithdrawalBalanceRetryDelay:  40 * time.Second,

		LogLevel:   "info",
		LogJSON:    true,
		HealthAddr: ":9090",
		DataDir:    "./data",
	}
}

// Load builds a Config by layering, lowest to highest precedence:
// built-in defaults, an optional YAML file, then environment variables.
// Environment variables are the reference implementation's primary
// configuration surface (spec.md §6.2) so they take precedence over a
// YAML overlay meant only for local/dev convenience.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.APIURL = stringEnv("API_URL", cfg.APIURL)
	cfg.APIToken = stringEnv("API_TOKEN", cfg.APIToken)
	cfg.HTTPTimeout = secondsEnv("HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.SendTimeout = secondsEnv("SEND_TIMEOUT", cfg.SendTimeout)

	cfg.PostgresURL = stringEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresMinConnections = intEnv("POSTGRES_MIN_CONNECTIONS", cfg.PostgresMinConnections)
	cfg.PostgresMaxConnections = intEnv("POSTGRES_MAX_CONNECTIONS", cfg.PostgresMaxConnections)

	cfg.RefreshInterval = secondsEnv("REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.MaxRefreshRetries = intEnv("MAX_REFRESH_RETRIES", cfg.MaxRefreshRetries)
	cfg.RetryDelayBase = secondsEnv("RETRY_DELAY_BASE", cfg.RetryDelayBase)
	cfg.InvoiceWatcherExpiration = secondsEnv("INVOICE_WATCHER_EXPIRATION", cfg.InvoiceWatcherExpiration)
	cfg.WalletLockTTL = secondsEnv("WALLET_LOCK_TTL", cfg.WalletLockTTL)

	cfg.PollInterval = secondsEnv("POLL_INTERVAL", cfg.PollInterval)
	cfg.WalletWorkerIdleTimeout = secondsEnv("WALLET_WORKER_IDLE_TIMEOUT", cfg.WalletWorkerIdleTimeout)
	cfg.WalletWorkerPollInterval = secondsEnv("WALLET_WORKER_POLL_INTERVAL", cfg.WalletWorkerPollInterval)
	cfg.MaxWalletProcesses = intEnv("MAX_WALLET_PROCESSES", cfg.MaxWalletProcesses)

	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = boolEnv("LOG_JSON", cfg.LogJSON)
	cfg.HealthAddr = stringEnv("HEALTH_ADDR", cfg.HealthAddr)
	cfg.DataDir = stringEnv("DATA_DIR", cfg.DataDir)

	if cfg.APIURL == "" {
		return cfg, fmt.Errorf("API_URL is required")
	}
	if cfg.PostgresURL == "" {
		return cfg, fmt.Errorf("POSTGRES_URL is required")
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func secondsEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
