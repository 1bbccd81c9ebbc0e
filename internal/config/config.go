// Package config provides configuration management for the balance tracker.
// It loads configuration from environment variables, .env files and an
// optional YAML accounts file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported exchanges
const (
	ExchangeKraken  = "kraken"
	ExchangeBinance = "binance"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Exchange ExchangeConfig
	Sync     SyncConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig
	Accounts []AccountConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration.
// URL, when set, takes precedence over the discrete fields.
type PostgresConfig struct {
	URL            string
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration. Redis is optional; an empty Host
// disables it.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	LockTTL        time.Duration
	CacheTTL       time.Duration
}

// ExchangeConfig holds exchange client settings shared by all accounts
type ExchangeConfig struct {
	KrakenBaseURL     string
	KrakenTier        string // call counter tier: starter, intermediate or pro
	RequestsPerSecond float64
	Timeout           time.Duration
	BreakerFailures   int
	BreakerCooldown   time.Duration
}

// SyncConfig holds trade sync configuration
type SyncConfig struct {
	InitialTradeLimit     int // bounded backfill when no trades are stored yet
	IncrementalTradeLimit int
}

// ScheduleConfig holds the snapshot worker schedule
type ScheduleConfig struct {
	RunAt          string // HH:MM in Timezone
	Timezone       string
	Location       *time.Location
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// AccountConfig describes one tracked exchange account
type AccountConfig struct {
	Exchange  string `yaml:"exchange"`
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type accountsFile struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// AccountID returns the identifier used to key stored data: the configured
// name, or the last 8 characters of the API key.
func (a AccountConfig) AccountID() string {
	if a.Name != "" {
		return a.Name
	}
	if len(a.APIKey) >= 8 {
		return a.APIKey[len(a.APIKey)-8:]
	}
	return a.APIKey
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				URL:            getEnv("DATABASE_URL", ""),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "trading"),
				User:           getEnv("POSTGRES_USER", "trading_user"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
				LockTTL:        getEnvAsDuration("REDIS_LOCK_TTL", 2*time.Minute),
				CacheTTL:       getEnvAsDuration("REDIS_CACHE_TTL", 10*time.Minute),
			},
		},
		Exchange: ExchangeConfig{
			KrakenBaseURL:     getEnv("KRAKEN_BASE_URL", "https://api.kraken.com"),
			KrakenTier:        getEnv("KRAKEN_TIER", "starter"),
			RequestsPerSecond: getEnvAsFloat("EXCHANGE_REQUESTS_PER_SECOND", 1),
			Timeout:           getEnvAsDuration("EXCHANGE_TIMEOUT", 30*time.Second),
			BreakerFailures:   getEnvAsInt("EXCHANGE_BREAKER_FAILURES", 5),
			BreakerCooldown:   getEnvAsDuration("EXCHANGE_BREAKER_COOLDOWN", time.Minute),
		},
		Sync: SyncConfig{
			InitialTradeLimit:     getEnvAsInt("TRADES_INITIAL_LIMIT", 1000),
			IncrementalTradeLimit: getEnvAsInt("TRADES_INCREMENTAL_LIMIT", 500),
		},
		Schedule: ScheduleConfig{
			RunAt:          getEnv("SNAPSHOT_RUN_AT", "00:05"),
			Timezone:       getEnv("SNAPSHOT_TIMEZONE", "UTC"),
			MaxAttempts:    getEnvAsInt("SNAPSHOT_MAX_ATTEMPTS", 3),
			InitialBackoff: getEnvAsDuration("SNAPSHOT_INITIAL_BACKOFF", 30*time.Second),
			MaxBackoff:     getEnvAsDuration("SNAPSHOT_MAX_BACKOFF", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	loc, err := time.LoadLocation(config.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SNAPSHOT_TIMEZONE %q: %w", config.Schedule.Timezone, err)
	}
	config.Schedule.Location = loc

	if _, _, err := config.Schedule.Clock(); err != nil {
		return nil, err
	}

	accounts, err := loadAccounts()
	if err != nil {
		return nil, err
	}
	config.Accounts = accounts

	return config, nil
}

// loadAccounts reads ACCOUNTS_FILE when set, otherwise builds a single Kraken
// account from the KRAKEN_* variables.
func loadAccounts() ([]AccountConfig, error) {
	path := getEnv("ACCOUNTS_FILE", "")
	if path == "" {
		key := getEnv("KRAKEN_API_KEY", getEnv("KRAKEN_MAIN_API_KEY", ""))
		if key == "" {
			return nil, nil
		}
		return []AccountConfig{{
			Exchange:  ExchangeKraken,
			Name:      getEnv("ACCOUNT_ID", ""),
			APIKey:    key,
			APISecret: getEnv("KRAKEN_API_SECRET", getEnv("KRAKEN_MAIN_API_SECRET", "")),
		}}, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	return parseAccounts(data)
}

// parseAccounts decodes the YAML accounts document. ${VAR} references are
// expanded from the environment so secrets can stay out of the file.
func parseAccounts(data []byte) ([]AccountConfig, error) {
	var file accountsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	seen := make(map[string]bool)
	for i := range file.Accounts {
		acc := &file.Accounts[i]
		acc.Exchange = strings.ToLower(strings.TrimSpace(acc.Exchange))
		if acc.Exchange == "" {
			acc.Exchange = ExchangeKraken
		}
		if acc.Exchange != ExchangeKraken && acc.Exchange != ExchangeBinance {
			return nil, fmt.Errorf("account %d: unsupported exchange %q", i, acc.Exchange)
		}
		if acc.APIKey == "" {
			return nil, fmt.Errorf("account %d: api_key is required", i)
		}
		key := acc.Exchange + "/" + acc.AccountID()
		if seen[key] {
			return nil, fmt.Errorf("duplicate account %s", key)
		}
		seen[key] = true
	}

	return file.Accounts, nil
}

// FindAccount returns the configured account matching exchange and id. An
// empty id matches the only account of that exchange.
func (c *Config) FindAccount(exchange, id string) (AccountConfig, error) {
	var matches []AccountConfig
	for _, acc := range c.Accounts {
		if acc.Exchange != exchange {
			continue
		}
		if id == "" || acc.AccountID() == id {
			matches = append(matches, acc)
		}
	}

	switch len(matches) {
	case 0:
		return AccountConfig{}, fmt.Errorf("no %s account configured for %q", exchange, id)
	case 1:
		return matches[0], nil
	default:
		return AccountConfig{}, fmt.Errorf("%d %s accounts configured, specify one with --account", len(matches), exchange)
	}
}

// DSN returns the pgx connection string
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		p.Host, p.Port, p.User, p.Password, p.Database, p.MaxConnections,
	)
}

// MigrationURL returns the URL form expected by golang-migrate
func (p PostgresConfig) MigrationURL() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database,
	)
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Clock parses RunAt into hour and minute
func (s ScheduleConfig) Clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.RunAt)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid SNAPSHOT_RUN_AT %q (want HH:MM): %w", s.RunAt, err)
	}
	return t.Hour(), t.Minute(), nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
