package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("SNAPSHOT_TIMEZONE", "Europe/Berlin")
	t.Setenv("SNAPSHOT_RUN_AT", "01:30")
	t.Setenv("TRADES_INCREMENTAL_LIMIT", "250")
	t.Setenv("ACCOUNTS_FILE", "")
	t.Setenv("KRAKEN_API_KEY", "abcdefgh12345678")
	t.Setenv("KRAKEN_API_SECRET", "c2VjcmV0")
	t.Setenv("ACCOUNT_ID", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "testhost", cfg.Database.Postgres.Host)
	assert.Equal(t, "Europe/Berlin", cfg.Schedule.Location.String())
	assert.Equal(t, 1000, cfg.Sync.InitialTradeLimit)
	assert.Equal(t, 250, cfg.Sync.IncrementalTradeLimit)

	hour, minute, err := cfg.Schedule.Clock()
	require.NoError(t, err)
	assert.Equal(t, 1, hour)
	assert.Equal(t, 30, minute)

	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, ExchangeKraken, cfg.Accounts[0].Exchange)
	assert.Equal(t, "12345678", cfg.Accounts[0].AccountID())
}

func TestLoadConfigRejectsBadTimezone(t *testing.T) {
	t.Setenv("SNAPSHOT_TIMEZONE", "Mars/Olympus")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadRunAt(t *testing.T) {
	t.Setenv("SNAPSHOT_TIMEZONE", "UTC")
	t.Setenv("SNAPSHOT_RUN_AT", "25:99")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadAccountsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	doc := `
accounts:
  - exchange: Kraken
    name: main
    api_key: ${TEST_KRAKEN_KEY}
    api_secret: c2VjcmV0
  - exchange: binance
    api_key: binancekey-0000XYZW
    api_secret: s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("TEST_KRAKEN_KEY", "expanded-key")
	t.Setenv("ACCOUNTS_FILE", path)

	accounts, err := loadAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, ExchangeKraken, accounts[0].Exchange)
	assert.Equal(t, "expanded-key", accounts[0].APIKey)
	assert.Equal(t, "main", accounts[0].AccountID())
	assert.Equal(t, ExchangeBinance, accounts[1].Exchange)
	assert.Equal(t, "0000XYZW", accounts[1].AccountID())
}

func TestParseAccountsValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "unsupported exchange",
			doc:  "accounts:\n  - exchange: ftx\n    api_key: k\n",
		},
		{
			name: "missing key",
			doc:  "accounts:\n  - exchange: kraken\n    name: a\n",
		},
		{
			name: "duplicate account",
			doc:  "accounts:\n  - {exchange: kraken, name: a, api_key: k1}\n  - {exchange: kraken, name: a, api_key: k2}\n",
		},
		{
			name: "malformed yaml",
			doc:  "accounts: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAccounts([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestAccountID(t *testing.T) {
	assert.Equal(t, "named", AccountConfig{Name: "named", APIKey: "whatever123"}.AccountID())
	assert.Equal(t, "45678901", AccountConfig{APIKey: "12345678901"}.AccountID())
	assert.Equal(t, "short", AccountConfig{APIKey: "short"}.AccountID())
}

func TestFindAccount(t *testing.T) {
	cfg := &Config{Accounts: []AccountConfig{
		{Exchange: ExchangeKraken, Name: "main", APIKey: "k1"},
		{Exchange: ExchangeKraken, Name: "savings", APIKey: "k2"},
		{Exchange: ExchangeBinance, Name: "spot", APIKey: "k3"},
	}}

	acc, err := cfg.FindAccount(ExchangeKraken, "savings")
	require.NoError(t, err)
	assert.Equal(t, "k2", acc.APIKey)

	acc, err = cfg.FindAccount(ExchangeBinance, "")
	require.NoError(t, err)
	assert.Equal(t, "spot", acc.Name)

	_, err = cfg.FindAccount(ExchangeKraken, "")
	assert.Error(t, err, "ambiguous without an id")

	_, err = cfg.FindAccount(ExchangeKraken, "missing")
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: "5432", User: "u", Password: "p", Database: "d", MaxConnections: 4}
	assert.Contains(t, p.DSN(), "host=h")
	assert.Contains(t, p.DSN(), "pool_max_conns=4")
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", p.MigrationURL())

	p.URL = "postgres://override/db"
	assert.Equal(t, p.URL, p.DSN())
	assert.Equal(t, p.URL, p.MigrationURL())
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "custom")
	assert.Equal(t, "custom", getEnv("TEST_KEY", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_KEY_PNL", "default"))
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			assert.Equal(t, tt.want, getEnvAsInt(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			assert.Equal(t, tt.want, getEnvAsDuration(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	assert.Equal(t, 2.5, getEnvAsFloat("TEST_FLOAT", 1))

	t.Setenv("TEST_FLOAT_NEG", "-1")
	assert.Equal(t, 1.0, getEnvAsFloat("TEST_FLOAT_NEG", 1))
}
