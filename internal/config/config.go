// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXARB_* environment variables.
type Config struct {
	Identity  IdentityConfig  `toml:"identity"`
	Network   NetworkConfig   `toml:"network"`
	Trade     TradeConfig     `toml:"trade"`
	Pairs     []PairConfig    `toml:"pairs"`
	Allowance AllowanceConfig `toml:"allowance"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// IdentityConfig says where the secp256k1 trading identity lives. The first
// non-empty source wins: private_key, encrypted_key_path, pem_path.
type IdentityConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	PEMPath          string `toml:"pem_path"`
}

// Configured reports whether any identity source is set.
func (c IdentityConfig) Configured() bool {
	return c.PrivateKey != "" || c.EncryptedKeyPath != "" || c.PEMPath != ""
}

// NetworkConfig holds the canister gateway endpoint.
type NetworkConfig struct {
	GatewayURL string   `toml:"gateway_url"`
	Timeout    duration `toml:"timeout"`
	IngressTTL duration `toml:"ingress_ttl"`
	APIKey     string   `toml:"api_key"`
	APISecret  string   `toml:"api_secret"`
	// SwapPollInterval and SwapPollTimeout bound how long an async Kong swap
	// is awaited.
	SwapPollInterval duration `toml:"swap_poll_interval"`
	SwapPollTimeout  duration `toml:"swap_poll_timeout"`
}

// TradeConfig holds the monitor and execution parameters shared by all pairs.
type TradeConfig struct {
	// MinReceiveFactor is the fraction of each leg's expected output that
	// is accepted as the slippage floor.
	MinReceiveFactor float64  `toml:"min_receive_factor"`
	LoopInterval     duration `toml:"loop_interval"`
	// Cooldown is the pause after every execution attempt.
	Cooldown        duration `toml:"cooldown"`
	RestartCooldown duration `toml:"restart_cooldown"`
	// SlowMaxAge is how old the slow venue's cached state may get before it
	// is refreshed in the background.
	SlowMaxAge  duration `toml:"slow_max_age"`
	SlowTimeout duration `toml:"slow_timeout"`
	DedupTTL    duration `toml:"dedup_ttl"`
	// UseLocks runs each pair under a redis lease so two processes never
	// trade the same pair.
	UseLocks bool     `toml:"use_locks"`
	LockTTL  duration `toml:"lock_ttl"`
}

// TokenConfig describes one ICRC ledger.
type TokenConfig struct {
	Symbol   string  `toml:"symbol"`
	Ledger   string  `toml:"ledger"`
	Decimals int32   `toml:"decimals"`
	Fee      float64 `toml:"fee"`
}

// VenueConfig is one pool.
type VenueConfig struct {
	ID       string  `toml:"id"`
	Kind     string  `toml:"kind"`
	Canister string  `toml:"canister"`
	Ticker   string  `toml:"ticker"`
	FeeRate  float64 `toml:"fee_rate"`
}

// PairConfig is one [[pairs]] entry. Threshold, Epsilon and BaseAllowance
// are in the smallest ledger units of their token.
type PairConfig struct {
	Symbol        string      `toml:"symbol"`
	Base          TokenConfig `toml:"base"`
	Quote         TokenConfig `toml:"quote"`
	Fast          VenueConfig `toml:"fast"`
	Slow          VenueConfig `toml:"slow"`
	Threshold     float64     `toml:"threshold"`
	Epsilon       float64     `toml:"epsilon"`
	BaseAllowance float64     `toml:"base_allowance"`
}

// AllowanceConfig controls the in-process ICRC-2 allowance keeper.
type AllowanceConfig struct {
	Enabled      bool     `toml:"enabled"`
	TargetFactor float64  `toml:"target_factor"`
	TopUpRatio   float64  `toml:"top_up_ratio"`
	Interval     duration `toml:"interval"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	JournalPrefix  string `toml:"journal_prefix"`
	PartSizeMB     int    `toml:"part_size_mb"`
	// CompactInterval is how often the previous day's journal is rolled
	// into one archive object. Zero disables compaction.
	CompactInterval duration `toml:"compact_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; it needs redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
	Prefix            string   `toml:"prefix"`
	QueueSize         int      `toml:"queue_size"`
	SendTimeout       duration `toml:"send_timeout"`
	// AlertLimit caps noisy events per AlertWindow; it needs redis.
	AlertLimit  int      `toml:"alert_limit"`
	AlertWindow duration `toml:"alert_window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Network: NetworkConfig{
			GatewayURL:       "https://icp-api.io",
			Timeout:          duration{30 * time.Second},
			IngressTTL:       duration{4 * time.Minute},
			SwapPollInterval: duration{250 * time.Millisecond},
			SwapPollTimeout:  duration{30 * time.Second},
		},
		Trade: TradeConfig{
			MinReceiveFactor: 0.99,
			LoopInterval:     duration{200 * time.Millisecond},
			Cooldown:         duration{5 * time.Second},
			RestartCooldown:  duration{10 * time.Second},
			SlowMaxAge:       duration{2 * time.Second},
			SlowTimeout:      duration{30 * time.Second},
			DedupTTL:         duration{2 * time.Minute},
			LockTTL:          duration{30 * time.Second},
		},
		Allowance: AllowanceConfig{
			Enabled:      false,
			TargetFactor: 10,
			TopUpRatio:   0.9,
			Interval:     duration{100 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "dexarb-journal",
			ForcePathStyle:  true,
			JournalPrefix:   "executions",
			PartSizeMB:      5,
			CompactInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     false,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			DiscordUsername: "dexarb",
			Events: []string{
				domain.EventTradeExecuted,
				domain.EventLegFailed,
				domain.EventMonitorCrash,
				domain.EventSolverAnomaly,
				domain.EventAllowanceTopUp,
			},
			QueueSize:   256,
			SendTimeout: duration{10 * time.Second},
			AlertWindow: duration{time.Minute},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validKinds enumerates the supported venue protocols.
var validKinds = map[string]bool{
	string(domain.VenueKong):    true,
	string(domain.VenueICPSwap): true,
}

// DryRun reports whether executions are planned but never submitted.
func (c *Config) DryRun() bool {
	return strings.ToLower(c.Mode) != "trade"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Identity is needed to sign swaps and approvals.
	if strings.ToLower(c.Mode) == "trade" || c.Allowance.Enabled {
		if !c.Identity.Configured() {
			errs = append(errs, "identity: one of private_key, encrypted_key_path or pem_path must be set for mode "+c.Mode)
		}
	}
	if c.Identity.EncryptedKeyPath != "" && c.Identity.KeyPassword == "" {
		errs = append(errs, "identity: key_password is required when encrypted_key_path is set")
	}

	// Network
	if c.Network.GatewayURL == "" {
		errs = append(errs, "network: gateway_url must not be empty")
	}
	if (c.Network.APIKey == "") != (c.Network.APISecret == "") {
		errs = append(errs, "network: api_key and api_secret must be set together")
	}

	// Trade
	if c.Trade.MinReceiveFactor <= 0 || c.Trade.MinReceiveFactor > 1 {
		errs = append(errs, fmt.Sprintf("trade: min_receive_factor must be in (0, 1], got %g", c.Trade.MinReceiveFactor))
	}
	if c.Trade.LoopInterval.Duration < 0 {
		errs = append(errs, "trade: loop_interval must be >= 0")
	}
	if c.Trade.RestartCooldown.Duration <= 0 {
		errs = append(errs, "trade: restart_cooldown must be > 0")
	}
	if c.Trade.UseLocks && !c.Redis.Enabled {
		errs = append(errs, "trade: use_locks requires redis.enabled")
	}

	// Pairs
	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one [[pairs]] entry is required")
	}
	seen := make(map[string]bool, len(c.Pairs))
	for i, p := range c.Pairs {
		if err := p.Domain().Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("pairs[%d]: %v", i, err))
		}
		if seen[p.Symbol] {
			errs = append(errs, fmt.Sprintf("pairs[%d]: duplicate symbol %q", i, p.Symbol))
		}
		seen[p.Symbol] = true
		for _, v := range []VenueConfig{p.Fast, p.Slow} {
			if !validKinds[strings.ToLower(v.Kind)] {
				errs = append(errs, fmt.Sprintf("pairs[%d]: venue %q has unknown kind %q (valid: kong, icpswap)", i, v.ID, v.Kind))
			}
			if v.Canister == "" {
				errs = append(errs, fmt.Sprintf("pairs[%d]: venue %q needs a canister", i, v.ID))
			}
			if v.FeeRate < 0 || v.FeeRate >= 1 {
				errs = append(errs, fmt.Sprintf("pairs[%d]: venue %q fee_rate must be in [0, 1)", i, v.ID))
			}
		}
	}

	// Allowance
	if c.Allowance.Enabled {
		if c.Allowance.TargetFactor <= 0 {
			errs = append(errs, "allowance: target_factor must be > 0 when enabled")
		}
		if c.Allowance.TopUpRatio <= 0 || c.Allowance.TopUpRatio > 1 {
			errs = append(errs, "allowance: top_up_ratio must be in (0, 1]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
