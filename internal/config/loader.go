package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Pairs are only configurable in the file.
func applyEnvOverrides(cfg *Config) {
	// ── Identity ──
	setStr(&cfg.Identity.PrivateKey, "DEXARB_IDENTITY_PRIVATE_KEY")
	setStr(&cfg.Identity.EncryptedKeyPath, "DEXARB_IDENTITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Identity.KeyPassword, "DEXARB_IDENTITY_KEY_PASSWORD")
	setStr(&cfg.Identity.PEMPath, "DEXARB_IDENTITY_PEM_PATH")

	// ── Network ──
	setStr(&cfg.Network.GatewayURL, "DEXARB_NETWORK_GATEWAY_URL")
	setDuration(&cfg.Network.Timeout, "DEXARB_NETWORK_TIMEOUT")
	setDuration(&cfg.Network.IngressTTL, "DEXARB_NETWORK_INGRESS_TTL")
	setStr(&cfg.Network.APIKey, "DEXARB_NETWORK_API_KEY")
	setStr(&cfg.Network.APISecret, "DEXARB_NETWORK_API_SECRET")
	setDuration(&cfg.Network.SwapPollInterval, "DEXARB_NETWORK_SWAP_POLL_INTERVAL")
	setDuration(&cfg.Network.SwapPollTimeout, "DEXARB_NETWORK_SWAP_POLL_TIMEOUT")

	// ── Trade ──
	setFloat64(&cfg.Trade.MinReceiveFactor, "DEXARB_TRADE_MIN_RECEIVE_FACTOR")
	setDuration(&cfg.Trade.LoopInterval, "DEXARB_TRADE_LOOP_INTERVAL")
	setDuration(&cfg.Trade.Cooldown, "DEXARB_TRADE_COOLDOWN")
	setDuration(&cfg.Trade.RestartCooldown, "DEXARB_TRADE_RESTART_COOLDOWN")
	setDuration(&cfg.Trade.SlowMaxAge, "DEXARB_TRADE_SLOW_MAX_AGE")
	setDuration(&cfg.Trade.SlowTimeout, "DEXARB_TRADE_SLOW_TIMEOUT")
	setDuration(&cfg.Trade.DedupTTL, "DEXARB_TRADE_DEDUP_TTL")
	setBool(&cfg.Trade.UseLocks, "DEXARB_TRADE_USE_LOCKS")
	setDuration(&cfg.Trade.LockTTL, "DEXARB_TRADE_LOCK_TTL")

	// ── Allowance ──
	setBool(&cfg.Allowance.Enabled, "DEXARB_ALLOWANCE_ENABLED")
	setFloat64(&cfg.Allowance.TargetFactor, "DEXARB_ALLOWANCE_TARGET_FACTOR")
	setFloat64(&cfg.Allowance.TopUpRatio, "DEXARB_ALLOWANCE_TOP_UP_RATIO")
	setDuration(&cfg.Allowance.Interval, "DEXARB_ALLOWANCE_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEXARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DEXARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DEXARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DEXARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXARB_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEXARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEXARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXARB_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.JournalPrefix, "DEXARB_S3_JOURNAL_PREFIX")
	setInt(&cfg.S3.PartSizeMB, "DEXARB_S3_PART_SIZE_MB")
	setDuration(&cfg.S3.CompactInterval, "DEXARB_S3_COMPACT_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEXARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEXARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DEXARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DEXARB_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "DEXARB_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "DEXARB_NOTIFY_EVENTS")
	setStr(&cfg.Notify.Prefix, "DEXARB_NOTIFY_PREFIX")
	setInt(&cfg.Notify.AlertLimit, "DEXARB_NOTIFY_ALERT_LIMIT")
	setDuration(&cfg.Notify.AlertWindow, "DEXARB_NOTIFY_ALERT_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXARB_MODE")
	setStr(&cfg.LogLevel, "DEXARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
