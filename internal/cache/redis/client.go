// Package redis implements the state mirror, pair leases, event bus and
// alert rate limiter on top of go-redis/v9.
package redis

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// minMajorVersion is the first Redis release with streams, which the
// execution log needs.
const minMajorVersion = 5

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps a go-redis Client shared by the mirror, leases, bus and
// limiter.
type Client struct {
	rdb     *redis.Client
	version string
}

// New connects, tags the connection as "dexarb" in CLIENT LIST and refuses
// servers too old for the execution stream.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: "dexarb",
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	info, err := rdb.Info(ctx, "server").Result()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: info: %w", err)
	}
	version, major, err := parseServerVersion(info)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	if major < minMajorVersion {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: server %s has no streams, need >= %d.0", version, minMajorVersion)
	}

	return &Client{rdb: rdb, version: version}, nil
}

// parseServerVersion reads redis_version from an INFO server reply.
func parseServerVersion(info string) (string, int, error) {
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		v, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "redis_version:")
		if !ok {
			continue
		}
		majorStr, _, _ := strings.Cut(v, ".")
		major, err := strconv.Atoi(majorStr)
		if err != nil {
			return v, 0, fmt.Errorf("redis: unparseable version %q", v)
		}
		return v, major, nil
	}
	return "", 0, fmt.Errorf("redis: INFO reply has no redis_version")
}

// Version is the server version seen at connect.
func (c *Client) Version() string {
	return c.version
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for the stores in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
