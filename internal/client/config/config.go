package config

import (
	"fmt"
	"net"
	"time"
)

// S3Config configures the presigning locator refresher. Bucket empty means
// locators are refreshed through LocatorEndpoint instead.
type S3Config struct {
	Region     string
	Endpoint   string
	Bucket     string
	AccessKey  string
	SecretKey  string
	PresignTTL time.Duration
}

// Config holds runtime settings for the coursekeeper client.
//
// Sizes are in bytes, intervals are time.Duration.
type Config struct {
	DataDir string

	CacheCapacity         int64
	EvictionAge           time.Duration
	EvictionPriorityFloor int
	MaintenanceInterval   time.Duration

	MaxConcurrentDownloads int
	MaxRetries             int
	RetryBackoffBase       time.Duration
	RetryBackoffCap        time.Duration

	StreamListenAddr string
	StreamSessionTTL time.Duration

	OnlineCheckInterval time.Duration
	ProbeURL            string
	LocatorEndpoint     string
	S3                  S3Config

	LogLevel string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "coursekeeper-data"

	c.CacheCapacity = 10 << 30
	c.EvictionAge = 30 * 24 * time.Hour
	c.EvictionPriorityFloor = 7
	c.MaintenanceInterval = time.Hour

	c.MaxConcurrentDownloads = 2
	c.MaxRetries = 3
	c.RetryBackoffBase = time.Second
	c.RetryBackoffCap = 30 * time.Second

	c.StreamListenAddr = "127.0.0.1:0"
	c.StreamSessionTTL = time.Hour

	c.OnlineCheckInterval = 3 * time.Second
	c.ProbeURL = ""
	c.LocatorEndpoint = ""
	c.S3 = S3Config{Region: "us-east-1", PresignTTL: 15 * time.Minute}

	c.LogLevel = "info"
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must be set")
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("max concurrent downloads must be at least 1, got %d", c.MaxConcurrentDownloads)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryBackoffBase <= 0 || c.RetryBackoffCap < c.RetryBackoffBase {
		return fmt.Errorf("invalid retry backoff base=%s cap=%s", c.RetryBackoffBase, c.RetryBackoffCap)
	}
	if c.StreamSessionTTL <= 0 {
		return fmt.Errorf("stream session ttl must be positive")
	}

	host, _, err := net.SplitHostPort(c.StreamListenAddr)
	if err != nil {
		return fmt.Errorf("stream listen addr: %w", err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("stream listen addr %q is not loopback", c.StreamListenAddr)
	}

	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
