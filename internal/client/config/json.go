package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/flagx"
	"github.com/dmitrijs2005/coursekeeper/internal/timex"
)

type JsonS3Config struct {
	Region     string         `json:"region"`
	Endpoint   string         `json:"endpoint"`
	Bucket     string         `json:"bucket"`
	AccessKey  string         `json:"access_key"`
	SecretKey  string         `json:"secret_key"`
	PresignTTL timex.Duration `json:"presign_ttl"`
}

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer and
// zero-valued fields left out of the file keep the value already in Config.
type JsonConfig struct {
	DataDir string `json:"data_dir"`

	CacheCapacity         int64          `json:"cache_capacity"`
	EvictionAge           timex.Duration `json:"eviction_age"`
	EvictionPriorityFloor int            `json:"eviction_priority_floor"`
	MaintenanceInterval   timex.Duration `json:"maintenance_interval"`

	MaxConcurrentDownloads int            `json:"max_concurrent_downloads"`
	MaxRetries             *int           `json:"max_retries"`
	RetryBackoffBase       timex.Duration `json:"retry_backoff_base"`
	RetryBackoffCap        timex.Duration `json:"retry_backoff_cap"`

	StreamListenAddr string         `json:"stream_listen_addr"`
	StreamSessionTTL timex.Duration `json:"stream_session_ttl"`

	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	ProbeURL            string         `json:"probe_url"`
	LocatorEndpoint     string         `json:"locator_endpoint"`
	S3                  *JsonS3Config  `json:"s3"`

	LogLevel string `json:"log_level"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c / -config. Read or decode failures panic, as the program cannot start
// with a config the user asked for but we could not load.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.DataDir, jc.DataDir)
	setInt64(&cfg.CacheCapacity, jc.CacheCapacity)
	setDuration(&cfg.EvictionAge, jc.EvictionAge)
	setInt(&cfg.EvictionPriorityFloor, jc.EvictionPriorityFloor)
	setDuration(&cfg.MaintenanceInterval, jc.MaintenanceInterval)

	setInt(&cfg.MaxConcurrentDownloads, jc.MaxConcurrentDownloads)
	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}
	setDuration(&cfg.RetryBackoffBase, jc.RetryBackoffBase)
	setDuration(&cfg.RetryBackoffCap, jc.RetryBackoffCap)

	setString(&cfg.StreamListenAddr, jc.StreamListenAddr)
	setDuration(&cfg.StreamSessionTTL, jc.StreamSessionTTL)

	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setString(&cfg.ProbeURL, jc.ProbeURL)
	setString(&cfg.LocatorEndpoint, jc.LocatorEndpoint)

	if s3 := jc.S3; s3 != nil {
		setString(&cfg.S3.Region, s3.Region)
		setString(&cfg.S3.Endpoint, s3.Endpoint)
		setString(&cfg.S3.Bucket, s3.Bucket)
		setString(&cfg.S3.AccessKey, s3.AccessKey)
		setString(&cfg.S3.SecretKey, s3.SecretKey)
		setDuration(&cfg.S3.PresignTTL, s3.PresignTTL)
	}

	setString(&cfg.LogLevel, jc.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
