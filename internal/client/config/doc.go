// Package config loads runtime configuration for the coursekeeper client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be strings like "3s" or integer
// nanoseconds. Keys left out keep their default:
//
//	{
//	  "data_dir": "/home/me/.coursekeeper",
//	  "cache_capacity": 5368709120,
//	  "max_concurrent_downloads": 2,
//	  "max_retries": 3,
//	  "retry_backoff_base": "1s",
//	  "retry_backoff_cap": "30s",
//	  "stream_session_ttl": "1h",
//	  "eviction_age": "720h",
//	  "eviction_priority_floor": 7,
//	  "online_check_interval": "3s",
//	  "probe_url": "https://cdn.example.com/health",
//	  "s3": {"bucket": "courses", "region": "eu-central-1", "presign_ttl": "15m"}
//	}
//
// Environment variables are not read directly, except by the AWS SDK when no
// static S3 credentials are configured.
package config
