package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"data_dir":                 "/var/ck",
		"cache_capacity":           1 << 30,
		"max_concurrent_downloads": 3,
		"max_retries":              0,
		"retry_backoff_base":       "2s",
		"stream_session_ttl":       "30m",
		"online_check_interval":    "10s",
		"eviction_age":             float64(48 * time.Hour),
		"s3": map[string]any{
			"bucket":      "courses",
			"presign_ttl": "5m",
		},
	})

	t.Run("loads from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "/var/ck", cfg.DataDir)
		assert.Equal(t, int64(1<<30), cfg.CacheCapacity)
		assert.Equal(t, 3, cfg.MaxConcurrentDownloads)
		assert.Equal(t, 0, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.RetryBackoffBase)
		assert.Equal(t, 30*time.Second, cfg.RetryBackoffCap, "absent key keeps default")
		assert.Equal(t, 30*time.Minute, cfg.StreamSessionTTL)
		assert.Equal(t, 10*time.Second, cfg.OnlineCheckInterval)
		assert.Equal(t, 48*time.Hour, cfg.EvictionAge)
		assert.Equal(t, "courses", cfg.S3.Bucket)
		assert.Equal(t, "us-east-1", cfg.S3.Region)
		assert.Equal(t, 5*time.Minute, cfg.S3.PresignTTL)
	})

	t.Run("no flags, no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{DataDir: "defaults", OnlineCheckInterval: 42 * time.Second}
		parseJson(cfg)

		assert.Equal(t, "defaults", cfg.DataDir)
		assert.Equal(t, 42*time.Second, cfg.OnlineCheckInterval)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-c", bad}
		require.Panics(t, func() { parseJson(&Config{}) })
	})

	t.Run("missing file panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "absent.json")}
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
