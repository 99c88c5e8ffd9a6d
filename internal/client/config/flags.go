package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-d string   data directory
//	-s int      cache capacity in megabytes
//	-n int      max concurrent downloads
//	-r int      max retries per file
//	-i int      online check interval in seconds
//	-l string   stream server listen address (loopback only)
//	-p string   reachability probe URL
//	-v string   log level
//
// Only the flags above are parsed; everything else in os.Args is left to
// other consumers via flagx.FilterArgs.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-s", "-n", "-r", "-i", "-l", "-p", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	capacityMB := fs.Int64("s", cfg.CacheCapacity>>20, "cache capacity (in megabytes)")
	fs.IntVar(&cfg.MaxConcurrentDownloads, "n", cfg.MaxConcurrentDownloads, "max concurrent downloads")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "max retries per file")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.StreamListenAddr, "l", cfg.StreamListenAddr, "stream server listen address")
	fs.StringVar(&cfg.ProbeURL, "p", cfg.ProbeURL, "reachability probe url")
	fs.StringVar(&cfg.LogLevel, "v", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.CacheCapacity = *capacityMB << 20
	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
