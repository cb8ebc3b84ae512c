// Package config implements the supervisor's configuration surface from
// spec.md §6: a YAML file mirroring every tunable, overridden by the few
// settings spec.md names as environment variables, overridden in turn by
// CLI flags. Precedence is defaults < file < env < flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// Configuration is the complete set of tunables the supervisor resolves
// before forking the dispatcher.
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	ACache   CacheTunables  `yaml:"acache"`
	NCache   CacheTunables  `yaml:"ncache"`
	RCache   LimitTunables  `yaml:"rcache"`
	CapCache CapCacheConfig `yaml:"capcache"`
	Perf     PerfConfig     `yaml:"perf"`
	Device   DeviceConfig   `yaml:"device"`
	Security SecurityConfig `yaml:"security"`
}

// GlobalConfig covers the supervisor-wide settings: where it logs, how
// it formats timestamps, and which dispatcher debug facilities are on.
type GlobalConfig struct {
	LogFile    string `yaml:"log_file"`
	LogType    string `yaml:"log_type"`  // "file" or "syslog"
	LogStamp   string `yaml:"log_stamp"` // "none", "usec", or "datetime"
	GossipMask uint64 `yaml:"gossip_mask"`
	Events     string `yaml:"events"` // comma-separated facility names, resolved to GossipMask
	CorePath   string `yaml:"core_path"`
}

// CacheTunables covers a timeout-bearing cache's full tcache option set
// (acache, ncache).
type CacheTunables struct {
	TimeoutMsecs      uint `yaml:"timeout_msecs"`
	SoftLimit         uint `yaml:"soft_limit"`
	HardLimit         uint `yaml:"hard_limit"`
	ReclaimPercentage uint `yaml:"reclaim_percentage"`
}

// LimitTunables covers a cache with only soft/hard limits and no
// timeout knob (rcache, which never expires entries).
type LimitTunables struct {
	SoftLimit uint `yaml:"soft_limit"`
	HardLimit uint `yaml:"hard_limit"`
}

// CapCacheConfig covers the capability cache's size limits plus its
// own cache-timeout ceiling (spec.md §4.2 capcache-specific paragraph).
type CapCacheConfig struct {
	SoftLimit    uint          `yaml:"soft_limit"`
	HardLimit    uint          `yaml:"hard_limit"`
	CacheTimeout time.Duration `yaml:"cache_timeout"`
}

// PerfConfig covers the rolling perf-counter histogram's shape.
type PerfConfig struct {
	TimeIntervalSecs uint `yaml:"time_interval_secs"`
	HistorySize      uint `yaml:"history_size"`
}

// DeviceConfig covers the shared-memory descriptor pool sizing.
type DeviceConfig struct {
	DescCount uint `yaml:"desc_count"`
	DescSize  uint `yaml:"desc_size"`
}

// SecurityConfig names where the client's signing key lives on disk.
type SecurityConfig struct {
	KeyPath string `yaml:"key_path"`
}

const defaultKeyPath = "/etc/pvfs2/pvfs2-clientkey.pem"

// NewDefault returns the built-in defaults, matching spec.md §4.1's
// tcache defaults and §6's CLI flag defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogType:  "file",
			LogStamp: "datetime",
			CorePath: "pvfs2-client-core",
		},
		ACache: CacheTunables{
			TimeoutMsecs:      5000,
			SoftLimit:         5120,
			HardLimit:         10240,
			ReclaimPercentage: 25,
		},
		NCache: CacheTunables{
			TimeoutMsecs:      3000,
			SoftLimit:         5120,
			HardLimit:         10240,
			ReclaimPercentage: 25,
		},
		RCache: LimitTunables{
			SoftLimit: 256,
			HardLimit: 512,
		},
		CapCache: CapCacheConfig{
			SoftLimit:    5120,
			HardLimit:    10240,
			CacheTimeout: 60 * time.Second,
		},
		Perf: PerfConfig{
			TimeIntervalSecs: 300,
			HistorySize:      6,
		},
		Device: DeviceConfig{
			DescCount: 5,
			DescSize:  4096,
		},
		Security: SecurityConfig{
			KeyPath: defaultKeyPath,
		},
	}
}

// LoadFromFile overlays a YAML config file onto c, leaving any field the
// file omits at its current value.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays the handful of settings spec.md §6 names as
// environment variables: PVFS2_NCACHE_TIMEOUT (milliseconds).
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("PVFS2_NCACHE_TIMEOUT"); val != "" {
		if ms, err := strconv.ParseUint(val, 10, 64); err == nil {
			c.NCache.TimeoutMsecs = uint(ms)
		}
	}
}

// BindFlags registers every CLI flag named in spec.md §6's usage string
// against fs, so that after fs.Parse(os.Args[1:]) the struct's fields
// reflect any flags the user passed, overriding file and env values
// (pflag writes directly into the bound field).
func (c *Configuration) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Global.LogFile, "logfile", "L", c.Global.LogFile, "path to the supervisor log file")
	fs.StringVar(&c.Global.LogType, "logtype", c.Global.LogType, "file|syslog")
	fs.StringVar(&c.Global.LogStamp, "logstamp", c.Global.LogStamp, "none|usec|datetime")
	fs.StringVar(&c.Global.Events, "gossip-mask", c.Global.Events, "comma-separated debug facility names")
	fs.StringVarP(&c.Global.CorePath, "path-to-core", "p", c.Global.CorePath, "path to the pvfs2-client-core binary")

	fs.UintVarP(&c.ACache.TimeoutMsecs, "a", "a", c.ACache.TimeoutMsecs, "acache timeout in milliseconds")
	fs.UintVarP(&c.NCache.TimeoutMsecs, "n", "n", c.NCache.TimeoutMsecs, "ncache timeout in milliseconds")

	fs.UintVar(&c.ACache.SoftLimit, "acache-soft-limit", c.ACache.SoftLimit, "acache soft entry limit")
	fs.UintVar(&c.ACache.HardLimit, "acache-hard-limit", c.ACache.HardLimit, "acache hard entry limit")
	fs.UintVar(&c.ACache.ReclaimPercentage, "acache-reclaim-percentage", c.ACache.ReclaimPercentage, "acache reclaim percentage")

	fs.UintVar(&c.NCache.SoftLimit, "ncache-soft-limit", c.NCache.SoftLimit, "ncache soft entry limit")
	fs.UintVar(&c.NCache.HardLimit, "ncache-hard-limit", c.NCache.HardLimit, "ncache hard entry limit")
	fs.UintVar(&c.NCache.ReclaimPercentage, "ncache-reclaim-percentage", c.NCache.ReclaimPercentage, "ncache reclaim percentage")

	fs.UintVar(&c.Perf.TimeIntervalSecs, "perf-time-interval-secs", c.Perf.TimeIntervalSecs, "perf counter rollover interval in seconds")
	fs.UintVar(&c.Perf.HistorySize, "perf-history-size", c.Perf.HistorySize, "perf counter rolled history depth")

	fs.UintVar(&c.Device.DescCount, "desc-count", c.Device.DescCount, "shared memory descriptor count")
	fs.UintVar(&c.Device.DescSize, "desc-size", c.Device.DescSize, "shared memory descriptor size in bytes")
}

// Validate rejects a configuration that would misbehave at runtime
// rather than letting the supervisor discover it after forking the
// dispatcher.
func (c *Configuration) Validate() error {
	if c.ACache.SoftLimit > c.ACache.HardLimit {
		return fmt.Errorf("acache soft_limit (%d) exceeds hard_limit (%d)", c.ACache.SoftLimit, c.ACache.HardLimit)
	}
	if c.NCache.SoftLimit > c.NCache.HardLimit {
		return fmt.Errorf("ncache soft_limit (%d) exceeds hard_limit (%d)", c.NCache.SoftLimit, c.NCache.HardLimit)
	}
	if c.RCache.SoftLimit > c.RCache.HardLimit {
		return fmt.Errorf("rcache soft_limit (%d) exceeds hard_limit (%d)", c.RCache.SoftLimit, c.RCache.HardLimit)
	}
	if c.CapCache.SoftLimit > c.CapCache.HardLimit {
		return fmt.Errorf("capcache soft_limit (%d) exceeds hard_limit (%d)", c.CapCache.SoftLimit, c.CapCache.HardLimit)
	}
	if c.Device.DescCount == 0 {
		return fmt.Errorf("desc_count must be greater than 0")
	}
	if c.Device.DescSize == 0 {
		return fmt.Errorf("desc_size must be greater than 0")
	}

	validLogTypes := map[string]bool{"file": true, "syslog": true}
	if !validLogTypes[strings.ToLower(c.Global.LogType)] {
		return fmt.Errorf("invalid log_type: %s (must be file or syslog)", c.Global.LogType)
	}
	validLogStamps := map[string]bool{"none": true, "usec": true, "datetime": true}
	if !validLogStamps[strings.ToLower(c.Global.LogStamp)] {
		return fmt.Errorf("invalid log_stamp: %s (must be none, usec, or datetime)", c.Global.LogStamp)
	}

	return nil
}
