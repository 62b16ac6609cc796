package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	rlog "github.com/sassoftware/rpath-tools-sub000/internal/log"
	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
)

const (
	defaultListenAddr     = ":8080"
	defaultStorageDriver  = storage.DriverFile
	defaultStoragePath    = "/var/lib/rpath-tools/jobs"
	defaultJobTTL         = 10 * time.Hour
	defaultWorkDir        = "/"
	defaultPurgeInterval  = time.Hour
	defaultFollowInterval = 500 * time.Millisecond

	envConfig         = "RPATH_CONFIG"
	envListenAddr     = "RPATH_LISTEN_ADDR"
	envStorageDriver  = "RPATH_STORAGE_DRIVER"
	envStoragePath    = "RPATH_STORAGE_PATH"
	envLogLevel       = "RPATH_LOG_LEVEL"
	envJobTTL         = "RPATH_JOB_TTL"
	envWorkDir        = "RPATH_WORK_DIR"
	envAuthority      = "RPATH_AUTHORITY"
	envEngineBin      = "RPATH_ENGINE_BIN"
	envPurgeInterval  = "RPATH_PURGE_INTERVAL"
	envPurgeCron      = "RPATH_PURGE_CRON"
	envWorkerLog      = "RPATH_WORKER_LOG"
	envFollowInterval = "RPATH_FOLLOW_INTERVAL"
)

// Config holds application configuration. Values come from defaults, then
// an optional YAML file, then RPATH_* environment variables.
type Config struct {
	ListenAddr     string
	StorageDriver  string
	StoragePath    string
	LogLevel       slog.Level
	JobTTL         time.Duration
	WorkDir        string
	Authority      string
	EngineBin      string
	PurgeInterval  time.Duration
	PurgeCron      string
	WorkerLog      string
	FollowInterval time.Duration
}

// fileConfig is the YAML layout. Durations are Go duration strings.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Storage    struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`
	LogLevel string `yaml:"log_level"`
	Jobs     struct {
		TTL       string `yaml:"ttl"`
		WorkDir   string `yaml:"work_dir"`
		Authority string `yaml:"authority"`
		WorkerLog string `yaml:"worker_log"`
	} `yaml:"jobs"`
	Engine struct {
		Bin string `yaml:"bin"`
	} `yaml:"engine"`
	Purge struct {
		Interval string `yaml:"interval"`
		Cron     string `yaml:"cron"`
	} `yaml:"purge"`
	FollowInterval string `yaml:"follow_interval"`
}

// Load builds the configuration. path names a YAML file; when empty,
// RPATH_CONFIG is consulted, and no file is read if that is unset too.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		StorageDriver:  defaultStorageDriver,
		StoragePath:    defaultStoragePath,
		LogLevel:       slog.LevelInfo,
		JobTTL:         defaultJobTTL,
		WorkDir:        defaultWorkDir,
		PurgeInterval:  defaultPurgeInterval,
		FollowInterval: defaultFollowInterval,
	}

	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.StorageDriver, fc.Storage.Driver)
	setString(&c.StoragePath, fc.Storage.Path)
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	setString(&c.WorkDir, fc.Jobs.WorkDir)
	setString(&c.Authority, fc.Jobs.Authority)
	setString(&c.WorkerLog, fc.Jobs.WorkerLog)
	setString(&c.EngineBin, fc.Engine.Bin)
	setString(&c.PurgeCron, fc.Purge.Cron)

	return errors.Join(
		setDuration(&c.JobTTL, "jobs.ttl", fc.Jobs.TTL),
		setDuration(&c.PurgeInterval, "purge.interval", fc.Purge.Interval),
		setDuration(&c.FollowInterval, "follow_interval", fc.FollowInterval),
	)
}

func (c *Config) loadEnv() error {
	setString(&c.ListenAddr, os.Getenv(envListenAddr))
	setString(&c.StorageDriver, os.Getenv(envStorageDriver))
	setString(&c.StoragePath, os.Getenv(envStoragePath))
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	setString(&c.WorkDir, os.Getenv(envWorkDir))
	setString(&c.Authority, os.Getenv(envAuthority))
	setString(&c.EngineBin, os.Getenv(envEngineBin))
	setString(&c.PurgeCron, os.Getenv(envPurgeCron))
	setString(&c.WorkerLog, os.Getenv(envWorkerLog))

	return errors.Join(
		setDuration(&c.JobTTL, envJobTTL, os.Getenv(envJobTTL)),
		setDuration(&c.PurgeInterval, envPurgeInterval, os.Getenv(envPurgeInterval)),
		setDuration(&c.FollowInterval, envFollowInterval, os.Getenv(envFollowInterval)),
	)
}

// finish validates the result and fills in derived values.
func (c *Config) finish() error {
	switch c.StorageDriver {
	case storage.DriverFile, storage.DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	abs, err := filepath.Abs(c.StoragePath)
	if err != nil {
		return fmt.Errorf("resolve storage path: %w", err)
	}
	c.StoragePath = abs

	if c.Authority == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		c.Authority = host
	}

	if c.WorkerLog == "" {
		dir := c.StoragePath
		if c.StorageDriver == storage.DriverSQLite {
			dir = filepath.Dir(dir)
		}
		c.WorkerLog = filepath.Join(dir, "worker.log")
	}
	return nil
}

// Environ returns the configuration as RPATH_* variables, so that
// re-executed worker processes see the same settings regardless of where
// the parent got them from.
func (c Config) Environ() []string {
	return []string{
		envStorageDriver + "=" + c.StorageDriver,
		envStoragePath + "=" + c.StoragePath,
		envLogLevel + "=" + strings.ToLower(c.LogLevel.String()),
		envJobTTL + "=" + c.JobTTL.String(),
		envWorkDir + "=" + c.WorkDir,
		envAuthority + "=" + c.Authority,
		envEngineBin + "=" + c.EngineBin,
		envWorkerLog + "=" + c.WorkerLog,
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: must be positive, got %s", name, v)
	}
	*dst = d
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured
// level. Attributes attached with log.ContextAttrs are included.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return rlog.New(w, level)
}
