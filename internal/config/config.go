package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "NOVAHEAP"

	// MinPageSize leaves room for the 256 byte data page header and one slot.
	MinPageSize = 384

	DefaultPageSize        = 4096
	DefaultSegmentPages    = 1 << 18 // 1 GiB of 4 KiB pages
	DefaultPersistentSlots = 128
	DefaultVolatileSlots   = 32
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	AppName  string `mapstructure:"app_name"`
	LogLevel string `mapstructure:"log_level"`

	Storage struct {
		Workdir      string `mapstructure:"workdir"`
		PageSize     int    `mapstructure:"page_size"`
		SegmentPages int    `mapstructure:"segment_pages"`
	} `mapstructure:"storage"`

	Buffer struct {
		PersistentSlots int `mapstructure:"persistent_slots"`
		VolatileSlots   int `mapstructure:"volatile_slots"`
	} `mapstructure:"buffer"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("app_name", "novaheap")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.page_size", DefaultPageSize)
	v.SetDefault("storage.segment_pages", DefaultSegmentPages)
	v.SetDefault("buffer.persistent_slots", DefaultPersistentSlots)
	v.SetDefault("buffer.volatile_slots", DefaultVolatileSlots)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration built from defaults and environment only.
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		// defaults alone always validate; only a bad environment gets here
		slog.Warn("config: falling back to built-in defaults", "err", err)
		cfg = &Config{AppName: "novaheap", LogLevel: "info"}
		cfg.Storage.Workdir = "./data"
		cfg.Storage.PageSize = DefaultPageSize
		cfg.Storage.SegmentPages = DefaultSegmentPages
		cfg.Buffer.PersistentSlots = DefaultPersistentSlots
		cfg.Buffer.VolatileSlots = DefaultVolatileSlots
	}
	return cfg
}

// LoadConfig reads an optional yaml file at path, then applies NOVAHEAP_*
// environment overrides. A .env file in the working directory is loaded first.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Storage.Workdir == "":
		return fmt.Errorf("%w: storage.workdir is empty", ErrInvalidConfig)
	case c.Storage.PageSize < MinPageSize:
		return fmt.Errorf("%w: storage.page_size %d < %d", ErrInvalidConfig, c.Storage.PageSize, MinPageSize)
	case c.Storage.PageSize%8 != 0:
		return fmt.Errorf("%w: storage.page_size %d is not a multiple of 8", ErrInvalidConfig, c.Storage.PageSize)
	case c.Storage.SegmentPages <= 0:
		return fmt.Errorf("%w: storage.segment_pages must be positive", ErrInvalidConfig)
	case c.Buffer.PersistentSlots < 2:
		return fmt.Errorf("%w: buffer.persistent_slots must be at least 2", ErrInvalidConfig)
	case c.Buffer.VolatileSlots < 2:
		// a volatile insert pins its data page while page 0 is rewritten
		return fmt.Errorf("%w: buffer.volatile_slots must be at least 2", ErrInvalidConfig)
	}
	return nil
}

// SlogLevel maps log_level to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
