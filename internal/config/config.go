// Package config loads gcompute CLI settings from defaults, an optional
// YAML file and GCOMPUTE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned (wrapped) when a loaded value is out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "GCOMPUTE"

// Backends accepted in Config.Backend. "auto" picks the first native backend
// that opens a device.
var Backends = []string{"auto", "noop", "sim", "vulkan", "metal", "dx12", "gl"}

// Config holds the CLI settings.
type Config struct {
	Backend           string        `mapstructure:"backend"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	AdmitPerTick      int           `mapstructure:"admit_per_tick"`
	PipelineCacheSize int           `mapstructure:"pipeline_cache_size"`
	StagingPoolLimit  uint64        `mapstructure:"staging_pool_limit"`
	LogLevel          string        `mapstructure:"log_level"`

	// MaxTicks stops a run that has not finished after this many ticks.
	// Zero means no limit.
	MaxTicks int `mapstructure:"max_ticks"`
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Backend:           "auto",
		TickInterval:      16 * time.Millisecond,
		AdmitPerTick:      1,
		PipelineCacheSize: 0,
		StagingPoolLimit:  64 << 20,
		LogLevel:          "info",
		MaxTicks:          0,
	}
}

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind flags to it before passing it to Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads cfgFile, or gcompute.yaml from the working directory when
// cfgFile is empty, into a validated Config. A missing default file is not
// an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("gcompute")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Backend) {
		return fmt.Errorf("%w: backend must be one of %v, got %q", ErrInvalidConfig, Backends, c.Backend)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidConfig)
	}
	if c.AdmitPerTick < 1 {
		return fmt.Errorf("%w: admit_per_tick must be at least 1", ErrInvalidConfig)
	}
	if c.PipelineCacheSize < 0 {
		return fmt.Errorf("%w: pipeline_cache_size must not be negative", ErrInvalidConfig)
	}
	if c.MaxTicks < 0 {
		return fmt.Errorf("%w: max_ticks must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level for LogLevel. Validate has already checked it.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, s)
	}
	return l, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("tick_interval", cfg.TickInterval)
	v.SetDefault("admit_per_tick", cfg.AdmitPerTick)
	v.SetDefault("pipeline_cache_size", cfg.PipelineCacheSize)
	v.SetDefault("staging_pool_limit", cfg.StagingPoolLimit)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("max_ticks", cfg.MaxTicks)
}
