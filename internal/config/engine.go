package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig tunes the processing pipeline and the outbox poller. Poll
// settings are read by the poller on every iteration, so the holder can swap
// them without a restart; ring settings only take effect at startup.
type EngineConfig struct {
	RingSize           int           `mapstructure:"ringSize"`
	WaitStrategy       string        `mapstructure:"waitStrategy"`
	PollBatchSize      int           `mapstructure:"pollBatchSize"`
	EmptyPark          time.Duration `mapstructure:"emptyPark"`
	ErrorBackoff       time.Duration `mapstructure:"errorBackoff"`
	MaxPublishFailures int           `mapstructure:"maxPublishFailures"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RingSize:           1024,
		WaitStrategy:       "blocking",
		PollBatchSize:      256,
		EmptyPark:          200 * time.Microsecond,
		ErrorBackoff:       time.Second,
		MaxPublishFailures: 3,
	}
}

// EngineConfigHolder exposes the current engine tuning behind an atomic swap.
type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

func NewEngineConfigHolder(log *zap.Logger) (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/bankcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BANKCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEngineConfig()
	v.SetDefault("engine.ringSize", defaults.RingSize)
	v.SetDefault("engine.waitStrategy", defaults.WaitStrategy)
	v.SetDefault("engine.pollBatchSize", defaults.PollBatchSize)
	v.SetDefault("engine.emptyPark", defaults.EmptyPark)
	v.SetDefault("engine.errorBackoff", defaults.ErrorBackoff)
	v.SetDefault("engine.maxPublishFailures", defaults.MaxPublishFailures)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Warn("engine config reload failed", zap.Error(err))
			return
		}
		if err := validateEngineConfig(updated); err != nil {
			log.Warn("invalid engine config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("engine config reloaded", zap.String("source", e.Name))
	})

	return holder, nil
}

// NewStaticEngineConfigHolder wraps a fixed config, used by tests.
func NewStaticEngineConfigHolder(cfg EngineConfig) (*EngineConfigHolder, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.RingSize <= 0 || cfg.RingSize&(cfg.RingSize-1) != 0 {
		return fmt.Errorf("engine.ringSize must be a positive power of two, got %d", cfg.RingSize)
	}
	if cfg.PollBatchSize <= 0 {
		return errors.New("engine.pollBatchSize must be positive")
	}
	if cfg.PollBatchSize > cfg.RingSize {
		return fmt.Errorf("engine.pollBatchSize %d exceeds ringSize %d", cfg.PollBatchSize, cfg.RingSize)
	}
	switch cfg.WaitStrategy {
	case "blocking", "sleeping", "spinning":
	default:
		return fmt.Errorf("unknown engine.waitStrategy %q", cfg.WaitStrategy)
	}
	if cfg.MaxPublishFailures <= 0 {
		return errors.New("engine.maxPublishFailures must be positive")
	}
	return nil
}
