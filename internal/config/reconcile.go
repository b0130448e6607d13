package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReconcileConfig tunes the periodic reconciliation sweep. It is operational
// config, not credentials, so it lives in a watched file rather than the env.
type ReconcileConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	StaleInitiated time.Duration `mapstructure:"staleInitiated"`
	BatchSize      int           `mapstructure:"batchSize"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Interval:       5 * time.Minute,
		StaleInitiated: 30 * time.Minute,
		BatchSize:      50,
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

func NewReconcileConfigHolder(cfg Config, log *zap.Logger) (*ReconcileConfigHolder, error) {
	log = log.Named("config.reconcile")

	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.ReconcileConfigPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/coursepay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("COURSEPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultReconcileConfig()
		v.SetDefault("reconcile.interval", defaults.Interval)
		v.SetDefault("reconcile.staleInitiated", defaults.StaleInitiated)
		v.SetDefault("reconcile.batchSize", defaults.BatchSize)
	}

	var rc ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &rc); err != nil {
		return nil, err
	}
	if err := validateReconcileConfig(rc); err != nil {
		return nil, err
	}

	holder := &ReconcileConfigHolder{}
	holder.current.Store(rc)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcileConfig
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			log.Warn("reconcile config reload failed", zap.Error(err))
			return
		}
		if err := validateReconcileConfig(updated); err != nil {
			log.Warn("invalid reconcile config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reconcile config reloaded", zap.String("source", e.Name))
	})

	return holder, nil
}

// NewStaticReconcileConfigHolder wraps a fixed config, for tests and tools
// that must not watch the filesystem.
func NewStaticReconcileConfigHolder(rc ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(rc)
	return holder
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	return h.current.Load().(ReconcileConfig)
}

func validateReconcileConfig(rc ReconcileConfig) error {
	if rc.Interval <= 0 {
		return errors.New("reconcile.interval must be positive")
	}
	if rc.StaleInitiated <= 0 {
		return errors.New("reconcile.staleInitiated must be positive")
	}
	if rc.BatchSize <= 0 {
		return errors.New("reconcile.batchSize must be positive")
	}
	return nil
}
