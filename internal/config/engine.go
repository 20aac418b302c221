package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig carries every tunable used by the derivation pipeline and the ledger.
// It is threaded explicitly into the engines; nothing reads it from package state.
type EngineConfig struct {
	Timezone      string              `mapstructure:"timezone"`
	Prediction    PredictionConfig    `mapstructure:"prediction"`
	Recalculation RecalculationConfig `mapstructure:"recalculation"`
	Snapshot      SnapshotConfig      `mapstructure:"snapshot"`
	Tariff        TariffConfig        `mapstructure:"tariff"`

	// loc is Timezone resolved when the config enters a holder.
	loc *time.Location
}

type PredictionConfig struct {
	WindowDays   int `mapstructure:"windowDays"`
	HorizonDays  int `mapstructure:"horizonDays"`
	CriticalDays int `mapstructure:"criticalDays"`
	WarningDays  int `mapstructure:"warningDays"`
}

type RecalculationConfig struct {
	RollbackWindow time.Duration `mapstructure:"rollbackWindow"`
	LockTTL        time.Duration `mapstructure:"lockTTL"`
}

type SnapshotConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	TTL       time.Duration `mapstructure:"ttl"`
	MaxSizeMB int           `mapstructure:"maxSizeMB"`
}

type TariffConfig struct {
	// FallbackPerKwh is used only when no tier matches and it is explicitly set above zero.
	FallbackPerKwh float64 `mapstructure:"fallbackPerKwh"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Timezone: "Asia/Jakarta",
		Prediction: PredictionConfig{
			WindowDays:   30,
			HorizonDays:  60,
			CriticalDays: 3,
			WarningDays:  7,
		},
		Recalculation: RecalculationConfig{
			RollbackWindow: 24 * time.Hour,
			LockTTL:        30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Enabled:   true,
			TTL:       10 * time.Minute,
			MaxSizeMB: 64,
		},
	}
}

// Location returns the configured timezone. Configs obtained from a holder carry it
// resolved; others are resolved on each call and fall back to UTC when invalid.
func (c EngineConfig) Location() *time.Location {
	if c.loc != nil {
		return c.loc
	}
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WithResolvedLocation loads Timezone once and stores it on the returned copy.
func (c EngineConfig) WithResolvedLocation() (EngineConfig, error) {
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return c, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	c.loc = loc
	return c, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewEngineConfigHolder reads engine.yml and keeps it hot-reloaded.
func NewEngineConfigHolder(appCfg Config, log *zap.Logger) (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	if appCfg.EngineConfigPath != "" {
		v.AddConfigPath(appCfg.EngineConfigPath)
	}
	v.AddConfigPath("/etc/kwhtracker")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KWHTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setEngineDefaults(v, DefaultEngineConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg, err := decodeEngineConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticEngineConfigHolder(cfg)

	if v.ConfigFileUsed() == "" {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeEngineConfig(v)
		if err != nil {
			log.Warn("engine config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("engine config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticEngineConfigHolder wraps a fixed config, mostly for tests and tools.
// An unloadable timezone is left unresolved and Location falls back to UTC.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	if resolved, err := cfg.WithResolvedLocation(); err == nil {
		cfg = resolved
	}
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func setEngineDefaults(v *viper.Viper, d EngineConfig) {
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("prediction.windowDays", d.Prediction.WindowDays)
	v.SetDefault("prediction.horizonDays", d.Prediction.HorizonDays)
	v.SetDefault("prediction.criticalDays", d.Prediction.CriticalDays)
	v.SetDefault("prediction.warningDays", d.Prediction.WarningDays)
	v.SetDefault("recalculation.rollbackWindow", d.Recalculation.RollbackWindow)
	v.SetDefault("recalculation.lockTTL", d.Recalculation.LockTTL)
	v.SetDefault("snapshot.enabled", d.Snapshot.Enabled)
	v.SetDefault("snapshot.ttl", d.Snapshot.TTL)
	v.SetDefault("snapshot.maxSizeMB", d.Snapshot.MaxSizeMB)
	v.SetDefault("tariff.fallbackPerKwh", d.Tariff.FallbackPerKwh)
}

func decodeEngineConfig(v *viper.Viper) (EngineConfig, error) {
	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return EngineConfig{}, err
	}
	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg.WithResolvedLocation()
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	p := cfg.Prediction
	if p.WindowDays <= 0 {
		return errors.New("prediction.windowDays must be positive")
	}
	if p.HorizonDays <= 0 {
		return errors.New("prediction.horizonDays must be positive")
	}
	if p.CriticalDays <= 0 || p.WarningDays <= p.CriticalDays {
		return errors.New("prediction thresholds must satisfy 0 < criticalDays < warningDays")
	}
	if cfg.Recalculation.RollbackWindow <= 0 {
		return errors.New("recalculation.rollbackWindow must be positive")
	}
	if cfg.Recalculation.LockTTL <= 0 {
		return errors.New("recalculation.lockTTL must be positive")
	}
	if cfg.Tariff.FallbackPerKwh < 0 {
		return errors.New("tariff.fallbackPerKwh cannot be negative")
	}
	return nil
}
