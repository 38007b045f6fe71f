package config

import (
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CalculationConfig holds the tunables of the hectare-based calculation engine.
// DefaultMinFarmSizeHectares is applied to rules created without a minimum
// farm size; zero leaves such rules unbounded.
type CalculationConfig struct {
	DefaultMinFarmSizeHectares float64   `mapstructure:"defaultMinFarmSizeHectares"`
	FallbackFarmType           string    `mapstructure:"fallbackFarmType"`
	FallbackTenureType         string    `mapstructure:"fallbackTenureType"`
	PreviewSampleHectares      []float64 `mapstructure:"previewSampleHectares"`
}

func DefaultCalculationConfig() CalculationConfig {
	return CalculationConfig{
		DefaultMinFarmSizeHectares: 0,
		FallbackFarmType:           "rainfed_upland",
		FallbackTenureType:         "registered_owner",
		PreviewSampleHectares:      []float64{0.5, 1, 2, 3, 5, 10},
	}
}

type CalculationConfigHolder struct {
	current atomic.Value // holds CalculationConfig
}

// NewCalculationConfigHolder reads calculation.yml from the usual config paths
// and keeps watching it. A missing file falls back to the defaults.
func NewCalculationConfigHolder(log *zap.Logger) (*CalculationConfigHolder, error) {
	return LoadCalculationConfig(log, "/var/lib/agrisubsidy/config", "/etc/agrisubsidy", ".")
}

func LoadCalculationConfig(log *zap.Logger, paths ...string) (*CalculationConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.calculation")

	v := viper.New()
	v.SetConfigName("calculation")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("AGRISUBSIDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCalculationConfig()
	v.SetDefault("calculation.defaultMinFarmSizeHectares", defaults.DefaultMinFarmSizeHectares)
	v.SetDefault("calculation.fallbackFarmType", defaults.FallbackFarmType)
	v.SetDefault("calculation.fallbackTenureType", defaults.FallbackTenureType)
	v.SetDefault("calculation.previewSampleHectares", defaults.PreviewSampleHectares)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeCalculationConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticCalculationConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCalculationConfig(v)
		if err != nil {
			log.Warn("invalid calculation config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("calculation config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticCalculationConfig returns a holder that never reloads.
func NewStaticCalculationConfig(cfg CalculationConfig) *CalculationConfigHolder {
	holder := &CalculationConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *CalculationConfigHolder) Get() CalculationConfig {
	if h == nil {
		return DefaultCalculationConfig()
	}
	return h.current.Load().(CalculationConfig)
}

func decodeCalculationConfig(v *viper.Viper) (CalculationConfig, error) {
	// Unmarshal merges defaults per leaf key, UnmarshalKey would not.
	var wrapper struct {
		Calculation CalculationConfig `mapstructure:"calculation"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return CalculationConfig{}, err
	}
	cfg := wrapper.Calculation
	if err := validateCalculationConfig(cfg); err != nil {
		return CalculationConfig{}, err
	}
	samples := append([]float64(nil), cfg.PreviewSampleHectares...)
	sort.Float64s(samples)
	cfg.PreviewSampleHectares = samples
	return cfg, nil
}

func validateCalculationConfig(cfg CalculationConfig) error {
	if cfg.DefaultMinFarmSizeHectares < 0 {
		return errors.New("calculation.defaultMinFarmSizeHectares cannot be negative")
	}
	if strings.TrimSpace(cfg.FallbackFarmType) == "" {
		return errors.New("calculation.fallbackFarmType cannot be empty")
	}
	if strings.TrimSpace(cfg.FallbackTenureType) == "" {
		return errors.New("calculation.fallbackTenureType cannot be empty")
	}
	if len(cfg.PreviewSampleHectares) == 0 {
		return errors.New("calculation.previewSampleHectares cannot be empty")
	}
	for _, sample := range cfg.PreviewSampleHectares {
		if sample <= 0 {
			return errors.New("calculation.previewSampleHectares must be positive")
		}
	}
	return nil
}
