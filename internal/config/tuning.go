package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Tuning holds the operational knobs that can change without a restart:
// change-detection tolerance and per-provider request budgets.
type Tuning struct {
	SentinelCount     int                `mapstructure:"sentinelCount"`
	ProviderBatchSize int                `mapstructure:"providerBatchSize"`
	DailyQuotaLimit   int                `mapstructure:"dailyQuotaLimit"`
	ChangeTolerance   float64            `mapstructure:"changeTolerance"`
	ProviderQuotas    map[string]int     `mapstructure:"providerQuotas"`
	ProviderTolerance map[string]float64 `mapstructure:"providerTolerance"`
}

func DefaultTuning(cfg Config) Tuning {
	return Tuning{
		SentinelCount:     cfg.SentinelCount,
		ProviderBatchSize: cfg.ProviderBatchSize,
		DailyQuotaLimit:   cfg.DailyQuotaLimit,
		ChangeTolerance:   cfg.ChangeTolerance,
		ProviderQuotas:    map[string]int{},
		ProviderTolerance: map[string]float64{},
	}
}

// QuotaLimitFor resolves the daily request budget for a provider scope.
func (t Tuning) QuotaLimitFor(scope string) int {
	if limit, ok := t.ProviderQuotas[scope]; ok && limit > 0 {
		return limit
	}
	return t.DailyQuotaLimit
}

// ToleranceFor resolves the change-detection tolerance for a provider scope.
func (t Tuning) ToleranceFor(scope string) float64 {
	if tol, ok := t.ProviderTolerance[scope]; ok && tol >= 0 {
		return tol
	}
	return t.ChangeTolerance
}

type TuningHolder struct {
	current atomic.Value // holds Tuning
}

func NewTuningHolder(cfg Config) (*TuningHolder, error) {
	holder := &TuningHolder{}
	defaults := DefaultTuning(cfg)
	holder.current.Store(defaults)

	if strings.TrimSpace(cfg.TuningPath) == "" {
		return holder, nil
	}

	v := viper.New()
	v.SetConfigFile(cfg.TuningPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return holder, nil
	}

	tuning := defaults
	if err := v.UnmarshalKey("tuning", &tuning); err != nil {
		return nil, err
	}
	if err := validateTuning(tuning); err != nil {
		return nil, err
	}
	holder.current.Store(tuning)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := defaults
		if err := v.UnmarshalKey("tuning", &updated); err != nil {
			log.Printf("[tuning] reload failed: %v", err)
			return
		}
		if err := validateTuning(updated); err != nil {
			log.Printf("[tuning] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[tuning] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *TuningHolder) Get() Tuning {
	return h.current.Load().(Tuning)
}

// StoreForTest replaces the current tuning. Tests only.
func (h *TuningHolder) StoreForTest(t Tuning) {
	h.current.Store(t)
}

func validateTuning(t Tuning) error {
	if t.SentinelCount <= 0 {
		return errors.New("tuning.sentinelCount must be positive")
	}
	if t.ProviderBatchSize <= 0 {
		return errors.New("tuning.providerBatchSize must be positive")
	}
	if t.DailyQuotaLimit <= 0 {
		return errors.New("tuning.dailyQuotaLimit must be positive")
	}
	if t.ChangeTolerance < 0 {
		return errors.New("tuning.changeTolerance cannot be negative")
	}
	return nil
}
