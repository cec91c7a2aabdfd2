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

// EntitlementConfig holds the tunable grant durations.
type EntitlementConfig struct {
	Grants GrantDurations `mapstructure:"grants"`
}

type GrantDurations struct {
	TrialDays         int `mapstructure:"trialDays"`
	SingleProjectDays int `mapstructure:"singleProjectDays"`
	ExtensionDays     int `mapstructure:"extensionDays"`
}

func (g GrantDurations) Trial() time.Duration {
	return days(g.TrialDays)
}

func (g GrantDurations) SingleProject() time.Duration {
	return days(g.SingleProjectDays)
}

func (g GrantDurations) Extension() time.Duration {
	return days(g.ExtensionDays)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func DefaultEntitlementConfig() EntitlementConfig {
	return EntitlementConfig{
		Grants: GrantDurations{
			TrialDays:         14,
			SingleProjectDays: 182,
			ExtensionDays:     182,
		},
	}
}

type EntitlementConfigHolder struct {
	current atomic.Value // holds EntitlementConfig
}

// NewEntitlementConfigHolder reads entitlements.yml from the standard config paths.
func NewEntitlementConfigHolder(log *zap.Logger) (*EntitlementConfigHolder, error) {
	return newEntitlementConfigHolder(log, "/var/lib/corates/config", "/etc/corates", ".")
}

// NewStaticEntitlementConfigHolder returns a holder that never reloads.
func NewStaticEntitlementConfigHolder(cfg EntitlementConfig) *EntitlementConfigHolder {
	holder := &EntitlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func newEntitlementConfigHolder(log *zap.Logger, paths ...string) (*EntitlementConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("entitlement.config")

	v := viper.New()
	v.SetConfigName("entitlements")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("CORATES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEntitlementConfig()
	v.SetDefault("grants.trialDays", defaults.Grants.TrialDays)
	v.SetDefault("grants.singleProjectDays", defaults.Grants.SingleProjectDays)
	v.SetDefault("grants.extensionDays", defaults.Grants.ExtensionDays)

	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		found = false
	}

	var cfg EntitlementConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateEntitlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EntitlementConfigHolder{}
	holder.current.Store(cfg)

	if found {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated EntitlementConfig
			if err := v.Unmarshal(&updated); err != nil {
				log.Warn("reload failed", zap.Error(err))
				return
			}
			if err := validateEntitlementConfig(updated); err != nil {
				log.Warn("invalid config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *EntitlementConfigHolder) Get() EntitlementConfig {
	return h.current.Load().(EntitlementConfig)
}

func validateEntitlementConfig(cfg EntitlementConfig) error {
	if cfg.Grants.TrialDays <= 0 {
		return errors.New("grants.trialDays must be positive")
	}
	if cfg.Grants.SingleProjectDays <= 0 {
		return errors.New("grants.singleProjectDays must be positive")
	}
	if cfg.Grants.ExtensionDays <= 0 {
		return errors.New("grants.extensionDays must be positive")
	}
	return nil
}
