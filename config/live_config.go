package config

import (
	"sync"
	"time"

	"gswapcopy/internal/domain"
)

// ConfigObserver is implemented by components that react to config reloads.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// LiveConfig is a thread-safe Config holder supporting hot reload of the
// wallet targets and tunable thresholds.
type LiveConfig struct {
	mu          sync.RWMutex
	config      *Config
	lastUpdated time.Time

	obsMu     sync.RWMutex
	observers []ConfigObserver
}

// NewLiveConfig creates a LiveConfig with the given initial config.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Targets returns a copy of the current wallet targets.
func (lc *LiveConfig) Targets() []domain.TargetWallet {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	out := make([]domain.TargetWallet, len(lc.config.Targets.Wallets))
	copy(out, lc.config.Targets.Wallets)
	return out
}

// Update validates and swaps in newConfig, then notifies observers.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	cloned := newConfig.Clone()

	lc.mu.Lock()
	lc.config = cloned
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Observers run outside the lock so they may call Get.
	lc.notifyObservers(cloned)

	return nil
}

// UpdatePartial applies updateFn to a copy of the current config and
// validates the result before swapping it in.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	lc.mu.RLock()
	newConfig := lc.config.Clone()
	lc.mu.RUnlock()

	updateFn(newConfig)

	return lc.Update(newConfig)
}

// AddObserver registers an observer to be notified of config changes.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

// RemoveObserver removes an observer from the notification list.
func (lc *LiveConfig) RemoveObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	for i, o := range lc.observers {
		if o == obs {
			lc.observers = append(lc.observers[:i], lc.observers[i+1:]...)
			return
		}
	}
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// LastUpdated returns when the config was last updated.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
