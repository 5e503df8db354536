package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// targetFile mirrors one entry of the wallet-targets JSON file. Omitted
// enabled defaults to true; omitted maxCopyAmount means the global default.
type targetFile struct {
	Address       string           `json:"address"`
	Name          string           `json:"name"`
	Enabled       *bool            `json:"enabled"`
	MaxCopyAmount *decimal.Decimal `json:"maxCopyAmount"`
	Priority      int              `json:"priority"`
	Type          string           `json:"type"`
}

// LoadTargets reads the wallet-targets file. A missing file yields no
// targets and no error.
func LoadTargets(path string) ([]domain.TargetWallet, error) {
	if path == "" {
		return nil, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	return ParseTargets(b)
}

// ParseTargets decodes a JSON array of wallet targets.
func ParseTargets(data []byte) ([]domain.TargetWallet, error) {
	var raw []targetFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}

	out := make([]domain.TargetWallet, 0, len(raw))
	for i, r := range raw {
		w := domain.TargetWallet{
			Address:  strings.TrimSpace(r.Address),
			Name:     strings.TrimSpace(r.Name),
			Enabled:  r.Enabled == nil || *r.Enabled,
			Priority: r.Priority,
			Type:     r.Type,
		}
		if w.Name == "" {
			w.Name = w.Address
		}
		if r.MaxCopyAmount != nil {
			w.MaxCopyAmount = *r.MaxCopyAmount
		}
		if w.Address == "" {
			return nil, fmt.Errorf("target %d: address is required", i)
		}
		out = append(out, w)
	}
	return out, nil
}

// TargetsWatcher reloads the wallet-targets file when its modification time
// changes and pushes the result through LiveConfig.
type TargetsWatcher struct {
	logger   *zap.Logger
	live     *LiveConfig
	path     string
	interval time.Duration
	lastMod  time.Time
}

// NewTargetsWatcher creates a watcher for the configured targets file.
func NewTargetsWatcher(logger *zap.Logger, live *LiveConfig) *TargetsWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := live.Get()
	w := &TargetsWatcher{
		logger:   logger.Named("targets"),
		live:     live,
		path:     cfg.Targets.FilePath,
		interval: cfg.Targets.ReloadInterval,
	}
	if fi, err := os.Stat(w.path); err == nil {
		w.lastMod = fi.ModTime()
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *TargetsWatcher) Run(ctx context.Context) {
	if w.path == "" || w.interval <= 0 {
		w.logger.Info("targets reload disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.CheckOnce(); err != nil {
				w.logger.Warn("failed to reload targets", zap.Error(err))
			}
		}
	}
}

// CheckOnce reloads the file if it changed. It reports whether the live
// config was updated.
func (w *TargetsWatcher) CheckOnce() (bool, error) {
	fi, err := os.Stat(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !fi.ModTime().After(w.lastMod) {
		return false, nil
	}

	targets, err := LoadTargets(w.path)
	if err != nil {
		return false, err
	}

	if err := w.live.UpdatePartial(func(c *Config) {
		c.Targets.Wallets = targets
	}); err != nil {
		return false, err
	}
	w.lastMod = fi.ModTime()

	w.logger.Info("targets reloaded",
		zap.String("path", w.path),
		zap.Int("wallets", len(targets)),
	)
	return true, nil
}
