// Package ledger keeps rolling per-wallet statistics for the target wallets
// and raises alerts when a wallet's behaviour crosses configured limits.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gswapcopy/clients/notifier"
	"gswapcopy/config"
	"gswapcopy/internal/domain"

	"go.uber.org/zap"
)

// Alert rule names.
const (
	RuleHighVolume     = "high_volume"
	RuleLowSuccessRate = "low_success_rate"
	RuleInactive       = "inactive"
)

// Alert is one fired ledger alert.
type Alert struct {
	Wallet    string    `json:"wallet"`
	Rule      string    `json:"rule"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

type walletState struct {
	stats domain.WalletStats

	// acquired maps a token to when the wallet first received it; a later
	// swap out of the token closes the holding.
	acquired  map[string]time.Time
	holdTotal time.Duration
	holdCount int
}

// Ledger owns every WalletStats. All mutation goes through its lock.
type Ledger struct {
	logger   *zap.Logger
	cfg      config.LedgerConfig
	notifier notifier.Notifier
	now      func() time.Time

	mu      sync.RWMutex
	wallets map[string]*walletState
	names   map[string]string
	breach  map[string]bool
	alerts  []Alert
	fired   int
}

// New creates a ledger with stats for every enabled target.
func New(logger *zap.Logger, cfg config.LedgerConfig, targets []domain.TargetWallet, n notifier.Notifier) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n == nil {
		n = notifier.Nop{}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.AlertHistorySize <= 0 {
		cfg.AlertHistorySize = 200
	}

	l := &Ledger{
		logger:   logger.Named("ledger"),
		cfg:      cfg,
		notifier: n,
		now:      time.Now,
		wallets:  make(map[string]*walletState),
		names:    make(map[string]string),
		breach:   make(map[string]bool),
	}
	l.SetTargets(targets)
	return l
}

// SetTargets creates stats for newly enabled targets and refreshes names.
// Existing statistics are kept.
func (l *Ledger) SetTargets(targets []domain.TargetWallet) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range targets {
		key := domain.NormalizeAddress(t.Address)
		if key == "" {
			continue
		}
		l.names[key] = t.Name
		if !t.Enabled {
			continue
		}
		w := l.walletLocked(t.Address)
		w.stats.Name = t.Name
	}
}

func (l *Ledger) walletLocked(address string) *walletState {
	key := domain.NormalizeAddress(address)
	w, ok := l.wallets[key]
	if !ok {
		w = &walletState{
			stats: domain.WalletStats{
				Address: address,
				Name:    l.names[key],
				ByType:  make(map[domain.Method]int),
				Pattern: domain.PatternUnknown,
			},
			acquired: make(map[string]time.Time),
		}
		l.wallets[key] = w
	}
	return w
}

// Record folds one activity into its wallet's statistics and returns the
// updated stats.
func (l *Ledger) Record(a domain.WalletActivity) domain.WalletStats {
	at := a.BlockTime
	if at.IsZero() {
		at = a.DetectedAt
	}
	if at.IsZero() {
		at = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.walletLocked(a.Wallet)
	s := &w.stats

	s.TotalTrades++
	if a.Successful {
		s.SuccessfulTrades++
	} else {
		s.FailedTrades++
	}
	s.ByType[a.Type]++
	s.TotalVolume = s.TotalVolume.Add(a.AmountIn.Abs())

	if s.FirstActivity.IsZero() || at.Before(s.FirstActivity) {
		s.FirstActivity = at
	}
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}

	if a.Type == domain.MethodSwap && a.Successful {
		w.trackHolding(a, at)
	}

	recompute(s, l.cfg.MinTradesForPattern)
	return s.Clone()
}

func (w *walletState) trackHolding(a domain.WalletActivity, at time.Time) {
	in := strings.ToUpper(a.TokenIn)
	out := strings.ToUpper(a.TokenOut)

	if since, ok := w.acquired[in]; ok {
		if held := at.Sub(since); held > 0 {
			w.holdTotal += held
			w.holdCount++
			w.stats.MeanHoldTime = w.holdTotal / time.Duration(w.holdCount)
		}
		delete(w.acquired, in)
	}
	if _, ok := w.acquired[out]; !ok && out != "" {
		w.acquired[out] = at
	}
}

// Stats returns a copy of the wallet's statistics.
func (l *Ledger) Stats(address string) (domain.WalletStats, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wallets[domain.NormalizeAddress(address)]
	if !ok {
		return domain.WalletStats{}, false
	}
	return w.stats.Clone(), true
}

// All returns copies of every wallet's statistics sorted by address.
func (l *Ledger) All() []domain.WalletStats {
	l.mu.RLock()
	out := make([]domain.WalletStats, 0, len(l.wallets))
	for _, w := range l.wallets {
		out = append(out, w.stats.Clone())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Alerts returns the retained alert history, oldest first.
func (l *Ledger) Alerts() []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Alert, len(l.alerts))
	copy(out, l.alerts)
	return out
}

// AlertsFired returns how many alerts were raised since start.
func (l *Ledger) AlertsFired() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fired
}

// Run recomputes scores and evaluates alert rules every RefreshInterval.
func (l *Ledger) Run(ctx context.Context) {
	t := time.NewTicker(l.cfg.RefreshInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Refresh()
		}
	}
}

// Refresh recomputes every wallet and fires alerts for new breaches. It
// returns the alerts fired by this call.
func (l *Ledger) Refresh() []Alert {
	now := l.now()

	l.mu.Lock()
	var fired []Alert
	for key, w := range l.wallets {
		recompute(&w.stats, l.cfg.MinTradesForPattern)
		for _, c := range l.evaluate(&w.stats, now) {
			id := key + "|" + c.Rule
			if !c.breached {
				delete(l.breach, id)
				continue
			}
			if l.breach[id] {
				continue
			}
			l.breach[id] = true
			fired = append(fired, c.Alert)
		}
	}
	for _, a := range fired {
		l.alerts = append(l.alerts, a)
		l.fired++
	}
	if over := len(l.alerts) - l.cfg.AlertHistorySize; over > 0 {
		l.alerts = append([]Alert(nil), l.alerts[over:]...)
	}
	l.mu.Unlock()

	for _, a := range fired {
		l.logger.Warn("wallet alert",
			zap.String("wallet", a.Wallet),
			zap.String("rule", a.Rule),
			zap.String("message", a.Message),
		)
		l.notifier.SendAlert(notifier.Alert{
			Source:    notifier.SourceLedger,
			Kind:      a.Rule,
			Level:     notifier.LevelWarning,
			Title:     "Wallet alert: " + a.Rule,
			Message:   a.Message,
			Wallet:    a.Wallet,
			Timestamp: a.At,
		})
	}

	return fired
}

type check struct {
	Alert
	breached bool
}

func (l *Ledger) evaluate(s *domain.WalletStats, now time.Time) []check {
	var checks []check

	if thr := l.cfg.VolumeAlertThreshold; thr.IsPositive() {
		vol, _ := s.TotalVolume.Float64()
		limit, _ := thr.Float64()
		checks = append(checks, check{
			Alert: Alert{
				Wallet:    s.Address,
				Rule:      RuleHighVolume,
				Message:   fmt.Sprintf("total volume %s exceeds %s", s.TotalVolume.StringFixed(2), thr.String()),
				Value:     vol,
				Threshold: limit,
				At:        now,
			},
			breached: s.TotalVolume.GreaterThan(thr),
		})
	}

	if l.cfg.SuccessRateAlertBelow > 0 {
		checks = append(checks, check{
			Alert: Alert{
				Wallet:    s.Address,
				Rule:      RuleLowSuccessRate,
				Message:   fmt.Sprintf("success rate %.0f%% below %.0f%% over %d trades", s.SuccessRate*100, l.cfg.SuccessRateAlertBelow*100, s.TotalTrades),
				Value:     s.SuccessRate,
				Threshold: l.cfg.SuccessRateAlertBelow,
				At:        now,
			},
			breached: s.TotalTrades >= l.cfg.SuccessRateMinSample && s.SuccessRate < l.cfg.SuccessRateAlertBelow,
		})
	}

	if l.cfg.InactivityAlertAfter > 0 && !s.LastActivity.IsZero() {
		idle := now.Sub(s.LastActivity)
		checks = append(checks, check{
			Alert: Alert{
				Wallet:    s.Address,
				Rule:      RuleInactive,
				Message:   fmt.Sprintf("no activity for %s", idle.Round(time.Minute)),
				Value:     idle.Hours(),
				Threshold: l.cfg.InactivityAlertAfter.Hours(),
				At:        now,
			},
			breached: idle > l.cfg.InactivityAlertAfter,
		})
	}

	return checks
}

// Snapshot is a serializable copy of the ledger.
type Snapshot struct {
	Version   int                           `json:"version"`
	Timestamp time.Time                     `json:"timestamp"`
	Wallets   map[string]domain.WalletStats `json:"wallets"`
}

// Export returns a snapshot of every wallet's statistics.
func (l *Ledger) Export() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	wallets := make(map[string]domain.WalletStats, len(l.wallets))
	for k, w := range l.wallets {
		wallets[k] = w.stats.Clone()
	}
	return Snapshot{Version: 1, Timestamp: l.now(), Wallets: wallets}
}

// Import merges a snapshot. Entries with newer LastActivity win.
func (l *Ledger) Import(snap Snapshot) int {
	if len(snap.Wallets) == 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	imported := 0
	for _, stats := range snap.Wallets {
		key := domain.NormalizeAddress(stats.Address)
		if key == "" {
			continue
		}
		existing, ok := l.wallets[key]
		if ok && !stats.LastActivity.After(existing.stats.LastActivity) {
			continue
		}
		w := l.walletLocked(stats.Address)
		w.stats = stats.Clone()
		if w.stats.ByType == nil {
			w.stats.ByType = make(map[domain.Method]int)
		}
		if name := l.names[key]; name != "" {
			w.stats.Name = name
		}
		imported++
	}

	l.logger.Info("imported wallet stats",
		zap.Int("imported", imported),
		zap.Int("tracked", len(l.wallets)),
		zap.Time("snapshotTime", snap.Timestamp),
	)
	return imported
}
