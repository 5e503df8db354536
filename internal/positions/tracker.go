// Package positions tracks the positions opened by copy trades and the
// liquidity positions of target wallets, and scores their risk.
package positions

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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Alert rule names.
const (
	RuleHighRisk        = "high_risk"
	RuleImpermanentLoss = "impermanent_loss"
	RuleDrawdown        = "drawdown"
)

// Alert is one fired position alert.
type Alert struct {
	PositionID string    `json:"positionId"`
	Owner      string    `json:"owner"`
	Rule       string    `json:"rule"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	At         time.Time `json:"at"`
}

// Store persists positions.
type Store interface {
	UpsertPositions(positions []domain.LiquidityPosition)
}

// Tracker owns every LiquidityPosition. Updates are serialized by its lock.
type Tracker struct {
	logger   *zap.Logger
	cfg      config.PositionsConfig
	store    Store
	notifier notifier.Notifier
	now      func() time.Time

	mu        sync.Mutex
	positions map[string]*domain.LiquidityPosition
	breach    map[string]bool
	alerts    []Alert
	fired     int
}

// New creates a tracker. store and n may be nil.
func New(logger *zap.Logger, cfg config.PositionsConfig, store Store, n notifier.Notifier) *Tracker {
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
	return &Tracker{
		logger:    logger.Named("positions"),
		cfg:       cfg,
		store:     store,
		notifier:  n,
		now:       time.Now,
		positions: make(map[string]*domain.LiquidityPosition),
		breach:    make(map[string]bool),
	}
}

// Restore loads persisted positions, replacing any with the same id.
func (t *Tracker) Restore(positions []domain.LiquidityPosition) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range positions {
		p := positions[i]
		t.positions[p.ID] = &p
	}
	return len(positions)
}

// OpenFromExecution opens a position for a completed copy swap. The
// acquired token is token0 and the cost basis is in the spent token.
func (t *Tracker) OpenFromExecution(exec domain.TradeExecution) (domain.LiquidityPosition, bool) {
	if exec.Status != domain.ExecutionCompleted || exec.Result == nil {
		return domain.LiquidityPosition{}, false
	}
	res := exec.Result
	trade := exec.Analysis.Trade
	if !res.AmountIn.IsPositive() || !res.QuotedAmountOut.IsPositive() {
		return domain.LiquidityPosition{}, false
	}

	now := t.now()
	entry := res.AmountIn.Div(res.QuotedAmountOut)
	p := &domain.LiquidityPosition{
		ID:    uuid.NewString(),
		Owner: exec.Analysis.Activity.Wallet,
		Pool: domain.Pool{
			Token0: trade.TokenOut,
			Token1: trade.TokenIn,
			Fee:    res.FeeTier,
			Hash:   exec.Analysis.Activity.Pool.Hash,
		},
		Liquidity:        res.QuotedAmountOut,
		Amount0:          res.QuotedAmountOut,
		EntryPrice:       entry,
		LastPrice:        entry,
		CostBasis:        res.AmountIn,
		Status:           domain.PositionActive,
		SourceActivityID: exec.Analysis.Activity.ID,
		OpenedAt:         now,
		UpdatedAt:        now,
	}

	t.mu.Lock()
	t.positions[p.ID] = p
	out := *p
	t.mu.Unlock()

	t.logger.Info("position opened",
		zap.String("positionId", p.ID),
		zap.String("owner", p.Owner),
		zap.String("token", p.Pool.Token0),
		zap.Stringer("amount", p.Amount0),
		zap.Stringer("costBasis", p.CostBasis),
	)
	t.persist(out)
	return out, true
}

// ApplyLiquidity applies an observed AddLiquidity or RemoveLiquidity.
// Unmatched additions open a mirror position; unmatched removals are
// ignored. It reports whether a position changed.
func (t *Tracker) ApplyLiquidity(a domain.WalletActivity) (domain.LiquidityPosition, bool) {
	if !a.Type.IsLiquidity() || !a.Successful {
		return domain.LiquidityPosition{}, false
	}
	now := t.now()

	t.mu.Lock()
	p := t.matchLocked(a)

	switch a.Type {
	case domain.MethodAddLiquidity:
		if p == nil {
			p = t.openMirrorLocked(a, now)
		} else {
			added := a.AmountIn.Abs().Mul(p.LastPrice).Add(a.AmountOut.Abs())
			p.Liquidity = p.Liquidity.Add(liquidityDelta(a))
			p.Amount0 = p.Amount0.Add(a.AmountIn.Abs())
			p.Amount1 = p.Amount1.Add(a.AmountOut.Abs())
			p.CostBasis = p.CostBasis.Add(added)
			p.Status = domain.PositionActive
		}
	case domain.MethodRemoveLiquidity:
		if p == nil {
			t.mu.Unlock()
			return domain.LiquidityPosition{}, false
		}
		removeLocked(p, a, now)
	}
	p.UpdatedAt = now
	out := *p
	t.mu.Unlock()

	t.logger.Debug("liquidity applied",
		zap.String("positionId", out.ID),
		zap.String("method", string(a.Type)),
		zap.String("status", string(out.Status)),
		zap.Stringer("liquidity", out.Liquidity),
	)
	if out.Status == domain.PositionClosed {
		t.logger.Info("position closed",
			zap.String("positionId", out.ID),
			zap.Stringer("realizedPnl", out.Performance.RealizedPnL),
		)
	}
	t.persist(out)
	return out, true
}

func liquidityDelta(a domain.WalletActivity) decimal.Decimal {
	if a.Liquidity.IsZero() {
		return a.AmountIn.Abs()
	}
	return a.Liquidity.Abs()
}

// matchLocked finds the open position an activity refers to: by position
// id first, then by owner, pool and tick range.
func (t *Tracker) matchLocked(a domain.WalletActivity) *domain.LiquidityPosition {
	var best *domain.LiquidityPosition
	for _, p := range t.positions {
		if p.Status == domain.PositionClosed {
			continue
		}
		if a.PositionID != "" && p.PositionID == a.PositionID {
			return p
		}
		if domain.SameAddress(p.Owner, a.Wallet) &&
			p.Pool.Key() == a.Pool.Key() &&
			p.TickLower == a.TickLower && p.TickUpper == a.TickUpper {
			if best == nil || p.OpenedAt.Before(best.OpenedAt) {
				best = p
			}
		}
	}
	return best
}

func (t *Tracker) openMirrorLocked(a domain.WalletActivity, now time.Time) *domain.LiquidityPosition {
	amount0 := a.AmountIn.Abs()
	amount1 := a.AmountOut.Abs()
	price := decimal.Zero
	if amount0.IsPositive() {
		price = amount1.Div(amount0)
	}

	p := &domain.LiquidityPosition{
		ID:               uuid.NewString(),
		Owner:            a.Wallet,
		Pool:             a.Pool,
		TickLower:        a.TickLower,
		TickUpper:        a.TickUpper,
		PositionID:       a.PositionID,
		Liquidity:        liquidityDelta(a),
		Amount0:          amount0,
		Amount1:          amount1,
		EntryPrice:       price,
		LastPrice:        price,
		Status:           domain.PositionActive,
		SourceActivityID: a.ID,
		OpenedAt:         now,
	}
	p.CostBasis = p.Value()
	t.positions[p.ID] = p
	return p
}

// removeLocked takes a proportional slice out of p and realizes its PnL.
func removeLocked(p *domain.LiquidityPosition, a domain.WalletActivity, now time.Time) {
	frac := decimal.NewFromInt(1)
	delta := a.Liquidity.Abs()
	switch {
	case delta.IsPositive() && p.Liquidity.IsPositive():
		frac = decimal.Min(frac, delta.Div(p.Liquidity))
	case a.AmountIn.Abs().IsPositive() && p.Amount0.IsPositive():
		frac = decimal.Min(frac, a.AmountIn.Abs().Div(p.Amount0))
	}

	removed0 := p.Amount0.Mul(frac)
	removed1 := p.Amount1.Mul(frac)
	proceeds := removed0.Mul(p.LastPrice).Add(removed1)
	basis := p.CostBasis.Mul(frac)

	p.Performance.RealizedPnL = p.Performance.RealizedPnL.Add(proceeds.Sub(basis))
	p.CostBasis = p.CostBasis.Sub(basis)
	p.Amount0 = p.Amount0.Sub(removed0)
	p.Amount1 = p.Amount1.Sub(removed1)
	p.Liquidity = p.Liquidity.Sub(p.Liquidity.Mul(frac))

	if frac.Equal(decimal.NewFromInt(1)) || !p.Liquidity.IsPositive() {
		p.Liquidity = decimal.Zero
		p.Amount0 = decimal.Zero
		p.Amount1 = decimal.Zero
		p.CostBasis = decimal.Zero
		p.Performance.UnrealizedPnL = decimal.Zero
		p.Status = domain.PositionClosed
		p.ClosedAt = now
		return
	}
	p.Status = domain.PositionPartial
}

// ObservePrice updates the last price of every open position on the
// swapped pair.
func (t *Tracker) ObservePrice(a domain.WalletActivity) int {
	if a.Type != domain.MethodSwap || !a.Successful || !a.AmountIn.IsPositive() || !a.AmountOut.IsPositive() {
		return 0
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	updated := 0
	for _, p := range t.positions {
		if p.Status == domain.PositionClosed {
			continue
		}
		var price decimal.Decimal
		switch {
		case strings.EqualFold(a.TokenIn, p.Pool.Token0) && strings.EqualFold(a.TokenOut, p.Pool.Token1):
			price = a.AmountOut.Div(a.AmountIn)
		case strings.EqualFold(a.TokenIn, p.Pool.Token1) && strings.EqualFold(a.TokenOut, p.Pool.Token0):
			price = a.AmountIn.Div(a.AmountOut)
		default:
			continue
		}
		p.LastPrice = price
		p.UpdatedAt = now
		updated++
	}
	return updated
}

// Run recomputes metrics and evaluates alerts every RefreshInterval.
func (t *Tracker) Run(ctx context.Context) {
	tick := time.NewTicker(t.cfg.RefreshInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Refresh()
		}
	}
}

// Refresh recomputes performance and risk of every open position, fires
// alerts for new breaches, persists the result and returns the fired
// alerts.
func (t *Tracker) Refresh() []Alert {
	now := t.now()

	t.mu.Lock()
	total := decimal.Zero
	for _, p := range t.positions {
		if p.Status != domain.PositionClosed {
			total = total.Add(p.Value())
		}
	}

	var fired []Alert
	snapshot := make([]domain.LiquidityPosition, 0, len(t.positions))
	for _, p := range t.positions {
		if p.Status != domain.PositionClosed {
			t.recomputeLocked(p, total, now)
			fired = append(fired, t.evaluateLocked(p, now)...)
		}
		snapshot = append(snapshot, *p)
	}

	t.alerts = append(t.alerts, fired...)
	t.fired += len(fired)
	if over := len(t.alerts) - t.cfg.AlertHistorySize; over > 0 {
		t.alerts = append([]Alert(nil), t.alerts[over:]...)
	}
	t.mu.Unlock()

	for _, a := range fired {
		t.logger.Warn("position alert",
			zap.String("positionId", a.PositionID),
			zap.String("rule", a.Rule),
			zap.String("message", a.Message),
		)
		t.notifier.SendAlert(notifier.Alert{
			Source:    notifier.SourcePositions,
			Kind:      a.Rule,
			Level:     notifier.LevelWarning,
			Title:     "Position alert: " + a.Rule,
			Message:   a.Message,
			Wallet:    a.Owner,
			Fields:    []notifier.Field{{Name: "Position", Value: a.PositionID}},
			Timestamp: a.At,
		})
	}

	if t.store != nil && len(snapshot) > 0 {
		t.store.UpsertPositions(snapshot)
	}
	return fired
}

func (t *Tracker) recomputeLocked(p *domain.LiquidityPosition, total decimal.Decimal, now time.Time) {
	value := p.Value()
	p.Performance.UnrealizedPnL = value.Sub(p.CostBasis)
	if p.CostBasis.IsPositive() {
		p.Performance.ReturnPct, _ = p.Performance.UnrealizedPnL.Div(p.CostBasis).Mul(decimal.NewFromInt(100)).Float64()
	}

	p.Risk.ImpermanentLoss = ilScore(p)
	p.Risk.Concentration = concentrationScore(value, total)
	p.Risk.Liquidity = liquidityScore(p.Liquidity, t.cfg.LiquidityReference)
	p.Risk.Duration = durationScore(now.Sub(p.OpenedAt), t.cfg.MaxDuration)
	p.Risk.Composite = composite(p.Risk)
}

func (t *Tracker) evaluateLocked(p *domain.LiquidityPosition, now time.Time) []Alert {
	type rule struct {
		name      string
		breached  bool
		value     float64
		threshold float64
		message   string
	}
	rules := []rule{
		{
			name:      RuleHighRisk,
			breached:  t.cfg.HighRiskThreshold > 0 && p.Risk.Composite >= t.cfg.HighRiskThreshold,
			value:     p.Risk.Composite,
			threshold: t.cfg.HighRiskThreshold,
			message:   fmt.Sprintf("composite risk %.1f at or above %.1f", p.Risk.Composite, t.cfg.HighRiskThreshold),
		},
		{
			name:      RuleImpermanentLoss,
			breached:  t.cfg.ImpermanentLossThreshold > 0 && p.Risk.ImpermanentLoss >= t.cfg.ImpermanentLossThreshold,
			value:     p.Risk.ImpermanentLoss,
			threshold: t.cfg.ImpermanentLossThreshold,
			message:   fmt.Sprintf("impermanent loss score %.1f at or above %.1f", p.Risk.ImpermanentLoss, t.cfg.ImpermanentLossThreshold),
		},
		{
			name:      RuleDrawdown,
			breached:  t.cfg.DrawdownThreshold > 0 && p.Performance.ReturnPct <= -t.cfg.DrawdownThreshold,
			value:     p.Performance.ReturnPct,
			threshold: -t.cfg.DrawdownThreshold,
			message:   fmt.Sprintf("return %.1f%% below -%.1f%%", p.Performance.ReturnPct, t.cfg.DrawdownThreshold),
		},
	}

	var fired []Alert
	for _, r := range rules {
		key := p.ID + "|" + r.name
		if !r.breached {
			delete(t.breach, key)
			continue
		}
		if t.breach[key] {
			continue
		}
		t.breach[key] = true
		fired = append(fired, Alert{
			PositionID: p.ID,
			Owner:      p.Owner,
			Rule:       r.name,
			Message:    r.message,
			Value:      r.value,
			Threshold:  r.threshold,
			At:         now,
		})
	}
	return fired
}

func (t *Tracker) persist(p domain.LiquidityPosition) {
	if t.store != nil {
		t.store.UpsertPositions([]domain.LiquidityPosition{p})
	}
}

// Get returns a copy of one position.
func (t *Tracker) Get(id string) (domain.LiquidityPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return domain.LiquidityPosition{}, false
	}
	return *p, true
}

// All returns copies of every position, newest first.
func (t *Tracker) All() []domain.LiquidityPosition {
	t.mu.Lock()
	out := make([]domain.LiquidityPosition, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out
}

// Alerts returns the retained alert history, oldest first.
func (t *Tracker) Alerts() []Alert {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Alert, len(t.alerts))
	copy(out, t.alerts)
	return out
}

// Counts returns open and closed position counts and alerts fired.
func (t *Tracker) Counts() (open, closed, alerts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.positions {
		if p.Status == domain.PositionClosed {
			closed++
		} else {
			open++
		}
	}
	return open, closed, t.fired
}
