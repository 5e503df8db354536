package positions

import (
	"sync"
	"testing"
	"time"

	"gswapcopy/clients/notifier"
	"gswapcopy/config"
	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notifier.Alert
}

func (r *recordingNotifier) SendAlert(a notifier.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingNotifier) Close() error { return nil }

type memoryStore struct {
	saved map[string]domain.LiquidityPosition
	calls int
}

func (m *memoryStore) UpsertPositions(ps []domain.LiquidityPosition) {
	m.calls++
	for _, p := range ps {
		m.saved[p.ID] = p
	}
}

var t0 = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() config.PositionsConfig {
	return config.PositionsConfig{
		RefreshInterval:          time.Minute,
		HighRiskThreshold:        75,
		ImpermanentLossThreshold: 50,
		DrawdownThreshold:        20,
		LiquidityReference:       decimal.NewFromInt(10000),
		MaxDuration:              10 * 24 * time.Hour,
		AlertHistorySize:         10,
	}
}

func newTestTracker() (*Tracker, *memoryStore, *recordingNotifier) {
	store := &memoryStore{saved: make(map[string]domain.LiquidityPosition)}
	n := &recordingNotifier{}
	tr := New(zap.NewNop(), testConfig(), store, n)
	tr.now = func() time.Time { return t0 }
	return tr, store, n
}

func completed() domain.TradeExecution {
	return domain.TradeExecution{
		ID:     "exec-1",
		Status: domain.ExecutionCompleted,
		Analysis: domain.TradeAnalysis{
			Activity: domain.WalletActivity{ID: "act-1", Wallet: "eth|leader"},
			Trade:    domain.CalculatedTrade{TokenIn: "GALA", TokenOut: "GUSDC", FeeTier: 3000},
		},
		Result: &domain.ExecutionResult{
			TransactionID:   "tx-1",
			AmountIn:        dec("10"),
			QuotedAmountOut: dec("0.5"),
			FeeTier:         500,
		},
	}
}

func swap(in, out string, amountIn, amountOut string) domain.WalletActivity {
	return domain.WalletActivity{
		Type:       domain.MethodSwap,
		TokenIn:    in,
		TokenOut:   out,
		AmountIn:   dec(amountIn),
		AmountOut:  dec(amountOut),
		Successful: true,
	}
}

func liquidity(method domain.Method, positionID, liq, amount0, amount1 string) domain.WalletActivity {
	return domain.WalletActivity{
		ID:         string(method) + liq,
		Wallet:     "eth|lp",
		Type:       method,
		Pool:       domain.Pool{Token0: "GALA", Token1: "GUSDC", Fee: 3000},
		TickLower:  -120,
		TickUpper:  120,
		PositionID: positionID,
		Liquidity:  dec(liq),
		AmountIn:   dec(amount0),
		AmountOut:  dec(amount1),
		Successful: true,
	}
}

func TestOpenFromExecution(t *testing.T) {
	tr, store, _ := newTestTracker()

	p, ok := tr.OpenFromExecution(completed())
	require.True(t, ok)
	assert.Equal(t, "eth|leader", p.Owner)
	assert.Equal(t, "GUSDC", p.Pool.Token0)
	assert.Equal(t, "GALA", p.Pool.Token1)
	assert.Equal(t, 500, p.Pool.Fee)
	assert.True(t, p.Amount0.Equal(dec("0.5")))
	assert.True(t, p.Amount1.IsZero())
	assert.True(t, p.CostBasis.Equal(dec("10")))
	assert.True(t, p.EntryPrice.Equal(dec("20")))
	assert.True(t, p.Value().Equal(p.CostBasis), "opens at cost")
	assert.Equal(t, domain.PositionActive, p.Status)
	assert.Equal(t, "act-1", p.SourceActivityID)
	assert.Contains(t, store.saved, p.ID)

	failed := completed()
	failed.Status = domain.ExecutionFailed
	_, ok = tr.OpenFromExecution(failed)
	assert.False(t, ok)

	noResult := completed()
	noResult.Result = nil
	_, ok = tr.OpenFromExecution(noResult)
	assert.False(t, ok)
}

func TestObservePrice_BothOrientations(t *testing.T) {
	tr, _, _ := newTestTracker()
	p, _ := tr.OpenFromExecution(completed())

	// token0 -> token1: price is out/in
	assert.Equal(t, 1, tr.ObservePrice(swap("GUSDC", "GALA", "1", "25")))
	got, _ := tr.Get(p.ID)
	assert.True(t, got.LastPrice.Equal(dec("25")), got.LastPrice.String())

	// token1 -> token0: price is in/out
	assert.Equal(t, 1, tr.ObservePrice(swap("gala", "gusdc", "60", "2")))
	got, _ = tr.Get(p.ID)
	assert.True(t, got.LastPrice.Equal(dec("30")), got.LastPrice.String())

	assert.Zero(t, tr.ObservePrice(swap("GALA", "ETIME", "1", "1")))

	bad := swap("GUSDC", "GALA", "1", "25")
	bad.Successful = false
	assert.Zero(t, tr.ObservePrice(bad))
}

func TestRefresh_PerformanceAndRisk(t *testing.T) {
	tr, _, _ := newTestTracker()
	p, _ := tr.OpenFromExecution(completed())
	tr.ObservePrice(swap("GUSDC", "GALA", "1", "25"))

	tr.now = func() time.Time { return t0.Add(24 * time.Hour) }
	tr.Refresh()

	got, _ := tr.Get(p.ID)
	assert.True(t, got.Performance.UnrealizedPnL.Equal(dec("2.5")), got.Performance.UnrealizedPnL.String())
	assert.InDelta(t, 25, got.Performance.ReturnPct, 1e-9)
	assert.InDelta(t, ImpermanentLoss(1.25)*400, got.Risk.ImpermanentLoss, 1e-9)
	assert.InDelta(t, 100, got.Risk.Concentration, 1e-9)
	assert.InDelta(t, 10, got.Risk.Duration, 1e-9)
	assert.InDelta(t, composite(got.Risk), got.Risk.Composite, 1e-9)
}

func TestApplyLiquidity_Lifecycle(t *testing.T) {
	tr, store, _ := newTestTracker()

	p, ok := tr.ApplyLiquidity(liquidity(domain.MethodAddLiquidity, "pos-7", "1000", "10", "20"))
	require.True(t, ok, "unmatched add opens a mirror position")
	assert.True(t, p.EntryPrice.Equal(dec("2")))
	assert.True(t, p.CostBasis.Equal(dec("40")))

	p, ok = tr.ApplyLiquidity(liquidity(domain.MethodAddLiquidity, "pos-7", "500", "5", "10"))
	require.True(t, ok)
	assert.True(t, p.Liquidity.Equal(dec("1500")))
	assert.True(t, p.Amount0.Equal(dec("15")))
	assert.True(t, p.Amount1.Equal(dec("30")))
	assert.True(t, p.CostBasis.Equal(dec("60")))
	assert.Len(t, tr.All(), 1)

	tr.ObservePrice(swap("GALA", "GUSDC", "1", "3"))

	p, ok = tr.ApplyLiquidity(liquidity(domain.MethodRemoveLiquidity, "pos-7", "750", "0", "0"))
	require.True(t, ok)
	assert.Equal(t, domain.PositionPartial, p.Status)
	assert.True(t, p.Liquidity.Equal(dec("750")))
	assert.True(t, p.CostBasis.Equal(dec("30")))
	// proceeds 7.5*3 + 15 = 37.5 against a basis of 30
	assert.True(t, p.Performance.RealizedPnL.Equal(dec("7.5")), p.Performance.RealizedPnL.String())

	p, ok = tr.ApplyLiquidity(liquidity(domain.MethodRemoveLiquidity, "pos-7", "750", "0", "0"))
	require.True(t, ok)
	assert.Equal(t, domain.PositionClosed, p.Status)
	assert.Equal(t, t0, p.ClosedAt)
	assert.True(t, p.Liquidity.IsZero())
	assert.True(t, p.Performance.RealizedPnL.Equal(dec("15")))
	assert.Equal(t, domain.PositionClosed, store.saved[p.ID].Status)

	open, closed, _ := tr.Counts()
	assert.Zero(t, open)
	assert.Equal(t, 1, closed)
}

func TestApplyLiquidity_MatchesByOwnerPoolAndTicks(t *testing.T) {
	tr, _, _ := newTestTracker()

	first, _ := tr.ApplyLiquidity(liquidity(domain.MethodAddLiquidity, "", "100", "1", "2"))
	second, ok := tr.ApplyLiquidity(liquidity(domain.MethodAddLiquidity, "", "100", "1", "2"))
	require.True(t, ok)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Liquidity.Equal(dec("200")))

	other := liquidity(domain.MethodAddLiquidity, "", "100", "1", "2")
	other.TickUpper = 240
	third, _ := tr.ApplyLiquidity(other)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestApplyLiquidity_Ignored(t *testing.T) {
	tr, _, _ := newTestTracker()

	_, ok := tr.ApplyLiquidity(liquidity(domain.MethodRemoveLiquidity, "missing", "10", "0", "0"))
	assert.False(t, ok, "unmatched removal")

	failed := liquidity(domain.MethodAddLiquidity, "pos-1", "10", "1", "1")
	failed.Successful = false
	_, ok = tr.ApplyLiquidity(failed)
	assert.False(t, ok)

	_, ok = tr.ApplyLiquidity(swap("GALA", "GUSDC", "1", "1"))
	assert.False(t, ok)
	assert.Empty(t, tr.All())
}

func TestRefresh_DrawdownAlertFiresOncePerBreach(t *testing.T) {
	tr, _, n := newTestTracker()
	tr.OpenFromExecution(completed())

	tr.ObservePrice(swap("GUSDC", "GALA", "1", "10")) // value 5 against cost 10
	fired := tr.Refresh()
	require.Len(t, fired, 1)
	assert.Equal(t, RuleDrawdown, fired[0].Rule)
	assert.InDelta(t, -50, fired[0].Value, 1e-9)

	assert.Empty(t, tr.Refresh(), "still breached")

	tr.ObservePrice(swap("GUSDC", "GALA", "1", "20"))
	assert.Empty(t, tr.Refresh(), "recovered")

	tr.ObservePrice(swap("GUSDC", "GALA", "1", "10"))
	assert.Len(t, tr.Refresh(), 1, "re-armed")

	_, _, alerts := tr.Counts()
	assert.Equal(t, 2, alerts)
	require.Len(t, n.alerts, 2)
	assert.Equal(t, notifier.SourcePositions, n.alerts[0].Source)
	assert.Equal(t, "eth|leader", n.alerts[0].Wallet)
	assert.Len(t, tr.Alerts(), 2)
}

func TestRestore(t *testing.T) {
	tr, _, _ := newTestTracker()
	n := tr.Restore([]domain.LiquidityPosition{
		{ID: "a", Status: domain.PositionActive, OpenedAt: t0},
		{ID: "b", Status: domain.PositionClosed, OpenedAt: t0.Add(time.Hour)},
	})
	assert.Equal(t, 2, n)

	all := tr.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID, "newest first")

	open, closed, _ := tr.Counts()
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, closed)
}

func TestImpermanentLoss(t *testing.T) {
	assert.InDelta(t, 0, ImpermanentLoss(1), 1e-12)
	assert.InDelta(t, 0.2, ImpermanentLoss(4), 1e-12)
	assert.InDelta(t, 0.2, ImpermanentLoss(0.25), 1e-12)
	assert.Zero(t, ImpermanentLoss(0))
	assert.Zero(t, ImpermanentLoss(-1))
}

func TestSubScores(t *testing.T) {
	assert.InDelta(t, 34, composite(domain.RiskMetrics{ImpermanentLoss: 40, Concentration: 20, Liquidity: 60}), 1e-9)
	assert.InDelta(t, 100, composite(domain.RiskMetrics{ImpermanentLoss: 100, Concentration: 100, Liquidity: 100, Duration: 100}), 1e-9)

	assert.InDelta(t, 25, concentrationScore(dec("1"), dec("4")), 1e-9)
	assert.Zero(t, concentrationScore(dec("1"), decimal.Zero))

	assert.InDelta(t, 75, liquidityScore(dec("2500"), dec("10000")), 1e-9)
	assert.Zero(t, liquidityScore(dec("20000"), dec("10000")))

	assert.InDelta(t, 50, durationScore(12*time.Hour, 24*time.Hour), 1e-9)
	assert.Equal(t, 100.0, durationScore(48*time.Hour, 24*time.Hour))
}
