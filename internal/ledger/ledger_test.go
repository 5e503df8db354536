package ledger

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

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.LedgerConfig {
	return config.LedgerConfig{
		RefreshInterval:       time.Minute,
		MinTradesForPattern:   3,
		VolumeAlertThreshold:  decimal.NewFromInt(1000),
		SuccessRateAlertBelow: 0.5,
		SuccessRateMinSample:  4,
		InactivityAlertAfter:  time.Hour,
		AlertHistorySize:      3,
	}
}

func swap(wallet, in, out string, amount int64, ok bool, at time.Time) domain.WalletActivity {
	return domain.WalletActivity{
		ID:         wallet + at.String(),
		Wallet:     wallet,
		Type:       domain.MethodSwap,
		TokenIn:    in,
		TokenOut:   out,
		AmountIn:   decimal.NewFromInt(amount),
		AmountOut:  decimal.NewFromInt(amount),
		Successful: ok,
		BlockTime:  at,
	}
}

func newTestLedger(n notifier.Notifier) *Ledger {
	targets := []domain.TargetWallet{
		{Address: "eth|AAA", Name: "alpha", Enabled: true},
		{Address: "eth|BBB", Name: "beta", Enabled: false},
	}
	l := New(zap.NewNop(), testConfig(), targets, n)
	l.now = func() time.Time { return base }
	return l
}

func TestNew_CreatesStatsForEnabledTargets(t *testing.T) {
	l := newTestLedger(nil)

	s, ok := l.Stats("ETH|aaa")
	require.True(t, ok)
	assert.Equal(t, "alpha", s.Name)
	assert.Equal(t, domain.PatternUnknown, s.Pattern)

	_, ok = l.Stats("eth|BBB")
	assert.False(t, ok, "disabled targets start without stats")
	assert.Len(t, l.All(), 1)
}

func TestRecord_Counters(t *testing.T) {
	l := newTestLedger(nil)

	l.Record(swap("eth|AAA", "GALA", "GUSDC", 100, true, base))
	l.Record(swap("eth|aaa", "GUSDC", "GALA", 50, false, base.Add(time.Minute)))
	s := l.Record(domain.WalletActivity{
		Wallet:     "eth|AAA",
		Type:       domain.MethodAddLiquidity,
		AmountIn:   decimal.NewFromInt(-30),
		Successful: true,
		BlockTime:  base.Add(2 * time.Minute),
	})

	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 2, s.SuccessfulTrades)
	assert.Equal(t, 1, s.FailedTrades)
	assert.Equal(t, 2, s.ByType[domain.MethodSwap])
	assert.Equal(t, 1, s.ByType[domain.MethodAddLiquidity])
	assert.True(t, s.TotalVolume.Equal(decimal.NewFromInt(180)), s.TotalVolume.String())
	assert.True(t, s.AverageTradeSize.Equal(decimal.NewFromInt(60)))
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-9)
	assert.Equal(t, base, s.FirstActivity)
	assert.Equal(t, base.Add(2*time.Minute), s.LastActivity)
}

func TestRecord_UnknownWalletGetsStats(t *testing.T) {
	l := newTestLedger(nil)
	l.Record(swap("eth|BBB", "GALA", "GUSDC", 10, true, base))

	s, ok := l.Stats("eth|bbb")
	require.True(t, ok)
	assert.Equal(t, "beta", s.Name)
	assert.Equal(t, 1, s.TotalTrades)
}

func TestRecord_ReturnsCopy(t *testing.T) {
	l := newTestLedger(nil)
	s := l.Record(swap("eth|AAA", "GALA", "GUSDC", 10, true, base))
	s.ByType[domain.MethodSwap] = 99

	fresh, _ := l.Stats("eth|AAA")
	assert.Equal(t, 1, fresh.ByType[domain.MethodSwap])
}

func TestRecord_MeanHoldTime(t *testing.T) {
	l := newTestLedger(nil)

	l.Record(swap("eth|AAA", "GUSDC", "GALA", 10, true, base))
	l.Record(swap("eth|AAA", "GALA", "GUSDC", 10, true, base.Add(2*time.Hour)))
	l.Record(swap("eth|AAA", "GUSDC", "ETIME", 10, true, base.Add(3*time.Hour)))
	s := l.Record(swap("eth|AAA", "ETIME", "GUSDC", 10, true, base.Add(7*time.Hour)))

	// GALA held 2h, GUSDC held 1h, ETIME held 4h.
	assert.Equal(t, 7*time.Hour/3, s.MeanHoldTime)
}

func TestRecord_FailedSwapDoesNotTrackHolding(t *testing.T) {
	l := newTestLedger(nil)

	l.Record(swap("eth|AAA", "GUSDC", "GALA", 10, false, base))
	s := l.Record(swap("eth|AAA", "GALA", "GUSDC", 10, true, base.Add(time.Hour)))
	assert.Zero(t, s.MeanHoldTime)
}

func TestRecord_ConcurrentWriters(t *testing.T) {
	l := newTestLedger(nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Record(swap("eth|AAA", "GALA", "GUSDC", 1, true, base))
			}
		}()
	}
	wg.Wait()

	s, _ := l.Stats("eth|AAA")
	assert.Equal(t, 400, s.TotalTrades)
}

func TestScores(t *testing.T) {
	tests := []struct {
		name        string
		stats       domain.WalletStats
		risk        float64
		performance float64
	}{
		{
			name:        "empty",
			stats:       domain.WalletStats{},
			risk:        0,
			performance: 0,
		},
		{
			name: "busy loser",
			stats: domain.WalletStats{
				TotalTrades:      200,
				SuccessfulTrades: 80,
				TradeFrequency:   24 * 30,
				TotalVolume:      decimal.NewFromInt(4_000_000),
				AverageTradeSize: decimal.NewFromInt(20000),
				SuccessRate:      0.4,
			},
			risk:        100,
			performance: 0.4*60 + 20 + 20,
		},
		{
			name: "steady winner",
			stats: domain.WalletStats{
				TotalTrades:      20,
				SuccessfulTrades: 19,
				TradeFrequency:   2,
				TotalVolume:      decimal.NewFromInt(5000),
				AverageTradeSize: decimal.NewFromInt(250),
				SuccessRate:      0.95,
			},
			risk:        10,
			performance: 0.95*60 + 10 + 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.risk, riskScore(&tt.stats), 1e-9)
			assert.InDelta(t, tt.performance, performanceScore(&tt.stats), 1e-9)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		trades  int
		freq    float64
		hold    time.Duration
		pattern domain.Pattern
		conf    float64
	}{
		{"too few trades", 2, 100, time.Minute, domain.PatternUnknown, 0},
		{"scalper", 10, 60, 10 * time.Minute, domain.PatternScalper, 0.9},
		{"fast without hold data", 10, 60, 0, domain.PatternFrequentTrader, 0.75},
		{"frequent", 10, 12, 3 * time.Hour, domain.PatternFrequentTrader, 0.75},
		{"swing", 10, 2, 2 * 24 * time.Hour, domain.PatternSwingTrader, 0.6},
		{"hodler", 10, 0.1, 30 * 24 * time.Hour, domain.PatternHodler, 0.7},
		{"slow short holds", 10, 0.5, time.Hour, domain.PatternUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.WalletStats{TotalTrades: tt.trades, TradeFrequency: tt.freq, MeanHoldTime: tt.hold}
			p, c := classify(&s, 3)
			assert.Equal(t, tt.pattern, p)
			assert.InDelta(t, tt.conf, c, 1e-9)
		})
	}
}

func TestTradeFrequency_MinimumSpan(t *testing.T) {
	s := domain.WalletStats{TotalTrades: 2, FirstActivity: base, LastActivity: base.Add(time.Minute)}
	assert.InDelta(t, 48, tradeFrequency(&s), 1e-9)

	s = domain.WalletStats{TotalTrades: 4, FirstActivity: base, LastActivity: base.Add(48 * time.Hour)}
	assert.InDelta(t, 2, tradeFrequency(&s), 1e-9)
}

func TestRefresh_AlertFiresOncePerBreach(t *testing.T) {
	rec := &recordingNotifier{}
	l := newTestLedger(rec)

	l.Record(swap("eth|AAA", "GALA", "GUSDC", 1500, true, base))

	fired := l.Refresh()
	require.Len(t, fired, 1)
	assert.Equal(t, RuleHighVolume, fired[0].Rule)
	assert.Equal(t, 1, rec.count())

	assert.Empty(t, l.Refresh(), "breach already reported")
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1, l.AlertsFired())
}

func TestRefresh_LowSuccessRateNeedsSample(t *testing.T) {
	l := newTestLedger(nil)

	for i := 0; i < 3; i++ {
		l.Record(swap("eth|AAA", "GALA", "GUSDC", 1, false, base))
	}
	assert.Empty(t, l.Refresh())

	l.Record(swap("eth|AAA", "GALA", "GUSDC", 1, false, base))
	fired := l.Refresh()
	require.Len(t, fired, 1)
	assert.Equal(t, RuleLowSuccessRate, fired[0].Rule)
}

func TestRefresh_InactivityRearms(t *testing.T) {
	l := newTestLedger(nil)
	l.Record(swap("eth|AAA", "GALA", "GUSDC", 1, true, base))

	now := base.Add(2 * time.Hour)
	l.now = func() time.Time { return now }

	fired := l.Refresh()
	require.Len(t, fired, 1)
	assert.Equal(t, RuleInactive, fired[0].Rule)

	// Activity clears the breach; a later gap fires again.
	l.Record(swap("eth|AAA", "GALA", "GUSDC", 1, true, now))
	assert.Empty(t, l.Refresh())

	now = now.Add(3 * time.Hour)
	fired = l.Refresh()
	require.Len(t, fired, 1)
	assert.Equal(t, RuleInactive, fired[0].Rule)
	assert.Equal(t, 2, l.AlertsFired())
}

func TestAlerts_BoundedHistory(t *testing.T) {
	l := newTestLedger(nil)
	for _, w := range []string{"eth|1", "eth|2", "eth|3", "eth|4"} {
		l.Record(swap(w, "GALA", "GUSDC", 2000, true, base))
	}

	assert.Len(t, l.Refresh(), 4)
	assert.Len(t, l.Alerts(), 3)
	assert.Equal(t, 4, l.AlertsFired())
}

func TestSetTargets_KeepsStats(t *testing.T) {
	l := newTestLedger(nil)
	l.Record(swap("eth|AAA", "GALA", "GUSDC", 5, true, base))

	l.SetTargets([]domain.TargetWallet{
		{Address: "eth|AAA", Name: "renamed", Enabled: true},
		{Address: "eth|CCC", Name: "gamma", Enabled: true},
	})

	s, ok := l.Stats("eth|AAA")
	require.True(t, ok)
	assert.Equal(t, "renamed", s.Name)
	assert.Equal(t, 1, s.TotalTrades)

	_, ok = l.Stats("eth|CCC")
	assert.True(t, ok)
}

func TestExportImport(t *testing.T) {
	src := newTestLedger(nil)
	src.Record(swap("eth|AAA", "GALA", "GUSDC", 5, true, base))
	src.Record(swap("eth|DDD", "GALA", "GUSDC", 7, true, base))
	snap := src.Export()
	require.Len(t, snap.Wallets, 2)

	dst := newTestLedger(nil)
	assert.Equal(t, 2, dst.Import(snap))

	s, ok := dst.Stats("eth|DDD")
	require.True(t, ok)
	assert.Equal(t, 1, s.TotalTrades)

	// Newer local data is kept.
	dst.Record(swap("eth|AAA", "GALA", "GUSDC", 1, true, base.Add(time.Hour)))
	assert.Equal(t, 0, dst.Import(snap))
	s, _ = dst.Stats("eth|AAA")
	assert.Equal(t, 2, s.TotalTrades)
}
