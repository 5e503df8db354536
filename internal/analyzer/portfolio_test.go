package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"gswapcopy/clients/gswap"
	"gswapcopy/internal/health"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePools struct {
	balances   []gswap.Balance
	balanceErr error
	pools      map[string]gswap.Pool // keyed by token/fee
	poolCalls  int
}

func (f *fakePools) GetBalances(context.Context, string) ([]gswap.Balance, error) {
	return f.balances, f.balanceErr
}

func (f *fakePools) GetPool(_ context.Context, tokenA, _ string, fee int) (gswap.Pool, error) {
	f.poolCalls++
	p, ok := f.pools[tokenA+"/"+decimal.NewFromInt(int64(fee)).String()]
	if !ok {
		return gswap.Pool{}, gswap.ErrNotFound
	}
	return p, nil
}

func TestPortfolioEstimator_Refresh(t *testing.T) {
	src := &fakePools{
		balances: []gswap.Balance{
			{Token: "GUSDC|Unit|none|none", Quantity: dec("100")},
			{Token: "GALA", Quantity: dec("1000")},
			{Token: "ETIME", Quantity: dec("5")},
			{Token: "DUST", Quantity: decimal.Zero},
		},
		pools: map[string]gswap.Pool{
			// GALA is only listed in the 500 tier at 0.04 GUSDC.
			"GALA/500": {Token0: "GALA|Unit|none|none", Token1: "GUSDC|Unit|none|none", Fee: 500, SqrtPrice: dec("0.2")},
		},
	}
	breaker := health.NewBreaker(nil, "gswap-read", health.BreakerSettings{FailureThreshold: 2, Window: time.Minute, Cooldown: time.Minute})
	p := NewPortfolioEstimator(zap.NewNop(), src, breaker, PortfolioConfig{
		Owner:           "eth|bot",
		QuoteToken:      "GUSDC",
		RefreshInterval: time.Minute,
		Default:         dec("1000"),
	})

	v, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Equal(dec("140")), v.String())
	assert.True(t, p.PortfolioSize().Equal(dec("140")))
	assert.False(t, breaker.Open(), "missing pools do not trip the breaker")
}

func TestPortfolioEstimator_FallsBackToDefault(t *testing.T) {
	src := &fakePools{balances: []gswap.Balance{{Token: "GUSDC", Quantity: dec("50")}}}
	p := NewPortfolioEstimator(nil, src, nil, PortfolioConfig{
		Owner:           "eth|bot",
		QuoteToken:      "GUSDC",
		RefreshInterval: time.Minute,
		Default:         dec("1000"),
	})
	now := time.Now()
	p.now = func() time.Time { return now }

	assert.True(t, p.PortfolioSize().Equal(dec("1000")), "no estimate yet")

	_, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, p.PortfolioSize().Equal(dec("50")))

	now = now.Add(4 * time.Minute)
	assert.True(t, p.PortfolioSize().Equal(dec("1000")), "stale estimate is ignored")
}

func TestPortfolioEstimator_ErrorKeepsLastValue(t *testing.T) {
	src := &fakePools{balances: []gswap.Balance{{Token: "GUSDC", Quantity: dec("75")}}}
	p := NewPortfolioEstimator(nil, src, nil, PortfolioConfig{Owner: "eth|bot", QuoteToken: "GUSDC", Default: dec("1")})

	_, err := p.Refresh(context.Background())
	require.NoError(t, err)

	src.balanceErr = errors.New("backend down")
	_, err = p.Refresh(context.Background())
	require.Error(t, err)

	v, _, lastErr := p.LastEstimate()
	assert.True(t, v.Equal(dec("75")))
	assert.Error(t, lastErr)
	assert.True(t, p.PortfolioSize().Equal(dec("75")))
}

func TestPortfolioEstimator_DisabledWithoutOwner(t *testing.T) {
	p := NewPortfolioEstimator(nil, &fakePools{}, nil, PortfolioConfig{Default: dec("321")})

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when disabled")
	}
	assert.True(t, p.PortfolioSize().Equal(dec("321")))
}
