package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gswapcopy/clients/gswap"
	"gswapcopy/internal/health"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PoolSource is the read-only DEX surface the estimator needs.
type PoolSource interface {
	GetBalances(ctx context.Context, owner string) ([]gswap.Balance, error)
	GetPool(ctx context.Context, tokenA, tokenB string, fee int) (gswap.Pool, error)
}

// PortfolioConfig configures a PortfolioEstimator.
type PortfolioConfig struct {
	Owner           string
	QuoteToken      string
	RefreshInterval time.Duration
	Default         decimal.Decimal
	FeeTiers        []int
}

var defaultFeeTiers = []int{3000, 500, 10000}

// PortfolioEstimator values the bot wallet in the quote token in the
// background. The hot path only reads the cached value.
type PortfolioEstimator struct {
	logger  *zap.Logger
	src     PoolSource
	breaker *health.Breaker
	cfg     PortfolioConfig
	now     func() time.Time

	mu          sync.RWMutex
	value       decimal.Decimal
	estimatedAt time.Time
	lastErr     error
}

// NewPortfolioEstimator creates an estimator. A nil src or empty owner
// disables refreshes; PortfolioSize then returns the default.
func NewPortfolioEstimator(logger *zap.Logger, src PoolSource, breaker *health.Breaker, cfg PortfolioConfig) *PortfolioEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = defaultFeeTiers
	}
	return &PortfolioEstimator{
		logger:  logger.Named("portfolio"),
		src:     src,
		breaker: breaker,
		cfg:     cfg,
		now:     time.Now,
	}
}

// PortfolioSize returns the last estimate while it is fresh, otherwise the
// configured default.
func (p *PortfolioEstimator) PortfolioSize() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.value.IsPositive() && p.now().Sub(p.estimatedAt) <= 3*p.cfg.RefreshInterval {
		return p.value
	}
	return p.cfg.Default
}

// LastEstimate returns the cached estimate and when it was made.
func (p *PortfolioEstimator) LastEstimate() (decimal.Decimal, time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value, p.estimatedAt, p.lastErr
}

// Run refreshes immediately and then every RefreshInterval.
func (p *PortfolioEstimator) Run(ctx context.Context) {
	if p.src == nil || p.cfg.Owner == "" {
		p.logger.Info("portfolio estimation disabled, using default size",
			zap.Stringer("default", p.cfg.Default),
		)
		return
	}

	p.refreshAndLog(ctx)

	t := time.NewTicker(p.cfg.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.refreshAndLog(ctx)
		}
	}
}

func (p *PortfolioEstimator) refreshAndLog(ctx context.Context) {
	v, err := p.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("portfolio refresh failed", zap.Error(err))
		}
		return
	}
	p.logger.Debug("portfolio estimated", zap.Stringer("value", v), zap.String("quote", p.cfg.QuoteToken))
}

// Refresh values every balance in the quote token. Tokens without a priced
// pool are skipped.
func (p *PortfolioEstimator) Refresh(ctx context.Context) (decimal.Decimal, error) {
	balances, err := health.Call(ctx, p.breaker, func(ctx context.Context) ([]gswap.Balance, error) {
		return p.src.GetBalances(ctx, p.cfg.Owner)
	})
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, b := range balances {
		if !b.Quantity.IsPositive() {
			continue
		}
		token := gswap.Collection(b.Token)
		if strings.EqualFold(token, p.cfg.QuoteToken) {
			total = total.Add(b.Quantity)
			continue
		}

		price, ok, err := p.price(ctx, token)
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			p.logger.Debug("no priced pool for token", zap.String("token", token))
			continue
		}
		total = total.Add(b.Quantity.Mul(price))
	}

	p.mu.Lock()
	p.value = total
	p.estimatedAt = p.now()
	p.lastErr = nil
	p.mu.Unlock()

	return total, nil
}

// price returns the quote-token value of one unit of token from the first
// fee tier with a priced pool.
func (p *PortfolioEstimator) price(ctx context.Context, token string) (decimal.Decimal, bool, error) {
	for _, fee := range p.cfg.FeeTiers {
		pool, err := health.Call(ctx, p.breaker, func(ctx context.Context) (gswap.Pool, error) {
			pool, err := p.src.GetPool(ctx, token, p.cfg.QuoteToken, fee)
			if errors.Is(err, gswap.ErrNotFound) {
				// A missing tier is an answer, not a failure.
				return gswap.Pool{}, health.Validation("get pool", err)
			}
			return pool, err
		})
		if errors.Is(err, gswap.ErrNotFound) {
			continue
		}
		if err != nil {
			return decimal.Zero, false, err
		}
		if price, ok := pool.PriceOf(token); ok {
			return price, true, nil
		}
	}
	return decimal.Zero, false, nil
}
