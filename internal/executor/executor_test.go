package executor

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"gswapcopy/clients/gswap"
	"gswapcopy/internal/domain"
	"gswapcopy/internal/health"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExchange struct {
	mu         sync.Mutex
	quoteOut   decimal.Decimal
	quoteErrs  []error // consumed one per call; nil entries succeed
	swapErr    error
	quoteCalls int
	swapCalls  int
	lastQuote  gswap.QuoteRequest
	lastSwap   gswap.SwapRequest
}

func (f *fakeExchange) Quote(_ context.Context, req gswap.QuoteRequest) (gswap.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	f.lastQuote = req
	if len(f.quoteErrs) > 0 {
		err := f.quoteErrs[0]
		f.quoteErrs = f.quoteErrs[1:]
		if err != nil {
			return gswap.Quote{}, err
		}
	}
	return gswap.Quote{AmountIn: req.AmountIn, AmountOut: f.quoteOut, FeeTier: 500}, nil
}

func (f *fakeExchange) Swap(_ context.Context, req gswap.SwapRequest) (gswap.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swapCalls++
	f.lastSwap = req
	if f.swapErr != nil {
		return gswap.SwapResult{}, f.swapErr
	}
	return gswap.SwapResult{TransactionID: "tx-1"}, nil
}

func (f *fakeExchange) TokenDecimals(_ context.Context, token string) (int, error) {
	if token == "GUSDC" {
		return 6, nil
	}
	return 8, nil
}

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func approved(id string, delay time.Duration) domain.TradeAnalysis {
	return domain.TradeAnalysis{
		ID:      id,
		Verdict: domain.VerdictApproved,
		Activity: domain.WalletActivity{
			ID:     "act-" + id,
			Wallet: "eth|leader",
		},
		Trade: domain.CalculatedTrade{
			TokenIn:           "GALA",
			TokenOut:          "GUSDC",
			FeeTier:           3000,
			AmountIn:          dec("10"),
			ExpectedAmountOut: dec("100"),
			MaxSlippage:       0.05,
			ExecutionDelay:    delay,
		},
	}
}

type harness struct {
	exec     *Executor
	exchange *fakeExchange
	breaker  *health.Breaker
	now      time.Time
}

func newHarness(t *testing.T, cfg Config, threshold int) *harness {
	t.Helper()
	h := &harness{
		exchange: &fakeExchange{quoteOut: dec("99")},
		breaker: health.NewBreaker(zap.NewNop(), "gswap-trade", health.BreakerSettings{
			FailureThreshold: threshold,
			Window:           time.Minute,
			Cooldown:         time.Minute,
		}),
		now: t0,
	}
	h.exec = New(zap.NewNop(), cfg, Deps{
		Exchange:     h.exchange,
		TradeBreaker: h.breaker,
		Tracker:      health.NewTracker(zap.NewNop(), 100),
	})
	h.exec.now = func() time.Time { return h.now }
	return h
}

func (h *harness) result(t *testing.T) domain.TradeExecution {
	t.Helper()
	select {
	case r := <-h.exec.Results():
		return r
	case <-time.After(time.Second):
		t.Fatal("no result")
		return domain.TradeExecution{}
	}
}

func TestExecute_Completes(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3, Recipient: "eth|bot"}, 5)
	an := approved("a1", 0)
	an.Trade.AmountIn = dec("10.123456789")
	an.Trade.ExpectedAmountOut = dec("101.23456789")

	_, err := h.exec.Submit(an)
	require.NoError(t, err)
	assert.Equal(t, 1, h.exec.Step(context.Background()))

	r := h.result(t)
	require.Equal(t, domain.ExecutionCompleted, r.Status, r.LastError)
	require.NotNil(t, r.Result)
	assert.Equal(t, "tx-1", r.Result.TransactionID)
	assert.Equal(t, 500, r.Result.FeeTier)
	assert.True(t, r.Result.AmountIn.Equal(dec("10.12345678")), r.Result.AmountIn.String())
	assert.True(t, r.Result.QuotedAmountOut.Equal(dec("99")))

	// minOut = 99 * 0.95 truncated to 6 decimals
	assert.True(t, h.exchange.lastSwap.AmountOutMinimum.Equal(dec("94.05")))
	assert.True(t, h.exchange.lastSwap.ExactIn.Equal(dec("10.12345678")))
	assert.Equal(t, "eth|bot", h.exchange.lastSwap.Recipient)
	assert.Equal(t, 3000, h.exchange.lastQuote.FeeTier)

	stats := h.exec.Stats()
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Zero(t, stats.Pending)
}

func TestExecute_SlippageFailsBeforeSubmit(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3}, 5)
	h.exchange.quoteOut = dec("92") // 8% below the expected 100

	_, err := h.exec.Submit(approved("a1", 0))
	require.NoError(t, err)
	h.exec.Step(context.Background())

	r := h.result(t)
	assert.Equal(t, domain.ExecutionFailed, r.Status)
	assert.Equal(t, string(health.CategoryValidation), r.ErrorCategory)
	assert.Contains(t, r.LastError, ErrSlippageExceeded.Error())
	assert.Equal(t, 1, r.Attempts, "validation errors are not retried")
	assert.Zero(t, h.exchange.swapCalls)
	assert.False(t, h.breaker.Open())
}

func TestExecute_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 1}, 5)
	unavailable := &gswap.APIError{StatusCode: http.StatusServiceUnavailable, Message: "down"}
	h.exchange.quoteErrs = []error{unavailable, unavailable, unavailable, unavailable, unavailable, unavailable}

	for i := 0; i < 6; i++ {
		an := approved(string(rune('a'+i)), 0)
		an.Trade.Priority = 10 - i // run in submission order
		_, err := h.exec.Submit(an)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, h.exec.Step(context.Background()))

	var results []domain.TradeExecution
	for i := 0; i < 6; i++ {
		results = append(results, h.result(t))
	}

	assert.Equal(t, 5, h.exchange.quoteCalls, "sixth call fails fast")
	assert.True(t, h.breaker.Open())
	for _, r := range results[:5] {
		assert.Equal(t, domain.ExecutionFailed, r.Status)
		assert.Equal(t, string(health.CategoryExternalExecution), r.ErrorCategory)
	}
	assert.Equal(t, domain.ExecutionFailed, results[5].Status)
	assert.Contains(t, results[5].LastError, health.ErrBreakerOpen.Error())
	assert.Zero(t, h.exchange.swapCalls)
}

func TestExecute_BreakerOpensOnSwapFailuresWithHealthyQuotes(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 1}, 5)
	h.exchange.swapErr = &gswap.APIError{StatusCode: http.StatusServiceUnavailable, Message: "swap down"}

	for i := 0; i < 6; i++ {
		an := approved(string(rune('a'+i)), 0)
		an.Trade.Priority = 10 - i
		_, err := h.exec.Submit(an)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, h.exec.Step(context.Background()))

	var results []domain.TradeExecution
	for i := 0; i < 6; i++ {
		results = append(results, h.result(t))
	}

	assert.Equal(t, 5, h.exchange.swapCalls, "sixth swap never reaches the exchange")
	assert.Equal(t, 5, h.exchange.quoteCalls)
	assert.True(t, h.breaker.Open())
	assert.Contains(t, results[5].LastError, health.ErrBreakerOpen.Error())
}

func TestExecute_SlippageRejectionDoesNotTripBreaker(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 1}, 2)
	h.exchange.quoteOut = dec("50")

	for i := 0; i < 3; i++ {
		_, err := h.exec.Submit(approved(string(rune('a'+i)), 0))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.exec.Step(context.Background()))
	for i := 0; i < 3; i++ {
		h.result(t)
	}

	assert.Equal(t, 3, h.exchange.quoteCalls)
	assert.Zero(t, h.exchange.swapCalls)
	assert.False(t, h.breaker.Open())
}

func TestExecute_RetriesWithBackoff(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3, RetryBaseDelay: time.Second, MaxRetryDelay: 10 * time.Second}, 5)
	h.exchange.quoteErrs = []error{context.DeadlineExceeded, &gswap.APIError{StatusCode: 502}}
	ctx := context.Background()

	_, err := h.exec.Submit(approved("a1", 0))
	require.NoError(t, err)

	require.Equal(t, 1, h.exec.Step(ctx))
	pending := h.exec.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Second, pending[0].RetryDelay)
	assert.Equal(t, t0.Add(time.Second), pending[0].NextAttemptAt)
	assert.Equal(t, string(health.CategoryNetwork), pending[0].ErrorCategory)

	assert.Zero(t, h.exec.Step(ctx), "not due yet")

	h.now = t0.Add(time.Second)
	require.Equal(t, 1, h.exec.Step(ctx))
	pending = h.exec.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 2*time.Second, pending[0].RetryDelay)

	h.now = h.now.Add(2 * time.Second)
	require.Equal(t, 1, h.exec.Step(ctx))

	r := h.result(t)
	assert.Equal(t, domain.ExecutionCompleted, r.Status)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, uint64(2), h.exec.Stats().Retries)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2, RetryBaseDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}, 10)
	h.exchange.swapErr = &gswap.APIError{StatusCode: 503}
	ctx := context.Background()

	_, err := h.exec.Submit(approved("a1", 0))
	require.NoError(t, err)
	h.exec.Step(ctx)
	h.now = h.now.Add(time.Millisecond)
	h.exec.Step(ctx)

	r := h.result(t)
	assert.Equal(t, domain.ExecutionFailed, r.Status)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, 2, h.exchange.swapCalls)
}

func TestExecute_HonoursExecutionDelay(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 1}, 5)

	exec, err := h.exec.Submit(approved("a1", 2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionPending, exec.Status)
	assert.Equal(t, t0.Add(2*time.Second), exec.NextAttemptAt)

	assert.Zero(t, h.exec.Step(context.Background()))
	h.now = t0.Add(2 * time.Second)
	assert.Equal(t, 1, h.exec.Step(context.Background()))
}

func TestSubmit_Rejections(t *testing.T) {
	h := newHarness(t, Config{}, 5)

	an := approved("a1", 0)
	an.Verdict = domain.VerdictPending
	_, err := h.exec.Submit(an)
	assert.ErrorIs(t, err, ErrNotApproved)

	_, err = h.exec.Submit(approved("a2", 0))
	require.NoError(t, err)
	_, err = h.exec.Submit(approved("a2", 0))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRun_CancelsPendingOnShutdown(t *testing.T) {
	h := newHarness(t, Config{TickInterval: 10 * time.Millisecond}, 5)
	for _, id := range []string{"a1", "a2"} {
		_, err := h.exec.Submit(approved(id, time.Hour))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.exec.Run(ctx)
		close(done)
	}()
	cancel()

	var cancelled int
	for r := range h.exec.Results() {
		assert.Equal(t, domain.ExecutionCancelled, r.Status)
		cancelled++
	}
	<-done
	assert.Equal(t, 2, cancelled)
	assert.Zero(t, h.exchange.quoteCalls)

	_, err := h.exec.Submit(approved("a3", 0))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSlippageAndMinimumOut(t *testing.T) {
	assert.InDelta(t, 0.08, Slippage(dec("100"), dec("92")), 1e-12)
	assert.InDelta(t, -0.1, Slippage(dec("100"), dec("110")), 1e-12)
	assert.Zero(t, Slippage(decimal.Zero, dec("5")))
	assert.True(t, MinimumOut(dec("200"), 0.05).Equal(dec("190")))
}
