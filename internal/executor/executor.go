// Package executor replicates approved trades on the DEX: quote, slippage
// check, guarded swap, and bounded retries behind a circuit breaker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gswapcopy/clients/gswap"
	"gswapcopy/clients/notifier"
	"gswapcopy/internal/domain"
	"gswapcopy/internal/health"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrSlippageExceeded = errors.New("slippage exceeds tolerance")
	ErrNotApproved      = errors.New("analysis is not approved")
	ErrDuplicate        = errors.New("analysis already submitted")
	ErrStopped          = errors.New("executor stopped")
)

// Exchange is the DEX surface the executor drives.
type Exchange interface {
	Quote(ctx context.Context, req gswap.QuoteRequest) (gswap.Quote, error)
	Swap(ctx context.Context, req gswap.SwapRequest) (gswap.SwapResult, error)
	TokenDecimals(ctx context.Context, token string) (int, error)
}

// Config configures an Executor.
type Config struct {
	TickInterval   time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	CallTimeout    time.Duration
	Recipient      string
}

// Deps are the executor's collaborators. Breakers, Tracker and Notifier
// may be nil.
type Deps struct {
	Exchange Exchange
	// TradeBreaker guards each quote-and-swap sequence as a single call;
	// ReadBreaker guards metadata lookups.
	TradeBreaker *health.Breaker
	ReadBreaker  *health.Breaker
	Tracker      *health.Tracker
	Notifier     notifier.Notifier
}

// Stats counts executions by outcome.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
	Retries   uint64 `json:"retries"`
	Pending   int    `json:"pending"`
}

const resultsBuffer = 256

// Executor owns every non-terminal TradeExecution.
type Executor struct {
	logger   *zap.Logger
	cfg      Config
	exchange Exchange
	trade    *health.Breaker
	read     *health.Breaker
	tracker  *health.Tracker
	notifier notifier.Notifier
	now      func() time.Time

	results chan domain.TradeExecution

	mu        sync.Mutex
	pending   map[string]*domain.TradeExecution
	submitted map[string]struct{}
	stopped   bool
	stats     Stats
}

// New creates an executor.
func New(logger *zap.Logger, cfg Config, deps Deps) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	n := deps.Notifier
	if n == nil {
		n = notifier.Nop{}
	}

	return &Executor{
		logger:    logger.Named("executor"),
		cfg:       cfg,
		exchange:  deps.Exchange,
		trade:     deps.TradeBreaker,
		read:      deps.ReadBreaker,
		tracker:   deps.Tracker,
		notifier:  n,
		now:       time.Now,
		results:   make(chan domain.TradeExecution, resultsBuffer),
		pending:   make(map[string]*domain.TradeExecution),
		submitted: make(map[string]struct{}),
	}
}

// Results delivers every execution that reached a terminal state. The
// channel is closed when Run returns.
func (e *Executor) Results() <-chan domain.TradeExecution {
	return e.results
}

// Submit queues an approved analysis for execution after its delay.
func (e *Executor) Submit(an domain.TradeAnalysis) (domain.TradeExecution, error) {
	if an.Verdict != domain.VerdictApproved {
		return domain.TradeExecution{}, fmt.Errorf("submit %s: %w", an.ID, ErrNotApproved)
	}

	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return domain.TradeExecution{}, ErrStopped
	}
	if _, dup := e.submitted[an.ID]; dup {
		return domain.TradeExecution{}, fmt.Errorf("submit %s: %w", an.ID, ErrDuplicate)
	}

	exec := &domain.TradeExecution{
		ID:            uuid.NewString(),
		Analysis:      an,
		Status:        domain.ExecutionPending,
		MaxAttempts:   e.cfg.MaxAttempts,
		NextAttemptAt: now.Add(an.Trade.ExecutionDelay),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.pending[exec.ID] = exec
	e.submitted[an.ID] = struct{}{}
	e.stats.Submitted++

	e.logger.Info("execution queued",
		zap.String("executionId", exec.ID),
		zap.String("analysisId", an.ID),
		zap.String("tokenIn", an.Trade.TokenIn),
		zap.String("tokenOut", an.Trade.TokenOut),
		zap.Stringer("amountIn", an.Trade.AmountIn),
		zap.Time("notBefore", exec.NextAttemptAt),
	)
	return *exec, nil
}

// Run executes due executions every tick until ctx is cancelled, then
// cancels everything still pending and closes Results.
func (e *Executor) Run(ctx context.Context) {
	defer close(e.results)

	t := time.NewTicker(e.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			n := e.cancelAll("shutdown")
			e.logger.Info("executor stopped", zap.Int("cancelled", n))
			return
		case <-t.C:
			e.Step(ctx)
		}
	}
}

// Step runs every execution whose time has come, highest priority first.
// It returns how many were attempted.
func (e *Executor) Step(ctx context.Context) int {
	now := e.now()

	e.mu.Lock()
	var due []*domain.TradeExecution
	for id, exec := range e.pending {
		if !now.Before(exec.NextAttemptAt) {
			due = append(due, exec)
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		pi, pj := due[i].Analysis.Trade.Priority, due[j].Analysis.Trade.Priority
		if pi != pj {
			return pi > pj
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	for i, exec := range due {
		if ctx.Err() != nil {
			// Put back what we did not reach; Run cancels it.
			e.mu.Lock()
			for _, rest := range due[i:] {
				e.pending[rest.ID] = rest
			}
			e.mu.Unlock()
			return i
		}
		e.execute(ctx, exec)
	}
	return len(due)
}

func (e *Executor) execute(ctx context.Context, exec *domain.TradeExecution) {
	exec.Attempts++
	exec.Status = domain.ExecutionExecuting
	exec.UpdatedAt = e.now()

	res, err := e.attempt(ctx, exec)
	now := e.now()
	exec.UpdatedAt = now

	if err == nil {
		exec.Status = domain.ExecutionCompleted
		exec.Result = res
		exec.LastError = ""
		exec.ErrorCategory = ""
		e.finish(exec)
		return
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		exec.Status = domain.ExecutionCancelled
		exec.LastError = "cancelled during shutdown"
		e.finish(exec)
		return
	}

	he := health.Classify(err)
	exec.LastError = err.Error()
	exec.ErrorCategory = string(he.Category)
	if e.tracker != nil {
		e.tracker.Record("executor.execute", err)
	}

	if he.Retryable && exec.Attempts < exec.MaxAttempts {
		exec.RetryDelay = health.Backoff(e.cfg.RetryBaseDelay, e.cfg.MaxRetryDelay, exec.Attempts)
		exec.NextAttemptAt = now.Add(exec.RetryDelay)
		exec.Status = domain.ExecutionPending

		e.mu.Lock()
		e.pending[exec.ID] = exec
		e.stats.Retries++
		e.mu.Unlock()

		e.logger.Warn("execution failed, will retry",
			zap.String("executionId", exec.ID),
			zap.Int("attempt", exec.Attempts),
			zap.Duration("retryIn", exec.RetryDelay),
			zap.String("category", exec.ErrorCategory),
			zap.Error(err),
		)
		return
	}

	exec.Status = domain.ExecutionFailed
	e.finish(exec)
}

// attempt performs one quote-check-swap cycle.
func (e *Executor) attempt(ctx context.Context, exec *domain.TradeExecution) (*domain.ExecutionResult, error) {
	trade := exec.Analysis.Trade
	start := e.now()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	inDecimals, err := e.decimals(callCtx, trade.TokenIn)
	if err != nil {
		return nil, err
	}
	outDecimals, err := e.decimals(callCtx, trade.TokenOut)
	if err != nil {
		return nil, err
	}

	amountIn := trade.AmountIn.Truncate(inDecimals)
	if !amountIn.IsPositive() {
		return nil, health.Validation("executor.amount", fmt.Errorf("amount %s rounds to zero at %d decimals", trade.AmountIn, inDecimals))
	}
	expected := trade.ExpectedAmountOut
	if !amountIn.Equal(trade.AmountIn) && trade.AmountIn.IsPositive() {
		expected = expected.Mul(amountIn).Div(trade.AmountIn)
	}

	// One execution is one breaker call: a good quote must not reset the
	// failure streak of a failing swap.
	return health.Call(callCtx, e.trade, func(ctx context.Context) (*domain.ExecutionResult, error) {
		quote, err := e.exchange.Quote(ctx, gswap.QuoteRequest{
			TokenIn:  trade.TokenIn,
			TokenOut: trade.TokenOut,
			AmountIn: amountIn,
			FeeTier:  trade.FeeTier,
		})
		if err != nil {
			return nil, err
		}

		slippage := Slippage(expected, quote.AmountOut)
		if slippage > trade.MaxSlippage {
			return nil, health.Validation("executor.slippage",
				fmt.Errorf("%w: %.2f%% > %.2f%%", ErrSlippageExceeded, slippage*100, trade.MaxSlippage*100))
		}

		minOut := MinimumOut(quote.AmountOut, trade.MaxSlippage).Truncate(outDecimals)
		fee := quote.FeeTier
		if fee == 0 {
			fee = trade.FeeTier
		}

		swap, err := e.exchange.Swap(ctx, gswap.SwapRequest{
			TokenIn:          trade.TokenIn,
			TokenOut:         trade.TokenOut,
			FeeTier:          fee,
			ExactIn:          amountIn,
			AmountOutMinimum: minOut,
			Recipient:        e.cfg.Recipient,
		})
		if err != nil {
			return nil, err
		}

		return &domain.ExecutionResult{
			TransactionID:    swap.TransactionID,
			AmountIn:         amountIn,
			QuotedAmountOut:  quote.AmountOut,
			AmountOutMinimum: minOut,
			Slippage:         slippage,
			FeeTier:          fee,
			Latency:          e.now().Sub(start),
		}, nil
	})
}

func (e *Executor) decimals(ctx context.Context, token string) (int32, error) {
	d, err := health.Call(ctx, e.read, func(ctx context.Context) (int, error) {
		return e.exchange.TokenDecimals(ctx, token)
	})
	if err != nil {
		return 0, err
	}
	return int32(d), nil
}

// Slippage is (expected - quoted) / expected. A better-than-expected quote
// is negative slippage.
func Slippage(expected, quoted decimal.Decimal) float64 {
	if !expected.IsPositive() {
		return 0
	}
	s, _ := expected.Sub(quoted).Div(expected).Float64()
	return s
}

// MinimumOut is quoted * (1 - maxSlippage).
func MinimumOut(quoted decimal.Decimal, maxSlippage float64) decimal.Decimal {
	return quoted.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(maxSlippage)))
}

func (e *Executor) finish(exec *domain.TradeExecution) {
	e.mu.Lock()
	switch exec.Status {
	case domain.ExecutionCompleted:
		e.stats.Completed++
	case domain.ExecutionFailed:
		e.stats.Failed++
	case domain.ExecutionCancelled:
		e.stats.Cancelled++
	}
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("executionId", exec.ID),
		zap.String("status", string(exec.Status)),
		zap.Int("attempts", exec.Attempts),
	}
	switch exec.Status {
	case domain.ExecutionCompleted:
		e.logger.Info("execution completed", append(fields,
			zap.String("transactionId", exec.Result.TransactionID),
			zap.Stringer("quotedOut", exec.Result.QuotedAmountOut),
			zap.Float64("slippage", exec.Result.Slippage),
			zap.Duration("latency", exec.Result.Latency),
		)...)
	case domain.ExecutionFailed:
		e.logger.Error("execution failed", append(fields, zap.String("error", exec.LastError))...)
		e.notifier.SendAlert(notifier.Alert{
			Source:  notifier.SourceExecutor,
			Kind:    "execution_failed",
			Level:   notifier.LevelWarning,
			Title:   "Copy trade failed",
			Message: exec.LastError,
			Wallet:  exec.Analysis.Activity.Wallet,
			Fields: []notifier.Field{
				{Name: "Pair", Value: exec.Analysis.Trade.TokenIn + " -> " + exec.Analysis.Trade.TokenOut},
				{Name: "Amount", Value: exec.Analysis.Trade.AmountIn.String()},
				{Name: "Attempts", Value: fmt.Sprintf("%d/%d", exec.Attempts, exec.MaxAttempts)},
			},
		})
	default:
		e.logger.Info("execution cancelled", fields...)
	}

	e.results <- *exec
}

// cancelAll marks every pending execution cancelled and stops accepting
// submissions.
func (e *Executor) cancelAll(reason string) int {
	e.mu.Lock()
	e.stopped = true
	execs := make([]*domain.TradeExecution, 0, len(e.pending))
	for id, exec := range e.pending {
		execs = append(execs, exec)
		delete(e.pending, id)
	}
	e.mu.Unlock()

	now := e.now()
	for _, exec := range execs {
		exec.Status = domain.ExecutionCancelled
		exec.LastError = reason
		exec.UpdatedAt = now
		e.finish(exec)
	}
	return len(execs)
}

// Pending returns copies of the executions waiting for their next attempt.
func (e *Executor) Pending() []domain.TradeExecution {
	e.mu.Lock()
	out := make([]domain.TradeExecution, 0, len(e.pending))
	for _, exec := range e.pending {
		out = append(out, *exec)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out
}

// Stats returns execution counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Pending = len(e.pending)
	return s
}
