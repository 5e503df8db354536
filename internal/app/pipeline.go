package app

import (
	"context"
	"errors"
	"time"

	"gswapcopy/internal/domain"
	"gswapcopy/internal/executor"

	"go.uber.org/zap"
)

// Drop reasons reported to metrics when the queue refuses activities.
const (
	dropDuplicate = "duplicate"
	dropQueueFull = "queue_full"
)

// runIngest feeds every block through the filter into the queue until ctx
// is cancelled.
func (r *Runner) runIngest(ctx context.Context, blocks <-chan domain.Block) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-blocks:
			r.ingestBlock(b)
		}
	}
}

// ingestBlock filters one block and enqueues the target activities. It
// returns how many were accepted.
func (r *Runner) ingestBlock(b domain.Block) int {
	r.metrics.RecordBlock(b.Timestamp)

	acts := r.filter.FilterBlock(b)
	if len(acts) == 0 {
		return 0
	}

	before := r.processor.Stats()
	accepted := r.processor.Ingest(acts)
	after := r.processor.Stats()

	r.metrics.RecordDropped(dropDuplicate, int(after.Duplicates-before.Duplicates))
	r.metrics.RecordDropped(dropQueueFull, int(after.Rejected-before.Rejected))
	r.metrics.SetQueueDepth(after.Queued)

	r.logger.Debug("block ingested",
		zap.Uint64("block", b.Number),
		zap.Int("activities", len(acts)),
		zap.Int("accepted", accepted),
	)
	return accepted
}

// handleActivity is the queue consumer. Every activity updates the ledger;
// swaps are priced and analyzed, approved analyses are handed to the
// executor, and liquidity changes update tracked positions.
//
// Once the ledger has recorded the activity the handler never fails, since
// a retry would count it twice.
func (r *Runner) handleActivity(ctx context.Context, a domain.WalletActivity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.activities.Add(1)
	r.metrics.RecordActivity(string(a.Type))
	r.ledger.Record(a)

	switch {
	case a.Type == domain.MethodSwap:
		r.positions.ObservePrice(a)
		r.analyzeSwap(a)
	case a.Type.IsLiquidity():
		if pos, ok := r.positions.ApplyLiquidity(a); ok {
			r.logger.Info("liquidity position updated",
				zap.String("positionId", pos.ID),
				zap.String("owner", shortID(pos.Owner)),
				zap.String("method", string(a.Type)),
				zap.String("status", string(pos.Status)),
			)
		}
	}
	return nil
}

func (r *Runner) analyzeSwap(a domain.WalletActivity) {
	an := r.analyzer.Analyze(a)
	r.metrics.RecordAnalysis(string(an.Verdict))

	logger := r.logger.With(
		zap.String("analysisId", an.ID),
		zap.String("wallet", shortID(a.Wallet)),
		zap.String("tokenIn", a.TokenIn),
		zap.String("tokenOut", a.TokenOut),
		zap.Stringer("amountIn", a.AmountIn),
	)

	if an.Verdict != domain.VerdictApproved {
		logger.Info("trade not copied",
			zap.String("verdict", string(an.Verdict)),
			zap.String("reason", an.Reason),
			zap.Float64("risk", an.RiskScore),
			zap.Float64("confidence", an.Confidence),
		)
		return
	}

	exec, err := r.executor.Submit(an)
	if err != nil {
		// The analyzer reserved a daily slot and the wallet for this copy.
		r.store.ReleaseTrade(an.ID)
	}
	switch {
	case err == nil:
		logger.Info("trade approved for copy",
			zap.String("executionId", exec.ID),
			zap.Stringer("copyAmountIn", an.Trade.AmountIn),
			zap.Stringer("expectedOut", an.Trade.ExpectedAmountOut),
		)
	case errors.Is(err, executor.ErrStopped):
		logger.Info("executor stopped, approved trade dropped")
	default:
		logger.Warn("failed to submit approved trade", zap.Error(err))
	}
}

// consumeResults records every terminal execution until the executor
// closes its results channel.
func (r *Runner) consumeResults() {
	for exec := range r.executor.Results() {
		r.recordResult(exec)
	}
}

// recordResult persists a terminal execution and settles the reservation
// made at approval. Completed trades count against the daily limits, put
// the source wallet in cooldown and open a position; failed and cancelled
// ones free their slot.
func (r *Runner) recordResult(exec domain.TradeExecution) {
	now := r.now()
	rec := domain.RecordFromExecution(exec, now)
	completed := exec.Status == domain.ExecutionCompleted

	r.store.RecordTrade(rec)

	var latency time.Duration
	var slippage float64
	if exec.Result != nil {
		latency = exec.Result.Latency
		slippage = exec.Result.Slippage
	}
	r.metrics.RecordExecution(string(exec.Status), latency, slippage, completed)

	if completed {
		cfg := r.liveConfig.Get()
		wallet := exec.Analysis.Activity.Wallet
		var until time.Time
		if cfg.Copy.CooldownMinutes > 0 {
			until = now.Add(time.Duration(cfg.Copy.CooldownMinutes) * time.Minute)
		}
		limits := r.store.CommitTrade(exec.Analysis.ID, wallet, rec.AmountIn, until, now)

		if _, ok := r.positions.OpenFromExecution(exec); ok {
			open, _, _ := r.positions.Counts()
			r.metrics.SetOpenPositions(open)
		}

		r.logger.Info("copy trade recorded",
			zap.String("executionId", exec.ID),
			zap.String("wallet", shortID(wallet)),
			zap.String("txId", rec.TransactionID),
			zap.Int("dailyTrades", limits.TradeCount),
			zap.Stringer("dailyVolume", limits.TotalVolume),
		)
	} else {
		r.store.ReleaseTrade(exec.Analysis.ID)
	}

	if r.journal != nil {
		// The run context is already cancelled while results drain on
		// shutdown.
		if err := r.journal.Insert(context.Background(), rec); err != nil {
			r.logger.Warn("failed to journal trade", zap.String("id", rec.ID), zap.Error(err))
		}
	}
}
