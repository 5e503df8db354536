// Package filter turns explorer blocks into normalized wallet activities
// for the configured target wallets.
package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gswapcopy/internal/domain"

	"go.uber.org/zap"
)

// DefaultBatchSubmitOpCode is the chaincode method carrying batched
// exchange operations.
const DefaultBatchSubmitOpCode = "DexV3Contract:BatchSubmit"

// Config configures a Filter.
type Config struct {
	BatchSubmitOpCode string
	AllowTokens       []string
	DenyTokens        []string
	AmountPolicy      SwapAmountPolicy
}

// Stats counts filter outcomes.
type Stats struct {
	TransactionsScanned uint64 `json:"transactions_scanned"`
	BatchSubmits        uint64 `json:"batch_submits"`
	OperationsParsed    uint64 `json:"operations_parsed"`
	ParseErrors         uint64 `json:"parse_errors"`
	DroppedNotTarget    uint64 `json:"dropped_not_target"`
	DroppedTokenPolicy  uint64 `json:"dropped_token_policy"`
	ActivitiesEmitted   uint64 `json:"activities_emitted"`
}

// Filter extracts target-wallet activities from blocks. It is safe for
// concurrent use; targets and token policy may be swapped at any time.
type Filter struct {
	logger  *zap.Logger
	opCode  string
	amounts SwapAmountPolicy
	now     func() time.Time

	mu      sync.RWMutex
	targets map[string]domain.TargetWallet
	tokens  TokenPolicy

	txScanned    atomic.Uint64
	batches      atomic.Uint64
	opsParsed    atomic.Uint64
	parseErrors  atomic.Uint64
	notTarget    atomic.Uint64
	tokenDropped atomic.Uint64
	emitted      atomic.Uint64
}

// New creates a filter for the given targets.
func New(logger *zap.Logger, cfg Config, targets []domain.TargetWallet) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSubmitOpCode == "" {
		cfg.BatchSubmitOpCode = DefaultBatchSubmitOpCode
	}
	if len(cfg.AmountPolicy) == 0 {
		cfg.AmountPolicy = DefaultSwapAmountPolicy()
	}

	f := &Filter{
		logger:  logger.Named("filter"),
		opCode:  cfg.BatchSubmitOpCode,
		amounts: cfg.AmountPolicy,
		now:     time.Now,
		tokens:  NewTokenPolicy(cfg.AllowTokens, cfg.DenyTokens),
	}
	f.SetTargets(targets)
	return f
}

// SetTargets atomically replaces the target set.
func (f *Filter) SetTargets(targets []domain.TargetWallet) {
	m := make(map[string]domain.TargetWallet, len(targets))
	for _, t := range targets {
		if key := domain.NormalizeAddress(t.Address); key != "" {
			m[key] = t
		}
	}

	f.mu.Lock()
	f.targets = m
	f.mu.Unlock()

	f.logger.Info("filter targets updated", zap.Int("wallets", len(m)))
}

// SetTokenPolicy atomically replaces the allow/deny lists.
func (f *Filter) SetTokenPolicy(p TokenPolicy) {
	f.mu.Lock()
	f.tokens = p
	f.mu.Unlock()
}

func (f *Filter) snapshot() (map[string]domain.TargetWallet, TokenPolicy) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.targets, f.tokens
}

// FilterBlock returns the activities of target wallets in block, in
// transaction and operation order.
func (f *Filter) FilterBlock(block domain.Block) []domain.WalletActivity {
	var out []domain.WalletActivity
	for _, tx := range block.Transactions {
		out = append(out, f.FilterTransaction(block, tx)...)
	}
	return out
}

// FilterTransaction returns the activities of target wallets in tx.
func (f *Filter) FilterTransaction(block domain.Block, tx domain.Transaction) []domain.WalletActivity {
	f.txScanned.Add(1)

	if len(tx.Actions) == 0 || tx.Actions[0].Arg(0) != f.opCode {
		return nil
	}
	action := tx.Actions[0]

	ops, size, opErrs, err := parseBatch(action.Arg(1))
	if err != nil {
		f.parseErrors.Add(1)
		f.logger.Debug("skipping unparseable batch",
			zap.String("tx", tx.ID),
			zap.Uint64("block", block.Number),
			zap.Error(err),
		)
		return nil
	}
	f.batches.Add(1)
	for _, e := range opErrs {
		f.parseErrors.Add(1)
		f.logger.Debug("skipping malformed operation", zap.String("tx", tx.ID), zap.Error(e))
	}
	f.opsParsed.Add(uint64(len(ops)))

	targets, tokens := f.snapshot()
	if len(targets) == 0 {
		f.notTarget.Add(uint64(len(ops)))
		return nil
	}

	successful := true
	payload := ""
	if r := action.ChaincodeResponse; r != nil {
		successful = r.Status == 0 || (r.Status >= 200 && r.Status < 300)
		payload = r.Payload
	}

	var out []domain.WalletActivity
	for _, op := range ops {
		wallet, ok := f.matchWallet(op, tx, targets)
		if !ok {
			f.notTarget.Add(1)
			continue
		}

		a := f.buildActivity(block, tx, op, size, wallet, payload)
		a.Successful = successful

		if ok, reason := tokens.Check(a.TokenIn, a.TokenOut); !ok {
			f.tokenDropped.Add(1)
			f.logger.Debug("activity dropped by token policy",
				zap.String("wallet", wallet),
				zap.String("reason", reason),
			)
			continue
		}

		f.emitted.Add(1)
		out = append(out, a)
	}
	return out
}

// matchWallet resolves the target wallet an operation belongs to: the
// operation recipient, else the first string value in the transaction
// arguments that is exactly a target address.
func (f *Filter) matchWallet(op domain.Operation, tx domain.Transaction, targets map[string]domain.TargetWallet) (string, bool) {
	if op.Recipient != "" {
		t, ok := targets[domain.NormalizeAddress(op.Recipient)]
		return t.Address, ok
	}

	for _, a := range tx.Actions {
		for _, arg := range a.Args {
			for _, v := range stringValues(arg) {
				if t, ok := targets[domain.NormalizeAddress(v)]; ok {
					return t.Address, true
				}
			}
		}
	}
	return "", false
}

func (f *Filter) buildActivity(block domain.Block, tx domain.Transaction, op domain.Operation, opCount int, wallet, payload string) domain.WalletActivity {
	a := domain.WalletActivity{
		ID:             op.UniqueID,
		Wallet:         wallet,
		Type:           op.Method,
		Pool:           domain.Pool{Token0: op.Token0, Token1: op.Token1, Fee: op.Fee},
		TickLower:      op.TickLower,
		TickUpper:      op.TickUpper,
		PositionID:     op.PositionID,
		BlockNumber:    block.Number,
		BlockTime:      block.Timestamp,
		DetectedAt:     f.now(),
		TransactionID:  tx.ID,
		OperationIndex: op.Index,
	}
	if a.ID == "" {
		a.ID = activityID(tx.ID, block.Timestamp, op.Index)
	}

	switch op.Method {
	case domain.MethodSwap:
		a.TokenIn, a.TokenOut = op.Token1, op.Token0
		if op.ZeroForOne {
			a.TokenIn, a.TokenOut = op.Token0, op.Token1
		}
		var settlement *domain.Settlement
		if s, ok := parseSettlement(payload, op.Index, opCount); ok {
			settlement = &s
		}
		amounts, _ := f.amounts.Resolve(op, settlement)
		a.AmountIn, a.AmountOut, a.Source = amounts.In, amounts.Out, amounts.Source
		a.Pool.Hash = amounts.PoolHash

	case domain.MethodAddLiquidity:
		a.TokenIn, a.TokenOut = op.Token0, op.Token1
		a.AmountIn, a.AmountOut = op.Amount0Desired, op.Amount1Desired
		a.Source = domain.AmountSourceDesired

	case domain.MethodRemoveLiquidity:
		a.TokenIn, a.TokenOut = op.Token0, op.Token1
		if !op.Amount0Min.IsZero() || !op.Amount1Min.IsZero() {
			a.AmountIn, a.AmountOut = op.Amount0Min, op.Amount1Min
			a.Source = domain.AmountSourceMinimum
		} else {
			a.AmountIn, a.AmountOut = op.Amount0Desired, op.Amount1Desired
			a.Source = domain.AmountSourceDesired
		}

	default:
		a.TokenIn = op.Token0
		a.AmountIn = op.Amount.Abs()
		a.Source = domain.AmountSourceRaw
	}

	if op.Method.IsLiquidity() {
		a.Liquidity = op.Liquidity
		if !op.HasLiquidity {
			a.Liquidity = op.Amount
		}
		a.Liquidity = a.Liquidity.Abs()
	}

	return a
}

// activityID derives a stable id for operations without a uniqueId.
func activityID(txID string, blockTime time.Time, index int) string {
	var ms int64
	if !blockTime.IsZero() {
		ms = blockTime.UnixMilli()
	}
	sum := sha256.Sum256([]byte(txID + "|" + strconv.FormatInt(ms, 10) + "|" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:])
}

// Stats returns the filter counters.
func (f *Filter) Stats() Stats {
	return Stats{
		TransactionsScanned: f.txScanned.Load(),
		BatchSubmits:        f.batches.Load(),
		OperationsParsed:    f.opsParsed.Load(),
		ParseErrors:         f.parseErrors.Load(),
		DroppedNotTarget:    f.notTarget.Load(),
		DroppedTokenPolicy:  f.tokenDropped.Load(),
		ActivitiesEmitted:   f.emitted.Load(),
	}
}
