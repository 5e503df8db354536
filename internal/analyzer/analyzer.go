// Package analyzer decides whether a target wallet's trade should be
// copied and how large the copy should be.
package analyzer

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gswapcopy/config"
	"gswapcopy/internal/domain"
	"gswapcopy/internal/filter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State is the persisted bookkeeping the analyzer validates against.
// Approved copies are reserved in it so that copies still in flight count
// against the cooldown and the daily limits.
type State interface {
	CooldownUntil(wallet string, now time.Time) (time.Time, bool)
	DailyLimits(now time.Time) domain.DailyLimits
	Reserved() (int, decimal.Decimal)
	ReserveTrade(id, wallet string, volume decimal.Decimal, until time.Time)
}

// WalletStats looks up the ledger's view of a wallet.
type WalletStats interface {
	Stats(address string) (domain.WalletStats, bool)
}

// PortfolioSizer returns the current estimate of the bot's capital.
type PortfolioSizer interface {
	PortfolioSize() decimal.Decimal
}

// Config holds the copy policy.
type Config struct {
	Mode                 domain.CopyMode
	SlippageTolerance    float64
	ExecutionDelay       time.Duration
	Cooldown             time.Duration
	MaxDailyTrades       int
	MaxDailyVolume       decimal.Decimal
	MaxPositionSize      float64
	AutoExecute          bool
	AllowTokens          []string
	DenyTokens           []string
	MinTokenAmounts      map[string]decimal.Decimal
	DefaultMaxCopyAmount decimal.Decimal
	DefaultPortfolioSize decimal.Decimal
	MaxRiskScore         float64
	MinConfidence        float64
}

// ConfigFrom maps the application config onto the analyzer's.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Mode:                 c.Copy.Mode,
		SlippageTolerance:    c.Copy.SlippageTolerance,
		ExecutionDelay:       c.Copy.ExecutionDelay,
		Cooldown:             time.Duration(c.Copy.CooldownMinutes) * time.Minute,
		MaxDailyTrades:       c.Copy.MaxDailyTrades,
		MaxDailyVolume:       c.Copy.MaxDailyVolume,
		MaxPositionSize:      c.Copy.MaxPositionSize,
		AutoExecute:          c.Copy.AutoExecute,
		AllowTokens:          c.Copy.AllowTokens,
		DenyTokens:           c.Copy.DenyTokens,
		MinTokenAmounts:      c.Copy.MinTokenAmounts,
		DefaultMaxCopyAmount: c.Targets.DefaultMaxCopyAmount,
		DefaultPortfolioSize: c.Copy.DefaultPortfolioSize,
		MaxRiskScore:         c.Copy.MaxRiskScore,
		MinConfidence:        c.Copy.MinConfidence,
	}
}

// NewScorer returns the scoring strategy named in the config.
func NewScorer(c config.CopyConfig) Scorer {
	if strings.EqualFold(c.ScoringStrategy, "static") {
		return StaticScorer{Risk: c.StaticRisk, Confidence: c.StaticConfidence}
	}
	return RuleScorer{}
}

// Deps are the analyzer's collaborators. Any of them may be nil.
type Deps struct {
	State     State
	Stats     WalletStats
	Portfolio PortfolioSizer
	Scorer    Scorer
}

// Stats counts analyses by verdict.
type Stats struct {
	Analyzed uint64 `json:"analyzed"`
	Approved uint64 `json:"approved"`
	Rejected uint64 `json:"rejected"`
	Pending  uint64 `json:"pending"`
}

// Analyzer turns a WalletActivity into a finalized TradeAnalysis.
type Analyzer struct {
	logger    *zap.Logger
	state     State
	stats     WalletStats
	portfolio PortfolioSizer
	now       func() time.Time

	// decide serializes validation with the reservation of approved copies.
	decide sync.Mutex

	mu      sync.RWMutex
	cfg     Config
	scorer  Scorer
	policy  filter.TokenPolicy
	targets map[string]domain.TargetWallet

	analyzed atomic.Uint64
	approved atomic.Uint64
	rejected atomic.Uint64
	pending  atomic.Uint64
}

// New creates an analyzer.
func New(logger *zap.Logger, cfg Config, targets []domain.TargetWallet, deps Deps) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	scorer := deps.Scorer
	if scorer == nil {
		scorer = RuleScorer{}
	}

	a := &Analyzer{
		logger:    logger.Named("analyzer"),
		state:     deps.State,
		stats:     deps.Stats,
		portfolio: deps.Portfolio,
		now:       time.Now,
	}
	a.SetConfig(cfg, scorer)
	a.SetTargets(targets)
	return a
}

// SetConfig swaps the copy policy and scorer.
func (a *Analyzer) SetConfig(cfg Config, scorer Scorer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	if scorer != nil {
		a.scorer = scorer
	}
	a.policy = filter.NewTokenPolicy(cfg.AllowTokens, cfg.DenyTokens)
}

// SetTargets replaces the target wallets.
func (a *Analyzer) SetTargets(targets []domain.TargetWallet) {
	m := make(map[string]domain.TargetWallet, len(targets))
	for _, t := range targets {
		m[domain.NormalizeAddress(t.Address)] = t
	}
	a.mu.Lock()
	a.targets = m
	a.mu.Unlock()
}

// Analyze validates, sizes and scores one activity. The returned analysis
// is final.
func (a *Analyzer) Analyze(act domain.WalletActivity) domain.TradeAnalysis {
	a.decide.Lock()
	defer a.decide.Unlock()

	now := a.now()

	a.mu.RLock()
	cfg := a.cfg
	scorer := a.scorer
	policy := a.policy
	target, known := a.targets[domain.NormalizeAddress(act.Wallet)]
	a.mu.RUnlock()

	portfolio := cfg.DefaultPortfolioSize
	if a.portfolio != nil {
		if p := a.portfolio.PortfolioSize(); p.IsPositive() {
			portfolio = p
		}
	}

	an := domain.TradeAnalysis{
		ID:       uuid.NewString(),
		Activity: act,
		Snapshot: domain.MarketSnapshot{
			Price:         act.Price(),
			PortfolioSize: portfolio,
			CapturedAt:    now,
		},
		AnalyzedAt: now,
	}

	if reason := a.validate(cfg, policy, act, target, known, now); reason != "" {
		return a.finalize(cfg, an, domain.ActionReject, reason)
	}

	an.Trade = a.size(cfg, act, target, portfolio)
	if !an.Trade.AmountIn.IsPositive() {
		return a.finalize(cfg, an, domain.ActionReject, "calculated trade amount is zero")
	}

	var stats domain.WalletStats
	hasStats := false
	if a.stats != nil {
		stats, hasStats = a.stats.Stats(act.Wallet)
	}
	score := scorer.Score(ScoreInput{
		Activity:      act,
		Target:        target,
		Stats:         stats,
		HasStats:      hasStats,
		Trade:         an.Trade,
		PortfolioSize: portfolio,
		MaxPosition:   cfg.MaxPositionSize,
	})
	an.RiskScore = score.Risk
	an.Confidence = score.Confidence

	switch {
	case score.Risk > cfg.MaxRiskScore:
		return a.finalize(cfg, an, domain.ActionReject,
			fmt.Sprintf("risk score %.1f exceeds max %.1f", score.Risk, cfg.MaxRiskScore))
	case score.Confidence < cfg.MinConfidence:
		return a.finalize(cfg, an, domain.ActionHold,
			fmt.Sprintf("confidence %.1f below minimum %.1f", score.Confidence, cfg.MinConfidence))
	default:
		return a.finalize(cfg, an, domain.ActionExecute, "")
	}
}

func (a *Analyzer) validate(cfg Config, policy filter.TokenPolicy, act domain.WalletActivity, target domain.TargetWallet, known bool, now time.Time) string {
	switch {
	case !known:
		return fmt.Sprintf("wallet %s is not a target", act.Wallet)
	case !target.Enabled:
		return fmt.Sprintf("wallet %s is disabled", act.Wallet)
	case act.Type != domain.MethodSwap:
		return fmt.Sprintf("unsupported activity type %s", act.Type)
	case !act.Successful:
		return "source transaction failed"
	}

	if a.state != nil {
		if until, active := a.state.CooldownUntil(act.Wallet, now); active {
			return fmt.Sprintf("wallet in cooldown until %s", until.UTC().Format(time.RFC3339))
		}
		limits := a.state.DailyLimits(now)
		inFlight, inFlightVolume := a.state.Reserved()
		trades := limits.TradeCount + inFlight
		volume := limits.TotalVolume.Add(inFlightVolume)
		if cfg.MaxDailyTrades > 0 && trades >= cfg.MaxDailyTrades {
			return fmt.Sprintf("daily trade limit reached (%d/%d)", trades, cfg.MaxDailyTrades)
		}
		if cfg.MaxDailyVolume.IsPositive() && volume.GreaterThanOrEqual(cfg.MaxDailyVolume) {
			return fmt.Sprintf("daily volume limit reached (%s/%s)", volume, cfg.MaxDailyVolume)
		}
	}

	if !act.AmountIn.IsPositive() || !act.AmountOut.IsPositive() {
		return "non-positive amount"
	}

	if floor, ok := cfg.MinTokenAmounts[strings.ToUpper(act.TokenIn)]; ok && act.AmountIn.LessThan(floor) {
		return fmt.Sprintf("amount %s %s below minimum threshold %s", act.AmountIn, act.TokenIn, floor)
	}

	if ok, reason := policy.Check(act.TokenIn, act.TokenOut); !ok {
		return reason
	}
	return ""
}

// size computes the copy trade. The amount never exceeds
// min(maxCopyAmount, maxPositionSize * portfolio).
func (a *Analyzer) size(cfg Config, act domain.WalletActivity, target domain.TargetWallet, portfolio decimal.Decimal) domain.CalculatedTrade {
	maxCopy := target.MaxCopyAmount
	if !maxCopy.IsPositive() {
		maxCopy = cfg.DefaultMaxCopyAmount
	}

	limit := maxCopy
	if cfg.MaxPositionSize > 0 && portfolio.IsPositive() {
		limit = decimal.Min(limit, portfolio.Mul(decimal.NewFromFloat(cfg.MaxPositionSize)))
	}

	mode := cfg.Mode
	if mode == "" {
		mode = domain.CopyModeProportional
	}

	amount := act.AmountIn
	if mode == domain.CopyModeProportional {
		if portfolio.IsPositive() {
			amount = act.AmountIn.Mul(maxCopy).Div(portfolio)
		} else {
			amount = decimal.Zero
		}
	}
	amount = decimal.Min(amount, limit)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	expected := decimal.Zero
	if act.AmountIn.IsPositive() {
		expected = act.AmountOut.Mul(amount).Div(act.AmountIn)
	}

	return domain.CalculatedTrade{
		TokenIn:           act.TokenIn,
		TokenOut:          act.TokenOut,
		FeeTier:           act.Pool.Fee,
		SourceAmountIn:    act.AmountIn,
		SourceAmountOut:   act.AmountOut,
		AmountIn:          amount,
		ExpectedAmountOut: expected,
		Mode:              mode,
		MaxSlippage:       cfg.SlippageTolerance,
		ExecutionDelay:    cfg.ExecutionDelay,
		Priority:          target.Priority,
	}
}

func (a *Analyzer) finalize(cfg Config, an domain.TradeAnalysis, action domain.RecommendedAction, reason string) domain.TradeAnalysis {
	an.Action = action
	switch {
	case action == domain.ActionExecute && cfg.AutoExecute:
		an.Verdict = domain.VerdictApproved
		an.Reason = "approved"
		a.approved.Add(1)
		if a.state != nil {
			var until time.Time
			if cfg.Cooldown > 0 {
				until = an.AnalyzedAt.Add(cfg.Cooldown)
			}
			a.state.ReserveTrade(an.ID, an.Activity.Wallet, an.Trade.AmountIn, until)
		}
	case action == domain.ActionReject:
		an.Verdict = domain.VerdictRejected
		an.Reason = reason
		a.rejected.Add(1)
	default:
		an.Verdict = domain.VerdictPending
		an.Reason = reason
		if action == domain.ActionExecute {
			an.Reason = "auto execution disabled"
		}
		a.pending.Add(1)
	}
	a.analyzed.Add(1)

	log := a.logger.Debug
	if an.Verdict == domain.VerdictApproved {
		log = a.logger.Info
	}
	log("trade analyzed",
		zap.String("analysisId", an.ID),
		zap.String("activityId", an.Activity.ID),
		zap.String("wallet", shortAddr(an.Activity.Wallet)),
		zap.String("verdict", string(an.Verdict)),
		zap.String("reason", an.Reason),
		zap.Stringer("amountIn", an.Trade.AmountIn),
		zap.Float64("risk", an.RiskScore),
		zap.Float64("confidence", an.Confidence),
	)
	return an
}

// Stats returns verdict counters.
func (a *Analyzer) Stats() Stats {
	return Stats{
		Analyzed: a.analyzed.Load(),
		Approved: a.approved.Load(),
		Rejected: a.rejected.Load(),
		Pending:  a.pending.Load(),
	}
}

func shortAddr(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:8] + "..." + s[len(s)-4:]
}
