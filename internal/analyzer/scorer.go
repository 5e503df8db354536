package analyzer

import (
	"math"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
)

// ScoreInput is everything a Scorer may look at.
type ScoreInput struct {
	Activity      domain.WalletActivity
	Target        domain.TargetWallet
	Stats         domain.WalletStats
	HasStats      bool
	Trade         domain.CalculatedTrade
	PortfolioSize decimal.Decimal
	MaxPosition   float64
}

// Score holds risk and confidence, both in [0,100].
type Score struct {
	Risk       float64
	Confidence float64
}

// Scorer assigns risk and confidence to a sized trade.
type Scorer interface {
	Score(in ScoreInput) Score
}

// StaticScorer returns fixed scores for every trade.
type StaticScorer struct {
	Risk       float64
	Confidence float64
}

func (s StaticScorer) Score(ScoreInput) Score {
	return Score{Risk: s.Risk, Confidence: s.Confidence}
}

// RuleScorer derives scores from the source wallet's record and the size
// of the trade relative to the portfolio.
//
// Risk: 60% of the wallet's risk score (50 when unknown), up to 25 for the
// position's share of the allowed position size, plus a pattern surcharge.
// Confidence: half the wallet's performance score, up to 30 for sample
// size and up to 20 for pattern confidence.
type RuleScorer struct{}

func (RuleScorer) Score(in ScoreInput) Score {
	walletRisk := 50.0
	if in.HasStats && in.Stats.TotalTrades > 0 {
		walletRisk = in.Stats.RiskScore
	}

	risk := walletRisk*0.6 + sizeRisk(in)*25 + patternRisk(in.Stats.Pattern)

	confidence := 0.0
	if in.HasStats {
		sample := math.Min(float64(in.Stats.TotalTrades), 50) / 50
		confidence = in.Stats.PerformanceScore*0.5 + sample*30 + in.Stats.PatternConfidence*20
	}

	return Score{
		Risk:       clamp(risk),
		Confidence: clamp(confidence),
	}
}

// sizeRisk is the trade's share of the largest allowed position, in [0,1].
func sizeRisk(in ScoreInput) float64 {
	if !in.PortfolioSize.IsPositive() {
		return 1
	}
	frac, _ := in.Trade.AmountIn.Div(in.PortfolioSize).Float64()
	limit := in.MaxPosition
	if limit <= 0 {
		limit = 1
	}
	return math.Min(1, frac/limit)
}

func patternRisk(p domain.Pattern) float64 {
	switch p {
	case domain.PatternScalper:
		return 15
	case domain.PatternFrequentTrader, domain.PatternUnknown, "":
		return 10
	case domain.PatternSwingTrader:
		return 5
	default:
		return 0
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
