package ledger

import (
	"math"
	"time"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	sizeLarge  = decimal.NewFromInt(10000)
	sizeMedium = decimal.NewFromInt(1000)
	sizeSmall  = decimal.NewFromInt(100)

	volumeTier1 = decimal.NewFromInt(100000)
	volumeTier2 = decimal.NewFromInt(10000)
	volumeTier3 = decimal.NewFromInt(1000)
)

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// riskScore weighs trade frequency, average size and success rate into a
// 0-100 score. Higher is riskier.
func riskScore(s *domain.WalletStats) float64 {
	score := 0.0

	perHour := s.TradeFrequency / 24
	switch {
	case perHour > 20:
		score += 40
	case perHour > 5:
		score += 25
	case perHour > 1:
		score += 10
	}

	switch {
	case s.AverageTradeSize.GreaterThan(sizeLarge):
		score += 30
	case s.AverageTradeSize.GreaterThan(sizeMedium):
		score += 20
	case s.AverageTradeSize.GreaterThan(sizeSmall):
		score += 10
	}

	if s.TotalTrades > 0 {
		switch {
		case s.SuccessRate < 0.5:
			score += 30
		case s.SuccessRate < 0.7:
			score += 20
		case s.SuccessRate < 0.9:
			score += 10
		}
	}

	return clamp(score, 0, 100)
}

// performanceScore rewards success rate, volume and track record.
func performanceScore(s *domain.WalletStats) float64 {
	score := s.SuccessRate * 60

	switch {
	case s.TotalVolume.GreaterThan(volumeTier1):
		score += 20
	case s.TotalVolume.GreaterThan(volumeTier2):
		score += 15
	case s.TotalVolume.GreaterThan(volumeTier3):
		score += 10
	case s.TotalVolume.IsPositive():
		score += 5
	}

	switch {
	case s.TotalTrades > 100:
		score += 20
	case s.TotalTrades > 50:
		score += 15
	case s.TotalTrades > 10:
		score += 10
	case s.TotalTrades > 0:
		score += 5
	}

	return clamp(score, 0, 100)
}

// classify returns the first matching pattern and its confidence.
func classify(s *domain.WalletStats, minTrades int) (domain.Pattern, float64) {
	if s.TotalTrades < minTrades {
		return domain.PatternUnknown, 0
	}

	freq := s.TradeFrequency
	hold := s.MeanHoldTime
	holdKnown := hold > 0

	switch {
	case freq >= 50 && holdKnown && hold < time.Hour:
		return domain.PatternScalper, 0.9
	case freq >= 10:
		return domain.PatternFrequentTrader, 0.75
	case freq >= 1 && hold >= time.Hour && hold < 7*24*time.Hour:
		return domain.PatternSwingTrader, 0.6
	case hold >= 7*24*time.Hour:
		return domain.PatternHodler, 0.7
	default:
		return domain.PatternUnknown, 0
	}
}

// tradeFrequency returns trades per day over the observed span. Spans
// shorter than an hour count as one hour.
func tradeFrequency(s *domain.WalletStats) float64 {
	if s.TotalTrades == 0 || s.FirstActivity.IsZero() {
		return 0
	}
	span := s.LastActivity.Sub(s.FirstActivity)
	if span < time.Hour {
		span = time.Hour
	}
	return float64(s.TotalTrades) / (span.Hours() / 24)
}

// recompute refreshes every derived field of s.
func recompute(s *domain.WalletStats, minTrades int) {
	if s.TotalTrades > 0 {
		s.SuccessRate = float64(s.SuccessfulTrades) / float64(s.TotalTrades)
		s.AverageTradeSize = s.TotalVolume.Div(decimal.NewFromInt(int64(s.TotalTrades)))
	}
	s.TradeFrequency = tradeFrequency(s)
	s.RiskScore = riskScore(s)
	s.PerformanceScore = performanceScore(s)
	s.Pattern, s.PatternConfidence = classify(s, minTrades)
}
