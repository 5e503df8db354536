package positions

import (
	"math"
	"time"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
)

// Composite weights.
const (
	weightImpermanentLoss = 0.35
	weightConcentration   = 0.25
	weightLiquidity       = 0.25
	weightDuration        = 0.15
)

// ImpermanentLoss returns the loss of a 50/50 position versus holding, as a
// fraction in [0,1), for a price ratio r = current/entry.
func ImpermanentLoss(r float64) float64 {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Abs(2*math.Sqrt(r)/(1+r) - 1)
}

// ilScore maps impermanent loss onto [0,100]; 25% loss scores 100.
func ilScore(p *domain.LiquidityPosition) float64 {
	if !p.EntryPrice.IsPositive() || !p.LastPrice.IsPositive() {
		return 0
	}
	r, _ := p.LastPrice.Div(p.EntryPrice).Float64()
	return clamp(ImpermanentLoss(r) * 400)
}

// concentrationScore is the position's share of all tracked value.
func concentrationScore(value, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	share, _ := value.Div(total).Float64()
	return clamp(share * 100)
}

// liquidityScore falls linearly to zero as liquidity reaches reference.
func liquidityScore(liquidity, reference decimal.Decimal) float64 {
	if !reference.IsPositive() {
		return 0
	}
	frac, _ := liquidity.Div(reference).Float64()
	return clamp((1 - math.Min(1, frac)) * 100)
}

// durationScore grows linearly to 100 at max age.
func durationScore(age, max time.Duration) float64 {
	if max <= 0 || age <= 0 {
		return 0
	}
	return clamp(float64(age) / float64(max) * 100)
}

func composite(m domain.RiskMetrics) float64 {
	return clamp(weightImpermanentLoss*m.ImpermanentLoss +
		weightConcentration*m.Concentration +
		weightLiquidity*m.Liquidity +
		weightDuration*m.Duration)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
