package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a liquidity position.
type PositionStatus string

const (
	PositionActive  PositionStatus = "active"
	PositionPartial PositionStatus = "partial"
	PositionClosed  PositionStatus = "closed"
)

// Performance of a position, in token1 units.
type Performance struct {
	FeesEarned    decimal.Decimal `json:"feesEarned"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	ReturnPct     float64         `json:"returnPct"`
}

// RiskMetrics sub-scores are in [0,100].
type RiskMetrics struct {
	ImpermanentLoss float64 `json:"impermanentLoss"`
	Concentration   float64 `json:"concentration"`
	Liquidity       float64 `json:"liquidity"`
	Duration        float64 `json:"duration"`
	Composite       float64 `json:"composite"`
}

// LiquidityPosition is a tracked pool position attributed to a wallet.
type LiquidityPosition struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner"`
	Pool       Pool            `json:"pool"`
	TickLower  int             `json:"tickLower"`
	TickUpper  int             `json:"tickUpper"`
	PositionID string          `json:"positionId,omitempty"`
	Liquidity  decimal.Decimal `json:"liquidity"`
	Amount0    decimal.Decimal `json:"amount0"`
	Amount1    decimal.Decimal `json:"amount1"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	LastPrice  decimal.Decimal `json:"lastPrice"`
	CostBasis  decimal.Decimal `json:"costBasis"`
	Status     PositionStatus  `json:"status"`

	Performance Performance `json:"performance"`
	Risk        RiskMetrics `json:"risk"`

	SourceActivityID string    `json:"sourceActivityId,omitempty"`
	OpenedAt         time.Time `json:"openedAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	ClosedAt         time.Time `json:"closedAt,omitempty"`
}

// Value is the position's holdings priced in token1 at the last seen price.
func (p LiquidityPosition) Value() decimal.Decimal {
	return p.Amount0.Mul(p.LastPrice).Add(p.Amount1)
}
