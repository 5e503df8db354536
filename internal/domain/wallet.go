package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetWallet is a wallet whose trades are candidates for copying.
type TargetWallet struct {
	Address       string          `json:"address"`
	Name          string          `json:"name"`
	Enabled       bool            `json:"enabled"`
	MaxCopyAmount decimal.Decimal `json:"maxCopyAmount"`
	Priority      int             `json:"priority"`
	Type          string          `json:"type"`
}

// Pattern classifies a wallet's trading behaviour.
type Pattern string

const (
	PatternScalper        Pattern = "scalper"
	PatternFrequentTrader Pattern = "frequent_trader"
	PatternSwingTrader    Pattern = "swing_trader"
	PatternHodler         Pattern = "hodler"
	PatternUnknown        Pattern = "unknown"
)

// WalletStats holds the rolling statistics for a wallet.
type WalletStats struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`

	TotalTrades      int            `json:"totalTrades"`
	SuccessfulTrades int            `json:"successfulTrades"`
	FailedTrades     int            `json:"failedTrades"`
	ByType           map[Method]int `json:"byType"`

	TotalVolume      decimal.Decimal `json:"totalVolume"`
	AverageTradeSize decimal.Decimal `json:"averageTradeSize"`
	SuccessRate      float64         `json:"successRate"`

	RiskScore        float64 `json:"riskScore"`
	PerformanceScore float64 `json:"performanceScore"`

	FirstActivity  time.Time     `json:"firstActivity"`
	LastActivity   time.Time     `json:"lastActivity"`
	TradeFrequency float64       `json:"tradeFrequency"` // trades per day
	MeanHoldTime   time.Duration `json:"meanHoldTime"`

	Pattern           Pattern `json:"pattern"`
	PatternConfidence float64 `json:"patternConfidence"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s WalletStats) Clone() WalletStats {
	out := s
	out.ByType = make(map[Method]int, len(s.ByType))
	for k, v := range s.ByType {
		out.ByType[k] = v
	}
	return out
}
