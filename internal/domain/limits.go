package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout formats the calendar day daily limits are keyed on.
const DayLayout = "2006-01-02"

// CooldownState blocks copying a wallet until Until.
type CooldownState struct {
	Wallet string    `json:"wallet"`
	Until  time.Time `json:"until"`
	Reason string    `json:"reason,omitempty"`
}

// Active reports whether the cooldown still applies at now.
func (c CooldownState) Active(now time.Time) bool {
	return now.Before(c.Until)
}

// DailyLimits counts copy trades for one UTC calendar day.
type DailyLimits struct {
	Date        string          `json:"date"`
	TradeCount  int             `json:"tradeCount"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
}

// Counters are lifetime execution totals.
type Counters struct {
	TotalTrades      int             `json:"totalTrades"`
	SuccessfulTrades int             `json:"successfulTrades"`
	FailedTrades     int             `json:"failedTrades"`
	CancelledTrades  int             `json:"cancelledTrades"`
	TotalVolume      decimal.Decimal `json:"totalVolume"`
	LastTradeAt      time.Time       `json:"lastTradeAt,omitempty"`
}
