package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountSource names the step of the swap-amount policy that produced
// an activity's amounts.
type AmountSource string

const (
	AmountSourceSettlement AmountSource = "settlement"
	AmountSourceExactIn    AmountSource = "exact_in"
	AmountSourceExactOut   AmountSource = "exact_out"
	AmountSourceDesired    AmountSource = "desired"
	AmountSourceMinimum    AmountSource = "minimum"
	AmountSourceRaw        AmountSource = "raw"
)

// Pool identifies a concentrated-liquidity pool.
type Pool struct {
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
	Fee    int    `json:"fee"`
	Hash   string `json:"hash,omitempty"`
}

// Key is a case-insensitive identity for the pool's token pair and fee tier.
func (p Pool) Key() string {
	return strings.ToLower(p.Token0) + "/" + strings.ToLower(p.Token1) + "/" + strconv.Itoa(p.Fee)
}

// WalletActivity is a normalized exchange operation performed by a target
// wallet.
type WalletActivity struct {
	ID     string
	Wallet string
	Type   Method

	TokenIn   string
	TokenOut  string
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	Source    AmountSource

	Pool       Pool
	TickLower  int
	TickUpper  int
	PositionID string
	Liquidity  decimal.Decimal

	Successful bool

	BlockNumber    uint64
	BlockTime      time.Time
	DetectedAt     time.Time
	TransactionID  string
	OperationIndex int
}

// Price is tokenOut per tokenIn, or zero when amountIn is zero.
func (a WalletActivity) Price() decimal.Decimal {
	if a.AmountIn.IsZero() {
		return decimal.Zero
	}
	return a.AmountOut.Div(a.AmountIn)
}

// SameAddress compares GalaChain addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NormalizeAddress lower-cases and trims an address for use as a map key.
func NormalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}
