package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CopyMode decides how a source trade is sized.
type CopyMode string

const (
	CopyModeExact        CopyMode = "exact"
	CopyModeProportional CopyMode = "proportional"
)

// RecommendedAction is what the analyzer suggests doing with an activity.
type RecommendedAction string

const (
	ActionExecute RecommendedAction = "execute"
	ActionHold    RecommendedAction = "hold"
	ActionReject  RecommendedAction = "reject"
)

// Verdict is the final state of an analysis.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
	VerdictPending  Verdict = "pending"
)

// CalculatedTrade is the sized replication of a source trade.
type CalculatedTrade struct {
	TokenIn           string          `json:"tokenIn"`
	TokenOut          string          `json:"tokenOut"`
	FeeTier           int             `json:"feeTier"`
	SourceAmountIn    decimal.Decimal `json:"sourceAmountIn"`
	SourceAmountOut   decimal.Decimal `json:"sourceAmountOut"`
	AmountIn          decimal.Decimal `json:"amountIn"`
	ExpectedAmountOut decimal.Decimal `json:"expectedAmountOut"`
	Mode              CopyMode        `json:"mode"`
	MaxSlippage       float64         `json:"maxSlippage"`
	ExecutionDelay    time.Duration   `json:"executionDelay"`
	Priority          int             `json:"priority"`
}

// MarketSnapshot captures what the analyzer saw when deciding.
type MarketSnapshot struct {
	Price         decimal.Decimal `json:"price"`
	PortfolioSize decimal.Decimal `json:"portfolioSize"`
	CapturedAt    time.Time       `json:"capturedAt"`
}

// TradeAnalysis is the analyzer's decision on one activity. It is not
// modified after Verdict is set.
type TradeAnalysis struct {
	ID         string
	Activity   WalletActivity
	Trade      CalculatedTrade
	RiskScore  float64
	Confidence float64
	Snapshot   MarketSnapshot
	Action     RecommendedAction
	Verdict    Verdict
	Reason     string
	AnalyzedAt time.Time
}

// ExecutionStatus is the lifecycle state of a TradeExecution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// ExecutionResult is what a completed swap produced.
type ExecutionResult struct {
	TransactionID    string          `json:"transactionId"`
	AmountIn         decimal.Decimal `json:"amountIn"`
	QuotedAmountOut  decimal.Decimal `json:"quotedAmountOut"`
	AmountOutMinimum decimal.Decimal `json:"amountOutMinimum"`
	Slippage         float64         `json:"slippage"`
	FeeTier          int             `json:"feeTier"`
	Latency          time.Duration   `json:"latency"`
}

// TradeExecution tracks one replication attempt through its state machine.
type TradeExecution struct {
	ID            string
	Analysis      TradeAnalysis
	Status        ExecutionStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	RetryDelay    time.Duration
	LastError     string
	ErrorCategory string
	Result        *ExecutionResult
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TradeRecord is the persisted outcome of a terminal execution.
type TradeRecord struct {
	ID            string          `json:"id"`
	ExecutionID   string          `json:"executionId"`
	ActivityID    string          `json:"activityId"`
	SourceWallet  string          `json:"sourceWallet"`
	SourceTxID    string          `json:"sourceTxId"`
	TokenIn       string          `json:"tokenIn"`
	TokenOut      string          `json:"tokenOut"`
	AmountIn      decimal.Decimal `json:"amountIn"`
	ExpectedOut   decimal.Decimal `json:"expectedOut"`
	AmountOut     decimal.Decimal `json:"amountOut"`
	Slippage      float64         `json:"slippage"`
	FeeTier       int             `json:"feeTier"`
	Status        ExecutionStatus `json:"status"`
	TransactionID string          `json:"transactionId,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	LatencyMs     int64           `json:"latencyMs"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   time.Time       `json:"completedAt"`
}

// RecordFromExecution flattens a terminal execution for persistence.
func RecordFromExecution(e TradeExecution, now time.Time) TradeRecord {
	rec := TradeRecord{
		ID:           e.ID,
		ExecutionID:  e.ID,
		ActivityID:   e.Analysis.Activity.ID,
		SourceWallet: e.Analysis.Activity.Wallet,
		SourceTxID:   e.Analysis.Activity.TransactionID,
		TokenIn:      e.Analysis.Trade.TokenIn,
		TokenOut:     e.Analysis.Trade.TokenOut,
		AmountIn:     e.Analysis.Trade.AmountIn,
		ExpectedOut:  e.Analysis.Trade.ExpectedAmountOut,
		FeeTier:      e.Analysis.Trade.FeeTier,
		Status:       e.Status,
		Error:        e.LastError,
		Attempts:     e.Attempts,
		CreatedAt:    e.CreatedAt,
		CompletedAt:  now,
	}
	if e.Result != nil {
		rec.AmountIn = e.Result.AmountIn
		rec.AmountOut = e.Result.QuotedAmountOut
		rec.Slippage = e.Result.Slippage
		rec.FeeTier = e.Result.FeeTier
		rec.TransactionID = e.Result.TransactionID
		rec.LatencyMs = e.Result.Latency.Milliseconds()
	}
	return rec
}
