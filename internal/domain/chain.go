// Package domain holds the types handed between pipeline stages.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Block is one block delivered by the explorer feed.
type Block struct {
	Number       uint64
	Timestamp    time.Time
	Transactions []Transaction
}

// Transaction is an ordered list of chaincode actions.
type Transaction struct {
	ID      string
	Actions []Action
}

// Action is one chaincode invocation. Args[0] is the op-code; the remaining
// args are its (usually JSON-encoded) parameters.
type Action struct {
	Args              []string
	ChaincodeResponse *ChaincodeResponse
}

// ChaincodeResponse is the settlement the chain returned for an action.
type ChaincodeResponse struct {
	Status  int
	Message string
	Payload string
}

// Arg returns the i-th argument or "" when absent.
func (a Action) Arg(i int) string {
	if i < 0 || i >= len(a.Args) {
		return ""
	}
	return a.Args[i]
}

// Method is an exchange operation name.
type Method string

const (
	MethodSwap            Method = "Swap"
	MethodAddLiquidity    Method = "AddLiquidity"
	MethodRemoveLiquidity Method = "RemoveLiquidity"
	MethodTransfer        Method = "Transfer"
	MethodApproval        Method = "Approval"
)

// IsLiquidity reports whether m adds or removes pool liquidity.
func (m Method) IsLiquidity() bool {
	return m == MethodAddLiquidity || m == MethodRemoveLiquidity
}

// Operation is one entry of a batch-submit payload, projected into typed
// fields. Optional amounts are zero when absent; HasX flags record presence
// where zero is meaningful.
type Operation struct {
	Index    int
	Method   Method
	UniqueID string

	Token0 string
	Token1 string
	Fee    int

	Amount           decimal.Decimal
	Amount0Desired   decimal.Decimal
	Amount1Desired   decimal.Decimal
	Amount0Min       decimal.Decimal
	Amount1Min       decimal.Decimal
	AmountOutMinimum decimal.Decimal
	AmountInMaximum  decimal.Decimal
	Liquidity        decimal.Decimal
	HasLiquidity     bool

	ZeroForOne    bool
	HasZeroForOne bool

	TickLower  int
	TickUpper  int
	PositionID string
	Recipient  string
}

// Settlement holds the amounts the chain actually moved for one operation.
type Settlement struct {
	Amount0  decimal.Decimal
	Amount1  decimal.Decimal
	PoolHash string
}
