package filter

import (
	"bytes"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
)

// parseSettlement reads Data[index].Data.{amount0,amount1,poolHash} from a
// chaincode response payload. Data[0] stands in for a missing entry only
// when the batch carried a single operation.
func parseSettlement(payload string, index, opCount int) (domain.Settlement, bool) {
	p := bytes.TrimSpace([]byte(payload))
	if len(p) == 0 || p[0] != '{' {
		return domain.Settlement{}, false
	}
	root, err := decodeTree(p)
	if err != nil {
		return domain.Settlement{}, false
	}

	entries := root.array("Data")
	if len(entries) == 0 {
		return domain.Settlement{}, false
	}

	pick := func(i int) (domain.Settlement, bool) {
		if i < 0 || i >= len(entries) {
			return domain.Settlement{}, false
		}
		entry, ok := entries[i].(map[string]any)
		if !ok {
			return domain.Settlement{}, false
		}
		data := tree(entry).object("Data")
		if data == nil {
			return domain.Settlement{}, false
		}
		a0, ok0, err0 := data.decimal("amount0")
		a1, ok1, err1 := data.decimal("amount1")
		if err0 != nil || err1 != nil || !ok0 || !ok1 {
			return domain.Settlement{}, false
		}
		return domain.Settlement{Amount0: a0, Amount1: a1, PoolHash: data.str("poolHash")}, true
	}

	if s, ok := pick(index); ok {
		return s, true
	}
	if opCount == 1 {
		return pick(0)
	}
	return domain.Settlement{}, false
}

// SwapAmounts is the resolved size of a swap.
type SwapAmounts struct {
	In       decimal.Decimal
	Out      decimal.Decimal
	Source   domain.AmountSource
	PoolHash string
}

// SwapAmountStep resolves amounts from one source. settlement is nil when
// the action carried no usable payload.
type SwapAmountStep func(op domain.Operation, settlement *domain.Settlement) (SwapAmounts, bool)

// SwapAmountPolicy tries each step in order; the first that resolves wins.
type SwapAmountPolicy []SwapAmountStep

// DefaultSwapAmountPolicy prefers settled amounts, then the exact-input
// and exact-output forms of the request.
func DefaultSwapAmountPolicy() SwapAmountPolicy {
	return SwapAmountPolicy{FromSettlement, FromExactInput, FromExactOutput}
}

// Resolve runs the policy. When no step resolves, the raw request amount is
// returned with AmountSourceRaw and ok false.
func (p SwapAmountPolicy) Resolve(op domain.Operation, settlement *domain.Settlement) (SwapAmounts, bool) {
	for _, step := range p {
		if a, ok := step(op, settlement); ok {
			return a, true
		}
	}
	return SwapAmounts{In: op.Amount.Abs(), Source: domain.AmountSourceRaw}, false
}

// FromSettlement takes the absolute settled amount of each leg.
func FromSettlement(op domain.Operation, s *domain.Settlement) (SwapAmounts, bool) {
	if s == nil {
		return SwapAmounts{}, false
	}
	in, out := s.Amount1, s.Amount0
	if op.ZeroForOne {
		in, out = s.Amount0, s.Amount1
	}
	if in.IsZero() {
		return SwapAmounts{}, false
	}
	return SwapAmounts{
		In:       in.Abs(),
		Out:      out.Abs(),
		Source:   domain.AmountSourceSettlement,
		PoolHash: s.PoolHash,
	}, true
}

// FromExactInput handles amount > 0: the input is fixed and the output is
// the requested minimum.
func FromExactInput(op domain.Operation, _ *domain.Settlement) (SwapAmounts, bool) {
	if !op.Amount.IsPositive() {
		return SwapAmounts{}, false
	}
	return SwapAmounts{
		In:     op.Amount,
		Out:    op.AmountOutMinimum.Abs(),
		Source: domain.AmountSourceExactIn,
	}, true
}

// FromExactOutput handles amount < 0: the output is fixed and the input is
// the allowed maximum.
func FromExactOutput(op domain.Operation, _ *domain.Settlement) (SwapAmounts, bool) {
	if !op.Amount.IsNegative() {
		return SwapAmounts{}, false
	}
	return SwapAmounts{
		In:     op.AmountInMaximum.Abs(),
		Out:    op.Amount.Abs(),
		Source: domain.AmountSourceExactOut,
	}, true
}
