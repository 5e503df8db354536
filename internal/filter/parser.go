package filter

import (
	"errors"
	"fmt"
	"strings"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
)

var errNotBatch = errors.New("not a batch submit payload")

var knownMethods = map[string]domain.Method{
	"swap":            domain.MethodSwap,
	"addliquidity":    domain.MethodAddLiquidity,
	"removeliquidity": domain.MethodRemoveLiquidity,
	"transfer":        domain.MethodTransfer,
	"transfertoken":   domain.MethodTransfer,
	"approval":        domain.MethodApproval,
	"approve":         domain.MethodApproval,
	"granttransfer":   domain.MethodApproval,
}

// normalizeMethod maps "Swap", "swap" or "DexV3Contract:Swap" to a known
// method.
func normalizeMethod(s string) (domain.Method, bool) {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	m, ok := knownMethods[strings.ToLower(strings.TrimSpace(s))]
	return m, ok
}

// parseBatch decodes a batch-submit argument into operations. Unknown
// methods are skipped; malformed operations are returned as errors while
// the rest of the batch is kept. size counts every listed operation.
func parseBatch(payload string) (ops []domain.Operation, size int, errs []error, err error) {
	root, err := decodeTree([]byte(payload))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("decode batch: %w", err)
	}

	rawOps, ok := root.lookup("operations")
	if !ok {
		return nil, 0, nil, errNotBatch
	}
	list, ok := rawOps.([]any)
	if !ok {
		return nil, 0, nil, fmt.Errorf("decode batch: operations is %T, not a list", rawOps)
	}

	for i, raw := range list {
		obj, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("operation %d: not an object", i))
			continue
		}
		op, known, err := parseOperation(i, tree(obj))
		if err != nil {
			errs = append(errs, fmt.Errorf("operation %d: %w", i, err))
			continue
		}
		if known {
			ops = append(ops, op)
		}
	}
	return ops, len(list), errs, nil
}

func parseOperation(index int, t tree) (domain.Operation, bool, error) {
	name := t.str("method")
	if name == "" {
		return domain.Operation{}, false, errors.New("missing method")
	}
	method, known := normalizeMethod(name)
	if !known {
		return domain.Operation{}, false, nil
	}

	dto := t.object("dto")
	if dto == nil {
		return domain.Operation{}, false, errors.New("missing dto")
	}

	op := domain.Operation{
		Index:      index,
		Method:     method,
		UniqueID:   t.str("uniqueId"),
		Token0:     dto.token("token0"),
		Token1:     dto.token("token1"),
		PositionID: dto.str("positionId"),
		Recipient:  dto.str("recipient"),
	}
	if op.UniqueID == "" {
		op.UniqueID = dto.str("uniqueKey")
	}
	if op.Token0 == "" {
		op.Token0 = dto.token("tokenInstance")
	}
	if op.Recipient == "" && method == domain.MethodTransfer {
		op.Recipient = dto.str("to")
	}

	var err error
	if op.Fee, err = dto.integer("fee"); err != nil {
		return op, true, err
	}
	if op.TickLower, err = dto.integer("tickLower"); err != nil {
		return op, true, err
	}
	if op.TickUpper, err = dto.integer("tickUpper"); err != nil {
		return op, true, err
	}

	amounts := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"amount", &op.Amount},
		{"amount0Desired", &op.Amount0Desired},
		{"amount1Desired", &op.Amount1Desired},
		{"amount0Min", &op.Amount0Min},
		{"amount1Min", &op.Amount1Min},
		{"amountOutMinimum", &op.AmountOutMinimum},
		{"amountInMaximum", &op.AmountInMaximum},
	}
	for _, a := range amounts {
		d, _, err := dto.decimal(a.key)
		if err != nil {
			return op, true, err
		}
		*a.dst = d
	}
	if op.Liquidity, op.HasLiquidity, err = dto.decimal("liquidity"); err != nil {
		return op, true, err
	}
	if op.Amount.IsZero() {
		if d, ok, err := dto.decimal("quantity"); err == nil && ok {
			op.Amount = d
		}
	}

	zfo, ok, err := dto.boolean("zeroForOne")
	if err != nil {
		return op, true, err
	}
	op.ZeroForOne, op.HasZeroForOne = zfo, ok
	if method == domain.MethodSwap && !ok {
		op.ZeroForOne = true
	}

	return op, true, nil
}
