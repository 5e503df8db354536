package filter

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const target = "eth|9f3A1B2c4D5e6F7a8B9c0D1e2F3a4B5c6D7e8F90"

var blockTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func token(collection string) map[string]any {
	return map[string]any{
		"collection":    collection,
		"category":      "Unit",
		"type":          "none",
		"additionalKey": "none",
	}
}

func batchArg(t *testing.T, ops ...map[string]any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"operations": ops})
	require.NoError(t, err)
	return string(b)
}

func swapOp(uniqueID, recipient string, zeroForOne any, extra map[string]any) map[string]any {
	dto := map[string]any{
		"token0":     token("GUSDC"),
		"token1":     token("GALA"),
		"fee":        3000,
		"recipient":  recipient,
		"zeroForOne": zeroForOne,
	}
	for k, v := range extra {
		dto[k] = v
	}
	return map[string]any{"method": "Swap", "uniqueId": uniqueID, "dto": dto}
}

func settlementPayload(entries ...[2]string) string {
	data := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		data = append(data, map[string]any{
			"Status": 1,
			"Data":   map[string]any{"amount0": e[0], "amount1": e[1], "poolHash": "pool-abc"},
		})
	}
	b, _ := json.Marshal(map[string]any{"Status": 1, "Data": data})
	return string(b)
}

func batchTx(id, arg string, resp *domain.ChaincodeResponse) domain.Transaction {
	return domain.Transaction{
		ID: id,
		Actions: []domain.Action{{
			Args:              []string{DefaultBatchSubmitOpCode, arg},
			ChaincodeResponse: resp,
		}},
	}
}

func newFilter(cfg Config, addrs ...string) *Filter {
	var targets []domain.TargetWallet
	for _, a := range addrs {
		targets = append(targets, domain.TargetWallet{Address: a, Enabled: true})
	}
	f := New(zap.NewNop(), cfg, targets)
	f.now = func() time.Time { return blockTime.Add(time.Second) }
	return f
}

func TestFilter_SettledSwapReverseDirection(t *testing.T) {
	f := newFilter(Config{}, target)

	tx := batchTx("tx-1",
		batchArg(t, swapOp("op-1", target, false, map[string]any{"amount": "5"})),
		&domain.ChaincodeResponse{Status: 200, Payload: settlementPayload([2]string{"284.88", "-5"})},
	)
	block := domain.Block{Number: 10, Timestamp: blockTime, Transactions: []domain.Transaction{tx}}

	acts := f.FilterBlock(block)
	require.Len(t, acts, 1)

	a := acts[0]
	assert.Equal(t, "op-1", a.ID)
	assert.Equal(t, target, a.Wallet)
	assert.Equal(t, domain.MethodSwap, a.Type)
	assert.Equal(t, "GALA", a.TokenIn)
	assert.Equal(t, "GUSDC", a.TokenOut)
	assert.True(t, a.AmountIn.Equal(decimal.NewFromInt(5)), "amountIn %s", a.AmountIn)
	assert.True(t, a.AmountOut.Equal(decimal.RequireFromString("284.88")), "amountOut %s", a.AmountOut)
	assert.Equal(t, domain.AmountSourceSettlement, a.Source)
	assert.Equal(t, "pool-abc", a.Pool.Hash)
	assert.Equal(t, 3000, a.Pool.Fee)
	assert.True(t, a.Successful)
	assert.Equal(t, uint64(10), a.BlockNumber)
	assert.Equal(t, "tx-1", a.TransactionID)

	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.BatchSubmits)
	assert.Equal(t, uint64(1), stats.ActivitiesEmitted)
}

func TestFilter_SwapDirection(t *testing.T) {
	f := newFilter(Config{}, target)

	tests := []struct {
		name       string
		zeroForOne any
		in, out    string
	}{
		{"zeroForOne true", true, "GUSDC", "GALA"},
		{"zeroForOne false", false, "GALA", "GUSDC"},
		{"zeroForOne string", "false", "GALA", "GUSDC"},
		{"zeroForOne absent", nil, "GUSDC", "GALA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := batchTx("tx", batchArg(t, swapOp("u", target, tt.zeroForOne, map[string]any{"amount": "1"})), nil)
			acts := f.FilterTransaction(domain.Block{Timestamp: blockTime}, tx)
			require.Len(t, acts, 1)
			assert.Equal(t, tt.in, acts[0].TokenIn)
			assert.Equal(t, tt.out, acts[0].TokenOut)
		})
	}
}

func TestSwapAmountPolicy_Steps(t *testing.T) {
	policy := DefaultSwapAmountPolicy()

	exactIn := domain.Operation{
		Amount:           decimal.NewFromInt(10),
		AmountOutMinimum: decimal.RequireFromString("9.5"),
	}
	got, ok := policy.Resolve(exactIn, nil)
	require.True(t, ok)
	assert.Equal(t, domain.AmountSourceExactIn, got.Source)
	assert.True(t, got.In.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.Out.Equal(decimal.RequireFromString("9.5")))

	exactOut := domain.Operation{
		Amount:          decimal.NewFromInt(-20),
		AmountInMaximum: decimal.NewFromInt(25),
	}
	got, ok = policy.Resolve(exactOut, nil)
	require.True(t, ok)
	assert.Equal(t, domain.AmountSourceExactOut, got.Source)
	assert.True(t, got.In.Equal(decimal.NewFromInt(25)))
	assert.True(t, got.Out.Equal(decimal.NewFromInt(20)))

	// Settlement wins over the request when present.
	settled := &domain.Settlement{Amount0: decimal.NewFromInt(-3), Amount1: decimal.NewFromInt(7)}
	exactIn.ZeroForOne = true
	got, ok = policy.Resolve(exactIn, settled)
	require.True(t, ok)
	assert.Equal(t, domain.AmountSourceSettlement, got.Source)
	assert.True(t, got.In.Equal(decimal.NewFromInt(3)))
	assert.True(t, got.Out.Equal(decimal.NewFromInt(7)))

	// Nothing resolves.
	got, ok = policy.Resolve(domain.Operation{}, nil)
	assert.False(t, ok)
	assert.Equal(t, domain.AmountSourceRaw, got.Source)
}

func TestParseSettlement(t *testing.T) {
	payload := settlementPayload([2]string{"1", "-2"}, [2]string{"3", "-4"})

	s, ok := parseSettlement(payload, 1, 2)
	require.True(t, ok)
	assert.True(t, s.Amount0.Equal(decimal.NewFromInt(3)))

	_, ok = parseSettlement(payload, 7, 8)
	assert.False(t, ok, "a multi-operation batch never borrows another entry")

	single := settlementPayload([2]string{"1", "-2"})
	s, ok = parseSettlement(single, 3, 1)
	require.True(t, ok, "a single-operation batch falls back to the first entry")
	assert.True(t, s.Amount0.Equal(decimal.NewFromInt(1)))

	_, ok = parseSettlement(`{"Data":[{"Data":{"amount0":"x","amount1":"1"}}]}`, 0, 1)
	assert.False(t, ok)
	_, ok = parseSettlement("not json", 0, 1)
	assert.False(t, ok)
	_, ok = parseSettlement("", 0, 1)
	assert.False(t, ok)
}

func TestFilter_MultiOpBatchMissingSettlementUsesRequest(t *testing.T) {
	f := newFilter(Config{}, target)

	tx := batchTx("tx",
		batchArg(t,
			swapOp("first", target, true, map[string]any{"amount": "5"}),
			swapOp("second", target, true, map[string]any{"amount": "10", "amountOutMinimum": "9"}),
		),
		&domain.ChaincodeResponse{Status: 200, Payload: settlementPayload([2]string{"5", "-4"})},
	)
	acts := f.FilterTransaction(domain.Block{Timestamp: blockTime}, tx)
	require.Len(t, acts, 2)

	assert.Equal(t, domain.AmountSourceSettlement, acts[0].Source)
	assert.True(t, acts[0].AmountIn.Equal(decimal.NewFromInt(5)))

	assert.Equal(t, "second", acts[1].ID)
	assert.Equal(t, domain.AmountSourceExactIn, acts[1].Source)
	assert.True(t, acts[1].AmountIn.Equal(decimal.NewFromInt(10)))
	assert.True(t, acts[1].AmountOut.Equal(decimal.NewFromInt(9)))
}

func TestFilter_MalformedSettlementFallsThrough(t *testing.T) {
	f := newFilter(Config{}, target)

	tx := batchTx("tx",
		batchArg(t, swapOp("u", target, true, map[string]any{"amount": "-50", "amountInMaximum": 60})),
		&domain.ChaincodeResponse{Status: 200, Payload: `{"Data":"oops"}`},
	)
	acts := f.FilterTransaction(domain.Block{Timestamp: blockTime}, tx)
	require.Len(t, acts, 1)
	assert.Equal(t, domain.AmountSourceExactOut, acts[0].Source)
	assert.True(t, acts[0].AmountIn.Equal(decimal.NewFromInt(60)))
	assert.True(t, acts[0].AmountOut.Equal(decimal.NewFromInt(50)))
}

func TestFilter_NonTargetDropped(t *testing.T) {
	f := newFilter(Config{}, target)

	tx := batchTx("tx", batchArg(t, swapOp("u", "eth|someoneelse", true, map[string]any{"amount": "1"})), nil)
	acts := f.FilterBlock(domain.Block{Timestamp: blockTime, Transactions: []domain.Transaction{tx}})

	assert.Empty(t, acts)
	assert.Equal(t, uint64(1), f.Stats().DroppedNotTarget)
}

func TestFilter_RecipientIsCaseInsensitive(t *testing.T) {
	f := newFilter(Config{}, target)

	tx := batchTx("tx", batchArg(t, swapOp("u", "ETH|9F3A1B2C4D5E6F7A8B9C0D1E2F3A4B5C6D7E8F90", true, map[string]any{"amount": "1"})), nil)
	acts := f.FilterTransaction(domain.Block{}, tx)
	require.Len(t, acts, 1)
	assert.Equal(t, target, acts[0].Wallet)
}

func TestFilter_RecipientFallbackScansArgs(t *testing.T) {
	f := newFilter(Config{}, target)

	op := swapOp("u", "", true, map[string]any{"amount": "1"})
	tx := batchTx("tx", batchArg(t, op), nil)
	tx.Actions = append(tx.Actions, domain.Action{Args: []string{"Signer", `{"signerAddress":"` + target + `"}`}})

	acts := f.FilterTransaction(domain.Block{}, tx)
	require.Len(t, acts, 1)
	assert.Equal(t, target, acts[0].Wallet)
}

func TestFilter_ArgFallbackRequiresWholeAddress(t *testing.T) {
	short := target[:20]
	f := newFilter(Config{}, short)

	op := swapOp("u", "", true, map[string]any{"amount": "1"})
	tx := batchTx("tx", batchArg(t, op), nil)
	tx.Actions = append(tx.Actions, domain.Action{Args: []string{"Signer", `{"signerAddress":"` + target + `"}`}})

	assert.Empty(t, f.FilterTransaction(domain.Block{}, tx), "a target that prefixes another address must not match")
	assert.Equal(t, uint64(1), f.Stats().DroppedNotTarget)
}

func TestFilter_ArgFallbackIsDeterministic(t *testing.T) {
	other := "eth|0000000000000000000000000000000000000001"
	f := newFilter(Config{}, target, other)

	op := swapOp("u", "", true, map[string]any{"amount": "1"})
	tx := batchTx("tx", batchArg(t, op), nil)
	tx.Actions = append(tx.Actions, domain.Action{Args: []string{
		"Signer",
		`{"zeta":"` + strings.ToUpper(target) + `","alpha":"` + other + `"}`,
	}})

	for i := 0; i < 20; i++ {
		acts := f.FilterTransaction(domain.Block{}, tx)
		require.Len(t, acts, 1)
		assert.Equal(t, other, acts[0].Wallet, "keys are visited in sorted order")
	}
}

func TestStringValues(t *testing.T) {
	assert.Equal(t, []string{"Signer"}, stringValues("Signer"))
	assert.Equal(t, []string{"a", "b", "c"}, stringValues(`{"y":["b",{"z":"c"}],"x":"a","n":3}`))
	assert.Equal(t, []string{"inner"}, stringValues(`{"dto":"{\"owner\":\"inner\"}"}`))
}

func TestFilter_TokenPolicy(t *testing.T) {
	tests := []struct {
		name  string
		allow []string
		deny  []string
		want  int
	}{
		{"no lists", nil, nil, 1},
		{"allowed leg", []string{"gala"}, nil, 1},
		{"no allowed leg", []string{"ETIME"}, nil, 0},
		{"denied leg", nil, []string{"GUSDC"}, 0},
		{"denied wins over allowed", []string{"GALA"}, []string{"gusdc"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFilter(Config{AllowTokens: tt.allow, DenyTokens: tt.deny}, target)
			tx := batchTx("tx", batchArg(t, swapOp("u", target, true, map[string]any{"amount": "1"})), nil)
			acts := f.FilterTransaction(domain.Block{}, tx)
			assert.Len(t, acts, tt.want)
			if tt.want == 0 {
				assert.Equal(t, uint64(1), f.Stats().DroppedTokenPolicy)
			}
		})
	}
}

func TestFilter_SetTargets(t *testing.T) {
	f := newFilter(Config{})
	tx := batchTx("tx", batchArg(t, swapOp("u", target, true, map[string]any{"amount": "1"})), nil)

	assert.Empty(t, f.FilterTransaction(domain.Block{}, tx))

	f.SetTargets([]domain.TargetWallet{{Address: target}})
	assert.Len(t, f.FilterTransaction(domain.Block{}, tx), 1)
}

func TestFilter_LiquidityAndTransfer(t *testing.T) {
	f := newFilter(Config{}, target)

	add := map[string]any{
		"method":   "AddLiquidity",
		"uniqueId": "add-1",
		"dto": map[string]any{
			"token0": token("GALA"), "token1": token("GUSDC"), "fee": "500",
			"tickLower": -1000, "tickUpper": "1000",
			"amount0Desired": "100", "amount1Desired": "5", "amount": "42",
			"recipient": target,
		},
	}
	remove := map[string]any{
		"method": "RemoveLiquidity",
		"dto": map[string]any{
			"token0": "GALA$Unit$none$none", "token1": "GUSDC$Unit$none$none", "fee": 500,
			"amount0Min": "10", "amount1Min": "0.5", "liquidity": "21",
			"positionId": "pos-9", "recipient": target,
		},
	}
	transfer := map[string]any{
		"method": "TransferToken",
		"dto": map[string]any{
			"tokenInstance": token("GALA"), "quantity": "12", "to": target,
		},
	}
	ignored := map[string]any{"method": "CollectPositionFees", "dto": map[string]any{"recipient": target}}

	tx := batchTx("tx-liq", batchArg(t, add, remove, transfer, ignored), &domain.ChaincodeResponse{Status: 200})
	acts := f.FilterTransaction(domain.Block{Timestamp: blockTime}, tx)
	require.Len(t, acts, 3)

	a := acts[0]
	assert.Equal(t, domain.MethodAddLiquidity, a.Type)
	assert.Equal(t, "GALA", a.TokenIn)
	assert.True(t, a.AmountIn.Equal(decimal.NewFromInt(100)))
	assert.True(t, a.AmountOut.Equal(decimal.NewFromInt(5)))
	assert.True(t, a.Liquidity.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, -1000, a.TickLower)
	assert.Equal(t, 1000, a.TickUpper)
	assert.Equal(t, 500, a.Pool.Fee)

	r := acts[1]
	assert.Equal(t, domain.MethodRemoveLiquidity, r.Type)
	assert.Equal(t, "GALA", r.Pool.Token0)
	assert.Equal(t, domain.AmountSourceMinimum, r.Source)
	assert.True(t, r.Liquidity.Equal(decimal.NewFromInt(21)))
	assert.Equal(t, "pos-9", r.PositionID)
	assert.Equal(t, activityID("tx-liq", blockTime, 1), r.ID)

	tr := acts[2]
	assert.Equal(t, domain.MethodTransfer, tr.Type)
	assert.Equal(t, "GALA", tr.TokenIn)
	assert.True(t, tr.AmountIn.Equal(decimal.NewFromInt(12)))
}

func TestFilter_FailedStatusAndParseErrors(t *testing.T) {
	f := newFilter(Config{}, target)

	bad := map[string]any{"method": "Swap", "dto": map[string]any{"recipient": target, "amount": "abc"}}
	good := swapOp("u", target, true, map[string]any{"amount": "1"})
	tx := batchTx("tx", batchArg(t, bad, good), &domain.ChaincodeResponse{Status: 400, Message: "slippage"})

	acts := f.FilterTransaction(domain.Block{}, tx)
	require.Len(t, acts, 1)
	assert.False(t, acts[0].Successful)
	assert.Equal(t, uint64(1), f.Stats().ParseErrors)

	// Not a batch submit at all.
	other := domain.Transaction{ID: "x", Actions: []domain.Action{{Args: []string{"TokenContract:Mint", "{}"}}}}
	assert.Empty(t, f.FilterTransaction(domain.Block{}, other))

	// Batch op-code with garbage payload.
	assert.Empty(t, f.FilterTransaction(domain.Block{}, batchTx("y", "{not json", nil)))
	assert.Equal(t, uint64(2), f.Stats().ParseErrors)
	assert.Equal(t, uint64(3), f.Stats().TransactionsScanned)
}

func TestActivityID_Stable(t *testing.T) {
	a := activityID("tx", blockTime, 2)
	assert.Equal(t, a, activityID("tx", blockTime, 2))
	assert.NotEqual(t, a, activityID("tx", blockTime, 3))
	assert.Len(t, a, 64)
}
