// Package gswap is a small HTTP client for the GalaSwap DEX backend: quotes,
// swaps and read-only pool, balance and token lookups.
package gswap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotFound is returned when the backend has no such pool or token.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gswap: status=%d message=%s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	APIKey        string
	WalletAddress string
	Timeout       time.Duration
}

// Client talks to the DEX backend. Signing of swaps is done by the gateway
// behind BaseURL; the client only forwards the API key.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	wallet     string

	decMu    sync.RWMutex
	decimals map[string]int
}

// NewClient creates a Client.
func NewClient(logger *zap.Logger, cfg Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		logger: logger.Named("gswap"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		wallet:   cfg.WalletAddress,
		decimals: make(map[string]int),
	}
}

// WalletAddress is the bot wallet swaps are made for.
func (c *Client) WalletAddress() string {
	return c.wallet
}

// TokenKey expands a collection name such as "GALA" into the backend's
// composite key. Keys that are already composite are returned as is.
func TokenKey(token string) string {
	token = strings.TrimSpace(token)
	if strings.Contains(token, "|") {
		return token
	}
	return token + "|Unit|none|none"
}

// Collection returns the collection part of a composite token key.
func Collection(key string) string {
	if i := strings.IndexAny(key, "|$"); i >= 0 {
		return key[:i]
	}
	return key
}

// ---- Quotes and swaps ----

// QuoteRequest asks for the output of an exact-input swap. A zero FeeTier
// lets the backend pick the best pool.
type QuoteRequest struct {
	TokenIn  string
	TokenOut string
	AmountIn decimal.Decimal
	FeeTier  int
}

// Quote is the backend's answer to a QuoteRequest.
type Quote struct {
	AmountIn  decimal.Decimal `json:"amountIn"`
	AmountOut decimal.Decimal `json:"amountOut"`
	FeeTier   int             `json:"fee"`
}

// Quote returns the expected output for swapping AmountIn of TokenIn.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if !req.AmountIn.IsPositive() {
		return Quote{}, fmt.Errorf("quote: amount must be positive")
	}

	q := url.Values{}
	q.Set("tokenIn", TokenKey(req.TokenIn))
	q.Set("tokenOut", TokenKey(req.TokenOut))
	q.Set("amountIn", req.AmountIn.String())
	if req.FeeTier > 0 {
		q.Set("fee", strconv.Itoa(req.FeeTier))
	}

	var quote Quote
	if err := c.do(ctx, http.MethodGet, "/v1/trade/quote", q, nil, &quote); err != nil {
		return Quote{}, fmt.Errorf("quote %s->%s: %w", req.TokenIn, req.TokenOut, err)
	}
	// Some backend versions return amountOut negative as the pool's view.
	quote.AmountOut = quote.AmountOut.Abs()
	if quote.AmountIn.IsZero() {
		quote.AmountIn = req.AmountIn
	}
	return quote, nil
}

// SwapRequest submits an exact-input swap with a minimum-output guard.
type SwapRequest struct {
	TokenIn          string
	TokenOut         string
	FeeTier          int
	ExactIn          decimal.Decimal
	AmountOutMinimum decimal.Decimal
	Recipient        string
}

// SwapResult identifies the submitted transaction.
type SwapResult struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status,omitempty"`
}

type swapBody struct {
	TokenIn          string `json:"tokenIn"`
	TokenOut         string `json:"tokenOut"`
	Fee              int    `json:"fee"`
	AmountIn         string `json:"amountIn"`
	AmountOutMinimum string `json:"amountOutMinimum"`
	Recipient        string `json:"recipient"`
}

// Swap submits the swap and returns its transaction id.
func (c *Client) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	recipient := req.Recipient
	if recipient == "" {
		recipient = c.wallet
	}
	if recipient == "" {
		return SwapResult{}, fmt.Errorf("swap: recipient is empty")
	}

	body := swapBody{
		TokenIn:          TokenKey(req.TokenIn),
		TokenOut:         TokenKey(req.TokenOut),
		Fee:              req.FeeTier,
		AmountIn:         req.ExactIn.String(),
		AmountOutMinimum: req.AmountOutMinimum.String(),
		Recipient:        recipient,
	}

	var res SwapResult
	if err := c.do(ctx, http.MethodPost, "/v1/trade/swap", nil, body, &res); err != nil {
		return SwapResult{}, fmt.Errorf("swap %s->%s: %w", req.TokenIn, req.TokenOut, err)
	}
	if res.TransactionID == "" {
		return SwapResult{}, fmt.Errorf("swap %s->%s: empty transaction id", req.TokenIn, req.TokenOut)
	}

	c.logger.Info("swap submitted",
		zap.String("tokenIn", req.TokenIn),
		zap.String("tokenOut", req.TokenOut),
		zap.Stringer("amountIn", req.ExactIn),
		zap.Stringer("amountOutMinimum", req.AmountOutMinimum),
		zap.String("transactionId", res.TransactionID),
	)
	return res, nil
}

// ---- Read-only lookups ----

// Pool is a concentrated-liquidity pool. Price is token1 per token0.
type Pool struct {
	Token0    string          `json:"token0"`
	Token1    string          `json:"token1"`
	Fee       int             `json:"fee"`
	SqrtPrice decimal.Decimal `json:"sqrtPrice"`
	Liquidity decimal.Decimal `json:"liquidity"`
	Hash      string          `json:"poolHash"`
}

// Price returns token1 per token0.
func (p Pool) Price() decimal.Decimal {
	return p.SqrtPrice.Mul(p.SqrtPrice)
}

// PriceOf returns the value of one unit of token in the pool's other token,
// or false when token is not in the pool or the pool has no price.
func (p Pool) PriceOf(token string) (decimal.Decimal, bool) {
	price := p.Price()
	if price.IsZero() {
		return decimal.Zero, false
	}
	switch {
	case strings.EqualFold(Collection(p.Token0), Collection(token)):
		return price, true
	case strings.EqualFold(Collection(p.Token1), Collection(token)):
		return decimal.NewFromInt(1).Div(price), true
	default:
		return decimal.Zero, false
	}
}

// GetPool looks up the pool for a token pair and fee tier. Token order does
// not matter.
func (c *Client) GetPool(ctx context.Context, tokenA, tokenB string, fee int) (Pool, error) {
	keys := []string{TokenKey(tokenA), TokenKey(tokenB)}
	sort.Strings(keys)

	q := url.Values{}
	q.Set("token0", keys[0])
	q.Set("token1", keys[1])
	q.Set("fee", strconv.Itoa(fee))

	var pool Pool
	if err := c.do(ctx, http.MethodGet, "/v1/trade/pool", q, nil, &pool); err != nil {
		return Pool{}, fmt.Errorf("get pool %s/%s/%d: %w", tokenA, tokenB, fee, err)
	}
	if pool.Fee == 0 {
		pool.Fee = fee
	}
	return pool, nil
}

// Balance is one token holding in human units.
type Balance struct {
	Token    string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Decimals int             `json:"decimals"`
}

type assetsPage struct {
	Tokens []Balance `json:"token"`
	Count  int       `json:"count"`
}

const assetsPageSize = 100

// GetBalances returns every token balance held by owner. Token decimals
// reported along the way are cached for TokenDecimals.
func (c *Client) GetBalances(ctx context.Context, owner string) ([]Balance, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("get balances: owner is empty")
	}

	var out []Balance
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("address", owner)
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(assetsPageSize))

		var res assetsPage
		if err := c.do(ctx, http.MethodGet, "/user/assets", q, nil, &res); err != nil {
			return nil, fmt.Errorf("get balances: %w", err)
		}
		out = append(out, res.Tokens...)

		if len(res.Tokens) < assetsPageSize || (res.Count > 0 && len(out) >= res.Count) {
			break
		}
	}

	c.decMu.Lock()
	for _, b := range out {
		if b.Decimals > 0 {
			c.decimals[strings.ToUpper(Collection(b.Token))] = b.Decimals
		}
	}
	c.decMu.Unlock()

	return out, nil
}

type tokenInfo struct {
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// TokenDecimals returns the number of decimals a token supports. Results
// are cached for the lifetime of the client.
func (c *Client) TokenDecimals(ctx context.Context, token string) (int, error) {
	key := strings.ToUpper(Collection(token))

	c.decMu.RLock()
	d, ok := c.decimals[key]
	c.decMu.RUnlock()
	if ok {
		return d, nil
	}

	var info tokenInfo
	if err := c.do(ctx, http.MethodGet, "/v1/tokens/"+url.PathEscape(key), nil, nil, &info); err != nil {
		return 0, fmt.Errorf("token decimals %s: %w", key, err)
	}

	c.decMu.Lock()
	c.decimals[key] = info.Decimals
	c.decMu.Unlock()
	return info.Decimals, nil
}

// ---- Transport ----

// envelope is the backend's response wrapper.
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Error   bool            `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	var env envelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
		if resp.StatusCode/100 != 2 {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode json: %w", jsonErr)
	}

	if resp.StatusCode/100 != 2 || env.Error || (env.Status != 0 && env.Status/100 != 2) {
		status := resp.StatusCode
		if status/100 == 2 && env.Status != 0 {
			status = env.Status
		}
		if status == http.StatusNotFound {
			return ErrNotFound
		}
		return &APIError{StatusCode: status, Message: env.Message}
	}

	if dest == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
