// Package jupiter implements the off-chain aggregator HTTP client used for
// quoting and building aggregator-route swaps.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"solana-swap-engine/internal/domain"
)

// DefaultBaseURL is the public aggregator quote API.
const DefaultBaseURL = "https://quote-api.jup.ag/v6"

// Errors surfaced by the client.
var (
	// ErrNoRoute means the aggregator found no liquidity for the pair.
	ErrNoRoute = errors.New("aggregator: no route found")
)

// Client talks to the aggregator quote/build API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates an aggregator client. A zero timeout falls back to 10s.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Quote fetches a best-execution quote for the pair.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount *big.Int, slippageBps int) (*domain.AggregatorQuote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", amount.String())
	if slippageBps > 0 {
		q.Set("slippageBps", strconv.Itoa(slippageBps))
	}

	endpoint := c.baseURL + "/quote?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("quote read: %w", err)
	}
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return nil, fmt.Errorf("quote status %d: %s", res.StatusCode, truncate(body))
	}

	// The API reports failures as 200/400 bodies with an error field.
	var probe struct {
		Error     string `json:"error"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("quote parse: %w", err)
	}
	if probe.Error != "" || probe.ErrorCode != "" {
		if isNoRouteMessage(probe.Error) || isNoRouteMessage(probe.ErrorCode) {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("quote error: %s", probe.Error)
	}

	var quote domain.AggregatorQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("quote parse: %w", err)
	}
	if quote.OutAmount == "" {
		return nil, ErrNoRoute
	}
	return &quote, nil
}

// BuildRequest are the caller-supplied build parameters.
type BuildRequest struct {
	Quote                    *domain.AggregatorQuote
	UserPublicKey            string
	WrapAndUnwrapSol         bool
	FeeAccount               string // optional platform fee token account
	PriorityFeeLamports      uint64
	DynamicComputeUnitLimit  bool
	SkipUserAccountsRPCCalls bool
}

// BuildResponse is the serialized unsigned swap transaction.
type BuildResponse struct {
	SwapTransaction           string `json:"swapTransaction"` // base64
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

// BuildSwap asks the aggregator to assemble the swap transaction for a
// previously fetched quote.
func (c *Client) BuildSwap(ctx context.Context, req BuildRequest) (*BuildResponse, error) {
	if req.Quote == nil {
		return nil, errors.New("aggregator: build requires a quote")
	}

	params := map[string]interface{}{
		"userPublicKey":             req.UserPublicKey,
		"wrapAndUnwrapSol":          req.WrapAndUnwrapSol,
		"useSharedAccounts":         true,
		"prioritizationFeeLamports": req.PriorityFeeLamports,
		"asLegacyTransaction":       false,
		"useTokenLedger":            false,
		"dynamicComputeUnitLimit":   req.DynamicComputeUnitLimit,
		"skipUserAccountsRpcCalls":  req.SkipUserAccountsRPCCalls,
		"quoteResponse":             req.Quote,
	}
	if req.FeeAccount != "" {
		params["feeAccount"] = req.FeeAccount
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Add("Content-Type", "application/json")
	httpReq.Header.Add("Accept", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("swap read: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap status %d: %s", res.StatusCode, truncate(body))
	}

	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.Error != "" {
		return nil, fmt.Errorf("swap error: %s", probe.Error)
	}

	var built BuildResponse
	if err := json.Unmarshal(body, &built); err != nil {
		return nil, fmt.Errorf("swap parse: %w", err)
	}
	if built.SwapTransaction == "" {
		return nil, errors.New("aggregator: empty swap transaction")
	}
	return &built, nil
}

// StripPlatformFee returns a copy of quote with any embedded fee block
// cleared. A reused quote must be stripped before a fee-free rebuild,
// otherwise the swap program rejects the stale fee parameters.
func StripPlatformFee(quote *domain.AggregatorQuote) *domain.AggregatorQuote {
	if quote == nil {
		return nil
	}
	out := *quote
	out.PlatformFee = nil
	return &out
}

// IsFeeAccountError reports whether err looks like the program rejecting
// the supplied platform fee account.
func IsFeeAccountError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fee account") ||
		strings.Contains(msg, "invalid fee") ||
		strings.Contains(msg, "custom program error: 0x1771")
}

func isNoRouteMessage(msg string) bool {
	if msg == "" {
		return false
	}
	upper := strings.ToUpper(msg)
	return strings.Contains(upper, "COULD_NOT_FIND_ANY_ROUTE") ||
		strings.Contains(upper, "NO_ROUTES_FOUND") ||
		strings.Contains(strings.ToLower(msg), "no route")
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
