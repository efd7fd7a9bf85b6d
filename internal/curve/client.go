// Package curve implements the bonding-curve venue HTTP client: token
// detection and trade construction for mints still priced by the curve.
package curve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"solana-swap-engine/internal/domain"
)

// ProgramID is the bonding-curve program.
const ProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Known curve program error codes. A build failing with one of these is
// not retryable on the curve: the token state moved on and the caller
// falls back to the aggregator.
const (
	ErrCodeStaleCurveState   = 6002
	ErrCodeCurveComplete     = 6005
	ErrCodeReservesExhausted = 6023
)

// TradeSide is the direction of a curve trade.
type TradeSide string

// TradeSide values.
const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Client talks to the curve venue HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a curve venue client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}
}

// coinInfo is the venue's token state response.
type coinInfo struct {
	Mint           string `json:"mint"`
	Complete       bool   `json:"complete"`
	BondingCurve   string `json:"bonding_curve"`
	RaydiumPool    string `json:"raydium_pool"`
	VirtualSolRes  uint64 `json:"virtual_sol_reserves"`
	VirtualTokRes  uint64 `json:"virtual_token_reserves"`
	TotalSupply    uint64 `json:"total_supply"`
	KingOfHillTime int64  `json:"king_of_the_hill_timestamp"`
}

// Detect resolves the curve state for a mint. The mapping is tri-state:
// a definitive venue answer yields active/graduated/not-curve, while
// timeouts and upstream failures yield unknown so the router can apply
// its fail-open policy instead of trusting a flaky negative.
func (c *Client) Detect(ctx context.Context, mint string) domain.CurveMeta {
	meta := domain.CurveMeta{Mint: mint, State: domain.CurveUnknown, ObservedAt: c.now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/coins/"+mint, nil)
	if err != nil {
		return meta
	}
	req.Header.Add("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("curve detection failed", "mint", mint, "err", err)
		return meta
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		meta.State = domain.CurveNotCurve
		return meta
	case res.StatusCode != http.StatusOK:
		c.logger.Debug("curve detection status", "mint", mint, "status", res.StatusCode)
		return meta
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return meta
	}

	var info coinInfo
	if err := json.Unmarshal(body, &info); err != nil || info.Mint == "" {
		return meta
	}

	if info.Complete || info.RaydiumPool != "" {
		meta.State = domain.CurveGraduated
	} else {
		meta.State = domain.CurveActive
	}
	return meta
}

// TradeRequest describes a curve trade to assemble.
type TradeRequest struct {
	PublicKey           string          `json:"publicKey"`
	Action              TradeSide       `json:"action"`
	Mint                string          `json:"mint"`
	Amount              decimal.Decimal `json:"amount"`
	DenominatedInSol    bool            `json:"denominatedInSol"`
	SlippageBps         int             `json:"slippageBps"`
	PriorityFeeLamports uint64          `json:"priorityFeeLamports"`
	Pool                string          `json:"pool,omitempty"`
}

// TradeResponse is the serialized unsigned curve transaction.
type TradeResponse struct {
	Transaction          string `json:"transaction"` // base64
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// ProgramError is a structured curve program failure.
type ProgramError struct {
	Code    int
	Message string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("curve program error %d: %s", e.Code, e.Message)
}

// FallbackCode reports whether code means the curve can no longer serve
// this trade and the aggregator should be tried instead.
func FallbackCode(code int) bool {
	switch code {
	case ErrCodeCurveComplete, ErrCodeReservesExhausted, ErrCodeStaleCurveState:
		return true
	}
	return false
}

// IsFallbackError reports whether err carries a fallback program code.
func IsFallbackError(err error) bool {
	var pe *ProgramError
	return errors.As(err, &pe) && FallbackCode(pe.Code)
}

// BuildTrade asks the venue to assemble an unsigned curve transaction.
func (c *Client) BuildTrade(ctx context.Context, req TradeRequest) (*TradeResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/trade-local", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Add("Content-Type", "application/json")
	httpReq.Header.Add("Accept", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("trade request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("trade read: %w", err)
	}

	var probe struct {
		Error     string `json:"error"`
		ErrorCode int    `json:"errorCode"`
	}
	if json.Unmarshal(body, &probe) == nil && (probe.Error != "" || probe.ErrorCode != 0) {
		if probe.ErrorCode != 0 {
			return nil, &ProgramError{Code: probe.ErrorCode, Message: probe.Error}
		}
		if code, ok := parseCustomErrorCode(probe.Error); ok {
			return nil, &ProgramError{Code: code, Message: probe.Error}
		}
		return nil, fmt.Errorf("trade error: %s", probe.Error)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trade status %d: %s", res.StatusCode, string(body))
	}

	var trade TradeResponse
	if err := json.Unmarshal(body, &trade); err != nil {
		return nil, fmt.Errorf("trade parse: %w", err)
	}
	if trade.Transaction == "" {
		return nil, errors.New("curve: empty trade transaction")
	}
	return &trade, nil
}

// parseCustomErrorCode extracts a program error code from messages like
// "custom program error: 0x1775".
func parseCustomErrorCode(msg string) (int, bool) {
	const marker = "custom program error: 0x"
	idx := strings.Index(strings.ToLower(msg), marker)
	if idx < 0 {
		return 0, false
	}
	hex := strings.ToLower(msg)[idx+len(marker):]
	end := 0
	for end < len(hex) && isHexDigit(hex[end]) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	var code int
	if _, err := fmt.Sscanf(hex[:end], "%x", &code); err != nil {
		return 0, false
	}
	return code, true
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')
}
