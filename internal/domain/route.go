package domain

import (
	"math/big"
	"time"
)

// Route identifies the liquidity venue chosen for a swap.
type Route string

// Route values.
const (
	RouteAggregator Route = "aggregator"
	RouteCurve      Route = "curve"
	RouteNone       Route = "none"
)

// NoRouteReason explains why a resolution produced RouteNone.
type NoRouteReason string

// NoRouteReason values.
const (
	ReasonNoRoute       NoRouteReason = "no-route"
	ReasonUpstreamError NoRouteReason = "upstream-error"
	ReasonTimeout       NoRouteReason = "timeout"
)

// QuoteRequest is the four-tuple identifying a route resolution.
// It doubles as the cache key for RouteDecision entries.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      *big.Int // base units
	SlippageBps int
}

// CacheKey returns the canonical cache/dedupe key for this request.
func (r QuoteRequest) CacheKey() string {
	amount := "0"
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	return r.InputMint + "|" + r.OutputMint + "|" + amount + "|" + itoa(r.SlippageBps)
}

// FeeStatus describes how the platform fee was resolved for a decision.
type FeeStatus string

// FeeStatus values.
const (
	FeeApplied    FeeStatus = "applied"
	FeeOmitted    FeeStatus = "omitted"
	FeeDisabled   FeeStatus = "disabled"
	FeeNotChecked FeeStatus = "not-checked"
)

// RouteDecision is the immutable outcome of a route resolution.
// Quote is set for aggregator routes; CurveMeta for curve routes.
// A curve decision taken on inconclusive detection may additionally
// carry FallbackQuote as a best-effort aggregator alternative.
type RouteDecision struct {
	Route         Route
	Reason        NoRouteReason // set only when Route is RouteNone
	Quote         *AggregatorQuote
	CurveMeta     *CurveMeta
	FallbackQuote *AggregatorQuote
	FeeStatus     FeeStatus
	FeeAccount    string // resolved platform fee token account, if any
	ResolvedAt    time.Time
}

// AggregatorQuote is an upstream aggregator quote, kept verbatim enough
// to be replayed into a build request.
type AggregatorQuote struct {
	InputMint            string          `json:"inputMint"`
	InAmount             string          `json:"inAmount"`
	OutputMint           string          `json:"outputMint"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PlatformFee          *PlatformFee    `json:"platformFee,omitempty"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []RoutePlanStep `json:"routePlan"`
	ContextSlot          int64           `json:"contextSlot"`
}

// PlatformFee is the fee block embedded in an aggregator quote.
type PlatformFee struct {
	Amount string `json:"amount"`
	FeeBps int    `json:"feeBps"`
}

// RoutePlanStep is one hop of an aggregator route plan.
type RoutePlanStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
}

// SwapInfo describes a single AMM hop.
type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// CurveState is the tri-state outcome of bonding-curve detection.
type CurveState string

// CurveState values.
const (
	// CurveActive means the mint is confirmed trading on the bonding curve.
	CurveActive CurveState = "active"
	// CurveGraduated means the curve completed and liquidity migrated.
	CurveGraduated CurveState = "graduated"
	// CurveNotCurve means the mint is confirmed not a curve token.
	CurveNotCurve CurveState = "not-curve"
	// CurveUnknown means detection was inconclusive (timeout, upstream error).
	CurveUnknown CurveState = "unknown"
)

// CurveMeta is a cached bonding-curve detection result for a mint.
type CurveMeta struct {
	Mint       string
	State      CurveState
	ObservedAt time.Time
}

// IsCurveToken reports whether the mint is (or may be) a curve token.
// Unknown maps to true: inconclusive detection fails open to the curve
// route so a live curve trade is never blocked by a flaky detector.
func (m CurveMeta) IsCurveToken() bool {
	return m.State == CurveActive || m.State == CurveGraduated || m.State == CurveUnknown
}

// IsActive reports whether the curve is confirmed still trading.
func (m CurveMeta) IsActive() bool { return m.State == CurveActive }

// IsGraduated reports whether the curve is confirmed completed.
func (m CurveMeta) IsGraduated() bool { return m.State == CurveGraduated }
