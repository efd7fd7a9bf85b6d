// Package builder produces unsigned transactions for whichever route the
// resolver chose, including priority-fee and platform-fee resolution and
// the curve-to-aggregator fallback path.
package builder

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/curve"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/jupiter"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/solana"
)

// Curve tokens mint with 6 decimals; SOL has 9.
const (
	solDecimals   = 9
	curveDecimals = 6
)

// AggregatorAPI is the aggregator surface the builder needs.
type AggregatorAPI interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount *big.Int, slippageBps int) (*domain.AggregatorQuote, error)
	BuildSwap(ctx context.Context, req jupiter.BuildRequest) (*jupiter.BuildResponse, error)
}

// CurveAPI is the curve venue surface the builder needs.
type CurveAPI interface {
	BuildTrade(ctx context.Context, req curve.TradeRequest) (*curve.TradeResponse, error)
}

// FeeResolver resolves the optional platform-fee account.
type FeeResolver interface {
	Enabled() bool
	Resolve(ctx context.Context, mint string) (string, domain.FeeStatus)
}

// DetectionInvalidator clears a stale curve-detection cache entry.
type DetectionInvalidator interface {
	InvalidateDetection(mint string)
}

// Builder assembles unsigned transactions. It keeps no state beyond its
// collaborators: every build is a pure request/response exchange with
// the upstream venues.
type Builder struct {
	aggregator  AggregatorAPI
	curve       CurveAPI
	rpc         solana.RPCClient
	fees        FeeResolver
	invalidator DetectionInvalidator
	feeCfg      config.Fees
	simulate    bool
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New wires a builder. fees, invalidator and metrics may be nil.
func New(aggregator AggregatorAPI, curveAPI CurveAPI, rpc solana.RPCClient, fees FeeResolver, invalidator DetectionInvalidator, feeCfg config.Fees, simulate bool, logger *slog.Logger, metrics *observability.Metrics) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		aggregator:  aggregator,
		curve:       curveAPI,
		rpc:         rpc,
		fees:        fees,
		invalidator: invalidator,
		feeCfg:      feeCfg,
		simulate:    simulate,
		logger:      logger,
		metrics:     metrics,
	}
}

// AggregatorRequest are the caller parameters for an aggregator build.
type AggregatorRequest struct {
	Quote          *domain.AggregatorQuote
	Signer         string
	SpeedMode      domain.SpeedMode
	PriorityFeeCap uint64 // lamports; 0 means mode cap only
	WrapSol        bool
}

// BuildAggregator builds the aggregator-route transaction. A failing
// platform-fee account triggers exactly one fee-free rebuild on a fresh
// quote, with the substitution surfaced on the result.
func (b *Builder) BuildAggregator(ctx context.Context, req AggregatorRequest) (domain.UnsignedTransaction, error) {
	if req.Quote == nil || req.Signer == "" {
		return domain.UnsignedTransaction{}, domain.Errorf(domain.CodeBadRequest, "aggregator build requires quote and signer")
	}

	priorityFee := b.feeCfg.PriorityFee(req.SpeedMode, req.PriorityFeeCap)

	feeAccount := ""
	feeStatus := domain.FeeDisabled
	if b.fees != nil && b.fees.Enabled() {
		feeAccount, feeStatus = b.fees.Resolve(ctx, req.Quote.OutputMint)
	}

	quote := req.Quote
	if feeAccount == "" {
		// No fee account this time around: a reused quote may still
		// carry fee parameters from its original fetch, and the swap
		// program rejects that mismatch.
		quote = jupiter.StripPlatformFee(quote)
	}

	built, err := b.aggregator.BuildSwap(ctx, jupiter.BuildRequest{
		Quote:                    quote,
		UserPublicKey:            req.Signer,
		WrapAndUnwrapSol:         req.WrapSol,
		FeeAccount:               feeAccount,
		PriorityFeeLamports:      priorityFee,
		DynamicComputeUnitLimit:  true,
		SkipUserAccountsRPCCalls: true,
	})
	fellBackFeeless := false
	if err != nil && feeAccount != "" && jupiter.IsFeeAccountError(err) {
		b.logger.Warn("fee account rejected, rebuilding without platform fee", "err", err)
		built, err = b.rebuildWithoutFee(ctx, req, priorityFee)
		fellBackFeeless = true
	}
	if err != nil {
		b.countBuild(domain.RouteAggregator, "error")
		return domain.UnsignedTransaction{}, domain.NewError(domain.CodeBuildFailed, "aggregator build failed", err)
	}

	raw, err := base64.StdEncoding.DecodeString(built.SwapTransaction)
	if err != nil {
		b.countBuild(domain.RouteAggregator, "error")
		return domain.UnsignedTransaction{}, domain.NewError(domain.CodeBuildFailed, "decode swap transaction", err)
	}

	tx := domain.NewUnsignedTransaction(raw, domain.RouteAggregator)
	tx.LastValidBlockHeight = built.LastValidBlockHeight
	tx.PriorityFeeApplied = priorityFee
	if fellBackFeeless {
		tx.FeeOmitted = true
		tx.FallbackReason = "fee-account-rejected"
	} else {
		tx.FeeAccount = feeAccount
	}
	b.countBuild(domain.RouteAggregator, "ok")
	b.countFee(feeStatus, fellBackFeeless)
	return tx, nil
}

// rebuildWithoutFee refetches a fee-free quote and retries the build
// once without a fee account.
func (b *Builder) rebuildWithoutFee(ctx context.Context, req AggregatorRequest, priorityFee uint64) (*jupiter.BuildResponse, error) {
	amount, ok := new(big.Int).SetString(req.Quote.InAmount, 10)
	if !ok {
		return nil, fmt.Errorf("reused quote has bad inAmount %q", req.Quote.InAmount)
	}
	fresh, err := b.aggregator.Quote(ctx, req.Quote.InputMint, req.Quote.OutputMint, amount, req.Quote.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("fee-free requote: %w", err)
	}
	return b.aggregator.BuildSwap(ctx, jupiter.BuildRequest{
		Quote:                    jupiter.StripPlatformFee(fresh),
		UserPublicKey:            req.Signer,
		WrapAndUnwrapSol:         req.WrapSol,
		PriorityFeeLamports:      priorityFee,
		DynamicComputeUnitLimit:  true,
		SkipUserAccountsRPCCalls: true,
	})
}

// CurveRequest are the caller parameters for a curve build.
type CurveRequest struct {
	Signer         string
	Mint           string
	Side           curve.TradeSide
	UIAmount       decimal.Decimal
	SpeedMode      domain.SpeedMode
	PriorityFeeCap uint64
	SlippageBps    int
}

// BuildCurve builds the curve-route transaction. The known state-moved
// program errors (curve complete, reserves exhausted, stale curve state)
// clear the detection cache entry and fall back to an aggregator build
// with identical caller parameters.
func (b *Builder) BuildCurve(ctx context.Context, req CurveRequest) (domain.UnsignedTransaction, error) {
	if req.Signer == "" || req.Mint == "" {
		return domain.UnsignedTransaction{}, domain.Errorf(domain.CodeBadRequest, "curve build requires signer and mint")
	}
	if req.UIAmount.Sign() <= 0 {
		return domain.UnsignedTransaction{}, domain.Errorf(domain.CodeBadRequest, "curve build requires a positive amount")
	}

	priorityFee := b.feeCfg.PriorityFee(req.SpeedMode, req.PriorityFeeCap)

	trade, err := b.curve.BuildTrade(ctx, curve.TradeRequest{
		PublicKey:           req.Signer,
		Action:              req.Side,
		Mint:                req.Mint,
		Amount:              req.UIAmount,
		DenominatedInSol:    req.Side == curve.SideBuy,
		SlippageBps:         req.SlippageBps,
		PriorityFeeLamports: priorityFee,
	})
	if err != nil {
		if curve.IsFallbackError(err) {
			return b.fallbackToAggregator(ctx, req, err.Error())
		}
		b.countBuild(domain.RouteCurve, "error")
		return domain.UnsignedTransaction{}, domain.NewError(domain.CodeBuildFailed, "curve build failed", err)
	}

	raw, err := base64.StdEncoding.DecodeString(trade.Transaction)
	if err != nil {
		b.countBuild(domain.RouteCurve, "error")
		return domain.UnsignedTransaction{}, domain.NewError(domain.CodeBuildFailed, "decode trade transaction", err)
	}

	if b.simulate && b.rpc != nil {
		if tx, ferr, handled := b.simulateCurve(ctx, req, trade.Transaction); handled {
			return tx, ferr
		}
	}

	tx := domain.NewUnsignedTransaction(raw, domain.RouteCurve)
	tx.LastValidBlockHeight = trade.LastValidBlockHeight
	tx.PriorityFeeApplied = priorityFee
	b.countBuild(domain.RouteCurve, "ok")
	return tx, nil
}

// simulateCurve runs the built trade through simulation. handled is true
// when the caller should return (tx, err) instead of the plain build:
// either the simulation exposed a fallback program error, or it failed
// outright.
func (b *Builder) simulateCurve(ctx context.Context, req CurveRequest, txBase64 string) (domain.UnsignedTransaction, error, bool) {
	sim, err := b.rpc.SimulateTransaction(ctx, txBase64)
	if err != nil {
		// Simulation is advisory; an unreachable simulator must not
		// block a valid build.
		b.logger.Debug("curve simulation unavailable", "err", err)
		return domain.UnsignedTransaction{}, nil, false
	}
	if !sim.Failed() {
		return domain.UnsignedTransaction{}, nil, false
	}

	if code, ok := simulationErrorCode(sim); ok && curve.FallbackCode(code) {
		tx, ferr := b.fallbackToAggregator(ctx, req, fmt.Sprintf("simulation: curve program error %d", code))
		return tx, ferr, true
	}
	b.countBuild(domain.RouteCurve, "simulation-failed")
	return domain.UnsignedTransaction{}, domain.Errorf(domain.CodeSimulationFailed, "curve simulation failed: %v", sim.Err), true
}

// fallbackToAggregator rebuilds the trade through the aggregator with
// the same caller parameters and marks the substitution.
func (b *Builder) fallbackToAggregator(ctx context.Context, req CurveRequest, reason string) (domain.UnsignedTransaction, error) {
	if b.invalidator != nil {
		b.invalidator.InvalidateDetection(req.Mint)
	}
	if b.metrics != nil {
		b.metrics.CurveFallbacks.Inc()
	}
	b.logger.Info("curve build falling back to aggregator", "mint", req.Mint, "reason", reason)

	inputMint, outputMint := domain.WSOL, req.Mint
	amount := baseUnits(req.UIAmount, solDecimals)
	if req.Side == curve.SideSell {
		inputMint, outputMint = req.Mint, domain.WSOL
		amount = baseUnits(req.UIAmount, curveDecimals)
	}

	quote, err := b.aggregator.Quote(ctx, inputMint, outputMint, amount, req.SlippageBps)
	if err != nil {
		return domain.UnsignedTransaction{}, domain.NewError(domain.CodeBuildFailed, "aggregator fallback quote failed", err)
	}

	tx, err := b.BuildAggregator(ctx, AggregatorRequest{
		Quote:          quote,
		Signer:         req.Signer,
		SpeedMode:      req.SpeedMode,
		PriorityFeeCap: req.PriorityFeeCap,
		WrapSol:        true,
	})
	if err != nil {
		return domain.UnsignedTransaction{}, err
	}
	tx.FallbackReason = reason
	return tx, nil
}

var customCodeRe = regexp.MustCompile(`Custom["':\s]+(\d+)`)

// simulationErrorCode digs the custom program error code out of a
// simulation error, which arrives as loosely typed JSON.
func simulationErrorCode(sim *solana.SimulationResult) (int, bool) {
	if sim == nil || sim.Err == nil {
		return 0, false
	}
	if m := customCodeRe.FindStringSubmatch(fmt.Sprint(sim.Err)); m != nil {
		code, err := strconv.Atoi(m[1])
		if err == nil {
			return code, true
		}
	}
	return 0, false
}

func baseUnits(ui decimal.Decimal, decimals int) *big.Int {
	return ui.Shift(int32(decimals)).Truncate(0).BigInt()
}

func (b *Builder) countBuild(route domain.Route, result string) {
	if b.metrics != nil {
		b.metrics.BuildsTotal.WithLabelValues(string(route), result).Inc()
	}
}

func (b *Builder) countFee(status domain.FeeStatus, omitted bool) {
	if b.metrics == nil {
		return
	}
	if omitted {
		status = domain.FeeOmitted
	}
	b.metrics.FeeResolutions.WithLabelValues(string(status)).Inc()
}
