// Package router decides which liquidity venue serves a swap: the
// off-chain aggregator, the bonding-curve venue, or none.
package router

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"time"

	"solana-swap-engine/internal/cache"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/jupiter"
	"solana-swap-engine/internal/observability"
)

// AggregatorClient is the aggregator surface the resolver needs.
type AggregatorClient interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount *big.Int, slippageBps int) (*domain.AggregatorQuote, error)
}

// CurveDetector resolves bonding-curve state for a mint.
type CurveDetector interface {
	Detect(ctx context.Context, mint string) domain.CurveMeta
}

// FeeResolver resolves the optional platform-fee account.
type FeeResolver interface {
	Enabled() bool
	Resolve(ctx context.Context, mint string) (string, domain.FeeStatus)
}

// Options are the resolver's cache TTL policies.
type Options struct {
	RouteTTL     time.Duration // decision cache, short: prices move
	DetectionTTL time.Duration // confirmed detection results
	UnknownTTL   time.Duration // inconclusive detection results
	DetectBudget time.Duration // upper bound on one detection call
}

// DefaultOptions returns the standard TTL policy.
func DefaultOptions() Options {
	return Options{
		RouteTTL:     1500 * time.Millisecond,
		DetectionTTL: 10 * time.Minute,
		UnknownTTL:   5 * time.Second,
		DetectBudget: 3 * time.Second,
	}
}

// Resolver picks the route for a swap request. It never returns an
// error: failures become RouteNone decisions with a reason code.
type Resolver struct {
	aggregator AggregatorClient
	detector   CurveDetector
	fees       FeeResolver
	opts       Options

	decisions  *cache.TTLCache[string, domain.RouteDecision]
	detections *cache.TTLCache[string, domain.CurveMeta]
	inflight   *cache.Deduper[string, domain.CurveMeta]

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewResolver wires a resolver. fees and metrics may be nil.
func NewResolver(aggregator AggregatorClient, detector CurveDetector, fees FeeResolver, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		aggregator: aggregator,
		detector:   detector,
		fees:       fees,
		opts:       opts,
		decisions:  cache.NewTTL[string, domain.RouteDecision](),
		detections: cache.NewTTL[string, domain.CurveMeta](),
		inflight:   cache.NewDeduper[string, domain.CurveMeta](),
		logger:     logger,
		metrics:    metrics,
	}
}

// StartPruning runs scheduled sweeps on both caches until ctx is done.
func (r *Resolver) StartPruning(ctx context.Context, interval time.Duration) {
	r.decisions.StartPruning(ctx, interval)
	r.detections.StartPruning(ctx, interval)
}

// Resolve picks the venue for req per the routing algorithm: cached
// decision, curve-shape heuristic, deduplicated detection with fail-open
// policy, aggregator quote with optional platform fee, and a curve
// last-resort when the aggregator reports no liquidity.
func (r *Resolver) Resolve(ctx context.Context, req domain.QuoteRequest) domain.RouteDecision {
	key := req.CacheKey()
	if decision, ok := r.decisions.Get(key); ok {
		r.countCache(true)
		return decision
	}
	r.countCache(false)

	decision := r.resolve(ctx, req)
	r.decisions.Set(key, decision, r.opts.RouteTTL)
	r.countDecision(decision)
	return decision
}

func (r *Resolver) resolve(ctx context.Context, req domain.QuoteRequest) domain.RouteDecision {
	target := nonNativeLeg(req)

	if LooksCurveShaped(target) {
		meta := r.detectCurve(ctx, target)
		switch meta.State {
		case domain.CurveActive:
			return domain.RouteDecision{
				Route:      domain.RouteCurve,
				CurveMeta:  &meta,
				FeeStatus:  domain.FeeNotChecked,
				ResolvedAt: time.Now(),
			}
		case domain.CurveGraduated, domain.CurveNotCurve:
			// Confirmed off-curve: the aggregator owns this pair now.
		case domain.CurveUnknown:
			// Fail open: route to the curve speculatively, but attach a
			// best-effort aggregator quote so the caller has a way out.
			decision := domain.RouteDecision{
				Route:      domain.RouteCurve,
				CurveMeta:  &meta,
				FeeStatus:  domain.FeeNotChecked,
				ResolvedAt: time.Now(),
			}
			if quote, err := r.aggregator.Quote(ctx, req.InputMint, req.OutputMint, req.Amount, req.SlippageBps); err == nil {
				decision.FallbackQuote = quote
			} else {
				r.logger.Debug("fallback quote unavailable", "mint", target, "err", err)
			}
			return decision
		}
	}

	return r.resolveAggregator(ctx, req, target)
}

func (r *Resolver) resolveAggregator(ctx context.Context, req domain.QuoteRequest, target string) domain.RouteDecision {
	quote, err := r.aggregator.Quote(ctx, req.InputMint, req.OutputMint, req.Amount, req.SlippageBps)
	if err != nil {
		if errors.Is(err, jupiter.ErrNoRoute) {
			// Last resort: a curve-shaped mint the aggregator cannot
			// serve may still be live on the curve.
			if LooksCurveShaped(target) {
				meta := r.detectCurve(ctx, target)
				if meta.State == domain.CurveActive || meta.State == domain.CurveUnknown {
					return domain.RouteDecision{
						Route:      domain.RouteCurve,
						CurveMeta:  &meta,
						FeeStatus:  domain.FeeNotChecked,
						ResolvedAt: time.Now(),
					}
				}
			}
			return noneDecision(domain.ReasonNoRoute)
		}
		return noneDecision(classify(err))
	}

	decision := domain.RouteDecision{
		Route:      domain.RouteAggregator,
		Quote:      quote,
		FeeStatus:  domain.FeeDisabled,
		ResolvedAt: time.Now(),
	}
	if r.fees != nil && r.fees.Enabled() {
		decision.FeeAccount, decision.FeeStatus = r.fees.Resolve(ctx, req.OutputMint)
	}
	return decision
}

// detectCurve returns the cached detection for mint or runs one deduped
// detection call. The call gets its own context: server-side dedupe has
// no cancellation, a started detection runs to completion and every
// waiter shares its outcome.
func (r *Resolver) detectCurve(ctx context.Context, mint string) domain.CurveMeta {
	if meta, ok := r.detections.Get(mint); ok {
		return meta
	}

	if r.metrics != nil && r.inflight.Inflight() > 0 {
		r.metrics.DedupeJoins.Inc()
	}
	meta, err := r.inflight.Do(ctx, mint, func() (domain.CurveMeta, error) {
		detectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.DetectBudget)
		defer cancel()
		return r.detector.Detect(detectCtx, mint), nil
	})
	if err != nil {
		// Only a waiter's own context can fail here; treat as unknown.
		return domain.CurveMeta{Mint: mint, State: domain.CurveUnknown, ObservedAt: time.Now()}
	}

	ttl := r.opts.DetectionTTL
	if meta.State == domain.CurveUnknown {
		// Inconclusive answers stay cached only briefly so the next
		// request re-probes instead of trusting a flaky negative.
		ttl = r.opts.UnknownTTL
	}
	r.detections.Set(mint, meta, ttl)
	return meta
}

// InvalidateDetection drops the cached curve state for mint. The builder
// calls this when a curve build fails with a state-moved program error.
func (r *Resolver) InvalidateDetection(mint string) {
	r.detections.Delete(mint)
}

// LooksCurveShaped is the cheap string-shape heuristic guessing whether
// a mint originated on the curve venue. Curve mints are vanity-ground to
// end in the venue suffix.
func LooksCurveShaped(mint string) bool {
	if len(mint) < 32 || len(mint) > 44 {
		return false
	}
	return len(mint) >= 4 && mint[len(mint)-4:] == "pump"
}

// nonNativeLeg returns whichever side of the pair is not wrapped SOL.
func nonNativeLeg(req domain.QuoteRequest) string {
	if req.OutputMint != domain.WSOL {
		return req.OutputMint
	}
	return req.InputMint
}

func noneDecision(reason domain.NoRouteReason) domain.RouteDecision {
	return domain.RouteDecision{
		Route:      domain.RouteNone,
		Reason:     reason,
		FeeStatus:  domain.FeeNotChecked,
		ResolvedAt: time.Now(),
	}
}

// classify maps an upstream failure to a none-reason.
func classify(err error) domain.NoRouteReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ReasonTimeout
	}
	return domain.ReasonUpstreamError
}

func (r *Resolver) countCache(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.RouteCacheHits.Inc()
	} else {
		r.metrics.RouteCacheMisses.Inc()
	}
}

func (r *Resolver) countDecision(d domain.RouteDecision) {
	if r.metrics == nil {
		return
	}
	r.metrics.RouteResolutions.WithLabelValues(string(d.Route), string(d.Reason)).Inc()
}
