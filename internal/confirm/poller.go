// Package confirm reconciles a submitted signature against multiple
// independent status sources until it lands, fails, or runs out of
// budget.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/race"
	"solana-swap-engine/internal/solana"
)

// StatusSource answers signature-status queries. Implementations must
// return (nil, nil) when the signature is simply not visible yet.
type StatusSource interface {
	Name() string
	Status(ctx context.Context, signature string, searchHistory bool) (*solana.SignatureStatus, error)
}

type rpcSource struct {
	name string
	rpc  solana.RPCClient
}

// RPCSource adapts an RPC client into a StatusSource.
func RPCSource(name string, rpc solana.RPCClient) StatusSource {
	return &rpcSource{name: name, rpc: rpc}
}

func (s *rpcSource) Name() string { return s.name }

func (s *rpcSource) Status(ctx context.Context, signature string, searchHistory bool) (*solana.SignatureStatus, error) {
	statuses, err := s.rpc.GetSignatureStatuses(ctx, searchHistory, signature)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	return statuses[0], nil
}

// SignatureWaiter is the push-based status channel, typically a
// websocket subscription.
type SignatureWaiter interface {
	WaitSignature(ctx context.Context, signature string) (*solana.SignatureStatus, error)
}

// Rebroadcaster resubmits signed bytes through plain RPC destinations.
type Rebroadcaster interface {
	Rebroadcast(ctx context.Context, signedBytes []byte) error
}

// Request describes one confirmation job.
type Request struct {
	Signature      string
	Route          domain.Route
	ViaAccelerator bool
	// SignedBytes enables per-tick rebroadcast on the plain-RPC path.
	SignedBytes []byte
}

// Poller polls all sources on a fixed tick and returns the first
// definitive outcome.
type Poller struct {
	sources       []StatusSource
	waiter        SignatureWaiter
	rebroadcaster Rebroadcaster
	cfg           config.Confirm
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// New builds a poller. waiter, rebroadcaster and metrics may be nil.
func New(sources []StatusSource, waiter SignatureWaiter, rebroadcaster Rebroadcaster, cfg config.Confirm, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		sources:       sources,
		waiter:        waiter,
		rebroadcaster: rebroadcaster,
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
	}
}

var errNoStatus = errors.New("signature not visible yet")

// Await polls until the signature lands, fails on chain, or the route's
// wall-clock budget runs out. Budget exhaustion triggers exactly one
// final delayed check with historical search before giving up.
func (p *Poller) Await(ctx context.Context, req Request) (domain.ConfirmationStatus, error) {
	if req.Signature == "" {
		return domain.ConfirmationStatus{}, domain.Errorf(domain.CodeBadRequest, "await requires a signature")
	}
	if len(p.sources) == 0 {
		return domain.ConfirmationStatus{}, domain.Errorf(domain.CodeBadRequest, "no status sources configured")
	}

	budget := p.cfg.Budget
	if req.Route == domain.RouteCurve && p.cfg.CurveBudget > 0 {
		budget = p.cfg.CurveBudget
	}
	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	wsCh := p.startWaiter(pollCtx, req.Signature)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-pollCtx.Done():
			return p.finalCheck(ctx, req, start)
		case st := <-wsCh:
			p.observe(start, st)
			return statusOf(st), nil
		case <-ticker.C:
		}

		p.maybeRebroadcast(pollCtx, req)

		st, found := p.pollOnce(pollCtx, req.Signature, false)
		polls++
		if found {
			p.observe(start, st)
			return statusOf(st), nil
		}

		if p.dropoutFired(req.Route, polls, start) {
			p.outcome("dropped")
			p.logger.Info("declaring likely dropped", "signature", req.Signature, "polls", polls)
			return domain.ConfirmationStatus{LikelyDropped: true}, nil
		}
	}
}

// pollOnce races all sources; the first non-nil status wins. found is
// false when every source came back empty or errored.
func (p *Poller) pollOnce(ctx context.Context, signature string, searchHistory bool) (*solana.SignatureStatus, bool) {
	attempts := make([]race.Attempt[*solana.SignatureStatus], 0, len(p.sources))
	for _, src := range p.sources {
		src := src
		attempts = append(attempts, race.Attempt[*solana.SignatureStatus]{
			Label: src.Name(),
			Run: func(ctx context.Context) (*solana.SignatureStatus, error) {
				st, err := src.Status(ctx, signature, searchHistory)
				if err != nil {
					return nil, err
				}
				if st == nil {
					return nil, errNoStatus
				}
				return st, nil
			},
		})
	}
	res, err := race.First(ctx, attempts)
	if err != nil {
		return nil, false
	}
	return res.Value, true
}

// finalCheck runs the single post-budget historical check. The parent
// context still bounds it, so a caller cancellation skips it.
func (p *Poller) finalCheck(ctx context.Context, req Request, start time.Time) (domain.ConfirmationStatus, error) {
	select {
	case <-ctx.Done():
		p.outcome("cancelled")
		return domain.ConfirmationStatus{}, ctx.Err()
	case <-time.After(p.cfg.FinalCheckDelay):
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.PollInterval*4+time.Second)
	defer cancel()
	if st, found := p.pollOnce(checkCtx, req.Signature, true); found {
		p.observe(start, st)
		return statusOf(st), nil
	}

	p.outcome("timeout")
	return domain.ConfirmationStatus{}, nil
}

func (p *Poller) startWaiter(ctx context.Context, signature string) <-chan *solana.SignatureStatus {
	if p.waiter == nil {
		return nil
	}
	ch := make(chan *solana.SignatureStatus, 1)
	go func() {
		st, err := p.waiter.WaitSignature(ctx, signature)
		if err != nil || st == nil {
			return // the poll loop is the fallback
		}
		ch <- st
	}()
	return ch
}

// maybeRebroadcast nudges the transaction on the plain-RPC path. The
// accelerator path already fans out on its own.
func (p *Poller) maybeRebroadcast(ctx context.Context, req Request) {
	if req.ViaAccelerator || p.rebroadcaster == nil || len(req.SignedBytes) == 0 {
		return
	}
	if err := p.rebroadcaster.Rebroadcast(ctx, req.SignedBytes); err != nil {
		p.logger.Debug("rebroadcast failed", "signature", req.Signature, "err", err)
	}
}

func (p *Poller) dropoutFired(route domain.Route, polls int, start time.Time) bool {
	if route != domain.RouteCurve || p.cfg.DropoutPolls <= 0 {
		return false
	}
	return polls >= p.cfg.DropoutPolls && time.Since(start) >= p.cfg.DropoutWindow
}

// statusOf maps a node status into the reconciled view.
func statusOf(st *solana.SignatureStatus) domain.ConfirmationStatus {
	out := domain.ConfirmationStatus{}
	if st == nil {
		return out
	}
	if st.Err != nil {
		out.Err = fmt.Sprint(st.Err)
	}
	switch st.ConfirmationStatus {
	case "finalized":
		out.Finalized, out.Confirmed, out.Processed = true, true, true
	case "confirmed":
		out.Confirmed, out.Processed = true, true
	case "processed":
		out.Processed = true
	}
	return out
}

func (p *Poller) observe(start time.Time, st *solana.SignatureStatus) {
	if p.metrics == nil {
		return
	}
	p.metrics.ConfirmLatency.Observe(time.Since(start).Seconds())
	if st != nil && st.Err != nil {
		p.outcome("failed")
		return
	}
	p.outcome("landed")
}

func (p *Poller) outcome(name string) {
	if p.metrics != nil {
		p.metrics.ConfirmOutcomes.WithLabelValues(name).Inc()
	}
}
