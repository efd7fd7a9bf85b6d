// Package quotemgr is the consumer-side wrapper around route
// resolution: it debounces rapid parameter changes, caches and
// deduplicates lookups, retries transient failures, and cancels
// superseded requests.
package quotemgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"solana-swap-engine/internal/cache"
	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/domain"
)

// ResolveFunc is the network boundary being wrapped, typically the
// route endpoint of a swap engine instance.
type ResolveFunc func(ctx context.Context, req domain.QuoteRequest) (domain.RouteDecision, error)

// State is the observable phase of the latest request.
type State string

const (
	StateIdle     State = "idle"
	StateDebounce State = "debouncing"
	StateRetrying State = "retrying"
	StateResolved State = "resolved"
	StateError    State = "error"
)

// Update is one state transition delivered to the caller. Decision is
// set for StateResolved, Err for StateError, Attempt for StateRetrying.
type Update struct {
	State    State
	Decision *domain.RouteDecision
	Err      error
	Attempt  int
}

// Manager drives quote resolution for a single interactive consumer.
// A new Request supersedes the previous one: its debounce timer stops
// and its in-flight call is cancelled.
type Manager struct {
	resolve ResolveFunc
	cfg     config.QuoteManager
	cache   *cache.TTLCache[string, domain.RouteDecision]
	dedupe  *cache.Deduper[string, domain.RouteDecision]
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	generation int
	cancelPrev context.CancelFunc
}

// New builds a manager over resolve.
func New(resolve ResolveFunc, cfg config.QuoteManager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		resolve: resolve,
		cfg:     cfg,
		cache:   cache.NewTTL[string, domain.RouteDecision](),
		dedupe:  cache.NewDeduper[string, domain.RouteDecision](),
		logger:  logger,
		state:   StateIdle,
	}
}

// State returns the phase of the most recent request.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Request schedules a resolution for req after the debounce interval
// and returns a channel of state updates. The channel closes after the
// terminal update. Any prior request is cancelled immediately.
func (m *Manager) Request(ctx context.Context, req domain.QuoteRequest) <-chan Update {
	updates := make(chan Update, 4)

	m.mu.Lock()
	if m.cancelPrev != nil {
		m.cancelPrev()
	}
	m.generation++
	gen := m.generation
	runCtx, cancel := context.WithCancel(ctx)
	m.cancelPrev = cancel
	m.state = StateDebounce
	m.mu.Unlock()

	go m.run(runCtx, gen, req, updates)
	return updates
}

// Cancel aborts the in-flight request, if any.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelPrev != nil {
		m.cancelPrev()
		m.cancelPrev = nil
	}
	m.state = StateIdle
}

func (m *Manager) run(ctx context.Context, gen int, req domain.QuoteRequest, updates chan<- Update) {
	defer close(updates)

	if m.cfg.Debounce > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.Debounce):
		}
	}

	key := req.CacheKey()
	if decision, ok := m.cache.Get(key); ok {
		m.finish(gen, updates, Update{State: StateResolved, Decision: &decision})
		return
	}

	decision, err := m.dedupe.Do(ctx, key, func() (domain.RouteDecision, error) {
		return m.resolveWithRetry(ctx, gen, req, updates)
	})
	if err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
		// Joined an identical in-flight call whose owner was
		// superseded before it finished; resolve on our own context.
		decision, err = m.resolveWithRetry(ctx, gen, req, updates)
	}
	if err != nil {
		if ctx.Err() != nil {
			return // superseded or aborted; no terminal update
		}
		m.finish(gen, updates, Update{State: StateError, Err: err})
		return
	}

	m.cache.Set(key, decision, m.cfg.CacheTTL)
	m.finish(gen, updates, Update{State: StateResolved, Decision: &decision})
}

// resolveWithRetry retries transient failures with a fixed backoff.
// Deterministic failures surface on the first attempt.
func (m *Manager) resolveWithRetry(ctx context.Context, gen int, req domain.QuoteRequest, updates chan<- Update) (domain.RouteDecision, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			m.transition(gen, updates, Update{State: StateRetrying, Attempt: attempt})
			select {
			case <-ctx.Done():
				return domain.RouteDecision{}, ctx.Err()
			case <-time.After(m.cfg.RetryBackoff):
			}
		}
		decision, err := m.resolve(ctx, req)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		if !domain.CodeOf(err).Retryable() {
			return domain.RouteDecision{}, err
		}
		m.logger.Debug("quote resolution failed, will retry", "attempt", attempt, "err", err)
	}
	return domain.RouteDecision{}, lastErr
}

// transition publishes a non-terminal update if this run is current.
func (m *Manager) transition(gen int, updates chan<- Update, u Update) {
	m.mu.Lock()
	current := gen == m.generation
	if current {
		m.state = u.State
	}
	m.mu.Unlock()
	if current {
		select {
		case updates <- u:
		default: // a slow consumer never blocks resolution
		}
	}
}

// finish publishes the terminal update.
func (m *Manager) finish(gen int, updates chan<- Update, u Update) {
	m.mu.Lock()
	if gen == m.generation {
		m.state = u.State
	}
	m.mu.Unlock()
	updates <- u
}
