package quotemgr

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/domain"
)

func testQuoteReq(outputMint string) domain.QuoteRequest {
	return domain.QuoteRequest{
		InputMint:   domain.WSOL,
		OutputMint:  outputMint,
		Amount:      big.NewInt(1_000_000_000),
		SlippageBps: 50,
	}
}

func testMgrCfg() config.QuoteManager {
	return config.QuoteManager{
		Debounce:     5 * time.Millisecond,
		CacheTTL:     500 * time.Millisecond,
		RetryBackoff: 5 * time.Millisecond,
		MaxRetries:   3,
	}
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []domain.QuoteRequest
	errs  []error // consumed per call; nil entry or exhaustion means success
	delay time.Duration
}

func (f *fakeResolver) resolve(ctx context.Context, req domain.QuoteRequest) (domain.RouteDecision, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return domain.RouteDecision{}, err
	}
	return domain.RouteDecision{
		Route: domain.RouteAggregator,
		Quote: &domain.AggregatorQuote{InputMint: req.InputMint, OutputMint: req.OutputMint},
	}, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func collect(t *testing.T, updates <-chan Update) []Update {
	t.Helper()
	var out []Update
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-deadline:
			t.Fatal("updates channel never closed")
		}
	}
}

func terminal(t *testing.T, updates []Update) Update {
	t.Helper()
	require.NotEmpty(t, updates)
	return updates[len(updates)-1]
}

func TestRequest_ResolvesAfterDebounce(t *testing.T) {
	r := &fakeResolver{}
	m := New(r.resolve, testMgrCfg(), nil)

	got := collect(t, m.Request(context.Background(), testQuoteReq(domain.USDC)))

	final := terminal(t, got)
	assert.Equal(t, StateResolved, final.State)
	require.NotNil(t, final.Decision)
	assert.Equal(t, domain.RouteAggregator, final.Decision.Route)
	assert.Equal(t, 1, r.callCount())
	assert.Equal(t, StateResolved, m.State())
}

func TestRequest_RapidChangesCollapseToLast(t *testing.T) {
	r := &fakeResolver{}
	m := New(r.resolve, testMgrCfg(), nil)

	first := m.Request(context.Background(), testQuoteReq("MintAaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	second := m.Request(context.Background(), testQuoteReq(domain.USDC))

	firstUpdates := collect(t, first)
	secondUpdates := collect(t, second)

	assert.Empty(t, firstUpdates, "a superseded request gets no terminal update")
	final := terminal(t, secondUpdates)
	assert.Equal(t, StateResolved, final.State)

	require.Equal(t, 1, r.callCount(), "the debounced first request never hit the network")
	r.mu.Lock()
	assert.Equal(t, domain.USDC, r.calls[0].OutputMint)
	r.mu.Unlock()
}

func TestRequest_CacheHitSkipsResolver(t *testing.T) {
	r := &fakeResolver{}
	m := New(r.resolve, testMgrCfg(), nil)

	collect(t, m.Request(context.Background(), testQuoteReq(domain.USDC)))
	got := collect(t, m.Request(context.Background(), testQuoteReq(domain.USDC)))

	assert.Equal(t, StateResolved, terminal(t, got).State)
	assert.Equal(t, 1, r.callCount())
}

func TestRequest_RetriesTransientFailures(t *testing.T) {
	r := &fakeResolver{errs: []error{
		domain.Errorf(domain.CodeUpstreamError, "aggregator 502"),
		domain.Errorf(domain.CodeTimeout, "aggregator timed out"),
	}}
	m := New(r.resolve, testMgrCfg(), nil)

	got := collect(t, m.Request(context.Background(), testQuoteReq(domain.USDC)))

	assert.Equal(t, StateResolved, terminal(t, got).State)
	assert.Equal(t, 3, r.callCount())

	var retries []int
	for _, u := range got {
		if u.State == StateRetrying {
			retries = append(retries, u.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRequest_DeterministicFailureDoesNotRetry(t *testing.T) {
	r := &fakeResolver{errs: []error{
		domain.Errorf(domain.CodeBadRequest, "amount must be positive"),
	}}
	m := New(r.resolve, testMgrCfg(), nil)

	got := collect(t, m.Request(context.Background(), testQuoteReq(domain.USDC)))

	final := terminal(t, got)
	assert.Equal(t, StateError, final.State)
	assert.Equal(t, domain.CodeBadRequest, domain.CodeOf(final.Err))
	assert.Equal(t, 1, r.callCount())
	assert.Equal(t, StateError, m.State())
}

func TestRequest_RetryBudgetExhausts(t *testing.T) {
	r := &fakeResolver{errs: []error{
		domain.Errorf(domain.CodeUpstreamError, "boom"),
		domain.Errorf(domain.CodeUpstreamError, "boom"),
		domain.Errorf(domain.CodeUpstreamError, "boom"),
		domain.Errorf(domain.CodeUpstreamError, "boom"),
	}}
	cfg := testMgrCfg()
	cfg.MaxRetries = 2
	m := New(r.resolve, cfg, nil)

	got := collect(t, m.Request(context.Background(), testQuoteReq(domain.USDC)))

	assert.Equal(t, StateError, terminal(t, got).State)
	assert.Equal(t, 3, r.callCount(), "initial attempt plus two retries")
}

func TestRequest_IdenticalConcurrentRequestsShareOneCall(t *testing.T) {
	r := &fakeResolver{delay: 20 * time.Millisecond}
	m := New(r.resolve, testMgrCfg(), nil)

	first := m.Request(context.Background(), testQuoteReq(domain.USDC))
	time.Sleep(10 * time.Millisecond) // let the first pass its debounce and start resolving
	second := m.Request(context.Background(), testQuoteReq(domain.USDC))

	collect(t, first)
	got := collect(t, second)

	final := terminal(t, got)
	assert.Equal(t, StateResolved, final.State)
	assert.Equal(t, 1, r.callCount(), "the second request joins the in-flight call")
}

func TestCancel_StopsWithoutTerminalUpdate(t *testing.T) {
	r := &fakeResolver{delay: 50 * time.Millisecond}
	m := New(r.resolve, testMgrCfg(), nil)

	updates := m.Request(context.Background(), testQuoteReq(domain.USDC))
	time.Sleep(2 * time.Millisecond)
	m.Cancel()

	got := collect(t, updates)
	assert.Empty(t, got)
	assert.Equal(t, StateIdle, m.State())
}
