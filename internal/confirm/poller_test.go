package confirm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/solana"
)

const testSig = "5j7s88QKMR3YkQvC7mMJsDEWmVzXtRqFCKNqDp3rV6rXT3pTVf4VfUUbAVzC2dKrVZ4GyrpnPQsdEDHhMUEWc1qy"

type fakeSource struct {
	mu           sync.Mutex
	name         string
	status       *solana.SignatureStatus
	err          error
	visibleAfter int // poll calls before status becomes visible

	calls        int
	historyCalls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Status(_ context.Context, _ string, searchHistory bool) (*solana.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if searchHistory {
		f.historyCalls++
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.visibleAfter {
		return nil, nil
	}
	return f.status, nil
}

func (f *fakeSource) counts() (calls, history int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.historyCalls
}

type fakeRebroadcaster struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRebroadcaster) Rebroadcast(context.Context, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeRebroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWaiter struct {
	status *solana.SignatureStatus
	err    error
	delay  time.Duration
}

func (f *fakeWaiter) WaitSignature(ctx context.Context, _ string) (*solana.SignatureStatus, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.delay):
	}
	return f.status, f.err
}

func testCfg() config.Confirm {
	return config.Confirm{
		PollInterval:    5 * time.Millisecond,
		Budget:          60 * time.Millisecond,
		CurveBudget:     40 * time.Millisecond,
		DropoutPolls:    3,
		DropoutWindow:   10 * time.Millisecond,
		FinalCheckDelay: 15 * time.Millisecond,
	}
}

func confirmed() *solana.SignatureStatus {
	return &solana.SignatureStatus{Slot: 100, ConfirmationStatus: "confirmed"}
}

func TestAwait_ConfirmedAfterFewPolls(t *testing.T) {
	src := &fakeSource{name: "rpc-a", status: confirmed(), visibleAfter: 2}
	p := New([]StatusSource{src}, nil, nil, testCfg(), nil, nil)

	st, err := p.Await(context.Background(), Request{Signature: testSig, Route: domain.RouteAggregator})
	require.NoError(t, err)
	assert.True(t, st.Landed())
	assert.True(t, st.Confirmed)
	assert.False(t, st.Finalized)
}

func TestAwait_AnySourceSuffices(t *testing.T) {
	dead := &fakeSource{name: "rpc-a", err: errors.New("node down")}
	live := &fakeSource{name: "rpc-b", status: confirmed()}
	p := New([]StatusSource{dead, live}, nil, nil, testCfg(), nil, nil)

	st, err := p.Await(context.Background(), Request{Signature: testSig, Route: domain.RouteAggregator})
	require.NoError(t, err)
	assert.True(t, st.Landed())
}

func TestAwait_DefinitiveErrorStopsImmediately(t *testing.T) {
	src := &fakeSource{name: "rpc-a", status: &solana.SignatureStatus{
		Slot:               90,
		ConfirmationStatus: "confirmed",
		Err:                map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	}}
	p := New([]StatusSource{src}, nil, nil, testCfg(), nil, nil)

	st, err := p.Await(context.Background(), Request{Signature: testSig, Route: domain.RouteAggregator})
	require.NoError(t, err)
	assert.False(t, st.Landed())
	assert.NotEmpty(t, st.Err)

	calls, _ := src.counts()
	assert.Equal(t, 1, calls, "no polling past a definitive on-chain error")
}

func TestAwait_NeverLandsRunsExactlyOneFinalCheck(t *testing.T) {
	srcA := &fakeSource{name: "rpc-a"}
	srcB := &fakeSource{name: "rpc-b"}
	cfg := testCfg()
	p := New([]StatusSource{srcA, srcB}, nil, nil, cfg, nil, nil)

	start := time.Now()
	st, err := p.Await(context.Background(), Request{Signature: testSig, Route: domain.RouteAggregator})
	require.NoError(t, err)

	assert.False(t, st.Landed())
	assert.False(t, st.LikelyDropped)
	assert.GreaterOrEqual(t, time.Since(start), cfg.Budget+cfg.FinalCheckDelay,
		"the final check waits out the configured delay")

	_, historyA := srcA.counts()
	_, historyB := srcB.counts()
	assert.Equal(t, 1, historyA, "exactly one historical check per source")
	assert.Equal(t, 1, historyB)
}

func TestAwait_FinalCheckCanStillFindIt(t *testing.T) {
	// Visible only after many calls, so the signature surfaces during
	// the historical check rather than the regular loop.
	src := &fakeSource{name: "rpc-a", status: confirmed(), visibleAfter: 1000}
	p := New([]StatusSource{src}, nil, nil, testCfg(), nil, nil)

	// Make the status visible right as the loop gives up.
	go func() {
		time.Sleep(50 * time.Millisecond)
		src.mu.Lock()
		src.visibleAfter = 0
		src.mu.Unlock()
	}()

	st, err := p.Await(context.Background(), Request{Signature: testSig, Route: domain.RouteAggregator})
	require.NoError(t, err)
	assert.True(t, st.Landed())
}

func TestAwait_CurveDropout(t *testing.T) {
	src := &fakeSource{name: "rpc-a"}
	cfg := testCfg()
	p := New([]StatusSource{src}, nil, nil, cfg, nil, nil)

	start := time.Now()
	st, err := p.Await(context.Background(), Request{Signature: testSig, Route: domain.RouteCurve})
	require.NoError(t, err)

	assert.True(t, st.LikelyDropped)
	assert.Less(t, time.Since(start), cfg.CurveBudget, "dropout fires before the budget runs out")

	_, history := src.counts()
	assert.Zero(t, history, "dropout skips the final historical check")
}

func TestAwait_PlainPathRebroadcastsEachTick(t *testing.T) {
	src := &fakeSource{name: "rpc-a", status: confirmed(), visibleAfter: 3}
	rb := &fakeRebroadcaster{}
	p := New([]StatusSource{src}, nil, rb, testCfg(), nil, nil)

	_, err := p.Await(context.Background(), Request{
		Signature:   testSig,
		Route:       domain.RouteAggregator,
		SignedBytes: []byte("signed"),
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rb.count(), 3)
}

func TestAwait_AcceleratorPathDoesNotRebroadcast(t *testing.T) {
	src := &fakeSource{name: "rpc-a", status: confirmed(), visibleAfter: 2}
	rb := &fakeRebroadcaster{}
	p := New([]StatusSource{src}, nil, rb, testCfg(), nil, nil)

	_, err := p.Await(context.Background(), Request{
		Signature:      testSig,
		Route:          domain.RouteAggregator,
		ViaAccelerator: true,
		SignedBytes:    []byte("signed"),
	})
	require.NoError(t, err)
	assert.Zero(t, rb.count())
}

func TestAwait_WaiterShortCircuitsSlowPolling(t *testing.T) {
	// Sources never see the signature; only the push channel does.
	src := &fakeSource{name: "rpc-a"}
	waiter := &fakeWaiter{status: &solana.SignatureStatus{ConfirmationStatus: "finalized"}, delay: 5 * time.Millisecond}

	cfg := testCfg()
	cfg.PollInterval = 100 * time.Millisecond
	cfg.Budget = time.Second
	p := New([]StatusSource{src}, waiter, nil, cfg, nil, nil)

	start := time.Now()
	st, err := p.Await(context.Background(), Request{Signature: testSig, Route: domain.RouteAggregator})
	require.NoError(t, err)
	assert.True(t, st.Finalized)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAwait_CallerCancellation(t *testing.T) {
	src := &fakeSource{name: "rpc-a"}
	p := New([]StatusSource{src}, nil, nil, testCfg(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := p.Await(ctx, Request{Signature: testSig, Route: domain.RouteAggregator})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwait_BadRequest(t *testing.T) {
	p := New([]StatusSource{&fakeSource{name: "rpc-a"}}, nil, nil, testCfg(), nil, nil)
	_, err := p.Await(context.Background(), Request{})
	assert.Equal(t, domain.CodeBadRequest, domain.CodeOf(err))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, domain.ConfirmationStatus{}, statusOf(nil))

	st := statusOf(&solana.SignatureStatus{ConfirmationStatus: "processed"})
	assert.True(t, st.Processed)
	assert.False(t, st.Confirmed)

	st = statusOf(&solana.SignatureStatus{ConfirmationStatus: "finalized"})
	assert.True(t, st.Finalized && st.Confirmed && st.Processed)
}
