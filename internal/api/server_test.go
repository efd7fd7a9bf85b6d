package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/builder"
	"solana-swap-engine/internal/confirm"
	"solana-swap-engine/internal/domain"
)

const (
	testSigner = "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLXMtCNQf"
	testSig    = "5j7s88QKMR3YkQvC7mMJsDEWmVzXtRqFCKNqDp3rV6rXT3pTVf4VfUUbAVzC2dKrVZ4GyrpnPQsdEDHhMUEWc1qy"
)

type fakeResolver struct {
	decision domain.RouteDecision
	got      domain.QuoteRequest
}

func (f *fakeResolver) Resolve(_ context.Context, req domain.QuoteRequest) domain.RouteDecision {
	f.got = req
	return f.decision
}

type fakeBuilder struct {
	tx  domain.UnsignedTransaction
	err error

	aggReq   *builder.AggregatorRequest
	curveReq *builder.CurveRequest
}

func (f *fakeBuilder) BuildAggregator(_ context.Context, req builder.AggregatorRequest) (domain.UnsignedTransaction, error) {
	f.aggReq = &req
	return f.tx, f.err
}

func (f *fakeBuilder) BuildCurve(_ context.Context, req builder.CurveRequest) (domain.UnsignedTransaction, error) {
	f.curveReq = &req
	return f.tx, f.err
}

type fakeValidator struct {
	verdict domain.SecurityVerdict
}

func (f *fakeValidator) Validate(context.Context, []byte, string) domain.SecurityVerdict {
	return f.verdict
}

type fakeSender struct {
	result domain.BroadcastResult
	got    []byte
}

func (f *fakeSender) Send(_ context.Context, signed []byte, _ domain.SpeedMode) domain.BroadcastResult {
	f.got = signed
	return f.result
}

func (f *fakeSender) ViaAccelerator(string) bool { return false }

type fakePoller struct {
	status domain.ConfirmationStatus
	err    error
	got    confirm.Request
}

func (f *fakePoller) Await(_ context.Context, req confirm.Request) (domain.ConfirmationStatus, error) {
	f.got = req
	return f.status, f.err
}

type testEnv struct {
	resolver  *fakeResolver
	builder   *fakeBuilder
	validator *fakeValidator
	sender    *fakeSender
	poller    *fakePoller
	handler   http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		resolver:  &fakeResolver{},
		builder:   &fakeBuilder{},
		validator: &fakeValidator{verdict: domain.SecurityVerdict{Safe: true}},
		sender:    &fakeSender{},
		poller:    &fakePoller{},
	}
	env.handler = NewServer(env.resolver, env.builder, env.validator, env.sender, env.poller, nil).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRoute_NativeToEstablishedToken(t *testing.T) {
	env := newTestEnv()
	env.resolver.decision = domain.RouteDecision{
		Route:     domain.RouteAggregator,
		Quote:     &domain.AggregatorQuote{InputMint: domain.WSOL, OutputMint: domain.USDC, InAmount: "1000000000"},
		FeeStatus: domain.FeeDisabled,
	}

	rec := env.do(t, http.MethodPost, "/v1/route", routeRequest{
		InputMint:   domain.WSOL,
		OutputMint:  domain.USDC,
		Amount:      "1000000000",
		SlippageBps: 50,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[routeResponse](t, rec)
	assert.Equal(t, "aggregator", resp.Route)
	require.NotNil(t, resp.Quote)
	assert.Equal(t, domain.USDC, resp.Quote.OutputMint)

	assert.Equal(t, "1000000000", env.resolver.got.Amount.String())
	assert.Equal(t, 50, env.resolver.got.SlippageBps)
}

func TestRoute_BadAmount(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/v1/route", routeRequest{
		InputMint:  domain.WSOL,
		OutputMint: domain.USDC,
		Amount:     "-5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad-request", decode[errorResponse](t, rec).Code)
}

func TestBuildAggregator_ReturnsBytesAndVerdict(t *testing.T) {
	env := newTestEnv()
	raw := []byte("built-transaction")
	tx := domain.NewUnsignedTransaction(raw, domain.RouteAggregator)
	tx.LastValidBlockHeight = 777
	tx.PriorityFeeApplied = 100_000
	env.builder.tx = tx

	rec := env.do(t, http.MethodPost, "/v1/build/aggregator", buildAggregatorRequest{
		Quote:     &domain.AggregatorQuote{InputMint: domain.WSOL, OutputMint: domain.USDC},
		Signer:    testSigner,
		SpeedMode: "fast",
		WrapSol:   true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[buildResponse](t, rec)
	assert.Equal(t, "aggregator", resp.Route)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), resp.Transaction)
	assert.Equal(t, uint64(777), resp.LastValidBlockHeight)
	assert.True(t, resp.Verdict.Safe)

	require.NotNil(t, env.builder.aggReq)
	assert.Equal(t, domain.SpeedFast, env.builder.aggReq.SpeedMode)
	assert.True(t, env.builder.aggReq.WrapSol)
}

func TestBuildAggregator_UnknownSpeedMode(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/v1/build/aggregator", buildAggregatorRequest{
		Quote:     &domain.AggregatorQuote{},
		Signer:    testSigner,
		SpeedMode: "ludicrous",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildCurve_ParsesSideAndAmount(t *testing.T) {
	env := newTestEnv()
	env.builder.tx = domain.NewUnsignedTransaction([]byte("curve-tx"), domain.RouteCurve)

	rec := env.do(t, http.MethodPost, "/v1/build/curve", buildCurveRequest{
		Signer:      testSigner,
		Mint:        "8h2cPLGKyFLF1TMHuGVdyzS4zWhqWVgBps2pSBWWpump",
		Side:        "buy",
		Amount:      "0.25",
		SlippageBps: 300,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "curve", decode[buildResponse](t, rec).Route)

	require.NotNil(t, env.builder.curveReq)
	assert.Equal(t, "0.25", env.builder.curveReq.UIAmount.String())
	assert.Equal(t, 300, env.builder.curveReq.SlippageBps)

	rec = env.do(t, http.MethodPost, "/v1/build/curve", buildCurveRequest{
		Signer: testSigner, Mint: "m", Side: "hold", Amount: "1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuild_ErrorMapping(t *testing.T) {
	env := newTestEnv()
	env.builder.err = domain.Errorf(domain.CodeSimulationFailed, "curve simulation failed")

	rec := env.do(t, http.MethodPost, "/v1/build/curve", buildCurveRequest{
		Signer: testSigner, Mint: "m", Side: "buy", Amount: "1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "simulation-failed", decode[errorResponse](t, rec).Code)
}

func TestSend_RoundTrip(t *testing.T) {
	env := newTestEnv()
	env.sender.result = domain.BroadcastResult{Signature: testSig, SentVia: []string{"rpc-primary"}}
	signed := []byte("signed-bytes")

	rec := env.do(t, http.MethodPost, "/v1/send", sendRequest{
		SignedTransaction: base64.StdEncoding.EncodeToString(signed),
		SpeedMode:         "turbo",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[sendResponse](t, rec)
	assert.Equal(t, testSig, resp.Signature)
	assert.Equal(t, []string{"rpc-primary"}, resp.SentVia)
	assert.Equal(t, signed, env.sender.got)
}

func TestSend_AllDestinationsFailed(t *testing.T) {
	env := newTestEnv()
	env.sender.result = domain.BroadcastResult{
		Err: domain.Errorf(domain.CodeSendFailed, "every destination rejected the transaction"),
	}

	rec := env.do(t, http.MethodPost, "/v1/send", sendRequest{
		SignedTransaction: base64.StdEncoding.EncodeToString([]byte("signed")),
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "send-failed", decode[errorResponse](t, rec).Code)
}

func TestStatus_QueryParams(t *testing.T) {
	env := newTestEnv()
	env.poller.status = domain.ConfirmationStatus{Processed: true, Confirmed: true}

	rec := env.do(t, http.MethodGet, "/v1/status/"+testSig+"?route=curve&via=accelerator", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[statusResponse](t, rec)
	assert.True(t, resp.Confirmed)

	assert.Equal(t, testSig, env.poller.got.Signature)
	assert.Equal(t, domain.RouteCurve, env.poller.got.Route)
	assert.True(t, env.poller.got.ViaAccelerator)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
