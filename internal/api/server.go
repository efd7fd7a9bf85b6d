// Package api exposes the engine over HTTP. Handlers translate JSON
// payloads into engine calls and taxonomy errors into status codes.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/shopspring/decimal"

	"solana-swap-engine/internal/builder"
	"solana-swap-engine/internal/confirm"
	"solana-swap-engine/internal/curve"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/observability"
)

// RouteResolver resolves a quote four-tuple into a route decision.
type RouteResolver interface {
	Resolve(ctx context.Context, req domain.QuoteRequest) domain.RouteDecision
}

// TxBuilder builds unsigned transactions for either route.
type TxBuilder interface {
	BuildAggregator(ctx context.Context, req builder.AggregatorRequest) (domain.UnsignedTransaction, error)
	BuildCurve(ctx context.Context, req builder.CurveRequest) (domain.UnsignedTransaction, error)
}

// SecurityValidator inspects built bytes before they leave the engine.
type SecurityValidator interface {
	Validate(ctx context.Context, txBytes []byte, expectedSigner string) domain.SecurityVerdict
}

// Broadcaster fans a signed transaction out to the submission targets.
type Broadcaster interface {
	Send(ctx context.Context, signedBytes []byte, mode domain.SpeedMode) domain.BroadcastResult
	ViaAccelerator(name string) bool
}

// ConfirmWaiter awaits a signature's on-chain outcome.
type ConfirmWaiter interface {
	Await(ctx context.Context, req confirm.Request) (domain.ConfirmationStatus, error)
}

// Server exposes the engine components behind a ServeMux.
type Server struct {
	resolver  RouteResolver
	builder   TxBuilder
	validator SecurityValidator
	sender    Broadcaster
	poller    ConfirmWaiter
	logger    *slog.Logger
}

// NewServer wires the handler set.
func NewServer(resolver RouteResolver, txBuilder TxBuilder, validator SecurityValidator, sender Broadcaster, poller ConfirmWaiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		resolver:  resolver,
		builder:   txBuilder,
		validator: validator,
		sender:    sender,
		poller:    poller,
		logger:    logger,
	}
}

// Handler returns the routed mux, including health and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/route", s.handleRoute)
	mux.HandleFunc("POST /v1/build/aggregator", s.handleBuildAggregator)
	mux.HandleFunc("POST /v1/build/curve", s.handleBuildCurve)
	mux.HandleFunc("POST /v1/send", s.handleSend)
	mux.HandleFunc("GET /v1/status/{signature}", s.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", observability.Handler())
	return mux
}

type routeRequest struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	Amount      string `json:"amount"` // base units
	SlippageBps int    `json:"slippageBps"`
}

type routeResponse struct {
	Route         string                  `json:"route"`
	Reason        string                  `json:"reason,omitempty"`
	Quote         *domain.AggregatorQuote `json:"quote,omitempty"`
	FallbackQuote *domain.AggregatorQuote `json:"fallbackQuote,omitempty"`
	CurveToken    bool                    `json:"curveToken"`
	FeeStatus     string                  `json:"feeStatus,omitempty"`
	FeeAccount    string                  `json:"feeAccount,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.CodeBadRequest, "invalid JSON body", err))
		return
	}
	if req.InputMint == "" || req.OutputMint == "" {
		writeError(w, domain.Errorf(domain.CodeBadRequest, "inputMint and outputMint are required"))
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, domain.Errorf(domain.CodeBadRequest, "amount must be a positive integer in base units"))
		return
	}

	decision := s.resolver.Resolve(r.Context(), domain.QuoteRequest{
		InputMint:   req.InputMint,
		OutputMint:  req.OutputMint,
		Amount:      amount,
		SlippageBps: req.SlippageBps,
	})

	resp := routeResponse{
		Route:         string(decision.Route),
		Reason:        string(decision.Reason),
		Quote:         decision.Quote,
		FallbackQuote: decision.FallbackQuote,
		FeeStatus:     string(decision.FeeStatus),
		FeeAccount:    decision.FeeAccount,
	}
	if decision.CurveMeta != nil {
		resp.CurveToken = decision.CurveMeta.IsCurveToken()
	}
	writeJSON(w, http.StatusOK, resp)
}

type buildAggregatorRequest struct {
	Quote          *domain.AggregatorQuote `json:"quote"`
	Signer         string                  `json:"signer"`
	SpeedMode      string                  `json:"speedMode"`
	PriorityFeeCap uint64                  `json:"priorityFeeCap"`
	WrapSol        bool                    `json:"wrapSol"`
}

type buildCurveRequest struct {
	Signer         string `json:"signer"`
	Mint           string `json:"mint"`
	Side           string `json:"side"` // buy | sell
	Amount         string `json:"amount"`
	SpeedMode      string `json:"speedMode"`
	PriorityFeeCap uint64 `json:"priorityFeeCap"`
	SlippageBps    int    `json:"slippageBps"`
}

type buildResponse struct {
	Transaction          string                 `json:"transaction"` // base64
	Route                string                 `json:"route"`
	LastValidBlockHeight uint64                 `json:"lastValidBlockHeight"`
	PriorityFeeApplied   uint64                 `json:"priorityFeeApplied"`
	FeeOmitted           bool                   `json:"feeOmitted,omitempty"`
	FallbackReason       string                 `json:"fallbackReason,omitempty"`
	Verdict              domain.SecurityVerdict `json:"verdict"`
}

func (s *Server) handleBuildAggregator(w http.ResponseWriter, r *http.Request) {
	var req buildAggregatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.CodeBadRequest, "invalid JSON body", err))
		return
	}
	mode, err := speedMode(req.SpeedMode)
	if err != nil {
		writeError(w, err)
		return
	}

	tx, err := s.builder.BuildAggregator(r.Context(), builder.AggregatorRequest{
		Quote:          req.Quote,
		Signer:         req.Signer,
		SpeedMode:      mode,
		PriorityFeeCap: req.PriorityFeeCap,
		WrapSol:        req.WrapSol,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeBuild(w, r, tx, req.Signer)
}

func (s *Server) handleBuildCurve(w http.ResponseWriter, r *http.Request) {
	var req buildCurveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.CodeBadRequest, "invalid JSON body", err))
		return
	}
	mode, err := speedMode(req.SpeedMode)
	if err != nil {
		writeError(w, err)
		return
	}
	side := curve.TradeSide(req.Side)
	if side != curve.SideBuy && side != curve.SideSell {
		writeError(w, domain.Errorf(domain.CodeBadRequest, "side must be buy or sell"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, domain.Errorf(domain.CodeBadRequest, "amount must be a decimal string"))
		return
	}

	tx, err := s.builder.BuildCurve(r.Context(), builder.CurveRequest{
		Signer:         req.Signer,
		Mint:           req.Mint,
		Side:           side,
		UIAmount:       amount,
		SpeedMode:      mode,
		PriorityFeeCap: req.PriorityFeeCap,
		SlippageBps:    req.SlippageBps,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeBuild(w, r, tx, req.Signer)
}

// writeBuild validates the built bytes and returns them with the
// verdict attached; the caller decides whether to sign.
func (s *Server) writeBuild(w http.ResponseWriter, r *http.Request, tx domain.UnsignedTransaction, signer string) {
	verdict := s.validator.Validate(r.Context(), tx.Bytes(), signer)
	if !verdict.Safe {
		s.logger.Warn("built transaction failed validation", "errors", verdict.Errors)
	}
	writeJSON(w, http.StatusOK, buildResponse{
		Transaction:          base64.StdEncoding.EncodeToString(tx.Bytes()),
		Route:                string(tx.Route),
		LastValidBlockHeight: tx.LastValidBlockHeight,
		PriorityFeeApplied:   tx.PriorityFeeApplied,
		FeeOmitted:           tx.FeeOmitted,
		FallbackReason:       tx.FallbackReason,
		Verdict:              verdict,
	})
}

type sendRequest struct {
	SignedTransaction string `json:"signedTransaction"` // base64
	SpeedMode         string `json:"speedMode"`
}

type sendResponse struct {
	Signature string   `json:"signature"`
	SentVia   []string `json:"sentVia"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.CodeBadRequest, "invalid JSON body", err))
		return
	}
	mode, err := speedMode(req.SpeedMode)
	if err != nil {
		writeError(w, err)
		return
	}
	signed, err := base64.StdEncoding.DecodeString(req.SignedTransaction)
	if err != nil || len(signed) == 0 {
		writeError(w, domain.Errorf(domain.CodeBadRequest, "signedTransaction must be non-empty base64"))
		return
	}

	res := s.sender.Send(r.Context(), signed, mode)
	if !res.Succeeded() {
		writeError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Signature: res.Signature, SentVia: res.SentVia})
}

type statusResponse struct {
	Processed     bool   `json:"processed"`
	Confirmed     bool   `json:"confirmed"`
	Finalized     bool   `json:"finalized"`
	LikelyDropped bool   `json:"likelyDropped,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sig := r.PathValue("signature")
	route := domain.Route(r.URL.Query().Get("route"))
	if route == "" {
		route = domain.RouteAggregator
	}

	st, err := s.poller.Await(r.Context(), confirm.Request{
		Signature:      sig,
		Route:          route,
		ViaAccelerator: r.URL.Query().Get("via") == "accelerator",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Processed:     st.Processed,
		Confirmed:     st.Confirmed,
		Finalized:     st.Finalized,
		LikelyDropped: st.LikelyDropped,
		Error:         st.Err,
	})
}

func speedMode(raw string) (domain.SpeedMode, error) {
	if raw == "" {
		return domain.SpeedNormal, nil
	}
	mode := domain.SpeedMode(raw)
	if !mode.Valid() {
		return "", domain.Errorf(domain.CodeBadRequest, "unknown speed mode %q", raw)
	}
	return mode, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps taxonomy codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := http.StatusBadGateway
	switch code {
	case domain.CodeBadRequest:
		status = http.StatusBadRequest
	case domain.CodeNoRoute:
		status = http.StatusNotFound
	case domain.CodeTimeout:
		status = http.StatusGatewayTimeout
	case domain.CodeSimulationFailed:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorResponse{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
