package curve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solana-swap-engine/internal/domain"
)

func TestClient_Detect_Active(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mint":     "MintActivepump",
			"complete": false,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil)
	meta := c.Detect(context.Background(), "MintActivepump")
	if meta.State != domain.CurveActive {
		t.Errorf("expected active, got %s", meta.State)
	}
	if !meta.IsCurveToken() || !meta.IsActive() {
		t.Error("active meta must report curve token")
	}
}

func TestClient_Detect_Graduated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mint":         "MintGradpump",
			"complete":     true,
			"raydium_pool": "PoolAddr",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil)
	meta := c.Detect(context.Background(), "MintGradpump")
	if meta.State != domain.CurveGraduated {
		t.Errorf("expected graduated, got %s", meta.State)
	}
}

func TestClient_Detect_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil)
	meta := c.Detect(context.Background(), "NotACurveMint")
	if meta.State != domain.CurveNotCurve {
		t.Errorf("expected not-curve, got %s", meta.State)
	}
}

func TestClient_Detect_TimeoutIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(server.URL, 20*time.Millisecond, nil)
	meta := c.Detect(context.Background(), "SlowMintpump")
	if meta.State != domain.CurveUnknown {
		t.Errorf("expected unknown on timeout, got %s", meta.State)
	}
	// Unknown still counts as possibly-curve: fail open.
	if !meta.IsCurveToken() {
		t.Error("unknown meta must fail open to curve")
	}
}

func TestClient_BuildTrade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trade-local" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req TradeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Action != SideBuy {
			t.Errorf("expected buy, got %s", req.Action)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transaction":          "AQID",
			"lastValidBlockHeight": 300,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil)
	trade, err := c.BuildTrade(context.Background(), TradeRequest{
		PublicKey:        "User111",
		Action:           SideBuy,
		Mint:             "Mintpump",
		Amount:           decimal.NewFromFloat(0.5),
		DenominatedInSol: true,
		SlippageBps:      100,
	})
	if err != nil {
		t.Fatalf("BuildTrade failed: %v", err)
	}
	if trade.Transaction != "AQID" {
		t.Errorf("unexpected transaction %q", trade.Transaction)
	}
}

func TestClient_BuildTrade_ProgramError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     "bonding curve complete",
			"errorCode": ErrCodeCurveComplete,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil)
	_, err := c.BuildTrade(context.Background(), TradeRequest{Mint: "Mintpump", Action: SideBuy})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsFallbackError(err) {
		t.Errorf("expected fallback program error, got %v", err)
	}
}

func TestParseCustomErrorCode(t *testing.T) {
	code, ok := parseCustomErrorCode("failed: custom program error: 0x1775")
	if !ok || code != 0x1775 {
		t.Errorf("got %#x, %v", code, ok)
	}
	if _, ok := parseCustomErrorCode("slippage exceeded"); ok {
		t.Error("expected no code")
	}
}

func TestFallbackCode(t *testing.T) {
	for _, code := range []int{ErrCodeCurveComplete, ErrCodeReservesExhausted, ErrCodeStaleCurveState} {
		if !FallbackCode(code) {
			t.Errorf("code %d must trigger fallback", code)
		}
	}
	if FallbackCode(6001) {
		t.Error("unrelated code must not trigger fallback")
	}
}
