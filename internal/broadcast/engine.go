// Package broadcast fans a signed transaction out to redundant
// submission destinations and takes the first acceptance.
package broadcast

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr-tron/base58"

	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/race"
	"solana-swap-engine/internal/solana"
)

const signatureLen = 64

// Destination is one place a signed transaction can be submitted.
// Accelerator destinations are paid fast-lane relays; the confirmation
// poller treats transactions sent through them differently.
type Destination struct {
	Name        string
	RPC         solana.RPCClient
	Accelerator bool
}

// Engine submits signed transactions. Stateless: every Send is an
// independent fan-out.
type Engine struct {
	dests   []Destination
	cfg     config.Broadcast
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New builds an engine over the given destinations.
func New(dests []Destination, cfg config.Broadcast, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{dests: dests, cfg: cfg, logger: logger, metrics: metrics}
}

// ViaAccelerator reports whether the named destination is an
// accelerator relay.
func (e *Engine) ViaAccelerator(name string) bool {
	for _, d := range e.dests {
		if d.Name == name {
			return d.Accelerator
		}
	}
	return false
}

// Send submits signedBytes to every destination concurrently and
// returns as soon as one accepts. The signature is derived locally
// before submission, so a node answering "already processed" still
// counts as success.
func (e *Engine) Send(ctx context.Context, signedBytes []byte, mode domain.SpeedMode) domain.BroadcastResult {
	derived, err := DeriveSignature(signedBytes)
	if err != nil {
		return domain.BroadcastResult{Err: domain.NewError(domain.CodeBadRequest, "transaction is not signed", err)}
	}
	if len(e.dests) == 0 {
		return domain.BroadcastResult{Err: domain.Errorf(domain.CodeSendFailed, "no broadcast destinations configured")}
	}

	encoded := base64.StdEncoding.EncodeToString(signedBytes)
	policy := e.cfg.PolicyFor(mode)

	attempts := make([]race.Attempt[string], 0, len(e.dests))
	for _, d := range e.dests {
		d := d
		attempts = append(attempts, race.Attempt[string]{
			Label: d.Name,
			Run: func(ctx context.Context) (string, error) {
				return e.sendOne(ctx, d, encoded, derived, policy)
			},
		})
	}

	winner, err := race.First(ctx, attempts)
	if err != nil {
		e.logger.Warn("all broadcast destinations failed", "signature", derived, "err", err)
		return domain.BroadcastResult{Err: domain.NewError(domain.CodeSendFailed, "every destination rejected the transaction", err)}
	}

	sig := winner.Value
	if sig == "" {
		sig = derived
	}
	return domain.BroadcastResult{Signature: sig, SentVia: []string{winner.Label}}
}

// sendOne submits to a single destination with the policy's retry
// budget; each attempt gets the full per-attempt timeout.
func (e *Engine) sendOne(ctx context.Context, d Destination, encoded, derived string, policy config.SendPolicy) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		start := time.Now()
		sig, err := e.submit(ctx, d, encoded, policy.Timeout)
		e.observe(d.Name, err, time.Since(start))
		if err == nil {
			return sig, nil
		}
		if solana.AlreadyProcessed(err) {
			if e.metrics != nil {
				e.metrics.AlreadySeen.Inc()
			}
			e.logger.Debug("destination reports transaction already landed", "destination", d.Name, "signature", derived)
			return derived, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%s: %w", d.Name, lastErr)
}

func (e *Engine) submit(ctx context.Context, d Destination, encoded string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	maxRetries := uint64(0) // node-side retries disabled; this engine owns retrying
	return d.RPC.SendTransaction(ctx, encoded, solana.SendOpts{
		SkipPreflight: true,
		MaxRetries:    &maxRetries,
	})
}

// Rebroadcast resubmits signedBytes once through every plain-RPC
// destination. Used by the confirmation poller to nudge a transaction
// that has not landed yet; accelerator relays manage their own
// retransmission.
func (e *Engine) Rebroadcast(ctx context.Context, signedBytes []byte) error {
	encoded := base64.StdEncoding.EncodeToString(signedBytes)
	var errs []error
	for _, d := range e.dests {
		if d.Accelerator {
			continue
		}
		_, err := d.RPC.SendTransaction(ctx, encoded, solana.SendOpts{SkipPreflight: true})
		if err != nil && !solana.AlreadyProcessed(err) {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}
		if e.metrics != nil {
			e.metrics.Rebroadcasts.Inc()
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) observe(dest string, err error, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	result := "ok"
	if err != nil && !solana.AlreadyProcessed(err) {
		result = "error"
	}
	e.metrics.SendsTotal.WithLabelValues(dest, result).Inc()
	e.metrics.SendLatency.WithLabelValues(dest).Observe(elapsed.Seconds())
}

// DeriveSignature extracts the first signature from signed transaction
// bytes without a full deserialization. The wire format starts with a
// shortvec count of signatures followed by 64-byte signature slots.
func DeriveSignature(signedBytes []byte) (string, error) {
	count, offset, err := decodeShortvecLen(signedBytes)
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", errors.New("transaction carries no signatures")
	}
	if len(signedBytes) < offset+signatureLen {
		return "", errors.New("transaction truncated before first signature")
	}
	sig := signedBytes[offset : offset+signatureLen]
	if allZero(sig) {
		return "", errors.New("first signature slot is empty")
	}
	return base58.Encode(sig), nil
}

// decodeShortvecLen reads Solana's compact-u16 length prefix.
func decodeShortvecLen(b []byte) (int, int, error) {
	value, shift := 0, 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("truncated shortvec length")
		}
		value |= int(b[i]&0x7f) << shift
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("shortvec length overflows")
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
