// Package fees resolves the optional platform-fee token account for a
// target mint: the treasury's associated token account, verified to
// exist on chain. Resolution fails open — when the probe cannot confirm
// the account, the swap is built without a fee rather than blocked.
package fees

import (
	"context"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"solana-swap-engine/internal/cache"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/solana"
)

// probeTimeout bounds the on-chain existence check; it must stay well
// below any caller-visible deadline.
const probeTimeout = 1500 * time.Millisecond

// Resolver derives and verifies platform-fee token accounts.
type Resolver struct {
	rpc      solana.RPCClient
	treasury solanago.PublicKey
	enabled  bool
	bps      int
	ttl      time.Duration
	accounts *cache.TTLCache[string, string]
	logger   *slog.Logger
}

// NewResolver creates a fee resolver. With enabled false or an invalid
// treasury address every resolution reports FeeDisabled.
func NewResolver(rpc solana.RPCClient, treasury string, enabled bool, bps int, ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		rpc:      rpc,
		enabled:  enabled,
		bps:      bps,
		ttl:      ttl,
		accounts: cache.NewTTL[string, string](),
		logger:   logger,
	}
	if enabled {
		pk, err := solanago.PublicKeyFromBase58(treasury)
		if err != nil {
			logger.Warn("invalid fee treasury, disabling platform fee", "treasury", treasury, "err", err)
			r.enabled = false
		} else {
			r.treasury = pk
		}
	}
	return r
}

// Bps returns the configured platform fee in basis points.
func (r *Resolver) Bps() int { return r.bps }

// Enabled reports whether the platform fee is configured at all.
func (r *Resolver) Enabled() bool { return r.enabled }

// Resolve returns the treasury's token account for mint and whether the
// fee applies. Verified accounts are cached for the metadata TTL.
func (r *Resolver) Resolve(ctx context.Context, mint string) (string, domain.FeeStatus) {
	if !r.enabled {
		return "", domain.FeeDisabled
	}

	if account, ok := r.accounts.Get(mint); ok {
		return account, domain.FeeApplied
	}

	mintPk, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return "", domain.FeeOmitted
	}
	ata, _, err := solanago.FindAssociatedTokenAddress(r.treasury, mintPk)
	if err != nil {
		return "", domain.FeeOmitted
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	info, err := r.rpc.GetAccountInfo(probeCtx, ata.String())
	if err != nil {
		// Fail open: an unreachable probe must not block the swap.
		r.logger.Debug("fee account probe failed", "mint", mint, "err", err)
		return "", domain.FeeOmitted
	}
	if info == nil {
		return "", domain.FeeOmitted
	}

	account := ata.String()
	r.accounts.Set(mint, account, r.ttl)
	return account, domain.FeeApplied
}

// Invalidate drops the cached account for mint.
func (r *Resolver) Invalidate(mint string) {
	r.accounts.Delete(mint)
}
