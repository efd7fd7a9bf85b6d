// Package security inspects unsigned transaction bytes before they are
// released to a signer. The verdict is advisory: the caller decides
// what to do with a failed check.
package security

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"

	"solana-swap-engine/internal/curve"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/solana"
)

// Program ids a swap transaction is allowed to invoke.
const (
	SystemProgram        = "11111111111111111111111111111111"
	TokenProgram         = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022Program     = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProg  = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgram = "ComputeBudget111111111111111111111111111111"
	MemoProgram          = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	JupiterV6Program     = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
)

// DefaultAllowlist returns the program ids permitted in transactions we
// hand to signers.
func DefaultAllowlist() map[string]bool {
	return map[string]bool{
		SystemProgram:        true,
		TokenProgram:         true,
		Token2022Program:     true,
		AssociatedTokenProg:  true,
		ComputeBudgetProgram: true,
		MemoProgram:          true,
		JupiterV6Program:     true,
		curve.ProgramID:      true,
	}
}

// swapPrograms are the programs that actually move the swap; a
// transaction touching none of them is suspicious for this engine.
var swapPrograms = map[string]bool{
	JupiterV6Program: true,
	curve.ProgramID:  true,
}

// Validator checks transaction bytes against a fixed program allowlist
// and signer expectations. It is stateless; the only I/O is fetching
// address lookup tables.
type Validator struct {
	rpc       solana.RPCClient
	allowlist map[string]bool
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New builds a validator. A nil allowlist falls back to the default.
func New(rpc solana.RPCClient, allowlist map[string]bool, logger *slog.Logger, metrics *observability.Metrics) *Validator {
	if allowlist == nil {
		allowlist = DefaultAllowlist()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{rpc: rpc, allowlist: allowlist, logger: logger, metrics: metrics}
}

// Validate deserializes txBytes and returns a verdict. expectedSigner is
// the wallet that will sign; it must be the fee payer and within the
// required-signature prefix. An undecodable transaction is an error
// verdict, never a panic.
func (v *Validator) Validate(ctx context.Context, txBytes []byte, expectedSigner string) domain.SecurityVerdict {
	verdict := domain.SecurityVerdict{Safe: true}

	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		verdict.Safe = false
		verdict.Errors = append(verdict.Errors, fmt.Sprintf("transaction does not deserialize: %v", err))
		v.count(&verdict)
		return verdict
	}
	msg := &tx.Message

	v.checkSigners(msg, expectedSigner, &verdict)
	v.checkPrograms(msg, &verdict)
	v.resolveLookupTables(ctx, msg, &verdict)

	if !verdict.Details.UsesKnownSwapProgram {
		verdict.Warnings = append(verdict.Warnings, "transaction invokes no known swap program")
	}

	v.count(&verdict)
	return verdict
}

// checkSigners enforces fee payer and required-signer expectations.
// Program ids and the fee payer always live in the static key section,
// even for versioned messages, so no table resolution is needed here.
func (v *Validator) checkSigners(msg *solanago.Message, expectedSigner string, verdict *domain.SecurityVerdict) {
	if len(msg.AccountKeys) == 0 {
		verdict.Safe = false
		verdict.Errors = append(verdict.Errors, "transaction has no account keys")
		return
	}

	feePayer := msg.AccountKeys[0].String()
	verdict.Details.FeePayer = feePayer
	verdict.Details.FeePayerIsUser = feePayer == expectedSigner
	if !verdict.Details.FeePayerIsUser {
		verdict.Safe = false
		verdict.Errors = append(verdict.Errors, fmt.Sprintf("fee payer %s is not the expected signer", feePayer))
	}

	required := int(msg.Header.NumRequiredSignatures)
	if required > len(msg.AccountKeys) {
		required = len(msg.AccountKeys)
	}
	for i := 0; i < required; i++ {
		if msg.AccountKeys[i].String() == expectedSigner {
			verdict.Details.UserIsSigner = true
			break
		}
	}
	if !verdict.Details.UserIsSigner {
		verdict.Safe = false
		verdict.Errors = append(verdict.Errors, "expected signer is not a required signer")
	}
}

// checkPrograms checks every instruction's program id against the
// allowlist.
func (v *Validator) checkPrograms(msg *solanago.Message, verdict *domain.SecurityVerdict) {
	seen := make(map[string]bool)
	for _, inst := range msg.Instructions {
		idx := int(inst.ProgramIDIndex)
		if idx >= len(msg.AccountKeys) {
			verdict.Safe = false
			verdict.Errors = append(verdict.Errors, fmt.Sprintf("instruction program index %d out of range", idx))
			continue
		}
		program := msg.AccountKeys[idx].String()
		if !seen[program] {
			seen[program] = true
			verdict.Details.ProgramIDs = append(verdict.Details.ProgramIDs, program)
		}
		if swapPrograms[program] {
			verdict.Details.UsesKnownSwapProgram = true
		}
		if !v.allowlist[program] {
			verdict.Safe = false
			verdict.Details.UnknownPrograms = appendUnique(verdict.Details.UnknownPrograms, program)
			verdict.Errors = append(verdict.Errors, fmt.Sprintf("instruction invokes unknown program %s", program))
		}
	}
}

// resolveLookupTables fetches and decodes every referenced address
// lookup table. Loaded addresses are account inputs, never program ids,
// so an unresolvable table degrades to a warning rather than an error.
func (v *Validator) resolveLookupTables(ctx context.Context, msg *solanago.Message, verdict *domain.SecurityVerdict) {
	if len(msg.AddressTableLookups) == 0 {
		return
	}
	verdict.Details.HasLookupTables = true

	tables := make(map[solanago.PublicKey]solanago.PublicKeySlice, len(msg.AddressTableLookups))
	for _, lookup := range msg.AddressTableLookups {
		key := lookup.AccountKey
		info, err := v.rpc.GetAccountInfo(ctx, key.String())
		if err != nil || info == nil {
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("lookup table %s could not be fetched", key))
			continue
		}
		data, err := base64.StdEncoding.DecodeString(info.Data)
		if err != nil {
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("lookup table %s data is not base64", key))
			continue
		}
		state, err := addresslookuptable.DecodeAddressLookupTableState(data)
		if err != nil {
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("lookup table %s does not decode: %v", key, err))
			continue
		}
		tables[key] = state.Addresses
	}
	if len(tables) > 0 {
		if err := msg.SetAddressTables(tables); err != nil {
			v.logger.Debug("setting address tables failed", "err", err)
		}
	}
}

func (v *Validator) count(verdict *domain.SecurityVerdict) {
	if v.metrics == nil {
		return
	}
	outcome := "safe"
	if !verdict.Safe {
		outcome = "rejected"
	} else if len(verdict.Warnings) > 0 {
		outcome = "warned"
	}
	v.metrics.VerdictsTotal.WithLabelValues(outcome).Inc()
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
