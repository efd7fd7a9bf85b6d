// Package solana provides thin JSON-RPC 2.0 and WebSocket clients for the
// ledger endpoints the engine talks to. Transaction construction and codec
// concerns live with the callers; this package only moves requests.
package solana

import "context"

// RPCClient defines the ledger RPC surface used by the engine.
type RPCClient interface {
	// GetAccountInfo retrieves account info by public key.
	// Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetLatestBlockhash returns the latest blockhash and the last block
	// height at which a transaction using it is still valid.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// GetBlockHeight returns the current block height.
	GetBlockHeight(ctx context.Context) (uint64, error)

	// GetSignatureStatuses returns the status of each signature, in order.
	// A nil element means the signature is unknown to this node. With
	// searchHistory the node also consults its ledger history, which is
	// slower and reserved for the final delayed check.
	GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...string) ([]*SignatureStatus, error)

	// SendTransaction submits base64-encoded signed transaction bytes and
	// returns the transaction signature.
	SendTransaction(ctx context.Context, txBase64 string, opts SendOpts) (string, error)

	// SimulateTransaction simulates base64-encoded transaction bytes.
	SimulateTransaction(ctx context.Context, txBase64 string) (*SimulationResult, error)
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// Blockhash is the result of getLatestBlockhash.
type Blockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SignatureStatus is one element of a getSignatureStatuses response.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	ConfirmationStatus string      `json:"confirmationStatus"` // processed | confirmed | finalized
	Err                interface{} `json:"err"`
}

// SendOpts are per-send submission options.
type SendOpts struct {
	SkipPreflight bool
	MaxRetries    *uint64 // nil leaves retry policy to the node
}

// SimulationResult is the value block of a simulateTransaction response.
type SimulationResult struct {
	Err           interface{} `json:"err"`
	Logs          []string    `json:"logs"`
	UnitsConsumed uint64      `json:"unitsConsumed"`
}

// Failed reports whether the simulation returned an on-chain error.
func (r *SimulationResult) Failed() bool {
	return r != nil && r.Err != nil
}
