// Package stub provides in-memory test doubles for the ledger clients.
package stub

import (
	"context"
	"sync"

	"solana-swap-engine/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. All fields may be
// mutated between calls; methods are safe for concurrent use.
type RPCClient struct {
	mu sync.Mutex

	Accounts    map[string]*solana.AccountInfo
	Statuses    map[string]*solana.SignatureStatus
	Blockhash   solana.Blockhash
	BlockHeight uint64
	Simulation  *solana.SimulationResult

	// SendSignature is returned by SendTransaction when SendErr is nil.
	SendSignature string
	SendErr       error
	AccountErr    error
	StatusErr     error

	// HistoryOnly marks signatures visible only with searchHistory.
	HistoryOnly map[string]bool

	SendCalls   int
	StatusCalls int
}

// NewRPCClient creates an empty stub.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts:    make(map[string]*solana.AccountInfo),
		Statuses:    make(map[string]*solana.SignatureStatus),
		HistoryOnly: make(map[string]bool),
	}
}

// GetAccountInfo returns the stubbed account, nil when absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AccountErr != nil {
		return nil, c.AccountErr
	}
	return c.Accounts[pubkey], nil
}

// GetLatestBlockhash returns the stubbed blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bh := c.Blockhash
	return &bh, nil
}

// GetBlockHeight returns the stubbed height.
func (c *RPCClient) GetBlockHeight(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BlockHeight, nil
}

// GetSignatureStatuses returns stubbed statuses in order.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, searchHistory bool, signatures ...string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StatusCalls++
	if c.StatusErr != nil {
		return nil, c.StatusErr
	}
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if c.HistoryOnly[sig] && !searchHistory {
			continue
		}
		out[i] = c.Statuses[sig]
	}
	return out, nil
}

// SendTransaction returns the stubbed signature or error.
func (c *RPCClient) SendTransaction(_ context.Context, _ string, _ solana.SendOpts) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SendCalls++
	if c.SendErr != nil {
		return "", c.SendErr
	}
	return c.SendSignature, nil
}

// SimulateTransaction returns the stubbed simulation result.
func (c *RPCClient) SimulateTransaction(_ context.Context, _ string) (*solana.SimulationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Simulation != nil {
		return c.Simulation, nil
	}
	return &solana.SimulationResult{}, nil
}
