package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSWatcherConfig configures the signature watcher.
type WSWatcherConfig struct {
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds subscription writes.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default watcher configuration.
func DefaultWSConfig() WSWatcherConfig {
	return WSWatcherConfig{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// WSWatcher waits for signature confirmation over a WebSocket
// signatureSubscribe. Each wait dials its own connection: waits are
// short-lived and one connection per in-flight trade keeps the client
// free of reconnect bookkeeping.
type WSWatcher struct {
	endpoint  string
	config    WSWatcherConfig
	requestID atomic.Uint64
}

// NewWSWatcher creates a watcher for the given WebSocket endpoint.
func NewWSWatcher(endpoint string, config *WSWatcherConfig) *WSWatcher {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	return &WSWatcher{endpoint: endpoint, config: cfg}
}

// Endpoint returns the watcher's endpoint.
func (w *WSWatcher) Endpoint() string { return w.endpoint }

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Params *wsNotifyParams `json:"params"`
}

type wsNotifyParams struct {
	Result struct {
		Value struct {
			Err interface{} `json:"err"`
		} `json:"value"`
	} `json:"result"`
}

// WaitSignature blocks until the node notifies the signature reached
// confirmed commitment, the notification carries an on-chain error, or
// ctx is done. The returned status has ConfirmationStatus "confirmed"
// on success; Err is populated for on-chain failures.
func (w *WSWatcher) WaitSignature(ctx context.Context, signature string) (*SignatureStatus, error) {
	dialer := websocket.Dialer{HandshakeTimeout: w.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      w.requestID.Add(1),
		Method:  "signatureSubscribe",
		Params: []interface{}{
			signature,
			map[string]interface{}{"commitment": "confirmed"},
		},
	}

	conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("signatureSubscribe write: %w", err)
	}

	// Unblock the read loop when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		if msg.Error != nil {
			return nil, msg.Error
		}
		if msg.Method != "signatureNotification" || msg.Params == nil {
			continue // subscription ack or unrelated frame
		}

		status := &SignatureStatus{
			ConfirmationStatus: "confirmed",
			Err:                msg.Params.Result.Value.Err,
		}
		return status, nil
	}
}
