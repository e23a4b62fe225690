package chainrpc

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/substratelabs/asset-exchange/pkg/types"
)

// RemoteSigner implements types.Signer against an external signing
// service speaking the same JSON-RPC dialect as chain nodes. The engine
// never holds keys; the wallet substrate does.
type RemoteSigner struct {
	caller    Caller
	addresses map[types.ChainID]string
}

// NewRemoteSigner creates a signer backed by the given RPC endpoint.
// addresses maps each chain to the selected wallet's address on it.
func NewRemoteSigner(caller Caller, addresses map[types.ChainID]string) *RemoteSigner {
	return &RemoteSigner{caller: caller, addresses: addresses}
}

// Address implements types.Signer.
func (s *RemoteSigner) Address(chain types.ChainID) string {
	return s.addresses[chain]
}

// Sign implements types.Signer.
func (s *RemoteSigner) Sign(ctx context.Context, chain types.ChainID, payload []byte) ([]byte, error) {
	var result struct {
		Signature string `json:"signature"`
	}

	params := map[string]any{
		"chain":   string(chain),
		"address": s.addresses[chain],
		"payload": hex.EncodeToString(payload),
	}
	if err := s.caller.Call(ctx, "signer_signPayload", params, &result); err != nil {
		return nil, fmt.Errorf("remote signing failed: %w", err)
	}

	sig, err := hex.DecodeString(result.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	return sig, nil
}
