package chainrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/types"
)

func rpcServer(t *testing.T, handler func(req rpcRequest) (any, *RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)

		result, rpcErr := handler(req)

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClientCall(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) (any, *RPCError) {
		assert.Equal(t, "state_getBalance", req.Method)
		return map[string]string{"balance": "12345"}, nil
	})
	defer server.Close()

	client := NewClient("polkadot", server.URL, zap.NewNop())

	var result struct {
		Balance string `json:"balance"`
	}
	err := client.Call(context.Background(), "state_getBalance", map[string]string{"who": "addr"}, &result)
	require.NoError(t, err)
	assert.Equal(t, "12345", result.Balance)
}

func TestClientCallIncrementsRequestIDs(t *testing.T) {
	var ids []uint64
	server := rpcServer(t, func(req rpcRequest) (any, *RPCError) {
		ids = append(ids, req.ID)
		return "ok", nil
	})
	defer server.Close()

	client := NewClient("polkadot", server.URL, zap.NewNop())
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Call(context.Background(), "m", nil, nil))
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestClientCallSurfacesRPCErrors(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) (any, *RPCError) {
		return nil, &RPCError{Code: -32050, Message: "insufficient liquidity"}
	})
	defer server.Close()

	client := NewClient("polkadot", server.URL, zap.NewNop())

	err := client.Call(context.Background(), "quote", nil, nil)
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr), "node errors keep their structure")
	assert.Equal(t, -32050, rpcErr.Code)
}

func TestClientCallRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	}))
	defer server.Close()

	client := NewClient("polkadot", server.URL, zap.NewNop())
	err := client.Call(context.Background(), "m", nil, nil)
	assert.ErrorContains(t, err, "504")
}

func TestRemoteSigner(t *testing.T) {
	payload := []byte("unsigned-extrinsic")
	signature := []byte{0xde, 0xad, 0xbe, 0xef}

	server := rpcServer(t, func(req rpcRequest) (any, *RPCError) {
		assert.Equal(t, "signer_signPayload", req.Method)

		raw, _ := json.Marshal(req.Params)
		var params struct {
			Chain   string `json:"chain"`
			Address string `json:"address"`
			Payload string `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &params))
		assert.Equal(t, "polkadot", params.Chain)
		assert.Equal(t, "5Grw...", params.Address)
		assert.Equal(t, hex.EncodeToString(payload), params.Payload)

		return map[string]string{"signature": hex.EncodeToString(signature)}, nil
	})
	defer server.Close()

	client := NewClient("signer", server.URL, zap.NewNop())
	signer := NewRemoteSigner(client, map[types.ChainID]string{"polkadot": "5Grw..."})

	assert.Equal(t, "5Grw...", signer.Address("polkadot"))

	sig, err := signer.Sign(context.Background(), "polkadot", payload)
	require.NoError(t, err)
	assert.Equal(t, signature, sig)
}
