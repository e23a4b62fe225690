package venues

import (
	"errors"

	"github.com/substratelabs/asset-exchange/pkg/chainrpc"
)

// RPC error codes the venues translate into engine errors.
const (
	rpcCodeInsufficientLiquidity = -32050
)

// asRPCError unwraps a chain node error if present.
func asRPCError(err error, target **chainrpc.RPCError) bool {
	return errors.As(err, target)
}
