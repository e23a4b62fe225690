package types

import (
	"errors"
	"fmt"
)

// Planning and quoting errors. These are terminal results of a quote
// request and are never retried automatically.
var (
	// ErrRouteNotFound means no path connects the requested assets
	// within the hop bound. A normal, retriable condition.
	ErrRouteNotFound = errors.New("no route between requested assets")

	// ErrIdentityTrade rejects quote requests where assetIn == assetOut.
	ErrIdentityTrade = errors.New("identity trade not supported")

	// ErrQuoteFailed means candidate paths existed but none could be
	// fully quoted.
	ErrQuoteFailed = errors.New("quote failed")

	// ErrInsufficientLiquidity is returned by a venue when a hop's
	// amount exceeds what the venue can absorb.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrRouteUnsupported is returned by a venue asked to traverse an
	// edge it does not currently support.
	ErrRouteUnsupported = errors.New("edge not supported by venue")
)

// Fee errors.
var (
	// ErrFeeAssetUnsupported means the designated fee asset cannot pay
	// network fees on a chain the route touches.
	ErrFeeAssetUnsupported = errors.New("fee asset cannot pay fees on route")

	// ErrInvalidSlippage means the slippage tolerance is outside [0, 1].
	ErrInvalidSlippage = errors.New("slippage must be a rational in [0, 1]")
)

// Execution errors.
var (
	// ErrOrchestratorSpent means an execution manager was reused. Each
	// accepted fee gets exactly one execution attempt.
	ErrOrchestratorSpent = errors.New("execution manager already spent")
)

// ExecutionError reports the first hop that failed during execution.
// Hops completed before HopIndex have genuinely moved assets on-chain
// and are not rolled back; PartiallyCompleted makes that state explicit
// so callers can render it instead of implying a full failure.
type ExecutionError struct {
	HopIndex           int
	PartiallyCompleted bool
	Err                error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.PartiallyCompleted {
		return fmt.Sprintf("execution failed at hop %d after partial completion: %v", e.HopIndex, e.Err)
	}
	return fmt.Sprintf("execution failed at hop %d: %v", e.HopIndex, e.Err)
}

// Unwrap exposes the underlying chain error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
