// Package types defines the core data structures of the exchange engine.
package types

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ChainID uniquely identifies a chain in the registry (e.g., "polkadot").
type ChainID string

// AssetID identifies an asset within its chain (e.g., "dot", "usdt").
type AssetID string

// AssetNode identifies a tradable unit: one asset on one chain.
// It is a value type and is used directly as a graph vertex key.
type AssetNode struct {
	Chain ChainID `json:"chain"`
	Asset AssetID `json:"asset"`
}

// NewAssetNode creates an AssetNode from its parts.
func NewAssetNode(chain ChainID, asset AssetID) AssetNode {
	return AssetNode{Chain: chain, Asset: asset}
}

// String renders the node as "chain:asset".
func (n AssetNode) String() string {
	return string(n.Chain) + ":" + string(n.Asset)
}

// IsZero reports whether the node is the empty value.
func (n AssetNode) IsZero() bool {
	return n.Chain == "" && n.Asset == ""
}

// VenueKind tags the execution technology behind an edge.
type VenueKind int

const (
	// VenueOnChainAMM is an automated market maker living on a single chain.
	VenueOnChainAMM VenueKind = iota
	// VenueAssetHubAMM is an AMM confined to asset-hub style chains.
	VenueAssetHubAMM
	// VenueCrosschainTransfer moves an asset between chains via message passing.
	VenueCrosschainTransfer
)

// String returns a stable tag for the venue kind.
func (k VenueKind) String() string {
	switch k {
	case VenueOnChainAMM:
		return "onchain-amm"
	case VenueAssetHubAMM:
		return "assethub-amm"
	case VenueCrosschainTransfer:
		return "crosschain-transfer"
	default:
		return "unknown"
	}
}

// TradeDirection selects which amount of a trade is fixed.
type TradeDirection string

const (
	// DirectionSell fixes the input amount; output is quoted.
	DirectionSell TradeDirection = "sell"
	// DirectionBuy fixes the output amount; input is quoted.
	DirectionBuy TradeDirection = "buy"
)

// ExchangeEdge is one venue's capability to traverse from one asset node
// to another. Edges are produced by their owning venue provider and are
// never mutated; the graph only references current edge sets.
type ExchangeEdge struct {
	Origin      AssetNode       `json:"origin"`
	Destination AssetNode       `json:"destination"`
	Venue       string          `json:"venue"` // owning provider name
	Kind        VenueKind       `json:"kind"`
	Cost        decimal.Decimal `json:"cost"`   // relative cost estimate, lower is cheaper
	Handle      string          `json:"handle"` // opaque capability key, meaningful only to the venue
}

// Key returns a stable identity for the edge within its venue.
func (e ExchangeEdge) Key() string {
	return e.Venue + "/" + e.Handle + "/" + e.Origin.String() + ">" + e.Destination.String()
}

// EdgeQuote is the result of quoting a single edge traversal.
type EdgeQuote struct {
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
	VenueFee  decimal.Decimal `json:"venue_fee"` // denominated in the edge's destination asset
}

// RouteItem is one hop of a route together with its quoted amounts.
type RouteItem struct {
	Edge      ExchangeEdge    `json:"edge"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
}

// Route is an ordered, non-empty sequence of hops where each hop's
// destination equals the next hop's origin.
type Route struct {
	Items     []RouteItem    `json:"items"`
	Direction TradeDirection `json:"direction"`
}

// Origin returns the route's source asset node.
func (r *Route) Origin() AssetNode {
	if len(r.Items) == 0 {
		return AssetNode{}
	}
	return r.Items[0].Edge.Origin
}

// Destination returns the route's final asset node.
func (r *Route) Destination() AssetNode {
	if len(r.Items) == 0 {
		return AssetNode{}
	}
	return r.Items[len(r.Items)-1].Edge.Destination
}

// AmountIn returns the total input amount of the route.
func (r *Route) AmountIn() decimal.Decimal {
	if len(r.Items) == 0 {
		return decimal.Zero
	}
	return r.Items[0].AmountIn
}

// AmountOut returns the total output amount of the route.
func (r *Route) AmountOut() decimal.Decimal {
	if len(r.Items) == 0 {
		return decimal.Zero
	}
	return r.Items[len(r.Items)-1].AmountOut
}

// Validate checks the route's structural invariants: non-empty and
// chain-consistent (each hop's destination is the next hop's origin).
func (r *Route) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("route has no items")
	}
	for i := 0; i < len(r.Items)-1; i++ {
		cur := r.Items[i].Edge.Destination
		next := r.Items[i+1].Edge.Origin
		if cur != next {
			return fmt.Errorf("route discontinuity at hop %d: %s != %s", i, cur, next)
		}
	}
	return nil
}

// OperationFee is the fee of a single hop's operation.
type OperationFee struct {
	Amount decimal.Decimal `json:"amount"`
	Asset  AssetNode       `json:"asset"` // asset the fee is paid in
	Venue  string          `json:"venue"`
}

// Fee aggregates everything needed to execute an accepted route: per-hop
// operation fees, the slippage tolerance and the designated fee asset.
// IntermediateFeesInAssetIn carries the fees of hops past the first,
// expressed in the route's input asset.
type Fee struct {
	Route                     *Route          `json:"route"`
	OperationFees             []OperationFee  `json:"operation_fees"`
	IntermediateFeesInAssetIn decimal.Decimal `json:"intermediate_fees_in_asset_in"`
	Slippage                  decimal.Decimal `json:"slippage"` // rational in [0, 1]
	FeeAsset                  AssetNode       `json:"fee_asset"`
}

// TotalOperationFees sums the per-hop fees without conversion. Callers
// needing a single-asset figure should use IntermediateFeesInAssetIn.
func (f *Fee) TotalOperationFees() decimal.Decimal {
	total := decimal.Zero
	for _, of := range f.OperationFees {
		total = total.Add(of.Amount)
	}
	return total
}

// OperationArgs parameterize building an executable operation for an edge.
type OperationArgs struct {
	Direction TradeDirection
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	Slippage  decimal.Decimal
	FeeAsset  AssetNode
}

// Operation is a fully described, submittable hop execution. CallData is
// opaque to the engine; only the owning venue interprets it.
type Operation struct {
	ID           string          `json:"id"`
	Edge         ExchangeEdge    `json:"edge"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	AmountOut    decimal.Decimal `json:"amount_out"` // expected (nominal) output
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	FeeAsset     AssetNode       `json:"fee_asset"`
	CallData     string          `json:"call_data,omitempty"`
}

// Receipt reports the on-chain outcome of a submitted operation.
type Receipt struct {
	OperationID string          `json:"operation_id"`
	TxHash      string          `json:"tx_hash"`
	AmountOut   decimal.Decimal `json:"amount_out"` // actual output amount
	Fee         decimal.Decimal `json:"fee"`
	FinalizedAt time.Time       `json:"finalized_at"`
}

// Signer is the wallet substrate boundary: it signs an opaque payload
// for a chain. Key management is outside the engine.
type Signer interface {
	// Address returns the signing address on the given chain.
	Address(chain ChainID) string

	// Sign produces a signature over the payload for the given chain.
	Sign(ctx context.Context, chain ChainID, payload []byte) ([]byte, error)
}

// QuoteRequest asks for the best route converting AssetIn to AssetOut.
type QuoteRequest struct {
	AssetIn   AssetNode       `json:"asset_in"`
	AssetOut  AssetNode       `json:"asset_out"`
	Amount    decimal.Decimal `json:"amount"`
	Direction TradeDirection  `json:"direction"`
}

// FeeRequest asks for the aggregate fee of an accepted route.
type FeeRequest struct {
	Route    *Route          `json:"route"`
	Slippage decimal.Decimal `json:"slippage"`
	FeeAsset AssetNode       `json:"fee_asset"`
}
