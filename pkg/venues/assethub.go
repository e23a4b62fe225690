package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/chainrpc"
	"github.com/substratelabs/asset-exchange/pkg/types"
)

// AssetHubConfig configures an asset-hub AMM venue.
type AssetHubConfig struct {
	Name     string
	Chain    types.ChainID // the hub chain this venue is confined to
	EdgeCost decimal.Decimal
}

// AssetHubAMM is an AMM confined to an asset-hub style chain. Unlike
// OnChainAMM it does not track reserves locally: the hub's conversion
// pallet owns the pricing, so every quote is an RPC round-trip.
type AssetHubAMM struct {
	cfg AssetHubConfig
	rpc chainrpc.Caller
	log *zap.Logger

	pairs [][2]types.AssetID
	mu    sync.RWMutex

	observers   []func()
	observersMu sync.Mutex
}

// NewAssetHubAMM creates the venue.
func NewAssetHubAMM(cfg AssetHubConfig, rpc chainrpc.Caller, log *zap.Logger) *AssetHubAMM {
	return &AssetHubAMM{
		cfg: cfg,
		rpc: rpc,
		log: log.Named("assethub").With(zap.String("venue", cfg.Name)),
	}
}

// Name implements VenueProvider.
func (v *AssetHubAMM) Name() string { return v.cfg.Name }

// Kind implements VenueProvider.
func (v *AssetHubAMM) Kind() types.VenueKind { return types.VenueAssetHubAMM }

// Initialize implements VenueProvider: fetches the hub's pool pairs.
func (v *AssetHubAMM) Initialize(ctx context.Context) error {
	return v.Refresh(ctx)
}

// Refresh re-reads the hub's pool pairs, announcing an edge-set change
// when the set differs from the cached one.
func (v *AssetHubAMM) Refresh(ctx context.Context) error {
	var result []struct {
		AssetA string `json:"asset_a"`
		AssetB string `json:"asset_b"`
	}
	if err := v.rpc.Call(ctx, "assetConversion_listPools", nil, &result); err != nil {
		return fmt.Errorf("pool listing on %s failed: %w", v.cfg.Chain, err)
	}

	pairs := make([][2]types.AssetID, 0, len(result))
	for _, p := range result {
		pairs = append(pairs, [2]types.AssetID{types.AssetID(p.AssetA), types.AssetID(p.AssetB)})
	}

	v.mu.Lock()
	changed := len(pairs) != len(v.pairs)
	if !changed {
		for i := range pairs {
			if pairs[i] != v.pairs[i] {
				changed = true
				break
			}
		}
	}
	v.pairs = pairs
	v.mu.Unlock()

	if changed {
		v.log.Info("hub pools changed", zap.Int("count", len(pairs)))
		v.notifyEdgesChanged()
	}
	return nil
}

// CurrentEdges implements VenueProvider.
func (v *AssetHubAMM) CurrentEdges() []types.ExchangeEdge {
	v.mu.RLock()
	defer v.mu.RUnlock()

	edges := make([]types.ExchangeEdge, 0, len(v.pairs)*2)
	for _, pair := range v.pairs {
		a := types.NewAssetNode(v.cfg.Chain, pair[0])
		b := types.NewAssetNode(v.cfg.Chain, pair[1])
		handle := string(pair[0]) + "/" + string(pair[1])
		edges = append(edges,
			types.ExchangeEdge{Origin: a, Destination: b, Venue: v.cfg.Name, Kind: types.VenueAssetHubAMM, Cost: v.cfg.EdgeCost, Handle: handle},
			types.ExchangeEdge{Origin: b, Destination: a, Venue: v.cfg.Name, Kind: types.VenueAssetHubAMM, Cost: v.cfg.EdgeCost, Handle: handle},
		)
	}
	return edges
}

// Quote implements VenueProvider by asking the hub's conversion pallet.
func (v *AssetHubAMM) Quote(ctx context.Context, edge types.ExchangeEdge, amount decimal.Decimal, direction types.TradeDirection) (*types.EdgeQuote, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", types.ErrQuoteFailed)
	}

	method := "assetConversion_quotePriceExactTokensForTokens"
	if direction == types.DirectionBuy {
		method = "assetConversion_quotePriceTokensForExactTokens"
	}

	var result struct {
		Amount string `json:"amount"`
		Fee    string `json:"fee"`
	}
	params := map[string]any{
		"asset_in":  string(edge.Origin.Asset),
		"asset_out": string(edge.Destination.Asset),
		"amount":    amount.String(),
	}
	if err := v.rpc.Call(ctx, method, params, &result); err != nil {
		var rpcErr *chainrpc.RPCError
		if asRPCError(err, &rpcErr) && rpcErr.Code == rpcCodeInsufficientLiquidity {
			return nil, types.ErrInsufficientLiquidity
		}
		return nil, fmt.Errorf("hub quote on %s: %w", v.cfg.Chain, err)
	}

	quoted, err := decimal.NewFromString(result.Amount)
	if err != nil {
		return nil, fmt.Errorf("bad quoted amount %q: %w", result.Amount, err)
	}
	fee := decimal.Zero
	if result.Fee != "" {
		if fee, err = decimal.NewFromString(result.Fee); err != nil {
			return nil, fmt.Errorf("bad quote fee %q: %w", result.Fee, err)
		}
	}

	if direction == types.DirectionBuy {
		return &types.EdgeQuote{AmountIn: quoted, AmountOut: amount, VenueFee: fee}, nil
	}
	return &types.EdgeQuote{AmountIn: amount, AmountOut: quoted, VenueFee: fee}, nil
}

// OperationFee implements VenueProvider.
func (v *AssetHubAMM) OperationFee(ctx context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.OperationFee, error) {
	var result struct {
		Fee string `json:"fee"`
	}
	params := map[string]any{
		"asset_in":  string(edge.Origin.Asset),
		"asset_out": string(edge.Destination.Asset),
		"amount_in": args.AmountIn.String(),
		"fee_asset": string(args.FeeAsset.Asset),
	}
	if err := v.rpc.Call(ctx, "assetConversion_estimateSwapFee", params, &result); err != nil {
		return nil, fmt.Errorf("fee estimation failed: %w", err)
	}

	amount, err := decimal.NewFromString(result.Fee)
	if err != nil {
		return nil, fmt.Errorf("bad fee amount %q: %w", result.Fee, err)
	}
	return &types.OperationFee{Amount: amount, Asset: args.FeeAsset, Venue: v.cfg.Name}, nil
}

// BuildOperation implements VenueProvider.
func (v *AssetHubAMM) BuildOperation(ctx context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.Operation, error) {
	quote, err := v.Quote(ctx, edge, amountFor(args), args.Direction)
	if err != nil {
		return nil, err
	}

	minOut := quote.AmountOut.Mul(one.Sub(args.Slippage))

	call, err := json.Marshal(map[string]any{
		"call":           "assetConversion_swapExactTokensForTokens",
		"asset_in":       string(edge.Origin.Asset),
		"asset_out":      string(edge.Destination.Asset),
		"amount_in":      quote.AmountIn.String(),
		"min_amount_out": minOut.String(),
	})
	if err != nil {
		return nil, err
	}

	return &types.Operation{
		ID:           uuid.NewString(),
		Edge:         edge,
		AmountIn:     quote.AmountIn,
		AmountOut:    quote.AmountOut,
		MinAmountOut: minOut,
		FeeAsset:     args.FeeAsset,
		CallData:     string(call),
	}, nil
}

// Submit implements VenueProvider.
func (v *AssetHubAMM) Submit(ctx context.Context, op *types.Operation, signer types.Signer) (*types.Receipt, error) {
	signature, err := signer.Sign(ctx, v.cfg.Chain, []byte(op.CallData))
	if err != nil {
		return nil, fmt.Errorf("signing swap on %s: %w", v.cfg.Chain, err)
	}

	var result struct {
		TxHash    string `json:"tx_hash"`
		AmountOut string `json:"amount_out"`
		Fee       string `json:"fee"`
	}
	params := map[string]any{
		"address":   signer.Address(v.cfg.Chain),
		"call":      op.CallData,
		"signature": fmt.Sprintf("%x", signature),
	}
	if err := v.rpc.Call(ctx, "assetConversion_submitSwap", params, &result); err != nil {
		return nil, fmt.Errorf("swap submission on %s: %w", v.cfg.Chain, err)
	}

	amountOut, err := decimal.NewFromString(result.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("bad receipt amount %q: %w", result.AmountOut, err)
	}
	fee, err := decimal.NewFromString(result.Fee)
	if err != nil {
		return nil, fmt.Errorf("bad receipt fee %q: %w", result.Fee, err)
	}

	return &types.Receipt{
		OperationID: op.ID,
		TxHash:      result.TxHash,
		AmountOut:   amountOut,
		Fee:         fee,
		FinalizedAt: time.Now(),
	}, nil
}

// SubscribeEdges implements VenueProvider.
func (v *AssetHubAMM) SubscribeEdges(fn func()) {
	v.observersMu.Lock()
	defer v.observersMu.Unlock()
	v.observers = append(v.observers, fn)
}

// Close implements VenueProvider.
func (v *AssetHubAMM) Close() error { return nil }

func (v *AssetHubAMM) notifyEdgesChanged() {
	v.observersMu.Lock()
	observers := make([]func(), len(v.observers))
	copy(observers, v.observers)
	v.observersMu.Unlock()

	for _, fn := range observers {
		fn()
	}
}
