package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/chainrpc"
	"github.com/substratelabs/asset-exchange/pkg/types"
)

var one = decimal.NewFromInt(1)
var bpsDenominator = decimal.NewFromInt(10000)

// ammPool is a constant-product liquidity pool on one chain.
type ammPool struct {
	ID       string
	AssetA   types.AssetID
	AssetB   types.AssetID
	ReserveA decimal.Decimal
	ReserveB decimal.Decimal
	FeeBps   int64
}

// feeRate returns the pool fee as a fraction.
func (p *ammPool) feeRate() decimal.Decimal {
	return decimal.NewFromInt(p.FeeBps).Div(bpsDenominator)
}

// AMMConfig configures an on-chain AMM venue.
type AMMConfig struct {
	Name     string
	Chain    types.ChainID
	EdgeCost decimal.Decimal // relative cost per traversal
}

// OnChainAMM is a venue wrapping a single chain's automated market
// maker. Pools are discovered over RPC at initialization and kept fresh
// from pushed pool events.
type OnChainAMM struct {
	cfg    AMMConfig
	rpc    chainrpc.Caller
	events <-chan chainrpc.Event
	log    *zap.Logger

	pools map[string]*ammPool
	mu    sync.RWMutex

	observers   []func()
	observersMu sync.Mutex
}

// NewOnChainAMM creates the venue. events may be nil when the chain
// offers no push feed; the edge set is then static after Initialize.
func NewOnChainAMM(cfg AMMConfig, rpc chainrpc.Caller, events <-chan chainrpc.Event, log *zap.Logger) *OnChainAMM {
	return &OnChainAMM{
		cfg:    cfg,
		rpc:    rpc,
		events: events,
		log:    log.Named("amm").With(zap.String("venue", cfg.Name)),
		pools:  make(map[string]*ammPool),
	}
}

// Name implements VenueProvider.
func (v *OnChainAMM) Name() string { return v.cfg.Name }

// Kind implements VenueProvider.
func (v *OnChainAMM) Kind() types.VenueKind { return types.VenueOnChainAMM }

type poolInfo struct {
	ID       string `json:"id"`
	AssetA   string `json:"asset_a"`
	AssetB   string `json:"asset_b"`
	ReserveA string `json:"reserve_a"`
	ReserveB string `json:"reserve_b"`
	FeeBps   int64  `json:"fee_bps"`
}

// Initialize implements VenueProvider: discovers pools and starts the
// pool event watcher.
func (v *OnChainAMM) Initialize(ctx context.Context) error {
	var infos []poolInfo
	if err := v.rpc.Call(ctx, "amm_listPools", nil, &infos); err != nil {
		return fmt.Errorf("pool discovery on %s failed: %w", v.cfg.Chain, err)
	}

	pools := make(map[string]*ammPool, len(infos))
	for _, info := range infos {
		pool, err := poolFromInfo(info)
		if err != nil {
			v.log.Warn("skipping malformed pool", zap.String("pool", info.ID), zap.Error(err))
			continue
		}
		pools[pool.ID] = pool
	}

	v.mu.Lock()
	v.pools = pools
	v.mu.Unlock()

	v.log.Info("pools discovered", zap.Int("count", len(pools)))

	if v.events != nil {
		go v.watch(ctx)
	}
	return nil
}

func poolFromInfo(info poolInfo) (*ammPool, error) {
	reserveA, err := decimal.NewFromString(info.ReserveA)
	if err != nil {
		return nil, fmt.Errorf("bad reserve_a: %w", err)
	}
	reserveB, err := decimal.NewFromString(info.ReserveB)
	if err != nil {
		return nil, fmt.Errorf("bad reserve_b: %w", err)
	}
	return &ammPool{
		ID:       info.ID,
		AssetA:   types.AssetID(info.AssetA),
		AssetB:   types.AssetID(info.AssetB),
		ReserveA: reserveA,
		ReserveB: reserveB,
		FeeBps:   info.FeeBps,
	}, nil
}

// CurrentEdges implements VenueProvider: two directed edges per pool.
func (v *OnChainAMM) CurrentEdges() []types.ExchangeEdge {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make([]string, 0, len(v.pools))
	for id := range v.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	edges := make([]types.ExchangeEdge, 0, len(v.pools)*2)
	for _, id := range ids {
		pool := v.pools[id]
		a := types.NewAssetNode(v.cfg.Chain, pool.AssetA)
		b := types.NewAssetNode(v.cfg.Chain, pool.AssetB)
		edges = append(edges,
			types.ExchangeEdge{Origin: a, Destination: b, Venue: v.cfg.Name, Kind: types.VenueOnChainAMM, Cost: v.cfg.EdgeCost, Handle: pool.ID},
			types.ExchangeEdge{Origin: b, Destination: a, Venue: v.cfg.Name, Kind: types.VenueOnChainAMM, Cost: v.cfg.EdgeCost, Handle: pool.ID},
		)
	}
	return edges
}

// reservesFor orients the pool's reserves to the edge's direction.
func (v *OnChainAMM) reservesFor(edge types.ExchangeEdge) (in, out decimal.Decimal, pool *ammPool, err error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	pool, ok := v.pools[edge.Handle]
	if !ok {
		return decimal.Zero, decimal.Zero, nil, types.ErrRouteUnsupported
	}

	switch edge.Origin.Asset {
	case pool.AssetA:
		return pool.ReserveA, pool.ReserveB, pool, nil
	case pool.AssetB:
		return pool.ReserveB, pool.ReserveA, pool, nil
	default:
		return decimal.Zero, decimal.Zero, nil, types.ErrRouteUnsupported
	}
}

// Quote implements VenueProvider using the constant-product formula.
func (v *OnChainAMM) Quote(ctx context.Context, edge types.ExchangeEdge, amount decimal.Decimal, direction types.TradeDirection) (*types.EdgeQuote, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", types.ErrQuoteFailed)
	}

	reserveIn, reserveOut, pool, err := v.reservesFor(edge)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, types.ErrInsufficientLiquidity
	}

	feeFactor := one.Sub(pool.feeRate())

	switch direction {
	case types.DirectionSell:
		effIn := amount.Mul(feeFactor)
		amountOut := effIn.Mul(reserveOut).Div(reserveIn.Add(effIn))
		if amountOut.GreaterThanOrEqual(reserveOut) {
			return nil, types.ErrInsufficientLiquidity
		}
		grossOut := amount.Mul(reserveOut).Div(reserveIn.Add(amount))
		return &types.EdgeQuote{
			AmountIn:  amount,
			AmountOut: amountOut,
			VenueFee:  grossOut.Sub(amountOut),
		}, nil

	case types.DirectionBuy:
		if amount.GreaterThanOrEqual(reserveOut) {
			return nil, types.ErrInsufficientLiquidity
		}
		effIn := amount.Mul(reserveIn).Div(reserveOut.Sub(amount))
		amountIn := effIn.Div(feeFactor)
		return &types.EdgeQuote{
			AmountIn:  amountIn,
			AmountOut: amount,
			VenueFee:  amountIn.Sub(effIn).Mul(reserveOut).Div(reserveIn),
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown direction %q", types.ErrQuoteFailed, direction)
	}
}

// OperationFee implements VenueProvider: asks the chain for the swap
// extrinsic fee in the requested fee asset.
func (v *OnChainAMM) OperationFee(ctx context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.OperationFee, error) {
	var result struct {
		Fee string `json:"fee"`
	}
	params := map[string]any{
		"pool":      edge.Handle,
		"asset_in":  string(edge.Origin.Asset),
		"amount_in": args.AmountIn.String(),
		"fee_asset": string(args.FeeAsset.Asset),
	}
	if err := v.rpc.Call(ctx, "amm_estimateSwapFee", params, &result); err != nil {
		return nil, fmt.Errorf("fee estimation failed: %w", err)
	}

	amount, err := decimal.NewFromString(result.Fee)
	if err != nil {
		return nil, fmt.Errorf("bad fee amount %q: %w", result.Fee, err)
	}
	return &types.OperationFee{Amount: amount, Asset: args.FeeAsset, Venue: v.cfg.Name}, nil
}

// BuildOperation implements VenueProvider.
func (v *OnChainAMM) BuildOperation(ctx context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.Operation, error) {
	quote, err := v.Quote(ctx, edge, amountFor(args), args.Direction)
	if err != nil {
		return nil, err
	}

	minOut := quote.AmountOut.Mul(one.Sub(args.Slippage))

	call, err := json.Marshal(map[string]any{
		"call":           "amm_swap",
		"pool":           edge.Handle,
		"asset_in":       string(edge.Origin.Asset),
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

// Submit implements VenueProvider: signs and broadcasts the swap, then
// waits for the node to report the finalized outcome.
func (v *OnChainAMM) Submit(ctx context.Context, op *types.Operation, signer types.Signer) (*types.Receipt, error) {
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
	if err := v.rpc.Call(ctx, "amm_submitSwap", params, &result); err != nil {
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
func (v *OnChainAMM) SubscribeEdges(fn func()) {
	v.observersMu.Lock()
	defer v.observersMu.Unlock()
	v.observers = append(v.observers, fn)
}

// Close implements VenueProvider.
func (v *OnChainAMM) Close() error { return nil }

func (v *OnChainAMM) notifyEdgesChanged() {
	v.observersMu.Lock()
	observers := make([]func(), len(v.observers))
	copy(observers, v.observers)
	v.observersMu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// watch consumes pushed pool events. Reserve updates only refresh
// cached state; pool creation and removal change the edge set and are
// announced to observers.
func (v *OnChainAMM) watch(ctx context.Context) {
	for {
		select {
		case ev, ok := <-v.events:
			if !ok {
				return
			}
			v.handleEvent(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (v *OnChainAMM) handleEvent(ev chainrpc.Event) {
	switch ev.Method {
	case "amm_poolChanged":
		var payload struct {
			ID       string `json:"id"`
			ReserveA string `json:"reserve_a"`
			ReserveB string `json:"reserve_b"`
		}
		if err := json.Unmarshal(ev.Params, &payload); err != nil {
			v.log.Warn("bad pool change event", zap.Error(err))
			return
		}
		reserveA, errA := decimal.NewFromString(payload.ReserveA)
		reserveB, errB := decimal.NewFromString(payload.ReserveB)
		if errA != nil || errB != nil {
			v.log.Warn("bad reserves in pool change event", zap.String("pool", payload.ID))
			return
		}

		v.mu.Lock()
		if pool, ok := v.pools[payload.ID]; ok {
			pool.ReserveA = reserveA
			pool.ReserveB = reserveB
		}
		v.mu.Unlock()

	case "amm_poolCreated":
		var info poolInfo
		if err := json.Unmarshal(ev.Params, &info); err != nil {
			v.log.Warn("bad pool creation event", zap.Error(err))
			return
		}
		pool, err := poolFromInfo(info)
		if err != nil {
			v.log.Warn("skipping malformed pool", zap.String("pool", info.ID), zap.Error(err))
			return
		}

		v.mu.Lock()
		v.pools[pool.ID] = pool
		v.mu.Unlock()

		v.log.Info("pool added", zap.String("pool", pool.ID))
		v.notifyEdgesChanged()

	case "amm_poolRemoved":
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Params, &payload); err != nil {
			return
		}

		v.mu.Lock()
		_, existed := v.pools[payload.ID]
		delete(v.pools, payload.ID)
		v.mu.Unlock()

		if existed {
			v.log.Info("pool removed", zap.String("pool", payload.ID))
			v.notifyEdgesChanged()
		}
	}
}

// amountFor picks the fixed amount of the trade from operation args.
func amountFor(args types.OperationArgs) decimal.Decimal {
	if args.Direction == types.DirectionBuy {
		return args.AmountOut
	}
	return args.AmountIn
}
