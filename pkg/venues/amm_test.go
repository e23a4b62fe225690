package venues

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/chainrpc"
	"github.com/substratelabs/asset-exchange/pkg/types"
)

// fakeCaller routes RPC methods to canned handlers.
type fakeCaller struct {
	handlers map[string]func(params any) (any, error)
}

func (f *fakeCaller) Call(_ context.Context, method string, params any, result any) error {
	handler, ok := f.handlers[method]
	if !ok {
		return errors.New("unexpected method " + method)
	}
	value, err := handler(params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func listPools(pools ...poolInfo) func(any) (any, error) {
	return func(any) (any, error) { return pools, nil }
}

func newTestAMM(t *testing.T, events chan chainrpc.Event, pools ...poolInfo) *OnChainAMM {
	t.Helper()
	rpc := &fakeCaller{handlers: map[string]func(any) (any, error){
		"amm_listPools": listPools(pools...),
	}}
	v := NewOnChainAMM(AMMConfig{
		Name:     "hydra",
		Chain:    "hydration",
		EdgeCost: decimal.NewFromInt(1),
	}, rpc, events, zap.NewNop())
	require.NoError(t, v.Initialize(context.Background()))
	return v
}

func dotUsdtPool() poolInfo {
	return poolInfo{
		ID:       "pool-1",
		AssetA:   "dot",
		AssetB:   "usdt",
		ReserveA: "10000",
		ReserveB: "50000",
		FeeBps:   30,
	}
}

func TestAMMCurrentEdges(t *testing.T) {
	v := newTestAMM(t, nil, dotUsdtPool())

	edges := v.CurrentEdges()
	require.Len(t, edges, 2, "one pool yields both directions")

	dot := types.NewAssetNode("hydration", "dot")
	usdt := types.NewAssetNode("hydration", "usdt")
	assert.Equal(t, dot, edges[0].Origin)
	assert.Equal(t, usdt, edges[0].Destination)
	assert.Equal(t, usdt, edges[1].Origin)
	assert.Equal(t, dot, edges[1].Destination)
	for _, e := range edges {
		assert.Equal(t, "pool-1", e.Handle)
		assert.Equal(t, types.VenueOnChainAMM, e.Kind)
	}
}

func TestAMMQuoteSellPreservesInvariant(t *testing.T) {
	v := newTestAMM(t, nil, dotUsdtPool())
	edge := v.CurrentEdges()[0] // dot -> usdt

	amountIn := decimal.NewFromInt(100)
	quote, err := v.Quote(context.Background(), edge, amountIn, types.DirectionSell)
	require.NoError(t, err)

	assert.True(t, quote.AmountIn.Equal(amountIn))
	assert.True(t, quote.AmountOut.Sign() > 0)
	assert.True(t, quote.VenueFee.Sign() > 0, "the pool fee shows up as a venue fee")

	// x*y=k must hold for the effective (post-fee) input.
	reserveIn := decimal.NewFromInt(10000)
	reserveOut := decimal.NewFromInt(50000)
	effIn := amountIn.Mul(decimal.NewFromFloat(0.997))
	k := reserveIn.Mul(reserveOut)
	kAfter := reserveIn.Add(effIn).Mul(reserveOut.Sub(quote.AmountOut))
	tolerance := decimal.NewFromFloat(0.0001)
	assert.True(t, kAfter.Sub(k).Abs().Div(k).LessThan(tolerance),
		"constant product violated: k=%s kAfter=%s", k, kAfter)
}

func TestAMMQuoteBuyRoundTrips(t *testing.T) {
	v := newTestAMM(t, nil, dotUsdtPool())
	edge := v.CurrentEdges()[0]

	sell, err := v.Quote(context.Background(), edge, decimal.NewFromInt(250), types.DirectionSell)
	require.NoError(t, err)

	// Buying exactly the sell quote's output must cost the original input.
	buy, err := v.Quote(context.Background(), edge, sell.AmountOut, types.DirectionBuy)
	require.NoError(t, err)

	diff := buy.AmountIn.Sub(sell.AmountIn).Abs()
	assert.True(t, diff.LessThan(decimal.NewFromFloat(0.01)),
		"sell in %s != buy in %s", sell.AmountIn, buy.AmountIn)
	assert.True(t, buy.AmountOut.Equal(sell.AmountOut))
}

func TestAMMQuoteInsufficientLiquidity(t *testing.T) {
	v := newTestAMM(t, nil, dotUsdtPool())
	edge := v.CurrentEdges()[0]

	// Asking to buy the entire output reserve cannot be served.
	_, err := v.Quote(context.Background(), edge, decimal.NewFromInt(50000), types.DirectionBuy)
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)

	_, err = v.Quote(context.Background(), edge, decimal.NewFromInt(60000), types.DirectionBuy)
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)
}

func TestAMMQuoteRejectsBadInput(t *testing.T) {
	v := newTestAMM(t, nil, dotUsdtPool())
	edge := v.CurrentEdges()[0]

	_, err := v.Quote(context.Background(), edge, decimal.Zero, types.DirectionSell)
	assert.ErrorIs(t, err, types.ErrQuoteFailed)

	ghost := edge
	ghost.Handle = "no-such-pool"
	_, err = v.Quote(context.Background(), ghost, decimal.NewFromInt(1), types.DirectionSell)
	assert.ErrorIs(t, err, types.ErrRouteUnsupported)
}

func TestAMMPoolEventsUpdateEdgeSet(t *testing.T) {
	events := make(chan chainrpc.Event, 8)
	v := newTestAMM(t, events, dotUsdtPool())

	notified := make(chan struct{}, 8)
	v.SubscribeEdges(func() { notified <- struct{}{} })

	created, _ := json.Marshal(poolInfo{
		ID: "pool-2", AssetA: "dot", AssetB: "glmr",
		ReserveA: "100", ReserveB: "900", FeeBps: 25,
	})
	events <- chainrpc.Event{Chain: "hydration", Method: "amm_poolCreated", Params: created}

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("pool creation did not announce an edge-set change")
	}
	assert.Len(t, v.CurrentEdges(), 4)

	removed, _ := json.Marshal(map[string]string{"id": "pool-2"})
	events <- chainrpc.Event{Chain: "hydration", Method: "amm_poolRemoved", Params: removed}

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("pool removal did not announce an edge-set change")
	}
	assert.Len(t, v.CurrentEdges(), 2)
}

func TestAMMReserveUpdatesChangeQuotesWithoutNotifying(t *testing.T) {
	events := make(chan chainrpc.Event, 8)
	v := newTestAMM(t, events, dotUsdtPool())

	notified := make(chan struct{}, 8)
	v.SubscribeEdges(func() { notified <- struct{}{} })

	edge := v.CurrentEdges()[0]
	before, err := v.Quote(context.Background(), edge, decimal.NewFromInt(100), types.DirectionSell)
	require.NoError(t, err)

	changed, _ := json.Marshal(map[string]string{
		"id": "pool-1", "reserve_a": "20000", "reserve_b": "50000",
	})
	events <- chainrpc.Event{Chain: "hydration", Method: "amm_poolChanged", Params: changed}

	// Reserve changes affect pricing, not topology.
	require.Eventually(t, func() bool {
		after, err := v.Quote(context.Background(), edge, decimal.NewFromInt(100), types.DirectionSell)
		return err == nil && !after.AmountOut.Equal(before.AmountOut)
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-notified:
		t.Fatal("reserve update must not announce an edge-set change")
	default:
	}
}
