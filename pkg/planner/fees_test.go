package planner

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/graph"
	"github.com/substratelabs/asset-exchange/pkg/types"
	"github.com/substratelabs/asset-exchange/pkg/venues"
)

func feePlanner(support FeeSupport, stubs ...*stubVenue) *Planner {
	reg := venues.NewRegistry()
	for _, s := range stubs {
		reg.Register(s)
	}
	return New(&staticGraph{snap: graph.NewSnapshot(1, nil)}, reg, support,
		Config{}, nil, zap.NewNop())
}

func twoHopRoute(venue string) *types.Route {
	a := node("c1", "a")
	b := node("c1", "b")
	c := node("c2", "c")
	return &types.Route{
		Direction: types.DirectionSell,
		Items: []types.RouteItem{
			{Edge: edgeVia(venue, a, b, 1), AmountIn: decimal.NewFromInt(10), AmountOut: decimal.NewFromInt(20)},
			{Edge: edgeVia(venue, b, c, 1), AmountIn: decimal.NewFromInt(20), AmountOut: decimal.NewFromInt(40)},
		},
	}
}

func TestComputeFeeSingleHop(t *testing.T) {
	a := node("c1", "a")
	b := node("c1", "b")
	venue := &stubVenue{name: "amm", rate: decimal.NewFromInt(2), opFee: decimal.NewFromInt(3)}
	p := feePlanner(&supportAll{}, venue)

	route := &types.Route{
		Direction: types.DirectionSell,
		Items: []types.RouteItem{
			{Edge: edgeVia("amm", a, b, 1), AmountIn: decimal.NewFromInt(10), AmountOut: decimal.NewFromInt(20)},
		},
	}

	fee, err := p.ComputeFee(context.Background(), types.FeeRequest{
		Route:    route,
		Slippage: decimal.NewFromFloat(0.01),
		FeeAsset: a,
	})
	require.NoError(t, err)
	require.Len(t, fee.OperationFees, 1)
	assert.Equal(t, a, fee.OperationFees[0].Asset, "first hop pays in the designated fee asset")
	assert.True(t, fee.IntermediateFeesInAssetIn.IsZero(), "no intermediate hops, nothing to convert")
	assert.True(t, fee.TotalOperationFees().Equal(decimal.NewFromInt(3)))
}

func TestComputeFeeConvertsIntermediateFees(t *testing.T) {
	venue := &stubVenue{name: "amm", rate: decimal.NewFromInt(2), opFee: decimal.NewFromInt(4)}
	p := feePlanner(&supportAll{}, venue)

	route := twoHopRoute("amm")
	feeAsset := route.Origin()

	fee, err := p.ComputeFee(context.Background(), types.FeeRequest{
		Route:    route,
		Slippage: decimal.NewFromFloat(0.005),
		FeeAsset: feeAsset,
	})
	require.NoError(t, err)
	require.Len(t, fee.OperationFees, 2)

	assert.Equal(t, feeAsset, fee.OperationFees[0].Asset)
	assert.Equal(t, route.Items[1].Edge.Origin, fee.OperationFees[1].Asset,
		"later hops pay in their own input asset")

	// The second hop's fee of 4 units of b converts backward through the
	// first hop at rate 2, so 2 units of a.
	assert.True(t, fee.IntermediateFeesInAssetIn.Equal(decimal.NewFromInt(2)),
		"got %s", fee.IntermediateFeesInAssetIn)
}

func TestComputeFeeRejectsFeeAssetOnWrongChain(t *testing.T) {
	venue := &stubVenue{name: "amm", rate: decimal.NewFromInt(2), opFee: decimal.NewFromInt(1)}
	p := feePlanner(&supportAll{}, venue)

	_, err := p.ComputeFee(context.Background(), types.FeeRequest{
		Route:    twoHopRoute("amm"),
		Slippage: decimal.Zero,
		FeeAsset: node("elsewhere", "a"),
	})
	assert.ErrorIs(t, err, types.ErrFeeAssetUnsupported)
}

func TestComputeFeeRejectsUnsupportedFeeAsset(t *testing.T) {
	venue := &stubVenue{name: "amm", rate: decimal.NewFromInt(2), opFee: decimal.NewFromInt(1)}
	route := twoHopRoute("amm")

	p := feePlanner(&supportAll{denied: map[types.AssetNode]bool{route.Origin(): true}}, venue)

	_, err := p.ComputeFee(context.Background(), types.FeeRequest{
		Route:    route,
		Slippage: decimal.Zero,
		FeeAsset: route.Origin(),
	})
	assert.ErrorIs(t, err, types.ErrFeeAssetUnsupported)
}

func TestComputeFeeRejectsIntermediateAssetUnableToPay(t *testing.T) {
	venue := &stubVenue{name: "amm", rate: decimal.NewFromInt(2), opFee: decimal.NewFromInt(1)}
	route := twoHopRoute("amm")
	hop1In := route.Items[1].Edge.Origin

	p := feePlanner(&supportAll{denied: map[types.AssetNode]bool{hop1In: true}}, venue)

	_, err := p.ComputeFee(context.Background(), types.FeeRequest{
		Route:    route,
		Slippage: decimal.Zero,
		FeeAsset: route.Origin(),
	})
	assert.ErrorIs(t, err, types.ErrFeeAssetUnsupported)
}

func TestComputeFeeRejectsInvalidSlippage(t *testing.T) {
	venue := &stubVenue{name: "amm", rate: decimal.NewFromInt(2), opFee: decimal.NewFromInt(1)}
	p := feePlanner(&supportAll{}, venue)

	for _, slippage := range []decimal.Decimal{
		decimal.NewFromFloat(-0.01),
		decimal.NewFromFloat(1.01),
	} {
		_, err := p.ComputeFee(context.Background(), types.FeeRequest{
			Route:    twoHopRoute("amm"),
			Slippage: slippage,
			FeeAsset: node("c1", "a"),
		})
		assert.ErrorIs(t, err, types.ErrInvalidSlippage)
	}
}
