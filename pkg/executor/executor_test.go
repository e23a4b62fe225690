package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/types"
	"github.com/substratelabs/asset-exchange/pkg/venues"
)

func node(chain, asset string) types.AssetNode {
	return types.NewAssetNode(types.ChainID(chain), types.AssetID(asset))
}

// scriptedVenue replays per-call build and submit outcomes, recording
// everything the manager asks of it.
type scriptedVenue struct {
	name string
	kind types.VenueKind

	buildErrs  map[int]error
	submitErrs map[int]error
	actualOuts []decimal.Decimal // receipt amounts, by submit index

	builds  []types.OperationArgs
	submits []*types.Operation
}

func (v *scriptedVenue) Name() string                       { return v.name }
func (v *scriptedVenue) Kind() types.VenueKind              { return v.kind }
func (v *scriptedVenue) Initialize(context.Context) error   { return nil }
func (v *scriptedVenue) CurrentEdges() []types.ExchangeEdge { return nil }
func (v *scriptedVenue) SubscribeEdges(func())              {}
func (v *scriptedVenue) Close() error                       { return nil }

func (v *scriptedVenue) Quote(_ context.Context, _ types.ExchangeEdge, amount decimal.Decimal, _ types.TradeDirection) (*types.EdgeQuote, error) {
	return &types.EdgeQuote{AmountIn: amount, AmountOut: amount}, nil
}

func (v *scriptedVenue) OperationFee(context.Context, types.ExchangeEdge, types.OperationArgs) (*types.OperationFee, error) {
	return &types.OperationFee{Venue: v.name}, nil
}

func (v *scriptedVenue) BuildOperation(_ context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.Operation, error) {
	idx := len(v.builds)
	v.builds = append(v.builds, args)
	if err := v.buildErrs[idx]; err != nil {
		return nil, err
	}
	return &types.Operation{
		ID:        fmt.Sprintf("op-%d", idx),
		Edge:      edge,
		AmountIn:  args.AmountIn,
		AmountOut: args.AmountOut,
		FeeAsset:  args.FeeAsset,
	}, nil
}

func (v *scriptedVenue) Submit(_ context.Context, op *types.Operation, _ types.Signer) (*types.Receipt, error) {
	idx := len(v.submits)
	v.submits = append(v.submits, op)
	if err := v.submitErrs[idx]; err != nil {
		return nil, err
	}
	out := op.AmountOut
	if idx < len(v.actualOuts) {
		out = v.actualOuts[idx]
	}
	return &types.Receipt{OperationID: op.ID, TxHash: "0xabc", AmountOut: out}, nil
}

type fakeSigner struct{}

func (fakeSigner) Address(types.ChainID) string { return "addr" }
func (fakeSigner) Sign(context.Context, types.ChainID, []byte) ([]byte, error) {
	return []byte("sig"), nil
}

// countingGuard records acquire/release balance.
type countingGuard struct {
	acquired int
	released int
}

func (g *countingGuard) Acquire() { g.acquired++ }
func (g *countingGuard) Release() { g.released++ }

func twoHopFee(venue string, kinds ...types.VenueKind) *types.Fee {
	a := node("c1", "a")
	b := node("c1", "b")
	c := node("c2", "c")

	kind := func(i int) types.VenueKind {
		if i < len(kinds) {
			return kinds[i]
		}
		return types.VenueOnChainAMM
	}

	route := &types.Route{
		Direction: types.DirectionSell,
		Items: []types.RouteItem{
			{
				Edge:     types.ExchangeEdge{Origin: a, Destination: b, Venue: venue, Kind: kind(0), Cost: decimal.NewFromInt(1), Handle: "h0"},
				AmountIn: decimal.NewFromInt(100), AmountOut: decimal.NewFromInt(200),
			},
			{
				Edge:     types.ExchangeEdge{Origin: b, Destination: c, Venue: venue, Kind: kind(1), Cost: decimal.NewFromInt(1), Handle: "h1"},
				AmountIn: decimal.NewFromInt(200), AmountOut: decimal.NewFromInt(400),
			},
		},
	}
	return &types.Fee{
		Route:    route,
		Slippage: decimal.NewFromFloat(0.01),
		FeeAsset: a,
	}
}

func registryWith(v venues.VenueProvider) *venues.Registry {
	reg := venues.NewRegistry()
	reg.Register(v)
	return reg
}

func TestExecuteChainsActualAmounts(t *testing.T) {
	venue := &scriptedVenue{
		name: "v",
		actualOuts: []decimal.Decimal{
			decimal.NewFromInt(195), // hop 0 lands below its nominal 200
			decimal.NewFromInt(390),
		},
	}
	mgr := NewManager(twoHopFee("v"), registryWith(venue), fakeSigner{}, zap.NewNop())

	var started []int
	received, err := mgr.Execute(context.Background(), func(i int) { started = append(started, i) })
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, started)
	assert.True(t, received.Equal(decimal.NewFromInt(390)), "final amount is the last receipt's")

	require.Len(t, venue.builds, 2)
	assert.True(t, venue.builds[1].AmountIn.Equal(decimal.NewFromInt(195)),
		"hop 1 consumes hop 0's actual output, not the nominal quote")
}

func TestExecuteCrosschainHopForwardsNominalAmount(t *testing.T) {
	venue := &scriptedVenue{
		name: "v",
		actualOuts: []decimal.Decimal{
			decimal.NewFromInt(123), // receipt amount is ignored for transfers
			decimal.NewFromInt(400),
		},
	}
	fee := twoHopFee("v", types.VenueCrosschainTransfer, types.VenueOnChainAMM)
	mgr := NewManager(fee, registryWith(venue), fakeSigner{}, zap.NewNop())

	_, err := mgr.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, venue.builds, 2)
	assert.True(t, venue.builds[1].AmountIn.Equal(decimal.NewFromInt(200)),
		"transfers deliver the nominal quoted amount to the next hop")
}

func TestExecuteFeeAssetOnlyOnFirstHop(t *testing.T) {
	venue := &scriptedVenue{name: "v"}
	fee := twoHopFee("v")
	fee.FeeAsset = node("c1", "feeasset")

	mgr := NewManager(fee, registryWith(venue), fakeSigner{}, zap.NewNop())
	_, err := mgr.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, venue.builds, 2)
	assert.Equal(t, fee.FeeAsset, venue.builds[0].FeeAsset)
	assert.Equal(t, node("c1", "b"), venue.builds[1].FeeAsset,
		"later hops pay in their own input asset")
}

func TestExecutePartialFailureReportsHop(t *testing.T) {
	submitErr := errors.New("dispatch error")
	venue := &scriptedVenue{
		name:       "v",
		submitErrs: map[int]error{1: submitErr},
	}
	mgr := NewManager(twoHopFee("v"), registryWith(venue), fakeSigner{}, zap.NewNop())

	var started []int
	_, err := mgr.Execute(context.Background(), func(i int) { started = append(started, i) })
	require.Error(t, err)

	var execErr *types.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.HopIndex)
	assert.True(t, execErr.PartiallyCompleted, "hop 0 completed before hop 1 failed")
	assert.ErrorIs(t, execErr.Err, submitErr)
	assert.Equal(t, []int{0, 1}, started, "the failing hop was announced before submission")
}

func TestExecuteFirstHopFailureIsNotPartial(t *testing.T) {
	venue := &scriptedVenue{
		name:      "v",
		buildErrs: map[int]error{0: errors.New("no such pool")},
	}
	mgr := NewManager(twoHopFee("v"), registryWith(venue), fakeSigner{}, zap.NewNop())

	var started []int
	_, err := mgr.Execute(context.Background(), func(i int) { started = append(started, i) })
	require.Error(t, err)

	var execErr *types.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 0, execErr.HopIndex)
	assert.False(t, execErr.PartiallyCompleted)
	assert.Empty(t, started, "a hop failing before broadcast is never announced as started")
}

func TestExecuteIsSingleUse(t *testing.T) {
	venue := &scriptedVenue{name: "v"}
	mgr := NewManager(twoHopFee("v"), registryWith(venue), fakeSigner{}, zap.NewNop())

	_, err := mgr.Execute(context.Background(), nil)
	require.NoError(t, err)

	_, err = mgr.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrOrchestratorSpent)
	assert.Len(t, venue.submits, 2, "the second attempt never reached a venue")
}

func TestExecuteBalancesGuard(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		guard := &countingGuard{}
		venue := &scriptedVenue{name: "v"}
		mgr := NewManager(twoHopFee("v"), registryWith(venue), fakeSigner{}, zap.NewNop(),
			WithGuard(guard))

		_, err := mgr.Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, guard.acquired)
		assert.Equal(t, 1, guard.released)
	})

	t.Run("failure", func(t *testing.T) {
		guard := &countingGuard{}
		venue := &scriptedVenue{name: "v", submitErrs: map[int]error{0: errors.New("boom")}}
		mgr := NewManager(twoHopFee("v"), registryWith(venue), fakeSigner{}, zap.NewNop(),
			WithGuard(guard))

		_, err := mgr.Execute(context.Background(), nil)
		require.Error(t, err)
		assert.Equal(t, 1, guard.acquired)
		assert.Equal(t, 1, guard.released)
	})
}

func TestExecuteHonorsCancellationBeforeBroadcast(t *testing.T) {
	venue := &scriptedVenue{name: "v"}
	mgr := NewManager(twoHopFee("v"), registryWith(venue), fakeSigner{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Execute(ctx, nil)
	require.Error(t, err)

	var execErr *types.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 0, execErr.HopIndex)
	assert.ErrorIs(t, execErr.Err, context.Canceled)
	assert.Empty(t, venue.submits, "nothing was broadcast after cancellation")
}

func TestExecuteRejectsUnknownVenue(t *testing.T) {
	mgr := NewManager(twoHopFee("ghost"), venues.NewRegistry(), fakeSigner{}, zap.NewNop())

	_, err := mgr.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrRouteUnsupported)
}

func TestExecuteRejectsEmptyRoute(t *testing.T) {
	mgr := NewManager(&types.Fee{Route: &types.Route{}}, venues.NewRegistry(), fakeSigner{}, zap.NewNop())

	_, err := mgr.Execute(context.Background(), nil)
	assert.Error(t, err)
}
