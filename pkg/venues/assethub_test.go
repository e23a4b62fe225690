package venues

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/chainrpc"
	"github.com/substratelabs/asset-exchange/pkg/types"
)

type hubPair struct {
	AssetA string `json:"asset_a"`
	AssetB string `json:"asset_b"`
}

func newTestHub(t *testing.T, rpc *fakeCaller) *AssetHubAMM {
	t.Helper()
	v := NewAssetHubAMM(AssetHubConfig{
		Name:     "hub",
		Chain:    "assethub",
		EdgeCost: decimal.NewFromInt(1),
	}, rpc, zap.NewNop())
	require.NoError(t, v.Initialize(context.Background()))
	return v
}

func TestAssetHubQuoteDelegatesToChain(t *testing.T) {
	rpc := &fakeCaller{handlers: map[string]func(any) (any, error){
		"assetConversion_listPools": func(any) (any, error) {
			return []hubPair{{AssetA: "dot", AssetB: "usdt"}}, nil
		},
		"assetConversion_quotePriceExactTokensForTokens": func(any) (any, error) {
			return map[string]string{"amount": "42.5", "fee": "0.1"}, nil
		},
		"assetConversion_quotePriceTokensForExactTokens": func(any) (any, error) {
			return map[string]string{"amount": "11", "fee": "0.1"}, nil
		},
	}}
	v := newTestHub(t, rpc)

	edges := v.CurrentEdges()
	require.Len(t, edges, 2)

	sell, err := v.Quote(context.Background(), edges[0], decimal.NewFromInt(10), types.DirectionSell)
	require.NoError(t, err)
	assert.True(t, sell.AmountIn.Equal(decimal.NewFromInt(10)), "sell fixes the input")
	assert.True(t, sell.AmountOut.Equal(decimal.RequireFromString("42.5")))

	buy, err := v.Quote(context.Background(), edges[0], decimal.NewFromInt(40), types.DirectionBuy)
	require.NoError(t, err)
	assert.True(t, buy.AmountOut.Equal(decimal.NewFromInt(40)), "buy fixes the output")
	assert.True(t, buy.AmountIn.Equal(decimal.NewFromInt(11)))
}

func TestAssetHubQuoteMapsLiquidityErrors(t *testing.T) {
	rpc := &fakeCaller{handlers: map[string]func(any) (any, error){
		"assetConversion_listPools": func(any) (any, error) {
			return []hubPair{{AssetA: "dot", AssetB: "usdt"}}, nil
		},
		"assetConversion_quotePriceExactTokensForTokens": func(any) (any, error) {
			return nil, &chainrpc.RPCError{Code: rpcCodeInsufficientLiquidity, Message: "pool too shallow"}
		},
	}}
	v := newTestHub(t, rpc)

	_, err := v.Quote(context.Background(), v.CurrentEdges()[0], decimal.NewFromInt(10), types.DirectionSell)
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)
}

func TestAssetHubRefreshAnnouncesPairChanges(t *testing.T) {
	pairs := []hubPair{{AssetA: "dot", AssetB: "usdt"}}
	rpc := &fakeCaller{handlers: map[string]func(any) (any, error){
		"assetConversion_listPools": func(any) (any, error) { return pairs, nil },
	}}
	v := newTestHub(t, rpc)

	notified := 0
	v.SubscribeEdges(func() { notified++ })

	// Same pair set: no announcement.
	require.NoError(t, v.Refresh(context.Background()))
	assert.Equal(t, 0, notified)

	pairs = append(pairs, hubPair{AssetA: "dot", AssetB: "glmr"})
	require.NoError(t, v.Refresh(context.Background()))
	assert.Equal(t, 1, notified)
	assert.Len(t, v.CurrentEdges(), 4)
}
