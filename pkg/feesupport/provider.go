// Package feesupport answers two questions the graph and planner need:
// can an asset pay network fees on its chain, and does a prospective
// edge currently have enough support to be worth planning over. Answers
// are cached per chain and refreshed in whole-chain batches rather than
// one round-trip per asset.
package feesupport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/substratelabs/asset-exchange/pkg/chainrpc"
	"github.com/substratelabs/asset-exchange/pkg/types"
)

// chainState is one chain's cached support data.
type chainState struct {
	feeAssets map[types.AssetID]bool // assets accepted for fee payment
	assets    map[types.AssetID]bool // assets that exist with live liquidity
}

// Provider caches per-chain fee-payment and asset-support data.
type Provider struct {
	clients map[types.ChainID]chainrpc.Caller
	limiter *rate.Limiter
	log     *zap.Logger

	cache map[types.ChainID]*chainState
	mu    sync.Mutex

	// invalidation observers, notified when cached state is dropped
	observers   []func()
	observersMu sync.Mutex
}

// New creates a provider. queriesPerSecond bounds chain round-trips;
// zero or negative disables limiting.
func New(clients map[types.ChainID]chainrpc.Caller, queriesPerSecond float64, log *zap.Logger) *Provider {
	limit := rate.Inf
	if queriesPerSecond > 0 {
		limit = rate.Limit(queriesPerSecond)
	}
	return &Provider{
		clients: clients,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.Named("feesupport"),
		cache:   make(map[types.ChainID]*chainState),
	}
}

// Subscribe registers an observer invoked whenever cached support data
// is invalidated. The graph provider uses this to trigger a rebuild.
func (p *Provider) Subscribe(fn func()) {
	p.observersMu.Lock()
	defer p.observersMu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Provider) notify() {
	p.observersMu.Lock()
	observers := make([]func(), len(p.observers))
	copy(observers, p.observers)
	p.observersMu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// SupportsFeePayment reports whether the asset can pay network fees on
// the chain. Unknown chains and query failures return an error; the
// caller decides whether that is fatal.
func (p *Provider) SupportsFeePayment(ctx context.Context, chain types.ChainID, asset types.AssetID) (bool, error) {
	state, err := p.chainState(ctx, chain)
	if err != nil {
		return false, err
	}
	return state.feeAssets[asset], nil
}

// EdgeViable reports whether both of the edge's endpoints are currently
// supported. A query failure degrades to "unknown support": the edge is
// excluded from planning (false) without failing the caller's rebuild.
func (p *Provider) EdgeViable(ctx context.Context, edge types.ExchangeEdge) bool {
	for _, node := range []types.AssetNode{edge.Origin, edge.Destination} {
		state, err := p.chainState(ctx, node.Chain)
		if err != nil {
			p.log.Warn("support lookup failed, excluding edge",
				zap.String("edge", edge.Key()), zap.Error(err))
			return false
		}
		if !state.assets[node.Asset] {
			return false
		}
	}
	return true
}

// InvalidateChain drops the chain's cached state. Called on registry
// metadata changes: new assets, runtime upgrades.
func (p *Provider) InvalidateChain(chain types.ChainID) {
	p.mu.Lock()
	_, existed := p.cache[chain]
	delete(p.cache, chain)
	p.mu.Unlock()

	if existed {
		p.log.Debug("chain support cache invalidated", zap.String("chain", string(chain)))
		p.notify()
	}
}

// chainState returns the chain's cached state, fetching it in a single
// batched round-trip per data set on miss.
func (p *Provider) chainState(ctx context.Context, chain types.ChainID) (*chainState, error) {
	p.mu.Lock()
	if state, ok := p.cache[chain]; ok {
		p.mu.Unlock()
		return state, nil
	}
	p.mu.Unlock()

	client, ok := p.clients[chain]
	if !ok {
		return nil, fmt.Errorf("no client for chain %s", chain)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var feeAssets []string
	if err := client.Call(ctx, "payment_feeAssets", nil, &feeAssets); err != nil {
		return nil, fmt.Errorf("fee asset query on %s: %w", chain, err)
	}

	var assets []struct {
		ID        string `json:"id"`
		Supported bool   `json:"supported"`
	}
	if err := client.Call(ctx, "assets_listSupported", nil, &assets); err != nil {
		return nil, fmt.Errorf("asset support query on %s: %w", chain, err)
	}

	state := &chainState{
		feeAssets: make(map[types.AssetID]bool, len(feeAssets)),
		assets:    make(map[types.AssetID]bool, len(assets)),
	}
	for _, id := range feeAssets {
		state.feeAssets[types.AssetID(id)] = true
	}
	for _, a := range assets {
		state.assets[types.AssetID(a.ID)] = a.Supported
	}

	p.mu.Lock()
	// Another fetch may have raced us; last write wins, both are fresh.
	p.cache[chain] = state
	p.mu.Unlock()

	p.log.Debug("chain support cached",
		zap.String("chain", string(chain)),
		zap.Int("fee_assets", len(state.feeAssets)),
		zap.Int("assets", len(state.assets)))
	return state, nil
}
