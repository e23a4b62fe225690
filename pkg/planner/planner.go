// Package planner searches the current graph snapshot for the cheapest
// viable multi-hop routes and prices them.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/graph"
	"github.com/substratelabs/asset-exchange/pkg/metrics"
	"github.com/substratelabs/asset-exchange/pkg/types"
	"github.com/substratelabs/asset-exchange/pkg/venues"
)

// DefaultMaxTopPaths is how many ranked candidate paths are quoted
// before giving up.
const DefaultMaxTopPaths = 4

// GraphSource provides the latest published graph snapshot.
type GraphSource interface {
	Current() *graph.Snapshot
}

// FeeSupport is the slice of the fee/support provider the planner needs.
type FeeSupport interface {
	SupportsFeePayment(ctx context.Context, chain types.ChainID, asset types.AssetID) (bool, error)
}

// CostEstimator scores a candidate path; lower is cheaper. It is
// injected so venue liquidity depth or historical reliability can be
// folded in without touching the search.
type CostEstimator func(path graph.Path) decimal.Decimal

// CumulativeEdgeCost is the default estimator: the sum of edge costs.
func CumulativeEdgeCost(path graph.Path) decimal.Decimal {
	total := decimal.Zero
	for _, edge := range path {
		total = total.Add(edge.Cost)
	}
	return total
}

// Config tunes the planner.
type Config struct {
	MaxTopPaths int
	MaxHops     int
	Cost        CostEstimator
}

// Planner turns quote requests into concrete routes and fee requests
// into aggregate fees. It is stateless between requests and safe for
// concurrent use; each request reads one coherent snapshot.
type Planner struct {
	graphs  GraphSource
	venues  *venues.Registry
	support FeeSupport
	cost    CostEstimator
	maxTop  int
	maxHops int
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New creates a planner. m may be nil to disable metrics.
func New(graphs GraphSource, reg *venues.Registry, support FeeSupport, cfg Config, m *metrics.Metrics, log *zap.Logger) *Planner {
	if cfg.MaxTopPaths <= 0 {
		cfg.MaxTopPaths = DefaultMaxTopPaths
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = graph.DefaultMaxHops
	}
	if cfg.Cost == nil {
		cfg.Cost = CumulativeEdgeCost
	}
	return &Planner{
		graphs:  graphs,
		venues:  reg,
		support: support,
		cost:    cfg.Cost,
		maxTop:  cfg.MaxTopPaths,
		maxHops: cfg.MaxHops,
		metrics: m,
		log:     log.Named("planner"),
	}
}

// FindRoute searches the current snapshot for the cheapest path that
// can be fully quoted for the requested amount. Candidate paths are
// ranked by the cost estimator (ties broken by fewer hops) and quoted
// in order; a candidate failing on liquidity is discarded and the next
// one is tried, up to MaxTopPaths candidates.
func (p *Planner) FindRoute(ctx context.Context, req types.QuoteRequest) (*types.Route, error) {
	start := time.Now()
	route, err := p.findRoute(ctx, req)

	outcome := "found"
	switch {
	case errors.Is(err, types.ErrRouteNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "failed"
	}
	p.metrics.ObserveQuote(outcome, time.Since(start).Seconds())

	return route, err
}

func (p *Planner) findRoute(ctx context.Context, req types.QuoteRequest) (*types.Route, error) {
	if req.AssetIn == req.AssetOut {
		return nil, types.ErrIdentityTrade
	}
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", types.ErrQuoteFailed)
	}

	snap := p.graphs.Current()
	if snap == nil {
		return nil, types.ErrRouteNotFound
	}

	paths := snap.Paths(req.AssetIn, req.AssetOut, p.maxHops)
	if len(paths) == 0 {
		return nil, types.ErrRouteNotFound
	}

	ranked := p.rank(paths)
	if len(ranked) > p.maxTop {
		ranked = ranked[:p.maxTop]
	}

	var lastErr error
	for _, path := range ranked {
		route, err := p.quotePath(ctx, path, req.Amount, req.Direction)
		if err != nil {
			p.log.Debug("candidate path discarded",
				zap.Int("hops", len(path)), zap.Error(err))
			lastErr = err
			continue
		}
		return route, nil
	}

	return nil, fmt.Errorf("%w: %v", types.ErrQuoteFailed, lastErr)
}

// rank orders candidate paths by estimated cost, then hop count.
func (p *Planner) rank(paths []graph.Path) []graph.Path {
	type scored struct {
		path graph.Path
		cost decimal.Decimal
	}
	items := make([]scored, len(paths))
	for i, path := range paths {
		items[i] = scored{path: path, cost: p.cost(path)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].cost.Equal(items[j].cost) {
			return items[i].cost.LessThan(items[j].cost)
		}
		return len(items[i].path) < len(items[j].path)
	})

	ranked := make([]graph.Path, len(items))
	for i, item := range items {
		ranked[i] = item.path
	}
	return ranked
}

// quotePath prices every hop of a path. For sell, amounts flow forward:
// each hop's quoted output feeds the next hop's input. For buy, the
// path is quoted backward from the requested output.
func (p *Planner) quotePath(ctx context.Context, path graph.Path, amount decimal.Decimal, direction types.TradeDirection) (*types.Route, error) {
	items := make([]types.RouteItem, len(path))

	switch direction {
	case types.DirectionSell:
		current := amount
		for i, edge := range path {
			venue, ok := p.venues.Get(edge.Venue)
			if !ok {
				return nil, fmt.Errorf("%w: unknown venue %q", types.ErrRouteUnsupported, edge.Venue)
			}
			quote, err := venue.Quote(ctx, edge, current, types.DirectionSell)
			if err != nil {
				return nil, err
			}
			items[i] = types.RouteItem{Edge: edge, AmountIn: quote.AmountIn, AmountOut: quote.AmountOut}
			current = quote.AmountOut
		}

	case types.DirectionBuy:
		current := amount
		for i := len(path) - 1; i >= 0; i-- {
			edge := path[i]
			venue, ok := p.venues.Get(edge.Venue)
			if !ok {
				return nil, fmt.Errorf("%w: unknown venue %q", types.ErrRouteUnsupported, edge.Venue)
			}
			quote, err := venue.Quote(ctx, edge, current, types.DirectionBuy)
			if err != nil {
				return nil, err
			}
			items[i] = types.RouteItem{Edge: edge, AmountIn: quote.AmountIn, AmountOut: quote.AmountOut}
			current = quote.AmountIn
		}

	default:
		return nil, fmt.Errorf("%w: unknown direction %q", types.ErrQuoteFailed, direction)
	}

	route := &types.Route{Items: items, Direction: direction}
	if err := route.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrQuoteFailed, err)
	}
	return route, nil
}
