// Package venues defines the venue provider contract and the venue
// implementations the engine routes across.
package venues

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/substratelabs/asset-exchange/pkg/types"
)

// VenueProvider wraps one execution technology: an on-chain AMM, an
// asset-hub AMM or a cross-chain transfer mechanism. It exposes the
// asset-pair edges it currently supports and can quote, build and
// submit a single edge traversal.
type VenueProvider interface {
	// Name returns the unique identifier for this venue.
	Name() string

	// Kind returns the venue's execution technology tag.
	Kind() types.VenueKind

	// Initialize sets up the venue: pool discovery, chain subscriptions.
	Initialize(ctx context.Context) error

	// CurrentEdges returns a synchronous snapshot of the edges this
	// venue currently supports.
	CurrentEdges() []types.ExchangeEdge

	// Quote prices a single edge traversal. For DirectionSell the
	// amount is the input; for DirectionBuy it is the desired output.
	Quote(ctx context.Context, edge types.ExchangeEdge, amount decimal.Decimal, direction types.TradeDirection) (*types.EdgeQuote, error)

	// OperationFee estimates the network fee of executing the edge.
	OperationFee(ctx context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.OperationFee, error)

	// BuildOperation produces a submittable operation for the edge.
	BuildOperation(ctx context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.Operation, error)

	// Submit broadcasts the operation and waits for its on-chain
	// outcome. Failures are never silently retried here.
	Submit(ctx context.Context, op *types.Operation, signer types.Signer) (*types.Receipt, error)

	// SubscribeEdges registers an observer invoked whenever the edge
	// set changes (pool added or removed, chain gained or lost).
	SubscribeEdges(fn func())

	// Close releases chain subscriptions and other resources.
	Close() error
}

// Registry manages the set of venue providers known to the engine.
type Registry struct {
	providers map[string]VenueProvider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]VenueProvider)}
}

// Register adds a provider. Registration order is preserved so graph
// rebuilds are deterministic.
func (r *Registry) Register(p VenueProvider) {
	if _, ok := r.providers[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (VenueProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// All returns all registered providers in registration order.
func (r *Registry) All() []VenueProvider {
	result := make([]VenueProvider, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.providers[name])
	}
	return result
}

// InitializeAll initializes every registered provider.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, p := range r.All() {
		if err := p.Initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll closes every registered provider, returning the last error.
func (r *Registry) CloseAll() error {
	var lastErr error
	for _, p := range r.All() {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
