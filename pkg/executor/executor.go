// Package executor drives the multi-step execution of an accepted
// route: one operation per hop, submitted strictly in order.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/metrics"
	"github.com/substratelabs/asset-exchange/pkg/types"
	"github.com/substratelabs/asset-exchange/pkg/venues"
)

// SuspensionGuard keeps the host from suspending while a potentially
// minutes-long execution is in flight. Acquire and Release are
// balanced on every exit path.
type SuspensionGuard interface {
	Acquire()
	Release()
}

// NopGuard is the default guard for hosts without a suspension concept.
type NopGuard struct{}

// Acquire implements SuspensionGuard.
func (NopGuard) Acquire() {}

// Release implements SuspensionGuard.
func (NopGuard) Release() {}

// VenueDirectory resolves the venue owning a hop.
type VenueDirectory interface {
	Get(name string) (venues.VenueProvider, bool)
}

// Manager executes one accepted fee/route pair exactly once. A spent
// manager refuses reuse; a new attempt needs a new manager so unrelated
// in-flight executions never share state.
type Manager struct {
	id      string
	fee     *types.Fee
	venues  VenueDirectory
	signer  types.Signer
	guard   SuspensionGuard
	metrics *metrics.Metrics
	log     *zap.Logger

	spent atomic.Bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithGuard installs a host suspension guard.
func WithGuard(guard SuspensionGuard) Option {
	return func(m *Manager) { m.guard = guard }
}

// WithMetrics installs metrics collectors.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager creates a single-use execution manager for the fee.
func NewManager(fee *types.Fee, directory VenueDirectory, signer types.Signer, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		id:     uuid.NewString(),
		fee:    fee,
		venues: directory,
		signer: signer,
		guard:  NopGuard{},
	}
	m.log = log.Named("executor").With(zap.String("execution_id", m.id))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the execution attempt identifier.
func (m *Manager) ID() string { return m.id }

// Execute runs the route's hops in order, invoking onHopStarted(i)
// immediately before each hop's submission. The result is the final
// hop's actual output amount. On the first hop failure execution stops:
// completed hops have genuinely moved assets on-chain and are not
// rolled back, which the returned ExecutionError states explicitly.
func (m *Manager) Execute(ctx context.Context, onHopStarted func(int)) (decimal.Decimal, error) {
	if !m.spent.CompareAndSwap(false, true) {
		return decimal.Zero, types.ErrOrchestratorSpent
	}

	if m.fee == nil || m.fee.Route == nil || len(m.fee.Route.Items) == 0 {
		return decimal.Zero, fmt.Errorf("nothing to execute")
	}
	if err := m.fee.Route.Validate(); err != nil {
		return decimal.Zero, err
	}

	m.guard.Acquire()
	defer m.guard.Release()

	route := m.fee.Route
	amount := route.AmountIn()

	m.log.Info("execution started",
		zap.Int("hops", len(route.Items)),
		zap.String("amount_in", amount.String()),
		zap.String("origin", route.Origin().String()),
		zap.String("destination", route.Destination().String()))

	for i, item := range route.Items {
		received, err := m.executeHop(ctx, i, item, amount, onHopStarted)
		if err != nil {
			m.metrics.ObserveExecution("failed")
			m.log.Error("execution failed", zap.Int("hop", i), zap.Error(err))
			return decimal.Zero, &types.ExecutionError{
				HopIndex:           i,
				PartiallyCompleted: i > 0,
				Err:                err,
			}
		}
		amount = received
	}

	m.metrics.ObserveExecution("completed")
	m.log.Info("execution completed", zap.String("received", amount.String()))
	return amount, nil
}

// executeHop builds and submits hop i with the given input amount and
// returns the amount feeding the next hop.
func (m *Manager) executeHop(ctx context.Context, i int, item types.RouteItem, amountIn decimal.Decimal, onHopStarted func(int)) (decimal.Decimal, error) {
	// Cancellation is honored only before broadcast; once submitted
	// the hop is waited out by the venue.
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	venue, ok := m.venues.Get(item.Edge.Venue)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown venue %q", types.ErrRouteUnsupported, item.Edge.Venue)
	}

	// Only the first hop may pay its fee in the designated fee asset.
	feeAsset := m.fee.FeeAsset
	if i > 0 {
		feeAsset = item.Edge.Origin
	}

	op, err := venue.BuildOperation(ctx, item.Edge, types.OperationArgs{
		Direction: types.DirectionSell,
		AmountIn:  amountIn,
		AmountOut: item.AmountOut,
		Slippage:  m.fee.Slippage,
		FeeAsset:  feeAsset,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("building hop operation: %w", err)
	}

	if onHopStarted != nil {
		onHopStarted(i)
	}

	m.log.Info("submitting hop",
		zap.Int("hop", i),
		zap.String("venue", item.Edge.Venue),
		zap.String("kind", item.Edge.Kind.String()),
		zap.String("amount_in", op.AmountIn.String()))

	receipt, err := venue.Submit(ctx, op, m.signer)
	if err != nil {
		m.metrics.ObserveHop(item.Edge.Venue, "error")
		return decimal.Zero, err
	}
	m.metrics.ObserveHop(item.Edge.Venue, "ok")

	// AMM hops feed the receipt's actual output forward to absorb
	// slippage; transfers deliver the nominal quoted amount.
	if item.Edge.Kind == types.VenueCrosschainTransfer {
		return op.AmountOut, nil
	}
	return receipt.AmountOut, nil
}
