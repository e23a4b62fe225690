package graph

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/metrics"
	"github.com/substratelabs/asset-exchange/pkg/types"
)

// VenueSource is the slice of the venue provider contract the graph
// needs: a synchronous edge snapshot and change notifications.
type VenueSource interface {
	Name() string
	CurrentEdges() []types.ExchangeEdge
	SubscribeEdges(fn func())
}

// ViabilityChecker filters edges the fee/support provider cannot vouch
// for out of the published snapshot.
type ViabilityChecker interface {
	EdgeViable(ctx context.Context, edge types.ExchangeEdge) bool
}

// Provider owns the graph's lifecycle: it rebuilds a snapshot whenever
// a venue's edge set, the fee/support state, the selected wallet or the
// chain registry changes, and republishes it to subscribers. Rebuild
// triggers arriving during a rebuild coalesce into a single follow-up
// rebuild.
type Provider struct {
	venues    []VenueSource
	viability ViabilityChecker
	log       *zap.Logger
	metrics   *metrics.Metrics

	current *Snapshot
	mu      sync.RWMutex

	subscribers map[int]chan *Snapshot
	nextSubID   int
	subMu       sync.Mutex

	trigger chan struct{}
	version uint64
}

// NewProvider creates a graph provider over the given venues. m may be
// nil to disable metrics.
func NewProvider(venues []VenueSource, viability ViabilityChecker, m *metrics.Metrics, log *zap.Logger) *Provider {
	return &Provider{
		venues:      venues,
		viability:   viability,
		log:         log.Named("graph"),
		metrics:     m,
		subscribers: make(map[int]chan *Snapshot),
		trigger:     make(chan struct{}, 1),
	}
}

// Start performs the initial rebuild, wires venue change notifications
// to the rebuild loop, and runs until ctx is canceled.
func (p *Provider) Start(ctx context.Context) {
	for _, venue := range p.venues {
		venue.SubscribeEdges(p.Trigger)
	}

	p.rebuild(ctx)

	go func() {
		for {
			select {
			case <-p.trigger:
				p.rebuild(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Trigger requests a rebuild. Safe for concurrent use; triggers during
// an in-flight rebuild collapse into one pending rebuild.
func (p *Provider) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Current returns the latest published snapshot, or nil before the
// first rebuild completes.
func (p *Provider) Current() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe delivers the current snapshot immediately (when one exists)
// and every subsequently published snapshot. The returned cancel
// function drops the subscription; the channel is closed by it.
func (p *Provider) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)

	if snap := p.Current(); snap != nil {
		ch <- snap
	}

	p.subMu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = ch
	p.subMu.Unlock()

	cancel := func() {
		p.subMu.Lock()
		if existing, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(existing)
		}
		p.subMu.Unlock()
	}
	return ch, cancel
}

// AssetsReachableFrom answers the reachability query from the latest
// snapshot; nil when no snapshot is published yet.
func (p *Provider) AssetsReachableFrom(node types.AssetNode) []types.AssetNode {
	snap := p.Current()
	if snap == nil {
		return nil
	}
	return snap.Reachability().AssetsOut(node)
}

// AssetsReachingTo is the mirror of AssetsReachableFrom.
func (p *Provider) AssetsReachingTo(node types.AssetNode) []types.AssetNode {
	snap := p.Current()
	if snap == nil {
		return nil
	}
	return snap.Reachability().AssetsIn(node)
}

// rebuild collects edges from every venue, filters them through the
// viability checker and atomically publishes a fresh snapshot. A
// failing venue is excluded from this snapshot rather than failing the
// rebuild.
func (p *Provider) rebuild(ctx context.Context) {
	start := time.Now()

	var edges []types.ExchangeEdge
	for _, venue := range p.venues {
		venueEdges := venue.CurrentEdges()

		kept := 0
		for _, edge := range venueEdges {
			if p.viability != nil && !p.viability.EdgeViable(ctx, edge) {
				continue
			}
			edges = append(edges, edge)
			kept++
		}

		if kept < len(venueEdges) {
			p.log.Debug("edges excluded by support filter",
				zap.String("venue", venue.Name()),
				zap.Int("excluded", len(venueEdges)-kept))
		}
	}

	p.version++
	snap := NewSnapshot(p.version, edges)

	p.mu.Lock()
	p.current = snap
	p.mu.Unlock()

	p.metrics.ObserveRebuild(time.Since(start).Seconds(), snap.NodeCount(), snap.EdgeCount())
	p.log.Info("graph rebuilt",
		zap.Uint64("version", snap.Version()),
		zap.Int("nodes", snap.NodeCount()),
		zap.Int("edges", snap.EdgeCount()),
		zap.Duration("took", time.Since(start)))

	p.publish(snap)
}

// publish fans the snapshot out to subscribers. A slow subscriber only
// ever observes the newest snapshot: the stale buffered one is dropped.
func (p *Provider) publish(snap *Snapshot) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for _, ch := range p.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
