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

// TransferLink describes one supported cross-chain transfer lane.
type TransferLink struct {
	From        types.AssetNode
	To          types.AssetNode
	DeliveryFee decimal.Decimal // charged in the transferred asset
	Cost        decimal.Decimal // relative edge cost
}

// CrosschainConfig configures the cross-chain transfer venue.
type CrosschainConfig struct {
	Name  string
	Links []TransferLink

	// DeliveryPollInterval controls how often the destination chain is
	// polled for message delivery.
	DeliveryPollInterval time.Duration

	// DeliveryTimeout bounds how long Submit waits for delivery.
	DeliveryTimeout time.Duration
}

// CrosschainTransfer is the venue moving an asset between chains via
// message passing. Amount out is nominal: input minus the delivery fee.
// Submission broadcasts on the origin chain and then awaits a delivery
// acknowledgment on the destination chain, which can take minutes.
type CrosschainTransfer struct {
	cfg     CrosschainConfig
	clients map[types.ChainID]chainrpc.Caller
	log     *zap.Logger

	links map[string]TransferLink
	mu    sync.RWMutex

	observers   []func()
	observersMu sync.Mutex
}

// NewCrosschainTransfer creates the venue. clients must contain a
// caller for every chain referenced by the configured links.
func NewCrosschainTransfer(cfg CrosschainConfig, clients map[types.ChainID]chainrpc.Caller, log *zap.Logger) *CrosschainTransfer {
	if cfg.DeliveryPollInterval <= 0 {
		cfg.DeliveryPollInterval = 5 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Minute
	}

	v := &CrosschainTransfer{
		cfg:     cfg,
		clients: clients,
		log:     log.Named("crosschain").With(zap.String("venue", cfg.Name)),
		links:   make(map[string]TransferLink, len(cfg.Links)),
	}
	for _, link := range cfg.Links {
		v.links[linkHandle(link)] = link
	}
	return v
}

func linkHandle(link TransferLink) string {
	return link.From.String() + ">" + link.To.String()
}

// Name implements VenueProvider.
func (v *CrosschainTransfer) Name() string { return v.cfg.Name }

// Kind implements VenueProvider.
func (v *CrosschainTransfer) Kind() types.VenueKind { return types.VenueCrosschainTransfer }

// Initialize implements VenueProvider. Lanes are static configuration;
// chains missing a client are dropped rather than failing startup.
func (v *CrosschainTransfer) Initialize(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for handle, link := range v.links {
		if _, ok := v.clients[link.From.Chain]; !ok {
			v.log.Warn("dropping lane without origin client", zap.String("lane", handle))
			delete(v.links, handle)
			continue
		}
		if _, ok := v.clients[link.To.Chain]; !ok {
			v.log.Warn("dropping lane without destination client", zap.String("lane", handle))
			delete(v.links, handle)
		}
	}
	return nil
}

// SetLinks replaces the lane table, announcing the edge-set change.
// Used when the chain registry adds or removes chains.
func (v *CrosschainTransfer) SetLinks(links []TransferLink) {
	next := make(map[string]TransferLink, len(links))
	for _, link := range links {
		next[linkHandle(link)] = link
	}

	v.mu.Lock()
	v.links = next
	v.mu.Unlock()

	v.notifyEdgesChanged()
}

// CurrentEdges implements VenueProvider.
func (v *CrosschainTransfer) CurrentEdges() []types.ExchangeEdge {
	v.mu.RLock()
	defer v.mu.RUnlock()

	handles := make([]string, 0, len(v.links))
	for handle := range v.links {
		handles = append(handles, handle)
	}
	sort.Strings(handles)

	edges := make([]types.ExchangeEdge, 0, len(v.links))
	for _, handle := range handles {
		link := v.links[handle]
		edges = append(edges, types.ExchangeEdge{
			Origin:      link.From,
			Destination: link.To,
			Venue:       v.cfg.Name,
			Kind:        types.VenueCrosschainTransfer,
			Cost:        link.Cost,
			Handle:      handle,
		})
	}
	return edges
}

func (v *CrosschainTransfer) link(edge types.ExchangeEdge) (TransferLink, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	link, ok := v.links[edge.Handle]
	if !ok {
		return TransferLink{}, types.ErrRouteUnsupported
	}
	return link, nil
}

// Quote implements VenueProvider: a transfer's output is the input
// minus the lane's delivery fee.
func (v *CrosschainTransfer) Quote(ctx context.Context, edge types.ExchangeEdge, amount decimal.Decimal, direction types.TradeDirection) (*types.EdgeQuote, error) {
	link, err := v.link(edge)
	if err != nil {
		return nil, err
	}

	if direction == types.DirectionBuy {
		return &types.EdgeQuote{
			AmountIn:  amount.Add(link.DeliveryFee),
			AmountOut: amount,
			VenueFee:  link.DeliveryFee,
		}, nil
	}

	if amount.LessThanOrEqual(link.DeliveryFee) {
		return nil, types.ErrInsufficientLiquidity
	}
	return &types.EdgeQuote{
		AmountIn:  amount,
		AmountOut: amount.Sub(link.DeliveryFee),
		VenueFee:  link.DeliveryFee,
	}, nil
}

// OperationFee implements VenueProvider: the origin chain's transfer
// extrinsic fee, estimated in the requested fee asset.
func (v *CrosschainTransfer) OperationFee(ctx context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.OperationFee, error) {
	link, err := v.link(edge)
	if err != nil {
		return nil, err
	}

	var result struct {
		Fee string `json:"fee"`
	}
	params := map[string]any{
		"asset":      string(link.From.Asset),
		"dest_chain": string(link.To.Chain),
		"amount":     args.AmountIn.String(),
		"fee_asset":  string(args.FeeAsset.Asset),
	}
	if err := v.clients[link.From.Chain].Call(ctx, "xcm_estimateTransferFee", params, &result); err != nil {
		return nil, fmt.Errorf("transfer fee estimation failed: %w", err)
	}

	amount, err := decimal.NewFromString(result.Fee)
	if err != nil {
		return nil, fmt.Errorf("bad fee amount %q: %w", result.Fee, err)
	}
	return &types.OperationFee{Amount: amount, Asset: args.FeeAsset, Venue: v.cfg.Name}, nil
}

// BuildOperation implements VenueProvider. Slippage does not apply to
// transfers: the delivered amount is deterministic.
func (v *CrosschainTransfer) BuildOperation(ctx context.Context, edge types.ExchangeEdge, args types.OperationArgs) (*types.Operation, error) {
	quote, err := v.Quote(ctx, edge, amountFor(args), args.Direction)
	if err != nil {
		return nil, err
	}

	link, err := v.link(edge)
	if err != nil {
		return nil, err
	}

	call, err := json.Marshal(map[string]any{
		"call":       "xcm_transferAsset",
		"asset":      string(link.From.Asset),
		"dest_chain": string(link.To.Chain),
		"dest_asset": string(link.To.Asset),
		"amount":     quote.AmountIn.String(),
	})
	if err != nil {
		return nil, err
	}

	return &types.Operation{
		ID:           uuid.NewString(),
		Edge:         edge,
		AmountIn:     quote.AmountIn,
		AmountOut:    quote.AmountOut,
		MinAmountOut: quote.AmountOut,
		FeeAsset:     args.FeeAsset,
		CallData:     string(call),
	}, nil
}

// Submit implements VenueProvider: broadcasts the transfer on the
// origin chain, then polls the destination chain until the message is
// delivered or the delivery timeout elapses.
func (v *CrosschainTransfer) Submit(ctx context.Context, op *types.Operation, signer types.Signer) (*types.Receipt, error) {
	link, err := v.link(op.Edge)
	if err != nil {
		return nil, err
	}

	signature, err := signer.Sign(ctx, link.From.Chain, []byte(op.CallData))
	if err != nil {
		return nil, fmt.Errorf("signing transfer on %s: %w", link.From.Chain, err)
	}

	var submitted struct {
		TxHash    string `json:"tx_hash"`
		MessageID string `json:"message_id"`
		Fee       string `json:"fee"`
	}
	params := map[string]any{
		"address":   signer.Address(link.From.Chain),
		"call":      op.CallData,
		"signature": fmt.Sprintf("%x", signature),
	}
	if err := v.clients[link.From.Chain].Call(ctx, "xcm_submitTransfer", params, &submitted); err != nil {
		return nil, fmt.Errorf("transfer submission on %s: %w", link.From.Chain, err)
	}

	fee, err := decimal.NewFromString(submitted.Fee)
	if err != nil {
		return nil, fmt.Errorf("bad receipt fee %q: %w", submitted.Fee, err)
	}

	v.log.Info("transfer broadcast, awaiting delivery",
		zap.String("message_id", submitted.MessageID),
		zap.String("dest", string(link.To.Chain)))

	if err := v.awaitDelivery(ctx, link.To.Chain, submitted.MessageID); err != nil {
		return nil, err
	}

	return &types.Receipt{
		OperationID: op.ID,
		TxHash:      submitted.TxHash,
		AmountOut:   op.AmountOut, // nominal: transfers deliver the quoted amount
		Fee:         fee,
		FinalizedAt: time.Now(),
	}, nil
}

// awaitDelivery polls the destination chain for the message outcome.
// The message is already irreversible at this point, so caller
// cancellation is refused: polling continues until delivery, failure
// or the delivery timeout.
func (v *CrosschainTransfer) awaitDelivery(ctx context.Context, dest types.ChainID, messageID string) error {
	pollCtx := context.WithoutCancel(ctx)

	deadline := time.Now().Add(v.cfg.DeliveryTimeout)
	ticker := time.NewTicker(v.cfg.DeliveryPollInterval)
	defer ticker.Stop()

	for {
		var status struct {
			State string `json:"state"` // pending | delivered | failed
		}
		params := map[string]any{"message_id": messageID}
		err := v.clients[dest].Call(pollCtx, "xcm_queryDelivery", params, &status)
		if err == nil {
			switch status.State {
			case "delivered":
				return nil
			case "failed":
				return fmt.Errorf("cross-chain message %s failed on %s", messageID, dest)
			}
		} else {
			v.log.Warn("delivery query failed", zap.Error(err))
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("cross-chain message %s not delivered within %s", messageID, v.cfg.DeliveryTimeout)
		}

		<-ticker.C
	}
}

// SubscribeEdges implements VenueProvider.
func (v *CrosschainTransfer) SubscribeEdges(fn func()) {
	v.observersMu.Lock()
	defer v.observersMu.Unlock()
	v.observers = append(v.observers, fn)
}

// Close implements VenueProvider.
func (v *CrosschainTransfer) Close() error { return nil }

func (v *CrosschainTransfer) notifyEdgesChanged() {
	v.observersMu.Lock()
	observers := make([]func(), len(v.observers))
	copy(observers, v.observers)
	v.observersMu.Unlock()

	for _, fn := range observers {
		fn()
	}
}
