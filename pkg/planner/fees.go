package planner

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/substratelabs/asset-exchange/pkg/types"
)

// ComputeFee prices the execution of an accepted route under the given
// slippage tolerance and fee-paying asset. Only the first hop's fee may
// be paid in the designated fee asset; every later hop pays fees in its
// own input asset, and those intermediate fees are additionally
// expressed in the route's input asset so callers can present one
// all-in figure.
func (p *Planner) ComputeFee(ctx context.Context, req types.FeeRequest) (*types.Fee, error) {
	if req.Slippage.IsNegative() || req.Slippage.GreaterThan(decimal.NewFromInt(1)) {
		return nil, types.ErrInvalidSlippage
	}
	if req.Route == nil {
		return nil, fmt.Errorf("%w: no route", types.ErrQuoteFailed)
	}
	if err := req.Route.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrQuoteFailed, err)
	}

	if err := p.validateFeeAssets(ctx, req); err != nil {
		return nil, err
	}

	operationFees := make([]types.OperationFee, len(req.Route.Items))
	for i, item := range req.Route.Items {
		venue, ok := p.venues.Get(item.Edge.Venue)
		if !ok {
			return nil, fmt.Errorf("%w: unknown venue %q", types.ErrRouteUnsupported, item.Edge.Venue)
		}

		feeAsset := req.FeeAsset
		if i > 0 {
			feeAsset = item.Edge.Origin
		}

		fee, err := venue.OperationFee(ctx, item.Edge, types.OperationArgs{
			Direction: req.Route.Direction,
			AmountIn:  item.AmountIn,
			AmountOut: item.AmountOut,
			Slippage:  req.Slippage,
			FeeAsset:  feeAsset,
		})
		if err != nil {
			return nil, fmt.Errorf("fee for hop %d: %w", i, err)
		}
		operationFees[i] = *fee
	}

	intermediate, err := p.intermediateFeesInAssetIn(ctx, req.Route, operationFees)
	if err != nil {
		return nil, err
	}

	return &types.Fee{
		Route:                     req.Route,
		OperationFees:             operationFees,
		IntermediateFeesInAssetIn: intermediate,
		Slippage:                  req.Slippage,
		FeeAsset:                  req.FeeAsset,
	}, nil
}

// validateFeeAssets checks the designated fee asset against the first
// hop's chain and every later hop's input asset against its own chain.
func (p *Planner) validateFeeAssets(ctx context.Context, req types.FeeRequest) error {
	firstChain := req.Route.Items[0].Edge.Origin.Chain
	if req.FeeAsset.Chain != firstChain {
		return fmt.Errorf("%w: fee asset %s is not on chain %s",
			types.ErrFeeAssetUnsupported, req.FeeAsset, firstChain)
	}

	ok, err := p.support.SupportsFeePayment(ctx, req.FeeAsset.Chain, req.FeeAsset.Asset)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrFeeAssetUnsupported, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s cannot pay fees on %s",
			types.ErrFeeAssetUnsupported, req.FeeAsset, req.FeeAsset.Chain)
	}

	for i := 1; i < len(req.Route.Items); i++ {
		origin := req.Route.Items[i].Edge.Origin
		ok, err := p.support.SupportsFeePayment(ctx, origin.Chain, origin.Asset)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrFeeAssetUnsupported, err)
		}
		if !ok {
			return fmt.Errorf("%w: hop %d input %s cannot pay fees on %s",
				types.ErrFeeAssetUnsupported, i, origin, origin.Chain)
		}
	}
	return nil
}

// intermediateFeesInAssetIn converts the fees of hops past the first
// into the route's input asset by reverse-quoting each fee back through
// the preceding hops.
func (p *Planner) intermediateFeesInAssetIn(ctx context.Context, route *types.Route, fees []types.OperationFee) (decimal.Decimal, error) {
	total := decimal.Zero

	for i := 1; i < len(route.Items); i++ {
		needed := fees[i].Amount
		if needed.Sign() <= 0 {
			continue
		}

		for j := i - 1; j >= 0; j-- {
			edge := route.Items[j].Edge
			venue, ok := p.venues.Get(edge.Venue)
			if !ok {
				return decimal.Zero, fmt.Errorf("%w: unknown venue %q", types.ErrRouteUnsupported, edge.Venue)
			}
			quote, err := venue.Quote(ctx, edge, needed, types.DirectionBuy)
			if err != nil {
				return decimal.Zero, fmt.Errorf("intermediate fee conversion at hop %d: %w", j, err)
			}
			needed = quote.AmountIn
		}

		total = total.Add(needed)
	}

	return total, nil
}
