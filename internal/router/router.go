package router

import (
	"context"
	"math"

	"option-scalp-bot/internal/book"
	"option-scalp-bot/internal/config"
	"option-scalp-bot/internal/venue"

	"go.uber.org/zap"
)

// Splice decides how many clips an order must be cut into. If the book
// already rests enough quantity at prices no worse than the target, one
// clip suffices; otherwise enough equal clips that none exceeds the
// per-clip notional cap.
func Splice(quantity, price, notionalCap float64, side venue.Side, bids, asks book.Side) int {
	if quantity <= 0 || price <= 0 {
		return 1
	}
	resting := asks
	isBid := false
	if side == venue.SideSell {
		resting = bids
		isBid = true
	}
	if resting.DepthBetter(price, isBid) >= quantity {
		return 1
	}
	if notionalCap <= 0 {
		return 1
	}
	factor := int(math.Ceil(quantity * price / notionalCap))
	if factor < 1 {
		factor = 1
	}
	return factor
}

// Router picks the execution venue per hedge side and searches the swap
// aggregator when the book cannot absorb an order.
type Router struct {
	cfg  config.EngineConfig
	perp venue.Perp
	agg  venue.Aggregator
	log  *zap.Logger
}

func New(cfg config.EngineConfig, perp venue.Perp, agg venue.Aggregator, log *zap.Logger) *Router {
	return &Router{cfg: cfg, perp: perp, agg: agg, log: log}
}

// PickVenue chooses perp or spot for one hedge side. Symbols without a
// perp market, or hard-pinned ones, skip the funding signal entirely.
func (r *Router) PickVenue(ctx context.Context, sym config.SymbolConfig, side venue.Side) venue.Kind {
	switch sym.PinnedVenue {
	case "perp":
		return venue.KindPerp
	case "spot":
		return venue.KindSpot
	}
	if r.perp == nil || !r.perp.HasMarket(sym.Symbol) {
		return venue.KindSpot
	}
	funding, ok := r.perp.FundingRate(ctx, sym.Symbol)
	if !ok || r.cfg.FundingThreshold <= 0 {
		return venue.KindPerp
	}
	// Positive funding taxes longs, negative taxes shorts; when the rate
	// crosses the threshold against our side, spot is the cheaper venue.
	if side == venue.SideBuy && funding > r.cfg.FundingThreshold {
		return venue.KindSpot
	}
	if side == venue.SideSell && funding < -r.cfg.FundingThreshold {
		return venue.KindSpot
	}
	return venue.KindPerp
}

// BestSwapRoute probes the aggregator over a bounded set of sizing
// factors (1, 1/2, 2, 1/4, 4, ...) and returns the first route that
// strictly beats the direct hedge price.
func (r *Router) BestSwapRoute(ctx context.Context, inputAsset, outputAsset string, quantity, directPrice float64, side venue.Side) (venue.Route, bool) {
	if r.agg == nil || quantity <= 0 {
		return venue.Route{}, false
	}
	for _, factor := range sizingFactors(r.cfg.AggregatorGuesses) {
		route, ok := r.agg.ComputeRoute(ctx, inputAsset, outputAsset, quantity*factor, 0)
		if !ok || route.Price <= 0 {
			continue
		}
		effective := routeQuotePrice(route, side)
		if betterPrice(effective, directPrice, side) {
			r.log.Debug("aggregator route beats direct hedge",
				zap.String("label", route.Label),
				zap.Float64("factor", factor),
				zap.Float64("route_price", effective),
				zap.Float64("direct_price", directPrice))
			return route, true
		}
	}
	return venue.Route{}, false
}

func sizingFactors(guesses int) []float64 {
	if guesses < 1 {
		guesses = 1
	}
	factors := make([]float64, 0, guesses)
	factors = append(factors, 1)
	down, up := 0.5, 2.0
	for len(factors) < guesses {
		factors = append(factors, down)
		down /= 2
		if len(factors) < guesses {
			factors = append(factors, up)
			up *= 2
		}
	}
	return factors
}

// routeQuotePrice expresses a route's price in quote per base, the same
// units as the direct hedge price. Buy routes spend the quote asset, so
// the aggregator reports base per quote and the price must be inverted.
func routeQuotePrice(route venue.Route, side venue.Side) float64 {
	if side != venue.SideBuy {
		return route.Price
	}
	if route.OutAmount > 0 {
		return route.InAmount / route.OutAmount
	}
	return 1 / route.Price
}

func betterPrice(candidate, direct float64, side venue.Side) bool {
	if side == venue.SideBuy {
		return candidate < direct
	}
	return candidate > direct
}
