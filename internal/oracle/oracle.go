package oracle

import (
	"context"
	"math"
	"sync"
	"time"

	"option-scalp-bot/internal/book"
	"option-scalp-bot/internal/config"
	"option-scalp-bot/internal/venue"

	"go.uber.org/zap"
)

// probeQuantity sizes the aggregator quote used to imply a price for
// illiquid symbols.
const probeQuantity = 1.0

// Oracle resolves a fair value for a symbol from redundant sources in
// strict preference order, falling back to the spot book midpoint and,
// for illiquid symbols, cross-checking against the swap aggregator.
// Every failure is local: the only failure surface is an ok=false.
type Oracle struct {
	sources []venue.PriceSource
	spot    venue.Spot
	agg     venue.Aggregator
	cfg     config.OracleConfig
	log     *zap.Logger

	mu        sync.Mutex
	overrides map[string]float64
}

func New(cfg config.OracleConfig, sources []venue.PriceSource, spot venue.Spot, agg venue.Aggregator, log *zap.Logger) *Oracle {
	return &Oracle{
		sources:   sources,
		spot:      spot,
		agg:       agg,
		cfg:       cfg,
		log:       log,
		overrides: make(map[string]float64),
	}
}

// SetOverride forces a fixed price for a symbol. Test hook.
func (o *Oracle) SetOverride(symbol string, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrides[symbol] = price
}

func (o *Oracle) ClearOverride(symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.overrides, symbol)
}

// Resolve returns a fresh fair value or ok=false once the retry budget
// is exhausted. Results are never cached across calls.
func (o *Oracle) Resolve(ctx context.Context, sym config.SymbolConfig) (float64, bool) {
	o.mu.Lock()
	override, forced := o.overrides[sym.Symbol]
	o.mu.Unlock()
	if forced {
		return override, true
	}
	tries := o.cfg.Retries
	if tries < 1 {
		tries = 1
	}
	for attempt := 0; attempt < tries; attempt++ {
		if price, ok := o.resolveOnce(ctx, sym); ok {
			return price, true
		}
		if attempt == tries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(o.cfg.RetrySleep):
		}
	}
	o.log.Warn("no reliable fair value", zap.String("symbol", sym.Symbol))
	return 0, false
}

func (o *Oracle) resolveOnce(ctx context.Context, sym config.SymbolConfig) (float64, bool) {
	price, ok := o.fromSources(ctx, sym.BaseAsset)
	if !ok {
		price, ok = o.fromBookMid(ctx, sym.Symbol)
	}
	if !ok {
		return 0, false
	}
	if sym.Illiquid {
		price = o.crossCheck(ctx, sym, price)
	}
	return price, true
}

func (o *Oracle) fromSources(ctx context.Context, asset string) (float64, bool) {
	for _, src := range o.sources {
		price, ok := src.GetPrice(ctx, asset)
		if ok && price > 0 {
			return price, true
		}
	}
	return 0, false
}

func (o *Oracle) fromBookMid(ctx context.Context, symbol string) (float64, bool) {
	if o.spot == nil {
		return 0, false
	}
	bids, err := o.spot.BookSide(ctx, symbol, true)
	if err != nil {
		return 0, false
	}
	asks, err := o.spot.BookSide(ctx, symbol, false)
	if err != nil {
		return 0, false
	}
	mid, spread, ok := book.Mid(bids, asks)
	if !ok {
		return 0, false
	}
	if spread > o.cfg.MaxBookSpread {
		o.log.Debug("book spread too wide for midpoint",
			zap.String("symbol", symbol), zap.Float64("spread", spread))
		return 0, false
	}
	return mid, true
}

// crossCheck asks the aggregator for an implied price and overrides the
// oracle/midpoint value when the two disagree by more than the slippage
// threshold. Guards a thin market against a stale feed.
func (o *Oracle) crossCheck(ctx context.Context, sym config.SymbolConfig, price float64) float64 {
	if o.agg == nil {
		return price
	}
	route, ok := o.agg.ComputeRoute(ctx, sym.BaseAsset, sym.QuoteAsset, probeQuantity, 0)
	if !ok || route.Price <= 0 {
		return price
	}
	disagreement := math.Abs(route.Price-price) / price
	if disagreement > o.cfg.SlippageThreshold {
		o.log.Info("aggregator price overrides oracle",
			zap.String("symbol", sym.Symbol),
			zap.Float64("oracle", price),
			zap.Float64("implied", route.Price))
		return route.Price
	}
	return price
}
