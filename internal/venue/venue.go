package venue

import (
	"context"
	"time"

	"option-scalp-bot/internal/book"
)

// PriceSource is one independent oracle feed. A false return means
// "no value": missing, stale, or failed, all handled locally.
type PriceSource interface {
	Name() string
	GetPrice(ctx context.Context, asset string) (float64, bool)
}

// Perp is the derivatives venue the engine hedges on by default.
type Perp interface {
	FairPrice(ctx context.Context, symbol string) (float64, bool)
	FundingRate(ctx context.Context, symbol string) (float64, bool)
	LastUpdate(symbol string) time.Time
	HasMarket(symbol string) bool
	PlaceOrder(ctx context.Context, order Order) (string, error)
	CancelAll(ctx context.Context, symbol string) error
	Position(ctx context.Context, symbol string) (float64, error)
}

// Spot is the order-book venue used for fallback hedging and the
// midpoint price of last resort.
type Spot interface {
	BookSide(ctx context.Context, symbol string, bid bool) (book.Side, error)
	PlaceOrder(ctx context.Context, order Order) (string, error)
	CancelAll(ctx context.Context, symbol string) error
	SettleFunds(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]string, error)
	Balance(ctx context.Context, asset string) (float64, error)
}

// Aggregator routes swaps when book depth cannot absorb a hedge.
type Aggregator interface {
	ComputeRoute(ctx context.Context, inputAsset, outputAsset string, quantity, slippageBps float64) (Route, bool)
	Execute(ctx context.Context, route Route) (SwapResult, error)
}

// FillStream delivers fill events for one market. The returned channel
// closes on disconnect; callers resubscribe.
type FillStream interface {
	Subscribe(ctx context.Context, market string) (<-chan FillEvent, error)
}
