package venue

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Kind discriminates execution venues. Results that cross the router
// carry it explicitly instead of relying on the shape of the response.
type Kind string

const (
	KindPerp       Kind = "perp"
	KindSpot       Kind = "spot"
	KindAggregator Kind = "aggregator"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Order is one hedge or scalp order bound for a venue.
type Order struct {
	Symbol        string
	Side          Side
	Venue         Kind
	Price         float64
	Quantity      float64
	ClientOrderID string
	PostOnly      bool
}

// FillEvent arrives asynchronously on a venue's trade stream. Reversal
// fills subtract from the running tally instead of adding.
type FillEvent struct {
	ClientOrderID string
	Quantity      float64
	Price         float64
	IsReversal    bool
}

// Route is a priced path through the swap aggregator.
type Route struct {
	Venue       Kind
	Label       string
	InputAsset  string
	OutputAsset string
	InAmount    float64
	OutAmount   float64
	Price       float64
}

// SwapResult is what an executed route settled at.
type SwapResult struct {
	Venue    Kind
	Label    string
	Quantity float64
	Price    float64
}

var clientOrderSeq atomic.Uint64

// NewClientOrderID mints a correlation token for one logical order
// submission. Derived from a nanosecond timestamp plus a process-local
// sequence so re-hedge iterations in the same nanosecond stay distinct.
func NewClientOrderID(symbol string) string {
	return fmt.Sprintf("%s-%d-%d", symbol, time.Now().UnixNano(), clientOrderSeq.Add(1))
}
