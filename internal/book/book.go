package book

// Level is one resting price level of an order book side.
type Level struct {
	Price    float64
	Quantity float64
}

// Side is one side of a book, best price first: descending for bids,
// ascending for asks.
type Side []Level

func (s Side) Best() (Level, bool) {
	if len(s) == 0 {
		return Level{}, false
	}
	return s[0], true
}

// DepthBetter accumulates resting quantity at prices equal to or better
// than limit. For a bid side "better" means higher, for an ask side lower.
func (s Side) DepthBetter(limit float64, isBid bool) float64 {
	var depth float64
	for _, lvl := range s {
		if isBid && lvl.Price < limit {
			break
		}
		if !isBid && lvl.Price > limit {
			break
		}
		depth += lvl.Quantity
	}
	return depth
}

// WhaleLevel returns the first price at which cumulative resting quantity
// reaches threshold. Used to place back orders beyond large resting size.
func (s Side) WhaleLevel(threshold float64) (float64, bool) {
	if threshold <= 0 {
		return 0, false
	}
	var depth float64
	for _, lvl := range s {
		depth += lvl.Quantity
		if depth >= threshold {
			return lvl.Price, true
		}
	}
	return 0, false
}

// Mid returns the midpoint and relative spread of a two-sided book.
func Mid(bids, asks Side) (mid, spread float64, ok bool) {
	bestBid, okBid := bids.Best()
	bestAsk, okAsk := asks.Best()
	if !okBid || !okAsk || bestBid.Price <= 0 || bestAsk.Price <= 0 {
		return 0, 0, false
	}
	mid = (bestBid.Price + bestAsk.Price) / 2
	if mid <= 0 {
		return 0, 0, false
	}
	spread = (bestAsk.Price - bestBid.Price) / mid
	return mid, spread, true
}
