package engine

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/config"
	"option-scalp-bot/internal/greeks"
	"option-scalp-bot/internal/venue"
)

// gammaLoop is the bounded gamma-scalp iteration. A completed round
// carries its volume-weighted fill price forward as the next round's
// fair value; an expired window re-resolves from the oracle.
func (s *Scalper) gammaLoop(ctx context.Context) {
	carry, haveCarry := 0.0, false
	for cycle := 0; cycle < s.cfg.GammaCycles; cycle++ {
		s.machine.Set(StateEvaluatingGamma)

		fv := carry
		if !haveCarry {
			v, ok := s.oracle.Resolve(ctx, s.cfg)
			if !ok {
				s.metrics.OracleMisses.Inc()
				s.metrics.CyclesSkipped.Inc()
				s.log.Warn("no fair value, skipping gamma cycle")
				return
			}
			fv = v
		}
		haveCarry = false

		positions, err := s.positions(ctx)
		if err != nil {
			s.log.Warn("position feed failed", zap.Error(err))
			return
		}
		now := time.Now()
		exp := s.calc.Evaluate(positions, fv, now)
		spread := s.stdDevSpread()
		size := roundToStep(math.Abs(exp.Gamma)*spread*fv, s.cfg.MinOrderSize)
		if size < s.cfg.MinOrderSize {
			s.log.Debug("gamma target below minimum order size", zap.Float64("size", size))
			return
		}
		s.lastFV, s.lastExposure = fv, exp

		bidPx := fv * (1 - spread)
		askPx := fv * (1 + spread)
		if s.cfg.StrikeAdjustment && exp.Gamma < 0 {
			bidPx, askPx = s.adjustTowardStrike(positions, fv, bidPx, askPx)
		}
		bidPx = roundToTick(bidPx, s.cfg.TickSize)
		askPx = roundToTick(askPx, s.cfg.TickSize)

		kind := s.fallbackIfStale(ctx, s.router.PickVenue(ctx, s.cfg, venue.SideBuy))

		s.machine.Set(StatePlacingGamma)
		s.tracker.Reset()
		var placed int
		if s.cfg.Mode != config.ModeBackOnly {
			placed += s.placeQuote(ctx, kind, venue.SideBuy, bidPx, size)
			placed += s.placeQuote(ctx, kind, venue.SideSell, askPx, size)
		}
		if s.cfg.WhaleQuantity > 0 && s.cfg.BackOrderMultiple > 0 {
			placed += s.placeBackOrders(ctx, size)
		}
		if placed == 0 {
			s.log.Warn("no gamma orders resting, deferring to next rerun")
			return
		}

		s.machine.Set(StateAwaitingGammaFill)
		target := size * s.cfg.GammaCompletePct
		done := s.tracker.WaitFor(ctx, func(filled float64) bool {
			return math.Abs(filled) >= target
		}, s.cfg.ScalpWindow)

		s.cancelQuotes(ctx, kind)
		s.recordFills(kind, netFillSide(s.tracker.Filled()))
		s.gammaRounds = cycle + 1

		if !done {
			// Window expired with thin fills; requote around a fresh price.
			continue
		}
		s.metrics.GammaScalps.Inc()
		if price, ok := s.tracker.AvgFillPrice(); ok {
			carry, haveCarry = price, true
		}
		s.machine.Set(StateRecurseGamma)
	}
	s.log.Info("gamma scalp cycles exhausted", zap.Int("bound", s.cfg.GammaCycles))
}

func (s *Scalper) placeQuote(ctx context.Context, kind venue.Kind, side venue.Side, price, size float64) int {
	order := venue.Order{
		Symbol:        s.cfg.Symbol,
		Side:          side,
		Venue:         kind,
		Price:         price,
		Quantity:      size,
		ClientOrderID: venue.NewClientOrderID(s.cfg.Symbol),
		PostOnly:      true,
	}
	s.tracker.Watch(order.ClientOrderID)
	if _, err := s.exec.Place(ctx, order); err != nil {
		s.metrics.OrdersFailed.Inc()
		s.log.Warn("gamma quote failed",
			zap.String("side", string(side)),
			zap.Float64("price", price),
			zap.Error(err))
		return 0
	}
	s.metrics.OrdersPlaced.Inc()
	return 1
}

// placeBackOrders rests wider liquidity just beyond any detected whale
// level on each book side, capped at a multiple of the primary size.
func (s *Scalper) placeBackOrders(ctx context.Context, size float64) int {
	bids, asks := s.bookSides(ctx)
	backSize := roundToStep(size*s.cfg.BackOrderMultiple, s.cfg.MinOrderSize)
	if backSize < s.cfg.MinOrderSize {
		return 0
	}
	var placed int
	if level, ok := bids.WhaleLevel(s.cfg.WhaleQuantity); ok {
		placed += s.placeQuote(ctx, venue.KindSpot, venue.SideBuy, level-s.cfg.TickSize, backSize)
	}
	if level, ok := asks.WhaleLevel(s.cfg.WhaleQuantity); ok {
		placed += s.placeQuote(ctx, venue.KindSpot, venue.SideSell, level+s.cfg.TickSize, backSize)
	}
	return placed
}

func (s *Scalper) cancelQuotes(ctx context.Context, kind venue.Kind) {
	if err := s.exec.CancelAll(ctx, kind, s.cfg.Symbol); err != nil {
		s.log.Warn("gamma cancel failed", zap.Error(err))
	}
	if kind != venue.KindSpot && s.cfg.WhaleQuantity > 0 && s.cfg.BackOrderMultiple > 0 {
		if err := s.exec.CancelAll(ctx, venue.KindSpot, s.cfg.Symbol); err != nil {
			s.log.Warn("back order cancel failed", zap.Error(err))
		}
	}
}

// adjustTowardStrike widens the quote side facing the nearest strike
// when the book is short gamma there and the strike is out of the
// money, trading some capture for less pin risk.
func (s *Scalper) adjustTowardStrike(positions []greeks.Position, fv, bidPx, askPx float64) (float64, float64) {
	strike, ok := nearestStrike(positions, fv)
	if !ok || strike == fv {
		return bidPx, askPx
	}
	if strike > fv {
		widened := fv + (strike-fv)/2
		if widened > askPx {
			askPx = widened
		}
	} else {
		widened := fv - (fv-strike)/2
		if widened < bidPx {
			bidPx = widened
		}
	}
	return bidPx, askPx
}

// netFillSide labels a straddle round by its signed fill tally: ask
// fills pull the tally negative, so a net-negative round sold.
func netFillSide(filled float64) venue.Side {
	if filled < 0 {
		return venue.SideSell
	}
	return venue.SideBuy
}

func nearestStrike(positions []greeks.Position, fv float64) (float64, bool) {
	best, found := 0.0, false
	for _, pos := range positions {
		if pos.Strike <= 0 {
			continue
		}
		if !found || math.Abs(pos.Strike-fv) < math.Abs(best-fv) {
			best, found = pos.Strike, true
		}
	}
	return best, found
}
