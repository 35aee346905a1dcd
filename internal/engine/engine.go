package engine

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/alerts"
	"option-scalp-bot/internal/book"
	"option-scalp-bot/internal/config"
	"option-scalp-bot/internal/greeks"
	"option-scalp-bot/internal/metrics"
	"option-scalp-bot/internal/router"
	"option-scalp-bot/internal/state"
	"option-scalp-bot/internal/timescale"
	"option-scalp-bot/internal/venue"
)

const secondsPerYear = 365 * 24 * 3600.0

// PositionFeed supplies the current option positions for a symbol,
// polled once per cycle. The engine never caches its output.
type PositionFeed interface {
	Positions(ctx context.Context, symbol string) ([]greeks.Position, error)
}

// Resolver yields a fair value, or no value when every source failed.
type Resolver interface {
	Resolve(ctx context.Context, sym config.SymbolConfig) (float64, bool)
}

// VenuePicker selects the execution venue per hedge side and searches
// the swap aggregator when the book cannot absorb an order.
type VenuePicker interface {
	PickVenue(ctx context.Context, sym config.SymbolConfig, side venue.Side) venue.Kind
	BestSwapRoute(ctx context.Context, inputAsset, outputAsset string, quantity, directPrice float64, side venue.Side) (venue.Route, bool)
}

// OrderPlacer submits and cancels orders with idempotency and retry.
type OrderPlacer interface {
	Place(ctx context.Context, order venue.Order) (string, error)
	CancelAll(ctx context.Context, kind venue.Kind, symbol string) error
}

// FillWaiter correlates fills to the current cycle's orders.
type FillWaiter interface {
	Watch(clientIDs ...string)
	Reset()
	WaitFor(ctx context.Context, pred func(filled float64) bool, timeout time.Duration) bool
	Filled() float64
	AvgFillPrice() (float64, bool)
}

// Deps are the collaborators one symbol's scalper drives. All network
// access goes through them; the scalper itself holds no connections.
type Deps struct {
	Calc     *greeks.Calculator
	Oracle   Resolver
	Router   VenuePicker
	Exec     OrderPlacer
	Tracker  FillWaiter
	Perp     venue.Perp
	Spot     venue.Spot
	Agg      venue.Aggregator
	Feed     PositionFeed
	Store    state.Store
	Metrics  *metrics.Metrics
	Alerts   *alerts.Telegram
	Recorder *timescale.Writer
	Log      *zap.Logger
}

// Scalper runs the delta-hedge and gamma-scalp cycles for one symbol.
// One instance per symbol; never shared across goroutines.
type Scalper struct {
	cfg     config.SymbolConfig
	engCfg  config.EngineConfig
	machine *Machine

	calc     *greeks.Calculator
	oracle   Resolver
	router   VenuePicker
	exec     OrderPlacer
	tracker  FillWaiter
	perp     venue.Perp
	spot     venue.Spot
	agg      venue.Aggregator
	feed     PositionFeed
	store    state.Store
	metrics  *metrics.Metrics
	alerts   *alerts.Telegram
	recorder *timescale.Writer
	log      *zap.Logger

	lastFV        float64
	lastExposure  greeks.Exposure
	lastThreshold float64
	lastInventory float64
	deltaAttempts int
	gammaRounds   int
}

func NewScalper(cfg config.SymbolConfig, engCfg config.EngineConfig, deps Deps) *Scalper {
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Scalper{
		cfg:      cfg,
		engCfg:   engCfg,
		machine:  NewMachine(),
		calc:     deps.Calc,
		oracle:   deps.Oracle,
		router:   deps.Router,
		exec:     deps.Exec,
		tracker:  deps.Tracker,
		perp:     deps.Perp,
		spot:     deps.Spot,
		agg:      deps.Agg,
		feed:     deps.Feed,
		store:    deps.Store,
		metrics:  m,
		alerts:   deps.Alerts,
		recorder: deps.Recorder,
		log:      deps.Log.With(zap.String("symbol", cfg.Symbol)),
	}
}

func (s *Scalper) State() State { return s.machine.Current() }

// RunCycle executes one full hedge cycle. It never returns an error:
// every failure inside the cycle is logged and deferred to the next
// scheduled rerun.
func (s *Scalper) RunCycle(ctx context.Context) {
	start := time.Now()
	s.deltaAttempts = 0
	s.gammaRounds = 0

	switch s.cfg.Mode {
	case config.ModeGammaOnly, config.ModeBackOnly:
		s.gammaLoop(ctx)
	default:
		s.deltaLoop(ctx)
		s.gammaLoop(ctx)
	}

	s.persist(ctx)
	s.machine.Set(StateIdle)
	s.log.Debug("cycle complete",
		zap.Duration("took", time.Since(start)),
		zap.Int("delta_attempts", s.deltaAttempts),
		zap.Int("gamma_rounds", s.gammaRounds))
}

// deltaLoop is the bounded delta-hedge iteration. Each pass re-derives
// ground truth from fresh market and position state so partial fills
// and slippage never compound an approximation.
func (s *Scalper) deltaLoop(ctx context.Context) {
	for attempt := 0; attempt < s.cfg.MaxDeltaHedges; attempt++ {
		s.machine.Set(StateEvaluatingDelta)
		s.cancelAndSettle(ctx)

		fv, ok := s.oracle.Resolve(ctx, s.cfg)
		if !ok {
			s.metrics.OracleMisses.Inc()
			s.metrics.CyclesSkipped.Inc()
			s.log.Warn("no fair value, skipping delta cycle")
			return
		}
		positions, err := s.positions(ctx)
		if err != nil {
			s.log.Warn("position feed failed", zap.Error(err))
			return
		}
		now := time.Now()
		exp := s.calc.Evaluate(positions, fv, now)
		inventory, err := s.inventory(ctx)
		if err != nil {
			s.log.Warn("inventory read failed", zap.Error(err))
			return
		}
		total := exp.Delta + inventory
		th := s.threshold(exp.Gamma, fv)
		s.lastFV, s.lastExposure, s.lastThreshold, s.lastInventory = fv, exp, th, inventory

		if math.Abs(total) <= th {
			s.machine.Set(StateNeutral)
			s.log.Info("delta neutral",
				zap.Float64("exposure", total),
				zap.Float64("threshold", th))
			return
		}

		side := venue.SideSell
		if total < 0 {
			side = venue.SideBuy
		}
		spread := s.stdDevSpread()
		slip := spread / 2
		if s.cfg.MaxSlippage > 0 && s.cfg.MaxSlippage < slip {
			slip = s.cfg.MaxSlippage
		}
		price := fv * (1 - slip)
		if side == venue.SideBuy {
			price = fv * (1 + slip)
		}
		price = roundToTick(price, s.cfg.TickSize)

		// Slippage moves the option delta too; re-derive at the limit
		// price so we do not hedge risk the fill itself removes.
		adjTotal := s.calc.Evaluate(positions, price, now).Delta + inventory
		if math.Abs(adjTotal) <= th {
			s.machine.Set(StateNeutral)
			s.log.Info("neutral at limit price", zap.Float64("exposure", adjTotal))
			return
		}
		qty := roundToStep(math.Abs(adjTotal), s.cfg.MinOrderSize)
		if qty < s.cfg.MinOrderSize {
			s.machine.Set(StateNeutral)
			return
		}

		kind := s.router.PickVenue(ctx, s.cfg, side)
		kind = s.fallbackIfStale(ctx, kind)
		bids, asks := s.bookSides(ctx)
		clips := router.Splice(qty, price, s.cfg.MaxNotionalUSD, side, bids, asks)
		if kind == venue.KindSpot && clips > 1 && s.trySwap(ctx, side, qty, price) {
			s.machine.Set(StateRecurseDelta)
			s.deltaAttempts = attempt + 1
			continue
		}

		s.machine.Set(StatePlacingDeltaOrder)
		ids, placedQty := s.placeClips(ctx, kind, side, price, qty, clips, false)
		s.deltaAttempts = attempt + 1
		if len(ids) == 0 {
			s.log.Warn("delta order submission failed, deferring to next rerun")
			return
		}

		s.machine.Set(StateAwaitingDeltaFill)
		// Clip rounding can place less than qty; a full fill of what is
		// actually resting must satisfy the wait.
		filled := s.tracker.WaitFor(ctx, func(f float64) bool {
			return math.Abs(f) >= placedQty
		}, s.cfg.TWAPInterval)
		s.recordFills(kind, side)
		s.metrics.DeltaHedges.Inc()
		if !filled {
			s.log.Info("delta fill window expired, re-hedging",
				zap.Int("attempt", attempt+1),
				zap.Float64("filled", s.tracker.Filled()),
				zap.Float64("target", qty))
		}
		s.machine.Set(StateRecurseDelta)
	}

	s.machine.Set(StateMaxDepthExceeded)
	s.metrics.BudgetExhausted.Inc()
	if s.alerts != nil {
		s.alerts.BudgetExhausted(ctx, s.cfg.Symbol, "delta", s.cfg.MaxDeltaHedges)
	}
	s.log.Warn("delta hedge budget exhausted", zap.Int("bound", s.cfg.MaxDeltaHedges))
}

// cancelAndSettle clears the previous cycle's resting orders and frees
// settled balances. Failures are logged and the cycle proceeds; the
// venue state is re-read afterwards either way.
func (s *Scalper) cancelAndSettle(ctx context.Context) {
	if s.perp != nil && s.perp.HasMarket(s.cfg.Symbol) {
		if err := s.exec.CancelAll(ctx, venue.KindPerp, s.cfg.Symbol); err != nil {
			s.log.Warn("perp cancel failed", zap.Error(err))
		}
	}
	if s.spot != nil {
		if err := s.exec.CancelAll(ctx, venue.KindSpot, s.cfg.Symbol); err != nil {
			s.log.Warn("spot cancel failed", zap.Error(err))
		}
		if err := s.spot.SettleFunds(ctx, s.cfg.Symbol); err != nil {
			s.log.Warn("settle failed", zap.Error(err))
		}
	}
}

// positions is the cycle's working set: the external feed plus any
// statically configured treasury positions.
func (s *Scalper) positions(ctx context.Context) ([]greeks.Position, error) {
	live, err := s.feed.Positions(ctx, s.cfg.Symbol)
	if err != nil {
		return nil, err
	}
	out := make([]greeks.Position, 0, len(live)+len(s.cfg.Treasury))
	out = append(out, live...)
	for _, t := range s.cfg.Treasury {
		out = append(out, greeks.Position{
			Symbol:     s.cfg.Symbol,
			Expiration: t.Expiration,
			Strike:     t.Strike,
			Type:       greeks.OptionType(t.OptionType),
			Quantity:   t.Quantity,
		})
	}
	return out, nil
}

func (s *Scalper) inventory(ctx context.Context) (float64, error) {
	total := s.cfg.DeltaOffset
	if s.perp != nil && s.perp.HasMarket(s.cfg.Symbol) {
		pos, err := s.perp.Position(ctx, s.cfg.Symbol)
		if err != nil {
			return 0, err
		}
		total += pos
	}
	if s.spot != nil {
		bal, err := s.spot.Balance(ctx, s.cfg.BaseAsset)
		if err != nil {
			return 0, err
		}
		total += bal
	}
	return total, nil
}

// stdDevSpread is the one-window confidence band width:
// impliedVol / sqrt(secondsPerYear / windowSeconds) * zScore.
func (s *Scalper) stdDevSpread() float64 {
	window := s.cfg.ScalpWindow.Seconds()
	if window <= 0 {
		return 0
	}
	return s.cfg.ImpliedVol / math.Sqrt(secondsPerYear/window) * s.cfg.ZScore
}

func (s *Scalper) threshold(gamma, fairValue float64) float64 {
	th := math.Abs(gamma) * s.stdDevSpread() * fairValue * s.cfg.GammaThresholdFactor
	if th < s.cfg.MinOrderSize {
		th = s.cfg.MinOrderSize
	}
	return th
}

// fallbackIfStale reroutes perp-bound orders to spot when the perp feed
// has not updated within the downtime threshold.
func (s *Scalper) fallbackIfStale(ctx context.Context, kind venue.Kind) venue.Kind {
	if kind != venue.KindPerp {
		return kind
	}
	if s.perp == nil || !s.perp.HasMarket(s.cfg.Symbol) {
		return venue.KindSpot
	}
	if s.engCfg.DowntimeThreshold <= 0 {
		return kind
	}
	age := time.Since(s.perp.LastUpdate(s.cfg.Symbol))
	if age > s.engCfg.DowntimeThreshold {
		s.metrics.VenueFallbacks.Inc()
		if s.alerts != nil {
			s.alerts.VenueDown(ctx, s.cfg.Symbol, age)
		}
		s.log.Warn("perp feed stale, hedging via spot", zap.Duration("age", age))
		return venue.KindSpot
	}
	return kind
}

func (s *Scalper) bookSides(ctx context.Context) (book.Side, book.Side) {
	if s.spot == nil {
		return nil, nil
	}
	bids, err := s.spot.BookSide(ctx, s.cfg.Symbol, true)
	if err != nil {
		s.log.Warn("bid side load failed", zap.Error(err))
		bids = nil
	}
	asks, err := s.spot.BookSide(ctx, s.cfg.Symbol, false)
	if err != nil {
		s.log.Warn("ask side load failed", zap.Error(err))
		asks = nil
	}
	return bids, asks
}

// trySwap executes the hedge through the aggregator when a route beats
// the direct book price. Returns true when the swap settled.
func (s *Scalper) trySwap(ctx context.Context, side venue.Side, qty, directPrice float64) bool {
	if s.agg == nil {
		return false
	}
	in, out := s.cfg.BaseAsset, s.cfg.QuoteAsset
	amount := qty
	if side == venue.SideBuy {
		in, out = out, in
		amount = qty * directPrice
	}
	route, ok := s.router.BestSwapRoute(ctx, in, out, amount, directPrice, side)
	if !ok {
		return false
	}
	result, err := s.agg.Execute(ctx, route)
	if err != nil {
		s.log.Warn("swap execution failed", zap.String("label", route.Label), zap.Error(err))
		return false
	}
	s.metrics.AggregatorSwaps.Inc()
	s.log.Info("hedged via aggregator",
		zap.String("label", result.Label),
		zap.Float64("quantity", result.Quantity),
		zap.Float64("price", result.Price))
	if s.recorder != nil {
		s.recorder.EnqueueFill(timescale.HedgeFill{
			Time:     time.Now(),
			Symbol:   s.cfg.Symbol,
			Venue:    string(venue.KindAggregator),
			Side:     string(side),
			Price:    result.Price,
			Quantity: result.Quantity,
		})
	}
	return true
}

// placeClips submits qty split into equal clips, each under a fresh
// correlation id, and registers them with the fill tracker. Returns the
// correlation ids and the total quantity actually submitted, which can
// differ from qty after clip rounding.
func (s *Scalper) placeClips(ctx context.Context, kind venue.Kind, side venue.Side, price, qty float64, clips int, postOnly bool) ([]string, float64) {
	if clips < 1 {
		clips = 1
	}
	clipQty := roundToStep(qty/float64(clips), s.cfg.MinOrderSize)
	if clipQty < s.cfg.MinOrderSize {
		clipQty = s.cfg.MinOrderSize
	}
	s.tracker.Reset()
	var placed []string
	for i := 0; i < clips; i++ {
		order := venue.Order{
			Symbol:        s.cfg.Symbol,
			Side:          side,
			Venue:         kind,
			Price:         price,
			Quantity:      clipQty,
			ClientOrderID: venue.NewClientOrderID(s.cfg.Symbol),
			PostOnly:      postOnly,
		}
		s.tracker.Watch(order.ClientOrderID)
		if _, err := s.exec.Place(ctx, order); err != nil {
			s.metrics.OrdersFailed.Inc()
			s.log.Warn("order submission failed",
				zap.String("venue", string(kind)),
				zap.Error(err))
			continue
		}
		s.metrics.OrdersPlaced.Inc()
		placed = append(placed, order.ClientOrderID)
	}
	return placed, clipQty * float64(len(placed))
}

func (s *Scalper) recordFills(kind venue.Kind, side venue.Side) {
	if s.recorder == nil {
		return
	}
	filled := s.tracker.Filled()
	if math.Abs(filled) < 1e-12 {
		return
	}
	price, ok := s.tracker.AvgFillPrice()
	if !ok {
		return
	}
	s.recorder.EnqueueFill(timescale.HedgeFill{
		Time:     time.Now(),
		Symbol:   s.cfg.Symbol,
		Venue:    string(kind),
		Side:     string(side),
		Price:    price,
		Quantity: math.Abs(filled),
	})
}

func (s *Scalper) persist(ctx context.Context) {
	snapshot := state.ScalperSnapshot{
		Symbol:      s.cfg.Symbol,
		State:       string(s.machine.Current()),
		Mode:        string(s.cfg.Mode),
		FairValue:   s.lastFV,
		Delta:       s.lastExposure.Delta,
		Gamma:       s.lastExposure.Gamma,
		Theta:       s.lastExposure.Theta,
		Threshold:   s.lastThreshold,
		Position:    s.lastInventory,
		DeltaHedges: s.deltaAttempts,
		GammaCycles: s.gammaRounds,
		UpdatedAtMS: time.Now().UnixMilli(),
	}
	if err := state.SaveScalperSnapshot(ctx, s.store, snapshot); err != nil {
		s.log.Warn("snapshot persist failed", zap.Error(err))
	}
	if s.recorder != nil {
		s.recorder.EnqueueExposure(timescale.ExposureSnapshot{
			Time:        time.Now(),
			Symbol:      s.cfg.Symbol,
			State:       snapshot.State,
			Mode:        snapshot.Mode,
			FairValue:   snapshot.FairValue,
			Delta:       snapshot.Delta,
			Gamma:       snapshot.Gamma,
			Theta:       snapshot.Theta,
			Threshold:   snapshot.Threshold,
			Position:    snapshot.Position,
			DeltaHedges: snapshot.DeltaHedges,
			GammaCycles: snapshot.GammaCycles,
		})
	}
}

func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}

// roundToTick snaps a price to the tick grid. Sub-unit ticks quantize
// through the inverse factor so binary float error from steps*tick
// cannot leak into the wire price.
func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	value := math.Round(price/tick) * tick
	factor := math.Round(1 / tick)
	if factor > 0 && math.Abs(factor*tick-1) < 1e-9 {
		value = math.Round(value*factor) / factor
	}
	return value
}
