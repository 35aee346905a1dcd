package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/book"
	"option-scalp-bot/internal/config"
	"option-scalp-bot/internal/greeks"
	"option-scalp-bot/internal/venue"
)

type stubResolver struct {
	price float64
	ok    bool
	calls int
}

func (r *stubResolver) Resolve(ctx context.Context, sym config.SymbolConfig) (float64, bool) {
	r.calls++
	return r.price, r.ok
}

type stubPicker struct {
	kind    venue.Kind
	routeOK bool
}

func (p *stubPicker) PickVenue(ctx context.Context, sym config.SymbolConfig, side venue.Side) venue.Kind {
	return p.kind
}

func (p *stubPicker) BestSwapRoute(ctx context.Context, inputAsset, outputAsset string, quantity, directPrice float64, side venue.Side) (venue.Route, bool) {
	if !p.routeOK {
		return venue.Route{}, false
	}
	return venue.Route{
		Venue:       venue.KindAggregator,
		Label:       "amm-1",
		InputAsset:  inputAsset,
		OutputAsset: outputAsset,
		InAmount:    quantity,
		OutAmount:   quantity * directPrice,
		Price:       directPrice,
	}, true
}

type mockExec struct {
	mu      sync.Mutex
	placed  []venue.Order
	cancels int
	onPlace func(venue.Order)
}

func (e *mockExec) Place(ctx context.Context, order venue.Order) (string, error) {
	e.mu.Lock()
	e.placed = append(e.placed, order)
	cb := e.onPlace
	e.mu.Unlock()
	if cb != nil {
		cb(order)
	}
	return "oid", nil
}

func (e *mockExec) CancelAll(ctx context.Context, kind venue.Kind, symbol string) error {
	e.mu.Lock()
	e.cancels++
	e.mu.Unlock()
	return nil
}

func (e *mockExec) orders() []venue.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]venue.Order, len(e.placed))
	copy(out, e.placed)
	return out
}

type mockTracker struct {
	mu       sync.Mutex
	filled   float64
	avg      float64
	avgOK    bool
	lastWait bool
}

func (t *mockTracker) Watch(clientIDs ...string) {}

func (t *mockTracker) Reset() {
	t.mu.Lock()
	t.filled = 0
	t.mu.Unlock()
}

func (t *mockTracker) setFilled(qty float64) {
	t.mu.Lock()
	t.filled = qty
	t.mu.Unlock()
}

func (t *mockTracker) Filled() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filled
}

func (t *mockTracker) AvgFillPrice() (float64, bool) {
	return t.avg, t.avgOK
}

func (t *mockTracker) WaitFor(ctx context.Context, pred func(filled float64) bool, timeout time.Duration) bool {
	ok := pred(t.Filled())
	t.mu.Lock()
	t.lastWait = ok
	t.mu.Unlock()
	return ok
}

func (t *mockTracker) waitSatisfied() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastWait
}

type mockPerp struct {
	mu       sync.Mutex
	has      bool
	position float64
	updated  time.Time
}

func (p *mockPerp) FairPrice(ctx context.Context, symbol string) (float64, bool)   { return 0, false }
func (p *mockPerp) FundingRate(ctx context.Context, symbol string) (float64, bool) { return 0, false }

func (p *mockPerp) LastUpdate(symbol string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updated
}

func (p *mockPerp) HasMarket(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.has
}

func (p *mockPerp) PlaceOrder(ctx context.Context, order venue.Order) (string, error) {
	return "", nil
}

func (p *mockPerp) CancelAll(ctx context.Context, symbol string) error { return nil }

func (p *mockPerp) Position(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, nil
}

func (p *mockPerp) addPosition(qty float64) {
	p.mu.Lock()
	p.position += qty
	p.mu.Unlock()
}

type mockSpot struct {
	mu      sync.Mutex
	bids    book.Side
	asks    book.Side
	balance float64
	settles int
}

func (s *mockSpot) BookSide(ctx context.Context, symbol string, bid bool) (book.Side, error) {
	if bid {
		return s.bids, nil
	}
	return s.asks, nil
}

func (s *mockSpot) PlaceOrder(ctx context.Context, order venue.Order) (string, error) {
	return "", nil
}

func (s *mockSpot) CancelAll(ctx context.Context, symbol string) error { return nil }

func (s *mockSpot) SettleFunds(ctx context.Context, symbol string) error {
	s.mu.Lock()
	s.settles++
	s.mu.Unlock()
	return nil
}

func (s *mockSpot) OpenOrders(ctx context.Context, symbol string) ([]string, error) {
	return nil, nil
}

func (s *mockSpot) Balance(ctx context.Context, asset string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *mockSpot) addBalance(qty float64) {
	s.mu.Lock()
	s.balance += qty
	s.mu.Unlock()
}

type mockAgg struct {
	mu        sync.Mutex
	executed  []venue.Route
	onExecute func(venue.Route)
}

func (a *mockAgg) ComputeRoute(ctx context.Context, inputAsset, outputAsset string, quantity, slippageBps float64) (venue.Route, bool) {
	return venue.Route{}, false
}

func (a *mockAgg) Execute(ctx context.Context, route venue.Route) (venue.SwapResult, error) {
	a.mu.Lock()
	a.executed = append(a.executed, route)
	cb := a.onExecute
	a.mu.Unlock()
	if cb != nil {
		cb(route)
	}
	return venue.SwapResult{
		Venue:    venue.KindAggregator,
		Label:    route.Label,
		Quantity: route.InAmount,
		Price:    route.Price,
	}, nil
}

type mockFeed struct {
	positions []greeks.Position
}

func (f *mockFeed) Positions(ctx context.Context, symbol string) ([]greeks.Position, error) {
	return f.positions, nil
}

func callPosition(qty float64) greeks.Position {
	return greeks.Position{
		Symbol:     "SOL",
		Expiration: time.Now().Add(30 * 24 * time.Hour),
		Strike:     20,
		Type:       greeks.Call,
		Quantity:   qty,
	}
}

func testSymbolConfig() config.SymbolConfig {
	return config.SymbolConfig{
		Symbol:               "SOL",
		BaseAsset:            "SOL",
		QuoteAsset:           "USDC",
		ImpliedVol:           0.6,
		MinOrderSize:         5,
		TickSize:             0.01,
		ZScore:               1.282,
		Mode:                 config.ModeDeltaGamma,
		MaxNotionalUSD:       1e9,
		MaxSlippage:          0.0005,
		TWAPInterval:         time.Second,
		ScalpWindow:          5 * time.Minute,
		MaxDeltaHedges:       4,
		GammaCycles:          2,
		GammaThresholdFactor: 2,
		GammaCompletePct:     0.9,
	}
}

func newTestScalper(cfg config.SymbolConfig, resolver *stubResolver, picker *stubPicker, ex *mockExec, tracker *mockTracker, perp *mockPerp, spot *mockSpot, agg *mockAgg, feed *mockFeed) *Scalper {
	return NewScalper(cfg, config.EngineConfig{}, Deps{
		Calc:    greeks.NewCalculator(cfg.ImpliedVol, 0, 0, 0),
		Oracle:  resolver,
		Router:  picker,
		Exec:    ex,
		Tracker: tracker,
		Perp:    perp,
		Spot:    spot,
		Agg:     agg,
		Feed:    feed,
		Log:     zap.NewNop(),
	})
}

func TestDeltaHedgeSellsAndTurnsNeutral(t *testing.T) {
	cfg := testSymbolConfig()
	resolver := &stubResolver{price: 20, ok: true}
	picker := &stubPicker{kind: venue.KindPerp}
	tracker := &mockTracker{}
	perp := &mockPerp{has: true, updated: time.Now()}
	spot := &mockSpot{}
	ex := &mockExec{}
	ex.onPlace = func(o venue.Order) {
		// The venue fills the sell instantly and the position reflects it.
		perp.addPosition(-o.Quantity)
		tracker.setFilled(o.Quantity)
	}
	feed := &mockFeed{positions: []greeks.Position{callPosition(1000)}}

	s := newTestScalper(cfg, resolver, picker, ex, tracker, perp, spot, &mockAgg{}, feed)
	s.deltaLoop(context.Background())

	orders := ex.orders()
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want exactly 1", len(orders))
	}
	if orders[0].Side != venue.SideSell {
		t.Fatalf("side = %s, want sell", orders[0].Side)
	}
	if orders[0].Venue != venue.KindPerp {
		t.Fatalf("venue = %s, want perp", orders[0].Venue)
	}
	if orders[0].Quantity <= 0 || orders[0].Quantity > 1000 {
		t.Fatalf("quantity = %v, want in (0, 1000]", orders[0].Quantity)
	}
	if got := s.machine.Current(); got != StateNeutral {
		t.Fatalf("final state = %s, want %s", got, StateNeutral)
	}
	if s.deltaAttempts != 1 {
		t.Fatalf("delta attempts = %d, want 1", s.deltaAttempts)
	}
}

func TestDeltaHedgeStopsAtBound(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.MaxDeltaHedges = 3
	resolver := &stubResolver{price: 20, ok: true}
	tracker := &mockTracker{} // never fills
	perp := &mockPerp{has: true, updated: time.Now()}
	ex := &mockExec{}
	feed := &mockFeed{positions: []greeks.Position{callPosition(1000)}}

	s := newTestScalper(cfg, resolver, &stubPicker{kind: venue.KindPerp}, ex, tracker, perp, &mockSpot{}, &mockAgg{}, feed)
	s.deltaLoop(context.Background())

	if got := len(ex.orders()); got != 3 {
		t.Fatalf("placed %d orders, want exactly maxDeltaHedges=3", got)
	}
	if got := s.machine.Current(); got != StateMaxDepthExceeded {
		t.Fatalf("final state = %s, want %s", got, StateMaxDepthExceeded)
	}
}

func TestDeltaFillWaitCoversClipRounding(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.MaxNotionalUSD = 4000 // empty book, ~530 @ ~20 splices into 3 clips
	resolver := &stubResolver{price: 20, ok: true}
	tracker := &mockTracker{}
	perp := &mockPerp{has: true, updated: time.Now()}
	ex := &mockExec{}
	var total float64
	ex.onPlace = func(o venue.Order) {
		// Every clip fills in full; the placed total is below the
		// pre-splice target because 530/3 rounds down to the step.
		total += o.Quantity
		perp.addPosition(-o.Quantity)
		tracker.setFilled(total)
	}
	feed := &mockFeed{positions: []greeks.Position{callPosition(1000)}}

	s := newTestScalper(cfg, resolver, &stubPicker{kind: venue.KindPerp}, ex, tracker, perp, &mockSpot{}, &mockAgg{}, feed)
	s.deltaLoop(context.Background())

	orders := ex.orders()
	if len(orders) != 3 {
		t.Fatalf("placed %d orders, want 3 clips", len(orders))
	}
	for _, o := range orders {
		if o.Quantity != orders[0].Quantity {
			t.Fatalf("clip quantities differ: %v vs %v", o.Quantity, orders[0].Quantity)
		}
	}
	if !tracker.waitSatisfied() {
		t.Fatalf("full fill of every placed clip did not satisfy the wait")
	}
	if got := s.machine.Current(); got != StateNeutral {
		t.Fatalf("final state = %s, want %s", got, StateNeutral)
	}
	if s.deltaAttempts != 1 {
		t.Fatalf("delta attempts = %d, want 1", s.deltaAttempts)
	}
}

func TestNoFairValueSkipsCycle(t *testing.T) {
	cfg := testSymbolConfig()
	resolver := &stubResolver{ok: false}
	ex := &mockExec{}
	feed := &mockFeed{positions: []greeks.Position{callPosition(1000)}}

	s := newTestScalper(cfg, resolver, &stubPicker{kind: venue.KindPerp}, ex, &mockTracker{}, &mockPerp{has: true, updated: time.Now()}, &mockSpot{}, &mockAgg{}, feed)
	s.deltaLoop(context.Background())

	if got := len(ex.orders()); got != 0 {
		t.Fatalf("placed %d orders with no fair value, want 0", got)
	}
	if resolver.calls != 1 {
		t.Fatalf("resolver calls = %d, want 1", resolver.calls)
	}
}

func TestZeroPositionsNeutral(t *testing.T) {
	cfg := testSymbolConfig()
	ex := &mockExec{}

	s := newTestScalper(cfg, &stubResolver{price: 20, ok: true}, &stubPicker{kind: venue.KindPerp}, ex, &mockTracker{}, &mockPerp{has: true, updated: time.Now()}, &mockSpot{}, &mockAgg{}, &mockFeed{})
	s.deltaLoop(context.Background())

	if got := len(ex.orders()); got != 0 {
		t.Fatalf("placed %d orders with zero positions, want 0", got)
	}
	if got := s.machine.Current(); got != StateNeutral {
		t.Fatalf("final state = %s, want %s", got, StateNeutral)
	}
}

func TestThinBookFallsBackToSwap(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.MaxNotionalUSD = 100 // forces splicing on an empty book
	resolver := &stubResolver{price: 20, ok: true}
	picker := &stubPicker{kind: venue.KindSpot, routeOK: true}
	spot := &mockSpot{}
	agg := &mockAgg{}
	agg.onExecute = func(route venue.Route) {
		// A sell swap drains base inventory like a filled hedge would.
		spot.addBalance(-route.InAmount)
	}
	ex := &mockExec{}
	feed := &mockFeed{positions: []greeks.Position{callPosition(1000)}}

	s := newTestScalper(cfg, resolver, picker, ex, &mockTracker{}, &mockPerp{}, spot, agg, feed)
	s.deltaLoop(context.Background())

	agg.mu.Lock()
	executed := len(agg.executed)
	agg.mu.Unlock()
	if executed != 1 {
		t.Fatalf("executed %d swaps, want 1", executed)
	}
	if got := len(ex.orders()); got != 0 {
		t.Fatalf("placed %d book orders alongside the swap, want 0", got)
	}
	if got := s.machine.Current(); got != StateNeutral {
		t.Fatalf("final state = %s, want %s", got, StateNeutral)
	}
}

func TestStalePerpFallsBackToSpot(t *testing.T) {
	cfg := testSymbolConfig()
	perp := &mockPerp{has: true, updated: time.Now().Add(-time.Hour)}
	tracker := &mockTracker{}
	spot := &mockSpot{}
	ex := &mockExec{}
	ex.onPlace = func(o venue.Order) {
		spot.addBalance(-o.Quantity)
		tracker.setFilled(o.Quantity)
	}
	feed := &mockFeed{positions: []greeks.Position{callPosition(1000)}}

	s := newTestScalper(cfg, &stubResolver{price: 20, ok: true}, &stubPicker{kind: venue.KindPerp}, ex, tracker, perp, spot, &mockAgg{}, feed)
	s.engCfg.DowntimeThreshold = time.Minute
	s.deltaLoop(context.Background())

	orders := ex.orders()
	if len(orders) == 0 {
		t.Fatal("expected at least one order")
	}
	if orders[0].Venue != venue.KindSpot {
		t.Fatalf("venue = %s, want spot fallback", orders[0].Venue)
	}
}

func TestStdDevSpreadScalesWithZScore(t *testing.T) {
	cfg := testSymbolConfig()
	base := newTestScalper(cfg, &stubResolver{}, &stubPicker{}, &mockExec{}, &mockTracker{}, &mockPerp{}, &mockSpot{}, &mockAgg{}, &mockFeed{})
	cfg2 := cfg
	cfg2.ZScore = cfg.ZScore * 2
	doubled := newTestScalper(cfg2, &stubResolver{}, &stubPicker{}, &mockExec{}, &mockTracker{}, &mockPerp{}, &mockSpot{}, &mockAgg{}, &mockFeed{})

	a, b := base.stdDevSpread(), doubled.stdDevSpread()
	if a <= 0 {
		t.Fatalf("spread = %v, want positive", a)
	}
	if diff := b - 2*a; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("spread %v did not double to %v with doubled z-score", a, b)
	}
}

func TestThresholdFloorsAtMinOrderSize(t *testing.T) {
	cfg := testSymbolConfig()
	s := newTestScalper(cfg, &stubResolver{}, &stubPicker{}, &mockExec{}, &mockTracker{}, &mockPerp{}, &mockSpot{}, &mockAgg{}, &mockFeed{})

	if got := s.threshold(0, 20); got != cfg.MinOrderSize {
		t.Fatalf("threshold = %v, want floor %v", got, cfg.MinOrderSize)
	}
	if got := s.threshold(1000, 20); got <= cfg.MinOrderSize {
		t.Fatalf("threshold = %v, want above the floor for large gamma", got)
	}
}

func TestRoundHelpers(t *testing.T) {
	if got := roundToStep(533.1, 5); got != 530 {
		t.Fatalf("roundToStep = %v, want 530", got)
	}
	if got := roundToStep(4.9, 5); got != 0 {
		t.Fatalf("roundToStep = %v, want 0", got)
	}
	if got := roundToTick(19.994, 0.01); got != 19.99 {
		t.Fatalf("roundToTick = %v, want 19.99", got)
	}
	if got := roundToTick(19.87, 0.25); got != 19.75 {
		t.Fatalf("roundToTick = %v, want 19.75", got)
	}
	if got := roundToTick(21, 2); got != 22 {
		t.Fatalf("roundToTick = %v, want 22", got)
	}
	if got := roundToStep(7, 0); got != 7 {
		t.Fatalf("roundToStep with zero step = %v, want 7", got)
	}
}
