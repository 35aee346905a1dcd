package fills

import (
	"context"
	"math"
	"sync"
	"time"

	"option-scalp-bot/internal/venue"

	"go.uber.org/zap"
)

// pollsPerWindow is the cycles-per-window constant: WaitFor divides its
// timeout into this many predicate polls.
const pollsPerWindow = 60

const minPollInterval = 10 * time.Millisecond

// Tracker correlates asynchronous fill events to outstanding orders by
// client order id and keeps a running signed tally. Events flow over a
// channel the wait loop drains synchronously; no counters are mutated
// from the stream goroutine.
type Tracker struct {
	stream         venue.FillStream
	reconnectDelay time.Duration
	log            *zap.Logger
	events         chan venue.FillEvent

	mu       sync.Mutex
	watched  map[string]bool
	filled   float64
	notional float64
	quantity float64
}

func New(stream venue.FillStream, reconnectDelay time.Duration, log *zap.Logger) *Tracker {
	return &Tracker{
		stream:         stream,
		reconnectDelay: reconnectDelay,
		log:            log,
		events:         make(chan venue.FillEvent, 256),
		watched:        make(map[string]bool),
	}
}

// Watch registers correlation ids for the current cycle's orders.
func (t *Tracker) Watch(clientIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range clientIDs {
		if id != "" {
			t.watched[id] = true
		}
	}
}

// Reset clears the tally and watched set between cycles.
func (t *Tracker) Reset() {
	t.drain()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watched = make(map[string]bool)
	t.filled = 0
	t.notional = 0
	t.quantity = 0
}

// Subscribe starts consuming the market's fill stream until ctx ends.
// Disconnects resubscribe transparently; fill visibility is best-effort
// and never surfaces an error to the engine.
func (t *Tracker) Subscribe(ctx context.Context, market string) {
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			ch, err := t.stream.Subscribe(ctx, market)
			if err != nil {
				t.log.Warn("fill stream subscribe failed", zap.String("market", market), zap.Error(err))
				if !t.sleep(ctx) {
					return
				}
				continue
			}
			t.consume(ctx, ch)
			t.log.Debug("fill stream ended, resubscribing", zap.String("market", market))
			if !t.sleep(ctx) {
				return
			}
		}
	}()
}

func (t *Tracker) consume(ctx context.Context, ch <-chan venue.FillEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			select {
			case t.events <- event:
			default:
				// Queue full: fold the event in directly rather than drop it.
				t.apply(event)
			}
		}
	}
}

func (t *Tracker) sleep(ctx context.Context) bool {
	delay := t.reconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// drain folds every queued event into the tally.
func (t *Tracker) drain() {
	for {
		select {
		case event := <-t.events:
			t.apply(event)
		default:
			return
		}
	}
}

func (t *Tracker) apply(event venue.FillEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.watched[event.ClientOrderID] {
		return
	}
	qty := event.Quantity
	if event.IsReversal {
		qty = -qty
	}
	t.filled += qty
	t.notional += event.Price * qty
	t.quantity += qty
}

// Filled returns the current signed tally after draining queued events.
func (t *Tracker) Filled() float64 {
	t.drain()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filled
}

// AvgFillPrice is the volume-weighted fill price of the watched orders.
func (t *Tracker) AvgFillPrice() (float64, bool) {
	t.drain()
	t.mu.Lock()
	defer t.mu.Unlock()
	if math.Abs(t.quantity) < 1e-12 {
		return 0, false
	}
	return t.notional / t.quantity, true
}

// WaitFor polls the predicate until it holds or the timeout's poll
// budget is spent. Resolves early the instant the predicate passes.
func (t *Tracker) WaitFor(ctx context.Context, pred func(filled float64) bool, timeout time.Duration) bool {
	interval := timeout / pollsPerWindow
	if interval < minPollInterval {
		interval = minPollInterval
	}
	for poll := 0; poll < pollsPerWindow; poll++ {
		if pred(t.Filled()) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	return pred(t.Filled())
}
