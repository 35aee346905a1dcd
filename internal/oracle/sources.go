package oracle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/venue/rest"
	"option-scalp-bot/internal/venue/ws"
)

// RESTSource pulls an index price from one provider per call. A stale
// or failed response reads as no value.
type RESTSource struct {
	name   string
	client *rest.Client
	maxAge time.Duration
	log    *zap.Logger
}

func NewRESTSource(name string, client *rest.Client, maxAge time.Duration, log *zap.Logger) *RESTSource {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &RESTSource{name: name, client: client, maxAge: maxAge, log: log.Named("oracle." + name)}
}

func (s *RESTSource) Name() string { return s.name }

type indexPriceRequest struct {
	Type  string `json:"type"`
	Asset string `json:"asset"`
}

type indexPriceResponse struct {
	Price       float64 `json:"price"`
	UpdatedAtMS int64   `json:"updatedAtMs"`
}

func (s *RESTSource) GetPrice(ctx context.Context, asset string) (float64, bool) {
	var resp indexPriceResponse
	err := s.client.Post(ctx, "/info", indexPriceRequest{Type: "indexPrice", Asset: asset}, &resp)
	if err != nil {
		s.log.Warn("index price fetch failed", zap.String("asset", asset), zap.Error(err))
		return 0, false
	}
	if resp.Price <= 0 {
		return 0, false
	}
	if age := time.Since(time.UnixMilli(resp.UpdatedAtMS)); age > s.maxAge {
		s.log.Warn("index price stale", zap.String("asset", asset), zap.Duration("age", age))
		return 0, false
	}
	return resp.Price, true
}

// PushSource caches prices streamed over a websocket. GetPrice never
// blocks; an asset with no recent tick reads as no value.
type PushSource struct {
	name   string
	client *ws.Client
	maxAge time.Duration
	log    *zap.Logger

	mu     sync.RWMutex
	latest map[string]pricePoint
}

type pricePoint struct {
	price float64
	at    time.Time
}

func NewPushSource(name string, client *ws.Client, maxAge time.Duration, log *zap.Logger) *PushSource {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &PushSource{
		name:   name,
		client: client,
		maxAge: maxAge,
		log:    log.Named("oracle." + name),
		latest: make(map[string]pricePoint),
	}
}

func (s *PushSource) Name() string { return s.name }

type priceTick struct {
	Channel string `json:"channel"`
	Data    struct {
		Asset       string  `json:"asset"`
		Price       float64 `json:"price"`
		TimestampMS int64   `json:"timestampMs"`
	} `json:"data"`
}

// Run subscribes to the price channel and feeds the cache until the
// context ends. Reconnects are handled by the underlying client.
func (s *PushSource) Run(ctx context.Context, assets []string) error {
	for _, asset := range assets {
		sub := map[string]any{"method": "subscribe", "channel": "prices", "asset": asset}
		if err := s.client.Subscribe(ctx, sub); err != nil {
			return err
		}
	}
	return s.client.Run(ctx, s.handle)
}

func (s *PushSource) handle(raw json.RawMessage) {
	var tick priceTick
	if err := json.Unmarshal(raw, &tick); err != nil || tick.Channel != "prices" {
		return
	}
	if tick.Data.Asset == "" || tick.Data.Price <= 0 {
		return
	}
	at := time.UnixMilli(tick.Data.TimestampMS)
	if tick.Data.TimestampMS == 0 {
		at = time.Now()
	}
	s.mu.Lock()
	s.latest[tick.Data.Asset] = pricePoint{price: tick.Data.Price, at: at}
	s.mu.Unlock()
}

func (s *PushSource) GetPrice(ctx context.Context, asset string) (float64, bool) {
	s.mu.RLock()
	point, ok := s.latest[asset]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(point.at) > s.maxAge {
		return 0, false
	}
	return point.price, true
}
