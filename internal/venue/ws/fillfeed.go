package ws

import (
	"context"
	"encoding/json"

	"option-scalp-bot/internal/venue"

	"go.uber.org/zap"
)

// FillFeed adapts the websocket client into the engine's fill stream.
// One Subscribe call spans one connection: the returned channel closes
// when the underlying read loop ends, and the caller resubscribes.
type FillFeed struct {
	client *Client
	log    *zap.Logger
}

func NewFillFeed(client *Client, log *zap.Logger) *FillFeed {
	return &FillFeed{client: client, log: log}
}

type fillMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Market        string  `json:"market"`
		ClientOrderID string  `json:"clientOrderId"`
		Quantity      float64 `json:"quantity"`
		Price         float64 `json:"price"`
		IsReversal    bool    `json:"isReversal"`
	} `json:"data"`
}

func (f *FillFeed) Subscribe(ctx context.Context, market string) (<-chan venue.FillEvent, error) {
	if err := f.client.Connect(ctx); err != nil {
		return nil, err
	}
	sub := map[string]any{
		"method":  "subscribe",
		"channel": "fills",
		"market":  market,
	}
	if err := f.client.Subscribe(ctx, sub); err != nil {
		return nil, err
	}
	out := make(chan venue.FillEvent, 64)
	go func() {
		defer close(out)
		err := f.client.Run(ctx, func(raw json.RawMessage) {
			var msg fillMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				return
			}
			if msg.Channel != "fills" || msg.Data.Market != market {
				return
			}
			if msg.Data.ClientOrderID == "" {
				return
			}
			event := venue.FillEvent{
				ClientOrderID: msg.Data.ClientOrderID,
				Quantity:      msg.Data.Quantity,
				Price:         msg.Data.Price,
				IsReversal:    msg.Data.IsReversal,
			}
			select {
			case out <- event:
			default:
				f.log.Warn("fill feed channel full, dropping event",
					zap.String("client_order_id", event.ClientOrderID))
			}
		})
		if err != nil && ctx.Err() == nil {
			f.log.Warn("fill feed run ended", zap.Error(err))
		}
	}()
	return out, nil
}
