package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/greeks"
	"option-scalp-bot/internal/venue/rest"
)

// depositFeed pulls the current option-like deposits for a symbol from
// the venue. Polled once per cycle; never cached.
type depositFeed struct {
	rest *rest.Client
	log  *zap.Logger
}

func newDepositFeed(restClient *rest.Client, log *zap.Logger) *depositFeed {
	return &depositFeed{rest: restClient, log: log.Named("deposits")}
}

type depositsRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type depositEntry struct {
	Symbol       string  `json:"symbol"`
	PremiumAsset string  `json:"premiumAsset"`
	ExpirationMS int64   `json:"expirationMs"`
	Strike       float64 `json:"strike"`
	OptionType   string  `json:"optionType"`
	Quantity     float64 `json:"quantity"`
}

type depositsResponse struct {
	Deposits []depositEntry `json:"deposits"`
}

func (f *depositFeed) Positions(ctx context.Context, symbol string) ([]greeks.Position, error) {
	var resp depositsResponse
	err := f.rest.Post(ctx, "/info", depositsRequest{Type: "deposits", Symbol: symbol}, &resp)
	if err != nil {
		return nil, err
	}
	positions := make([]greeks.Position, 0, len(resp.Deposits))
	for _, d := range resp.Deposits {
		positions = append(positions, greeks.Position{
			Symbol:       d.Symbol,
			PremiumAsset: d.PremiumAsset,
			Expiration:   time.UnixMilli(d.ExpirationMS),
			Strike:       d.Strike,
			Type:         greeks.OptionType(d.OptionType),
			Quantity:     d.Quantity,
		})
	}
	return positions, nil
}
