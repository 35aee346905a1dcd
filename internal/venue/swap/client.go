package swap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"option-scalp-bot/internal/venue"
	"option-scalp-bot/internal/venue/rest"
)

// Client is the REST adapter for the swap aggregator. Quotes are free;
// execution commits the quoted route.
type Client struct {
	rest *rest.Client
	log  *zap.Logger
}

func New(restClient *rest.Client, log *zap.Logger) *Client {
	return &Client{rest: restClient, log: log.Named("swap")}
}

type quoteRequest struct {
	InputAsset  string  `json:"inputAsset"`
	OutputAsset string  `json:"outputAsset"`
	Amount      float64 `json:"amount"`
	SlippageBps float64 `json:"slippageBps"`
}

type quoteResponse struct {
	Found     bool    `json:"found"`
	Label     string  `json:"label"`
	InAmount  float64 `json:"inAmount"`
	OutAmount float64 `json:"outAmount"`
}

// ComputeRoute asks the aggregator for its best path. A false return
// means no route exists within the slippage bound.
func (c *Client) ComputeRoute(ctx context.Context, inputAsset, outputAsset string, quantity, slippageBps float64) (venue.Route, bool) {
	req := quoteRequest{
		InputAsset:  inputAsset,
		OutputAsset: outputAsset,
		Amount:      quantity,
		SlippageBps: slippageBps,
	}
	var resp quoteResponse
	if err := c.rest.Post(ctx, "/quote", req, &resp); err != nil {
		c.log.Warn("quote failed",
			zap.String("input", inputAsset),
			zap.String("output", outputAsset),
			zap.Error(err))
		return venue.Route{}, false
	}
	if !resp.Found || resp.InAmount <= 0 || resp.OutAmount <= 0 {
		return venue.Route{}, false
	}
	return venue.Route{
		Venue:       venue.KindAggregator,
		Label:       resp.Label,
		InputAsset:  inputAsset,
		OutputAsset: outputAsset,
		InAmount:    resp.InAmount,
		OutAmount:   resp.OutAmount,
		Price:       resp.OutAmount / resp.InAmount,
	}, true
}

type swapRequest struct {
	Label       string  `json:"label"`
	InputAsset  string  `json:"inputAsset"`
	OutputAsset string  `json:"outputAsset"`
	Amount      float64 `json:"amount"`
}

type swapResponse struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	FilledIn  float64 `json:"filledIn"`
	FilledOut float64 `json:"filledOut"`
}

func (c *Client) Execute(ctx context.Context, route venue.Route) (venue.SwapResult, error) {
	req := swapRequest{
		Label:       route.Label,
		InputAsset:  route.InputAsset,
		OutputAsset: route.OutputAsset,
		Amount:      route.InAmount,
	}
	var resp swapResponse
	if err := c.rest.Post(ctx, "/swap", req, &resp); err != nil {
		return venue.SwapResult{}, err
	}
	if resp.Status != "ok" {
		return venue.SwapResult{}, fmt.Errorf("swap rejected: %s", resp.Error)
	}
	if resp.FilledIn <= 0 {
		return venue.SwapResult{}, fmt.Errorf("swap settled with zero input fill")
	}
	result := venue.SwapResult{
		Venue:    venue.KindAggregator,
		Label:    route.Label,
		Quantity: resp.FilledIn,
		Price:    resp.FilledOut / resp.FilledIn,
	}
	c.log.Info("swap executed",
		zap.String("label", route.Label),
		zap.Float64("quantity", result.Quantity),
		zap.Float64("price", result.Price))
	return result, nil
}
