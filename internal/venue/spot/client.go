package spot

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"option-scalp-bot/internal/book"
	"option-scalp-bot/internal/venue"
	"option-scalp-bot/internal/venue/rest"
)

// Client is the REST adapter for the spot order-book venue. Orders are
// authorized with an API key rather than a signature.
type Client struct {
	rest   *rest.Client
	apiKey string
	log    *zap.Logger
}

func New(restClient *rest.Client, apiKey string, log *zap.Logger) *Client {
	return &Client{rest: restClient, apiKey: apiKey, log: log.Named("spot")}
}

type bookRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Bid    bool   `json:"bid"`
}

type bookLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type bookResponse struct {
	Symbol string      `json:"symbol"`
	Levels []bookLevel `json:"levels"`
}

// BookSide returns one side of the book, best price first as the venue
// publishes it.
func (c *Client) BookSide(ctx context.Context, symbol string, bid bool) (book.Side, error) {
	var resp bookResponse
	err := c.rest.Post(ctx, "/book", bookRequest{Type: "l2", Symbol: symbol, Bid: bid}, &resp)
	if err != nil {
		return nil, err
	}
	side := make(book.Side, 0, len(resp.Levels))
	for _, lvl := range resp.Levels {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse level price %q: %w", lvl.Price, err)
		}
		qty, err := strconv.ParseFloat(lvl.Quantity, 64)
		if err != nil {
			return nil, fmt.Errorf("parse level quantity %q: %w", lvl.Quantity, err)
		}
		side = append(side, book.Level{Price: price, Quantity: qty})
	}
	return side, nil
}

type orderRequest struct {
	APIKey        string  `json:"apiKey"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Quantity      float64 `json:"quantity"`
	PostOnly      bool    `json:"postOnly"`
	ClientOrderID string  `json:"clientOrderId"`
}

type orderResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) PlaceOrder(ctx context.Context, order venue.Order) (string, error) {
	req := orderRequest{
		APIKey:        c.apiKey,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Price:         order.Price,
		Quantity:      order.Quantity,
		PostOnly:      order.PostOnly,
		ClientOrderID: order.ClientOrderID,
	}
	var resp orderResponse
	if err := c.rest.Post(ctx, "/orders", req, &resp); err != nil {
		return "", err
	}
	if resp.Status != "ok" {
		return "", fmt.Errorf("spot order rejected: %s", resp.Error)
	}
	c.log.Info("order placed",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("price", order.Price),
		zap.Float64("quantity", order.Quantity),
		zap.String("orderId", resp.OrderID))
	return resp.OrderID, nil
}

type symbolRequest struct {
	APIKey string `json:"apiKey"`
	Symbol string `json:"symbol"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	var resp statusResponse
	err := c.rest.Post(ctx, "/orders/cancel-all", symbolRequest{APIKey: c.apiKey, Symbol: symbol}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("cancel all rejected: %s", resp.Error)
	}
	return nil
}

// SettleFunds crystallizes filled balances so follow-up orders see the
// proceeds of earlier fills.
func (c *Client) SettleFunds(ctx context.Context, symbol string) error {
	var resp statusResponse
	err := c.rest.Post(ctx, "/settle", symbolRequest{APIKey: c.apiKey, Symbol: symbol}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("settle rejected: %s", resp.Error)
	}
	return nil
}

type openOrdersResponse struct {
	OrderIDs []string `json:"orderIds"`
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]string, error) {
	var resp openOrdersResponse
	err := c.rest.Post(ctx, "/orders/open", symbolRequest{APIKey: c.apiKey, Symbol: symbol}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.OrderIDs, nil
}

type balanceRequest struct {
	APIKey string `json:"apiKey"`
	Asset  string `json:"asset"`
}

type balanceResponse struct {
	Asset     string  `json:"asset"`
	Available float64 `json:"available"`
}

func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	var resp balanceResponse
	err := c.rest.Post(ctx, "/balance", balanceRequest{APIKey: c.apiKey, Asset: asset}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Available, nil
}
