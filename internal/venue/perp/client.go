package perp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/venue"
	"option-scalp-bot/internal/venue/rest"
)

// Client is the signed REST adapter for the derivatives venue. Info
// endpoints are unauthenticated; exchange actions are msgpack-encoded,
// signed, and posted with a monotonic nonce.
type Client struct {
	rest   *rest.Client
	signer *Signer
	log    *zap.Logger

	mu        sync.Mutex
	lastNonce uint64
	markets   map[string]marketState
}

type marketState struct {
	fairPrice   float64
	fundingRate float64
	updatedAt   time.Time
	listed      bool
}

func New(restClient *rest.Client, signer *Signer, log *zap.Logger) *Client {
	return &Client{
		rest:    restClient,
		signer:  signer,
		log:     log.Named("perp"),
		markets: make(map[string]marketState),
	}
}

func (c *Client) Name() string { return "perp" }

type infoRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
	User   string `json:"user,omitempty"`
}

type marketResponse struct {
	Symbol      string  `json:"symbol"`
	FairPrice   string  `json:"fairPrice"`
	FundingRate string  `json:"fundingRate"`
	UpdatedAtMS int64   `json:"updatedAtMs"`
	Listed      bool    `json:"listed"`
	TickSize    float64 `json:"tickSize"`
}

func (c *Client) fetchMarket(ctx context.Context, symbol string) (marketState, error) {
	var resp marketResponse
	err := c.rest.Post(ctx, "/info", infoRequest{Type: "market", Symbol: symbol}, &resp)
	if err != nil {
		return marketState{}, err
	}
	st := marketState{listed: resp.Listed}
	if resp.Listed {
		fair, err := parseWireFloat(resp.FairPrice)
		if err != nil {
			return marketState{}, err
		}
		funding, err := parseWireFloat(resp.FundingRate)
		if err != nil {
			return marketState{}, err
		}
		st.fairPrice = fair
		st.fundingRate = funding
		st.updatedAt = time.UnixMilli(resp.UpdatedAtMS)
	}
	c.mu.Lock()
	c.markets[symbol] = st
	c.mu.Unlock()
	return st, nil
}

// Refresh primes the market cache for the given symbols. LastUpdate and
// HasMarket read from this cache; call it at startup and rely on price
// fetches to keep it current afterwards.
func (c *Client) Refresh(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		if _, err := c.fetchMarket(ctx, symbol); err != nil {
			return fmt.Errorf("refresh market %s: %w", symbol, err)
		}
	}
	return nil
}

// GetPrice implements venue.PriceSource using the venue's fair price.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, bool) {
	return c.FairPrice(ctx, symbol)
}

func (c *Client) FairPrice(ctx context.Context, symbol string) (float64, bool) {
	st, err := c.fetchMarket(ctx, symbol)
	if err != nil {
		c.log.Warn("market fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return 0, false
	}
	if !st.listed {
		return 0, false
	}
	return st.fairPrice, true
}

func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, bool) {
	st, err := c.fetchMarket(ctx, symbol)
	if err != nil {
		c.log.Warn("market fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return 0, false
	}
	if !st.listed {
		return 0, false
	}
	return st.fundingRate, true
}

// LastUpdate reports the venue's published update time as of the most
// recent successful fetch. The zero time means the symbol has never
// been fetched.
func (c *Client) LastUpdate(symbol string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markets[symbol].updatedAt
}

func (c *Client) HasMarket(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markets[symbol].listed
}

type positionResponse struct {
	Symbol   string `json:"symbol"`
	Position string `json:"position"`
}

func (c *Client) Position(ctx context.Context, symbol string) (float64, error) {
	var resp positionResponse
	req := infoRequest{Type: "position", Symbol: symbol, User: c.signer.Address().Hex()}
	if err := c.rest.Post(ctx, "/info", req, &resp); err != nil {
		return 0, err
	}
	if resp.Position == "" {
		return 0, nil
	}
	return parseWireFloat(resp.Position)
}

type exchangeRequest struct {
	Action    string    `json:"action"`
	Nonce     uint64    `json:"nonce"`
	Signature Signature `json:"signature"`
}

type exchangeResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) postAction(ctx context.Context, action any) (exchangeResponse, error) {
	encoded, err := encodeAction(action)
	if err != nil {
		return exchangeResponse{}, fmt.Errorf("encode action: %w", err)
	}
	nonce := c.nextNonce()
	sig, err := c.signer.SignAction(encoded, nonce)
	if err != nil {
		return exchangeResponse{}, fmt.Errorf("sign action: %w", err)
	}
	req := exchangeRequest{
		Action:    base64.StdEncoding.EncodeToString(encoded),
		Nonce:     nonce,
		Signature: sig,
	}
	var resp exchangeResponse
	if err := c.rest.Post(ctx, "/exchange", req, &resp); err != nil {
		return exchangeResponse{}, err
	}
	if resp.Status != "ok" {
		return exchangeResponse{}, fmt.Errorf("exchange rejected action: %s", resp.Error)
	}
	return resp, nil
}

// nextNonce is the current time in milliseconds, bumped past the last
// issued nonce so rapid actions never collide.
func (c *Client) nextNonce() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce := uint64(time.Now().UnixMilli())
	if nonce <= c.lastNonce {
		nonce = c.lastNonce + 1
	}
	c.lastNonce = nonce
	return nonce
}

func (c *Client) PlaceOrder(ctx context.Context, order venue.Order) (string, error) {
	action := orderAction{Type: "order", Orders: []orderWire{orderToWire(order)}}
	resp, err := c.postAction(ctx, action)
	if err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", errors.New("exchange returned no order id")
	}
	c.log.Info("order placed",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("price", order.Price),
		zap.Float64("quantity", order.Quantity),
		zap.String("cloid", order.ClientOrderID))
	return resp.OrderID, nil
}

func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	_, err := c.postAction(ctx, cancelAllAction{Type: "cancelAll", Symbol: symbol})
	return err
}
