package spot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/venue"
	"option-scalp-bot/internal/venue/rest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(rest.New(ts.URL, time.Second, zap.NewNop()), "test-key", zap.NewNop())
}

func TestBookSide(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req bookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Bid {
			t.Error("expected bid side request")
		}
		json.NewEncoder(w).Encode(bookResponse{
			Symbol: "SOL",
			Levels: []bookLevel{
				{Price: "19.5", Quantity: "500"},
				{Price: "19.4", Quantity: "1200"},
			},
		})
	})

	side, err := c.BookSide(context.Background(), "SOL", true)
	if err != nil {
		t.Fatalf("BookSide: %v", err)
	}
	if len(side) != 2 {
		t.Fatalf("got %d levels, want 2", len(side))
	}
	if side[0].Price != 19.5 || side[0].Quantity != 500 {
		t.Fatalf("best level = %+v", side[0])
	}
}

func TestPlaceOrderCarriesAPIKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req orderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.APIKey != "test-key" {
			t.Errorf("apiKey = %q, want test-key", req.APIKey)
		}
		if req.Side != "sell" || req.Quantity != 1000 {
			t.Errorf("unexpected order %+v", req)
		}
		json.NewEncoder(w).Encode(orderResponse{Status: "ok", OrderID: "o-1"})
	})

	id, err := c.PlaceOrder(context.Background(), venue.Order{
		Symbol: "SOL", Side: venue.SideSell, Price: 19.5, Quantity: 1000, ClientOrderID: "SOL-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "o-1" {
		t.Fatalf("order id = %q, want o-1", id)
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(orderResponse{Status: "err", Error: "insufficient balance"})
	})

	_, err := c.PlaceOrder(context.Background(), venue.Order{Symbol: "SOL", Side: venue.SideBuy})
	if err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestOpenOrdersAndBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/open":
			json.NewEncoder(w).Encode(openOrdersResponse{OrderIDs: []string{"a", "b"}})
		case "/balance":
			json.NewEncoder(w).Encode(balanceResponse{Asset: "USDC", Available: 2500})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	ids, err := c.OpenOrders(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d open orders, want 2", len(ids))
	}

	bal, err := c.Balance(context.Background(), "USDC")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 2500 {
		t.Fatalf("balance = %v, want 2500", bal)
	}
}

func TestSettleFunds(t *testing.T) {
	settled := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/settle" {
			settled = true
		}
		json.NewEncoder(w).Encode(statusResponse{Status: "ok"})
	})

	if err := c.SettleFunds(context.Background(), "SOL"); err != nil {
		t.Fatalf("SettleFunds: %v", err)
	}
	if !settled {
		t.Fatal("settle endpoint not called")
	}
}
