package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/venue/rest"
)

func TestRESTSourcePrice(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req indexPriceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Type != "indexPrice" || req.Asset != "SOL" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(indexPriceResponse{Price: 19.8, UpdatedAtMS: time.Now().UnixMilli()})
	}))
	defer ts.Close()

	src := NewRESTSource("pyth", rest.New(ts.URL, time.Second, zap.NewNop()), time.Minute, zap.NewNop())
	price, ok := src.GetPrice(context.Background(), "SOL")
	if !ok {
		t.Fatal("expected a price")
	}
	if price != 19.8 {
		t.Fatalf("price = %v, want 19.8", price)
	}
}

func TestRESTSourceStale(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stale := time.Now().Add(-2 * time.Minute).UnixMilli()
		json.NewEncoder(w).Encode(indexPriceResponse{Price: 19.8, UpdatedAtMS: stale})
	}))
	defer ts.Close()

	src := NewRESTSource("pyth", rest.New(ts.URL, time.Second, zap.NewNop()), time.Minute, zap.NewNop())
	if _, ok := src.GetPrice(context.Background(), "SOL"); ok {
		t.Fatal("expected stale price to read as no value")
	}
}

func TestRESTSourceError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	src := NewRESTSource("pyth", rest.New(ts.URL, time.Second, zap.NewNop()), time.Minute, zap.NewNop())
	if _, ok := src.GetPrice(context.Background(), "SOL"); ok {
		t.Fatal("expected failed fetch to read as no value")
	}
}

func TestPushSourceCache(t *testing.T) {
	src := NewPushSource("feed", nil, time.Minute, zap.NewNop())

	if _, ok := src.GetPrice(context.Background(), "SOL"); ok {
		t.Fatal("expected no value before any tick")
	}

	msg := fmt.Sprintf(`{"channel":"prices","data":{"asset":"SOL","price":20.1,"timestampMs":%d}}`,
		time.Now().UnixMilli())
	src.handle(json.RawMessage(msg))

	price, ok := src.GetPrice(context.Background(), "SOL")
	if !ok {
		t.Fatal("expected a price after the tick")
	}
	if price != 20.1 {
		t.Fatalf("price = %v, want 20.1", price)
	}
}

func TestPushSourceStaleTick(t *testing.T) {
	src := NewPushSource("feed", nil, time.Minute, zap.NewNop())

	old := time.Now().Add(-5 * time.Minute).UnixMilli()
	msg := fmt.Sprintf(`{"channel":"prices","data":{"asset":"SOL","price":20.1,"timestampMs":%d}}`, old)
	src.handle(json.RawMessage(msg))

	if _, ok := src.GetPrice(context.Background(), "SOL"); ok {
		t.Fatal("expected stale tick to read as no value")
	}
}

func TestPushSourceIgnoresOtherChannels(t *testing.T) {
	src := NewPushSource("feed", nil, time.Minute, zap.NewNop())
	src.handle(json.RawMessage(`{"channel":"fills","data":{"asset":"SOL","price":20.1}}`))
	if _, ok := src.GetPrice(context.Background(), "SOL"); ok {
		t.Fatal("expected non-price channel to be ignored")
	}
}
