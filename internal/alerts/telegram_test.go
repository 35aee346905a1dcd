package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"option-scalp-bot/internal/config"

	"go.uber.org/zap"
)

func TestSendDisabledIsNoop(t *testing.T) {
	tg := NewTelegram(config.TelegramConfig{Enabled: false}, zap.NewNop())
	if err := tg.Send(context.Background(), "ignored"); err != nil {
		t.Fatalf("disabled send should be a noop, got %v", err)
	}
}

func TestSendRequiresCredentials(t *testing.T) {
	tg := NewTelegram(config.TelegramConfig{Enabled: true}, zap.NewNop())
	if err := tg.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error without token/chat id")
	}
}

func TestSendPostsMessage(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "42"}
	tg := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	tg.BudgetExhausted(context.Background(), "SOL", "delta-hedge", 4)
	if got["chat_id"] != "42" {
		t.Fatalf("expected chat id 42, got %q", got["chat_id"])
	}
	if got["text"] == "" {
		t.Fatalf("expected message text")
	}
}

func TestSendSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "42"}
	tg := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := tg.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error from api response")
	}
}
