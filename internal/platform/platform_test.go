package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pricepulse/pricepulse-bot/internal/config"
)

func TestDiscordSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "true" {
			t.Error("Webhook call must request wait=true to obtain the message ID")
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("Malformed webhook payload: %v", err)
		}
		if payload["content"] != "BTC $50,000.00 USD" {
			t.Errorf("content = %q", payload["content"])
		}
		w.Write([]byte(`{"id":"1234567890","channel_id":"42"}`))
	}))
	defer server.Close()

	d := NewDiscord(server.URL)
	id, err := d.Send(context.Background(), "BTC $50,000.00 USD")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "1234567890" {
		t.Errorf("External message ID = %q, want 1234567890", id)
	}
}

func TestDiscordSend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Invalid Webhook Token"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	d := NewDiscord(server.URL)
	if _, err := d.Send(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error for a 401 response")
	}
}

func TestDiscordSend_Unconfigured(t *testing.T) {
	d := NewDiscord("")
	if _, err := d.Send(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error for an empty webhook URL")
	}
}

func TestTelegramSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken-123/sendMessage") {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		if r.PostForm.Get("chat_id") != "-100200" {
			t.Errorf("chat_id = %q", r.PostForm.Get("chat_id"))
		}
		if r.PostForm.Get("text") != "hello" {
			t.Errorf("text = %q", r.PostForm.Get("text"))
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":991}}`))
	}))
	defer server.Close()

	tg := NewTelegram("token-123", "-100200")
	tg.baseURL = server.URL
	id, err := tg.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "991" {
		t.Errorf("External message ID = %q, want 991", id)
	}
}

func TestTelegramSend_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	tg := NewTelegram("token-123", "bogus")
	tg.baseURL = server.URL
	_, err := tg.Send(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error when the API reports ok=false")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("Error %q should carry the API description", err)
	}
}

func TestTelegramSend_Misconfigured(t *testing.T) {
	tg := NewTelegram("", "")
	if _, err := tg.Send(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error without credentials")
	}
}

func TestBuildAdapters(t *testing.T) {
	adapters := BuildAdapters([]config.PlatformConfig{
		{Name: "discord", Enabled: true, WebhookURL: "https://discord.example/webhook"},
		{Name: "telegram", Enabled: true, BotToken: "tok", ChatID: "1"},
		{Name: "unknown", Enabled: true},
	})
	if len(adapters) != 2 {
		t.Fatalf("len(adapters) = %d, want 2", len(adapters))
	}
	names := map[string]bool{}
	for _, a := range adapters {
		names[a.Name()] = true
	}
	if !names["discord"] || !names["telegram"] {
		t.Errorf("Adapter names = %v, want discord and telegram", names)
	}
}

func TestBuildAdapters_SkipsDisabled(t *testing.T) {
	adapters := BuildAdapters([]config.PlatformConfig{
		{Name: "discord", Enabled: false, WebhookURL: "https://discord.example/webhook"},
	})
	if len(adapters) != 0 {
		t.Fatalf("len(adapters) = %d, want 0", len(adapters))
	}
}
