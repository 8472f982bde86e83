package lark

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWebhook_URLVerificationEcho(t *testing.T) {
	h := NewWebhookHandler("tok", nil)

	body := `{"type": "url_verification", "token": "tok", "challenge": "abc123"}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/webhook/lark", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["challenge"] != "abc123" {
		t.Errorf("challenge = %q", resp["challenge"])
	}
}

func TestWebhook_RejectsBadToken(t *testing.T) {
	h := NewWebhookHandler("tok", nil)

	body := `{"type": "url_verification", "token": "wrong", "challenge": "abc"}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/webhook/lark", strings.NewReader(body)))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestWebhook_DispatchesMessageEvent(t *testing.T) {
	var mu sync.Mutex
	var got *MessageEvent
	done := make(chan struct{})
	h := NewWebhookHandler("tok", func(ev *MessageEvent) {
		mu.Lock()
		got = ev
		mu.Unlock()
		close(done)
	})

	body := `{
		"header": {"event_id": "ev-1", "event_type": "im.message.receive_v1", "token": "tok"},
		"event": {
			"sender": {"sender_id": {"open_id": "ou_alice"}},
			"message": {
				"message_id": "om_1", "chat_id": "oc_1", "chat_type": "p2p",
				"message_type": "text", "content": "{\"text\": \"你好\"}",
				"create_time": "1756600000000"
			}
		}
	}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/webhook/lark", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event handler was never called")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Header.EventID != "ev-1" {
		t.Errorf("event_id = %q", got.Header.EventID)
	}
	if got.Event.Sender.SenderID.OpenID != "ou_alice" {
		t.Errorf("open_id = %q", got.Event.Sender.SenderID.OpenID)
	}
	if got.Text() != "你好" {
		t.Errorf("text = %q", got.Text())
	}
}

func TestMessageEvent_TextStripsMentions(t *testing.T) {
	body := `{
		"header": {"event_id": "ev-2", "event_type": "im.message.receive_v1"},
		"event": {
			"sender": {"sender_id": {"open_id": "ou_alice"}},
			"message": {
				"message_id": "om_2", "chat_id": "oc_group", "chat_type": "group",
				"message_type": "text", "content": "{\"text\": \"@_user_1 完成 1\"}",
				"create_time": "1756600000000",
				"mentions": [{"key": "@_user_1", "name": "taskbot", "id": {"open_id": "ou_bot"}}]
			}
		}
	}`
	var ev MessageEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		t.Fatal(err)
	}
	if got := ev.Text(); got != "完成 1" {
		t.Errorf("text = %q, want mention placeholder stripped", got)
	}
}

func TestMessageEvent_TextNonTextType(t *testing.T) {
	var ev MessageEvent
	ev.Event.Message.MessageType = "image"
	ev.Event.Message.Content = `{"image_key": "img_x"}`
	if ev.Text() != "" {
		t.Errorf("non-text message must yield empty text, got %q", ev.Text())
	}
}
