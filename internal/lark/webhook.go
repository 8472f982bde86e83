package lark

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MessageEvent is an im.message.receive_v1 event envelope.
type MessageEvent struct {
	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message struct {
			MessageID   string `json:"message_id"`
			ChatID      string `json:"chat_id"`
			ChatType    string `json:"chat_type"`
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
			CreateTime  string `json:"create_time"`
			Mentions    []struct {
				Key  string `json:"key"` // placeholder in the text, e.g. "@_user_1"
				Name string `json:"name"`
				ID   struct {
					OpenID string `json:"open_id"`
				} `json:"id"`
			} `json:"mentions"`
		} `json:"message"`
	} `json:"event"`
}

// Text extracts the plain text of a text-type message. Mention placeholders
// ("@_user_1" for an @bot in a group chat) are stripped so downstream
// classification sees only the command text.
func (e *MessageEvent) Text() string {
	if e.Event.Message.MessageType != "text" {
		return ""
	}
	var textMsg struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(e.Event.Message.Content), &textMsg); err != nil {
		return e.Event.Message.Content
	}
	text := textMsg.Text
	for _, m := range e.Event.Message.Mentions {
		if m.Key != "" {
			text = strings.Replace(text, m.Key, "", 1)
		}
	}
	return strings.TrimSpace(text)
}

// Timestamp parses the millisecond create_time, falling back to now.
func (e *MessageEvent) Timestamp() time.Time {
	ms, err := strconv.ParseInt(e.Event.Message.CreateTime, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// NewWebhookHandler returns an http.HandlerFunc that answers the
// url_verification challenge and forwards message events to onEvent.
// Responds 200 immediately; event processing runs on the caller's goroutine
// budget so the platform does not retry slow handlers.
func NewWebhookHandler(verificationToken string, onEvent func(*MessageEvent)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Challenge string `json:"challenge"`
			Type      string `json:"type"`
			Token     string `json:"token"`
			Header    struct {
				EventType string `json:"event_type"`
				Token     string `json:"token"`
			} `json:"header"`
		}

		body := json.NewDecoder(r.Body)
		var raw json.RawMessage
		if err := body.Decode(&raw); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		// URL verification handshake
		if envelope.Type == "url_verification" {
			if verificationToken != "" && envelope.Token != verificationToken {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"challenge": envelope.Challenge})
			return
		}

		if verificationToken != "" && envelope.Header.Token != verificationToken {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if envelope.Header.EventType == "im.message.receive_v1" {
			var event MessageEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				slog.Debug("lark webhook: parse event failed", "error", err)
			} else {
				go onEvent(&event)
			}
		}

		w.WriteHeader(http.StatusOK)
	}
}
