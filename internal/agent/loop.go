// Package agent runs the bounded tool-calling loop that answers messages no
// structured route claims.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/taskbridge/internal/providers"
	"github.com/nextlevelbuilder/taskbridge/internal/store"
	"github.com/nextlevelbuilder/taskbridge/internal/tools"
)

// Loop bounds. maxRounds counts provider calls per turn, including rounds
// whose tool executions fail; historyLimit is the persisted per-chat window.
const (
	maxRounds    = 5
	historyLimit = 20
)

// Fixed fallback replies. The unavailable reply deliberately carries no error
// detail; the detail goes to the log.
const (
	unavailableReply = "服务暂时不可用，请稍后重试。"
	exhaustedReply   = "这个问题处理步骤太多，我先停在这里了。请把问题拆小一点再试。"
)

// Loop is the tool-calling agent. One Respond call is one user-visible turn.
type Loop struct {
	provider providers.Provider
	registry *tools.Registry
	convs    store.ConversationStore
	users    store.UserStore
	model    string
}

func NewLoop(provider providers.Provider, registry *tools.Registry, convs store.ConversationStore, users store.UserStore, model string) *Loop {
	if model == "" {
		model = provider.DefaultModel()
	}
	return &Loop{provider: provider, registry: registry, convs: convs, users: users, model: model}
}

// Respond answers one free-form message. The returned string is always
// user-sendable: provider transport failure yields the fixed unavailable
// reply (and persists no assistant turn), and an exhausted round budget
// yields the fixed exhausted reply.
func (l *Loop) Respond(ctx context.Context, user *store.User, chatID, text string) (string, error) {
	ctx = tools.WithActor(ctx, tools.Actor{
		OpenID: user.OpenID,
		Name:   user.Name,
		Caps:   store.ResolveCapabilities(user),
	})

	messages := l.buildMessages(ctx, user, chatID, text)

	// The user turn is durable before the first provider call: a transport
	// failure must not lose what the user said.
	l.persist(ctx, chatID, "user", text)

	for round := 0; round < maxRounds; round++ {
		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Model:    l.model,
			Messages: messages,
			Tools:    l.registry.ProviderDefs(),
		})
		if err != nil {
			slog.Error("provider call failed", "provider", l.provider.Name(), "round", round, "error", err)
			return unavailableReply, nil
		}

		if len(resp.ToolCalls) == 0 {
			l.persist(ctx, chatID, "assistant", resp.Content)
			return resp.Content, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := l.registry.Execute(ctx, call.Name, call.Arguments)
			if result.IsError {
				slog.Warn("tool returned error", "tool", call.Name, "error", result.Err)
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}
	}

	slog.Warn("round budget exhausted", "chat_id", chatID, "rounds", maxRounds)
	l.persist(ctx, chatID, "assistant", exhaustedReply)
	return exhaustedReply, nil
}

// buildMessages assembles system prompt + persisted history + the current
// message. History and directory loads are best-effort: a degraded prompt
// beats a failed turn.
func (l *Loop) buildMessages(ctx context.Context, user *store.User, chatID, text string) []providers.Message {
	directory, err := l.users.ListAll(ctx)
	if err != nil {
		slog.Warn("user directory load failed", "error", err)
	}

	messages := []providers.Message{
		{Role: "system", Content: buildSystemPrompt(user, directory, time.Now())},
	}

	history, err := l.convs.Recent(ctx, chatID, historyLimit)
	if err != nil {
		slog.Warn("conversation history load failed", "chat_id", chatID, "error", err)
	}
	for _, m := range history {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Content})
	}

	return append(messages, providers.Message{Role: "user", Content: text})
}

func (l *Loop) persist(ctx context.Context, chatID, role, content string) {
	msg := &store.ConversationMessage{
		ID:      store.GenNewID(),
		ChatID:  chatID,
		Role:    role,
		Content: content,
	}
	if err := l.convs.Append(ctx, msg, historyLimit); err != nil {
		slog.Warn("conversation persist failed", "chat_id", chatID, "role", role, "error", err)
	}
}
