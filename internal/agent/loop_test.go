package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/taskbridge/internal/providers"
	"github.com/nextlevelbuilder/taskbridge/internal/store"
	"github.com/nextlevelbuilder/taskbridge/internal/tools"
)

// --- fakes ---

// scriptedProvider returns canned responses in order and records every
// request it saw.
type scriptedProvider struct {
	mu       sync.Mutex
	script   []*providers.ChatResponse
	err      error
	requests []providers.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.script) == 0 {
		return &providers.ChatResponse{Content: "fallback", FinishReason: "stop"}, nil
	}
	resp := p.script[0]
	p.script = p.script[1:]
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type memConversations struct {
	mu       sync.Mutex
	messages []store.ConversationMessage
}

func (c *memConversations) Append(_ context.Context, msg *store.ConversationMessage, limit int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, *msg)
	if len(c.messages) > limit {
		c.messages = c.messages[len(c.messages)-limit:]
	}
	return nil
}

func (c *memConversations) Recent(_ context.Context, chatID string, limit int) ([]store.ConversationMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []store.ConversationMessage
	for _, m := range c.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (c *memConversations) roles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.messages {
		out = append(out, m.Role)
	}
	return out
}

type emptyUsers struct{ store.UserStore }

func (emptyUsers) ListAll(_ context.Context) ([]store.User, error) { return nil, nil }

// recordingTool captures the actor it executed under.
type recordingTool struct {
	mu    sync.Mutex
	actor tools.Actor
	calls int
}

func (t *recordingTool) Name() string               { return "list_tasks" }
func (t *recordingTool) Description() string        { return "List pending tasks." }
func (t *recordingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *recordingTool) Execute(ctx context.Context, _ map[string]any) *tools.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if a, ok := tools.ActorFrom(ctx); ok {
		t.actor = a
	}
	return tools.NewResult(`{"tasks": []}`)
}

// --- fixtures ---

func testUser() *store.User {
	return &store.User{ID: store.GenNewID(), OpenID: "ou_alice", Name: "Alice", Role: store.RoleMember}
}

func newLoop(p *scriptedProvider, convs *memConversations, ts ...tools.Tool) *Loop {
	reg := tools.NewRegistry()
	for _, t := range ts {
		reg.Register(t)
	}
	return NewLoop(p, reg, convs, emptyUsers{}, "")
}

// --- tests ---

func TestRespond_DirectAnswerPersistsBothTurns(t *testing.T) {
	p := &scriptedProvider{script: []*providers.ChatResponse{
		{Content: "本周没有到期任务", FinishReason: "stop"},
	}}
	convs := &memConversations{}
	l := newLoop(p, convs)

	reply, err := l.Respond(context.Background(), testUser(), "oc_chat", "这周有到期的任务吗")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "本周没有到期任务" {
		t.Errorf("reply = %q", reply)
	}
	if got := convs.roles(); len(got) != 2 || got[0] != "user" || got[1] != "assistant" {
		t.Errorf("persisted roles = %v, want [user assistant]", got)
	}
	if p.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.callCount())
	}
}

func TestRespond_ToolRoundFeedsResultBack(t *testing.T) {
	p := &scriptedProvider{script: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls:    []providers.ToolCall{{ID: "call-1", Name: "list_tasks", Arguments: map[string]any{}}},
		},
		{Content: "你当前没有待办任务", FinishReason: "stop"},
	}}
	tool := &recordingTool{}
	l := newLoop(p, &memConversations{}, tool)

	reply, err := l.Respond(context.Background(), testUser(), "oc_chat", "我还有什么没做完")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "你当前没有待办任务" {
		t.Errorf("reply = %q", reply)
	}
	if tool.calls != 1 {
		t.Fatalf("tool calls = %d, want 1", tool.calls)
	}
	if tool.actor.OpenID != "ou_alice" {
		t.Errorf("tool ran without the caller's actor: %+v", tool.actor)
	}
	if !tool.actor.Caps.Has(store.CapView) {
		t.Error("actor capabilities not resolved")
	}

	// The second request must carry the assistant tool-call turn and the tool
	// result keyed to the call id.
	second := p.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" || !strings.Contains(last.Content, "tasks") {
		t.Errorf("tool result not fed back: %+v", last)
	}
}

func TestRespond_ProviderFailureFixedReplyNoAssistantTurn(t *testing.T) {
	p := &scriptedProvider{err: errors.New("connection refused")}
	convs := &memConversations{}
	l := newLoop(p, convs)

	reply, err := l.Respond(context.Background(), testUser(), "oc_chat", "帮我看看任务")
	if err != nil {
		t.Fatalf("transport failure must not surface as an error: %v", err)
	}
	if reply != unavailableReply {
		t.Errorf("reply = %q, want the fixed unavailable reply", reply)
	}
	if got := convs.roles(); len(got) != 1 || got[0] != "user" {
		t.Errorf("persisted roles = %v, want only the user turn", got)
	}
}

func TestRespond_RoundBudgetExhausted(t *testing.T) {
	// Every response demands another tool round; the loop must stop at the
	// budget with the fixed exhausted reply.
	var script []*providers.ChatResponse
	for i := 0; i < maxRounds+3; i++ {
		script = append(script, &providers.ChatResponse{
			FinishReason: "tool_calls",
			ToolCalls:    []providers.ToolCall{{ID: "call", Name: "list_tasks", Arguments: map[string]any{}}},
		})
	}
	p := &scriptedProvider{script: script}
	l := newLoop(p, &memConversations{}, &recordingTool{})

	reply, err := l.Respond(context.Background(), testUser(), "oc_chat", "不停地查任务")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != exhaustedReply {
		t.Errorf("reply = %q, want the fixed exhausted reply", reply)
	}
	if p.callCount() != maxRounds {
		t.Errorf("provider calls = %d, want %d", p.callCount(), maxRounds)
	}
}

func TestRespond_FailedToolRoundStillCounts(t *testing.T) {
	// An unknown tool yields an error result for the model, not a caller
	// error, and the round is spent.
	p := &scriptedProvider{script: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls:    []providers.ToolCall{{ID: "call-1", Name: "no_such_tool", Arguments: map[string]any{}}},
		},
		{Content: "抱歉，我没法执行这个操作", FinishReason: "stop"},
	}}
	l := newLoop(p, &memConversations{})

	reply, err := l.Respond(context.Background(), testUser(), "oc_chat", "做点奇怪的事")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "抱歉，我没法执行这个操作" {
		t.Errorf("reply = %q", reply)
	}

	second := p.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "unknown tool") {
		t.Errorf("expected unknown-tool error surfaced to the model, got %+v", last)
	}
}

func TestRespond_HistoryIncludedInPrompt(t *testing.T) {
	convs := &memConversations{}
	_ = convs.Append(context.Background(), &store.ConversationMessage{
		ID: store.GenNewID(), ChatID: "oc_chat", Role: "user", Content: "昨天说的那个任务",
	}, historyLimit)
	_ = convs.Append(context.Background(), &store.ConversationMessage{
		ID: store.GenNewID(), ChatID: "oc_chat", Role: "assistant", Content: "已记录",
	}, historyLimit)

	p := &scriptedProvider{script: []*providers.ChatResponse{
		{Content: "好的", FinishReason: "stop"},
	}}
	l := newLoop(p, convs)

	if _, err := l.Respond(context.Background(), testUser(), "oc_chat", "继续"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := p.requests[0].Messages
	// system + 2 history + current user turn
	if len(msgs) != 4 {
		t.Fatalf("prompt messages = %d, want 4: %+v", len(msgs), msgs)
	}
	if msgs[1].Content != "昨天说的那个任务" || msgs[2].Content != "已记录" {
		t.Errorf("history not included in order: %+v", msgs[1:3])
	}
}
