package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

type fakeAgent struct {
	mu      sync.Mutex
	calls   int
	reply   string
	blockCh chan struct{} // when set, Respond blocks until closed
}

func (f *fakeAgent) Respond(ctx context.Context, _ *store.User, _ string, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.blockCh
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.reply == "" {
		return "agent reply", nil
	}
	return f.reply, nil
}

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type routerFixture struct {
	router   *Router
	tasks    *fakeTasks
	users    *fakeUsers
	sessions *fakeSessions
	msgr     *fakeMessenger
	agent    *fakeAgent
}

func newRouterFixture(t *testing.T, concurrency int64) *routerFixture {
	t.Helper()
	tasks := &fakeTasks{}
	users := &fakeUsers{users: []store.User{
		{ID: store.GenNewID(), OpenID: "ou_alice", Name: "Alice", Role: store.RoleMember},
	}}
	sessions := newFakeSessions()
	msgr := &fakeMessenger{}
	agent := &fakeAgent{}

	stores := &store.Stores{Tasks: tasks, Users: users, Sessions: sessions}
	commands := NewCommandHandler(stores, msgr, NewWorkloadAssigner(users, nil))
	dedup := NewEventDeduplicator(time.Minute, 100)
	t.Cleanup(dedup.Stop)

	return &routerFixture{
		router:   NewRouter(dedup, stores, commands, agent, msgr, concurrency),
		tasks:    tasks,
		users:    users,
		sessions: sessions,
		msgr:     msgr,
		agent:    agent,
	}
}

func event(id, text string) *InboundEvent {
	return &InboundEvent{
		EventID:      id,
		ChatID:       "oc_chat",
		SenderOpenID: "ou_alice",
		SenderName:   "Alice",
		Text:         text,
	}
}

func TestRouter_DuplicateEventRepliesOnce(t *testing.T) {
	f := newRouterFixture(t, 10)

	if err := f.router.Process(context.Background(), event("ev-1", "你好")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.router.Process(context.Background(), event("ev-1", "你好")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.msgr.waitSends(t, 1)
	time.Sleep(50 * time.Millisecond)
	if f.msgr.sendCount() != 1 {
		t.Errorf("duplicate event must not produce a second reply, got %d", f.msgr.sendCount())
	}
}

func TestRouter_EmptyTextIgnored(t *testing.T) {
	f := newRouterFixture(t, 10)

	if err := f.router.Process(context.Background(), event("ev-1", "   ")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if f.msgr.sendCount() != 0 {
		t.Errorf("blank message must produce no reply, got %d", f.msgr.sendCount())
	}
}

func TestRouter_GreetingAndMenuShortCircuit(t *testing.T) {
	f := newRouterFixture(t, 10)

	_ = f.router.Process(context.Background(), event("ev-1", "你好"))
	_ = f.router.Process(context.Background(), event("ev-2", "帮助"))

	sends := f.msgr.waitSends(t, 2)
	if !strings.Contains(sends[0], replyGreeting) {
		t.Errorf("expected greeting reply, got %q", sends[0])
	}
	if !strings.Contains(sends[1], "可用操作") {
		t.Errorf("expected menu reply, got %q", sends[1])
	}
	if f.agent.callCount() != 0 {
		t.Error("greeting/menu must never reach the agent")
	}
}

func TestRouter_AutoProvisionsUnknownSender(t *testing.T) {
	f := newRouterFixture(t, 10)

	ev := event("ev-1", "我的任务")
	ev.SenderOpenID = "ou_newbie"
	ev.SenderName = "Newbie"
	if err := f.router.Process(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := f.users.GetByOpenID(context.Background(), "ou_newbie")
	if err != nil {
		t.Fatalf("expected auto-provisioned user: %v", err)
	}
	if u.Role != store.RoleMember {
		t.Errorf("auto-provisioned role = %q, want member", u.Role)
	}
	if u.Name != "Newbie" {
		t.Errorf("auto-provisioned name = %q", u.Name)
	}
}

func TestRouter_BareNumberConsumesLiveSession(t *testing.T) {
	f := newRouterFixture(t, 10)
	first := pendingTask("部署前端", "ou_alice", "ou_boss")
	_ = f.tasks.CreateTask(context.Background(), first)
	_ = f.tasks.CreateTask(context.Background(), pendingTask("部署后端", "ou_alice", "ou_boss"))

	_ = f.router.Process(context.Background(), event("ev-1", "完成 部署"))
	if f.sessions.count() != 1 {
		t.Fatal("expected an open dialog session after ambiguous complete")
	}

	_ = f.router.Process(context.Background(), event("ev-2", "1"))

	got, _ := f.tasks.GetTask(context.Background(), first.ID)
	if got.Status != store.TaskStatusCompleted {
		t.Error("bare number with a live session must complete the selection")
	}
	if f.sessions.count() != 0 {
		t.Error("consumed selection must close the session")
	}
	if f.agent.callCount() != 0 {
		t.Error("selection must not reach the agent")
	}
}

func TestRouter_BareNumberWithoutSessionIsChatter(t *testing.T) {
	f := newRouterFixture(t, 10)

	_ = f.router.Process(context.Background(), event("ev-1", "2"))

	sends := f.msgr.waitSends(t, 1)
	if !strings.Contains(sends[0], replyGreeting) {
		t.Errorf("bare number without a session should fall into short-chatter, got %q", sends[0])
	}
}

func TestRouter_UnknownIntentReachesAgent(t *testing.T) {
	f := newRouterFixture(t, 10)
	f.agent.reply = "周五前需要完成三件事"

	_ = f.router.Process(context.Background(), event("ev-1", "帮我看看这周还有什么要做的事情"))

	sends := f.msgr.waitSends(t, 1)
	if !strings.Contains(sends[0], "周五前需要完成三件事") {
		t.Errorf("expected agent reply forwarded, got %q", sends[0])
	}
	if f.agent.callCount() != 1 {
		t.Errorf("agent calls = %d, want 1", f.agent.callCount())
	}
}

func TestRouter_AgentConcurrencyCapRepliesBusy(t *testing.T) {
	f := newRouterFixture(t, 1)
	block := make(chan struct{})
	f.agent.blockCh = block

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.router.Process(context.Background(), event("ev-1", "这是一个需要模型处理的长问题"))
	}()

	// Wait for the first turn to hold the semaphore.
	deadline := time.Now().Add(2 * time.Second)
	for f.agent.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first agent turn never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = f.router.Process(context.Background(), event("ev-2", "这是另一个需要模型处理的问题"))
	sends := f.msgr.waitSends(t, 1)
	if !strings.Contains(sends[0], replyAgentBusy) {
		t.Errorf("expected busy reply while the cap is held, got %q", sends[0])
	}

	close(block)
	<-done
	if f.agent.callCount() != 1 {
		t.Errorf("capped turn must not reach the agent, calls = %d", f.agent.callCount())
	}
}
