package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// DefaultAgentConcurrency caps in-flight LLM fallback turns. Structured
// commands are cheap and never queue behind this.
const DefaultAgentConcurrency = 10

// InboundEvent is one deduplicatable inbound message, already decoded from
// the platform envelope.
type InboundEvent struct {
	EventID      string
	ChatID       string
	SenderOpenID string
	SenderName   string // best-effort, may be empty
	Text         string
}

// Agent produces a free-form reply for messages no structured route claims.
// Implementations own their transport-failure fallback: Respond returns a
// user-sendable string even when the model is unreachable.
type Agent interface {
	Respond(ctx context.Context, user *store.User, chatID, text string) (string, error)
}

// Router is the single entry point for inbound messages: dedup, user
// resolution, dialog continuation, intent dispatch, agent fallback.
type Router struct {
	dedup     *EventDeduplicator
	users     store.UserStore
	sessions  store.SessionStore
	commands  *CommandHandler
	agent     Agent
	messenger Messenger
	agentSem  *semaphore.Weighted
}

func NewRouter(dedup *EventDeduplicator, stores *store.Stores, commands *CommandHandler, agent Agent, messenger Messenger, agentConcurrency int64) *Router {
	if agentConcurrency <= 0 {
		agentConcurrency = DefaultAgentConcurrency
	}
	return &Router{
		dedup:     dedup,
		users:     stores.Users,
		sessions:  stores.Sessions,
		commands:  commands,
		agent:     agent,
		messenger: messenger,
		agentSem:  semaphore.NewWeighted(agentConcurrency),
	}
}

// Process handles one inbound event end to end. Every path that reaches a
// user produces exactly one reply; duplicates and empty messages produce
// none.
func (r *Router) Process(ctx context.Context, ev *InboundEvent) error {
	if r.dedup.Seen(ev.EventID) {
		slog.Debug("duplicate event dropped", "event_id", ev.EventID)
		return nil
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}

	user, err := r.resolveUser(ctx, ev)
	if err != nil {
		r.reply(ctx, ev.ChatID, replyRetryLater)
		return fmt.Errorf("resolve user %s: %w", ev.SenderOpenID, err)
	}

	reply, err := r.dispatch(ctx, user, ev.ChatID, text)
	if err != nil {
		r.reply(ctx, ev.ChatID, replyRetryLater)
		return err
	}
	if reply == "" {
		return nil
	}
	r.reply(ctx, ev.ChatID, reply)
	return nil
}

// dispatch picks the route for a resolved user's message. A bare number with
// a live dialog session wins over intent classification, so "2" during
// disambiguation is a selection, not chatter.
func (r *Router) dispatch(ctx context.Context, user *store.User, chatID, text string) (string, error) {
	if n, convErr := strconv.Atoi(text); convErr == nil {
		sess, err := r.sessions.Get(ctx, sessionKey(user.OpenID))
		if err != nil {
			return "", fmt.Errorf("load dialog session: %w", err)
		}
		if sess != nil {
			return r.commands.ResolveSelection(ctx, user, sess, n)
		}
		// Expired or never opened: fall through to classification, where a
		// bare number lands in short-chatter.
	}

	switch ClassifyIntent(text) {
	case IntentGreeting:
		return replyGreeting, nil
	case IntentMenu:
		return replyMenu, nil
	case IntentView:
		return r.commands.View(ctx, user)
	case IntentComplete:
		return r.commands.Complete(ctx, user, text)
	case IntentCreate:
		return r.commands.Create(ctx, user, text)
	case IntentDelete:
		return r.commands.Delete(ctx, user, text)
	case IntentCommand:
		// Unrecognized slash command: show what is available rather than
		// handing command-shaped input to the model.
		return "未知命令。\n" + replyMenu, nil
	default:
		return r.agentFallback(ctx, user, chatID, text)
	}
}

func (r *Router) agentFallback(ctx context.Context, user *store.User, chatID, text string) (string, error) {
	if !r.agentSem.TryAcquire(1) {
		return replyAgentBusy, nil
	}
	defer r.agentSem.Release(1)
	return r.agent.Respond(ctx, user, chatID, text)
}

// resolveUser loads the sender, auto-provisioning an unknown one as a member
// so first contact never dead-ends. The platform display name is best-effort.
func (r *Router) resolveUser(ctx context.Context, ev *InboundEvent) (*store.User, error) {
	user, err := r.users.GetByOpenID(ctx, ev.SenderOpenID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	user = &store.User{
		ID:     store.GenNewID(),
		OpenID: ev.SenderOpenID,
		Name:   ev.SenderName,
		Role:   store.RoleMember,
	}
	if user.Name == "" {
		user.Name = ev.SenderOpenID
	}
	if err := r.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("auto-provision: %w", err)
	}
	slog.Info("auto-provisioned user", "open_id", user.OpenID, "name", user.Name)
	return user, nil
}

func (r *Router) reply(ctx context.Context, chatID, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := r.messenger.SendText(sendCtx, chatID, text); err != nil {
		slog.Error("reply send failed", "chat_id", chatID, "error", err)
	}
}
