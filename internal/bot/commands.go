package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// Messenger is the outbound chat capability. Sends carry their own timeout;
// notification sends are fire-and-forget so the reply path never blocks on
// delivery.
type Messenger interface {
	SendText(ctx context.Context, receiveID, text string) error
}

// User-visible replies. Exact copy is not part of the contract.
const (
	replyForbidden    = "抱歉，你没有执行该操作的权限。"
	replyMenu         = "可用操作：\n- 我的任务：查看待办任务\n- 完成 [序号/名称] [链接]：完成任务\n- /add <任务> <负责人|#组> [YYYY-MM-DD]：创建任务\n- /del <序号/名称>：删除任务\n- 其他问题直接发消息即可"
	replyGreeting     = "你好！发送「帮助」查看可用操作。"
	replyNoTasks      = "你当前没有待办任务。"
	replyTaskNotFound = "没有找到匹配的任务，发送「我的任务」查看待办列表。"
	replyUserNotFound = "没有找到这位用户，请确认对方已注册，或换用邮箱/平台 ID 重试。"
	replyRetryLater   = "服务暂时不可用，请稍后重试。"
	replyAgentBusy    = "当前请求较多，请稍后再试。"
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const sendTimeout = 10 * time.Second

// CommandHandler executes the structured task commands and drives the
// disambiguation dialog.
type CommandHandler struct {
	tasks     store.TaskStore
	users     store.UserStore
	sessions  store.SessionStore
	messenger Messenger
	assigner  *WorkloadAssigner
}

func NewCommandHandler(stores *store.Stores, messenger Messenger, assigner *WorkloadAssigner) *CommandHandler {
	return &CommandHandler{
		tasks:     stores.Tasks,
		users:     stores.Users,
		sessions:  stores.Sessions,
		messenger: messenger,
		assigner:  assigner,
	}
}

func sessionKey(openID string) string {
	return "dialog:" + openID
}

// notifyAsync sends a best-effort message off the reply path. The state
// change it reports is already committed; failure is logged, never rolled
// back or retried.
func (h *CommandHandler) notifyAsync(receiveID, text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := h.messenger.SendText(ctx, receiveID, text); err != nil {
			slog.Warn("notification send failed", "receive_id", receiveID, "error", err)
		}
	}()
}

// --- view ---

// View lists the caller's pending tasks. An empty list is success.
func (h *CommandHandler) View(ctx context.Context, user *store.User) (string, error) {
	if !store.ResolveCapabilities(user).Has(store.CapView) {
		return replyForbidden, nil
	}

	tasks, err := h.tasks.ListPendingByAssignee(ctx, user.OpenID)
	if err != nil {
		return "", fmt.Errorf("list tasks for %s: %w", user.OpenID, err)
	}
	if len(tasks) == 0 {
		return replyNoTasks, nil
	}

	var b strings.Builder
	b.WriteString("你的待办任务：\n")
	for i, t := range tasks {
		b.WriteString(fmt.Sprintf("%d. %s", i+1, t.Title))
		if t.Deadline != nil {
			b.WriteString("（截止 " + t.Deadline.Format("2006-01-02") + "）")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// --- complete ---

// parseCompleteArg splits the text after a complete phrase into an optional
// selector and an optional proof URL. The first http(s) token anywhere in the
// remainder is the proof and is stripped from the selector.
func parseCompleteArg(raw string) (selector, proof string) {
	proof = urlRe.FindString(raw)
	if proof != "" {
		raw = strings.Replace(raw, proof, "", 1)
	}
	return strings.TrimSpace(raw), proof
}

// stripCompletePhrase extracts the raw argument from a complete-intent
// message: text after the imperative prefix, or text before the
// natural-language suffix.
func stripCompletePhrase(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.HasPrefix(lower, "done"):
		return strings.TrimSpace(text[len("done"):])
	case strings.HasPrefix(text, "完成"):
		return strings.TrimSpace(text[len("完成"):])
	case strings.HasSuffix(text, "任务完成"):
		return strings.TrimSpace(strings.TrimSuffix(text, "任务完成"))
	}
	return strings.TrimSpace(text)
}

// Complete resolves a selector against the caller's pending tasks and marks
// the match completed. Ambiguous or absent resolution opens a disambiguation
// dialog instead of failing.
func (h *CommandHandler) Complete(ctx context.Context, user *store.User, text string) (string, error) {
	if !store.ResolveCapabilities(user).Has(store.CapComplete) {
		return replyForbidden, nil
	}

	selector, proof := parseCompleteArg(stripCompletePhrase(text))

	pending, err := h.tasks.ListPendingByAssignee(ctx, user.OpenID)
	if err != nil {
		return "", fmt.Errorf("list tasks for %s: %w", user.OpenID, err)
	}
	if len(pending) == 0 {
		return replyTaskNotFound, nil
	}

	task, candidates := resolveTaskSelector(pending, selector)
	if task != nil {
		return h.completeAndNotify(ctx, user, task, proof)
	}

	// Ambiguous or absent: open the dialog with the candidate set (all
	// pending tasks when title matching produced nothing).
	if len(candidates) == 0 {
		candidates = pending
	}
	sess := &store.DialogSession{
		Key:          sessionKey(user.OpenID),
		State:        store.DialogStateAwaitSelection,
		Candidates:   make([]store.DialogCandidate, len(candidates)),
		PendingProof: proof,
		CreatedAt:    time.Now(),
	}
	var b strings.Builder
	b.WriteString("找到多个匹配的任务，回复序号选择：\n")
	for i, t := range candidates {
		sess.Candidates[i] = store.DialogCandidate{ID: t.ID, Title: t.Title}
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, t.Title))
	}
	if err := h.sessions.Put(ctx, sess); err != nil {
		return "", fmt.Errorf("open dialog session: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// resolveTaskSelector applies the resolution ladder: numeric index, exact
// title, title prefix, title substring, then the sole-task fallback. Returns
// either a unique match or the ambiguous candidate set.
func resolveTaskSelector(pending []store.Task, selector string) (*store.Task, []store.Task) {
	if selector != "" {
		if n, err := strconv.Atoi(selector); err == nil {
			if n >= 1 && n <= len(pending) {
				return &pending[n-1], nil
			}
			return nil, nil
		}

		for _, match := range []func(title string) bool{
			func(title string) bool { return title == selector },
			func(title string) bool { return strings.HasPrefix(title, selector) },
			func(title string) bool { return strings.Contains(title, selector) },
		} {
			var hits []store.Task
			for _, t := range pending {
				if match(t.Title) {
					hits = append(hits, t)
				}
			}
			if len(hits) == 1 {
				return &hits[0], nil
			}
			if len(hits) > 1 {
				return nil, hits
			}
		}
	}

	if len(pending) == 1 {
		return &pending[0], nil
	}
	return nil, nil
}

func (h *CommandHandler) completeAndNotify(ctx context.Context, user *store.User, task *store.Task, proof string) (string, error) {
	err := h.tasks.CompleteTask(ctx, task.ID, proof)
	if errors.Is(err, store.ErrNotFound) {
		// Already completed (or deleted) since listing: report not found,
		// never double-notify.
		return replyTaskNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("complete task %s: %w", task.ID, err)
	}

	if task.ReporterOpenID != "" {
		msg := fmt.Sprintf("任务「%s」已由 %s 于 %s 完成。", task.Title, user.Name, time.Now().Format("2006-01-02 15:04"))
		if proof != "" {
			msg += "\n凭证：" + proof
		}
		h.notifyAsync(task.ReporterOpenID, msg)
	}

	return fmt.Sprintf("任务「%s」已完成。", task.Title), nil
}

// ResolveSelection consumes an in-range numbered reply against the caller's
// open dialog. Out-of-range keeps the session alive without refreshing its
// TTL, so a confused user cannot extend the dialog indefinitely.
func (h *CommandHandler) ResolveSelection(ctx context.Context, user *store.User, sess *store.DialogSession, n int) (string, error) {
	if n < 1 || n > len(sess.Candidates) {
		return fmt.Sprintf("请输入 1 到 %d 之间的序号。", len(sess.Candidates)), nil
	}

	chosen := sess.Candidates[n-1]
	task, err := h.tasks.GetTask(ctx, chosen.ID)
	if errors.Is(err, store.ErrNotFound) {
		h.deleteSession(ctx, user.OpenID)
		return replyTaskNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load task %s: %w", chosen.ID, err)
	}

	reply, err := h.completeAndNotify(ctx, user, task, sess.PendingProof)
	if err != nil {
		return "", err
	}
	h.deleteSession(ctx, user.OpenID)
	return reply, nil
}

func (h *CommandHandler) deleteSession(ctx context.Context, openID string) {
	if err := h.sessions.Delete(ctx, sessionKey(openID)); err != nil {
		slog.Warn("delete dialog session failed", "open_id", openID, "error", err)
	}
}

// --- create ---

// parseCreateArg splits "/add <title-words...> <identifier> [YYYY-MM-DD]".
// The identifier is the last non-date token.
func parseCreateArg(text string) (title, identifier string, deadline *time.Time, ok bool) {
	for _, p := range createPrefixes {
		if strings.HasPrefix(strings.ToLower(text), p) {
			text = text[len(p):]
			break
		}
	}

	tokens := strings.Fields(text)
	if len(tokens) > 0 && dateRe.MatchString(tokens[len(tokens)-1]) {
		d, err := time.Parse("2006-01-02", tokens[len(tokens)-1])
		if err == nil {
			deadline = &d
			tokens = tokens[:len(tokens)-1]
		}
	}
	if len(tokens) < 2 {
		return "", "", nil, false
	}

	identifier = tokens[len(tokens)-1]
	title = strings.Join(tokens[:len(tokens)-1], " ")
	return title, identifier, deadline, true
}

// Create parses a create command, resolves the target user, and creates the
// task. Ambiguous fuzzy matches reply with the candidate list and abort —
// this path never opens a session; the caller retries with a more specific
// identifier.
func (h *CommandHandler) Create(ctx context.Context, user *store.User, text string) (string, error) {
	if !store.ResolveCapabilities(user).Has(store.CapCreate) {
		return replyForbidden, nil
	}

	title, identifier, deadline, ok := parseCreateArg(strings.TrimSpace(text))
	if !ok {
		return "用法：/add <任务> <负责人|#组> [YYYY-MM-DD]", nil
	}

	target, reply, err := h.resolveTarget(ctx, identifier)
	if err != nil {
		return "", err
	}
	if target == nil {
		return reply, nil
	}

	task := &store.Task{
		Title:           title,
		AssigneeOpenID:  target.OpenID,
		AssigneeContact: target.Email,
		ReporterOpenID:  user.OpenID,
		Deadline:        deadline,
	}
	if err := h.tasks.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	notice := fmt.Sprintf("%s 给你分配了新任务：%s", user.Name, title)
	if deadline != nil {
		notice += "（截止 " + deadline.Format("2006-01-02") + "）"
	}
	h.notifyAsync(target.OpenID, notice)

	return fmt.Sprintf("已创建任务「%s」，负责人：%s", title, target.Name), nil
}

// --- delete ---

func stripDeletePrefix(text string) string {
	lower := strings.ToLower(text)
	for _, p := range deletePrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(text[len(p):])
		}
	}
	return strings.TrimSpace(text)
}

// Delete removes one of the caller's pending tasks. Deletion is destructive,
// so ambiguity is terminal: the candidate list is shown and the caller retries
// with an exact selector — no dialog session is opened.
func (h *CommandHandler) Delete(ctx context.Context, user *store.User, text string) (string, error) {
	if !store.ResolveCapabilities(user).Has(store.CapCreate) {
		return replyForbidden, nil
	}

	selector := stripDeletePrefix(strings.TrimSpace(text))

	pending, err := h.tasks.ListPendingByAssignee(ctx, user.OpenID)
	if err != nil {
		return "", fmt.Errorf("list tasks for %s: %w", user.OpenID, err)
	}
	if len(pending) == 0 {
		return replyTaskNotFound, nil
	}

	task, candidates := resolveTaskSelector(pending, selector)
	if task == nil {
		if len(candidates) == 0 {
			return replyTaskNotFound, nil
		}
		var b strings.Builder
		b.WriteString("找到多个匹配的任务，请用完整名称重试：\n")
		for i, t := range candidates {
			b.WriteString(fmt.Sprintf("%d. %s\n", i+1, t.Title))
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	err = h.tasks.DeleteTask(ctx, task.ID)
	if errors.Is(err, store.ErrNotFound) {
		return replyTaskNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("delete task %s: %w", task.ID, err)
	}

	if task.ReporterOpenID != "" && task.ReporterOpenID != user.OpenID {
		h.notifyAsync(task.ReporterOpenID, fmt.Sprintf("任务「%s」已被 %s 删除。", task.Title, user.Name))
	}

	return fmt.Sprintf("任务「%s」已删除。", task.Title), nil
}

// resolveTarget resolves an assignee identifier: #tag group (workload-based
// auto-assignment), exact email, exact platform id, then fuzzy display name.
// A nil user with a non-empty reply means a terminal user-visible outcome.
func (h *CommandHandler) resolveTarget(ctx context.Context, identifier string) (*store.User, string, error) {
	if tag, found := strings.CutPrefix(identifier, "#"); found {
		picked, err := h.assigner.Pick(ctx, tag)
		if err != nil {
			return nil, "", err
		}
		if picked == nil {
			return nil, fmt.Sprintf("「%s」组里没有可分配的成员。", tag), nil
		}
		return picked, "", nil
	}

	if strings.Contains(identifier, "@") {
		target, err := h.users.GetByEmail(ctx, identifier)
		if errors.Is(err, store.ErrNotFound) {
			return nil, replyUserNotFound, nil
		}
		if err != nil {
			return nil, "", fmt.Errorf("lookup email %s: %w", identifier, err)
		}
		return target, "", nil
	}

	target, err := h.users.GetByOpenID(ctx, identifier)
	if err == nil {
		return target, "", nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("lookup open_id %s: %w", identifier, err)
	}

	matches, err := h.users.SearchByName(ctx, identifier)
	if err != nil {
		return nil, "", fmt.Errorf("search name %s: %w", identifier, err)
	}
	switch len(matches) {
	case 0:
		return nil, replyUserNotFound, nil
	case 1:
		return &matches[0], "", nil
	default:
		var b strings.Builder
		b.WriteString(fmt.Sprintf("找到多个叫「%s」的用户，请用邮箱或平台 ID 重试：\n", identifier))
		for _, m := range matches {
			b.WriteString("- " + m.Name)
			if m.Email != "" {
				b.WriteString("（" + m.Email + "）")
			}
			b.WriteString("\n")
		}
		return nil, strings.TrimRight(b.String(), "\n"), nil
	}
}
