package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// Messenger is the outbound messaging capability tools need.
type Messenger interface {
	SendText(ctx context.Context, receiveID, text string) error
}

const notifyTimeout = 10 * time.Second

// notify sends a best-effort message on its own goroutine. Failures are
// logged and never affect the committed state change.
func notify(messenger Messenger, receiveID, text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := messenger.SendText(ctx, receiveID, text); err != nil {
			slog.Warn("notification send failed", "receive_id", receiveID, "error", err)
		}
	}()
}

func jsonResult(v any) *Result {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(`{"error": "failed to encode result"}`)
	}
	return NewResult(string(data))
}

func jsonError(format string, args ...any) *Result {
	data, _ := json.Marshal(map[string]string{"error": fmt.Sprintf(format, args...)})
	return ErrorResult(string(data))
}

// ============================================================
// list_tasks
// ============================================================

type ListTasksTool struct {
	tasks store.TaskStore
}

func NewListTasksTool(tasks store.TaskStore) *ListTasksTool {
	return &ListTasksTool{tasks: tasks}
}

func (t *ListTasksTool) Name() string { return "list_tasks" }
func (t *ListTasksTool) Description() string {
	return "List the pending tasks assigned to a user, ordered by deadline."
}

func (t *ListTasksTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"open_id": map[string]any{
				"type":        "string",
				"description": "Open ID of the user whose tasks to list",
			},
		},
		"required": []string{"open_id"},
	}
}

func (t *ListTasksTool) Execute(ctx context.Context, args map[string]any) *Result {
	openID, _ := args["open_id"].(string)
	if openID == "" {
		return jsonError("open_id is required")
	}

	actor, ok := ActorFrom(ctx)
	if !ok || !actor.Caps.Has(store.CapView) {
		return jsonError("permission denied: view capability required")
	}

	tasks, err := t.tasks.ListPendingByAssignee(ctx, openID)
	if err != nil {
		return jsonError("list tasks failed: %v", err).WithError(err)
	}

	type taskEntry struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Deadline *string `json:"deadline"`
	}
	entries := make([]taskEntry, 0, len(tasks))
	for _, task := range tasks {
		e := taskEntry{ID: task.ID.String(), Title: task.Title}
		if task.Deadline != nil {
			d := task.Deadline.Format("2006-01-02")
			e.Deadline = &d
		}
		entries = append(entries, e)
	}
	return jsonResult(map[string]any{"tasks": entries})
}

// ============================================================
// create_task
// ============================================================

type CreateTaskTool struct {
	tasks     store.TaskStore
	messenger Messenger
}

func NewCreateTaskTool(tasks store.TaskStore, messenger Messenger) *CreateTaskTool {
	return &CreateTaskTool{tasks: tasks, messenger: messenger}
}

func (t *CreateTaskTool) Name() string { return "create_task" }
func (t *CreateTaskTool) Description() string {
	return "Create a task assigned to a user, with an optional deadline and note."
}

func (t *CreateTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Task title",
			},
			"target_open_id": map[string]any{
				"type":        "string",
				"description": "Open ID of the assignee",
			},
			"reporter_open_id": map[string]any{
				"type":        "string",
				"description": "Open ID of the reporter to notify on completion",
			},
			"deadline": map[string]any{
				"type":        "string",
				"description": "Deadline in YYYY-MM-DD format",
			},
			"note": map[string]any{
				"type":        "string",
				"description": "Free-form note attached to the task",
			},
		},
		"required": []string{"title", "target_open_id"},
	}
}

func (t *CreateTaskTool) Execute(ctx context.Context, args map[string]any) *Result {
	title, _ := args["title"].(string)
	targetOpenID, _ := args["target_open_id"].(string)
	if title == "" || targetOpenID == "" {
		return jsonError("title and target_open_id are required")
	}

	actor, ok := ActorFrom(ctx)
	if !ok || !actor.Caps.Has(store.CapCreate) {
		return jsonError("permission denied: create capability required")
	}

	task := &store.Task{
		Title:          title,
		AssigneeOpenID: targetOpenID,
	}
	if reporter, _ := args["reporter_open_id"].(string); reporter != "" {
		task.ReporterOpenID = reporter
	} else {
		task.ReporterOpenID = actor.OpenID
	}
	if note, _ := args["note"].(string); note != "" {
		task.Note = note
	}
	if deadline, _ := args["deadline"].(string); deadline != "" {
		d, err := time.Parse("2006-01-02", deadline)
		if err != nil {
			return jsonError("invalid deadline %q: want YYYY-MM-DD", deadline)
		}
		task.Deadline = &d
	}

	if err := t.tasks.CreateTask(ctx, task); err != nil {
		return jsonError("create task failed: %v", err).WithError(err)
	}

	notify(t.messenger, targetOpenID, fmt.Sprintf("You have a new task: %s", title))

	return jsonResult(map[string]any{"success": true, "task_id": task.ID.String()})
}

// ============================================================
// complete_task
// ============================================================

type CompleteTaskTool struct {
	tasks     store.TaskStore
	messenger Messenger
}

func NewCompleteTaskTool(tasks store.TaskStore, messenger Messenger) *CompleteTaskTool {
	return &CompleteTaskTool{tasks: tasks, messenger: messenger}
}

func (t *CompleteTaskTool) Name() string { return "complete_task" }
func (t *CompleteTaskTool) Description() string {
	return "Mark a pending task as completed, optionally attaching a proof URL."
}

func (t *CompleteTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "ID of the task to complete",
			},
			"user_open_id": map[string]any{
				"type":        "string",
				"description": "Open ID of the user completing the task",
			},
			"proof": map[string]any{
				"type":        "string",
				"description": "Optional proof URL",
			},
		},
		"required": []string{"task_id", "user_open_id"},
	}
}

func (t *CompleteTaskTool) Execute(ctx context.Context, args map[string]any) *Result {
	taskIDStr, _ := args["task_id"].(string)
	userOpenID, _ := args["user_open_id"].(string)
	if taskIDStr == "" || userOpenID == "" {
		return jsonError("task_id and user_open_id are required")
	}

	actor, ok := ActorFrom(ctx)
	if !ok || !actor.Caps.Has(store.CapComplete) {
		return jsonError("permission denied: complete capability required")
	}

	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		return jsonError("invalid task_id %q", taskIDStr)
	}

	task, err := t.tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jsonError("task not found")
		}
		return jsonError("load task failed: %v", err).WithError(err)
	}

	proof, _ := args["proof"].(string)
	if err := t.tasks.CompleteTask(ctx, taskID, proof); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Already completed or raced away: report as not found,
			// never double-notify.
			return jsonError("task not found")
		}
		return jsonError("complete task failed: %v", err).WithError(err)
	}

	if task.ReporterOpenID != "" {
		msg := fmt.Sprintf("Task %q completed by %s at %s", task.Title, actor.Name, time.Now().Format("2006-01-02 15:04"))
		if proof != "" {
			msg += "\nProof: " + proof
		}
		notify(t.messenger, task.ReporterOpenID, msg)
	}

	return jsonResult(map[string]any{"success": true})
}

// ============================================================
// send_message
// ============================================================

type SendMessageTool struct {
	messenger Messenger
}

func NewSendMessageTool(messenger Messenger) *SendMessageTool {
	return &SendMessageTool{messenger: messenger}
}

func (t *SendMessageTool) Name() string { return "send_message" }
func (t *SendMessageTool) Description() string {
	return "Send a text message to a chat or user."
}

func (t *SendMessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"chat_id": map[string]any{
				"type":        "string",
				"description": "Chat ID or open ID of the recipient",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Message text",
			},
		},
		"required": []string{"chat_id", "content"},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]any) *Result {
	chatID, _ := args["chat_id"].(string)
	content, _ := args["content"].(string)
	if chatID == "" || content == "" {
		return jsonError("chat_id and content are required")
	}

	sendCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := t.messenger.SendText(sendCtx, chatID, content); err != nil {
		return jsonError("send failed: %v", err).WithError(err)
	}
	return jsonResult(map[string]any{"success": true})
}
