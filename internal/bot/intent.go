// Package bot contains the message-routing core: event dedup, intent
// classification, the disambiguation dialog, the task command handler, the
// workload assigner, and the router that composes them.
package bot

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Intent is the classified purpose of an inbound message.
type Intent string

const (
	IntentCreate   Intent = "create"
	IntentDelete   Intent = "delete"
	IntentCommand  Intent = "command"
	IntentMenu     Intent = "menu"
	IntentView     Intent = "view"
	IntentComplete Intent = "complete"
	IntentGreeting Intent = "greeting"
	IntentUnknown  Intent = "unknown"
)

// Structured-create command prefixes.
var createPrefixes = []string{"/add ", "/task "}

// Structured-delete command prefixes.
var deletePrefixes = []string{"/del ", "/remove "}

// Exact help/menu phrases.
var menuPhrases = map[string]bool{
	"help": true, "menu": true, "帮助": true, "菜单": true, "功能": true,
}

// Exact "list my tasks" phrases.
var viewPhrases = map[string]bool{
	"我的任务": true, "查看任务": true, "任务列表": true,
	"my tasks": true, "list tasks": true, "list my tasks": true,
}

// Greeting word prefixes.
var greetingPrefixes = []string{"你好", "您好", "嗨", "在吗", "hi", "hello", "hey", "早上好", "晚上好"}

var urlRe = regexp.MustCompile(`https?://\S+`)

// shortChatterLimit is the rune count below which a message with no URL and
// no matching rule is treated as low-signal chatter.
const shortChatterLimit = 6

// classifyRule pairs a predicate with the intent it yields. Rules are
// evaluated strictly top to bottom; the ordering is a correctness property
// (e.g. the short-chatter fallback must run after the complete rules, or a
// two-rune "done" would be misclassified).
type classifyRule struct {
	name  string
	match func(text string) bool
	then  Intent
}

var classifyRules = []classifyRule{
	{
		name: "create-prefix",
		then: IntentCreate,
		match: func(text string) bool {
			lower := strings.ToLower(text)
			for _, p := range createPrefixes {
				if strings.HasPrefix(lower, p) {
					return true
				}
			}
			return false
		},
	},
	{
		name: "delete-prefix",
		then: IntentDelete,
		match: func(text string) bool {
			lower := strings.ToLower(text)
			for _, p := range deletePrefixes {
				if strings.HasPrefix(lower, p) {
					return true
				}
			}
			return false
		},
	},
	{
		name: "slash-catch-all",
		then: IntentCommand,
		match: func(text string) bool {
			return strings.HasPrefix(text, "/")
		},
	},
	{
		name: "menu-phrase",
		then: IntentMenu,
		match: func(text string) bool {
			return menuPhrases[strings.ToLower(text)]
		},
	},
	{
		name: "view-phrase",
		then: IntentView,
		match: func(text string) bool {
			return viewPhrases[strings.ToLower(text)]
		},
	},
	{
		name: "complete-phrase",
		then: IntentComplete,
		match: func(text string) bool {
			lower := strings.ToLower(text)
			if lower == "done" || lower == "完成" {
				return true
			}
			// Imperative prefix form: "完成 ..." / "done ..."
			if strings.HasPrefix(lower, "done ") || strings.HasPrefix(text, "完成") {
				return true
			}
			// Natural-language suffix form: "<name> 任务完成"
			return strings.HasSuffix(text, "任务完成")
		},
	},
	{
		name: "greeting-prefix",
		then: IntentGreeting,
		match: func(text string) bool {
			lower := strings.ToLower(text)
			for _, p := range greetingPrefixes {
				if strings.HasPrefix(lower, p) {
					return true
				}
			}
			return false
		},
	},
	{
		name: "short-chatter",
		then: IntentGreeting,
		match: func(text string) bool {
			return utf8.RuneCountInString(text) <= shortChatterLimit && !urlRe.MatchString(text)
		},
	},
}

// ClassifyIntent maps raw message text to an intent. Pure and total: any
// input yields exactly one intent.
func ClassifyIntent(text string) Intent {
	trimmed := strings.TrimSpace(text)
	for _, rule := range classifyRules {
		if rule.match(trimmed) {
			return rule.then
		}
	}
	return IntentUnknown
}
