package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// buildSystemPrompt assembles the per-turn system prompt: bot identity, the
// calling user and their effective permissions, the user directory (so the
// model can resolve names to platform ids when creating tasks), and the
// current time for deadline arithmetic.
func buildSystemPrompt(caller *store.User, directory []store.User, now time.Time) string {
	var b strings.Builder

	b.WriteString("你是团队的任务助理机器人，通过聊天帮助成员查看、创建和完成任务。\n")
	b.WriteString("回答保持简短、直接，用用户的语言回复。\n")
	b.WriteString("涉及任务数据时必须调用工具，不要凭空编造任务内容。\n\n")

	caps := store.ResolveCapabilities(caller)
	b.WriteString(fmt.Sprintf("当前用户：%s（open_id: %s）\n", caller.Name, caller.OpenID))
	var allowed []string
	for _, c := range []string{store.CapView, store.CapCreate, store.CapComplete} {
		if caps.Has(c) {
			allowed = append(allowed, c)
		}
	}
	b.WriteString("用户权限：" + strings.Join(allowed, ", ") + "\n")
	b.WriteString("权限之外的操作会被工具拒绝，直接告知用户没有权限即可。\n\n")

	if len(directory) > 0 {
		b.WriteString("已知用户（姓名 | open_id | 邮箱）：\n")
		for _, u := range directory {
			b.WriteString(fmt.Sprintf("- %s | %s | %s\n", u.Name, u.OpenID, u.Email))
		}
		b.WriteString("\n")
	}

	b.WriteString("当前时间：" + now.Format("2006-01-02 15:04 (Mon)") + "\n")
	return b.String()
}
