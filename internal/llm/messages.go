package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawBase64 去掉 data URL 前缀，只保留 base64 数据
func rawBase64(data string) string {
	if strings.HasPrefix(data, "data:") {
		if _, after, ok := strings.Cut(data, ","); ok {
			return after
		}
	}
	return data
}

// flattenText 将工具调用和工具结果折叠为文本，供不支持工具的本地模型使用
func flattenText(m Message) string {
	var b strings.Builder
	for _, r := range m.ToolResults {
		status := "ok"
		if r.IsError {
			status = "error"
		}
		fmt.Fprintf(&b, "[tool result %s (%s)] %s\n", r.CallID, status, r.Content)
	}
	b.WriteString(m.Text())
	for _, call := range m.ToolCalls {
		args, _ := json.Marshal(call.Arguments)
		fmt.Fprintf(&b, "\n[tool call %s %s]", call.Name, args)
	}
	return strings.TrimSpace(b.String())
}

// systemText 合并 SendOptions.SystemPrompt 与消息中的 system 角色消息
func systemText(messages []Message, opts SendOptions) (string, []Message) {
	var parts []string
	if opts.SystemPrompt != "" {
		parts = append(parts, opts.SystemPrompt)
	}
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if t := m.Text(); t != "" {
				parts = append(parts, t)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
