package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"design-ai/internal/events"
	"design-ai/internal/llm"
	"design-ai/internal/orchestrator"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
)

// Engine 对话界面驱动的编排能力，*orchestrator.Orchestrator 满足该接口
type Engine interface {
	ProcessTurn(ctx context.Context, input string) (*orchestrator.TurnResult, error)
	StreamTurn(ctx context.Context, input string) (*orchestrator.TurnResult, error)
	Reset() error
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ff00")).
			Bold(true)

	aiStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00ffff")).
		Bold(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffaf00"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff5f5f")).
			Bold(true)
)

// 工具参数在界面上最多显示的字符数
const maxArgsPreview = 120

func describeToolStart(call *llm.ToolCall) string {
	if call == nil {
		return "🔧 调用工具"
	}
	args := "{}"
	if len(call.Arguments) > 0 {
		if data, err := json.Marshal(call.Arguments); err == nil {
			args = string(data)
		}
	} else if call.RawArguments != "" {
		args = call.RawArguments
	}
	if r := []rune(args); len(r) > maxArgsPreview {
		args = string(r[:maxArgsPreview]) + "…"
	}
	return fmt.Sprintf("🔧 调用工具 %s %s", call.Name, args)
}

func describeToolResult(call *llm.ToolCall, result *tools.Result) string {
	name := ""
	if call != nil {
		name = call.Name
	}
	if result == nil {
		return fmt.Sprintf("❌ %s: 没有结果", name)
	}
	if result.Success {
		return fmt.Sprintf("✅ %s: %s", name, result.Text())
	}
	return fmt.Sprintf("❌ %s: %s", name, result.Text())
}

func describeCursor(x, y float64) string {
	return fmt.Sprintf("📍 视图移动到 (%.0f, %.0f)", x, y)
}

func describeError(err error) string {
	if err == nil {
		return "❌ 本轮失败"
	}
	if _, ok := errors.AsAppError(err); !ok {
		return "❌ " + err.Error()
	}
	msg := errors.GetUserFriendlyMessage(err)
	if details := errors.GetErrorDetails(err); details != "" {
		return fmt.Sprintf("❌ %s (%s)", msg, details)
	}
	return "❌ " + msg
}

func describeStatus(status events.Status) string {
	switch status {
	case events.StatusThinking:
		return "AI 正在思考..."
	case events.StatusExecuting:
		return "正在执行工具..."
	case events.StatusError:
		return "上一轮失败"
	default:
		return ""
	}
}

func describeUsage(resp *llm.Response) string {
	if resp == nil {
		return ""
	}
	return fmt.Sprintf("[%s] 输入 %d / 输出 %d tokens", resp.Provider, resp.Usage.InputTokens, resp.Usage.OutputTokens)
}

// chunkText 流式片段中可显示的文本
func chunkText(ev events.Event) string {
	if ev.Chunk == nil || ev.Chunk.Type != llm.ChunkText {
		return ""
	}
	return ev.Chunk.Text
}

// terminal 是否为一轮的最后一个事件
func terminal(ev events.Event) bool {
	return ev.Type == events.TurnComplete || ev.Type == events.TurnError
}
