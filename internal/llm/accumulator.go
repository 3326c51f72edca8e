package llm

import (
	"strings"

	"design-ai/internal/util"
)

// Accumulator 将流式片段组装为完整响应
type Accumulator struct {
	text       strings.Builder
	arena      *ToolCallArena
	calls      []ToolCall
	stopReason StopReason
	usage      Usage
	done       bool
}

// NewAccumulator 创建累积器
func NewAccumulator() *Accumulator {
	return &Accumulator{arena: NewToolCallArena()}
}

// Add 处理一个片段，工具调用结束时返回完整记录
func (a *Accumulator) Add(chunk StreamChunk) (ToolCall, bool) {
	switch chunk.Type {
	case ChunkText:
		a.text.WriteString(chunk.Text)
	case ChunkDone:
		a.done = true
		a.stopReason = chunk.StopReason
		if chunk.Usage != nil {
			a.usage = *chunk.Usage
		}
		if n := a.arena.Pending(); n > 0 {
			util.Debugw("流结束时仍有未完成的工具调用，已丢弃", map[string]any{"pending": n})
			a.arena.Reset()
		}
	default:
		call, ok := a.arena.Apply(chunk)
		if ok {
			a.calls = append(a.calls, call)
		}
		return call, ok
	}
	return ToolCall{}, false
}

// Done 是否已收到结束片段
func (a *Accumulator) Done() bool {
	return a.done
}

// Text 当前累积的文本
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Response 返回当前的完整响应
func (a *Accumulator) Response() *Response {
	stop := a.stopReason
	if stop == StopUnknown && len(a.calls) > 0 {
		stop = StopToolUse
	}
	return &Response{
		Content:    a.text.String(),
		ToolCalls:  append([]ToolCall(nil), a.calls...),
		StopReason: stop,
		Usage:      a.usage,
	}
}
