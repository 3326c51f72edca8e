package llm

import (
	"encoding/json"
	"strings"

	"design-ai/internal/util"
)

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// ToolCallArena 按 index 累积单次响应内的工具调用片段，每轮开始时 Reset
type ToolCallArena struct {
	slots map[int]*partialCall
}

// NewToolCallArena 创建空的累积区
func NewToolCallArena() *ToolCallArena {
	return &ToolCallArena{slots: make(map[int]*partialCall)}
}

// Reset 清空所有未完成的调用
func (a *ToolCallArena) Reset() {
	clear(a.slots)
}

// Pending 未结束的调用数量
func (a *ToolCallArena) Pending() int {
	return len(a.slots)
}

// Start 在 index 处打开一个调用，已有的未完成调用会被覆盖
func (a *ToolCallArena) Start(index int, id, name string) {
	if id == "" {
		id = util.NewID("call")
	}
	a.slots[index] = &partialCall{id: id, name: name}
}

// Append 追加参数片段，index 未打开时忽略
func (a *ToolCallArena) Append(index int, fragment string) {
	if slot, ok := a.slots[index]; ok {
		slot.args.WriteString(fragment)
	}
}

// End 结束 index 处的调用并解析参数。没有对应 Start 时返回 false
func (a *ToolCallArena) End(index int) (ToolCall, bool) {
	slot, ok := a.slots[index]
	if !ok {
		return ToolCall{}, false
	}
	delete(a.slots, index)

	raw := slot.args.String()
	return ToolCall{
		ID:           slot.id,
		Name:         slot.name,
		Arguments:    parseArguments(slot.name, raw),
		RawArguments: raw,
	}, true
}

// Apply 处理一个流式片段，工具调用结束时返回完整记录
func (a *ToolCallArena) Apply(chunk StreamChunk) (ToolCall, bool) {
	switch chunk.Type {
	case ChunkToolCallStart:
		a.Start(chunk.Index, chunk.ToolCallID, chunk.ToolName)
	case ChunkToolCallDelta:
		a.Append(chunk.Index, chunk.ArgumentsDelta)
	case ChunkToolCallEnd:
		return a.End(chunk.Index)
	}
	return ToolCall{}, false
}

func parseArguments(name, raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		util.Warnw("工具参数解析失败", map[string]any{
			"tool":  name,
			"raw":   raw,
			"error": err.Error(),
		})
		return map[string]any{}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}
