package llm

// ChunkType 流式片段类型
type ChunkType string

const (
	ChunkText          ChunkType = "text"
	ChunkToolCallStart ChunkType = "tool_call_start"
	ChunkToolCallDelta ChunkType = "tool_call_delta"
	ChunkToolCallEnd   ChunkType = "tool_call_end"
	ChunkDone          ChunkType = "done"
)

// StreamChunk 归一化后的流式片段。
// 工具调用相关片段通过 Index 关联同一次调用的各个片段。
type StreamChunk struct {
	Type           ChunkType  `json:"type"`
	Text           string     `json:"text,omitempty"`
	Index          int        `json:"index"`
	ToolCallID     string     `json:"tool_call_id,omitempty"`
	ToolName       string     `json:"tool_name,omitempty"`
	ArgumentsDelta string     `json:"arguments_delta,omitempty"`
	StopReason     StopReason `json:"stop_reason,omitempty"`
	Usage          *Usage     `json:"usage,omitempty"`
}

func TextChunk(text string) StreamChunk {
	return StreamChunk{Type: ChunkText, Text: text}
}

func ToolCallStartChunk(index int, id, name string) StreamChunk {
	return StreamChunk{Type: ChunkToolCallStart, Index: index, ToolCallID: id, ToolName: name}
}

func ToolCallDeltaChunk(index int, fragment string) StreamChunk {
	return StreamChunk{Type: ChunkToolCallDelta, Index: index, ArgumentsDelta: fragment}
}

func ToolCallEndChunk(index int) StreamChunk {
	return StreamChunk{Type: ChunkToolCallEnd, Index: index}
}

func DoneChunk(reason StopReason, usage Usage) StreamChunk {
	return StreamChunk{Type: ChunkDone, StopReason: reason, Usage: &usage}
}
