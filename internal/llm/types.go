package llm

import (
	"strings"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType 内容片段类型
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ImageData 图片数据，Data 为不带 data URL 前缀的 base64
type ImageData struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentPart 有序内容片段
type ContentPart struct {
	Type  PartType   `json:"type"`
	Text  string     `json:"text,omitempty"`
	Image *ImageData `json:"image,omitempty"`
}

// Message 统一消息结构。Content 与 Parts 二选一，Parts 非空时优先
type Message struct {
	Role        Role          `json:"role"`
	Content     string        `json:"content,omitempty"`
	Parts       []ContentPart `json:"parts,omitempty"`
	ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
}

// NewTextMessage 创建纯文本消息
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: text}
}

// Text 返回消息的全部文本
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// Images 返回消息中的图片
func (m Message) Images() []ImageData {
	var images []ImageData
	for _, p := range m.Parts {
		if p.Type == PartImage && p.Image != nil {
			images = append(images, *p.Image)
		}
	}
	return images
}

// HasAttachment 是否携带附件
func (m Message) HasAttachment() bool {
	return len(m.Images()) > 0
}

// ToolCall 模型发起的工具调用
type ToolCall struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments"`
	RawArguments string         `json:"-"`
}

// ToolResult 回传给模型的工具结果
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolDefinition 工具定义，Parameters 为 JSON Schema
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SendOptions 请求选项
type SendOptions struct {
	Tools        []ToolDefinition
	MaxTokens    int
	Temperature  *float64
	SystemPrompt string
}

// Usage Token 用量
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total 总 Token 数
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// StopReason 结束原因
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
	StopSequence  StopReason = "stop_sequence"
	StopUnknown   StopReason = ""
)

// Response 完整响应
type Response struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	Provider   string     `json:"provider,omitempty"`
	Model      string     `json:"model,omitempty"`
}

// AssistantMessage 将响应转为可存入历史的助手消息
func (r *Response) AssistantMessage() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}

// Capabilities 适配器静态能力
type Capabilities struct {
	Vision           bool `json:"vision"`
	Streaming        bool `json:"streaming"`
	FunctionCalling  bool `json:"function_calling"`
	MaxContextTokens int  `json:"max_context_tokens"`
}
