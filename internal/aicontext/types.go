package aicontext

import (
	"slices"
	"strings"

	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
)

// Section 可截断的上下文片段
type Section string

const (
	SectionScene              Section = "scene"
	SectionState              Section = "state"
	SectionCustomInstructions Section = "custom_instructions"
)

// DefaultTruncationPriority 默认截断顺序
var DefaultTruncationPriority = []Section{SectionScene, SectionState, SectionCustomInstructions}

// ParseSection 解析片段名称
func ParseSection(s string) (Section, error) {
	switch sec := Section(strings.ToLower(strings.TrimSpace(s))); sec {
	case SectionScene, SectionState, SectionCustomInstructions:
		return sec, nil
	default:
		return "", errors.NewErrorWithDetails(errors.ErrCodeInvalidParam, "未知的上下文片段", s)
	}
}

// TokenBudget 每轮上下文的 token 预算
type TokenBudget struct {
	MaxTokens          int
	ReserveForResponse int
	TruncationPriority []Section
}

func (b TokenBudget) priority() []Section {
	if len(b.TruncationPriority) == 0 {
		return DefaultTruncationPriority
	}
	return b.TruncationPriority
}

// AIContext 单轮使用的上下文，不持久化
type AIContext struct {
	SystemPrompt     string               `json:"system_prompt"`
	ToolCatalog      string               `json:"tool_catalog"`
	Tools            []llm.ToolDefinition `json:"tools,omitempty"`
	StateDescription string               `json:"state_description"`
	EstimatedTokens  int                  `json:"estimated_tokens"`
	Truncated        []Section            `json:"truncated,omitempty"`

	parts *sections
}

func (c *AIContext) markTruncated(s Section) {
	if !slices.Contains(c.Truncated, s) {
		c.Truncated = append(c.Truncated, s)
	}
}

// Rect 画布坐标中的矩形
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Viewport 视口状态
type Viewport struct {
	Zoom         float64 `json:"zoom" yaml:"zoom"`
	OffsetX      float64 `json:"offset_x" yaml:"offset_x"`
	OffsetY      float64 `json:"offset_y" yaml:"offset_y"`
	Visible      Rect    `json:"visible" yaml:"visible"`
	CanvasWidth  float64 `json:"canvas_width" yaml:"canvas_width"`
	CanvasHeight float64 `json:"canvas_height" yaml:"canvas_height"`
}

// Node 场景中的一个元素
type Node struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Bounds   Rect     `json:"bounds"`
	Children []string `json:"children,omitempty"`
}

// HostState 宿主提供的只读状态，在组装上下文时同步读取
type HostState interface {
	Viewport() Viewport
	Selection() []string
	Node(id string) (Node, bool)
	RootNodes() []string
	ActiveTool() string
}
