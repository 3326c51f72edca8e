package tools

import (
	"context"
	"strings"

	"design-ai/internal/pkg/errors"
)

// CursorToolName 光标工具，成功后会额外通知光标位置
const CursorToolName = "look_at"

// Tier 工具层级，按 basic < standard < advanced 递增
type Tier string

const (
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierAdvanced Tier = "advanced"
)

func (t Tier) rank() int {
	switch t {
	case TierBasic:
		return 0
	case TierStandard:
		return 1
	case TierAdvanced:
		return 2
	default:
		return -1
	}
}

// Includes 过滤层级 t 是否包含层级 other
func (t Tier) Includes(other Tier) bool {
	return other.rank() >= 0 && other.rank() <= t.rank()
}

// ParseTier 解析层级名称，空字符串视为 advanced
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TierAdvanced, nil
	case TierBasic, TierStandard, TierAdvanced:
		return t, nil
	default:
		return "", errors.NewErrorWithDetails(errors.ErrCodeInvalidParam, "未知的工具层级", s)
	}
}

// Tool 工具接口定义
type Tool interface {
	// Name 返回工具的名称
	Name() string

	// Description 获取工具描述
	Description() string

	// Parameters 获取工具参数schema
	Parameters() map[string]any

	// Execute 执行工具
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Definition 目录中的工具定义
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Tier        Tier           `json:"tier"`
}

// Result 单次工具执行结果
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Text 回传给模型的文本
func (r Result) Text() string {
	if r.Success {
		if r.Message == "" {
			return "ok"
		}
		return r.Message
	}
	if r.Error == "" {
		return "failed"
	}
	return r.Error
}

// Executor 宿主侧工具执行器。返回的 Go 错误会被归一化为失败结果
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// ExecutorFunc 函数形式的执行器
type ExecutorFunc func(ctx context.Context, name string, args map[string]any) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	return f(ctx, name, args)
}
