package tools

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// Observer 工具执行过程的观察者
type Observer interface {
	ToolStarted(call llm.ToolCall)
	ToolCompleted(call llm.ToolCall, result Result)
	CursorMoved(x, y float64)
}

// Outcome 单次调用及其结果
type Outcome struct {
	Call   llm.ToolCall `json:"call"`
	Result Result       `json:"result"`
}

// ToolResult 转为回传给模型的工具结果
func (o Outcome) ToolResult() llm.ToolResult {
	return llm.ToolResult{
		CallID:  o.Call.ID,
		Content: o.Result.Text(),
		IsError: !o.Result.Success,
	}
}

// Pipeline 按到达顺序逐个执行工具调用
type Pipeline struct {
	executor Executor
	observer Observer
}

// NewPipeline 创建执行管线，observer 可为空
func NewPipeline(executor Executor, observer Observer) *Pipeline {
	return &Pipeline{executor: executor, observer: observer}
}

// Run 严格串行执行。单个失败不会中断队列；上下文取消后剩余调用均记为失败
func (p *Pipeline) Run(ctx context.Context, calls []llm.ToolCall) []Outcome {
	outcomes := make([]Outcome, 0, len(calls))
	for _, call := range calls {
		if p.observer != nil {
			p.observer.ToolStarted(call)
		}

		var result Result
		if err := ctx.Err(); err != nil {
			result = Result{Success: false, Error: errors.WrapError(errors.ErrCodeContextCanceled, "工具执行已取消", err).Error()}
		} else {
			result = p.execute(ctx, call)
		}

		if p.observer != nil {
			p.observer.ToolCompleted(call, result)
			if result.Success && call.Name == CursorToolName {
				if x, y, ok := cursorPosition(call.Arguments); ok {
					p.observer.CursorMoved(x, y)
				}
			}
		}
		outcomes = append(outcomes, Outcome{Call: call, Result: result})
	}
	return outcomes
}

func (p *Pipeline) execute(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	res, err := p.executor.Execute(ctx, call.Name, args)
	if err != nil {
		util.LogErrorWithFields(err, "工具调用失败", map[string]any{
			"tool_name": call.Name,
			"call_id":   call.ID,
		})
		return Result{Success: false, Error: err.Error()}
	}
	if res == nil {
		return Result{Success: false, Error: "工具没有返回结果"}
	}

	util.Debugw("工具调用结束", map[string]any{
		"tool_name":  call.Name,
		"call_id":    call.ID,
		"success":    res.Success,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return *res
}

// cursorPosition 读取光标坐标，支持数字、json.Number 与数字字符串
func cursorPosition(args map[string]any) (float64, float64, bool) {
	x, okX := toFloat(args["x"])
	y, okY := toFloat(args["y"])
	return x, y, okX && okY
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ArgFloat 读取数值参数
func ArgFloat(args map[string]any, key string) (float64, bool) {
	return toFloat(args[key])
}

// ArgString 读取字符串参数，空白视为缺失
func ArgString(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

// ArgStrings 读取字符串数组参数
func ArgStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
