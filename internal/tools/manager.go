package tools

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// DefaultToolTimeout 单次工具调用的默认超时
const DefaultToolTimeout = 30 * time.Second

// LocalExecutor 进程内工具的执行器，按名称分发
type LocalExecutor struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
}

// NewLocalExecutor 创建执行器，timeout 为 0 时使用默认值
func NewLocalExecutor(timeout time.Duration) *LocalExecutor {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &LocalExecutor{
		tools:   make(map[string]Tool),
		timeout: timeout,
	}
}

// RegisterTool 注册工具，catalog 非空时同时登记到目录
func (e *LocalExecutor) RegisterTool(tool Tool, tier Tier, catalog *Catalog) error {
	if tool == nil {
		return errors.NewError(errors.ErrCodeInvalidParam, "工具不能为空")
	}
	name := tool.Name()
	if name == "" {
		return errors.NewError(errors.ErrCodeInvalidParam, "工具名称不能为空")
	}

	e.mu.Lock()
	if _, exists := e.tools[name]; exists {
		e.mu.Unlock()
		return errors.NewErrorWithDetails(errors.ErrCodeToolExists, "工具已存在", name)
	}
	e.tools[name] = tool
	e.mu.Unlock()

	if catalog != nil {
		err := catalog.Register(Definition{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
			Tier:        tier,
		})
		if err != nil {
			e.mu.Lock()
			delete(e.tools, name)
			e.mu.Unlock()
			return err
		}
	}
	return nil
}

// Has 是否注册了指定工具
func (e *LocalExecutor) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tools[name]
	return ok
}

// Execute 执行工具调用，工具自身的错误转为失败结果
func (e *LocalExecutor) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	e.mu.RLock()
	tool, ok := e.tools[name]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.NewErrorWithDetails(errors.ErrCodeToolNotFound, "工具未找到", name)
	}

	startTime := time.Now()
	util.Infow("开始执行工具调用", map[string]any{
		"tool_name": name,
		"arguments": args,
	})

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	message, err := tool.Execute(callCtx, args)
	elapsed := time.Since(startTime)

	if err != nil {
		if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = errors.NewErrorWithDetails(errors.ErrCodeTimeout, "工具执行超时",
				fmt.Sprintf("工具 %s 执行超过 %s", name, e.timeout))
		}
		util.LogErrorWithFields(err, "工具执行失败", map[string]any{
			"tool_name":      name,
			"execution_time": elapsed.String(),
		})
		return &Result{Success: false, Error: err.Error()}, nil
	}

	util.Infow("工具执行成功", map[string]any{
		"tool_name":      name,
		"execution_time": elapsed.String(),
		"result_length":  len(message),
	})
	return &Result{Success: true, Message: message}, nil
}
