package tools

import (
	"context"
	"fmt"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// FunctionBasedTool 基于函数的工具实现
type FunctionBasedTool struct {
	name        string
	description string
	parameters  map[string]any
	executeFunc func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunctionTool 用函数构造工具
func NewFunctionTool(name, description string, parameters map[string]any,
	executeFunc func(ctx context.Context, args map[string]any) (string, error)) *FunctionBasedTool {
	return &FunctionBasedTool{
		name:        name,
		description: description,
		parameters:  parameters,
		executeFunc: executeFunc,
	}
}

func (f *FunctionBasedTool) Name() string {
	return f.name
}

func (f *FunctionBasedTool) Description() string {
	return f.description
}

func (f *FunctionBasedTool) Parameters() map[string]any {
	return f.parameters
}

func (f *FunctionBasedTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.executeFunc(ctx, args)
}

type tieredTool struct {
	tool Tool
	tier Tier
}

// Toolset 一组带层级的工具，批量登记到执行器和目录
type Toolset struct {
	tools []tieredTool
}

// NewToolset 创建空工具集
func NewToolset() *Toolset {
	return &Toolset{}
}

// Add 加入工具
func (s *Toolset) Add(tool Tool, tier Tier) *Toolset {
	s.tools = append(s.tools, tieredTool{tool: tool, tier: tier})
	return s
}

// RegisterFunction 注册函数为工具
func (s *Toolset) RegisterFunction(name, description string, tier Tier, parameters map[string]any,
	executeFunc func(ctx context.Context, args map[string]any) (string, error)) *Toolset {
	return s.Add(NewFunctionTool(name, description, parameters, executeFunc), tier)
}

// Len 工具数量
func (s *Toolset) Len() int {
	return len(s.tools)
}

// RegisterAll 将工具集登记到执行器和目录，单个失败不影响其余工具
func (s *Toolset) RegisterAll(executor *LocalExecutor, catalog *Catalog) error {
	successCount := 0
	errorCount := 0

	for _, item := range s.tools {
		if err := executor.RegisterTool(item.tool, item.tier, catalog); err != nil {
			util.LogErrorWithFields(err, "工具注册失败", map[string]any{
				"tool_name": item.tool.Name(),
			})
			errorCount++
			continue
		}
		successCount++
	}

	util.Infow("工具批量注册完成", map[string]any{
		"success_count": successCount,
		"error_count":   errorCount,
		"total_count":   len(s.tools),
	})

	if errorCount > 0 {
		return errors.NewErrorWithDetails(errors.ErrCodeToolExists, "部分工具注册失败",
			fmt.Sprintf("成功: %d, 失败: %d", successCount, errorCount))
	}
	return nil
}
