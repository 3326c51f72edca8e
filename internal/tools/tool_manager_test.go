package tools

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"design-ai/internal/pkg/errors"
)

// MockTool 测试用工具
type MockTool struct {
	name        string
	description string
	parameters  map[string]any
	executeFunc func(ctx context.Context, args map[string]any) (string, error)
}

func (m *MockTool) Name() string               { return m.name }
func (m *MockTool) Description() string        { return m.description }
func (m *MockTool) Parameters() map[string]any { return m.parameters }

func (m *MockTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, args)
	}
	return "mock result", nil
}

func createMockTool(name, description string) *MockTool {
	return &MockTool{
		name:        name,
		description: description,
		parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{
					"type":        "string",
					"description": "输入参数",
				},
			},
			"required": []string{"input"},
		},
	}
}

func TestLocalExecutor_RegisterTool(t *testing.T) {
	executor := NewLocalExecutor(0)
	catalog := NewCatalog()

	if err := executor.RegisterTool(createMockTool("test_tool", "测试工具"), TierStandard, catalog); err != nil {
		t.Fatalf("注册工具时发生错误: %v", err)
	}
	if !executor.Has("test_tool") {
		t.Error("执行器应包含已注册的工具")
	}

	def, ok := catalog.Get("test_tool")
	if !ok {
		t.Fatal("目录中应有工具定义")
	}
	if def.Description != "测试工具" || def.Tier != TierStandard {
		t.Errorf("目录定义错误: %+v", def)
	}

	err := executor.RegisterTool(createMockTool("test_tool", "重复"), TierBasic, catalog)
	if !errors.IsErrorCode(err, errors.ErrCodeToolExists) {
		t.Errorf("重复注册应返回 ToolExists，实际为: %v", err)
	}

	if err := executor.RegisterTool(createMockTool("", "无名"), TierBasic, nil); err == nil {
		t.Error("空名称应返回错误")
	}
}

func TestLocalExecutor_Execute_Success(t *testing.T) {
	executor := NewLocalExecutor(time.Second)
	tool := &MockTool{
		name: "echo_tool",
		executeFunc: func(ctx context.Context, args map[string]any) (string, error) {
			input, ok := args["message"].(string)
			if !ok {
				return "", stderrors.New("缺少message参数")
			}
			return "echo: " + input, nil
		},
	}
	_ = executor.RegisterTool(tool, TierBasic, nil)

	result, err := executor.Execute(context.Background(), "echo_tool", map[string]any{"message": "hello world"})
	if err != nil {
		t.Fatalf("执行工具调用时发生错误: %v", err)
	}
	if !result.Success || result.Message != "echo: hello world" {
		t.Errorf("期望成功结果，实际为: %+v", result)
	}
}

func TestLocalExecutor_Execute_ToolNotFound(t *testing.T) {
	executor := NewLocalExecutor(0)

	_, err := executor.Execute(context.Background(), "nonexistent_tool", nil)
	if !errors.IsErrorCode(err, errors.ErrCodeToolNotFound) {
		t.Errorf("期望错误代码为 %s，实际为: %s", errors.ErrCodeToolNotFound, errors.GetErrorCode(err))
	}
}

func TestLocalExecutor_Execute_ErrorBecomesResult(t *testing.T) {
	executor := NewLocalExecutor(0)
	_ = executor.RegisterTool(&MockTool{
		name: "error_tool",
		executeFunc: func(ctx context.Context, args map[string]any) (string, error) {
			return "", stderrors.New("执行失败")
		},
	}, TierBasic, nil)

	result, err := executor.Execute(context.Background(), "error_tool", nil)
	if err != nil {
		t.Fatalf("工具错误应转为失败结果，而不是返回错误: %v", err)
	}
	if result.Success || result.Error != "执行失败" {
		t.Errorf("期望失败结果，实际为: %+v", result)
	}
}

func TestLocalExecutor_Execute_Timeout(t *testing.T) {
	executor := NewLocalExecutor(20 * time.Millisecond)
	_ = executor.RegisterTool(&MockTool{
		name: "slow_tool",
		executeFunc: func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}, TierBasic, nil)

	result, err := executor.Execute(context.Background(), "slow_tool", nil)
	if err != nil {
		t.Fatalf("超时应转为失败结果: %v", err)
	}
	if result.Success {
		t.Error("超时的调用不应成功")
	}
	if result.Error == "" || result.Error == context.DeadlineExceeded.Error() {
		t.Errorf("超时错误应包含工具信息，实际为: %q", result.Error)
	}
}
