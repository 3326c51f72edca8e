package tools

import (
	"context"
	"testing"

	"design-ai/internal/pkg/errors"
)

func TestToolset_RegisterAll(t *testing.T) {
	set := NewToolset().
		RegisterFunction("echo", "回显", TierBasic, nil, func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		}).
		Add(createMockTool("advanced_tool", "高级工具"), TierAdvanced)

	if set.Len() != 2 {
		t.Fatalf("期望 2 个工具，实际 %d", set.Len())
	}

	executor := NewLocalExecutor(0)
	catalog := NewCatalog()
	if err := set.RegisterAll(executor, catalog); err != nil {
		t.Fatalf("批量注册失败: %v", err)
	}

	if got := len(catalog.Definitions(TierBasic)); got != 1 {
		t.Errorf("basic 层级应只有 1 个工具，实际 %d", got)
	}
	if got := len(catalog.Definitions(TierAdvanced)); got != 2 {
		t.Errorf("advanced 层级应包含全部工具，实际 %d", got)
	}

	res, err := executor.Execute(context.Background(), "echo", map[string]any{"text": "你好"})
	if err != nil || !res.Success || res.Message != "你好" {
		t.Errorf("函数工具执行错误: %+v %v", res, err)
	}
}

func TestToolset_PartialFailure(t *testing.T) {
	executor := NewLocalExecutor(0)
	catalog := NewCatalog()
	if err := executor.RegisterTool(createMockTool("dup", "已存在"), TierBasic, catalog); err != nil {
		t.Fatal(err)
	}

	set := NewToolset().
		Add(createMockTool("dup", "重复"), TierBasic).
		Add(createMockTool("fresh", "新工具"), TierBasic)

	err := set.RegisterAll(executor, catalog)
	if !errors.IsErrorCode(err, errors.ErrCodeToolExists) {
		t.Errorf("期望部分失败错误，实际 %v", err)
	}
	if !executor.Has("fresh") {
		t.Error("其余工具仍应注册成功")
	}
}
