package chat

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"design-ai/internal/events"
	"design-ai/internal/llm"
	"design-ai/internal/orchestrator"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
)

// fakeEngine 按脚本向事件队列发布事件
type fakeEngine struct {
	bus    *events.Bus
	script []events.Event
	err    error

	mu       sync.Mutex
	inputs   []string
	streamed int
	resets   int
}

func (f *fakeEngine) run(ctx context.Context, input string) (*orchestrator.TurnResult, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	for _, ev := range f.script {
		if err := f.bus.Publish(ctx, ev); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.TurnResult{TurnID: "turn_1"}, nil
}

func (f *fakeEngine) ProcessTurn(ctx context.Context, input string) (*orchestrator.TurnResult, error) {
	return f.run(ctx, input)
}

func (f *fakeEngine) StreamTurn(ctx context.Context, input string) (*orchestrator.TurnResult, error) {
	f.mu.Lock()
	f.streamed++
	f.mu.Unlock()
	return f.run(ctx, input)
}

func (f *fakeEngine) Reset() error {
	f.resets++
	return nil
}

func toolScript() []events.Event {
	call := &llm.ToolCall{ID: "c1", Name: "create_rectangle", Arguments: map[string]any{"x": 10.0}}
	return []events.Event{
		{Type: events.TurnStart, TurnID: "turn_1"},
		{Type: events.StatusChange, TurnID: "turn_1", Status: events.StatusThinking},
		{Type: events.ToolStart, TurnID: "turn_1", Call: call},
		{Type: events.ToolComplete, TurnID: "turn_1", Call: call, Result: &tools.Result{Success: true, Message: "已创建 rect_1"}},
		{Type: events.CursorMove, TurnID: "turn_1", X: 10, Y: 20},
		{Type: events.TurnComplete, TurnID: "turn_1", Response: &llm.Response{Content: "已经画好矩形", Provider: "claude"}},
	}
}

func TestSessionAskRendersEvents(t *testing.T) {
	bus := events.NewBus(16)
	engine := &fakeEngine{bus: bus, script: toolScript()}
	var out bytes.Buffer
	s := NewSession(engine, bus.Events(), &out, SessionConfig{ShowUsage: true})

	if err := s.Ask(context.Background(), "画一个矩形"); err != nil {
		t.Fatalf("Ask 返回错误: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"🔧 调用工具 create_rectangle",
		"✅ create_rectangle: 已创建 rect_1",
		"📍 视图移动到 (10, 20)",
		"已经画好矩形",
		"[claude]",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("输出缺少 %q:\n%s", want, text)
		}
	}
	if engine.streamed != 0 {
		t.Error("非流式会话不应调用 StreamTurn")
	}
}

func TestSessionAskStreamPrintsTextOnce(t *testing.T) {
	bus := events.NewBus(16)
	first := llm.TextChunk("你好")
	second := llm.TextChunk("世界")
	engine := &fakeEngine{bus: bus, script: []events.Event{
		{Type: events.TurnStart, TurnID: "t"},
		{Type: events.StreamChunk, TurnID: "t", Chunk: &first},
		{Type: events.StreamChunk, TurnID: "t", Chunk: &second},
		{Type: events.TurnComplete, TurnID: "t", Response: &llm.Response{Content: "你好世界"}},
	}}
	var out bytes.Buffer
	s := NewSession(engine, bus.Events(), &out, SessionConfig{Stream: true})

	if err := s.Ask(context.Background(), "hi"); err != nil {
		t.Fatalf("Ask 返回错误: %v", err)
	}
	if engine.streamed != 1 {
		t.Errorf("流式会话应调用 StreamTurn 一次，实际 %d", engine.streamed)
	}
	if n := strings.Count(out.String(), "你好世界"); n != 1 {
		t.Errorf("流式文本应只出现一次，实际 %d 次:\n%s", n, out.String())
	}
}

func TestSessionAskError(t *testing.T) {
	bus := events.NewBus(16)
	turnErr := errors.NewError(errors.ErrCodeNoActiveProvider, "没有活动的适配器")
	engine := &fakeEngine{bus: bus, err: turnErr, script: []events.Event{
		{Type: events.TurnError, Err: turnErr},
	}}
	var out bytes.Buffer
	s := NewSession(engine, bus.Events(), &out, SessionConfig{})

	err := s.Ask(context.Background(), "hi")
	if !errors.IsErrorCode(err, errors.ErrCodeNoActiveProvider) {
		t.Fatalf("期望 NoActiveProvider 错误，实际 %v", err)
	}
	if !strings.Contains(out.String(), "没有可用的模型提供方") {
		t.Errorf("输出应包含用户友好的错误信息:\n%s", out.String())
	}
}

func TestSessionRunCommands(t *testing.T) {
	bus := events.NewBus(16)
	engine := &fakeEngine{bus: bus, script: toolScript()}
	var out bytes.Buffer
	s := NewSession(engine, bus.Events(), &out, SessionConfig{})

	in := strings.NewReader("\n/clear\n画一个矩形\nexit\n不会被读取\n")
	if err := s.Run(context.Background(), in); err != nil {
		t.Fatalf("Run 返回错误: %v", err)
	}

	if engine.resets != 1 {
		t.Errorf("/clear 应重置一次，实际 %d", engine.resets)
	}
	if len(engine.inputs) != 1 || engine.inputs[0] != "画一个矩形" {
		t.Errorf("输入记录错误: %v", engine.inputs)
	}
	text := out.String()
	if !strings.Contains(text, "对话历史已清空") || !strings.Contains(text, "再见!") {
		t.Errorf("输出缺少提示:\n%s", text)
	}
}

func TestDescribeError(t *testing.T) {
	plain := describeError(context.DeadlineExceeded)
	if !strings.Contains(plain, "deadline exceeded") {
		t.Errorf("普通错误应显示原文，实际 %q", plain)
	}

	detailed := describeError(errors.NewErrorWithDetails(errors.ErrCodeToolNotFound, "工具不存在", "paint"))
	if !strings.Contains(detailed, "请求的工具不存在") || !strings.Contains(detailed, "paint") {
		t.Errorf("应用错误应显示友好信息与详情，实际 %q", detailed)
	}
}

func TestDescribeToolStartTruncatesArgs(t *testing.T) {
	call := &llm.ToolCall{Name: "rename_node", Arguments: map[string]any{"name": strings.Repeat("长", 300)}}
	text := describeToolStart(call)
	if !strings.HasSuffix(text, "…") {
		t.Errorf("过长参数应截断，实际 %q", text)
	}

	raw := describeToolStart(&llm.ToolCall{Name: "look_at", RawArguments: "{bad"})
	if !strings.Contains(raw, "{bad") {
		t.Errorf("解析失败的参数应显示原文，实际 %q", raw)
	}
}
