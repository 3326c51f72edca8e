package orchestrator

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"design-ai/internal/aicontext"
	"design-ai/internal/conversation"
	"design-ai/internal/events"
	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/provider"
	"design-ai/internal/tools"
)

type fakeProvider struct {
	name    string
	caps    llm.Capabilities
	send    func(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (*llm.Response, error)
	chunks  []llm.StreamChunk
	err     error
	mu      sync.Mutex
	lastReq []llm.Message
	lastOpt llm.SendOptions
}

func (f *fakeProvider) Name() string                      { return f.name }
func (f *fakeProvider) Type() string                      { return "fake" }
func (f *fakeProvider) Capabilities() llm.Capabilities    { return f.caps }
func (f *fakeProvider) Connect(ctx context.Context) error { return nil }
func (f *fakeProvider) GetAdapterInfo() llm.AdapterInfo   { return llm.AdapterInfo{Name: f.name} }
func (f *fakeProvider) GetMetrics() llm.AdapterMetrics    { return llm.AdapterMetrics{} }

func (f *fakeProvider) record(messages []llm.Message, opts llm.SendOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = append([]llm.Message(nil), messages...)
	f.lastOpt = opts
}

func (f *fakeProvider) Send(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (*llm.Response, error) {
	f.record(messages, opts)
	if f.send != nil {
		return f.send(ctx, messages, opts)
	}
	return &llm.Response{Content: "好的", StopReason: llm.StopEndTurn}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (llm.Stream, error) {
	f.record(messages, opts)
	return llm.NewSliceStream(append([]llm.StreamChunk(nil), f.chunks...), f.err), nil
}

type recordingExecutor struct {
	calls []string
}

func (e *recordingExecutor) Execute(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	e.calls = append(e.calls, name)
	if name == "broken" {
		return nil, stderrors.New("执行器故障")
	}
	return &tools.Result{Success: true, Message: name + " 完成"}, nil
}

type fakeShot struct {
	err error
}

func (s fakeShot) Screenshot(ctx context.Context) (*llm.ImageData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ImageData{MediaType: "image/png", Data: "iVBORw0KGgo="}, nil
}

type harness struct {
	orch     *Orchestrator
	registry *provider.Registry
	bus      *events.Bus
	store    *conversation.Store
	exec     *recordingExecutor
}

func newHarness(t *testing.T, opts Options, providers ...*fakeProvider) *harness {
	t.Helper()
	reg := provider.NewRegistry("", nil)
	for _, p := range providers {
		if err := reg.Register(context.Background(), p, provider.RegisterOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	h := &harness{
		registry: reg,
		bus:      events.NewBus(1024),
		store:    conversation.NewStore(conversation.Limits{MaxHistory: 100}),
		exec:     &recordingExecutor{},
	}
	h.orch = New(Deps{
		Providers: reg,
		Store:     h.store,
		Executor:  h.exec,
		Bus:       h.bus,
	}, opts)
	return h
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-h.bus.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(evs []events.Event) []events.Type {
	out := make([]events.Type, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func statuses(evs []events.Event) []events.Status {
	var out []events.Status
	for _, ev := range evs {
		if ev.Type == events.StatusChange {
			out = append(out, ev.Status)
		}
	}
	return out
}

func TestProcessTurnSuccess(t *testing.T) {
	p := &fakeProvider{name: "a", caps: llm.Capabilities{FunctionCalling: true}}
	h := newHarness(t, Options{RecentMessages: 10}, p)

	res, err := h.orch.ProcessTurn(context.Background(), "你好")
	if err != nil {
		t.Fatalf("轮次失败: %v", err)
	}
	if res.Response.Content != "好的" || res.Response.Provider != "a" {
		t.Errorf("响应错误: %+v", res.Response)
	}
	if h.store.Len() != 2 {
		t.Errorf("历史应包含用户与助手消息，实际 %d", h.store.Len())
	}
	if h.orch.Status() != events.StatusIdle || h.orch.Busy() {
		t.Error("轮次结束后应回到空闲")
	}

	evs := h.drain()
	types := eventTypes(evs)
	if types[0] != events.TurnStart || types[len(types)-1] != events.TurnComplete {
		t.Errorf("事件顺序错误: %v", types)
	}
	got := statuses(evs)
	if len(got) != 2 || got[0] != events.StatusThinking || got[1] != events.StatusIdle {
		t.Errorf("状态变化错误: %v", got)
	}
	if p.lastOpt.SystemPrompt == "" {
		t.Error("请求应携带系统提示词")
	}
}

func TestProcessTurnExecutesTools(t *testing.T) {
	p := &fakeProvider{name: "a", caps: llm.Capabilities{FunctionCalling: true}}
	p.send = func(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (*llm.Response, error) {
		return &llm.Response{
			StopReason: llm.StopToolUse,
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "move_node", Arguments: map[string]any{"id": "r1"}},
				{ID: "c2", Name: "broken"},
				{ID: "c3", Name: tools.CursorToolName, Arguments: map[string]any{"x": 10.0, "y": 20}},
			},
		}, nil
	}
	h := newHarness(t, Options{RecentMessages: 10}, p)

	res, err := h.orch.ProcessTurn(context.Background(), "整理一下")
	if err != nil {
		t.Fatalf("轮次失败: %v", err)
	}

	want := []string{"move_node", "broken", tools.CursorToolName}
	if len(h.exec.calls) != 3 {
		t.Fatalf("期望执行 3 个工具，实际 %v", h.exec.calls)
	}
	for i, name := range want {
		if h.exec.calls[i] != name {
			t.Errorf("执行顺序错误: %v", h.exec.calls)
		}
	}

	results := res.ToolResults()
	if results[0].IsError || !results[1].IsError || results[2].IsError {
		t.Errorf("工具结果错误: %+v", results)
	}

	entries := h.store.Entries()
	if len(entries) != 3 || len(entries[2].Message.ToolResults) != 3 {
		t.Errorf("工具结果应追加到历史: %d 条", len(entries))
	}

	evs := h.drain()
	var starts, completes, cursor int
	for _, ev := range evs {
		switch ev.Type {
		case events.ToolStart:
			starts++
		case events.ToolComplete:
			completes++
		case events.CursorMove:
			cursor++
			if ev.X != 10 || ev.Y != 20 {
				t.Errorf("光标位置错误: %v,%v", ev.X, ev.Y)
			}
		case events.TurnComplete:
			if len(ev.ToolResults) != 3 {
				t.Errorf("turn_complete 应携带工具结果")
			}
		}
	}
	if starts != 3 || completes != 3 || cursor != 1 {
		t.Errorf("工具事件数量错误: start=%d complete=%d cursor=%d", starts, completes, cursor)
	}
	got := statuses(evs)
	if len(got) != 3 || got[1] != events.StatusExecuting {
		t.Errorf("状态变化错误: %v", got)
	}
}

func TestProcessTurnFailure(t *testing.T) {
	backendErr := errors.NewBackendError(errors.ErrCodeBackend, 500, "后端错误", "boom")
	p := &fakeProvider{name: "a"}
	p.send = func(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (*llm.Response, error) {
		return nil, backendErr
	}
	h := newHarness(t, Options{}, p)

	_, err := h.orch.ProcessTurn(context.Background(), "你好")
	if err != backendErr {
		t.Fatalf("应原样返回错误，实际 %v", err)
	}
	if h.orch.Status() != events.StatusError {
		t.Errorf("状态应为 error，实际 %s", h.orch.Status())
	}
	if h.store.Len() != 1 {
		t.Errorf("失败时只保留用户消息，实际 %d", h.store.Len())
	}

	var turnErr error
	for _, ev := range h.drain() {
		if ev.Type == events.TurnError {
			turnErr = ev.Err
		}
	}
	if turnErr != backendErr {
		t.Errorf("应发出 turn_error 事件: %v", turnErr)
	}
}

func TestProcessTurnFallback(t *testing.T) {
	a := &fakeProvider{name: "a"}
	a.send = func(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (*llm.Response, error) {
		return nil, errors.NewError(errors.ErrCodeServiceUnavailable, "不可用")
	}
	b := &fakeProvider{name: "b"}
	h := newHarness(t, Options{Fallback: []string{"b"}}, a, b)

	res, err := h.orch.ProcessTurn(context.Background(), "你好")
	if err != nil {
		t.Fatalf("回退后应成功: %v", err)
	}
	if res.Response.Provider != "b" {
		t.Errorf("应由回退适配器响应，实际 %s", res.Response.Provider)
	}
}

func TestConcurrentTurnRejected(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	p := &fakeProvider{name: "a"}
	p.send = func(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (*llm.Response, error) {
		close(entered)
		<-release
		return &llm.Response{Content: "完成"}, nil
	}
	h := newHarness(t, Options{}, p)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.ProcessTurn(context.Background(), "第一轮")
		done <- err
	}()
	<-entered

	if _, err := h.orch.StreamTurn(context.Background(), "第二轮"); !errors.IsErrorCode(err, errors.ErrCodeTurnInProgress) {
		t.Errorf("进行中时应拒绝新轮次，实际 %v", err)
	}
	if err := h.orch.Reset(); !errors.IsErrorCode(err, errors.ErrCodeTurnInProgress) {
		t.Errorf("进行中时不应清空历史，实际 %v", err)
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("第一轮应成功: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("第一轮未结束")
	}
	if h.store.Len() != 2 {
		t.Errorf("被拒绝的轮次不应写入历史，实际 %d", h.store.Len())
	}
}

func TestStreamTurn(t *testing.T) {
	p := &fakeProvider{name: "a", caps: llm.Capabilities{Streaming: true, FunctionCalling: true}}
	p.chunks = []llm.StreamChunk{
		llm.TextChunk("正在"),
		llm.TextChunk("移动"),
		llm.ToolCallStartChunk(0, "c1", "move_node"),
		llm.ToolCallDeltaChunk(0, `{"id":`),
		llm.ToolCallDeltaChunk(0, `"r1"}`),
		llm.ToolCallEndChunk(0),
		llm.DoneChunk(llm.StopToolUse, llm.Usage{InputTokens: 5, OutputTokens: 7}),
	}
	h := newHarness(t, Options{}, p)

	res, err := h.orch.StreamTurn(context.Background(), "移动按钮")
	if err != nil {
		t.Fatalf("流式轮次失败: %v", err)
	}
	if res.Response.Content != "正在移动" || res.Response.Provider != "a" {
		t.Errorf("响应错误: %+v", res.Response)
	}
	if len(res.Response.ToolCalls) != 1 || res.Response.ToolCalls[0].Arguments["id"] != "r1" {
		t.Errorf("工具调用组装错误: %+v", res.Response.ToolCalls)
	}
	if len(h.exec.calls) != 1 {
		t.Errorf("应执行工具: %v", h.exec.calls)
	}

	chunks := 0
	for _, ev := range h.drain() {
		if ev.Type == events.StreamChunk {
			chunks++
		}
	}
	if chunks != len(p.chunks) {
		t.Errorf("每个片段都应发出事件，期望 %d，实际 %d", len(p.chunks), chunks)
	}
}

func TestStreamTurnErrorKeepsNoPartialResponse(t *testing.T) {
	p := &fakeProvider{name: "a", caps: llm.Capabilities{Streaming: true}}
	p.chunks = []llm.StreamChunk{llm.TextChunk("一半")}
	p.err = errors.NewError(errors.ErrCodeStreamClosed, "连接中断")
	h := newHarness(t, Options{}, p)

	_, err := h.orch.StreamTurn(context.Background(), "你好")
	if !errors.IsErrorCode(err, errors.ErrCodeStreamClosed) {
		t.Fatalf("应返回流错误，实际 %v", err)
	}
	if h.store.Len() != 1 {
		t.Errorf("不应追加部分响应，实际 %d 条", h.store.Len())
	}
	if h.orch.Status() != events.StatusError {
		t.Errorf("状态应为 error")
	}
}

func TestStreamTurnWithoutActiveProvider(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.orch.StreamTurn(context.Background(), "你好")
	if !errors.IsErrorCode(err, errors.ErrCodeNoActiveProvider) {
		t.Errorf("期望 NoActiveProvider，实际 %v", err)
	}
	if h.store.Len() != 0 {
		t.Errorf("失败时不应追加消息，实际 %d 条", h.store.Len())
	}

	evs := h.drain()
	types := eventTypes(evs)
	if len(types) == 0 || types[0] != events.TurnStart || types[len(types)-1] != events.TurnError {
		t.Fatalf("事件序列应以 turn-start 开始、turn-error 结束: %v", types)
	}
	if evs[0].TurnID == "" || evs[len(evs)-1].TurnID != evs[0].TurnID {
		t.Errorf("同一轮次的事件应共用轮次 ID: %q / %q", evs[0].TurnID, evs[len(evs)-1].TurnID)
	}
	got := statuses(evs)
	if len(got) != 2 || got[0] != events.StatusThinking || got[1] != events.StatusError {
		t.Errorf("状态变化错误: %v", got)
	}
}

func TestHistoryWindow(t *testing.T) {
	p := &fakeProvider{name: "a"}
	h := newHarness(t, Options{RecentMessages: 2}, p)

	for _, input := range []string{"一", "二", "三"} {
		if _, err := h.orch.ProcessTurn(context.Background(), input); err != nil {
			t.Fatal(err)
		}
	}

	req := p.lastReq
	if len(req) != 3 {
		t.Fatalf("请求应包含 2 条历史和新消息，实际 %d", len(req))
	}
	if req[0].Content != "二" || req[2].Content != "三" {
		t.Errorf("历史窗口错误: %+v", req)
	}
}

func TestTrimHistoryDropsOrphans(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{CallID: "c1"}}},
		{Role: llm.RoleAssistant, Content: "继续"},
		{Role: llm.RoleUser, Content: "下一步"},
	}
	got := trimHistory(msgs)
	if len(got) != 1 || got[0].Content != "下一步" {
		t.Errorf("应从完整的用户消息开始: %+v", got)
	}
}

func TestScreenshotAttachedForVision(t *testing.T) {
	p := &fakeProvider{name: "a", caps: llm.Capabilities{Vision: true}}
	h := newHarness(t, Options{IncludeScreenshot: true}, p)
	h.orch.deps.Screenshotter = fakeShot{}

	if _, err := h.orch.ProcessTurn(context.Background(), "看看"); err != nil {
		t.Fatal(err)
	}
	if !h.store.Entries()[0].HasAttachment {
		t.Error("用户消息应带截图")
	}
	last := p.lastReq[len(p.lastReq)-1]
	if len(last.Images()) != 1 || last.Text() != "看看" {
		t.Errorf("请求消息错误: %+v", last)
	}
}

func TestScreenshotFailureContinues(t *testing.T) {
	p := &fakeProvider{name: "a", caps: llm.Capabilities{Vision: true}}
	h := newHarness(t, Options{IncludeScreenshot: true}, p)
	h.orch.deps.Screenshotter = fakeShot{err: stderrors.New("截图失败")}

	if _, err := h.orch.ProcessTurn(context.Background(), "看看"); err != nil {
		t.Fatalf("截图失败不应中断轮次: %v", err)
	}
	if h.store.Entries()[0].HasAttachment {
		t.Error("截图失败时不应附带图片")
	}
}

type failingCalibrator struct{}

func (failingCalibrator) Calibrate(ctx context.Context) (string, error) {
	return "", stderrors.New("视口不可用")
}

func TestCalibrationFailureFailsTurn(t *testing.T) {
	p := &fakeProvider{name: "a"}
	h := newHarness(t, Options{}, p)
	h.orch.deps.Calibrator = failingCalibrator{}

	_, err := h.orch.ProcessTurn(context.Background(), "你好")
	if !errors.IsErrorCode(err, errors.ErrCodeTurnFailed) {
		t.Errorf("期望 TurnFailed，实际 %v", err)
	}
	if h.store.Len() != 0 {
		t.Errorf("校准失败时不应写入历史")
	}
}

func TestPreviewContext(t *testing.T) {
	catalog := tools.NewCatalog()
	if err := catalog.Register(tools.Definition{Name: "move_node", Description: "移动"}); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, Options{})
	h.orch.deps.Assembler = aicontext.NewAssembler(nil, catalog)

	ctx, err := h.orch.PreviewContext(context.Background(), llm.Capabilities{FunctionCalling: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx.Tools) != 1 {
		t.Errorf("预览应包含工具: %+v", ctx.Tools)
	}
	if h.store.Len() != 0 {
		t.Error("预览不应修改历史")
	}
}
