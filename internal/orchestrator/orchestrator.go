package orchestrator

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"design-ai/internal/aicontext"
	"design-ai/internal/conversation"
	"design-ai/internal/events"
	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
	"design-ai/internal/util"
)

// 轮次结束后投递终态事件的最长等待
const terminalEventTimeout = 5 * time.Second

// Providers 编排器使用的适配器注册表能力，*provider.Registry 满足该接口
type Providers interface {
	Active() (llm.Provider, error)
	SendMessage(ctx context.Context, messages []llm.Message, opts llm.SendOptions, fallback []string) (*llm.Response, error)
	StreamMessage(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (llm.Stream, error)
}

// Calibrator 每轮开始时生成坐标校准文本
type Calibrator interface {
	Calibrate(ctx context.Context) (string, error)
}

// Screenshotter 截取画布预览，没有可用截图时返回 nil
type Screenshotter interface {
	Screenshot(ctx context.Context) (*llm.ImageData, error)
}

// Options 编排参数
type Options struct {
	// Build 上下文组装模板，能力与校准文本每轮填入
	Build aicontext.BuildOptions
	// RecentMessages 每次请求携带的历史条数
	RecentMessages int
	// Fallback 回退顺序，nil 使用注册表配置
	Fallback          []string
	IncludeScreenshot bool
	MaxTokens         int
	Temperature       *float64
}

// Deps 编排器依赖，Providers 与 Store 必填
type Deps struct {
	Providers     Providers
	Store         *conversation.Store
	Assembler     *aicontext.Assembler
	Executor      tools.Executor
	Bus           *events.Bus
	Calibrator    Calibrator
	Screenshotter Screenshotter
}

// TurnResult 一轮对话的结果
type TurnResult struct {
	TurnID   string
	Response *llm.Response
	Outcomes []tools.Outcome
	Context  *aicontext.AIContext
}

// ToolResults 回传给模型的工具结果
func (r *TurnResult) ToolResults() []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		results = append(results, o.ToolResult())
	}
	return results
}

// Orchestrator 串行执行对话轮次，并把过程以事件形式发给宿主
type Orchestrator struct {
	deps Deps
	opts Options

	busy     atomic.Bool
	statusMu sync.Mutex
	status   events.Status
}

// New 创建编排器
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Assembler == nil {
		deps.Assembler = aicontext.NewAssembler(nil, nil)
	}
	return &Orchestrator{deps: deps, opts: opts, status: events.StatusIdle}
}

// WithFallback 以相同依赖创建使用指定回退链的编排器，空切片表示不回退
func (o *Orchestrator) WithFallback(chain []string) *Orchestrator {
	opts := o.opts
	opts.Fallback = make([]string, len(chain))
	copy(opts.Fallback, chain)
	return New(o.deps, opts)
}

// Store 对话历史
func (o *Orchestrator) Store() *conversation.Store {
	return o.deps.Store
}

// Status 当前状态
func (o *Orchestrator) Status() events.Status {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	return o.status
}

// Busy 是否有进行中的轮次
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// turn 单轮的准备结果
type turn struct {
	id       string
	aiCtx    *aicontext.AIContext
	messages []llm.Message
	opts     llm.SendOptions
}

// ProcessTurn 执行一轮非流式对话，活动适配器失败时按回退链重试其他适配器
func (o *Orchestrator) ProcessTurn(ctx context.Context, input string) (*TurnResult, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, errors.NewError(errors.ErrCodeTurnInProgress, "上一轮对话尚未结束")
	}
	defer o.busy.Store(false)

	caps := llm.Capabilities{}
	if p, err := o.deps.Providers.Active(); err == nil {
		caps = p.Capabilities()
	} else {
		util.Warnw("没有活动的适配器，将直接使用回退链", map[string]any{"error": err.Error()})
	}

	t := o.startTurn(ctx)
	if err := o.begin(ctx, t, input, caps); err != nil {
		return nil, o.fail(ctx, t, err)
	}

	resp, err := o.deps.Providers.SendMessage(ctx, t.messages, t.opts, o.opts.Fallback)
	if err != nil {
		return nil, o.fail(ctx, t, err)
	}
	return o.finish(ctx, t, resp)
}

// StreamTurn 执行一轮流式对话，每个片段以事件发出。只使用活动适配器，不回退
func (o *Orchestrator) StreamTurn(ctx context.Context, input string) (*TurnResult, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, errors.NewError(errors.ErrCodeTurnInProgress, "上一轮对话尚未结束")
	}
	defer o.busy.Store(false)

	t := o.startTurn(ctx)
	p, err := o.deps.Providers.Active()
	if err != nil {
		return nil, o.fail(ctx, t, err)
	}
	if err := o.begin(ctx, t, input, p.Capabilities()); err != nil {
		return nil, o.fail(ctx, t, err)
	}

	stream, err := o.deps.Providers.StreamMessage(ctx, t.messages, t.opts)
	if err != nil {
		return nil, o.fail(ctx, t, err)
	}
	resp, err := o.drain(ctx, t, stream)
	if err != nil {
		return nil, o.fail(ctx, t, err)
	}
	if resp.Provider == "" {
		resp.Provider = p.Name()
	}
	return o.finish(ctx, t, resp)
}

// drain 读取流直到结束，出错时不保留部分响应
func (o *Orchestrator) drain(ctx context.Context, t *turn, stream llm.Stream) (*llm.Response, error) {
	defer stream.Close()

	acc := llm.NewAccumulator()
	for {
		chunk, err := stream.Recv()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		acc.Add(chunk)
		o.publish(ctx, events.Event{Type: events.StreamChunk, TurnID: t.id, Chunk: &chunk})
	}
	return acc.Response(), nil
}

// startTurn 分配轮次 ID 并发出 turn-start，两种轮次的事件序列都从这里开始
func (o *Orchestrator) startTurn(ctx context.Context) *turn {
	t := &turn{id: util.NewID("turn")}
	o.publish(ctx, events.Event{Type: events.TurnStart, TurnID: t.id})
	o.setStatus(ctx, t.id, events.StatusThinking)
	return t
}

// begin 校准、组装上下文、截图并追加用户消息
func (o *Orchestrator) begin(ctx context.Context, t *turn, input string, caps llm.Capabilities) error {
	calibration := ""
	if o.deps.Calibrator != nil {
		text, err := o.deps.Calibrator.Calibrate(ctx)
		if err != nil {
			return errors.WrapError(errors.ErrCodeTurnFailed, "坐标校准失败", err)
		}
		calibration = text
	}

	buildOpts := o.opts.Build
	buildOpts.Capabilities = caps
	buildOpts.Calibration = calibration
	aiCtx, err := o.deps.Assembler.Build(buildOpts)
	if err != nil {
		return err
	}
	t.aiCtx = aiCtx

	userMsg := llm.NewTextMessage(llm.RoleUser, input)
	if image := o.screenshot(ctx, caps); image != nil {
		userMsg = llm.Message{Role: llm.RoleUser, Parts: []llm.ContentPart{
			{Type: llm.PartText, Text: input},
			{Type: llm.PartImage, Image: image},
		}}
	}

	o.deps.Store.Append(userMsg)
	history := o.deps.Store.LastMessages(o.opts.RecentMessages + 1)
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	t.messages = append(trimHistory(history), userMsg)

	t.opts = llm.SendOptions{
		Tools:        aiCtx.Tools,
		MaxTokens:    o.opts.MaxTokens,
		Temperature:  o.opts.Temperature,
		SystemPrompt: systemPrompt(aiCtx),
	}

	util.Debugw("对话轮次开始", map[string]any{
		"turn_id":          t.id,
		"history_messages": len(t.messages) - 1,
		"tools":            len(aiCtx.Tools),
		"context_tokens":   aiCtx.EstimatedTokens,
		"truncated":        aiCtx.Truncated,
	})
	return nil
}

func (o *Orchestrator) screenshot(ctx context.Context, caps llm.Capabilities) *llm.ImageData {
	if !caps.Vision || !o.opts.IncludeScreenshot || o.deps.Screenshotter == nil {
		return nil
	}
	image, err := o.deps.Screenshotter.Screenshot(ctx)
	if err != nil {
		util.Warnw("截图失败，本轮不附带图片", map[string]any{"error": err.Error()})
		return nil
	}
	return image
}

// finish 追加助手消息、执行工具并结束本轮
func (o *Orchestrator) finish(ctx context.Context, t *turn, resp *llm.Response) (*TurnResult, error) {
	o.deps.Store.Append(resp.AssistantMessage())

	result := &TurnResult{TurnID: t.id, Response: resp, Context: t.aiCtx}
	if len(resp.ToolCalls) > 0 {
		result.Outcomes = o.executeTools(ctx, t, resp.ToolCalls)
		o.deps.Store.Append(llm.Message{Role: llm.RoleUser, ToolResults: result.ToolResults()})
	}

	o.setStatus(ctx, t.id, events.StatusIdle)
	o.publishTerminal(ctx, events.Event{
		Type:        events.TurnComplete,
		TurnID:      t.id,
		Response:    resp,
		ToolResults: result.ToolResults(),
	})

	util.Infow("对话轮次完成", map[string]any{
		"turn_id":       t.id,
		"provider":      resp.Provider,
		"stop_reason":   resp.StopReason,
		"tool_calls":    len(resp.ToolCalls),
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	})
	return result, nil
}

func (o *Orchestrator) executeTools(ctx context.Context, t *turn, calls []llm.ToolCall) []tools.Outcome {
	o.setStatus(ctx, t.id, events.StatusExecuting)
	if o.deps.Executor == nil {
		outcomes := make([]tools.Outcome, 0, len(calls))
		for _, call := range calls {
			outcomes = append(outcomes, tools.Outcome{Call: call, Result: tools.Result{Error: "没有可用的工具执行器"}})
		}
		return outcomes
	}
	pipeline := tools.NewPipeline(o.deps.Executor, &observer{o: o, ctx: ctx, turnID: t.id})
	return pipeline.Run(ctx, calls)
}

// fail 设置错误状态并发出 turn_error，返回原错误
func (o *Orchestrator) fail(ctx context.Context, t *turn, err error) error {
	turnID := ""
	if t != nil {
		turnID = t.id
	}
	o.setStatus(ctx, turnID, events.StatusError)
	o.publishTerminal(ctx, events.Event{Type: events.TurnError, TurnID: turnID, Err: err})
	util.LogErrorWithFields(err, "对话轮次失败", map[string]any{"turn_id": turnID})
	return err
}

func (o *Orchestrator) setStatus(ctx context.Context, turnID string, status events.Status) {
	o.statusMu.Lock()
	changed := o.status != status
	o.status = status
	o.statusMu.Unlock()

	if changed {
		o.publishTerminal(ctx, events.Event{Type: events.StatusChange, TurnID: turnID, Status: status})
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if o.deps.Bus == nil {
		return
	}
	if err := o.deps.Bus.Publish(ctx, ev); err != nil {
		util.Warnw("事件投递失败", map[string]any{
			"type":  ev.Type,
			"error": err.Error(),
		})
	}
}

// publishTerminal 投递不应随轮次取消而丢失的事件
func (o *Orchestrator) publishTerminal(ctx context.Context, ev events.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalEventTimeout)
	defer cancel()
	o.publish(pubCtx, ev)
}

// PreviewContext 组装当前的上下文但不发送请求
func (o *Orchestrator) PreviewContext(ctx context.Context, caps llm.Capabilities) (*aicontext.AIContext, error) {
	buildOpts := o.opts.Build
	buildOpts.Capabilities = caps
	if o.deps.Calibrator != nil {
		text, err := o.deps.Calibrator.Calibrate(ctx)
		if err != nil {
			return nil, err
		}
		buildOpts.Calibration = text
	}
	return o.deps.Assembler.Build(buildOpts)
}

// Reset 清空对话历史
func (o *Orchestrator) Reset() error {
	if o.busy.Load() {
		return errors.NewError(errors.ErrCodeTurnInProgress, "上一轮对话尚未结束")
	}
	o.deps.Store.Clear()
	return nil
}

// systemPrompt 系统提示词加上画布状态
func systemPrompt(c *aicontext.AIContext) string {
	if c.StateDescription == "" {
		return c.SystemPrompt
	}
	if c.SystemPrompt == "" {
		return "## 画布状态\n" + c.StateDescription
	}
	return c.SystemPrompt + "\n\n## 画布状态\n" + c.StateDescription
}

// trimHistory 去掉开头不完整的交换：请求必须以普通用户消息开始
func trimHistory(messages []llm.Message) []llm.Message {
	for len(messages) > 0 {
		first := messages[0]
		if first.Role == llm.RoleUser && len(first.ToolResults) == 0 {
			break
		}
		messages = messages[1:]
	}
	return messages
}

type observer struct {
	o      *Orchestrator
	ctx    context.Context
	turnID string
}

func (ob *observer) ToolStarted(call llm.ToolCall) {
	ob.o.publish(ob.ctx, events.Event{Type: events.ToolStart, TurnID: ob.turnID, Call: &call})
}

func (ob *observer) ToolCompleted(call llm.ToolCall, result tools.Result) {
	ob.o.publishTerminal(ob.ctx, events.Event{Type: events.ToolComplete, TurnID: ob.turnID, Call: &call, Result: &result})
}

func (ob *observer) CursorMoved(x, y float64) {
	ob.o.publish(ob.ctx, events.Event{Type: events.CursorMove, TurnID: ob.turnID, X: x, Y: y})
}
