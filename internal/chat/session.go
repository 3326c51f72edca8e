package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"design-ai/internal/events"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// SessionConfig 对话会话配置
type SessionConfig struct {
	// Stream 使用流式请求，只走活动适配器
	Stream bool
	// TurnTimeout 单轮超时，0 表示不限
	TurnTimeout time.Duration
	// ShowUsage 每轮结束后显示用量
	ShowUsage bool
}

// Session 行模式对话会话：逐行读取输入，把事件打印到输出
type Session struct {
	engine Engine
	events <-chan events.Event
	out    io.Writer
	config SessionConfig

	streamed bool
	midLine  bool
}

// NewSession 创建会话。eventCh 必须只由该会话消费
func NewSession(engine Engine, eventCh <-chan events.Event, out io.Writer, config SessionConfig) *Session {
	return &Session{
		engine: engine,
		events: eventCh,
		out:    out,
		config: config,
	}
}

// Ask 执行一轮对话并打印过程，返回该轮的错误
func (s *Session) Ask(ctx context.Context, input string) error {
	if s.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TurnTimeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.Stream {
			_, err = s.engine.StreamTurn(ctx, input)
		} else {
			_, err = s.engine.ProcessTurn(ctx, input)
		}
		errCh <- err
	}()

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return <-errCh
			}
			s.render(ev)
		case err := <-errCh:
			// 轮次返回前事件已全部入队
			s.drainPending()
			if errors.IsErrorCode(err, errors.ErrCodeTurnInProgress) {
				fmt.Fprintln(s.out, errorStyle.Render(describeError(err)))
			}
			return err
		}
	}
}

func (s *Session) drainPending() {
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.render(ev)
		default:
			return
		}
	}
}

// render 打印单个事件
func (s *Session) render(ev events.Event) {
	switch ev.Type {
	case events.TurnStart:
		s.streamed = false
		s.midLine = false

	case events.StreamChunk:
		text := chunkText(ev)
		if text == "" {
			return
		}
		if !s.streamed {
			fmt.Fprint(s.out, aiStyle.Render("AI: "))
			s.streamed = true
		}
		fmt.Fprint(s.out, text)
		s.midLine = true

	case events.ToolStart:
		s.endStream()
		fmt.Fprintln(s.out, toolStyle.Render(describeToolStart(ev.Call)))

	case events.ToolComplete:
		fmt.Fprintln(s.out, toolStyle.Render(describeToolResult(ev.Call, ev.Result)))

	case events.CursorMove:
		fmt.Fprintln(s.out, systemStyle.Render(describeCursor(ev.X, ev.Y)))

	case events.TurnComplete:
		s.endStream()
		if !s.streamed && ev.Response != nil && ev.Response.Content != "" {
			fmt.Fprintln(s.out, aiStyle.Render("AI:"))
			fmt.Fprintln(s.out, ev.Response.Content)
		}
		if s.config.ShowUsage {
			fmt.Fprintln(s.out, systemStyle.Render(describeUsage(ev.Response)))
		}

	case events.TurnError:
		s.endStream()
		fmt.Fprintln(s.out, errorStyle.Render(describeError(ev.Err)))

	case events.StatusChange:
		util.Debugw("状态变化", map[string]any{"turn_id": ev.TurnID, "status": ev.Status})
	}
}

// endStream 结束流式输出所在的行，之后的输出另起一行
func (s *Session) endStream() {
	if s.midLine {
		fmt.Fprintln(s.out)
		s.midLine = false
	}
}

// Run 启动行模式循环，读到 exit、quit 或输入结束时返回
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "欢迎来到 design-ai 对话模式。输入 'exit' 或 'quit' 退出，'/clear' 清空历史。")
	fmt.Fprintln(s.out, "---------------------------------------------------")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(s.out, userStyle.Render("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(s.out, "再见!")
			return nil
		case "/clear":
			if err := s.engine.Reset(); err != nil {
				fmt.Fprintln(s.out, errorStyle.Render(describeError(err)))
			} else {
				fmt.Fprintln(s.out, systemStyle.Render("对话历史已清空"))
			}
			continue
		}

		if err := s.Ask(ctx, input); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintln(s.out, "---------------------------------------------------")
	}

	if err := scanner.Err(); err != nil {
		return errors.WrapError(errors.ErrCodeInvalidParam, "读取输入失败", err)
	}
	fmt.Fprintln(s.out, "再见!")
	return nil
}
