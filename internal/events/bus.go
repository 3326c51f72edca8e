package events

import (
	"context"
	"sync"
	"time"

	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
)

// DefaultBufferSize 默认队列容量
const DefaultBufferSize = 256

// Type 事件类型
type Type string

const (
	TurnStart    Type = "turn_start"
	TurnComplete Type = "turn_complete"
	TurnError    Type = "turn_error"
	StreamChunk  Type = "stream_chunk"
	ToolStart    Type = "tool_start"
	ToolComplete Type = "tool_complete"
	CursorMove   Type = "cursor_move"
	StatusChange Type = "status_change"
)

// Status 编排器状态
type Status string

const (
	StatusIdle      Status = "idle"
	StatusThinking  Status = "thinking"
	StatusExecuting Status = "executing"
	StatusError     Status = "error"
)

// Event 编排器发给宿主的事件，按 Type 使用对应字段
type Event struct {
	Type   Type
	TurnID string
	Time   time.Time

	Response    *llm.Response
	ToolResults []llm.ToolResult
	Err         error
	Chunk       *llm.StreamChunk
	Call        *llm.ToolCall
	Result      *tools.Result
	X, Y        float64
	Status      Status
}

// Bus 有界事件队列，由宿主消费
type Bus struct {
	ch        chan Event
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewBus 创建事件队列，size 不大于 0 时使用默认容量
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{ch: make(chan Event, size), done: make(chan struct{})}
}

// Publish 投递事件。队列满时阻塞，直到有空位或 ctx 结束
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.NewErrorWithDetails(errors.ErrCodeEventBusClosed, "事件队列已关闭", string(ev.Type))
	}

	select {
	case b.ch <- ev:
		return nil
	case <-b.done:
		return errors.NewErrorWithDetails(errors.ErrCodeEventBusClosed, "事件队列已关闭", string(ev.Type))
	case <-ctx.Done():
		return errors.WrapError(errors.ErrCodeContextCanceled, "投递事件被取消", ctx.Err())
	}
}

// Events 供宿主读取的通道，Close 后在排空时结束
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Len 队列中待处理的事件数
func (b *Bus) Len() int {
	return len(b.ch)
}

// Close 关闭队列，可重复调用
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		// 先唤醒阻塞中的投递方，再关闭通道
		close(b.done)
		b.mu.Lock()
		b.closed = true
		close(b.ch)
		b.mu.Unlock()
	})
}
