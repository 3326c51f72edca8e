package llm

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// Stream 惰性、有限、不可重放的片段序列。
// Recv 在最后一个片段之后返回 io.EOF；Close 会中断底层网络读取，可重复调用。
type Stream interface {
	Recv() (StreamChunk, error)
	Close() error
}

// decodeFunc 从底层读取下一批片段，协议结束时返回 io.EOF
type decodeFunc func() ([]StreamChunk, error)

type chunkStream struct {
	body     io.ReadCloser
	decode   decodeFunc
	onFinish func(usage Usage, err error)

	pending  []StreamChunk
	err      error
	sawDone  bool
	usage    Usage
	finished bool
	closed   atomic.Bool
	mu       sync.Mutex
}

func newChunkStream(body io.ReadCloser, decode decodeFunc, onFinish func(Usage, error)) *chunkStream {
	return &chunkStream{body: body, decode: decode, onFinish: onFinish}
}

// Recv 返回下一个片段
func (s *chunkStream) Recv() (StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 {
		if s.err != nil {
			return StreamChunk{}, s.err
		}

		chunks, err := s.decode()
		for _, c := range chunks {
			if s.sawDone {
				break
			}
			if c.Type == ChunkDone {
				s.sawDone = true
				if c.Usage != nil {
					s.usage = *c.Usage
				}
			}
			s.pending = append(s.pending, c)
		}

		switch {
		case s.sawDone:
			s.finish(io.EOF, nil)
		case err == io.EOF:
			// 连接正常结束但没有结束事件，补一个 done
			s.pending = append(s.pending, DoneChunk(StopUnknown, s.usage))
			s.sawDone = true
			s.finish(io.EOF, nil)
		case err != nil:
			s.finish(mapStreamError(err, s.closed.Load()), err)
		}
	}

	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

func (s *chunkStream) finish(final, cause error) {
	if cause != nil && !s.closed.Load() {
		util.Debugw("流读取中断", map[string]any{"error": cause.Error()})
	}
	s.err = final
	if s.finished {
		return
	}
	s.finished = true
	_ = s.body.Close()
	if s.onFinish != nil {
		if final == io.EOF {
			s.onFinish(s.usage, nil)
		} else {
			s.onFinish(s.usage, final)
		}
	}
}

// Close 中断读取并释放连接
func (s *chunkStream) Close() error {
	// 先关闭 body，使阻塞中的 Recv 立即返回
	s.closed.Store(true)
	err := s.body.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if !s.finished {
		s.finish(errors.NewError(errors.ErrCodeStreamClosed, "流已关闭"), nil)
	}
	return err
}

func mapStreamError(err error, closed bool) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	if closed {
		return errors.NewError(errors.ErrCodeStreamClosed, "流已关闭")
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.WrapError(errors.ErrCodeContextCanceled, "请求被取消", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapError(errors.ErrCodeTimeout, "读取流超时", err)
	}
	return errors.WrapError(errors.ErrCodeStreamClosed, "读取流失败", err)
}

// Collect 读完整个流并组装为完整响应，结束后关闭流
func Collect(s Stream) (*Response, error) {
	defer s.Close()

	acc := NewAccumulator()
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return acc.Response(), nil
		}
		if err != nil {
			return nil, err
		}
		acc.Add(chunk)
	}
}

// SliceStream 基于内存片段的 Stream，用于测试和回放
type SliceStream struct {
	chunks []StreamChunk
	err    error
	closed bool
}

// NewSliceStream 创建内存流，err 非空时在片段耗尽后返回该错误
func NewSliceStream(chunks []StreamChunk, err error) *SliceStream {
	return &SliceStream{chunks: chunks, err: err}
}

func (s *SliceStream) Recv() (StreamChunk, error) {
	if s.closed {
		return StreamChunk{}, errors.NewError(errors.ErrCodeStreamClosed, "流已关闭")
	}
	if len(s.chunks) == 0 {
		if s.err != nil {
			return StreamChunk{}, s.err
		}
		return StreamChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed 是否已关闭
func (s *SliceStream) Closed() bool {
	return s.closed
}
