package llm

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// SSEEvent 一个 Server-Sent Event
type SSEEvent struct {
	Type string
	Data string
}

// SSEScanner 按空行分隔读取 SSE 事件，忽略注释行和未知字段
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

// NewSSEScanner 创建 SSE 读取器
func NewSSEScanner(r io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next 读取下一个事件，流结束或出错时返回 false
func (s *SSEScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = SSEEvent{}

	var (
		eventType string
		dataLines []string
		hasData   bool
	)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		}

		// 最后一行没有换行符
		if err == io.EOF {
			s.err = io.EOF
			if hasData {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			return false
		}
	}
}

// Event 返回当前事件
func (s *SSEScanner) Event() SSEEvent {
	return s.current
}

// Err 返回读取错误，正常结束时返回 io.EOF
func (s *SSEScanner) Err() error {
	if s.err == nil {
		return io.EOF
	}
	return s.err
}

// lineReader 逐行读取 NDJSON，跳过空行，不限制单行长度
type lineReader struct {
	reader *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next 返回下一行非空内容，结束时返回 io.EOF
func (l *lineReader) Next() ([]byte, error) {
	for {
		line, err := l.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
