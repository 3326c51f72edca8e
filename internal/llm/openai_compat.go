package llm

import (
	"encoding/json"
	"io"
	"strings"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// OpenAI 兼容的 Chat Completions 线上格式，llama.cpp 的 chat 模式使用

type openAIChatRequest struct {
	Model         string               `json:"model,omitempty"`
	Messages      []openAIMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIStreamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func openAIStopReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEndTurn
	case "length":
		return StopMaxTokens
	case "tool_calls", "function_call":
		// 工具调用被忽略，本轮按正常结束处理
		return StopEndTurn
	case "":
		return StopUnknown
	default:
		return StopReason(reason)
	}
}

// openAIStreamDecoder 解析 data: 帧，以 [DONE] 结束；delta 中的 tool_calls 被忽略
type openAIStreamDecoder struct {
	scanner    *SSEScanner
	stopReason StopReason
	usage      Usage
}

func newOpenAIStreamDecoder(r io.Reader) *openAIStreamDecoder {
	return &openAIStreamDecoder{scanner: NewSSEScanner(r)}
}

func (d *openAIStreamDecoder) next() ([]StreamChunk, error) {
	for d.scanner.Next() {
		data := strings.TrimSpace(d.scanner.Event().Data)
		if data == "[DONE]" {
			return []StreamChunk{DoneChunk(d.stopReason, d.usage)}, nil
		}

		var frame openAIStreamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			util.Warnw("跳过无法解析的流事件", map[string]any{
				"data":  previewBody([]byte(data)),
				"error": err.Error(),
			})
			continue
		}
		if frame.Error != nil {
			return nil, errors.NewBackendError(errors.ErrCodeBackend, 0, "stream error", frame.Error.Message)
		}
		if frame.Usage != nil {
			d.usage = Usage{InputTokens: frame.Usage.PromptTokens, OutputTokens: frame.Usage.CompletionTokens}
		}

		var chunks []StreamChunk
		for _, choice := range frame.Choices {
			if choice.Delta.Content != "" {
				chunks = append(chunks, TextChunk(choice.Delta.Content))
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				d.stopReason = openAIStopReason(*choice.FinishReason)
			}
		}
		if len(chunks) > 0 {
			return chunks, nil
		}
	}
	return nil, d.scanner.Err()
}
