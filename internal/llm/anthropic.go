package llm

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicAdapter Anthropic Messages API 适配器
type AnthropicAdapter struct {
	*BaseAdapter
	httpClient *RetryableHTTPClient
	opts       Options
}

// NewAnthropicAdapter 创建 Anthropic 适配器
func NewAnthropicAdapter(opts Options) (*AnthropicAdapter, error) {
	opts = opts.withDefaults(TypeAnthropic, "https://api.anthropic.com", "claude-sonnet-4-5", 200000)
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = anthropicDefaultMaxTokens
	}

	httpClient := NewRetryableHTTPClient(opts.BaseURL, opts.Timeout, opts.MaxRetries, opts.RetryDelay)
	httpClient.SetHeader("anthropic-version", anthropicVersion)

	info := AdapterInfo{
		Name:        opts.Name,
		Type:        TypeAnthropic,
		Description: "Anthropic Messages API 适配器",
		BaseURL:     opts.BaseURL,
		Model:       opts.Model,
		Capabilities: Capabilities{
			Vision:           true,
			Streaming:        true,
			FunctionCalling:  true,
			MaxContextTokens: opts.ContextTokens,
		},
	}

	util.Debugw("Anthropic 适配器创建成功", map[string]any{
		"name":     opts.Name,
		"model":    opts.Model,
		"base_url": opts.BaseURL,
	})

	return &AnthropicAdapter{
		BaseAdapter: NewBaseAdapter(info),
		httpClient:  httpClient,
		opts:        opts,
	}, nil
}

func (a *AnthropicAdapter) apiKey(ctx context.Context) (string, error) {
	key := a.opts.APIKey
	if a.opts.Credentials != nil {
		k, err := a.opts.Credentials.Credential(ctx, a.opts.Name)
		if err != nil && !errors.IsErrorCode(err, errors.ErrCodeAPIKeyMissing) {
			return "", err
		}
		if k != "" {
			key = k
		}
	}
	if key == "" {
		return "", errors.NewErrorWithDetails(errors.ErrCodeAPIKeyMissing, "Anthropic API key is required", a.opts.Name)
	}
	return key, nil
}

// Connect 通过模型列表接口校验地址与凭证
func (a *AnthropicAdapter) Connect(ctx context.Context) error {
	key, err := a.apiKey(ctx)
	if err != nil {
		return err
	}

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err = a.httpClient.GetJSON(ctx, "/v1/models", &out, map[string]string{"x-api-key": key})
	if err != nil {
		if errors.IsErrorCode(err, errors.ErrCodeAuthRejected) || errors.IsErrorCode(err, errors.ErrCodeForbidden) {
			return errors.WrapError(errors.ErrCodeAuthRejected, "Anthropic 凭证被拒绝", err)
		}
		if errors.IsConnectivityError(err) {
			return err
		}
		return errors.WrapError(errors.ErrCodeConnectivity, "Anthropic 服务不可用", err)
	}

	util.Infow("Anthropic 连接成功", map[string]any{
		"name":   a.Name(),
		"models": len(out.Data),
	})
	return nil
}

// Send 发送非流式请求
func (a *AnthropicAdapter) Send(ctx context.Context, messages []Message, opts SendOptions) (*Response, error) {
	start := time.Now()

	key, err := a.apiKey(ctx)
	if err != nil {
		return nil, a.finishRequest("send", start, Usage{}, err)
	}

	req := a.buildRequest(messages, opts, false)
	var raw anthropicResponse
	// API key 仅随本次请求发送，不写入共享的请求头
	err = a.httpClient.PostJSONWithRetry(ctx, "/v1/messages", req, &raw, map[string]string{"x-api-key": key})
	if err != nil {
		return nil, a.finishRequest("send", start, Usage{}, err)
	}

	resp := raw.toResponse()
	resp.Provider = a.Name()
	resp.Model = raw.Model
	return resp, a.finishRequest("send", start, resp.Usage, nil)
}

// Stream 发送流式请求，解析 SSE 事件
func (a *AnthropicAdapter) Stream(ctx context.Context, messages []Message, opts SendOptions) (Stream, error) {
	start := time.Now()

	key, err := a.apiKey(ctx)
	if err != nil {
		return nil, a.finishRequest("stream", start, Usage{}, err)
	}

	req := a.buildRequest(messages, opts, true)
	body, err := a.httpClient.OpenStream(ctx, "/v1/messages", req, map[string]string{
		"x-api-key": key,
		"Accept":    "text/event-stream",
	})
	if err != nil {
		return nil, a.finishRequest("stream", start, Usage{}, err)
	}

	decoder := newAnthropicStreamDecoder(body)
	return newChunkStream(body, decoder.next, func(usage Usage, err error) {
		_ = a.finishRequest("stream", start, usage, err)
	}), nil
}

func (a *AnthropicAdapter) buildRequest(messages []Message, opts SendOptions, stream bool) *anthropicRequest {
	system, rest := systemText(messages, opts)

	req := &anthropicRequest{
		Model:       a.opts.Model,
		MaxTokens:   a.opts.MaxTokens,
		System:      system,
		Messages:    toAnthropicMessages(rest),
		Temperature: a.opts.Temperature,
		Stream:      stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	for _, t := range opts.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return req
}

// --- 线上格式 ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     json.RawMessage       `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   string                `json:"content,omitempty"`
	IsError   bool                  `json:"is_error,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

func (r *anthropicResponse) toResponse() *Response {
	resp := &Response{
		StopReason: StopReason(r.StopReason),
		Usage:      Usage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens},
	}
	for _, block := range r.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			raw := string(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:           block.ID,
				Name:         block.Name,
				Arguments:    parseArguments(block.Name, raw),
				RawArguments: raw,
			})
		}
	}
	return resp
}

func toAnthropicMessages(messages []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropicBlock

		for _, r := range m.ToolResults {
			blocks = append(blocks, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: r.CallID,
				Content:   r.Content,
				IsError:   r.IsError,
			})
		}

		if len(m.Parts) == 0 {
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
		}
		for _, p := range m.Parts {
			switch {
			case p.Type == PartText && p.Text != "":
				blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
			case p.Type == PartImage && p.Image != nil:
				blocks = append(blocks, anthropicBlock{
					Type: "image",
					Source: &anthropicImageSource{
						Type:      "base64",
						MediaType: p.Image.MediaType,
						Data:      rawBase64(p.Image.Data),
					},
				})
			}
		}

		for _, call := range m.ToolCalls {
			args := call.Arguments
			if args == nil {
				args = map[string]any{}
			}
			input, _ := json.Marshal(args)
			blocks = append(blocks, anthropicBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Name,
				Input: input,
			})
		}

		if len(blocks) == 0 {
			continue
		}
		out = append(out, anthropicMessage{Role: string(m.Role), Content: blocks})
	}
	return out
}

// --- 流式解析 ---

type anthropicStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      json.RawMessage `json:"message"`
	ContentBlock *anthropicBlock `json:"content_block"`
	Delta        struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// anthropicStreamDecoder 以内容块 index 为键的状态机
type anthropicStreamDecoder struct {
	scanner    *SSEScanner
	blockTypes map[int]string
	usage      Usage
	stopReason StopReason
}

func newAnthropicStreamDecoder(r io.Reader) *anthropicStreamDecoder {
	return &anthropicStreamDecoder{
		scanner:    NewSSEScanner(r),
		blockTypes: make(map[int]string),
	}
}

func (d *anthropicStreamDecoder) next() ([]StreamChunk, error) {
	for d.scanner.Next() {
		ev := d.scanner.Event()

		var payload anthropicStreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			util.Warnw("跳过无法解析的流事件", map[string]any{
				"event": ev.Type,
				"data":  previewBody([]byte(ev.Data)),
				"error": err.Error(),
			})
			continue
		}
		if payload.Type == "" {
			payload.Type = ev.Type
		}

		chunks, err := d.handle(payload)
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			return chunks, nil
		}
	}
	return nil, d.scanner.Err()
}

func (d *anthropicStreamDecoder) handle(ev anthropicStreamEvent) ([]StreamChunk, error) {
	switch ev.Type {
	case "message_start":
		var msg struct {
			Usage anthropicUsage `json:"usage"`
		}
		if len(ev.Message) > 0 && json.Unmarshal(ev.Message, &msg) == nil {
			d.usage.InputTokens = msg.Usage.InputTokens
			d.usage.OutputTokens = msg.Usage.OutputTokens
		}

	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil, nil
		}
		d.blockTypes[ev.Index] = ev.ContentBlock.Type
		switch ev.ContentBlock.Type {
		case "tool_use":
			return []StreamChunk{ToolCallStartChunk(ev.Index, ev.ContentBlock.ID, ev.ContentBlock.Name)}, nil
		case "text":
			if ev.ContentBlock.Text != "" {
				return []StreamChunk{TextChunk(ev.ContentBlock.Text)}, nil
			}
		}

	case "content_block_delta":
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text != "" {
				return []StreamChunk{TextChunk(ev.Delta.Text)}, nil
			}
		case "input_json_delta":
			return []StreamChunk{ToolCallDeltaChunk(ev.Index, ev.Delta.PartialJSON)}, nil
		}

	case "content_block_stop":
		blockType, ok := d.blockTypes[ev.Index]
		delete(d.blockTypes, ev.Index)
		if ok && blockType == "tool_use" {
			return []StreamChunk{ToolCallEndChunk(ev.Index)}, nil
		}

	case "message_delta":
		if ev.Delta.StopReason != "" {
			d.stopReason = StopReason(ev.Delta.StopReason)
		}
		if ev.Usage != nil {
			d.usage.OutputTokens = ev.Usage.OutputTokens
			if ev.Usage.InputTokens > 0 {
				d.usage.InputTokens = ev.Usage.InputTokens
			}
		}

	case "message_stop":
		return []StreamChunk{DoneChunk(d.stopReason, d.usage)}, nil

	case "error":
		message := "stream error"
		if ev.Error != nil {
			message = ev.Error.Type + ": " + ev.Error.Message
		}
		return nil, errors.NewBackendError(errors.ErrCodeBackend, 0, "Anthropic stream error", message)

	case "ping":
	default:
		util.Debugw("忽略未知的流事件", map[string]any{"type": ev.Type})
	}
	return nil, nil
}
