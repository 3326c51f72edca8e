package llm

import (
	"context"
	"encoding/json"
	"time"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// OllamaAdapter 本地 Ollama 适配器，使用 /api/chat
type OllamaAdapter struct {
	*BaseAdapter
	httpClient *RetryableHTTPClient
	opts       Options
}

// NewOllamaAdapter 创建 Ollama 适配器
func NewOllamaAdapter(opts Options) (*OllamaAdapter, error) {
	opts = opts.withDefaults(TypeOllama, "http://localhost:11434", "llama3.2", 8192)

	info := AdapterInfo{
		Name:        opts.Name,
		Type:        TypeOllama,
		Description: "Ollama 本地模型适配器",
		BaseURL:     opts.BaseURL,
		Model:       opts.Model,
		Capabilities: Capabilities{
			Vision:           opts.Vision,
			Streaming:        true,
			FunctionCalling:  false,
			MaxContextTokens: opts.ContextTokens,
		},
	}

	return &OllamaAdapter{
		BaseAdapter: NewBaseAdapter(info),
		httpClient:  NewRetryableHTTPClient(opts.BaseURL, opts.Timeout, opts.MaxRetries, opts.RetryDelay),
		opts:        opts,
	}, nil
}

// Connect 检查服务可达，并确认模型已拉取
func (o *OllamaAdapter) Connect(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := o.httpClient.GetJSON(ctx, "/api/tags", &tags, nil); err != nil {
		if errors.IsConnectivityError(err) {
			return diagnoseLocalServer(ctx, err, o.opts.BaseURL, "ollama")
		}
		return errors.WrapError(errors.ErrCodeConnectivity, "Ollama 服务异常", err)
	}

	found := false
	for _, m := range tags.Models {
		if m.Name == o.opts.Model || m.Model == o.opts.Model || m.Name == o.opts.Model+":latest" {
			found = true
			break
		}
	}
	if !found {
		util.Warnw("Ollama 未找到配置的模型，首次请求可能失败", map[string]any{
			"name":  o.Name(),
			"model": o.opts.Model,
		})
	}

	util.Infow("Ollama 连接成功", map[string]any{
		"name":   o.Name(),
		"models": len(tags.Models),
	})
	return nil
}

// Send 发送非流式请求，响应中的工具调用一律忽略
func (o *OllamaAdapter) Send(ctx context.Context, messages []Message, opts SendOptions) (*Response, error) {
	start := time.Now()

	req := o.buildRequest(messages, opts, false)
	var raw ollamaChatResponse
	if err := o.httpClient.PostJSONWithRetry(ctx, "/api/chat", req, &raw, nil); err != nil {
		return nil, o.finishRequest("send", start, Usage{}, err)
	}
	if raw.Error != "" {
		err := errors.NewBackendError(errors.ErrCodeBackend, 0, "Ollama error", raw.Error)
		return nil, o.finishRequest("send", start, Usage{}, err)
	}

	resp := &Response{
		Content:    raw.Message.Content,
		StopReason: ollamaStopReason(raw.DoneReason),
		Usage:      Usage{InputTokens: raw.PromptEvalCount, OutputTokens: raw.EvalCount},
		Provider:   o.Name(),
		Model:      raw.Model,
	}
	return resp, o.finishRequest("send", start, resp.Usage, nil)
}

// Stream 发送流式请求，响应为 NDJSON
func (o *OllamaAdapter) Stream(ctx context.Context, messages []Message, opts SendOptions) (Stream, error) {
	start := time.Now()

	req := o.buildRequest(messages, opts, true)
	body, err := o.httpClient.OpenStream(ctx, "/api/chat", req, nil)
	if err != nil {
		return nil, o.finishRequest("stream", start, Usage{}, err)
	}

	decoder := &ollamaStreamDecoder{lines: newLineReader(body)}
	return newChunkStream(body, decoder.next, func(usage Usage, err error) {
		_ = o.finishRequest("stream", start, usage, err)
	}), nil
}

// buildRequest 不携带 opts.Tools，历史中的工具调用与结果折叠为文本
func (o *OllamaAdapter) buildRequest(messages []Message, opts SendOptions, stream bool) *ollamaChatRequest {
	system, rest := systemText(messages, opts)

	req := &ollamaChatRequest{
		Model:   o.opts.Model,
		Stream:  stream,
		Options: map[string]any{},
	}
	if system != "" {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(RoleSystem), Content: system})
	}
	for _, m := range rest {
		if msg, ok := toOllamaMessage(m); ok {
			req.Messages = append(req.Messages, msg)
		}
	}

	maxTokens := o.opts.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		req.Options["num_predict"] = maxTokens
	}
	temperature := o.opts.Temperature
	if opts.Temperature != nil {
		temperature = opts.Temperature
	}
	if temperature != nil {
		req.Options["temperature"] = *temperature
	}
	if o.opts.ContextTokens > 0 {
		req.Options["num_ctx"] = o.opts.ContextTokens
	}
	return req
}

func toOllamaMessage(m Message) (ollamaMessage, bool) {
	text := flattenText(m)
	images := m.Images()
	if text == "" && len(images) == 0 {
		return ollamaMessage{}, false
	}

	msg := ollamaMessage{Role: string(m.Role), Content: text}
	for _, img := range images {
		msg.Images = append(msg.Images, rawBase64(img.Data))
	}
	return msg, true
}

func ollamaStopReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEndTurn
	case "length":
		return StopMaxTokens
	case "":
		return StopUnknown
	default:
		return StopReason(reason)
	}
}

// --- 线上格式 ---

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// --- 流式解析 ---

type ollamaStreamDecoder struct {
	lines *lineReader
}

func (d *ollamaStreamDecoder) next() ([]StreamChunk, error) {
	for {
		line, err := d.lines.Next()
		if err != nil {
			return nil, err
		}

		var frame ollamaChatResponse
		if err := json.Unmarshal(line, &frame); err != nil {
			util.Warnw("跳过无法解析的流数据行", map[string]any{
				"line":  previewBody(line),
				"error": err.Error(),
			})
			continue
		}
		if frame.Error != "" {
			return nil, errors.NewBackendError(errors.ErrCodeBackend, 0, "Ollama stream error", frame.Error)
		}

		var chunks []StreamChunk
		if frame.Message.Content != "" {
			chunks = append(chunks, TextChunk(frame.Message.Content))
		}
		if frame.Done {
			chunks = append(chunks, DoneChunk(ollamaStopReason(frame.DoneReason), Usage{
				InputTokens:  frame.PromptEvalCount,
				OutputTokens: frame.EvalCount,
			}))
		}
		if len(chunks) > 0 {
			return chunks, nil
		}
	}
}
