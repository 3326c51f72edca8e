package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// llama.cpp 服务的两种模式
const (
	LlamaModeChat       = "chat"
	LlamaModeCompletion = "completion"
)

// completion 模式下的对话分隔符
const (
	llamaSystemHeader    = "### System:\n"
	llamaUserHeader      = "### User:\n"
	llamaAssistantHeader = "### Assistant:\n"
)

var llamaStopSequences = []string{"### User:", "### System:"}

// LlamaCppAdapter llama.cpp server 适配器。
// chat 模式走 OpenAI 兼容接口，completion 模式把对话拼成单个提示词。
// 两种模式都不支持工具调用和图片。
type LlamaCppAdapter struct {
	*BaseAdapter
	httpClient *RetryableHTTPClient
	opts       Options
}

// NewLlamaCppAdapter 创建 llama.cpp 适配器
func NewLlamaCppAdapter(opts Options) (*LlamaCppAdapter, error) {
	opts = opts.withDefaults(TypeLlamaCpp, "http://localhost:8080", "local", 4096)
	switch opts.Mode {
	case "":
		opts.Mode = LlamaModeChat
	case LlamaModeChat, LlamaModeCompletion:
	default:
		return nil, errors.NewConfigErrorWithDetails("llama.cpp 模式无效", opts.Mode)
	}

	info := AdapterInfo{
		Name:        opts.Name,
		Type:        TypeLlamaCpp,
		Description: "llama.cpp server 适配器 (" + opts.Mode + ")",
		BaseURL:     opts.BaseURL,
		Model:       opts.Model,
		Capabilities: Capabilities{
			Vision:           false,
			Streaming:        true,
			FunctionCalling:  false,
			MaxContextTokens: opts.ContextTokens,
		},
	}

	return &LlamaCppAdapter{
		BaseAdapter: NewBaseAdapter(info),
		httpClient:  NewRetryableHTTPClient(opts.BaseURL, opts.Timeout, opts.MaxRetries, opts.RetryDelay),
		opts:        opts,
	}, nil
}

// Mode 当前模式
func (l *LlamaCppAdapter) Mode() string {
	return l.opts.Mode
}

// Connect 检查 /health，模型加载中同样视为未就绪
func (l *LlamaCppAdapter) Connect(ctx context.Context) error {
	var health struct {
		Status string `json:"status"`
	}
	if err := l.httpClient.GetJSON(ctx, "/health", &health, nil); err != nil {
		if errors.IsConnectivityError(err) {
			return diagnoseLocalServer(ctx, err, l.opts.BaseURL, "llama-server", "llama")
		}
		if errors.IsErrorCode(err, errors.ErrCodeServiceUnavailable) {
			return errors.WrapErrorWithDetails(errors.ErrCodeLocalNotReady, "llama.cpp 模型仍在加载", err, l.opts.BaseURL)
		}
		return errors.WrapError(errors.ErrCodeConnectivity, "llama.cpp 服务异常", err)
	}
	if health.Status != "" && health.Status != "ok" {
		return errors.NewErrorWithDetails(errors.ErrCodeLocalNotReady, "llama.cpp 服务未就绪", health.Status)
	}

	util.Infow("llama.cpp 连接成功", map[string]any{
		"name": l.Name(),
		"mode": l.opts.Mode,
	})
	return nil
}

// Send 发送非流式请求
func (l *LlamaCppAdapter) Send(ctx context.Context, messages []Message, opts SendOptions) (*Response, error) {
	start := time.Now()

	var (
		resp *Response
		err  error
	)
	if l.opts.Mode == LlamaModeCompletion {
		resp, err = l.sendCompletion(ctx, messages, opts)
	} else {
		resp, err = l.sendChat(ctx, messages, opts)
	}
	if err != nil {
		return nil, l.finishRequest("send", start, Usage{}, err)
	}
	resp.Provider = l.Name()
	return resp, l.finishRequest("send", start, resp.Usage, nil)
}

// Stream 发送流式请求
func (l *LlamaCppAdapter) Stream(ctx context.Context, messages []Message, opts SendOptions) (Stream, error) {
	start := time.Now()

	var (
		endpoint string
		payload  any
		decode   func(io.Reader) decodeFunc
	)
	if l.opts.Mode == LlamaModeCompletion {
		endpoint, payload = "/completion", l.completionRequest(messages, opts, true)
		decode = func(r io.Reader) decodeFunc { return (&llamaCompletionDecoder{scanner: NewSSEScanner(r)}).next }
	} else {
		endpoint, payload = "/v1/chat/completions", l.chatRequest(messages, opts, true)
		decode = func(r io.Reader) decodeFunc { return newOpenAIStreamDecoder(r).next }
	}

	body, err := l.httpClient.OpenStream(ctx, endpoint, payload, map[string]string{"Accept": "text/event-stream"})
	if err != nil {
		return nil, l.finishRequest("stream", start, Usage{}, err)
	}
	return newChunkStream(body, decode(body), func(usage Usage, err error) {
		_ = l.finishRequest("stream", start, usage, err)
	}), nil
}

// --- chat 模式 ---

func (l *LlamaCppAdapter) sendChat(ctx context.Context, messages []Message, opts SendOptions) (*Response, error) {
	var raw openAIChatResponse
	if err := l.httpClient.PostJSONWithRetry(ctx, "/v1/chat/completions", l.chatRequest(messages, opts, false), &raw, nil); err != nil {
		return nil, err
	}
	if len(raw.Choices) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidResponse, "llama.cpp 响应中没有 choices")
	}

	choice := raw.Choices[0]
	resp := &Response{
		Content:    choice.Message.Content,
		StopReason: openAIStopReason(choice.FinishReason),
		Usage:      Usage{InputTokens: raw.Usage.PromptTokens, OutputTokens: raw.Usage.CompletionTokens},
		Model:      raw.Model,
	}
	return resp, nil
}

func (l *LlamaCppAdapter) chatRequest(messages []Message, opts SendOptions, stream bool) *openAIChatRequest {
	system, rest := systemText(messages, opts)

	req := &openAIChatRequest{
		Model:       l.opts.Model,
		Stream:      stream,
		MaxTokens:   l.opts.MaxTokens,
		Temperature: l.opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	if stream {
		req.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	if system != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: string(RoleSystem), Content: system})
	}
	for _, m := range rest {
		if text := flattenText(m); text != "" {
			req.Messages = append(req.Messages, openAIMessage{Role: string(m.Role), Content: text})
		}
	}
	return req
}

// --- completion 模式 ---

func (l *LlamaCppAdapter) sendCompletion(ctx context.Context, messages []Message, opts SendOptions) (*Response, error) {
	var raw llamaCompletionResponse
	if err := l.httpClient.PostJSONWithRetry(ctx, "/completion", l.completionRequest(messages, opts, false), &raw, nil); err != nil {
		return nil, err
	}
	return &Response{
		Content:    raw.Content,
		StopReason: raw.stopReason(),
		Usage:      Usage{InputTokens: raw.TokensEvaluated, OutputTokens: raw.TokensPredicted},
		Model:      raw.Model,
	}, nil
}

func (l *LlamaCppAdapter) completionRequest(messages []Message, opts SendOptions, stream bool) *llamaCompletionRequest {
	req := &llamaCompletionRequest{
		Prompt: BuildCompletionPrompt(messages, opts.SystemPrompt),
		Stop:   llamaStopSequences,
		Stream: stream,
		NPredict: func() int {
			if opts.MaxTokens > 0 {
				return opts.MaxTokens
			}
			if l.opts.MaxTokens > 0 {
				return l.opts.MaxTokens
			}
			return -1
		}(),
		Temperature: l.opts.Temperature,
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	return req
}

// BuildCompletionPrompt 将对话拼为带分隔符的单个提示词，以打开的助手段落结尾。
// 工具调用与工具结果折叠为文本，图片被丢弃。
func BuildCompletionPrompt(messages []Message, systemPrompt string) string {
	system, rest := systemText(messages, SendOptions{SystemPrompt: systemPrompt})

	var b strings.Builder
	if system != "" {
		b.WriteString(llamaSystemHeader)
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for _, m := range rest {
		text := flattenText(m)
		if text == "" {
			continue
		}
		if m.Role == RoleAssistant {
			b.WriteString(llamaAssistantHeader)
		} else {
			b.WriteString(llamaUserHeader)
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	b.WriteString(llamaAssistantHeader)
	return b.String()
}

type llamaCompletionRequest struct {
	Prompt      string   `json:"prompt"`
	Stop        []string `json:"stop"`
	Stream      bool     `json:"stream"`
	NPredict    int      `json:"n_predict"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type llamaCompletionResponse struct {
	Content         string `json:"content"`
	Model           string `json:"model"`
	Stop            bool   `json:"stop"`
	StopType        string `json:"stop_type"`
	StoppedEOS      bool   `json:"stopped_eos"`
	StoppedWord     bool   `json:"stopped_word"`
	StoppedLimit    bool   `json:"stopped_limit"`
	TokensEvaluated int    `json:"tokens_evaluated"`
	TokensPredicted int    `json:"tokens_predicted"`
}

func (r llamaCompletionResponse) stopReason() StopReason {
	switch {
	case r.StopType == "eos" || r.StoppedEOS:
		return StopEndTurn
	case r.StopType == "word" || r.StoppedWord:
		return StopSequence
	case r.StopType == "limit" || r.StoppedLimit:
		return StopMaxTokens
	default:
		return StopUnknown
	}
}

type llamaCompletionDecoder struct {
	scanner *SSEScanner
}

func (d *llamaCompletionDecoder) next() ([]StreamChunk, error) {
	for d.scanner.Next() {
		data := d.scanner.Event().Data
		var frame llamaCompletionResponse
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			util.Warnw("跳过无法解析的流事件", map[string]any{
				"data":  previewBody([]byte(data)),
				"error": err.Error(),
			})
			continue
		}

		var chunks []StreamChunk
		if frame.Content != "" {
			chunks = append(chunks, TextChunk(frame.Content))
		}
		if frame.Stop {
			chunks = append(chunks, DoneChunk(frame.stopReason(), Usage{
				InputTokens:  frame.TokensEvaluated,
				OutputTokens: frame.TokensPredicted,
			}))
		}
		if len(chunks) > 0 {
			return chunks, nil
		}
	}
	return nil, d.scanner.Err()
}
