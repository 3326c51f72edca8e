package llm

import (
	"context"
)

// AdapterInfo 适配器信息
type AdapterInfo struct {
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Description  string       `json:"description"`
	BaseURL      string       `json:"base_url"`
	Model        string       `json:"model"`
	Capabilities Capabilities `json:"capabilities"`
}

// Provider 单个后端的统一接口：connect / send / stream
type Provider interface {
	// Name 注册名称
	Name() string

	// Type 适配器类型：anthropic | ollama | llamacpp
	Type() string

	// Capabilities 静态能力
	Capabilities() Capabilities

	// Connect 校验可达性与凭证，失败返回连接错误，不重试
	Connect(ctx context.Context) error

	// Send 发送请求并返回完整响应
	Send(ctx context.Context, messages []Message, opts SendOptions) (*Response, error)

	// Stream 发送请求并返回惰性片段序列
	Stream(ctx context.Context, messages []Message, opts SendOptions) (Stream, error)

	// GetAdapterInfo 获取适配器信息
	GetAdapterInfo() AdapterInfo

	// GetMetrics 获取指标
	GetMetrics() AdapterMetrics
}

// CredentialSource 不透明的凭证来源
type CredentialSource interface {
	Credential(ctx context.Context, provider string) (string, error)
}

// CredentialFunc 函数形式的凭证来源
type CredentialFunc func(ctx context.Context, provider string) (string, error)

func (f CredentialFunc) Credential(ctx context.Context, provider string) (string, error) {
	return f(ctx, provider)
}

// AdapterMetrics 适配器指标
type AdapterMetrics struct {
	RequestCount        int64  `json:"request_count"`
	ErrorCount          int64  `json:"error_count"`
	AverageResponseTime int64  `json:"average_response_time"` // 毫秒
	LastRequestTime     int64  `json:"last_request_time"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	LastError           string `json:"last_error,omitempty"`
}
