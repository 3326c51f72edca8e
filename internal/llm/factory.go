package llm

import (
	"time"

	"design-ai/internal/config"
	"design-ai/internal/pkg/errors"
	"design-ai/pkg/registry"
)

// 适配器类型
const (
	TypeAnthropic = "anthropic"
	TypeOllama    = "ollama"
	TypeLlamaCpp  = "llamacpp"
)

// Options 创建适配器所需的参数
type Options struct {
	Name          string
	BaseURL       string
	Model         string
	APIKey        string
	Credentials   CredentialSource
	Mode          string
	MaxTokens     int
	Temperature   *float64
	ContextTokens int
	Vision        bool
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

// AdapterFactory 适配器工厂函数类型
type AdapterFactory func(opts Options) (Provider, error)

var factories = registry.NewFactoryRegistry[Options, Provider]()

func init() {
	RegisterFactory(TypeAnthropic, func(o Options) (Provider, error) { return NewAnthropicAdapter(o) })
	RegisterFactory(TypeOllama, func(o Options) (Provider, error) { return NewOllamaAdapter(o) })
	RegisterFactory(TypeLlamaCpp, func(o Options) (Provider, error) { return NewLlamaCppAdapter(o) })
}

// RegisterFactory 注册适配器工厂，同名覆盖
func RegisterFactory(adapterType string, factory AdapterFactory) {
	factories.Register(adapterType, factory)
}

// SupportedTypes 返回已注册的适配器类型
func SupportedTypes() []string {
	return factories.Kinds()
}

// NewProvider 按类型创建适配器
func NewProvider(adapterType string, opts Options) (Provider, error) {
	if !factories.Has(adapterType) {
		return nil, errors.NewErrorWithDetails(errors.ErrCodeProviderTypeUnknown, "未知的适配器类型", adapterType)
	}
	p, err := factories.Create(adapterType, opts)
	if err != nil {
		if _, ok := errors.AsAppError(err); ok {
			return nil, err
		}
		return nil, errors.WrapError(errors.ErrCodeClientCreationFailed, "创建适配器失败", err)
	}
	return p, nil
}

// OptionsFromConfig 将配置转换为适配器参数
func OptionsFromConfig(name string, pc config.ProviderConfig, ai config.AIConfig, creds CredentialSource) Options {
	timeout := time.Duration(ai.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return Options{
		Name:          name,
		BaseURL:       pc.BaseURL,
		Model:         pc.Model,
		APIKey:        pc.APIKey,
		Credentials:   creds,
		Mode:          pc.Mode,
		MaxTokens:     pc.MaxTokens,
		Temperature:   pc.Temperature,
		ContextTokens: pc.ContextTokens,
		Vision:        pc.Vision,
		Timeout:       timeout,
		MaxRetries:    ai.MaxRetries,
		RetryDelay:    time.Second,
	}
}

// NewProviderFromConfig 根据配置创建指定名称的适配器
func NewProviderFromConfig(cfg *config.AppConfig, name string) (Provider, error) {
	pc, err := cfg.GetProviderConfig(name)
	if err != nil {
		return nil, err
	}
	return NewProvider(pc.Type, OptionsFromConfig(name, pc, cfg.AI, cfg))
}

func (o Options) withDefaults(name, baseURL, model string, contextTokens int) Options {
	if o.Name == "" {
		o.Name = name
	}
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.Model == "" {
		o.Model = model
	}
	if o.ContextTokens <= 0 {
		o.ContextTokens = contextTokens
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}
