package llm

import (
	"strings"

	"design-ai/internal/pkg/errors"
)

// ErrorMapper 错误映射器接口
type ErrorMapper interface {
	// MapError 将原始错误映射为标准化的错误
	MapError(originalError error) error
}

// ErrorMappingRule 错误映射规则
type ErrorMappingRule struct {
	// Pattern 匹配模式（不区分大小写的包含匹配）
	Pattern string `json:"pattern"`

	// ErrorCode 目标错误代码
	ErrorCode string `json:"error_code"`

	// ErrorMessage 目标错误消息
	ErrorMessage string `json:"error_message"`
}

// DefaultErrorMapper 默认错误映射器实现
type DefaultErrorMapper struct {
	rules []ErrorMappingRule
}

// NewDefaultErrorMapper 创建默认错误映射器
func NewDefaultErrorMapper() *DefaultErrorMapper {
	mapper := &DefaultErrorMapper{}
	mapper.addPredefinedRules()
	return mapper
}

// MapError 将原始错误映射为标准化的错误。
// 已是 AppError 的后端错误只在详情匹配规则时细化代码，状态码与原因保持不变。
func (m *DefaultErrorMapper) MapError(originalError error) error {
	if originalError == nil {
		return nil
	}

	if appErr, ok := errors.AsAppError(originalError); ok {
		if appErr.Code != errors.ErrCodeBackend {
			return appErr
		}
		if rule, ok := m.match(appErr.Details); ok {
			refined := *appErr
			refined.Code = rule.ErrorCode
			refined.Message = rule.ErrorMessage
			return &refined
		}
		return appErr
	}

	if rule, ok := m.match(originalError.Error()); ok {
		return errors.WrapErrorWithDetails(rule.ErrorCode, rule.ErrorMessage, originalError, originalError.Error())
	}
	return errors.WrapError(errors.ErrCodeBackend, "unknown error", originalError)
}

func (m *DefaultErrorMapper) match(text string) (ErrorMappingRule, bool) {
	lower := strings.ToLower(text)
	for _, rule := range m.rules {
		if strings.Contains(lower, strings.ToLower(rule.Pattern)) {
			return rule, true
		}
	}
	return ErrorMappingRule{}, false
}

func (m *DefaultErrorMapper) addPredefinedRules() {
	m.rules = append(m.rules, []ErrorMappingRule{
		{Pattern: "context deadline exceeded", ErrorCode: errors.ErrCodeTimeout, ErrorMessage: "Request timeout"},
		{Pattern: "timeout", ErrorCode: errors.ErrCodeTimeout, ErrorMessage: "Request timeout"},
		{Pattern: "connection refused", ErrorCode: errors.ErrCodeConnectivity, ErrorMessage: "Connection refused"},
		{Pattern: "no such host", ErrorCode: errors.ErrCodeConnectivity, ErrorMessage: "Host not found"},
		{Pattern: "rate limit", ErrorCode: errors.ErrCodeRateLimited, ErrorMessage: "Rate limit exceeded"},
		{Pattern: "too many requests", ErrorCode: errors.ErrCodeRateLimited, ErrorMessage: "Rate limit exceeded"},
		{Pattern: "model not found", ErrorCode: errors.ErrCodeModelNotFound, ErrorMessage: "Model not found"},
		{Pattern: "context length", ErrorCode: errors.ErrCodeContextTooLong, ErrorMessage: "Context length exceeded"},
	}...)
}

// ProviderSpecificErrorMapper 提供方特定的错误映射器
type ProviderSpecificErrorMapper struct {
	*DefaultErrorMapper
}

// NewProviderSpecificErrorMapper 创建提供方特定的错误映射器
func NewProviderSpecificErrorMapper(provider string) *ProviderSpecificErrorMapper {
	mapper := &ProviderSpecificErrorMapper{
		DefaultErrorMapper: NewDefaultErrorMapper(),
	}
	mapper.addProviderSpecificRules(provider)
	return mapper
}

func (m *ProviderSpecificErrorMapper) addProviderSpecificRules(provider string) {
	var specificRules []ErrorMappingRule

	switch strings.ToLower(provider) {
	case TypeAnthropic:
		specificRules = []ErrorMappingRule{
			{Pattern: "overloaded_error", ErrorCode: errors.ErrCodeServiceUnavailable, ErrorMessage: "Anthropic service overloaded"},
			{Pattern: "prompt is too long", ErrorCode: errors.ErrCodeContextTooLong, ErrorMessage: "Anthropic prompt too long"},
			{Pattern: "not_found_error", ErrorCode: errors.ErrCodeModelNotFound, ErrorMessage: "Anthropic model not found"},
			{Pattern: "rate_limit_error", ErrorCode: errors.ErrCodeRateLimited, ErrorMessage: "Anthropic rate limited"},
		}
	case TypeOllama:
		specificRules = []ErrorMappingRule{
			{Pattern: "not found, try pulling it first", ErrorCode: errors.ErrCodeModelNotFound, ErrorMessage: "Ollama model not pulled"},
			{Pattern: "does not support", ErrorCode: errors.ErrCodeCapabilityUnsupported, ErrorMessage: "Ollama model capability unsupported"},
		}
	case TypeLlamaCpp:
		specificRules = []ErrorMappingRule{
			{Pattern: "exceeds the available context size", ErrorCode: errors.ErrCodeContextTooLong, ErrorMessage: "llama.cpp context exceeded"},
			{Pattern: "loading model", ErrorCode: errors.ErrCodeServiceUnavailable, ErrorMessage: "llama.cpp model still loading"},
		}
	}

	// 特定规则优先匹配
	m.rules = append(specificRules, m.rules...)
}

// CreateErrorMapperForProvider 为指定提供方类型创建错误映射器
func CreateErrorMapperForProvider(provider string) ErrorMapper {
	if provider == "" {
		return NewDefaultErrorMapper()
	}
	return NewProviderSpecificErrorMapper(provider)
}
