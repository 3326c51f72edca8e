package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// 错误代码常量
const (
	// 系统级错误
	ErrCodeSystemError          = "SYSTEM_ERROR"          // 系统错误
	ErrCodeInternalErr          = "INTERNAL_ERROR"        // 内部错误
	ErrCodeInitializationFailed = "INITIALIZATION_FAILED" // 初始化失败
	ErrCodeNotFound             = "NOT_FOUND"             // 资源未找到
	ErrCodeInvalidParam         = "INVALID_PARAM"         // 无效参数

	// 配置错误
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"    // 配置文件未找到
	ErrCodeConfigInvalid     = "CONFIG_INVALID"      // 配置文件无效
	ErrCodeConfigLoadFailed  = "CONFIG_LOAD_FAILED"  // 配置加载失败
	ErrCodeConfigParseFailed = "CONFIG_PARSE_FAILED" // 配置解析失败

	// 连接错误（Connect 阶段）
	ErrCodeConnectivity  = "CONNECTIVITY_ERROR"   // 主机不可达
	ErrCodeAuthRejected  = "AUTH_REJECTED"        // 凭证被拒绝
	ErrCodeAPIKeyMissing = "API_KEY_MISSING"      // API密钥缺失
	ErrCodeTimeout       = "TIMEOUT"              // 请求超时
	ErrCodeNetworkFailed = "NETWORK_FAILED"       // 网络请求失败
	ErrCodeLocalNotReady = "LOCAL_SERVER_MISSING" // 本地模型服务未运行

	// 后端错误（Send/Stream 阶段）
	ErrCodeBackend            = "BACKEND_ERROR"       // 后端返回错误
	ErrCodeRateLimited        = "RATE_LIMITED"        // 请求频率限制
	ErrCodeForbidden          = "FORBIDDEN"           // 禁止访问
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 服务不可用
	ErrCodeModelNotFound      = "MODEL_NOT_FOUND"     // 模型未找到
	ErrCodeContextTooLong     = "CONTEXT_TOO_LONG"    // 上下文超出模型限制
	ErrCodeInvalidResponse    = "INVALID_RESPONSE"    // 无效响应
	ErrCodeStreamClosed       = "STREAM_CLOSED"       // 流已关闭
	ErrCodeContextCanceled    = "CONTEXT_CANCELED"    // 上下文取消

	// 提供方注册表错误
	ErrCodeProviderNotFound      = "PROVIDER_NOT_FOUND"      // 提供方未注册
	ErrCodeProviderExists        = "PROVIDER_EXISTS"         // 提供方重复注册
	ErrCodeNoActiveProvider      = "NO_ACTIVE_PROVIDER"      // 没有激活的提供方
	ErrCodeProviderTypeUnknown   = "PROVIDER_TYPE_UNKNOWN"   // 未知的适配器类型
	ErrCodeClientCreationFailed  = "CLIENT_CREATION_FAILED"  // 适配器创建失败
	ErrCodeCapabilityUnsupported = "CAPABILITY_UNSUPPORTED"  // 能力不支持

	// 工具错误
	ErrCodeToolNotFound        = "TOOL_NOT_FOUND"        // 工具未找到
	ErrCodeToolExecutionFailed = "TOOL_EXECUTION_FAILED" // 工具执行失败
	ErrCodeToolExists          = "TOOL_EXISTS"           // 工具重复注册

	// 对话轮次错误
	ErrCodeTurnInProgress = "TURN_IN_PROGRESS" // 上一轮尚未结束
	ErrCodeTurnFailed     = "TURN_FAILED"      // 对话轮次失败
	ErrCodeEventBusClosed = "EVENT_BUS_CLOSED" // 事件队列已关闭

	// MCP错误
	ErrCodeMCPNotConfigured    = "MCP_NOT_CONFIGURED"    // MCP未配置
	ErrCodeMCPConnectionFailed = "MCP_CONNECTION_FAILED" // MCP连接失败
	ErrCodeMCPToolListFailed   = "MCP_TOOL_LIST_FAILED"  // MCP工具列表获取失败
	ErrCodeMCPToolCallFailed   = "MCP_TOOL_CALL_FAILED"  // MCP工具调用失败
)

// AppError 应用错误结构
type AppError struct {
	Code    string `json:"code"`              // 错误代码
	Message string `json:"message"`           // 错误消息
	Details string `json:"details,omitempty"` // 错误详情
	Status  int    `json:"status,omitempty"`  // 后端HTTP状态码（若有）
	Cause   error  `json:"-"`                 // 原始错误
	Stack   string `json:"stack,omitempty"`   // 错误堆栈
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString("[" + e.Code + "] " + e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Details != "" {
		b.WriteString(": " + e.Details)
	}
	return b.String()
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码比较
func (e *AppError) Is(target error) bool {
	if other, ok := target.(*AppError); ok {
		return e.Code == other.Code
	}
	return false
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithStatus 记录后端返回的HTTP状态码
func (e *AppError) WithStatus(status int) *AppError {
	e.Status = status
	return e
}

// WithStack 添加堆栈信息
func (e *AppError) WithStack() *AppError {
	e.Stack = getStackTrace(3)
	return e
}

func getStackTrace(skip int) string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack strings.Builder
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&stack, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return stack.String()
}

// AsAppError 在错误链中查找 AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsErrorCode 检查错误链中是否包含指定代码
func IsErrorCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetErrorCode 获取错误代码，非 AppError 时返回内部错误代码
func GetErrorCode(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternalErr
}

// GetErrorDetails 获取错误详情
func GetErrorDetails(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Details
	}
	return ""
}

var connectivityCodes = map[string]bool{
	ErrCodeConnectivity:  true,
	ErrCodeAuthRejected:  true,
	ErrCodeAPIKeyMissing: true,
	ErrCodeTimeout:       true,
	ErrCodeNetworkFailed: true,
	ErrCodeLocalNotReady: true,
}

var backendCodes = map[string]bool{
	ErrCodeBackend:            true,
	ErrCodeRateLimited:        true,
	ErrCodeForbidden:          true,
	ErrCodeServiceUnavailable: true,
	ErrCodeModelNotFound:      true,
	ErrCodeContextTooLong:     true,
	ErrCodeInvalidResponse:    true,
	ErrCodeStreamClosed:       true,
}

// IsConnectivityError 判断是否为 Connect 阶段的连接类错误
func IsConnectivityError(err error) bool {
	return connectivityCodes[GetErrorCode(err)]
}

// IsBackendError 判断是否为后端请求错误，携带HTTP状态码的错误均属此类
func IsBackendError(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	return appErr.Status != 0 || backendCodes[appErr.Code]
}
