package errors

// NewError 创建新的错误
func NewError(code, message string) *AppError {
	err := &AppError{
		Code:    code,
		Message: message,
	}
	return err.WithStack()
}

// NewErrorWithDetails 创建带详情的错误
func NewErrorWithDetails(code, message, details string) *AppError {
	err := &AppError{
		Code:    code,
		Message: message,
		Details: details,
	}
	return err.WithStack()
}

// WrapError 包装现有错误，详情取自原始错误
func WrapError(code, message string, cause error) *AppError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}

	err := &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
	return err.WithStack()
}

// WrapErrorWithDetails 包装现有错误并添加详情
func WrapErrorWithDetails(code, message string, cause error, details string) *AppError {
	err := &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
	return err.WithStack()
}

// NewBackendError 创建携带后端状态码与原始消息的错误
func NewBackendError(code string, status int, message, backendMessage string) *AppError {
	err := &AppError{
		Code:    code,
		Message: message,
		Details: backendMessage,
		Status:  status,
	}
	return err.WithStack()
}

// NewConnectivityError 创建连接错误
func NewConnectivityError(message string, cause error) *AppError {
	return WrapError(ErrCodeConnectivity, message, cause)
}

// NewConfigError 创建配置错误
func NewConfigError(message string) *AppError {
	return NewError(ErrCodeConfigInvalid, message)
}

// NewConfigErrorWithDetails 创建带详情的配置错误
func NewConfigErrorWithDetails(message, details string) *AppError {
	return NewErrorWithDetails(ErrCodeConfigInvalid, message, details)
}

// NewToolError 创建工具错误
func NewToolError(message string) *AppError {
	return NewError(ErrCodeToolExecutionFailed, message)
}

// WrapToolError 包装工具错误
func WrapToolError(message string, cause error) *AppError {
	return WrapError(ErrCodeToolExecutionFailed, message, cause)
}

// NewMCPError 创建MCP错误
func NewMCPError(message string) *AppError {
	return NewError(ErrCodeMCPConnectionFailed, message)
}

// WrapMCPError 包装MCP错误
func WrapMCPError(message string, cause error) *AppError {
	return WrapError(ErrCodeMCPConnectionFailed, message, cause)
}
