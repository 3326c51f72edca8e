package errors

// GetUserFriendlyMessage 获取用户友好的错误消息
func GetUserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	appErr, ok := AsAppError(err)
	if !ok {
		return "发生未知错误"
	}

	switch appErr.Code {
	case ErrCodeSystemError, ErrCodeInternalErr:
		return "系统错误，请联系技术支持"
	case ErrCodeInitializationFailed:
		return "应用程序初始化失败，请检查配置"
	case ErrCodeNotFound:
		return "请求的资源不存在"
	case ErrCodeInvalidParam:
		return "参数无效，请检查输入"

	case ErrCodeConfigNotFound:
		return "配置文件未找到，请检查配置文件路径"
	case ErrCodeConfigInvalid, ErrCodeConfigLoadFailed, ErrCodeConfigParseFailed:
		return "配置文件错误，请检查配置文件"

	case ErrCodeConnectivity, ErrCodeNetworkFailed:
		return "无法连接到模型服务，请检查网络或服务地址"
	case ErrCodeLocalNotReady:
		return "本地模型服务未启动，请先启动服务"
	case ErrCodeAuthRejected:
		return "凭证被拒绝，请检查API密钥"
	case ErrCodeAPIKeyMissing:
		return "API密钥未配置，请在配置文件或环境变量中设置"
	case ErrCodeTimeout:
		return "请求超时，请稍后重试"

	case ErrCodeRateLimited:
		return "请求频率过高，请稍后重试"
	case ErrCodeForbidden:
		return "访问被拒绝，请检查权限设置"
	case ErrCodeServiceUnavailable:
		return "服务暂时不可用，请稍后重试"
	case ErrCodeModelNotFound:
		return "模型不存在，请检查模型名称"
	case ErrCodeContextTooLong:
		return "对话内容超出模型上下文长度，请清空历史后重试"
	case ErrCodeBackend, ErrCodeInvalidResponse, ErrCodeStreamClosed:
		return "模型服务响应错误，请稍后重试"
	case ErrCodeContextCanceled:
		return "请求被取消"

	case ErrCodeProviderNotFound, ErrCodeProviderTypeUnknown, ErrCodeClientCreationFailed:
		return "模型提供方配置错误，请检查配置"
	case ErrCodeNoActiveProvider:
		return "没有可用的模型提供方，请先配置并激活"

	case ErrCodeToolNotFound:
		return "请求的工具不存在，请检查工具名称"
	case ErrCodeToolExecutionFailed:
		return "工具执行失败，请检查参数和输入"

	case ErrCodeTurnInProgress:
		return "上一轮对话尚未结束，请稍候"

	case ErrCodeMCPNotConfigured, ErrCodeMCPConnectionFailed:
		return "MCP服务器连接失败，请检查配置"
	case ErrCodeMCPToolListFailed, ErrCodeMCPToolCallFailed:
		return "MCP工具调用失败，请检查工具参数和服务器状态"

	default:
		return appErr.Message
	}
}
