package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(ErrCodeInvalidParam, "测试错误")

	if err.Code != ErrCodeInvalidParam {
		t.Errorf("期望错误代码为 '%s'，实际为 '%s'", ErrCodeInvalidParam, err.Code)
	}
	if err.Message != "测试错误" {
		t.Errorf("期望错误消息为 '测试错误'，实际为 '%s'", err.Message)
	}
	if err.Stack == "" {
		t.Error("期望错误包含堆栈信息")
	}
}

func TestWrapError(t *testing.T) {
	originalErr := stderrors.New("原始错误")
	wrappedErr := WrapError(ErrCodeNetworkFailed, "网络请求失败", originalErr)

	if wrappedErr.Code != ErrCodeNetworkFailed {
		t.Errorf("期望错误代码为 '%s'，实际为 '%s'", ErrCodeNetworkFailed, wrappedErr.Code)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("期望Unwrap()返回原始错误")
	}
	if wrappedErr.Details != "原始错误" {
		t.Errorf("期望详情取自原始错误，实际为 '%s'", wrappedErr.Details)
	}
}

func TestIsErrorCodeThroughWrapping(t *testing.T) {
	appErr := NewError(ErrCodeProviderNotFound, "未注册")
	wrapped := fmt.Errorf("外层: %w", appErr)

	if !IsErrorCode(wrapped, ErrCodeProviderNotFound) {
		t.Error("期望IsErrorCode能穿透fmt包装")
	}
	if IsErrorCode(stderrors.New("普通错误"), ErrCodeProviderNotFound) {
		t.Error("期望IsErrorCode对普通错误返回false")
	}
	if GetErrorCode(stderrors.New("x")) != ErrCodeInternalErr {
		t.Error("期望普通错误的代码为内部错误")
	}
}

func TestBackendErrorCarriesStatus(t *testing.T) {
	err := NewBackendError(ErrCodeRateLimited, 429, "请求频率限制", "rate_limit_error: slow down")

	if err.Status != 429 {
		t.Errorf("期望状态码为 429，实际为 %d", err.Status)
	}
	want := "[RATE_LIMITED] 请求频率限制 (HTTP 429): rate_limit_error: slow down"
	if err.Error() != want {
		t.Errorf("期望错误文本为 %q，实际为 %q", want, err.Error())
	}
}

func TestTaxonomy(t *testing.T) {
	testCases := []struct {
		err          error
		connectivity bool
		backend      bool
	}{
		{NewConnectivityError("不可达", nil), true, false},
		{NewError(ErrCodeAuthRejected, "凭证被拒绝"), true, false},
		{NewBackendError(ErrCodeBackend, 500, "后端错误", "boom"), false, true},
		{NewError(ErrCodeServiceUnavailable, "过载"), false, true},
		{NewError(ErrCodeToolExecutionFailed, "工具失败"), false, false},
		{stderrors.New("普通错误"), false, false},
	}

	for _, tc := range testCases {
		if got := IsConnectivityError(tc.err); got != tc.connectivity {
			t.Errorf("%v: 期望连接错误判定为 %v，实际为 %v", tc.err, tc.connectivity, got)
		}
		if got := IsBackendError(tc.err); got != tc.backend {
			t.Errorf("%v: 期望后端错误判定为 %v，实际为 %v", tc.err, tc.backend, got)
		}
	}
}

func TestGetUserFriendlyMessage(t *testing.T) {
	testCases := []struct {
		err      error
		expected string
	}{
		{NewError(ErrCodeConfigNotFound, "配置文件未找到"), "配置文件未找到，请检查配置文件路径"},
		{NewError(ErrCodeAPIKeyMissing, "API密钥缺失"), "API密钥未配置，请在配置文件或环境变量中设置"},
		{NewError(ErrCodeTurnInProgress, "忙"), "上一轮对话尚未结束，请稍候"},
		{NewError("CUSTOM", "自定义消息"), "自定义消息"},
		{stderrors.New("普通错误"), "发生未知错误"},
		{nil, ""},
	}

	for _, tc := range testCases {
		result := GetUserFriendlyMessage(tc.err)
		if result != tc.expected {
			t.Errorf("期望友好消息为 '%s'，实际为 '%s'", tc.expected, result)
		}
	}
}
