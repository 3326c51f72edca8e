package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

const userAgent = "design-ai/1.0"

// HTTPDoer HTTP 客户端接口
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient 模型服务专用 HTTP 客户端。
// 非流式请求使用 timeout 限制整体耗时；流式请求只限制等待响应头的时间。
type HTTPClient struct {
	client  HTTPDoer
	timeout time.Duration
	baseURL string
	headers map[string]string
}

// NewHTTPClient 创建新的 HTTP 客户端
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &HTTPClient{
		client:  &http.Client{Transport: transport},
		timeout: timeout,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: make(map[string]string),
	}
}

// SetHeader 设置请求头
func (c *HTTPClient) SetHeader(key, value string) {
	c.headers[key] = value
}

// BaseURL 返回服务地址
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) url(endpoint string) string {
	if endpoint == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

// Do 发送请求，extra 中的请求头只作用于本次请求
func (c *HTTPClient) Do(ctx context.Context, method, endpoint string, payload any, extra map[string]string) (*http.Response, error) {
	url := c.url(endpoint)

	var (
		body     io.Reader
		jsonData []byte
	)
	if payload != nil {
		var err error
		jsonData, err = json.Marshal(payload)
		if err != nil {
			return nil, errors.WrapError(errors.ErrCodeInvalidParam, "failed to marshal request payload", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.WrapError(errors.ErrCodeInvalidParam, "failed to create HTTP request", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for key, value := range extra {
		req.Header.Set(key, value)
	}

	util.Debugw("发送 HTTP 请求", map[string]any{
		"method":       method,
		"url":          url,
		"headers":      redactHeaders(req.Header),
		"body_preview": previewBody(jsonData),
		"body_len":     len(jsonData),
	})

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	return resp, nil
}

// 脱敏请求头
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		joined := strings.Join(values, ", ")
		switch strings.ToLower(name) {
		case "authorization":
			if strings.HasPrefix(joined, "Bearer ") {
				out[name] = "Bearer ***"
			} else if joined != "" {
				out[name] = "[REDACTED]"
			}
		case "x-api-key", "cookie", "set-cookie":
			if joined != "" {
				out[name] = "[REDACTED]"
			}
		default:
			out[name] = joined
		}
	}
	return out
}

func previewBody(data []byte) string {
	const maxLogBody = 1024
	if len(data) > maxLogBody {
		return string(data[:maxLogBody]) + "...(truncated)"
	}
	return string(data)
}

// mapTransportError 传输层错误：取消、超时、主机不可达
func mapTransportError(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return errors.WrapError(errors.ErrCodeContextCanceled, "request context canceled", err)
	}
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.WrapError(errors.ErrCodeTimeout, "request timeout", err)
	}
	return errors.WrapError(errors.ErrCodeConnectivity, "HTTP request failed", err)
}

// PostJSON 发送 JSON POST 请求并解析响应
func (c *HTTPClient) PostJSON(ctx context.Context, endpoint string, payload, result any, extra map[string]string) error {
	return c.doJSON(ctx, http.MethodPost, endpoint, payload, result, extra)
}

// GetJSON 发送 GET 请求并解析 JSON 响应
func (c *HTTPClient) GetJSON(ctx context.Context, endpoint string, result any, extra map[string]string) error {
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, result, extra)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, payload, result any, extra map[string]string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.Do(ctx, method, endpoint, payload, extra)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := handleHTTPError(resp); err != nil {
		return err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errors.WrapError(errors.ErrCodeInvalidResponse, "failed to decode response", err)
		}
	}
	return nil
}

// OpenStream 发送流式请求，成功时返回响应体，由调用方负责关闭
func (c *HTTPClient) OpenStream(ctx context.Context, endpoint string, payload any, extra map[string]string) (io.ReadCloser, error) {
	resp, err := c.Do(ctx, http.MethodPost, endpoint, payload, extra)
	if err != nil {
		return nil, err
	}
	if err := handleHTTPError(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// handleHTTPError 将非 2xx 响应转为携带状态码与后端消息的错误
func handleHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return errors.WrapError(errors.ErrCodeBackend,
			fmt.Sprintf("HTTP %d: failed to read error response", resp.StatusCode), err).WithStatus(resp.StatusCode)
	}

	message := extractBackendMessage(body)
	fields := map[string]any{
		"status":  resp.Status,
		"message": message,
	}
	if resp.Request != nil {
		fields["url"] = resp.Request.URL.String()
	}
	util.Warnw("HTTP 错误响应", fields)

	code, title := errors.ErrCodeBackend, fmt.Sprintf("HTTP %d", resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		code, title = errors.ErrCodeAuthRejected, "Unauthorized"
	case http.StatusForbidden:
		code, title = errors.ErrCodeForbidden, "Forbidden"
	case http.StatusNotFound:
		code, title = errors.ErrCodeModelNotFound, "Not Found"
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code, title = errors.ErrCodeTimeout, "Timeout"
	case http.StatusTooManyRequests:
		code, title = errors.ErrCodeRateLimited, "Rate Limited"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, 529:
		code, title = errors.ErrCodeServiceUnavailable, "Server Error"
	}
	return errors.NewBackendError(code, resp.StatusCode, title, message)
}

// extractBackendMessage 从常见的错误体格式中取出后端消息
func extractBackendMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if len(envelope.Error) > 0 {
			var nested struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
				if nested.Type != "" {
					return nested.Type + ": " + nested.Message
				}
				return nested.Message
			}
			var text string
			if json.Unmarshal(envelope.Error, &text) == nil && text != "" {
				return text
			}
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512] + "..."
	}
	return text
}

// RetryableHTTPClient 支持重试的 HTTP 客户端，maxRetries 为 0 时只请求一次
type RetryableHTTPClient struct {
	*HTTPClient
	maxRetries int
	retryDelay time.Duration
}

// NewRetryableHTTPClient 创建支持重试的 HTTP 客户端
func NewRetryableHTTPClient(baseURL string, timeout time.Duration, maxRetries int, retryDelay time.Duration) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		HTTPClient: NewHTTPClient(baseURL, timeout),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// PostJSONWithRetry 带指数退避重试的 JSON POST 请求
func (c *RetryableHTTPClient) PostJSONWithRetry(ctx context.Context, endpoint string, payload, result any, extra map[string]string) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryDelay * time.Duration(1<<(attempt-1))
			util.Debugw("请求失败，正在重试...", map[string]any{
				"attempt":  attempt,
				"backoff":  backoff.String(),
				"last_err": lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return errors.WrapError(errors.ErrCodeContextCanceled, "request context canceled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		err := c.PostJSON(ctx, endpoint, payload, result, extra)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			break
		}
	}

	return lastErr
}

func shouldRetry(err error) bool {
	switch errors.GetErrorCode(err) {
	case errors.ErrCodeTimeout, errors.ErrCodeRateLimited, errors.ErrCodeServiceUnavailable:
		return true
	default:
		return false
	}
}
