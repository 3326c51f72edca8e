package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"design-ai/internal/pkg/errors"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *OllamaAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	o, err := NewOllamaAdapter(Options{
		Name:    "ollama",
		BaseURL: server.URL,
		Model:   "llava",
		Vision:  true,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("创建适配器失败: %v", err)
	}
	return o
}

func TestOllamaSend(t *testing.T) {
	var captured ollamaChatRequest
	var rawReq map[string]any
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("请求路径错误: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_ = json.Unmarshal(body, &rawReq)
		fmt.Fprint(w, `{
			"model": "llava",
			"message": {
				"role": "assistant",
				"content": "好的",
				"tool_calls": [{"function": {"name": "delete_node", "arguments": {"id": "n1"}}}]
			},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 30,
			"eval_count": 6
		}`)
	})

	messages := []Message{
		{Role: RoleAssistant, Content: "先看看", ToolCalls: []ToolCall{{ID: "c1", Name: "look_at", Arguments: map[string]any{"x": 1}}}},
		{Role: RoleUser, ToolResults: []ToolResult{{CallID: "c1", Content: "已移动"}}},
		{
			Role: RoleUser,
			Parts: []ContentPart{
				{Type: PartText, Text: "选中它"},
				{Type: PartImage, Image: &ImageData{MediaType: "image/jpeg", Data: "data:image/jpeg;base64,/9j/"}},
			},
		},
	}
	temp := 0.2
	resp, err := o.Send(context.Background(), messages, SendOptions{
		SystemPrompt: "sys",
		Temperature:  &temp,
		MaxTokens:    100,
		Tools:        []ToolDefinition{{Name: "delete_node"}},
	})
	if err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	if _, ok := rawReq["tools"]; ok {
		t.Errorf("请求不应携带 tools: %v", rawReq["tools"])
	}
	if len(captured.Messages) != 4 || captured.Messages[0].Role != "system" {
		t.Fatalf("系统提示词应作为首条消息: %+v", captured.Messages)
	}
	if got := captured.Messages[1].Content; got != "先看看\n[tool call look_at {\"x\":1}]" {
		t.Errorf("历史工具调用应折叠为文本: %q", got)
	}
	if got := captured.Messages[2].Content; got != "[tool result c1 (ok)] 已移动" {
		t.Errorf("历史工具结果应折叠为文本: %q", got)
	}
	if imgs := captured.Messages[3].Images; len(imgs) != 1 || imgs[0] != "/9j/" {
		t.Errorf("图片应为原始 base64: %v", imgs)
	}
	if captured.Stream {
		t.Error("非流式请求不应设置 stream")
	}
	if captured.Options["num_predict"] != float64(100) || captured.Options["temperature"] != 0.2 {
		t.Errorf("选项错误: %v", captured.Options)
	}

	if o.Capabilities().FunctionCalling {
		t.Error("Ollama 不应声明支持工具调用")
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("服务端返回的工具调用应被忽略: %+v", resp.ToolCalls)
	}
	if resp.Content != "好的" || resp.StopReason != StopEndTurn {
		t.Errorf("响应错误: %+v", resp)
	}
	if resp.Usage.InputTokens != 30 || resp.Usage.OutputTokens != 6 {
		t.Errorf("用量错误: %+v", resp.Usage)
	}
}

// recvAll 读出流中的全部片段
func recvAll(t *testing.T, s Stream) []StreamChunk {
	t.Helper()
	defer s.Close()
	var chunks []StreamChunk
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return chunks
		}
		if err != nil {
			t.Fatalf("读取流失败: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

// assertNoToolChunks 本地适配器的流中不应出现工具调用片段
func assertNoToolChunks(t *testing.T, chunks []StreamChunk) {
	t.Helper()
	for _, c := range chunks {
		switch c.Type {
		case ChunkToolCallStart, ChunkToolCallDelta, ChunkToolCallEnd:
			t.Errorf("不应产生工具调用片段: %+v", c)
		}
	}
}

func TestOllamaStream(t *testing.T) {
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"你"},"done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `garbage line`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"好"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"look_at","arguments":{"x":1,"y":2}}}]},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":3}`)
	})

	s, err := o.Stream(context.Background(), []Message{NewTextMessage(RoleUser, "hi")}, SendOptions{
		Tools: []ToolDefinition{{Name: "look_at"}},
	})
	if err != nil {
		t.Fatalf("打开流失败: %v", err)
	}
	chunks := recvAll(t, s)
	assertNoToolChunks(t, chunks)

	acc := NewAccumulator()
	for _, c := range chunks {
		acc.Add(c)
	}
	resp := acc.Response()
	if resp.Content != "你好" {
		t.Errorf("文本错误: %q", resp.Content)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("工具调用应始终为空: %+v", resp.ToolCalls)
	}
	if resp.StopReason != StopEndTurn {
		t.Errorf("结束原因错误: %q", resp.StopReason)
	}
	if resp.Usage.Total() != 7 {
		t.Errorf("用量错误: %+v", resp.Usage)
	}
}

func TestOllamaModelNotPulled(t *testing.T) {
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"llava\" not found, try pulling it first"}`)
	})
	_, err := o.Send(context.Background(), []Message{NewTextMessage(RoleUser, "hi")}, SendOptions{})
	if !errors.IsErrorCode(err, errors.ErrCodeModelNotFound) {
		t.Errorf("期望模型不存在错误，实际 %v", err)
	}
}

func TestOllamaConnect(t *testing.T) {
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("请求路径错误: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"llava:latest","model":"llava:latest"}]}`)
	})
	if err := o.Connect(context.Background()); err != nil {
		t.Errorf("连接失败: %v", err)
	}
}

func TestOllamaConnectUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	o, _ := NewOllamaAdapter(Options{Name: "ollama", BaseURL: url, Timeout: time.Second})
	err := o.Connect(context.Background())
	if err == nil {
		t.Fatal("服务不可达时应返回错误")
	}
	// 是否改写为 LocalNotReady 取决于本机是否运行 ollama 进程
	if !errors.IsConnectivityError(err) {
		t.Errorf("期望连接类错误，实际 %v", err)
	}
}
