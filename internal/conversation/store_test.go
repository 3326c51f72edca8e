package conversation

import (
	"fmt"
	"strings"
	"testing"

	"design-ai/internal/llm"
)

func userMsg(text string) llm.Message {
	return llm.NewTextMessage(llm.RoleUser, text)
}

func TestAppendAndLastMessages(t *testing.T) {
	s := NewStore(Limits{MaxHistory: 50})
	for i := 1; i <= 3; i++ {
		s.Append(userMsg(fmt.Sprintf("消息 %d", i)))
	}

	got := s.LastMessages(10)
	if len(got) != 3 {
		t.Fatalf("期望 3 条消息，实际 %d", len(got))
	}
	for i, m := range got {
		if want := fmt.Sprintf("消息 %d", i+1); m.Content != want {
			t.Errorf("第 %d 条期望 %q，实际 %q", i, want, m.Content)
		}
	}

	last := s.LastMessages(2)
	if len(last) != 2 || last[0].Content != "消息 2" || last[1].Content != "消息 3" {
		t.Errorf("最近两条消息错误: %+v", last)
	}
	if s.LastMessages(0) != nil {
		t.Error("n 为 0 时应返回空")
	}
}

func TestAppendEstimatesTokens(t *testing.T) {
	s := NewStore(Limits{})
	msg := llm.Message{Role: llm.RoleUser, Parts: []llm.ContentPart{
		{Type: llm.PartText, Text: "看看这张图"},
		{Type: llm.PartImage, Image: &llm.ImageData{MediaType: "image/png", Data: "AAAA"}},
	}}
	entry := s.Append(msg)

	if !entry.HasAttachment {
		t.Error("带图片的消息应标记附件")
	}
	if entry.EstimatedTokens != llm.EstimateMessageTokens(msg) {
		t.Errorf("估算不一致: %d", entry.EstimatedTokens)
	}
	if entry.EstimatedTokens < llm.ImageTokenSurcharge {
		t.Errorf("图片应计入附加 token，实际 %d", entry.EstimatedTokens)
	}
	if s.TotalTokens() != entry.EstimatedTokens {
		t.Errorf("总 token 错误: %d", s.TotalTokens())
	}
	if entry.Timestamp.IsZero() {
		t.Error("应记录时间戳")
	}
}

func TestEvictByCount(t *testing.T) {
	s := NewStore(Limits{MaxHistory: 3})
	for i := 1; i <= 5; i++ {
		s.Append(userMsg(fmt.Sprintf("m%d", i)))
	}

	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("期望保留 3 条，实际 %d", len(entries))
	}
	if entries[0].Message.Content != "m3" {
		t.Errorf("应淘汰最旧的消息，首条为 %s", entries[0].Message.Content)
	}

	sum := 0
	for _, e := range entries {
		sum += e.EstimatedTokens
	}
	if sum != s.TotalTokens() {
		t.Errorf("总 token 应等于剩余条目之和: %d != %d", s.TotalTokens(), sum)
	}
}

func TestEvictByTokensKeepsFloor(t *testing.T) {
	big := strings.Repeat("word ", 200)
	s := NewStore(Limits{MaxTokens: 10})
	s.Append(userMsg(big))
	s.Append(userMsg(big))
	s.Append(userMsg(big))

	if s.Len() != 2 {
		t.Errorf("超出 token 上限时至少保留 2 条，实际 %d", s.Len())
	}
	if s.TotalTokens() <= 10 {
		t.Errorf("保留的条目仍超出上限，总数应大于 10，实际 %d", s.TotalTokens())
	}
}

func TestEvictByTokens(t *testing.T) {
	s := NewStore(Limits{MaxTokens: 30})
	for i := 0; i < 10; i++ {
		s.Append(userMsg("one two three four five six seven eight"))
	}
	if s.TotalTokens() > 30 {
		t.Errorf("总 token 应不超过上限，实际 %d", s.TotalTokens())
	}
	if s.Len() < 2 {
		t.Errorf("至少保留 2 条，实际 %d", s.Len())
	}
}

func TestUnlimited(t *testing.T) {
	s := NewStore(Limits{})
	for i := 0; i < 100; i++ {
		s.Append(userMsg("hello"))
	}
	if s.Len() != 100 {
		t.Errorf("未设上限时不应淘汰，实际 %d", s.Len())
	}
}

func TestClear(t *testing.T) {
	s := NewStore(Limits{})
	s.Append(userMsg("hello"))
	s.Clear()
	if s.Len() != 0 || s.TotalTokens() != 0 {
		t.Errorf("清空后应为空: len=%d tokens=%d", s.Len(), s.TotalTokens())
	}
}
