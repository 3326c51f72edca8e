package conversation

import (
	"sync"
	"time"

	"design-ai/internal/llm"
	"design-ai/internal/util"
)

// 按 token 淘汰时至少保留的条目数
const minRetained = 2

// Entry 历史中的一条消息，追加后不再修改
type Entry struct {
	Message         llm.Message `json:"message"`
	HasAttachment   bool        `json:"has_attachment"`
	Timestamp       time.Time   `json:"timestamp"`
	EstimatedTokens int         `json:"estimated_tokens"`
}

// Limits 历史上限，0 表示不限
type Limits struct {
	MaxHistory int
	MaxTokens  int
}

// Store 有界的对话历史
type Store struct {
	mu      sync.RWMutex
	limits  Limits
	entries []Entry
	tokens  int
	now     func() time.Time
}

// NewStore 创建对话历史
func NewStore(limits Limits) *Store {
	return &Store{limits: limits, now: time.Now}
}

// Append 追加消息并执行淘汰
func (s *Store) Append(msg llm.Message) Entry {
	entry := Entry{
		Message:         msg,
		HasAttachment:   msg.HasAttachment(),
		Timestamp:       s.now(),
		EstimatedTokens: llm.EstimateMessageTokens(msg),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	s.tokens += entry.EstimatedTokens
	s.evict()
	return entry
}

func (s *Store) evict() {
	dropped := 0
	if s.limits.MaxHistory > 0 {
		for len(s.entries) > s.limits.MaxHistory {
			s.dropOldest()
			dropped++
		}
	}
	if s.limits.MaxTokens > 0 {
		for s.tokens > s.limits.MaxTokens && len(s.entries) > minRetained {
			s.dropOldest()
			dropped++
		}
	}
	if dropped > 0 {
		util.Debugw("对话历史已淘汰旧消息", map[string]any{
			"dropped":      dropped,
			"remaining":    len(s.entries),
			"total_tokens": s.tokens,
		})
	}
}

func (s *Store) dropOldest() {
	s.tokens -= s.entries[0].EstimatedTokens
	s.entries[0] = Entry{}
	s.entries = s.entries[1:]
}

// LastMessages 最近 n 条消息，保持原有顺序
func (s *Store) LastMessages(n int) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := max(len(s.entries)-n, 0)
	messages := make([]llm.Message, 0, len(s.entries)-start)
	for _, e := range s.entries[start:] {
		messages = append(messages, e.Message)
	}
	return messages
}

// Entries 全部条目的副本
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// Len 条目数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TotalTokens 当前估算的总 token 数
func (s *Store) TotalTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Clear 清空历史
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.tokens = 0
}
