// Package shortterm keeps a bounded, in-process window of recent messages per
// conversation. Nothing here is persisted.
package shortterm

import (
	"sort"
	"sync"
	"time"

	"github.com/Ardavaa/jarvis-agent/internal/llm"
)

// DefaultCapacity 是每个会话默认保留的消息条数。
const DefaultCapacity = 20

// Record 是窗口中的一条消息。
type Record struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Summary 汇总一个会话窗口内的消息分布。
type Summary struct {
	MessageCount      int            `json:"message_count"`
	UserMessages      int            `json:"user_messages"`
	AssistantMessages int            `json:"assistant_messages"`
	SystemMessages    int            `json:"system_messages"`
	Roles             map[string]int `json:"roles"`
}

type conversation struct {
	mu      sync.Mutex
	records []Record
}

// Window 按会话维护固定容量的 FIFO 消息窗口，可并发使用。
type Window struct {
	mu            sync.RWMutex
	capacity      int
	conversations map[string]*conversation
	now           func() time.Time
}

// New 创建窗口；capacity <= 0 时使用 DefaultCapacity。
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity:      capacity,
		conversations: make(map[string]*conversation),
		now:           time.Now,
	}
}

// Capacity 返回每个会话的容量。
func (w *Window) Capacity() int {
	return w.capacity
}

func (w *Window) lookup(id string) *conversation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conversations[id]
}

func (w *Window) getOrCreate(id string) *conversation {
	if c := w.lookup(id); c != nil {
		return c
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.conversations[id]
	if !ok {
		c = &conversation{}
		w.conversations[id] = c
	}
	return c
}

// Append 追加一条消息，超过容量时淘汰最早的消息。
func (w *Window) Append(conversationID, role, content string, metadata map[string]any) {
	c := w.getOrCreate(conversationID)
	record := Record{Role: role, Content: content, Metadata: cloneMap(metadata), Timestamp: w.now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	if overflow := len(c.records) - w.capacity; overflow > 0 {
		kept := make([]Record, w.capacity)
		copy(kept, c.records[overflow:])
		c.records = kept
	}
}

// Recent 返回最近的 limit 条消息，limit <= 0 时返回整个窗口。
func (w *Window) Recent(conversationID string, limit int) []Record {
	c := w.lookup(conversationID)
	if c == nil {
		return []Record{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	records := c.records
	if limit > 0 && limit < len(records) {
		records = records[len(records)-limit:]
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// Turns 返回仅包含角色与内容的消息，用于拼接模型上下文。
func (w *Window) Turns(conversationID string, limit int) []llm.Turn {
	records := w.Recent(conversationID, limit)
	turns := make([]llm.Turn, len(records))
	for i, r := range records {
		turns[i] = llm.Turn{Role: r.Role, Content: r.Content}
	}
	return turns
}

// Last 返回最后一条消息；role 非空时只匹配该角色。
func (w *Window) Last(conversationID, role string) (Record, bool) {
	c := w.lookup(conversationID)
	if c == nil {
		return Record{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.records) - 1; i >= 0; i-- {
		if role == "" || c.records[i].Role == role {
			return c.records[i], true
		}
	}
	return Record{}, false
}

// Clear 清空会话窗口。
func (w *Window) Clear(conversationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.conversations, conversationID)
}

// Summary 统计会话窗口中各角色的消息数。
func (w *Window) Summary(conversationID string) Summary {
	summary := Summary{Roles: map[string]int{}}
	for _, r := range w.Recent(conversationID, 0) {
		summary.MessageCount++
		summary.Roles[r.Role]++
		switch r.Role {
		case llm.RoleUser:
			summary.UserMessages++
		case llm.RoleAssistant:
			summary.AssistantMessages++
		case llm.RoleSystem:
			summary.SystemMessages++
		}
	}
	return summary
}

// Conversations 返回当前持有窗口的会话 ID，按字典序排列。
func (w *Window) Conversations() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.conversations))
	for id := range w.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
