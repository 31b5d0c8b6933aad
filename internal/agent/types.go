package agent

import (
	"github.com/Ardavaa/jarvis-agent/internal/llm"
	"github.com/Ardavaa/jarvis-agent/internal/memory/shortterm"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
)

// DefaultUserID 是未指定用户时使用的标识。
const DefaultUserID = "default_user"

// ExhaustedResponse 是迭代次数耗尽时返回给用户的固定回复。
const ExhaustedResponse = "I apologize, but I couldn't complete the task within the allowed iterations. " +
	"Please try rephrasing your request or breaking it into smaller tasks."

// Reason 描述一次运行的结束方式。
type Reason string

const (
	// ReasonCompleted 表示规划器直接给出了回复。
	ReasonCompleted Reason = "completed"
	// ReasonFinished 表示观察器在执行工具后决定结束。
	ReasonFinished Reason = "finished"
	// ReasonExhausted 表示达到了迭代上限。
	ReasonExhausted Reason = "exhausted"
	// ReasonError 表示运行因内部错误中止。
	ReasonError Reason = "error"
)

// Request 是一次运行的输入。
type Request struct {
	ConversationID string     `json:"conversation_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	Message        string     `json:"message"`
	History        []llm.Turn `json:"history,omitempty"`
	// UseSemanticMemory 为 nil 时视为 true。
	UseSemanticMemory *bool `json:"use_semantic_memory,omitempty"`
}

func (r Request) semanticEnabled() bool {
	return r.UseSemanticMemory == nil || *r.UseSemanticMemory
}

// SemanticStats 汇总语义记忆状态。
type SemanticStats struct {
	TotalMemories int `json:"total_memories"`
}

// MemoryStats 是返回给调用方的记忆统计。
type MemoryStats struct {
	ShortTerm shortterm.Summary `json:"short_term"`
	Semantic  *SemanticStats    `json:"semantic,omitempty"`
}

// Response 是一次运行的结果。出错时只填充 Response、ConversationID、Iterations 与 Error。
type Response struct {
	Response       string       `json:"response"`
	ConversationID string       `json:"conversation_id"`
	Iterations     int          `json:"iterations"`
	Plan           string       `json:"plan,omitempty"`
	ToolCalls      []tools.Call `json:"tool_calls,omitempty"`
	Observations   []string     `json:"observations,omitempty"`
	MemoryStats    *MemoryStats `json:"memory_stats,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// State 是单次运行独占的状态，运行结束后丢弃。
type State struct {
	ConversationID string
	UserID         string
	Message        string

	Iteration     int
	MaxIterations int
	Plan          string
	ToolCalls     []tools.Call
	Observations  []string
	FinalResponse string
	Reason        Reason

	// DurableID 是长期记忆中的会话主键，0 表示尚未创建。
	DurableID       int64
	SemanticContext string
}

func (s *State) finish(reason Reason, response string) {
	s.Reason = reason
	s.FinalResponse = response
}

func (s *State) toolNames() []string {
	names := make([]string, len(s.ToolCalls))
	for i, call := range s.ToolCalls {
		names[i] = string(call.Name)
	}
	return names
}
