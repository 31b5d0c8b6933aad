package longterm

import (
	"context"
	"time"
)

// 任务记录状态。
const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// InteractionChat 是一次对话交互的日志类型。
const InteractionChat = "chat"

// Conversation 是一条持久化的会话。
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message 是会话中的一条消息。
type Message struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TaskRecord 记录一次使用了工具的运行。
type TaskRecord struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	Description    string         `json:"task_description"`
	ToolsUsed      []string       `json:"tools_used"`
	Status         string         `json:"status"`
	Result         map[string]any `json:"result,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// InteractionLog 是一条交互日志。
type InteractionLog struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"interaction_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store 定义长期记忆的持久化接口。
type Store interface {
	CreateConversation(ctx context.Context, userID string) (int64, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	UserConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)

	SaveMessage(ctx context.Context, conversationID int64, role, content string, metadata map[string]any) (int64, error)
	ConversationMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error)

	SavePreferences(ctx context.Context, userID string, prefs map[string]any) error
	Preferences(ctx context.Context, userID string) (map[string]any, error)

	SaveTask(ctx context.Context, record TaskRecord) (int64, error)
	// TaskHistory 按时间倒序返回任务记录；conversationID 为 0 时不限会话。
	TaskHistory(ctx context.Context, conversationID int64, limit int) ([]TaskRecord, error)

	LogInteraction(ctx context.Context, userID, interactionType string, metadata map[string]any) (int64, error)
	InteractionLogs(ctx context.Context, userID, interactionType string, limit int) ([]InteractionLog, error)

	Close() error
}
