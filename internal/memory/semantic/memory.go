package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// NoRelevantContext 是检索不到内容时 RetrieveContext 返回的固定文本。
const NoRelevantContext = "No relevant context found."

const defaultLimit = 5

// Memory 组合向量化与向量存储。
type Memory struct {
	embedder llm.Embedder
	store    Store
	logger   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Memory)

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// New 创建语义记忆。
func New(embedder llm.Embedder, store Store, opts ...Option) *Memory {
	m := &Memory{embedder: embedder, store: store, logger: logger.Named("memory.semantic")}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Add 向量化 text 并写入存储，返回记录 ID；id 为空时生成 UUID。
func (m *Memory) Add(ctx context.Context, text string, metadata map[string]string, id string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "文本不能为空")
	}
	if id == "" {
		id = uuid.NewString()
	}
	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return "", wrapOracle(err, "生成向量失败")
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["text_length"] = strconv.Itoa(len(text))

	if err := m.store.Add(ctx, Record{ID: id, Text: text, Metadata: meta, Embedding: embedding}); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入向量记录失败")
	}
	return id, nil
}

// Search 返回与 query 最相近的记录，按距离升序。
func (m *Memory) Search(ctx context.Context, query string, limit int, filter map[string]string) ([]Match, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, wrapOracle(err, "生成查询向量失败")
	}
	matches, err := m.store.Query(ctx, embedding, limit, filter)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "向量检索失败")
	}
	return matches, nil
}

// RetrieveContext 把检索结果渲染为可直接拼入提示词的文本。
func (m *Memory) RetrieveContext(ctx context.Context, query string, limit int, filter map[string]string) (string, error) {
	matches, err := m.Search(ctx, query, limit, filter)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return NoRelevantContext, nil
	}
	blocks := make([]string, len(matches))
	for i, match := range matches {
		blocks[i] = fmt.Sprintf("[Context %d]\n%s", i+1, match.Text)
	}
	return strings.Join(blocks, "\n\n"), nil
}

// Delete 按 ID 删除。
func (m *Memory) Delete(ctx context.Context, ids ...string) error {
	if err := m.store.Delete(ctx, ids...); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除向量记录失败")
	}
	return nil
}

// DeleteWhere 删除元数据匹配 filter 的记录。
func (m *Memory) DeleteWhere(ctx context.Context, filter map[string]string) error {
	if len(filter) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "删除条件不能为空")
	}
	if err := m.store.DeleteWhere(ctx, filter); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "按条件删除向量记录失败")
	}
	return nil
}

// Count 返回记录数。
func (m *Memory) Count(ctx context.Context) (int, error) {
	n, err := m.store.Count(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计向量记录失败")
	}
	return n, nil
}

// Clear 清空全部记录。
func (m *Memory) Clear(ctx context.Context) error {
	if err := m.store.Reset(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空向量库失败")
	}
	m.logger.Info("语义记忆已清空")
	return nil
}

// IngestConversation 为每条消息写入一条记录，返回生成的 ID。
// 遇到错误立即返回，已写入的 ID 仍随错误一并返回。
func (m *Memory) IngestConversation(ctx context.Context, conversationID, userID string, turns []llm.Turn) ([]string, error) {
	ids := make([]string, 0, len(turns))
	for i, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		id, err := m.Add(ctx, turn.Role+": "+turn.Content, map[string]string{
			"conversation_id": conversationID,
			"message_index":   strconv.Itoa(i),
			"role":            turn.Role,
			"user_id":         userID,
		}, "")
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func wrapOracle(err error, message string) error {
	if _, typed := xerrors.From(err); typed {
		return err
	}
	return xerrors.Wrap(xerrors.CodeOracleFailure, err, message)
}
