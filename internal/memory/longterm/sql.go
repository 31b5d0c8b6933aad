package longterm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

const (
	defaultConversationLimit = 10
	defaultInteractionLimit  = 50
)

// SQLStore 是基于 database/sql 的长期记忆实现。
type SQLStore struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
	now     func() time.Time
}

// Option 定义 SQLStore 的可选配置。
type Option func(*SQLStore)

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// Open 建立连接并执行迁移。
func Open(ctx context.Context, cfg Config, opts ...Option) (*SQLStore, error) {
	if strings.TrimSpace(cfg.Driver) == "" {
		cfg.Driver = DriverSQLite
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化长期记忆失败")
	}
	store := &SQLStore{
		db:      db,
		dialect: strings.ToLower(strings.TrimSpace(cfg.Driver)),
		logger:  logger.Named("memory.longterm"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if err := runMigrations(ctx, db, store.dialect); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "执行数据库迁移失败")
	}
	store.logger.Info("长期记忆已就绪", slog.String("driver", store.dialect))
	return store, nil
}

// Close 关闭连接池。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withConn 获取一个独立连接执行 fn，并保证在所有路径上归还。
func (s *SQLStore) withConn(ctx context.Context, op string, fn func(*sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("%s: 获取数据库连接失败", op))
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		if _, typed := xerrors.From(err); typed {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, op)
	}
	return nil
}

// CreateConversation 为用户新建会话并返回其 ID。
func (s *SQLStore) CreateConversation(ctx context.Context, userID string) (int64, error) {
	var id int64
	err := s.withConn(ctx, "创建会话失败", func(conn *sql.Conn) error {
		now := s.now().UnixMilli()
		res, err := conn.ExecContext(ctx,
			`INSERT INTO conversations (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
			userID, now, now)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetConversation 读取会话；不存在时返回 NOT_FOUND。
func (s *SQLStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv *Conversation
	err := s.withConn(ctx, "读取会话失败", func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ?`, id)
		c, err := scanConversation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("会话 %d 不存在", id))
		}
		if err != nil {
			return err
		}
		conv = &c
		return nil
	})
	return conv, err
}

// UserConversations 按最近更新时间倒序列出用户的会话。
func (s *SQLStore) UserConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	out := []Conversation{}
	err := s.withConn(ctx, "查询用户会话失败", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, user_id, created_at, updated_at FROM conversations
             WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ?`, userID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanConversation(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// SaveMessage 写入一条消息，并在同一事务内刷新会话的 updated_at。
func (s *SQLStore) SaveMessage(ctx context.Context, conversationID int64, role, content string, metadata map[string]any) (int64, error) {
	meta, err := encodeJSON(metadata)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "消息元数据无法序列化")
	}
	var id int64
	err = s.withConn(ctx, "保存消息失败", func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := s.now().UnixMilli()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
			conversationID, role, content, meta, now)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
			return err
		}
		return tx.Commit()
	})
	return id, err
}

// ConversationMessages 返回会话中最近的 limit 条消息，按时间正序；limit <= 0 返回全部。
func (s *SQLStore) ConversationMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	out := []Message{}
	err := s.withConn(ctx, "查询会话消息失败", func(conn *sql.Conn) error {
		query := `SELECT id, conversation_id, role, content, metadata, created_at FROM messages
             WHERE conversation_id = ? ORDER BY created_at DESC, id DESC`
		args := []any{conversationID}
		if limit > 0 {
			query += ` LIMIT ?`
			args = append(args, limit)
		}
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m       Message
				meta    sql.NullString
				created int64
			)
			if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &meta, &created); err != nil {
				return err
			}
			if m.Metadata, err = decodeJSON(meta); err != nil {
				return err
			}
			m.CreatedAt = time.UnixMilli(created)
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SavePreferences 以 upsert 方式写入用户偏好。
func (s *SQLStore) SavePreferences(ctx context.Context, userID string, prefs map[string]any) error {
	payload, err := encodeJSON(prefs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "用户偏好无法序列化")
	}
	if !payload.Valid {
		payload = sql.NullString{String: "{}", Valid: true}
	}

	var stmt string
	switch s.dialect {
	case DriverMySQL:
		stmt = `INSERT INTO user_preferences (user_id, preferences, created_at, updated_at) VALUES (?, ?, ?, ?)
             ON DUPLICATE KEY UPDATE preferences = VALUES(preferences), updated_at = VALUES(updated_at)`
	default:
		stmt = `INSERT INTO user_preferences (user_id, preferences, created_at, updated_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(user_id) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`
	}
	return s.withConn(ctx, "保存用户偏好失败", func(conn *sql.Conn) error {
		now := s.now().UnixMilli()
		_, err := conn.ExecContext(ctx, stmt, userID, payload.String, now, now)
		return err
	})
}

// Preferences 返回用户偏好；未设置时返回空映射。
func (s *SQLStore) Preferences(ctx context.Context, userID string) (map[string]any, error) {
	prefs := map[string]any{}
	err := s.withConn(ctx, "读取用户偏好失败", func(conn *sql.Conn) error {
		var raw sql.NullString
		err := conn.QueryRowContext(ctx,
			`SELECT preferences FROM user_preferences WHERE user_id = ?`, userID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		decoded, err := decodeJSON(raw)
		if err != nil {
			return err
		}
		if decoded != nil {
			prefs = decoded
		}
		return nil
	})
	return prefs, err
}

// SaveTask 写入任务记录。
func (s *SQLStore) SaveTask(ctx context.Context, record TaskRecord) (int64, error) {
	tools, err := json.Marshal(nonNilStrings(record.ToolsUsed))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "工具列表无法序列化")
	}
	result, err := encodeJSON(record.Result)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "任务结果无法序列化")
	}
	var id int64
	err = s.withConn(ctx, "保存任务记录失败", func(conn *sql.Conn) error {
		created := record.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		res, err := conn.ExecContext(ctx,
			`INSERT INTO task_history (conversation_id, task_description, tools_used, status, result, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			record.ConversationID, record.Description, string(tools), record.Status, result, created.UnixMilli())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// TaskHistory 按时间倒序返回任务记录。
func (s *SQLStore) TaskHistory(ctx context.Context, conversationID int64, limit int) ([]TaskRecord, error) {
	query := `SELECT id, conversation_id, task_description, tools_used, status, result, created_at FROM task_history`
	var args []any
	if conversationID != 0 {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	out := []TaskRecord{}
	err := s.withConn(ctx, "查询任务记录失败", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				rec     TaskRecord
				tools   sql.NullString
				result  sql.NullString
				created int64
			)
			if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.Description, &tools, &rec.Status, &result, &created); err != nil {
				return err
			}
			rec.ToolsUsed = []string{}
			if tools.Valid && tools.String != "" {
				if err := json.Unmarshal([]byte(tools.String), &rec.ToolsUsed); err != nil {
					return fmt.Errorf("解析工具列表失败: %w", err)
				}
			}
			if rec.Result, err = decodeJSON(result); err != nil {
				return err
			}
			rec.CreatedAt = time.UnixMilli(created)
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// LogInteraction 写入一条交互日志。
func (s *SQLStore) LogInteraction(ctx context.Context, userID, interactionType string, metadata map[string]any) (int64, error) {
	meta, err := encodeJSON(metadata)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "交互元数据无法序列化")
	}
	var id int64
	err = s.withConn(ctx, "记录交互日志失败", func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`INSERT INTO interaction_logs (user_id, interaction_type, metadata, created_at) VALUES (?, ?, ?, ?)`,
			userID, interactionType, meta, s.now().UnixMilli())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// InteractionLogs 按时间倒序返回用户的交互日志；interactionType 为空时不过滤类型。
func (s *SQLStore) InteractionLogs(ctx context.Context, userID, interactionType string, limit int) ([]InteractionLog, error) {
	if limit <= 0 {
		limit = defaultInteractionLimit
	}
	query := `SELECT id, user_id, interaction_type, metadata, created_at FROM interaction_logs WHERE user_id = ?`
	args := []any{userID}
	if interactionType != "" {
		query += ` AND interaction_type = ?`
		args = append(args, interactionType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	out := []InteractionLog{}
	err := s.withConn(ctx, "查询交互日志失败", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				entry   InteractionLog
				meta    sql.NullString
				created int64
			)
			if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Type, &meta, &created); err != nil {
				return err
			}
			if entry.Metadata, err = decodeJSON(meta); err != nil {
				return err
			}
			entry.CreatedAt = time.UnixMilli(created)
			out = append(out, entry)
		}
		return rows.Err()
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		c                Conversation
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &created, &updated); err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}

func encodeJSON(value map[string]any) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("解析 JSON 字段失败: %w", err)
	}
	return out, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

var _ Store = (*SQLStore)(nil)
