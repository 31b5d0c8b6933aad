package semantic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

var errEmbeddingRequired = errors.New("chromem 集合只接受预先计算好的向量")

// ChromemStore 基于 chromem-go 的向量存储。
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	name       string
	collection *chromem.Collection
}

// NewChromemStore 创建存储；path 为空时只使用内存。
func NewChromemStore(path, collection string) (*ChromemStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("集合名称不能为空")
	}
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("打开向量库 %s 失败: %w", path, err)
		}
	}
	store := &ChromemStore{db: db, name: collection}
	if err := store.open(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ChromemStore) open() error {
	c, err := s.db.GetOrCreateCollection(s.name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("创建集合 %s 失败: %w", s.name, err)
	}
	s.collection = c
	return nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errEmbeddingRequired
}

func (s *ChromemStore) current() *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection
}

// Add 写入记录。
func (s *ChromemStore) Add(ctx context.Context, record Record) error {
	if len(record.Embedding) == 0 {
		return errEmbeddingRequired
	}
	return s.current().AddDocument(ctx, chromem.Document{
		ID:        record.ID,
		Metadata:  record.Metadata,
		Embedding: record.Embedding,
		Content:   record.Text,
	})
}

// Query 执行近邻查询，距离为 1 减去余弦相似度。
func (s *ChromemStore) Query(ctx context.Context, embedding []float32, limit int, where map[string]string) ([]Match, error) {
	c := s.current()
	total := c.Count()
	if total == 0 || limit <= 0 {
		return []Match{}, nil
	}
	if limit > total {
		limit = total
	}
	results, err := c.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("向量查询失败: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: r.Metadata,
			Distance: 1 - float64(r.Similarity),
		})
	}
	return matches, nil
}

// Delete 按 ID 删除记录。
func (s *ChromemStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.current().Delete(ctx, nil, nil, ids...)
}

// DeleteWhere 删除元数据匹配的记录。
func (s *ChromemStore) DeleteWhere(ctx context.Context, where map[string]string) error {
	if len(where) == 0 {
		return fmt.Errorf("删除条件不能为空")
	}
	return s.current().Delete(ctx, where, nil)
}

// Count 返回记录总数。
func (s *ChromemStore) Count(context.Context) (int, error) {
	return s.current().Count(), nil
}

// Reset 清空并重建集合。
func (s *ChromemStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("删除集合 %s 失败: %w", s.name, err)
	}
	return s.open()
}

var _ Store = (*ChromemStore)(nil)
