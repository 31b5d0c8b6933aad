package semantic

import "context"

// Record 是一条待写入的向量记录。
type Record struct {
	ID        string
	Text      string
	Metadata  map[string]string
	Embedding []float32
}

// Match 是一条检索结果，Distance 越小越相似。
type Match struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// Store 定义向量存储接口。
type Store interface {
	Add(ctx context.Context, record Record) error
	// Query 返回与 embedding 最接近的至多 limit 条记录，按距离升序。
	Query(ctx context.Context, embedding []float32, limit int, where map[string]string) ([]Match, error)
	Delete(ctx context.Context, ids ...string) error
	DeleteWhere(ctx context.Context, where map[string]string) error
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}
