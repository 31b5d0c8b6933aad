package task

import (
	"context"
	"sync"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
)

const defaultMemoryBuffer = 256

// MemoryQueue 是进程内的任务 ID 队列，适合单机部署与测试。进程退出时未消费的任务会丢失，
// 任务状态本身保存在 Store 中。
type MemoryQueue struct {
	pending chan string

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建缓冲区为 buffer 的内存队列。
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryQueue{pending: make(chan string, buffer)}
}

// Len 返回尚未被消费的任务数。
func (q *MemoryQueue) Len() int {
	return len(q.pending)
}

// Publish 投递任务 ID；缓冲区满时阻塞直到有空位或 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "内存队列已关闭")
	}
	select {
	case q.pending <- taskID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 启动 workers 个协程处理任务，阻塞到 ctx 结束。
// 处理失败的任务由 Processor 决定是否重新投递，队列本身不做重试。
func (q *MemoryQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			q.drain(ctx, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) drain(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID, ok := <-q.pending:
			if !ok {
				<-ctx.Done()
				return
			}
			_ = handler(ctx, taskID)
		}
	}
}

// Close 拒绝后续投递。已在缓冲区中的任务仍会被消费。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	return nil
}
