package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue 进程内实现，语义与 RedisQueue 相同，用于单机部署与测试
type MemoryQueue struct {
	mu         sync.Mutex
	pending    []string
	processing []string
	notify     chan struct{}
	closed     bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, payload)
	q.signal()
	return nil
}

func (q *MemoryQueue) pop() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, true
	}
	if len(q.pending) == 0 {
		return nil, false
	}
	payload := q.pending[0]
	q.pending = q.pending[1:]
	q.processing = append(q.processing, payload)
	if len(q.pending) > 0 {
		q.signal()
	}
	return &Message{Payload: payload}, false
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		msg, closed := q.pop()
		if closed {
			return nil, ErrClosed
		}
		if msg != nil {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.processing {
		if p == msg.Payload {
			q.processing = append(q.processing[:i], q.processing[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.processing)
	q.pending = append(q.pending, q.processing...)
	q.processing = nil
	if n > 0 {
		q.signal()
	}
	return n, nil
}

// Len 待处理与处理中的消息数
func (q *MemoryQueue) Len() (pending, processing int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.processing)
}

// Close 关闭队列，阻塞中的 Dequeue 在下一次唤醒时返回 ErrClosed
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
