// Package queue 提供至少一次投递的任务队列：消息在 Ack 之前一直保留在处理中列表里，
// 进程崩溃后可通过 Recover 重新投递，消费者必须是幂等的。
package queue

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("queue closed")

// Message 出队的一条消息
type Message struct {
	Payload string
}

type Queue interface {
	Enqueue(ctx context.Context, payload string) error
	// Dequeue 阻塞至多 timeout；超时返回 (nil, nil)
	Dequeue(ctx context.Context, timeout time.Duration) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
	// Recover 把处理中但未确认的消息放回队列，返回数量
	Recover(ctx context.Context) (int, error)
}
