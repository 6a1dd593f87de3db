package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryPublisher 将事件缓存在内存中，主要用于测试与单机运行。
type MemoryPublisher struct {
	mu     sync.Mutex
	buffer []Event
	subs   []chan Event
	closed bool
}

// NewMemoryPublisher 创建一个内存事件通道。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 记录事件并通知订阅者。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("事件通道已关闭")
	}
	p.buffer = append(p.buffer, event)
	for _, sub := range p.subs {
		select {
		case sub <- event:
		default:
			// 订阅者处理不过来时丢弃，发布方不阻塞。
		}
	}
	return nil
}

// Subscribe 返回一个接收后续事件的通道。
func (p *MemoryPublisher) Subscribe(size int) <-chan Event {
	if size <= 0 {
		size = 64
	}
	ch := make(chan Event, size)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Events 返回已发布事件的副本。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.buffer))
	copy(out, p.buffer)
	return out
}

// Close 关闭通道并释放订阅者。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, sub := range p.subs {
		close(sub)
	}
	p.subs = nil
	return nil
}
