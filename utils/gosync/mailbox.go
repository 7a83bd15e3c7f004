package gosync

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Mailbox 无界的先进先出信箱
// Put 永远不会阻塞，消息按照放入顺序从 C() 中取出。
// 用于事件分发：读协程不能因为某个订阅者处理慢而被阻塞。
type Mailbox[T any] struct {
	mu        sync.Mutex
	queue     *linkedlistqueue.Queue
	notify    chan struct{}
	out       chan T
	closed    chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once
}

func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		queue:   linkedlistqueue.New(),
		notify:  make(chan struct{}, 1),
		out:     make(chan T),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	Go(context.Background(), m.pump)
	return m
}

// Put 放入一条消息，信箱关闭后放入的消息会被丢弃
func (m *Mailbox[T]) Put(value T) {
	select {
	case <-m.closed:
		return
	case <-m.stopped:
		return
	default:
	}
	m.mu.Lock()
	m.queue.Enqueue(value)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// C 读取消息的通道，信箱关闭以后该通道会被关闭
func (m *Mailbox[T]) C() <-chan T {
	return m.out
}

// Len 当前还未被取走的消息数量
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Size()
}

// Close 不再接收新消息，已经放入的消息取完以后关闭 C()，可以重复调用
func (m *Mailbox[T]) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
}

// Stop 立即关闭 C()，丢弃还未取走的消息，可以重复调用
func (m *Mailbox[T]) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopped)
	})
}

func (m *Mailbox[T]) pump(ctx context.Context) {
	defer close(m.out)
	for {
		m.mu.Lock()
		value, ok := m.queue.Dequeue()
		m.mu.Unlock()
		if !ok {
			select {
			case <-m.notify:
			case <-m.closed:
				if m.Len() == 0 {
					return
				}
			case <-m.stopped:
				return
			}
			continue
		}
		select {
		case m.out <- value.(T):
		case <-m.stopped:
			return
		}
	}
}
