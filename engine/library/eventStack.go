package library

import (
	"context"

	"github.com/sasha-s/go-deadlock"
)

// NewStack returns a new stack (FIFO) with the given initial size.
func NewStack[T any](size int) *Stack[T] {
	if size < 1 {
		size = 1
	}
	return &Stack[T]{
		nodes: make([]T, size),
		size:  size,
	}
}

// Stack is a FIFO stack that resizes as needed.
type Stack[T any] struct {
	nodes []T
	size  int
	head  int
	tail  int
	count int
}

// Push adds a value to the stack.
func (q *Stack[T]) Push(n T) {
	if q.head == q.tail && q.count > 0 {
		nodes := make([]T, len(q.nodes)+q.size)
		copy(nodes, q.nodes[q.head:])
		copy(nodes[len(q.nodes)-q.head:], q.nodes[:q.head])
		q.head = 0
		q.tail = len(q.nodes)
		q.nodes = nodes
	}
	q.nodes[q.tail] = n
	q.tail = (q.tail + 1) % len(q.nodes)
	q.count++
}

// Pop removes and returns a value from the stack in first to last order.
func (q *Stack[T]) Pop() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	node := q.nodes[q.head]
	q.nodes[q.head] = zero
	q.head = (q.head + 1) % len(q.nodes)
	q.count--
	return node, true
}

func (q *Stack[T]) Len() int {
	return q.count
}

// Mailbox delivers pushed values on C in FIFO order. Push never blocks, so a
// slow reader cannot stall the writer. C is closed once ctx is done.
type Mailbox[T any] struct {
	C      <-chan T
	out    chan T
	mu     deadlock.Mutex
	stack  *Stack[T]
	signal chan struct{}
}

func NewMailbox[T any](ctx context.Context) *Mailbox[T] {
	out := make(chan T)
	m := &Mailbox[T]{
		C:      out,
		out:    out,
		stack:  NewStack[T](8),
		signal: make(chan struct{}, 1),
	}
	go m.run(ctx)
	return m
}

func (m *Mailbox[T]) Push(v T) {
	m.mu.Lock()
	m.stack.Push(v)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Mailbox[T]) run(ctx context.Context) {
	defer close(m.out)
	for {
		m.mu.Lock()
		v, ok := m.stack.Pop()
		m.mu.Unlock()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-m.signal:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case m.out <- v:
		}
	}
}
