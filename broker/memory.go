package broker

import (
	"context"
	"sync"
	"sync/atomic"
)

// memOffset is a monotonic per-partition counter used by Memory.
type memOffset struct {
	partition int32
	position  int64
}

func (o memOffset) Partition() int32 { return o.partition }
func (o memOffset) Position() int64  { return o.position }

func (o memOffset) Compare(other Offset) int {
	switch {
	case o.position < other.Position():
		return -1
	case o.position > other.Position():
		return 1
	default:
		return 0
	}
}

// Memory is an in-process, channel-backed Source and Sink. It is used by the
// consumer package's own test suite to run a pipeline without a real broker
// dependency.
type Memory struct {
	partition int32
	queue     chan Message
	counter   int64

	mu     sync.Mutex
	paused map[int32]bool

	committed int64

	out chan Message // Sink writes land here, readable via Written()
}

// NewMemory creates a Memory broker with the given inbound queue capacity.
func NewMemory(capacity int) *Memory {
	return &Memory{
		queue:  make(chan Message, capacity),
		paused: make(map[int32]bool),
		out:    make(chan Message, capacity),
	}
}

// Publish enqueues a payload as a new message with the next offset. It is
// the producer-side counterpart to Fetch, used by tests to seed a Memory
// broker.
func (m *Memory) Publish(payload []byte) {
	pos := atomic.AddInt64(&m.counter, 1) - 1
	m.queue <- Message{
		Offset:  memOffset{partition: m.partition, position: pos},
		Payload: payload,
	}
}

// Fetch implements Source
func (m *Memory) Fetch(ctx context.Context) (Message, error) {
	m.mu.Lock()
	paused := m.paused[m.partition]
	m.mu.Unlock()
	if paused {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		default:
			return Message{}, ErrNoMessage
		}
	}
	select {
	case msg, ok := <-m.queue:
		if !ok {
			return Message{}, ErrNoMessage
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Commit implements Source. Memory has no external durability, so Commit
// just records the position of the offset it is given, for test assertions.
func (m *Memory) Commit(ctx context.Context, o Offset) error {
	atomic.StoreInt64(&m.committed, o.Position())
	return nil
}

// Committed reports the last committed offset position, for tests.
func (m *Memory) Committed() int64 {
	return atomic.LoadInt64(&m.committed)
}

// Pause implements Source
func (m *Memory) Pause(partitions ...int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range partitions {
		m.paused[p] = true
	}
}

// Resume implements Source
func (m *Memory) Resume(partitions ...int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range partitions {
		delete(m.paused, p)
	}
}

// Close implements Source and Sink
func (m *Memory) Close() error {
	return nil
}

// Write implements Sink, depositing the payload onto an internal channel
// readable via Written() by tests asserting on pipeline output.
func (m *Memory) Write(ctx context.Context, topic string, payload []byte) error {
	select {
	case m.out <- Message{Payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written returns the channel of payloads handed to Write, for test
// assertions on pipeline egress.
func (m *Memory) Written() <-chan Message {
	return m.out
}
