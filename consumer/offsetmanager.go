package consumer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/markuskont/sigmastream/broker"
)

// offsetHeap is a min-heap of pending-commit offsets for one partition,
// ordered by position so the contiguous prefix can be popped off as
// completions arrive out of order.
type offsetHeap []broker.Offset

func (h offsetHeap) Len() int            { return len(h) }
func (h offsetHeap) Less(i, j int) bool  { return h[i].Compare(h[j]) < 0 }
func (h offsetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *offsetHeap) Push(x interface{}) { *h = append(*h, x.(broker.Offset)) }
func (h *offsetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// partitionState tracks a single partition's commit cursor: the next
// position expected to complete the contiguous prefix, and a min-heap of
// completions that arrived ahead of it.
type partitionState struct {
	next    int64
	pending offsetHeap
}

// OffsetManager advances a commit cursor through only the contiguous prefix
// of completed offsets per partition, flushing to the Source on a timer or
// after a message-count threshold, whichever comes first. Workers may
// complete messages out of order; a straggler's offset is never folded into
// the contiguous prefix, so it is never committed, which is what makes
// shutdown safe to hard-cancel.
type OffsetManager struct {
	mu         sync.Mutex
	partitions map[int32]*partitionState

	source         broker.Source
	flushInterval  time.Duration
	flushThreshold int
	sinceFlush     int

	log func(error)
}

// NewOffsetManager builds a manager that commits to source every interval or
// every threshold completions, whichever comes first.
func NewOffsetManager(source broker.Source, interval time.Duration, threshold int, errFn func(error)) *OffsetManager {
	if threshold <= 0 {
		threshold = 1000
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OffsetManager{
		partitions:     make(map[int32]*partitionState),
		source:         source,
		flushInterval:  interval,
		flushThreshold: threshold,
		log:            errFn,
	}
}

// Complete records o as finished. It does not immediately commit; Run's
// ticker or the count threshold trigger the actual Source.Commit call.
// Returns true once the count threshold has been crossed since the last
// flush, so the caller may flush eagerly instead of waiting on the ticker.
func (m *OffsetManager) Complete(o broker.Offset) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.partitionState(o.Partition())
	if o.Position() < p.next {
		return false // already advanced past this offset, a duplicate completion
	}
	heap.Push(&p.pending, o)
	for p.pending.Len() > 0 && p.pending[0].Position() == p.next {
		heap.Pop(&p.pending)
		p.next++
	}
	m.sinceFlush++
	return m.sinceFlush >= m.flushThreshold
}

func (m *OffsetManager) partitionState(partition int32) *partitionState {
	p, ok := m.partitions[partition]
	if !ok {
		p = &partitionState{}
		m.partitions[partition] = p
	}
	return p
}

// Flush commits the current contiguous cursor for every partition whose
// cursor is past position 0, whether or not it advanced since the last
// flush.
func (m *OffsetManager) Flush(ctx context.Context) {
	m.mu.Lock()
	type commitOp struct {
		partition int32
		position  int64
	}
	ops := make([]commitOp, 0, len(m.partitions))
	for partition, p := range m.partitions {
		if p.next > 0 {
			ops = append(ops, commitOp{partition: partition, position: p.next - 1})
		}
	}
	m.sinceFlush = 0
	m.mu.Unlock()

	for _, op := range ops {
		if err := m.source.Commit(ctx, committedOffset{partition: op.partition, position: op.position}); err != nil && m.log != nil {
			m.log(err)
		}
	}
}

// Run drives periodic flushing until ctx is cancelled. Callers that want the
// count threshold honored between ticks should also flush whenever
// Complete returns true.
func (m *OffsetManager) Run(ctx context.Context) {
	tick := time.NewTicker(m.flushInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Flush(context.Background())
			return
		case <-tick.C:
			m.Flush(ctx)
		}
	}
}

// committedOffset is a minimal broker.Offset used only to describe the
// cursor position passed to Source.Commit.
type committedOffset struct {
	partition int32
	position  int64
}

func (o committedOffset) Partition() int32 { return o.partition }
func (o committedOffset) Position() int64  { return o.position }
func (o committedOffset) Compare(other broker.Offset) int {
	switch {
	case o.position < other.Position():
		return -1
	case o.position > other.Position():
		return 1
	default:
		return 0
	}
}
