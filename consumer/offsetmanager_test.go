package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/markuskont/sigmastream/broker"
)

func TestOffsetManagerContiguousPrefix(t *testing.T) {
	mem := broker.NewMemory(16)
	om := NewOffsetManager(mem, time.Hour, 1000, nil)

	// complete offsets out of order: 0, 2, 1 -- only after 1 arrives does
	// the cursor advance past 2.
	om.Complete(testOffset{0, 0})
	om.Complete(testOffset{0, 2})
	om.Flush(context.Background())
	if got := mem.Committed(); got != 0 {
		t.Fatalf("expected committed position 0 before the gap at 1 is filled, got %d", got)
	}
	om.Complete(testOffset{0, 1})
	om.Flush(context.Background())
	if got := mem.Committed(); got != 2 {
		t.Fatalf("expected committed position 2 after contiguous run, got %d", got)
	}
}

func TestOffsetManagerDuplicateCompletionIgnored(t *testing.T) {
	mem := broker.NewMemory(16)
	om := NewOffsetManager(mem, time.Hour, 1000, nil)

	om.Complete(testOffset{0, 0})
	om.Complete(testOffset{0, 1})
	om.Flush(context.Background())
	if got := mem.Committed(); got != 1 {
		t.Fatalf("expected committed position 1, got %d", got)
	}

	// replaying an already-advanced offset must not panic or regress.
	om.Complete(testOffset{0, 0})
	om.Flush(context.Background())
	if got := mem.Committed(); got != 1 {
		t.Fatalf("expected committed position to remain 1, got %d", got)
	}
}

func TestOffsetManagerThresholdSignal(t *testing.T) {
	mem := broker.NewMemory(16)
	om := NewOffsetManager(mem, time.Hour, 2, nil)

	if om.Complete(testOffset{0, 0}) {
		t.Fatal("did not expect threshold to be crossed after one completion")
	}
	if !om.Complete(testOffset{0, 1}) {
		t.Fatal("expected threshold to be crossed after two completions")
	}
}

func TestOffsetManagerRunFlushesOnCancel(t *testing.T) {
	mem := broker.NewMemory(16)
	om := NewOffsetManager(mem, time.Hour, 1000, nil)
	om.Complete(testOffset{0, 0})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		om.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if got := mem.Committed(); got != 0 {
		t.Fatalf("expected final flush to commit position 0, got %d", got)
	}
}

type testOffset struct {
	partition int32
	position  int64
}

func (o testOffset) Partition() int32 { return o.partition }
func (o testOffset) Position() int64  { return o.position }
func (o testOffset) Compare(other broker.Offset) int {
	switch {
	case o.position < other.Position():
		return -1
	case o.position > other.Position():
		return 1
	default:
		return 0
	}
}
