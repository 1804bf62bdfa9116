package broker

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFetchInOrder(t *testing.T) {
	m := NewMemory(4)
	m.Publish([]byte("one"))
	m.Publish([]byte("two"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := m.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(first.Payload) != "one" || first.Offset.Position() != 0 {
		t.Fatalf("unexpected first message: %+v", first)
	}

	second, err := m.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(second.Payload) != "two" || second.Offset.Position() != 1 {
		t.Fatalf("unexpected second message: %+v", second)
	}
}

func TestMemoryFetchBlocksUntilPublish(t *testing.T) {
	m := NewMemory(4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Publish([]byte("late"))
	}()

	msg, err := m.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Payload) != "late" {
		t.Fatalf("unexpected payload: %s", msg.Payload)
	}
}

func TestMemoryFetchRespectsPause(t *testing.T) {
	m := NewMemory(4)
	m.Publish([]byte("queued"))
	m.Pause(0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := m.Fetch(ctx); err != ErrNoMessage {
		t.Fatalf("expected ErrNoMessage while paused, got %v", err)
	}

	m.Resume(0)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	msg, err := m.Fetch(ctx2)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Payload) != "queued" {
		t.Fatalf("unexpected payload after resume: %s", msg.Payload)
	}
}

func TestMemoryCommitTracksPosition(t *testing.T) {
	m := NewMemory(4)
	if err := m.Commit(context.Background(), memOffset{partition: 0, position: 5}); err != nil {
		t.Fatal(err)
	}
	if got := m.Committed(); got != 5 {
		t.Fatalf("expected committed position 5, got %d", got)
	}
}

func TestMemoryWriteAndWritten(t *testing.T) {
	m := NewMemory(4)
	if err := m.Write(context.Background(), "topic", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-m.Written():
		if string(msg.Payload) != "hello" {
			t.Fatalf("unexpected written payload: %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for written message")
	}
}
