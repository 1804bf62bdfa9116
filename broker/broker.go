// Package broker defines the seam between the detection core and whatever
// durable message transport feeds it. The core only ever talks to Source and
// Sink; concrete transports (in-process channels, stdio, NATS JetStream)
// live in this package as adapters.
package broker

import (
	"context"
	"errors"
)

// ErrNoMessage is returned by Fetch when no message is currently available
// and the caller should retry rather than treat the call as failed.
var ErrNoMessage = errors.New("broker: no message available")

// Offset identifies a message's position within a partitioned stream. It is
// opaque to the consumer beyond ordering and partition identity.
type Offset interface {
	Partition() int32
	Position() int64
	// Compare returns <0, 0, >0 if the receiver sorts before, at, or after o
	// within the same partition.
	Compare(o Offset) int
}

// Message is a single unit of work pulled from a Source.
type Message struct {
	Offset  Offset
	Payload []byte
}

// Source is a pull-based, offset-tracked message stream. Partitions may be
// paused and resumed independently to implement backpressure or rebalance
// handling.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, o Offset) error
	Pause(partitions ...int32)
	Resume(partitions ...int32)
	Close() error
}

// Sink accepts outbound payloads, such as match results or dead-lettered
// events, keyed by a destination topic/subject.
type Sink interface {
	Write(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Rebalancer is an optional Source extension: transports whose partition
// assignment can change at runtime (e.g. a consumer group) signal revocation
// over Revoked so the pipeline can drain and commit before releasing.
type Rebalancer interface {
	Revoked() <-chan []int32
}
