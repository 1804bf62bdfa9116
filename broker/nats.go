package broker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// seqOffset wraps a JetStream stream sequence number.
type seqOffset struct {
	partition int32
	seq       uint64
}

func (o seqOffset) Partition() int32 { return o.partition }
func (o seqOffset) Position() int64  { return int64(o.seq) }

func (o seqOffset) Compare(other Offset) int {
	switch {
	case int64(o.seq) < other.Position():
		return -1
	case int64(o.seq) > other.Position():
		return 1
	default:
		return 0
	}
}

// NatsSource pulls messages from a JetStream durable consumer. A single
// NatsSource services one partition, modelled here as one pull subscription;
// callers running against a partitioned stream run one NatsSource per
// partition.
type NatsSource struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	sub  *nats.Subscription

	partition int32
	pending   *nats.Msg // message awaiting Commit-driven Ack
	revoked   chan []int32
}

// NatsConfig configures both NatsSource and NatsSink.
type NatsConfig struct {
	URL      string
	Stream   string
	Subject  string
	Durable  string
	FetchMax int // not read: Fetch always requests a single message
}

// NewNatsSource connects to URL and opens a pull-based durable consumer
// bound to cfg.Stream/cfg.Durable.
func NewNatsSource(cfg NatsConfig) (*NatsSource, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, nats.BindStream(cfg.Stream))
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &NatsSource{
		conn:    nc,
		js:      js,
		sub:     sub,
		revoked: make(chan []int32),
	}, nil
}

// Fetch implements Source
func (s *NatsSource) Fetch(ctx context.Context) (Message, error) {
	msgs, err := s.sub.Fetch(1, nats.Context(ctx))
	if err != nil {
		if err == nats.ErrTimeout {
			return Message{}, ErrNoMessage
		}
		return Message{}, err
	}
	if len(msgs) == 0 {
		return Message{}, ErrNoMessage
	}
	msg := msgs[0]
	meta, err := msg.Metadata()
	if err != nil {
		return Message{}, fmt.Errorf("broker: reading jetstream metadata: %w", err)
	}
	s.pending = msg
	return Message{
		Offset:  seqOffset{partition: s.partition, seq: meta.Sequence.Stream},
		Payload: msg.Data,
	}, nil
}

// Commit implements Source, acking the JetStream message up to o's
// sequence. JetStream acks are per-message, so Commit acks the message that
// produced o; the pipeline only calls Commit on the contiguous prefix, so
// acks remain monotonic from JetStream's perspective.
func (s *NatsSource) Commit(ctx context.Context, o Offset) error {
	if s.pending == nil {
		return nil
	}
	return s.pending.Ack(nats.Context(ctx))
}

// Pause implements Source. JetStream pull consumers have no server-side
// pause primitive; Pause/Resume are enforced by the pipeline simply not
// calling Fetch, so this is a no-op kept to satisfy the interface.
func (s *NatsSource) Pause(partitions ...int32) {}

// Resume implements Source
func (s *NatsSource) Resume(partitions ...int32) {}

// Revoked implements broker.Rebalancer
func (s *NatsSource) Revoked() <-chan []int32 { return s.revoked }

// Close implements Source
func (s *NatsSource) Close() error {
	if err := s.sub.Unsubscribe(); err != nil {
		s.conn.Close()
		return err
	}
	s.conn.Close()
	return nil
}

// NatsSink publishes to a JetStream subject.
type NatsSink struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewNatsSink connects to URL and returns a JetStream-backed Sink.
func NewNatsSink(cfg NatsConfig) (*NatsSink, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &NatsSink{conn: nc, js: js}, nil
}

// Write implements Sink
func (s *NatsSink) Write(ctx context.Context, topic string, payload []byte) error {
	_, err := s.js.Publish(topic, payload, nats.Context(ctx))
	return err
}

// Close implements Sink
func (s *NatsSink) Close() error {
	s.conn.Close()
	return nil
}
