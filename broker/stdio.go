package broker

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
)

// lineOffset tracks position as a line count, stdio streams being
// unpartitioned and unseekable.
type lineOffset int64

func (o lineOffset) Partition() int32 { return 0 }
func (o lineOffset) Position() int64  { return int64(o) }

func (o lineOffset) Compare(other Offset) int {
	switch {
	case int64(o) < other.Position():
		return -1
	case int64(o) > other.Position():
		return 1
	default:
		return 0
	}
}

// Stdio is a line-delimited Source/Sink pair, the simplest transport a
// pipeline can run against: newline-terminated JSON in on Reader, matches
// out on Writer.
type Stdio struct {
	scanner *bufio.Scanner
	closer  io.Closer
	out     io.Writer

	position int64
	paused   int32
}

// NewStdioSource opens path as a Source, transparently gzip-decompressing
// files with a ".gz" suffix. An empty path reads from os.Stdin.
func NewStdioSource(path string) (*Stdio, error) {
	var (
		r      io.Reader
		closer io.Closer
	)
	if path == "" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		closer = f
		if strings.HasSuffix(path, ".gz") {
			gz, err := gzip.NewReader(f)
			if err != nil {
				f.Close()
				return nil, err
			}
			r = gz
		} else {
			r = f
		}
	}
	return &Stdio{
		scanner: bufio.NewScanner(r),
		closer:  closer,
	}, nil
}

// NewStdioSink wraps w (typically os.Stdout) as a Sink. topic is ignored;
// stdio has no routing concept.
func NewStdioSink(w io.Writer) *Stdio {
	return &Stdio{out: w}
}

// Fetch implements Source
func (s *Stdio) Fetch(ctx context.Context) (Message, error) {
	if atomic.LoadInt32(&s.paused) != 0 {
		return Message{}, ErrNoMessage
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Message{}, err
		}
		return Message{}, io.EOF
	}
	line := s.scanner.Bytes()
	cpy := make([]byte, len(line))
	copy(cpy, line)
	s.position++
	return Message{Offset: lineOffset(s.position), Payload: cpy}, nil
}

// Commit implements Source. Stdio has nothing durable to commit to.
func (s *Stdio) Commit(ctx context.Context, o Offset) error { return nil }

// Pause implements Source
func (s *Stdio) Pause(partitions ...int32) { atomic.StoreInt32(&s.paused, 1) }

// Resume implements Source
func (s *Stdio) Resume(partitions ...int32) { atomic.StoreInt32(&s.paused, 0) }

// Write implements Sink, appending a newline after each payload
func (s *Stdio) Write(ctx context.Context, topic string, payload []byte) error {
	if _, err := s.out.Write(payload); err != nil {
		return err
	}
	_, err := fmt.Fprintln(s.out)
	return err
}

// Close implements Source and Sink
func (s *Stdio) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
