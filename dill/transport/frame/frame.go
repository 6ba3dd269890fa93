// Package frame turns a byte-stream connection into a message socket by
// prefixing every message with a 4-byte big-endian length.
package frame

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/baocang/libdill/dill/msock"
)

// DefaultMaxSize limits a single message when no explicit limit is set.
const DefaultMaxSize = 1 << 20 // 1 MiB

// Config configures a frame socket.
type Config struct {
	// MaxSize is the largest message accepted in either direction.
	// Zero means DefaultMaxSize.
	MaxSize int
}

// Socket adapts a net.Conn into a msock.Socket. Writes and reads each
// serialize behind their own mutex, so one Send and one Recv may run
// concurrently.
type Socket struct {
	conn    net.Conn
	maxSize int

	wmu sync.Mutex

	rmu sync.Mutex
	hdr [4]byte
}

// New wraps conn in a frame socket. The socket takes ownership of conn.
func New(conn net.Conn, cfg Config) *Socket {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Socket{conn: conn, maxSize: maxSize}
}

// Conn returns the wrapped connection.
func (s *Socket) Conn() net.Conn { return s.conn }

func deadlineFrom(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Time{}
}

// Send writes the concatenation of segs as one length-prefixed frame.
// The context deadline maps onto the connection's write deadline.
func (s *Socket) Send(ctx context.Context, segs ...[]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := msock.TotalLen(segs)
	if n > s.maxSize {
		return msock.ErrMessageTooLarge
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.conn.SetWriteDeadline(deadlineFrom(ctx)); err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(n))
	bufs := make(net.Buffers, 0, len(segs)+1)
	bufs = append(bufs, hdr[:])
	for _, seg := range segs {
		if len(seg) > 0 {
			bufs = append(bufs, seg)
		}
	}
	_, err := bufs.WriteTo(s.conn)
	return err
}

// Recv reads one length-prefixed frame, scattering its payload across
// segs, and returns the payload length. A frame exceeding the combined
// segment capacity or the configured maximum is drained from the stream
// and fails with msock.ErrMessageTooLarge, leaving the stream in sync
// and segs untouched.
func (s *Socket) Recv(ctx context.Context, segs ...[]byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	capacity := msock.TotalLen(segs)

	s.rmu.Lock()
	defer s.rmu.Unlock()

	if err := s.conn.SetReadDeadline(deadlineFrom(ctx)); err != nil {
		return 0, err
	}
	if _, err := io.ReadFull(s.conn, s.hdr[:]); err != nil {
		return 0, err
	}
	n := int(binary.BigEndian.Uint32(s.hdr[:]))
	if n > capacity || n > s.maxSize {
		if _, err := io.CopyN(io.Discard, s.conn, int64(n)); err != nil {
			return 0, err
		}
		return 0, msock.ErrMessageTooLarge
	}

	remaining := n
	for _, seg := range segs {
		if remaining == 0 {
			break
		}
		if len(seg) > remaining {
			seg = seg[:remaining]
		}
		if _, err := io.ReadFull(s.conn, seg); err != nil {
			return 0, err
		}
		remaining -= len(seg)
	}
	return n, nil
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}
