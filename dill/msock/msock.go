// Package msock defines the message-socket abstraction shared by all
// transports and adapters in this module.
//
// A message socket transfers whole discrete messages rather than a byte
// stream. Messages may be supplied and received as scatter-gather segment
// lists. All blocking operations take a context; its deadline is passed
// down to the transport and its cancellation aborts the call.
package msock

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed or detached socket.
	ErrClosed = errors.New("msock: socket closed")
	// ErrMessageTooLarge is returned when an incoming message does not fit
	// the caller's buffer, or an outgoing message exceeds a transport limit.
	// The caller's buffer is left untouched.
	ErrMessageTooLarge = errors.New("msock: message too large")
	// ErrNotSupported is returned when a socket does not provide the
	// requested capability, e.g. detaching an adapter from a socket of a
	// different concrete type.
	ErrNotSupported = errors.New("msock: operation not supported by socket")
)

// Socket is the message-socket capability.
//
// Send transmits the concatenation of segs as a single message. Recv
// receives a single message, scattering it across segs in order, and
// returns the message length; a message longer than the combined segment
// capacity fails with ErrMessageTooLarge and writes nothing.
//
// Implementations allow at most one Send and one Recv in flight
// concurrently; two concurrent Sends (or Recvs) serialize.
type Socket interface {
	Send(ctx context.Context, segs ...[]byte) error
	Recv(ctx context.Context, segs ...[]byte) (int, error)
	Close() error
}

// TotalLen returns the combined length of all segments.
func TotalLen(segs [][]byte) int {
	n := 0
	for _, s := range segs {
		n += len(s)
	}
	return n
}

// Gather concatenates segs into dst and returns the number of bytes
// written. dst must be at least TotalLen(segs) bytes long.
func Gather(dst []byte, segs [][]byte) int {
	pos := 0
	for _, s := range segs {
		pos += copy(dst[pos:], s)
	}
	return pos
}

// Scatter distributes src across segs in order. It returns
// ErrMessageTooLarge if src does not fit the combined segment capacity.
func Scatter(segs [][]byte, src []byte) error {
	if len(src) > TotalLen(segs) {
		return ErrMessageTooLarge
	}
	for _, s := range segs {
		if len(src) == 0 {
			break
		}
		n := copy(s, src)
		src = src[n:]
	}
	return nil
}
