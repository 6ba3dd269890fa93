package msock

import (
	"context"
	"sync"
)

// pipeBuffer is the number of in-flight messages each pipe direction
// holds before Send blocks on the receiver.
const pipeBuffer = 16

// Pipe returns a connected pair of in-process message sockets. Messages
// sent on one end are received on the other, whole and in order. Both
// ends honor context deadlines and cancellation. Each direction buffers
// up to pipeBuffer messages; beyond that Send blocks until the peer
// receives.
func Pipe() (Socket, Socket) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	var once sync.Once
	closeFn := func() { once.Do(func() { close(done) }) }
	a := &pipeSocket{out: ab, in: ba, done: done, close: closeFn}
	b := &pipeSocket{out: ba, in: ab, done: done, close: closeFn}
	return a, b
}

type pipeSocket struct {
	out   chan<- []byte
	in    <-chan []byte
	done  chan struct{}
	close func()
}

func (p *pipeSocket) Send(ctx context.Context, segs ...[]byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	msg := make([]byte, TotalLen(segs))
	Gather(msg, segs)
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeSocket) Recv(ctx context.Context, segs ...[]byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}
	select {
	case msg := <-p.in:
		if err := Scatter(segs, msg); err != nil {
			return 0, err
		}
		return len(msg), nil
	case <-p.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close closes both ends of the pipe.
func (p *pipeSocket) Close() error {
	p.close()
	return nil
}
