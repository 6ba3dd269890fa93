// Package quic exposes QUIC datagrams as a message socket. Datagrams are
// discrete messages already, so no extra framing is needed; delivery is
// unreliable and unordered, which makes this transport a natural base for
// the fec adapter.
package quic

import (
	"context"
	"net"

	q "github.com/quic-go/quic-go"

	"github.com/baocang/libdill/dill/msock"
)

type Listener struct {
	inner *q.Listener
}

func Listen(addr string) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, &q.Config{EnableDatagrams: true})
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (*Socket, error) {
	conn, err := l.inner.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn}, nil
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

func Dial(ctx context.Context, addr string) (*Socket, error) {
	tlsConf, err := NewClientTLSConfig()
	if err != nil {
		return nil, err
	}
	conn, err := q.DialAddr(ctx, addr, tlsConf, &q.Config{EnableDatagrams: true})
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn}, nil
}

// Socket carries one message per QUIC datagram.
type Socket struct {
	conn q.Connection
}

// Conn returns the wrapped QUIC connection.
func (s *Socket) Conn() q.Connection { return s.conn }

// Send transmits the concatenation of segs as a single datagram. The
// peer's datagram size limit applies; quic-go reports violations as a
// DatagramTooLargeError.
func (s *Socket) Send(ctx context.Context, segs ...[]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := make([]byte, msock.TotalLen(segs))
	msock.Gather(msg, segs)
	return s.conn.SendDatagram(msg)
}

// Recv receives one datagram and scatters it across segs. A datagram
// larger than the combined segment capacity fails with
// msock.ErrMessageTooLarge and is dropped, matching datagram semantics.
func (s *Socket) Recv(ctx context.Context, segs ...[]byte) (int, error) {
	msg, err := s.conn.ReceiveDatagram(ctx)
	if err != nil {
		return 0, err
	}
	if err := msock.Scatter(segs, msg); err != nil {
		return 0, err
	}
	return len(msg), nil
}

func (s *Socket) Close() error {
	return s.conn.CloseWithError(0, "")
}
