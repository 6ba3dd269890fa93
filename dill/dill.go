package dill

import (
	"context"
	"net"

	"github.com/baocang/libdill/dill/msock"
	"github.com/baocang/libdill/dill/nacl"
	"github.com/baocang/libdill/dill/transport/frame"
)

// Listener accepts encrypted message sockets over TCP. All accepted
// sockets share the listener's pre-shared key.
type Listener struct {
	ln  net.Listener
	key []byte
}

// ListenTCP listens on addr for connections secured with the 32-byte
// pre-shared key.
func ListenTCP(addr string, key []byte) (*Listener, error) {
	if len(key) != nacl.KeySize {
		return nil, nacl.ErrKeySize
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, key: append([]byte(nil), key...)}, nil
}

// Addr returns the listener's address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection and returns it as an encrypted
// message socket.
func (l *Listener) Accept() (msock.Socket, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	s, err := nacl.Attach(frame.New(conn, frame.Config{}), l.key)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the listener. Accepted sockets stay open.
func (l *Listener) Close() error { return l.ln.Close() }

// DialTCP connects to addr and returns an encrypted message socket
// secured with the 32-byte pre-shared key.
func DialTCP(ctx context.Context, addr string, key []byte) (msock.Socket, error) {
	if len(key) != nacl.KeySize {
		return nil, nacl.ErrKeySize
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	s, err := nacl.Attach(frame.New(conn, frame.Config{}), key)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}
