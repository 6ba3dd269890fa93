// Package nacl provides an encrypted message-socket adapter.
//
// The adapter wraps any msock.Socket and layers per-message confidentiality
// and integrity on top of it using NaCl secretbox (XSalsa20-Poly1305) under
// a 32-byte key shared out of band. Every message is sealed with a fresh
// random 24-byte nonce and travels as:
//
//	nonce (24 bytes) || ciphertext+MAC (payload length + 16 bytes)
//
// The nonce is not secret; uniqueness per key is what the construction
// requires, and the random nonce space (192 bits) makes collisions
// negligible. The adapter implements msock.Socket itself, so callers use
// it exactly as they would the underlying socket.
package nacl

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/baocang/libdill/dill/msock"
)

const (
	// KeySize is the secretbox key size in bytes.
	KeySize = 32
	// NonceSize is the secretbox nonce size in bytes.
	NonceSize = 24
	// Overhead is the authentication tag size added to each message.
	Overhead = secretbox.Overhead
)

var (
	ErrKeySize  = errors.New("nacl: key must be exactly 32 bytes")
	ErrNoSocket = errors.New("nacl: nil underlying socket")
	// ErrAuth is returned when an incoming message fails authentication.
	// This covers corrupted, truncated and forged messages alike; no
	// plaintext is ever released on failure.
	ErrAuth = errors.New("nacl: message authentication failed")
)

// Socket is an encrypted message socket. It owns its underlying socket
// from Attach until Detach or Close.
//
// Each direction has its own pair of scratch buffers guarded by its own
// mutex, so one Send and one Recv may run concurrently. Concurrent Sends
// (or Recvs) serialize. Scratch buffers grow to the largest message
// processed so far and are reused, never shrunk.
type Socket struct {
	key [KeySize]byte

	mu    sync.Mutex // guards under across Send/Recv/Detach/Close
	under msock.Socket

	sendMu    sync.Mutex
	sendPlain []byte // gathered plaintext
	sendWire  []byte // nonce || sealed message

	recvMu    sync.Mutex
	recvWire  []byte // received wire message
	recvPlain []byte // opened plaintext
}

// Attach binds key to the underlying socket and returns the encrypted
// socket wrapping it. Ownership of the underlying socket transfers to the
// returned socket: the caller must not use it again until it is handed
// back by Detach. The key is copied; the caller may wipe its copy.
func Attach(under msock.Socket, key []byte) (*Socket, error) {
	if under == nil {
		return nil, ErrNoSocket
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	s := &Socket{under: under}
	copy(s.key[:], key)
	return s, nil
}

// Detach releases the encrypted socket and returns the underlying socket
// without closing it. The scratch buffers are released and the key copy
// is wiped. After Detach the socket is unusable; Close becomes a no-op.
func (s *Socket) Detach() msock.Socket {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	under := s.under
	s.under = nil
	s.sendPlain, s.sendWire = nil, nil
	s.recvWire, s.recvPlain = nil, nil
	for i := range s.key {
		s.key[i] = 0
	}
	return under
}

// Detach recovers the encrypted socket behind a generic message socket
// and detaches it, returning the underlying socket. It fails with
// msock.ErrNotSupported if s is not an encrypted socket.
func Detach(s msock.Socket) (msock.Socket, error) {
	ns, ok := s.(*Socket)
	if !ok {
		return nil, msock.ErrNotSupported
	}
	under := ns.Detach()
	if under == nil {
		return nil, msock.ErrClosed
	}
	return under, nil
}

// Close closes the underlying socket and releases all resources held by
// the encrypted socket. Closing after Detach, or closing twice, is a
// no-op: the underlying socket is closed at most once.
func (s *Socket) Close() error {
	under := s.Detach()
	if under == nil {
		return nil
	}
	return under.Close()
}

func (s *Socket) underlying() (msock.Socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.under == nil {
		return nil, msock.ErrClosed
	}
	return s.under, nil
}

// grow returns buf resized to n bytes, reusing its storage when the
// capacity already suffices.
func grow(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n)
}

// Send encrypts the concatenation of segs and transmits it as a single
// message on the underlying socket. A fresh random nonce is generated for
// every message; if the entropy source fails, nothing is sent.
func (s *Socket) Send(ctx context.Context, segs ...[]byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	under, err := s.underlying()
	if err != nil {
		return err
	}
	payloadLen := msock.TotalLen(segs)

	s.sendPlain = grow(s.sendPlain, payloadLen)
	s.sendWire = grow(s.sendWire, NonceSize+payloadLen+Overhead)
	msock.Gather(s.sendPlain, segs)

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("nacl: nonce generation: %w", err)
	}

	copy(s.sendWire[:NonceSize], nonce[:])
	secretbox.Seal(s.sendWire[NonceSize:NonceSize], s.sendPlain, &nonce, &s.key)
	return under.Send(ctx, s.sendWire)
}

// Recv receives one message from the underlying socket, verifies and
// decrypts it, and scatters the plaintext across segs. It returns the
// payload length. A wire message that would not fit the combined segment
// capacity fails with msock.ErrMessageTooLarge before any decryption is
// attempted; a message that fails authentication fails with ErrAuth. In
// both cases nothing is written to segs.
func (s *Socket) Recv(ctx context.Context, segs ...[]byte) (int, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	under, err := s.underlying()
	if err != nil {
		return 0, err
	}
	capacity := msock.TotalLen(segs)

	s.recvWire = grow(s.recvWire, NonceSize+Overhead+capacity)
	s.recvPlain = grow(s.recvPlain, capacity)

	n, err := under.Recv(ctx, s.recvWire)
	if err != nil {
		return 0, err
	}
	if n < NonceSize+Overhead {
		return 0, ErrAuth
	}

	var nonce [NonceSize]byte
	copy(nonce[:], s.recvWire[:NonceSize])

	plain, ok := secretbox.Open(s.recvPlain[:0], s.recvWire[NonceSize:n], &nonce, &s.key)
	if !ok {
		return 0, ErrAuth
	}
	msock.Scatter(segs, plain)
	return len(plain), nil
}
