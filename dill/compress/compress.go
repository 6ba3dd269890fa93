// Package compress provides an LZ4 compressing message-socket adapter.
//
// Each outgoing message is compressed and sent as `flag || body`; when
// compression does not shrink a message the original bytes travel with the
// raw flag instead. The adapter wraps any msock.Socket and composes with
// the other adapters; stacking it beneath the encrypted socket gives
// compress-then-encrypt.
package compress

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/baocang/libdill/dill/msock"
)

var (
	ErrCompressionFailed   = errors.New("compress: compression failed")
	ErrDecompressionFailed = errors.New("compress: decompression failed")
	ErrMalformedMessage    = errors.New("compress: malformed message")
)

// Level controls the speed/ratio tradeoff.
type Level int

const (
	Fast    Level = iota // Fastest, lower ratio
	Default              // Balanced
	Best                 // Best ratio, slower
)

func (l Level) lz4Level() lz4.CompressionLevel {
	switch l {
	case Fast:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level4
	}
}

const (
	flagRaw        = 0
	flagCompressed = 1
)

// compressorPool reuses LZ4 writers to reduce allocations.
var compressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

// decompressorPool reuses LZ4 readers.
var decompressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

func compress(data []byte, level lz4.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, ErrCompressionFailed
	}
	if err := w.Close(); err != nil {
		return nil, ErrCompressionFailed
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, ErrDecompressionFailed
	}
	return buf.Bytes(), nil
}

// Config configures a compressing socket.
type Config struct {
	Level Level
	// MaxSize limits the decompressed size of incoming messages,
	// independent of the caller's buffer. Zero means no extra limit.
	MaxSize int
}

// Socket is a compressing message socket wrapping an underlying socket.
type Socket struct {
	under msock.Socket
	cfg   Config
	level lz4.CompressionLevel

	sendMu sync.Mutex
	recvMu sync.Mutex
	wire   []byte // receive scratch, grown on demand
}

// Attach wraps under in a compressing socket, taking ownership of it.
// The configured level is resolved and validated here, once.
func Attach(under msock.Socket, cfg Config) (*Socket, error) {
	if under == nil {
		return nil, errors.New("compress: nil underlying socket")
	}
	level := cfg.Level.lz4Level()
	if err := lz4.NewWriter(io.Discard).Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, err
	}
	return &Socket{under: under, cfg: cfg, level: level}, nil
}

// Send compresses the concatenation of segs and sends it as one message.
func (s *Socket) Send(ctx context.Context, segs ...[]byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	plain := make([]byte, msock.TotalLen(segs))
	msock.Gather(plain, segs)

	body, err := compress(plain, s.level)
	if err != nil {
		return err
	}
	if len(body) >= len(plain) {
		// Compression not beneficial
		return s.under.Send(ctx, []byte{flagRaw}, plain)
	}
	return s.under.Send(ctx, []byte{flagCompressed}, body)
}

// Recv receives one message, decompresses it if needed and scatters the
// result across segs, returning the payload length. A payload exceeding
// the combined segment capacity fails with msock.ErrMessageTooLarge and
// writes nothing.
func (s *Socket) Recv(ctx context.Context, segs ...[]byte) (int, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	capacity := msock.TotalLen(segs)
	// Compressed bodies are only ever sent when smaller than the raw
	// payload, so the raw bound covers both flags.
	need := 1 + capacity
	if cap(s.wire) < need {
		s.wire = make([]byte, need)
	}
	s.wire = s.wire[:need]

	n, err := s.under.Recv(ctx, s.wire)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, ErrMalformedMessage
	}

	var payload []byte
	switch s.wire[0] {
	case flagRaw:
		payload = s.wire[1:n]
	case flagCompressed:
		payload, err = decompress(s.wire[1:n])
		if err != nil {
			return 0, err
		}
	default:
		return 0, ErrMalformedMessage
	}

	if s.cfg.MaxSize > 0 && len(payload) > s.cfg.MaxSize {
		return 0, msock.ErrMessageTooLarge
	}
	if err := msock.Scatter(segs, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// Close closes the underlying socket.
func (s *Socket) Close() error {
	return s.under.Close()
}
