// Package fec provides a Reed-Solomon forward-error-correction adapter
// for lossy message transports.
//
// Every outgoing message fans out into data+parity shard messages on the
// underlying socket. The receiver reconstructs a message as soon as any
// `data` of its shards arrive, so up to `parity` shards per message may be
// lost without retransmission. The adapter is intended for unreliable
// datagram transports such as the QUIC datagram socket; on a reliable
// transport it only adds overhead.
package fec

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/klauspost/reedsolomon"

	"github.com/baocang/libdill/dill/msock"
)

var (
	ErrInvalidConfig    = errors.New("fec: invalid data/parity configuration")
	ErrMalformedShard   = errors.New("fec: malformed shard message")
	ErrGeometryMismatch = errors.New("fec: shard geometry does not match socket configuration")
)

const (
	// headerSize is the per-shard header:
	// seq(4) || index(1) || data(1) || parity(1) || origLen(4)
	headerSize = 11

	DefaultMaxSize = 1 << 20 // 1 MiB
	DefaultWindow  = 16
)

// Config configures an FEC socket. Both endpoints must agree on the
// data/parity geometry.
type Config struct {
	// DataShards is the number of data shards per message (1..128).
	DataShards int
	// ParityShards is the number of parity shards per message (1..128).
	// Up to this many shards per message may be lost.
	ParityShards int
	// MaxSize is the largest payload accepted. Zero means DefaultMaxSize.
	MaxSize int
	// Window is the number of partially received messages kept before the
	// oldest is dropped. Zero means DefaultWindow.
	Window int
}

// Socket is an FEC message socket wrapping an underlying socket.
type Socket struct {
	under msock.Socket
	enc   reedsolomon.Encoder
	cfg   Config

	sendMu sync.Mutex
	seq    uint32

	recvMu  sync.Mutex
	wire    []byte // shard receive scratch
	pending map[uint32]*assembly
	done    map[uint32]struct{} // recently reconstructed, shards dropped
	doneQ   []uint32
}

// assembly is a partially received message.
type assembly struct {
	shards    [][]byte
	have      int
	shardSize int
	origLen   int
}

// Attach wraps under in an FEC socket, taking ownership of it.
func Attach(under msock.Socket, cfg Config) (*Socket, error) {
	if under == nil {
		return nil, errors.New("fec: nil underlying socket")
	}
	if cfg.DataShards <= 0 || cfg.DataShards > 128 ||
		cfg.ParityShards <= 0 || cfg.ParityShards > 128 {
		return nil, ErrInvalidConfig
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	enc, err := reedsolomon.New(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return nil, err
	}
	return &Socket{
		under:   under,
		enc:     enc,
		cfg:     cfg,
		pending: make(map[uint32]*assembly),
		done:    make(map[uint32]struct{}),
	}, nil
}

// Send splits the concatenation of segs into data shards, computes parity
// and transmits every shard as its own message on the underlying socket.
func (s *Socket) Send(ctx context.Context, segs ...[]byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	origLen := msock.TotalLen(segs)
	if origLen > s.cfg.MaxSize {
		return msock.ErrMessageTooLarge
	}
	// Reed-Solomon cannot split zero bytes; a single padding byte keeps
	// the shard geometry and origLen restores the empty payload.
	plain := make([]byte, max(origLen, 1))
	msock.Gather(plain, segs)

	shards, err := s.enc.Split(plain)
	if err != nil {
		return err
	}
	if err := s.enc.Encode(shards); err != nil {
		return err
	}

	seq := s.seq
	s.seq++

	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], seq)
	hdr[5] = uint8(s.cfg.DataShards)
	hdr[6] = uint8(s.cfg.ParityShards)
	binary.BigEndian.PutUint32(hdr[7:11], uint32(origLen))
	for i, shard := range shards {
		hdr[4] = uint8(i)
		if err := s.under.Send(ctx, hdr[:], shard); err != nil {
			return err
		}
	}
	return nil
}

// Recv receives shard messages from the underlying socket until one
// logical message can be reconstructed, then scatters its payload across
// segs and returns the payload length. Shards of different messages may
// interleave; up to Window partial messages are tracked.
func (s *Socket) Recv(ctx context.Context, segs ...[]byte) (int, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	capacity := msock.TotalLen(segs)
	need := headerSize + s.cfg.MaxSize
	if cap(s.wire) < need {
		s.wire = make([]byte, need)
	}
	s.wire = s.wire[:need]

	for {
		n, err := s.under.Recv(ctx, s.wire)
		if err != nil {
			return 0, err
		}
		payload, done, err := s.accept(s.wire[:n])
		if err != nil {
			return 0, err
		}
		if !done {
			continue // message not yet reconstructable
		}
		if len(payload) > capacity {
			return 0, msock.ErrMessageTooLarge
		}
		if err := msock.Scatter(segs, payload); err != nil {
			return 0, err
		}
		return len(payload), nil
	}
}

// accept folds one shard message into the pending set. done reports that
// enough shards of a message arrived and payload holds the reconstruction;
// the payload of an empty message is itself empty.
func (s *Socket) accept(msg []byte) (payload []byte, done bool, err error) {
	if len(msg) < headerSize {
		return nil, false, ErrMalformedShard
	}
	seq := binary.BigEndian.Uint32(msg[0:4])
	index := int(msg[4])
	data := int(msg[5])
	parity := int(msg[6])
	origLen := int(binary.BigEndian.Uint32(msg[7:11]))
	body := msg[headerSize:]

	if data != s.cfg.DataShards || parity != s.cfg.ParityShards {
		return nil, false, ErrGeometryMismatch
	}
	if index >= data+parity || origLen > s.cfg.MaxSize {
		return nil, false, ErrMalformedShard
	}
	if _, ok := s.done[seq]; ok {
		// Straggler of an already reconstructed message.
		return nil, false, nil
	}

	asm, ok := s.pending[seq]
	if !ok {
		s.evict()
		asm = &assembly{
			shards:    make([][]byte, data+parity),
			shardSize: len(body),
			origLen:   origLen,
		}
		s.pending[seq] = asm
	}
	if len(body) != asm.shardSize || origLen != asm.origLen {
		return nil, false, ErrMalformedShard
	}
	if asm.shards[index] == nil {
		asm.shards[index] = append([]byte(nil), body...)
		asm.have++
	}
	if asm.have < data {
		return nil, false, nil
	}
	delete(s.pending, seq)
	s.complete(seq)

	if err := s.enc.ReconstructData(asm.shards); err != nil {
		return nil, false, err
	}
	var buf bytes.Buffer
	buf.Grow(asm.origLen)
	if err := s.enc.Join(&buf, asm.shards, asm.origLen); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

// complete remembers seq so its remaining shards do not reopen an
// assembly. The memory is bounded by the same window as pending.
func (s *Socket) complete(seq uint32) {
	s.done[seq] = struct{}{}
	s.doneQ = append(s.doneQ, seq)
	if len(s.doneQ) > s.cfg.Window {
		delete(s.done, s.doneQ[0])
		s.doneQ = s.doneQ[1:]
	}
}

// evict drops the oldest partial message once the window is full.
func (s *Socket) evict() {
	if len(s.pending) < s.cfg.Window {
		return
	}
	first := true
	var oldest uint32
	for seq := range s.pending {
		if first || seq < oldest {
			oldest = seq
			first = false
		}
	}
	delete(s.pending, oldest)
}

// Close closes the underlying socket.
func (s *Socket) Close() error {
	return s.under.Close()
}
