package frame

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/baocang/libdill/dill/msock"
)

// connPair returns two frame sockets joined by an in-memory stream.
func connPair() (*Socket, *Socket) {
	c1, c2 := net.Pipe()
	return New(c1, Config{}), New(c2, Config{})
}

func TestFrameRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, b := connPair()
	defer a.Close()
	defer b.Close()

	msg := bytes.Repeat([]byte("frame"), 100)
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Send(ctx, msg)
	}()

	buf := make([]byte, 1024)
	n, err := b.Recv(ctx, buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(msg) || !bytes.Equal(buf[:n], msg) {
		t.Fatalf("round trip mismatch: n=%d", n)
	}
}

func TestFrameEmptyMessage(t *testing.T) {
	ctx := context.Background()
	a, b := connPair()
	defer a.Close()
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Send(ctx)
	}()
	n, err := b.Recv(ctx, make([]byte, 8))
	if err != nil || n != 0 {
		t.Fatalf("Recv empty = %d, %v", n, err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestFrameScatterGather(t *testing.T) {
	ctx := context.Background()
	a, b := connPair()
	defer a.Close()
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Send(ctx, []byte("head"), []byte("tail"))
	}()

	first := make([]byte, 2)
	second := make([]byte, 16)
	n, err := b.Recv(ctx, first, second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 8 || string(first) != "he" || string(second[:6]) != "adtail" {
		t.Fatalf("scatter mismatch: n=%d first=%q second=%q", n, first, second[:6])
	}
}

func TestFrameTooLargeStaysInSync(t *testing.T) {
	ctx := context.Background()
	a, b := connPair()
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.Send(ctx, make([]byte, 100))
		_ = a.Send(ctx, []byte("next"))
	}()

	small := bytes.Repeat([]byte{0xAA}, 10)
	if _, err := b.Recv(ctx, small); !errors.Is(err, msock.ErrMessageTooLarge) {
		t.Fatalf("Recv = %v, want ErrMessageTooLarge", err)
	}
	if !bytes.Equal(small, bytes.Repeat([]byte{0xAA}, 10)) {
		t.Fatalf("caller buffer was written on failure")
	}

	// The oversized frame was drained; the stream is still usable.
	buf := make([]byte, 16)
	n, err := b.Recv(ctx, buf)
	if err != nil || string(buf[:n]) != "next" {
		t.Fatalf("Recv after drain = %q, %v", buf[:n], err)
	}
}

func TestFrameMaxSize(t *testing.T) {
	ctx := context.Background()
	c1, c2 := net.Pipe()
	a := New(c1, Config{MaxSize: 16})
	defer a.Close()
	defer c2.Close()

	if err := a.Send(ctx, make([]byte, 17)); !errors.Is(err, msock.ErrMessageTooLarge) {
		t.Fatalf("Send above MaxSize = %v, want ErrMessageTooLarge", err)
	}
}

func TestFrameDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	a, b := connPair()
	defer a.Close()
	defer b.Close()

	_, err := b.Recv(ctx, make([]byte, 8))
	var nerr net.Error
	if !errors.As(err, &nerr) || !nerr.Timeout() {
		t.Fatalf("Recv on idle connection = %v, want timeout", err)
	}
}
