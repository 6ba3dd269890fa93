package msock

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestSegmentHelpers(t *testing.T) {
	segs := [][]byte{[]byte("ab"), nil, []byte("cde")}
	if n := TotalLen(segs); n != 5 {
		t.Fatalf("TotalLen = %d, want 5", n)
	}

	dst := make([]byte, 5)
	if n := Gather(dst, segs); n != 5 || string(dst) != "abcde" {
		t.Fatalf("Gather = %d %q", n, dst)
	}

	out := [][]byte{make([]byte, 1), make([]byte, 4)}
	if err := Scatter(out, []byte("abcde")); err != nil {
		t.Fatalf("Scatter: %v", err)
	}
	if string(out[0]) != "a" || string(out[1]) != "bcde" {
		t.Fatalf("Scatter wrote %q %q", out[0], out[1])
	}

	if err := Scatter(out, []byte("abcdef")); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Scatter overflow = %v, want ErrMessageTooLarge", err)
	}
}

func TestPipeRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()
	defer a.Close()

	msg := []byte("hello pipe")
	if err := a.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 64)
	n, err := b.Recv(ctx, buf)
	if err != nil || !bytes.Equal(buf[:n], msg) {
		t.Fatalf("Recv = %q, %v", buf[:n], err)
	}

	// And the other direction.
	if err := b.Send(ctx, []byte("back")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	n, err = a.Recv(ctx, buf)
	if err != nil || string(buf[:n]) != "back" {
		t.Fatalf("Recv = %q, %v", buf[:n], err)
	}
}

func TestPipeMessageBoundaries(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()
	defer a.Close()

	if err := a.Send(ctx, []byte("one")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Send(ctx, []byte("two")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 64)
	n, _ := b.Recv(ctx, buf)
	if string(buf[:n]) != "one" {
		t.Fatalf("first message = %q", buf[:n])
	}
	n, _ = b.Recv(ctx, buf)
	if string(buf[:n]) != "two" {
		t.Fatalf("second message = %q", buf[:n])
	}
}

func TestPipeTooLarge(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()
	defer a.Close()

	if err := a.Send(ctx, make([]byte, 100)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := b.Recv(ctx, make([]byte, 10)); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Recv = %v, want ErrMessageTooLarge", err)
	}
}

func TestPipeContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	a, _ := Pipe()
	defer a.Close()

	if _, err := a.Recv(ctx, make([]byte, 8)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Recv on empty pipe = %v, want DeadlineExceeded", err)
	}
}

func TestPipeClose(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Send(ctx, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send on closed pipe = %v, want ErrClosed", err)
	}
	if _, err := b.Recv(ctx, make([]byte, 8)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recv on closed pipe = %v, want ErrClosed", err)
	}
}
