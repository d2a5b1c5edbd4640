package qxserialport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePort struct {
	mu      sync.Mutex
	written [][]byte
	reads   [][]byte
	readPos int
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readPos >= len(f.reads) {
		return 0, nil
	}
	chunk := f.reads[f.readPos]
	f.readPos++
	n := copy(p, chunk)
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.written = append(f.written, cp)
	return len(p), nil
}

func (f *fakePort) Close() error { return nil }

func TestTXWriterDeliversFrameToPort(t *testing.T) {
	fp := &fakePort{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewTXWriter(ctx, fp, 4)
	defer w.Close()

	frame := []byte{'Q', 'X', 0x05, 1, 2, 3, 4, 5}
	if err := w.SendToPort(nil, frame); err != nil {
		t.Fatalf("SendToPort: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fp.mu.Lock()
		n := len(fp.written)
		fp.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.written) != 1 || !bytes.Equal(fp.written[0], frame) {
		t.Fatalf("expected frame written once, got %v", fp.written)
	}
}

func TestTXWriterDropsOnFullBuffer(t *testing.T) {
	block := make(chan struct{})
	fp := &blockingPort{block: block}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		close(block)
		cancel()
	}()

	w := NewTXWriter(ctx, fp, 1)
	defer w.Close()

	if err := w.SendToPort(nil, []byte{1}); err != nil {
		t.Fatalf("first send should be accepted immediately: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := w.SendToPort(nil, []byte{2}); err != nil {
		t.Fatalf("second send should fill the now-empty buffer slot: %v", err)
	}
	if err := w.SendToPort(nil, []byte{3}); !errors.Is(err, ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow once buffer and in-flight job saturate, got %v", err)
	}
}

type blockingPort struct {
	block chan struct{}
}

func (b *blockingPort) Read(p []byte) (int, error) { <-b.block; return 0, nil }
func (b *blockingPort) Write(p []byte) (int, error) { <-b.block; return len(p), nil }
func (b *blockingPort) Close() error                { return nil }

func TestReadLoopInvokesFeedPerByteAndOnFrameOnCompletion(t *testing.T) {
	fp := &fakePort{reads: [][]byte{{0xAA, 0xBB}, {0xCC}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fed []byte
	frames := 0
	feed := func(b byte) bool {
		fed = append(fed, b)
		return len(fed) == 3
	}
	onFrame := func() { frames++ }

	done := make(chan error, 1)
	go func() { done <- ReadLoop(ctx, fp, feed, onFrame) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && frames == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadLoop returned unexpected error: %v", err)
	}
	if frames != 1 {
		t.Fatalf("expected exactly 1 frame completion, got %d", frames)
	}
	if len(fed) != 3 {
		t.Fatalf("expected 3 bytes fed, got %d", len(fed))
	}
}
