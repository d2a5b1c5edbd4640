package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/freefly-qx/qx-gateway/internal/qxdispatch"
	"github.com/freefly-qx/qx-gateway/internal/qxgwserver"
	"github.com/freefly-qx/qx-gateway/internal/qxheader"
	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
	"github.com/freefly-qx/qx-gateway/internal/qxschema"
	"github.com/freefly-qx/qx-gateway/internal/qxserialport"
)

// overflowBlockingPort simulates a very slow serial port to force TX queue
// overflow: reads fail fast (so the RX loop doesn't interfere), writes block
// until the test closes the port.
type overflowBlockingPort struct{ block chan struct{} }

func (p *overflowBlockingPort) Read(b []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, io.EOF
}
func (p *overflowBlockingPort) Write(b []byte) (int, error) { <-p.block; return len(b), nil }
func (p *overflowBlockingPort) Close() error                { close(p.block); return nil }

func TestSerialBackendTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bp := &overflowBlockingPort{block: make(chan struct{})}
	openSerialPort = func(name string, baud int, to time.Duration) (qxserialport.Port, error) { return bp, nil }
	defer func() { openSerialPort = qxserialport.Open }()
	beforeErrs := qxmetrics.Snap().Errors

	h := qxgwserver.NewHub()
	schema := qxschema.NewStaticTable(0)
	dispatcher := qxdispatch.NewDispatcher(schema, qxheader.NewCodec(nil), nil, nil)
	cfg := &appConfig{serialDev: "fake", baud: 115200, serialReadTO: 10 * time.Millisecond}
	var wg sync.WaitGroup
	send, cleanup, err := initSerialBackend(ctx, cfg, h, schema, dispatcher, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSerialBackend: %v", err)
	}
	defer cleanup()

	var overflowErr error
	for i := 0; i < txQueueSize+2; i++ {
		frame := []byte{'Q', 'X', 0x01, byte(i)}
		if err := send(frame); err != nil && overflowErr == nil {
			overflowErr = err
		}
	}
	if overflowErr == nil {
		t.Fatalf("expected at least one overflow error")
	}
	if !errors.Is(overflowErr, qxserialport.ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow, got %v", overflowErr)
	}
	afterErrs := qxmetrics.Snap().Errors
	if afterErrs == beforeErrs {
		t.Fatalf("expected error metric increment on overflow")
	}
}
