// Package qxserialport wraps github.com/tarm/serial for the gateway's
// physical downlink to the gimbal/camera device, and funnels writes through
// an AsyncTx so concurrent sends never block on a slow or wedged line.
package qxserialport

import (
	"context"
	"errors"
	"time"

	"github.com/freefly-qx/qx-gateway/internal/qxlogging"
	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
	"github.com/freefly-qx/qx-gateway/internal/qxport"
	"github.com/freefly-qx/qx-gateway/internal/qxtransport"
	"github.com/tarm/serial"
)

// Port abstracts tarm/serial.Port for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the named serial device at baud, with the given read timeout
// governing how long each Read may block.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// ErrTxOverflow is returned when the TX buffer is full and a write is
// dropped.
var ErrTxOverflow = errors.New("qxserialport: tx overflow")

// TXWriter funnels all serial writes through one goroutine via
// qxtransport.AsyncTx, satisfying qxdispatch.FrameSink.
type TXWriter struct{ base *qxtransport.AsyncTx }

// NewTXWriter creates a serial TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, sp Port, buf int) *TXWriter {
	send := func(_ *qxport.Port, frame []byte) error {
		_, err := sp.Write(frame)
		return err
	}
	hooks := qxtransport.Hooks{
		OnError: func(err error) {
			qxmetrics.IncError(qxmetrics.ErrSerialWrite)
			qxlogging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: func() { qxmetrics.IncSerialTx() },
		OnDrop: func() error {
			qxmetrics.IncError(qxmetrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: qxtransport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendToPort queues frame for asynchronous write, satisfying
// qxdispatch.FrameSink / qxtransport.FrameWriter.
func (w *TXWriter) SendToPort(port *qxport.Port, frame []byte) error {
	return w.base.SendToPort(port, frame)
}

// Close stops the writer goroutine and waits for it to exit.
func (w *TXWriter) Close() { w.base.Close() }

// ReadLoop feeds bytes read from sp into framer one at a time via port,
// calling onFrame each time a complete checksum-verified frame arrives. It
// blocks until sp.Read returns a non-timeout error or ctx is cancelled.
func ReadLoop(ctx context.Context, sp Port, feed func(b byte) bool, onFrame func()) error {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := sp.Read(buf)
		if n > 0 {
			for i := 0; i < n; i++ {
				if feed(buf[i]) {
					qxmetrics.IncSerialRx()
					onFrame()
				}
			}
		}
		if err != nil {
			// tarm/serial returns (0, nil) on a plain read timeout rather than
			// a distinguishable error, so any non-nil error here is terminal.
			qxmetrics.IncError(qxmetrics.ErrSerialRead)
			return err
		}
	}
}
