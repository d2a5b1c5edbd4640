package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/freefly-qx/qx-gateway/internal/qxdispatch"
	"github.com/freefly-qx/qx-gateway/internal/qxframe"
	"github.com/freefly-qx/qx-gateway/internal/qxgwserver"
	"github.com/freefly-qx/qx-gateway/internal/qxport"
	"github.com/freefly-qx/qx-gateway/internal/qxschema"
	"github.com/freefly-qx/qx-gateway/internal/qxserialport"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests.
var openSerialPort = qxserialport.Open

// initSerialBackend opens the serial device, launches its RX loop decoding
// QX frames and forwarding them to h, and returns the sender the TCP server
// side uses to transmit client-originated frames back down to the device.
// Read errors back off exponentially, except io.EOF/io.ErrUnexpectedEOF,
// which retry at once, and *os.PathError, which ends the RX loop; the backoff
// is not reset after a successful read. Decoding runs byte-at-a-time through
// a qxframe.Framer feeding a dedicated qxport.Port.
func initSerialBackend(ctx context.Context, cfg *appConfig, h *qxgwserver.Hub, schema qxschema.Table, dispatcher *qxdispatch.Dispatcher, l *slog.Logger, wg *sync.WaitGroup) (qxgwserver.SendFunc, func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)

	w := qxserialport.NewTXWriter(ctx, sp, txQueueSize)

	framer := qxframe.NewFramer(schema)
	port := qxport.NewPort(qxport.NewRealClock(), 0)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		backoff := rxBackoffMin
		for {
			feed := func(b byte) bool { return framer.FeedByte(port, b) }
			onFrame := func() {
				port.MarkFrameReceived(port.Clock.NowMS())
				frame := port.InProgress
				if dispatcher != nil {
					dispatcher.Dispatch(frame, port)
				}
				wire := append([]byte(nil), frame.Buf[:frame.WireLen]...)
				h.Broadcast(wire)
				frame.Reset()
			}
			err := qxserialport.ReadLoop(ctx, sp, feed, onFrame)
			if ctx.Err() != nil {
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				return // device removed or fatal
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // transient, retry immediately
			}
			l.Warn("serial_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}()

	send := func(frame []byte) error {
		return w.SendToPort(nil, frame)
	}
	return send, func() { _ = sp.Close(); w.Close() }, nil
}
