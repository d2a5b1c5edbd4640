package qxgwserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/freefly-qx/qx-gateway/internal/qxframe"
	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
	"github.com/freefly-qx/qx-gateway/internal/qxport"
)

// startReader launches the goroutine that decodes QX frames arriving on
// conn and forwards each to the backend via s.Send, after local dispatch.
// Decoding runs byte-at-a-time through a qxframe.Framer feeding a
// per-connection qxport.Port.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()

		framer := qxframe.NewFramer(s.Schema)
		port := qxport.NewPort(qxport.NewRealClock(), s.msgCapacity)
		br := bufio.NewReader(conn)

		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			b, err := br.ReadByte()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				qxmetrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}

			if framer.FeedByte(port, b) {
				qxmetrics.IncTCPRx()
				port.MarkFrameReceived(port.Clock.NowMS())
				frame := port.InProgress

				if s.Dispatcher != nil {
					s.Dispatcher.Dispatch(frame, port)
				}
				if s.Send != nil {
					wire := append([]byte(nil), frame.Buf[:frame.WireLen]...)
					if err := s.Send(wire); err != nil {
						s.totalBackendFail.Add(1)
						logger.Error("backend_tx_error", "error", err)
					}
				}
				frame.Reset()
			}

			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
