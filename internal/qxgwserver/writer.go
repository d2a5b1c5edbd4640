package qxgwserver

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
)

// startWriter launches the goroutine pushing hub frames to a single client
// connection, batching writes on a flush ticker. QX frames are already
// self-delimiting on the wire, so batching is a plain concatenation rather
// than a codec-driven encode step.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.totalDisconn.Add(1)
			logger.Info("client_disconnected")
		}()

		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([][]byte, 0, s.batchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			frameCount := len(batch)
			byteCount := 0
			for _, f := range batch {
				byteCount += len(f)
			}
			payload := make([]byte, 0, byteCount)
			for _, f := range batch {
				payload = append(payload, f...)
			}
			batch = batch[:0]
			if _, err := conn.Write(payload); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				qxmetrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			qxmetrics.AddTCPTx(frameCount)
			return nil
		}

		for {
			select {
			case fr := <-cl.Out:
				batch = append(batch, fr)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
