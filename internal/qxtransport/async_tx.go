package qxtransport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/freefly-qx/qx-gateway/internal/qxport"
)

// frameJob pairs a finalized frame with the port it targets, since a single
// AsyncTx may serialize writes for more than one logical port sharing the
// same underlying physical link.
type frameJob struct {
	port  *qxport.Port
	frame []byte
}

// AsyncTx funnels frame writes through a single goroutine (fan-in),
// providing non-blocking enqueue: if the internal buffer is full, SendToPort
// invokes the configured OnDrop hook and returns its error. This keeps
// dispatcher sends from blocking behind a slow or wedged transport.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan frameJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(*qxport.Port, []byte) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior without duplicating the goroutine and
// buffer plumbing per backend.
type Hooks struct {
	OnError func(error)
	OnAfter func()
	OnDrop  func() error
}

// ErrAsyncTxClosed is returned by SendToPort once Close has been called.
var ErrAsyncTxClosed = errors.New("qxtransport: async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf,
// writing frames via send.
func NewAsyncTx(parent context.Context, buf int, send func(*qxport.Port, []byte) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan frameJob, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case job, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(job.port, job.frame); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendToPort queues a frame for asynchronous transmission, satisfying
// qxdispatch.FrameSink / qxtransport.FrameWriter. frame is retained, not
// copied: callers must pass a buffer they will not mutate afterward (every
// qxdispatch send builds a fresh Message, so this holds in practice).
func (a *AsyncTx) SendToPort(port *qxport.Port, frame []byte) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- frameJob{port: port, frame: frame}:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit. The worker's context is
// cancelled first, so frames still queued at that point may be discarded
// unsent.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
