package qxgwserver

import (
	"context"
	"net"
	"testing"
	"time"
)

func dial(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func TestServeBroadcastsToClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := NewHub()
	srv := NewServer(WithHub(h), WithListenAddr(":0"))
	go func() { _ = srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}

	c := dial(t, ctx, srv.Addr())
	defer c.Close()

	regDeadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(regDeadline) && h.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if h.Count() != 1 {
		t.Fatalf("expected 1 registered client, got %d", h.Count())
	}

	frame := []byte{'Q', 'X', 0x05, 0x01, 0x02, 0x03, 0x04, 0x05}
	h.Broadcast(frame)

	_ = c.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 32)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("read %d bytes, want %d", n, len(frame))
	}
	for i, b := range frame {
		if buf[i] != b {
			t.Fatalf("broadcast byte %d = %x, want %x", i, buf[i], b)
		}
	}
}

func TestMaxClientsRejectsExtraConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := NewHub()
	srv := NewServer(WithHub(h), WithListenAddr(":0"), WithMaxClients(1))
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()

	c1 := dial(t, ctx, srv.Addr())
	defer c1.Close()
	regDeadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(regDeadline) && h.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	c2 := dial(t, ctx, srv.Addr())
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 8)
	if _, err := c2.Read(buf); err == nil {
		t.Fatalf("expected second connection to be rejected once max clients reached")
	}
}

func TestBackpressureDropKeepsClientConnected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := NewHub()
	h.OutBufSize = 1
	h.Policy = PolicyDrop
	srv := NewServer(WithHub(h), WithListenAddr(":0"))
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()

	c := dial(t, ctx, srv.Addr())
	defer c.Close()
	regDeadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(regDeadline) && h.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	for i := 0; i < 5; i++ {
		h.Broadcast([]byte{'Q', 'X', 0x00, byte(i)})
	}

	_ = c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	tmp := make([]byte, 8)
	_, err := c.Read(tmp)
	if err != nil && !isTimeout(err) {
		t.Fatalf("connection should remain open under drop policy, got %v", err)
	}
}

func TestGracefulShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	h := NewHub()
	srv := NewServer(WithHub(h), WithListenAddr(":0"))
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()

	c := dial(t, ctx, srv.Addr())
	regDeadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(regDeadline) && h.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	sdCtx, sdCancel := context.WithTimeout(context.Background(), time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 8)
	if _, err := c.Read(buf); err == nil {
		t.Fatalf("expected read to fail after shutdown")
	}
}
