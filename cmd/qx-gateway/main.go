package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/freefly-qx/qx-gateway/internal/qxdispatch"
	"github.com/freefly-qx/qx-gateway/internal/qxgwserver"
	"github.com/freefly-qx/qx-gateway/internal/qxheader"
	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
	"github.com/freefly-qx/qx-gateway/internal/qxschema"
)

// Helper implementations moved to dedicated files: version.go, config.go,
// logger.go, hub_init.go, metrics_logger.go, backend_serial.go, mdns.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("qx-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	// The schema table is empty by default: a pure bridge gateway has no
	// attributes of its own and relies entirely on qxmsg.DefaultMaxPayloadLen.
	// A deployment wiring actual endpoints would build its own qxschema.Table
	// here instead.
	schema := qxschema.NewStaticTable(0)
	dispatcher := qxdispatch.NewDispatcher(schema, qxheader.NewCodec(nil), nil, nil)

	sendFunc, cleanup, berr := initSerialBackend(ctx, cfg, h, schema, dispatcher, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return
	}

	srv := qxgwserver.NewServer(
		qxgwserver.WithHub(h),
		qxgwserver.WithSchema(schema),
		qxgwserver.WithDispatcher(dispatcher),
		qxgwserver.WithSend(sendFunc),
		qxgwserver.WithLogger(l),
		qxgwserver.WithMaxClients(cfg.maxClients),
		qxgwserver.WithReadDeadline(cfg.clientReadTO),
		qxgwserver.WithListenAddr(cfg.listenAddr),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			lastColon := strings.LastIndex(addr, ":")
			if lastColon >= 0 {
				if pn, perr := strconv.Atoi(addr[lastColon+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	qxmetrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		qxmetrics.InitBuildInfo(version, commit, date)
		srvHTTP := qxmetrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cleanup()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.clientReadTO)
	_ = srv.Shutdown(shutdownCtx)
	shutdownCancel()
	wg.Wait()
}
