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
	"time"

	"github.com/bktiel/rpchat/internal/engine"
	"github.com/bktiel/rpchat/internal/metrics"
	"github.com/bktiel/rpchat/internal/pool"
	"github.com/bktiel/rpchat/internal/reactor"
	"github.com/bktiel/rpchat/internal/registry"
)

// Helper implementations moved to dedicated files: config.go, logger.go, mdns.go, metrics_logger.go, version.go.

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, showHelp, err := parseFlags(args)
	if showHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	if cfg.logPath != "" {
		f, ferr := redirectOutput(cfg.logPath)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "%v\n", ferr)
			return 1
		}
		defer f.Close()
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	reg := registry.New()
	p := pool.New(cfg.workerQueue)
	p.Start(cfg.workerCount)
	eng := engine.New(engine.Config{ConnTimeout: cfg.connTimeout}, reg, p, l)

	react := reactor.New(eng, reg,
		reactor.WithListenAddr(fmt.Sprintf(":%d", cfg.port)),
		reactor.WithMaxClients(cfg.maxClients),
		reactor.WithAuditInterval(cfg.auditInterval),
		reactor.WithLogger(l),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := react.Serve(ctx); err != nil {
			serveErrCh <- err
			cancel()
			return
		}
		serveErrCh <- nil
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-react.Ready():
		case <-ctx.Done():
			return
		}
		port := portFromAddr(react.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-react.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case err := <-serveErrCh:
		if err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
			wg.Wait()
			return 1
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := react.Shutdown(shutdownCtx); err != nil {
		l.Error("shutdown_error", "error", err)
	}
	p.Shutdown(true)
	wg.Wait()
	l.Info("shutdown_complete")
	return 0
}

// portFromAddr extracts the numeric port from a bound "host:port" address,
// tolerating the bare ":port" form net.Listener.Addr() can return.
func portFromAddr(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
			return pn
		}
	}
	return 0
}
