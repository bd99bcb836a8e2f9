// Package daemon implements the TCP acceptor and per-connection session
// handler that front the proxy pool: the handshake, frame parsing, proxy
// acquisition, outbound request execution, and response writing described
// in spec.md §4.6.
package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/gruf/go-kv"
	"codeberg.org/gruf/go-logger/v2/log"

	"github.com/andreasbank/proxify/internal/pool"
)

// MaxConcurrentSessions caps the number of simultaneously handled client
// connections, per spec.md §4.6.
const MaxConcurrentSessions = 50

// acceptRetryDelay is how long the acceptor waits before retrying Accept
// once the concurrent-session cap is reached.
const acceptRetryDelay = time.Second

// requestTimeout bounds each outbound REQUEST_GET/REQUEST_POST call.
const requestTimeout = 10 * time.Second

// Daemon binds a TCP listener and serves the control protocol against a
// shared proxy Pool.
type Daemon struct {
	BindAddr string
	BindPort uint16
	Pool     *pool.Pool

	// Logger receives a one-line notice each time the accept loop drops a
	// connection for being over MaxConcurrentSessions. Defaults to the
	// package logger; tests can inject nopSink or a recording sink.
	Logger sink

	activeSessions int64
	wg             sync.WaitGroup
}

func (d *Daemon) logger() sink {
	if d.Logger != nil {
		return d.Logger
	}
	return defaultSink{}
}

// ListenAndServe binds (BindAddr, BindPort) and accepts connections
// serially until ctx is cancelled, spawning one handler goroutine per
// accepted connection. It returns once the listener has been closed and
// every in-flight handler has exited.
func (d *Daemon) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", d.BindAddr, d.BindPort)

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: bind %s: %w", addr, err)
	}

	log.InfoKVs(kv.Fields{{K: "addr", V: addr}, {K: "msg", V: "listening"}}...)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		if ctx.Err() != nil {
			break
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.ErrorKVs(kv.Fields{{K: "error", V: err}, {K: "msg", V: "accept error"}}...)
			continue
		}

		if atomic.LoadInt64(&d.activeSessions) >= MaxConcurrentSessions {
			d.logger().Printf("too many sessions (>=%d), dropping connection from %s for 1s", MaxConcurrentSessions, conn.RemoteAddr())
			conn.Close()
			time.Sleep(acceptRetryDelay)
			continue
		}

		atomic.AddInt64(&d.activeSessions, 1)
		d.wg.Add(1)
		go d.handleConn(ctx, conn)
	}

	d.wg.Wait()
	return nil
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		atomic.AddInt64(&d.activeSessions, -1)
		d.wg.Done()
	}()
	defer conn.Close()

	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-closed:
		}
	}()

	h := &connHandler{ctx: ctx, conn: conn, pool: d.Pool, sessions: newSessionSet()}
	h.run()
}

// ActiveSessions returns the current number of in-flight connection
// handlers, for tests and diagnostics.
func (d *Daemon) ActiveSessions() int64 {
	return atomic.LoadInt64(&d.activeSessions)
}
