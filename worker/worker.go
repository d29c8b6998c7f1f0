/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package worker is the process-level glue spec.md §5 describes: it owns one *http.Server per
// registry.Listener, the reconfig.Applier they all read their routing snapshot from, the
// healthcheck loop feeding the circuit breaker, and the SoftStop/HardStop lifecycle.
package worker

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"

	"github.com/nabbar/edgeproxy/bufpool"
	"github.com/nabbar/edgeproxy/certificates"
	"github.com/nabbar/edgeproxy/healthcheck"
	"github.com/nabbar/edgeproxy/logger"
	"github.com/nabbar/edgeproxy/metrics"
	"github.com/nabbar/edgeproxy/proxyhttp"
	"github.com/nabbar/edgeproxy/proxyhttp/h2"
	"github.com/nabbar/edgeproxy/reconfig"
	"github.com/nabbar/edgeproxy/registry"
	"github.com/nabbar/edgeproxy/router"
	"github.com/nabbar/edgeproxy/timeoutwheel"
)

// DefaultHealthInterval is the period of the health-check sweep. One ticker drives every
// cluster; a cluster's own HealthInterval is not read.
const DefaultHealthInterval = 5 * time.Second

// Frontend connection timeouts (spec.md §4.8): the ones net/http exposes directly as
// http.Server fields map onto FrontRequestRead/FrontResponseWrite/Idle; Handshake has no
// dedicated http.Server field, so it and a per-connection Idle timer are driven through
// timeoutwheel via ConnState instead. No Connect timer is scheduled.
const (
	frontRequestReadTimeout   = 30 * time.Second
	frontResponseWriteTimeout = 30 * time.Second
	frontIdleTimeout          = 90 * time.Second
)

// Worker runs the proxy core for one process (spec.md §5: one worker per OS process, sharing no
// mutable state with siblings — everything here is private to this Worker instance).
type Worker struct {
	Applier *reconfig.Applier
	Metrics *metrics.Registry
	Proxy   *proxyhttp.Proxy
	Prober  *healthcheck.Prober

	mu        sync.Mutex
	servers   map[string]*http.Server
	listeners map[string]net.Listener

	stopHealth chan struct{}

	wheel      *timeoutwheel.Wheel
	nextToken  uint64
	connTokens sync.Map // net.Conn -> uint64
}

// New builds a Worker around an already-initialized Applier.
func New(applier *reconfig.Applier, m *metrics.Registry, stickySecret []byte) *Worker {
	buffers := bufpool.New(bufpool.DefaultSize, 0)
	p := proxyhttp.New(applier.Snapshot, buffers, m)
	p.StickySecret = stickySecret
	p.ReportOutcome = reportOutcome(applier)

	return &Worker{
		Applier:    applier,
		Metrics:    m,
		Proxy:      p,
		Prober:     healthcheck.NewProber(),
		servers:    make(map[string]*http.Server),
		listeners:  make(map[string]net.Listener),
		stopHealth: make(chan struct{}),
		wheel:      timeoutwheel.New(1024, timeoutwheel.MinGranularity),
	}
}

// reportOutcome feeds a real request's success/failure into the circuit breaker, republishing
// through the applier the same way the health-check sweep does, so spec.md §4.6's disjunctive
// trigger ("N consecutive failures OR health-check failures") is honored by live traffic and not
// only the periodic probe.
func reportOutcome(applier *reconfig.Applier) func(clusterID, backendID string, success bool) {
	return func(clusterID, backendID string, success bool) {
		snap := applier.Snapshot()
		c, ok := snap.Cluster(clusterID)
		if !ok {
			return
		}
		if success {
			router.RecordSuccess(&c, backendID)
		} else {
			router.RecordFailure(&c, backendID, time.Now())
		}
		applier.UpdateBackendState(clusterID, c.Backends)
	}
}

// Serve starts one net.Listener + *http.Server per registry.Listener present in the current
// snapshot and blocks until ctx is cancelled or SoftStop/HardStop completes (spec.md §5).
func (w *Worker) Serve(ctx context.Context) error {
	snap := w.Applier.Snapshot()

	g, gctx := errgroup.WithContext(ctx)
	for addr, l := range snap.Listeners {
		addr, l := addr, l
		g.Go(func() error { return w.serveOne(gctx, addr, l, snap.CertStore) })
	}

	g.Go(func() error {
		w.runHealthLoop(gctx)
		return nil
	})

	go w.wheel.Run()

	select {
	case <-gctx.Done():
		w.shutdownGraceful(context.Background())
	case <-w.Applier.HardStopRequested():
		w.shutdownForce()
	case <-w.Applier.SoftStopRequested():
		w.drain()
	}

	close(w.stopHealth)
	w.wheel.Stop()
	return g.Wait()
}

// drain implements SoftStop (spec.md §4.7 scenario 5): the listeners stop accepting new
// connections immediately, in-flight sessions are given until SoftStopDeadline to finish on their
// own, and whatever is still open past the deadline is aborted with HardStop.
func (w *Worker) drain() {
	deadline := w.Applier.SoftStopDeadline()

	var drainCtx context.Context
	var cancel context.CancelFunc
	if deadline > 0 {
		drainCtx, cancel = context.WithTimeout(context.Background(), deadline)
	} else {
		drainCtx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	go func() {
		select {
		case <-w.Applier.HardStopRequested():
			cancel()
		case <-drainCtx.Done():
		}
	}()

	w.shutdownGraceful(drainCtx)

	if drainCtx.Err() == context.DeadlineExceeded {
		logger.Event("softstop_deadline_exceeded").Warn("softstop deadline elapsed, aborting remaining sessions")
		w.Applier.ForceStop()
		w.shutdownForce()
	}
}

func (w *Worker) serveOne(ctx context.Context, addr string, l registry.Listener, store *certificates.Store) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	if l.Proto == registry.ProtoTLS {
		// Each handshake selects from the certificate Store of the snapshot current when the
		// ClientHello arrives, so certificate deltas apply to new connections without a restart.
		cfg := certificates.NewTLSConfig(store, nil, tls.VersionTLS12, tls.VersionTLS13)
		cfg.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
			return certificates.NewTLSConfig(w.Applier.Snapshot().CertStore, nil, tls.VersionTLS12, tls.VersionTLS13), nil
		}
		ln = tls.NewListener(ln, cfg)
	}

	srv := &http.Server{
		Handler:           w.Proxy.Handler(addr),
		ReadHeaderTimeout: frontRequestReadTimeout,
		WriteTimeout:      frontResponseWriteTimeout,
		IdleTimeout:       frontIdleTimeout,
		ConnState:         w.connState,
	}

	if l.Proto == registry.ProtoTLS {
		// Caps concurrent streams per h2 connection at h2.DefaultMaxConcurrentStreams (spec.md
		// §4.5); http2.Server enforces the limit itself.
		if err := http2.ConfigureServer(srv, &http2.Server{MaxConcurrentStreams: uint32(h2.DefaultMaxConcurrentStreams)}); err != nil {
			logger.Event("h2_listener_unavailable").WithField("addr", addr).WithField("error", err.Error()).Warn("listener falling back to HTTP/1.1 only")
		}
	}

	w.mu.Lock()
	w.servers[addr] = srv
	w.listeners[addr] = ln
	w.mu.Unlock()

	logger.Event("listener_started").WithField("addr", addr).WithField("proto", l.Proto).Info("listener started")

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	err = srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// connState drives timeoutwheel.Wheel off the http.Server's own connection lifecycle (spec.md
// §4.8): a new connection gets a Handshake deadline (TLS handshake or the first request line,
// whichever net/http reports first as StateActive); once active the handshake timer is cancelled,
// and an idle connection between keep-alive requests gets an Idle deadline instead.
func (w *Worker) connState(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		token := atomic.AddUint64(&w.nextToken, 1)
		w.connTokens.Store(c, token)
		w.wheel.Schedule(token, timeoutwheel.Handshake, certificates.HandshakeTimeout, func(timeoutwheel.Expiry) {
			logger.Event("handshake_timeout").WithField("remote", c.RemoteAddr().String()).Warn("closing connection: handshake deadline exceeded")
			_ = c.Close()
		})

	case http.StateActive:
		if v, ok := w.connTokens.Load(c); ok {
			token := v.(uint64)
			w.wheel.Cancel(token, timeoutwheel.Handshake)
			w.wheel.Cancel(token, timeoutwheel.Idle)
		}

	case http.StateIdle:
		if v, ok := w.connTokens.Load(c); ok {
			token := v.(uint64)
			w.wheel.Schedule(token, timeoutwheel.Idle, frontIdleTimeout, func(timeoutwheel.Expiry) {
				logger.Event("idle_timeout").WithField("remote", c.RemoteAddr().String()).Warn("closing idle connection")
				_ = c.Close()
			})
		}

	case http.StateClosed, http.StateHijacked:
		if v, ok := w.connTokens.LoadAndDelete(c); ok {
			token := v.(uint64)
			w.wheel.Cancel(token, timeoutwheel.Handshake)
			w.wheel.Cancel(token, timeoutwheel.Idle)
		}
	}
}

// runHealthLoop sweeps every cluster in the current snapshot on its own ticker, publishing the
// circuit-breaking outcome back through the applier (spec.md §4.6).
func (w *Worker) runHealthLoop(ctx context.Context) {
	t := time.NewTicker(DefaultHealthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopHealth:
			return
		case now := <-t.C:
			snap := w.Applier.Snapshot()
			for id, c := range snap.Clusters {
				c := c
				if err := w.Prober.SweepCluster(ctx, &c, now); err == nil {
					w.Applier.UpdateBackendState(id, c.Backends)
					if w.Metrics != nil {
						for _, b := range c.Backends {
							v := 0.0
							if b.State == registry.Up {
								v = 1
							}
							w.Metrics.BackendState.WithLabelValues(id, b.ID).Set(v)
						}
					}
				}
			}
		}
	}
}

// Addr returns the actual bound address for a listener registered under the given registry
// address, useful when the registry asks for an ephemeral port (":0") and the caller needs to
// know what the OS actually picked.
func (w *Worker) Addr(registryAddr string) (net.Addr, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ln, ok := w.listeners[registryAddr]
	if !ok {
		return nil, false
	}
	return ln.Addr(), true
}

// SoftStop requests a graceful drain: listeners stop accepting new connections but in-flight
// requests are allowed to finish (spec.md §5 worker lifecycle).
func (w *Worker) SoftStop(deadline time.Duration) {
	w.Applier.Apply(reconfig.Delta{ID: "softstop", Kind: reconfig.SoftStop, SoftStopDeadline: deadline})
}

// HardStop requests an immediate stop.
func (w *Worker) HardStop() {
	w.Applier.Apply(reconfig.Delta{ID: "hardstop", Kind: reconfig.HardStop})
}

// shutdownGraceful calls http.Server.Shutdown on every listener, which stops Accept immediately
// and waits for in-flight requests to finish (or ctx to end) before returning.
func (w *Worker) shutdownGraceful(ctx context.Context) {
	w.mu.Lock()
	servers := make(map[string]*http.Server, len(w.servers))
	for addr, s := range w.servers {
		servers[addr] = s
	}
	w.mu.Unlock()

	for addr, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Event("listener_shutdown_incomplete").WithField("addr", addr).WithField("error", err.Error()).Warn("listener did not drain before deadline")
			continue
		}
		logger.Event("listener_stopped").WithField("addr", addr).Info("listener stopped")
	}
}

// shutdownForce calls http.Server.Close, which aborts every open connection immediately instead
// of waiting for it to finish.
func (w *Worker) shutdownForce() {
	w.mu.Lock()
	servers := make(map[string]*http.Server, len(w.servers))
	for addr, s := range w.servers {
		servers[addr] = s
	}
	w.mu.Unlock()

	for addr, srv := range servers {
		_ = srv.Close()
		logger.Event("listener_stopped").WithField("addr", addr).Info("listener force-closed")
	}
}
