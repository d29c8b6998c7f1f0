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

// Package proxyhttp implements spec.md §4.4's HTTP/1.1 session state machine on top of
// net/http and net/http/httputil.ReverseProxy: the explicit states
// (RequestStart → ... → Done|KeepAlive) are driven by the ReverseProxy request lifecycle hooks
// instead of a hand-rolled parser, matching the way the teacher layers its own HTTP surface over
// net/http (httpserver/server.go) rather than writing one.
package proxyhttp

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/net/http2"

	"github.com/nabbar/edgeproxy/bufpool"
	"github.com/nabbar/edgeproxy/logger"
	"github.com/nabbar/edgeproxy/metrics"
	"github.com/nabbar/edgeproxy/proxyhttp/h2"
	"github.com/nabbar/edgeproxy/registry"
	"github.com/nabbar/edgeproxy/router"
	"github.com/nabbar/edgeproxy/xerr"
)

type ctxKey int

const routeCtxKey ctxKey = 0

// Backend dial/response timeouts (spec.md §4.8 Connect/BackResponseRead kinds).
const (
	backendConnectTimeout        = 10 * time.Second
	backendResponseHeaderTimeout = 30 * time.Second
)

// routeInfo is stashed on the request context by the Director and read back by the Transport,
// ModifyResponse and ErrorHandler hooks, since ReverseProxy gives each of them a different
// function signature with no shared scratch space of its own.
type routeInfo struct {
	clusterID string
	backend   registry.Backend
	stickyNew bool
	counted   bool
	err       xerr.Error
	start     time.Time
}

// backendKey identifies one backend within one cluster for the live in-flight counters below.
type backendKey struct {
	cluster string
	backend string
}

// Proxy builds one *httputil.ReverseProxy per listener, all sharing the same snapshot source,
// balancer set, backend transport pool and metrics registry (spec.md §4.6, §9).
type Proxy struct {
	Snapshot func() *registry.Snapshot
	Metrics  *metrics.Registry
	Buffers  *bufpool.Pool

	// StickySecret signs the sticky-session cookie (see sticky.go). A zero-length secret
	// disables sticky cookie issuance even if a cluster's policy requests it.
	StickySecret []byte

	// ReportOutcome, when set, is called once per completed backend round trip with whether it
	// succeeded, so the circuit breaker (router.RecordFailure/RecordSuccess) reacts to real
	// traffic and not only the periodic health-check probe (spec.md §4.6's disjunctive trigger).
	// The worker package wires this to republish the outcome through Applier.UpdateBackendState.
	ReportOutcome func(clusterID, backendID string, success bool)

	mu         sync.Mutex
	balancers  map[string]*router.Balancer
	transports map[string]*http.Transport

	// inflight tracks live per-backend request counts so leastLoaded/powerOfTwo compare real
	// load instead of the registry's own Backend.InFlight, which is never written back into the
	// immutable Snapshot (spec.md §3/§4.6); keyed by backendKey, values are *int64.
	inflight sync.Map

	entropy io.Reader
}

// New builds a Proxy. snapshot is called on every request to pick up the latest registry
// generation at admission time (spec.md §5: a session keeps the snapshot it captures, but a new
// Proxy.Handler invocation is a new request, so it is free to observe the newest one).
func New(snapshot func() *registry.Snapshot, buffers *bufpool.Pool, m *metrics.Registry) *Proxy {
	return &Proxy{
		Snapshot:   snapshot,
		Metrics:    m,
		Buffers:    buffers,
		balancers:  make(map[string]*router.Balancer),
		transports: make(map[string]*http.Transport),
		entropy:    rand.Reader,
	}
}

// Handler returns the http.Handler a Listener bound to listenerAddr should serve.
func (p *Proxy) Handler(listenerAddr string) http.Handler {
	rp := &httputil.ReverseProxy{
		Director:       p.director(listenerAddr),
		Transport:      p.roundTripper(),
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
		BufferPool:     newBufferPoolAdapter(p.Buffers),
	}
	return rp
}

func (p *Proxy) director(listenerAddr string) func(*http.Request) {
	return func(req *http.Request) {
		info := &routeInfo{start: time.Now()}
		ctx := context.WithValue(req.Context(), routeCtxKey, info)
		*req = *req.WithContext(ctx)

		proto := "http"
		sni := ""
		if req.TLS != nil {
			proto = "https"
			sni = req.TLS.ServerName
		}
		_, port, _ := net.SplitHostPort(listenerAddr)
		addForwardingHeaders(req.Header, req.RemoteAddr, proto, port)
		stripHopByHop(req.Header)
		req.Header.Set("Sozu-Id", p.newRequestID())

		snap := p.Snapshot()
		frontend, merr := router.Match(snap, router.Request{
			ListenerAddr: listenerAddr,
			SNI:          sni,
			Host:         req.Host,
			Method:       req.Method,
			Path:         req.URL.Path,
		})
		if merr != nil {
			info.err = merr
			return
		}

		applyRewrites(req.Header, frontend.Rewrites)

		cluster, ok := snap.Cluster(frontend.ClusterID)
		if !ok {
			info.err = xerr.Of(xerr.NoMatchingFrontend, nil)
			return
		}
		info.clusterID = cluster.ID

		sticky := ""
		if cluster.Policy == registry.Sticky && len(p.StickySecret) > 0 && cluster.StickyCookieName != "" {
			if c, err := req.Cookie(cluster.StickyCookieName); err == nil {
				if id, ok := verifySticky(p.StickySecret, cluster.ID, c.Value); ok {
					sticky = id
				}
			}
		}

		backend, berr := p.balancerFor(cluster.ID).Pick(p.liveCluster(cluster), sticky)
		if berr != nil {
			info.err = berr
			return
		}
		info.backend = backend
		info.stickyNew = cluster.Policy == registry.Sticky && sticky == "" && len(p.StickySecret) > 0

		atomic.AddInt64(p.inflightCounter(cluster.ID, backend.ID), 1)
		info.counted = true

		req.URL.Scheme = "http"
		req.URL.Host = backend.Address
	}
}

// inflightCounter returns the shared live in-flight counter for one (cluster, backend) pair,
// creating it on first use.
func (p *Proxy) inflightCounter(clusterID, backendID string) *int64 {
	v, _ := p.inflight.LoadOrStore(backendKey{clusterID, backendID}, new(int64))
	return v.(*int64)
}

// liveCluster returns a copy of c with each backend's InFlight populated from the live counters,
// so the balancer's leastLoaded/powerOfTwo policies compare real load (spec.md §4.6).
func (p *Proxy) liveCluster(c registry.Cluster) registry.Cluster {
	out := c
	out.Backends = make([]registry.Backend, len(c.Backends))
	for i, b := range c.Backends {
		b.InFlight = atomic.LoadInt64(p.inflightCounter(c.ID, b.ID))
		out.Backends[i] = b
	}
	return out
}

// releaseBackend decrements the in-flight counter claimed by the director and, when
// ReportOutcome is wired, feeds the round trip's success/failure into the circuit breaker
// (spec.md §4.6: a backend trips on consecutive failures from real traffic, not only probes).
func (p *Proxy) releaseBackend(info *routeInfo, success bool) {
	if info == nil || info.backend.ID == "" {
		return
	}
	if info.counted {
		atomic.AddInt64(p.inflightCounter(info.clusterID, info.backend.ID), -1)
		info.counted = false
	}
	if p.ReportOutcome != nil {
		p.ReportOutcome(info.clusterID, info.backend.ID, success)
	}
}

// roundTripper returns an http.RoundTripper that short-circuits to the routing error stashed in
// the request context (no matching frontend, no healthy backend) before ever dialing a backend,
// and otherwise dispatches on the per-cluster *http.Transport (spec.md §9 connection pooling).
func (p *Proxy) roundTripper() http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		info, _ := req.Context().Value(routeCtxKey).(*routeInfo)
		if info != nil && info.err != nil {
			return nil, info.err
		}
		if info == nil || info.clusterID == "" {
			return nil, xerr.Of(xerr.NoMatchingFrontend, nil)
		}
		resp, err := p.transportFor(info.clusterID).RoundTrip(req)
		if err != nil {
			return nil, classifyBackendError(err)
		}
		return resp, nil
	})
}

// classifyBackendError maps a raw net/http transport error onto the coded errors the
// propagation policy (spec.md §7) and the circuit breaker understand, so a backend that accepts
// the TCP connection and never responds produces BackendTimeout instead of an opaque 502, and a
// backend's own GOAWAY/RST_STREAM carries its http2.ErrCode through h2.GoAwayReason rather than
// collapsing to a generic BackendUnreachable.
func classifyBackendError(err error) xerr.Error {
	var goAway http2.GoAwayError
	if errors.As(err, &goAway) {
		if ce := h2.GoAwayReason(goAway.ErrCode); ce != nil {
			return ce
		}
	}

	var streamErr http2.StreamError
	if errors.As(err, &streamErr) {
		if ce := h2.GoAwayReason(streamErr.Code); ce != nil {
			return ce
		}
	}

	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return xerr.New(xerr.BackendTimeout, err.Error(), err)
	}
	return xerr.New(xerr.BackendUnreachable, err.Error(), err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func (p *Proxy) modifyResponse(resp *http.Response) error {
	stripHopByHop(resp.Header)

	info, _ := resp.Request.Context().Value(routeCtxKey).(*routeInfo)
	if info == nil {
		return nil
	}

	p.releaseBackend(info, resp.StatusCode < 500)

	if p.Metrics != nil {
		p.Metrics.RequestsRouted.WithLabelValues(info.clusterID, info.backend.ID).Inc()
		p.Metrics.RequestDuration.WithLabelValues(info.clusterID).Observe(time.Since(info.start).Seconds())
	}

	if info.stickyNew && info.backend.ID != "" {
		snap := p.Snapshot()
		if c, ok := snap.Cluster(info.clusterID); ok && c.StickyCookieName != "" {
			resp.Header.Add("Set-Cookie", c.StickyCookieName+"="+signSticky(p.StickySecret, info.clusterID, info.backend.ID)+"; Path=/; HttpOnly")
		}
	}

	logger.Event("request_completed").
		WithField("cluster", info.clusterID).
		WithField("backend", info.backend.ID).
		WithField("status", resp.StatusCode).
		Debug("request completed")
	return nil
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	info, _ := r.Context().Value(routeCtxKey).(*routeInfo)

	if ce, ok := err.(xerr.Error); ok {
		status = ce.Code().HTTPStatus()
		if p.Metrics != nil && info != nil {
			p.Metrics.BackendErrors.WithLabelValues(info.clusterID, info.backend.ID, ce.Code().String()).Inc()
		}
	}

	// A backend was actually dialed and failed (as opposed to a routing error like no matching
	// frontend or no healthy backend, where info.backend is never set): feed that outcome into
	// the circuit breaker the same way a real 5xx response does.
	p.releaseBackend(info, false)

	logger.Event("request_failed").WithField("error", err.Error()).Warn("request failed")
	w.WriteHeader(status)
}

func (p *Proxy) balancerFor(clusterID string) *router.Balancer {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.balancers[clusterID]
	if !ok {
		b = router.NewBalancer()
		p.balancers[clusterID] = b
	}
	return b
}

// transportFor returns the shared *http.Transport for a cluster, creating it on first use. Per
// spec.md §9, backend connections are pooled per (cluster, backend) identity; net/http's
// Transport already keys its idle-connection pool by host, so one Transport per cluster with a
// bounded MaxIdleConnsPerHost gives the same effect without a hand-rolled pool.
func (p *Proxy) transportFor(clusterID string) *http.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transports[clusterID]
	if !ok {
		t = &http.Transport{
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
			// Backend-side halves of the Connect/BackResponseRead timeout-wheel kinds from
			// spec.md §4.8: a backend that never accepts or never answers headers must surface as
			// xerr.BackendTimeout rather than hang the frontend session forever.
			DialContext:           (&net.Dialer{Timeout: backendConnectTimeout}).DialContext,
			ResponseHeaderTimeout: backendResponseHeaderTimeout,
		}
		// Lets the transport negotiate h2 with backends advertising it over TLS ALPN, so a
		// cluster's upstream pool isn't artificially pinned to HTTP/1.1 (spec.md §4.5).
		if err := http2.ConfigureTransports(t); err != nil {
			logger.Event("h2_transport_unavailable").WithField("cluster", clusterID).WithField("error", err.Error()).Warn("backend transport falling back to HTTP/1.1")
		}
		p.transports[clusterID] = t
	}
	return t
}

func (p *Proxy) newRequestID() string {
	t := ulid.Timestamp(time.Now())
	id, err := ulid.New(t, p.entropy)
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return id.String()
}

func applyRewrites(h http.Header, rewrites []registry.RewriteDirective) {
	for _, r := range rewrites {
		switch r.Op {
		case "set":
			h.Set(r.Name, r.Value)
		case "add":
			h.Add(r.Name, r.Value)
		case "remove":
			h.Del(r.Name)
		}
	}
}

