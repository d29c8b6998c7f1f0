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

// Package registry holds the process-wide snapshot (spec.md §3): clusters, backends, frontends,
// certificates, listeners. Snapshots are immutable once published; the reconfig package is the
// only writer, swapping a pointer that sessions capture by reference at admission.
package registry

import (
	"time"

	"github.com/nabbar/edgeproxy/certificates"
)

// LBPolicy is a cluster's load-balancing policy.
type LBPolicy string

const (
	RoundRobin     LBPolicy = "round-robin"
	Random         LBPolicy = "random"
	LeastLoaded    LBPolicy = "least-loaded"
	PowerOfTwo     LBPolicy = "power-of-two-choices"
	Sticky         LBPolicy = "sticky"
)

// BackendState is a backend's health state.
type BackendState string

const (
	Up       BackendState = "up"
	Down     BackendState = "down"
	Draining BackendState = "draining"
)

// Backend is one origin endpoint within a Cluster.
type Backend struct {
	ID       string
	Address  string
	Weight   int
	State    BackendState

	// InFlight is never set on the Snapshot this Backend lives in; proxyhttp.Proxy tracks real
	// in-flight counts itself and only substitutes them in here on a transient per-request clone
	// passed to router.Balancer.Pick, since the registry's copy-on-write model has no cheap path
	// for a per-request counter bump.
	InFlight int64

	ConsecutiveFailures int
	LastFailureAt       time.Time
	DownSince           time.Time
}

// Cluster is a logical backend group (spec.md §3).
type Cluster struct {
	ID               string
	Policy           LBPolicy
	StickyCookieName string
	BackendHTTP2     bool
	HealthCheckPath  string
	HealthInterval   time.Duration
	FailThreshold    int
	CoolDown         time.Duration
	Backends         []Backend
}

// RewriteDirective is one header add/remove/set mutation applied by a Frontend.
type RewriteDirective struct {
	Op    string // "add", "remove", "set"
	Name  string
	Value string
}

// Frontend is a routing rule (spec.md §3): SNI + Host + path match -> Cluster, with rewrites.
type Frontend struct {
	ID              string
	ListenerAddr    string
	SNIPattern      string
	HostPattern     string
	PathPrefix      string
	PathExact       bool
	Methods         map[string]bool
	ClusterID       string
	Rewrites        []RewriteDirective
	InsertionOrder  int
}

// ListenerProto is the wire protocol a Listener terminates.
type ListenerProto string

const (
	ProtoPlain ListenerProto = "plain"
	ProtoTLS   ListenerProto = "tls"
)

// Listener is a bound socket descriptor: its address and wire protocol. Frontends reference a
// Listener by address; the Listener itself holds no list of them.
type Listener struct {
	Addr  string
	Proto ListenerProto
}

// Snapshot is the immutable, process-wide registry view a Session captures at admission
// (spec.md §3, §5, §9). It is never mutated once published; reconfig builds a new Snapshot
// with Clone for each applied delta and publishes that instead.
type Snapshot struct {
	Clusters     map[string]Cluster
	Frontends    []Frontend
	Listeners    map[string]Listener
	CertStore    *certificates.Store
	DefaultCert  *certificates.Entry
	Generation   uint64
}

// Empty returns a zero-value Snapshot suitable as the initial registry state before any delta
// has been applied.
func Empty() *Snapshot {
	return &Snapshot{
		Clusters:  make(map[string]Cluster),
		Listeners: make(map[string]Listener),
		CertStore: certificates.NewStore(nil),
	}
}

// Cluster returns the named cluster and whether it exists.
func (s *Snapshot) Cluster(id string) (Cluster, bool) {
	c, ok := s.Clusters[id]
	return c, ok
}

// FrontendsFor returns the frontends bound to a given listener address, preserving the order
// the registry stored them in (insertion order, the router's final tie-break).
func (s *Snapshot) FrontendsFor(listenerAddr string) []Frontend {
	var out []Frontend
	for _, f := range s.Frontends {
		if f.ListenerAddr == listenerAddr {
			out = append(out, f)
		}
	}
	return out
}
