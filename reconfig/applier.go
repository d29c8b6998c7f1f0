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

package reconfig

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nabbar/edgeproxy/certificates"
	"github.com/nabbar/edgeproxy/registry"
	"github.com/nabbar/edgeproxy/xerr"
)

// Applier is the single writer of the registry: Apply validates one delta at a time and, on
// success, publishes a new Snapshot by atomic pointer swap (spec.md §4.7, §9).
type Applier struct {
	snap     atomic.Pointer[registry.Snapshot]
	validate *validator.Validate

	mu     sync.Mutex
	seenID map[string]struct{}

	stopping atomic.Bool
	stopped  atomic.Bool

	softStopOnce     sync.Once
	softStopCh       chan struct{}
	softStopDeadline time.Duration

	hardStopOnce sync.Once
	hardStopCh   chan struct{}
}

// NewApplier starts an applier publishing the given initial snapshot.
func NewApplier(initial *registry.Snapshot) *Applier {
	a := &Applier{
		validate:   validator.New(),
		seenID:     make(map[string]struct{}),
		softStopCh: make(chan struct{}),
		hardStopCh: make(chan struct{}),
	}
	if initial == nil {
		initial = registry.Empty()
	}
	a.snap.Store(initial)
	return a
}

// Snapshot returns the current published registry view, the reference a new Session captures.
func (a *Applier) Snapshot() *registry.Snapshot {
	return a.snap.Load()
}

// Apply validates and applies one delta, all-or-nothing (spec.md §4.7). Applying the same
// delta id twice is a no-op that returns Ok without mutating the registry (spec.md §8
// idempotence property).
func (a *Applier) Apply(d Delta) Result {
	if d.Kind == SoftStop {
		a.beginSoftStop(d.SoftStopDeadline)
		return Result{ID: d.ID, Status: Ok}
	}
	if d.Kind == HardStop {
		a.stopped.Store(true)
		a.hardStopOnce.Do(func() { close(a.hardStopCh) })
		return Result{ID: d.ID, Status: Ok}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seenID[d.ID]; dup {
		return Result{ID: d.ID, Status: Ok}
	}

	if err := a.validateStruct(d); err != nil {
		return Result{ID: d.ID, Status: Error, Err: err}
	}

	next := a.snap.Load().Clone()
	if err := applyDelta(next, d); err != nil {
		return Result{ID: d.ID, Status: Error, Err: err}
	}
	if err := next.Validate(); err != nil {
		return Result{ID: d.ID, Status: Error, Err: err}
	}

	a.snap.Store(next)
	a.seenID[d.ID] = struct{}{}
	return Result{ID: d.ID, Status: Ok}
}

func (a *Applier) validateStruct(d Delta) xerr.Error {
	if d.Cluster != nil {
		if err := a.validate.Struct(d.Cluster); err != nil {
			return xerr.New(xerr.ConfigInvalid, err.Error(), err)
		}
	}
	if d.Backend != nil {
		if err := a.validate.Struct(d.Backend); err != nil {
			return xerr.New(xerr.ConfigInvalid, err.Error(), err)
		}
	}
	if d.Frontend != nil {
		if err := a.validate.Struct(d.Frontend); err != nil {
			return xerr.New(xerr.ConfigInvalid, err.Error(), err)
		}
	}
	if d.Certificate != nil {
		switch d.Kind {
		case AddCertificate:
			if len(d.Certificate.Names) == 0 {
				return xerr.New(xerr.ConfigInvalid, "certificate delta requires at least one name", nil)
			}
			if len(d.Certificate.CertPEM) == 0 || len(d.Certificate.KeyPEM) == 0 {
				return xerr.New(xerr.ConfigInvalid, "certificate delta requires CertPEM and KeyPEM", nil)
			}
		case RemoveCertificate:
			if d.Certificate.Fingerprint == "" {
				return xerr.New(xerr.ConfigInvalid, "certificate removal requires a fingerprint", nil)
			}
		}
	}
	return nil
}

func applyDelta(next *registry.Snapshot, d Delta) xerr.Error {
	switch d.Kind {
	case AddCluster:
		if d.Cluster == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		if _, exists := next.Clusters[d.Cluster.ID]; exists {
			return xerr.New(xerr.ConfigInvalid, "cluster already exists: "+d.Cluster.ID, nil)
		}
		next.Clusters[d.Cluster.ID] = *d.Cluster

	case RemoveCluster:
		if d.Cluster == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		for _, f := range next.Frontends {
			if f.ClusterID == d.Cluster.ID {
				return xerr.New(xerr.ConfigInvalid, "cluster still referenced by frontend "+f.ID, nil)
			}
		}
		delete(next.Clusters, d.Cluster.ID)

	case AddBackend:
		if d.Backend == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		c, ok := next.Clusters[d.Backend.ClusterID]
		if !ok {
			return xerr.New(xerr.ConfigInvalid, "unknown cluster: "+d.Backend.ClusterID, nil)
		}
		for _, b := range c.Backends {
			if b.ID == d.Backend.Backend.ID {
				return xerr.New(xerr.ConfigInvalid, "backend already exists: "+b.ID, nil)
			}
		}
		nb := d.Backend.Backend
		if nb.State == "" {
			nb.State = registry.Up
		}
		c.Backends = append(c.Backends, nb)
		next.Clusters[d.Backend.ClusterID] = c

	case RemoveBackend:
		if d.Backend == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		c, ok := next.Clusters[d.Backend.ClusterID]
		if !ok {
			return xerr.New(xerr.ConfigInvalid, "unknown cluster: "+d.Backend.ClusterID, nil)
		}
		filtered := c.Backends[:0]
		for _, b := range c.Backends {
			if b.ID != d.Backend.Backend.ID {
				filtered = append(filtered, b)
			}
		}
		c.Backends = filtered
		next.Clusters[d.Backend.ClusterID] = c

	case AddFrontend:
		if d.Frontend == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		fr := *d.Frontend
		fr.InsertionOrder = len(next.Frontends)
		next.Frontends = append(next.Frontends, fr)

	case RemoveFrontend:
		if d.Frontend == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		filtered := next.Frontends[:0]
		for _, f := range next.Frontends {
			if f.ID != d.Frontend.ID {
				filtered = append(filtered, f)
			}
		}
		next.Frontends = filtered

	case AddListener:
		if d.Listener == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		if _, exists := next.Listeners[d.Listener.Addr]; exists {
			return xerr.New(xerr.ConfigInvalid, "listener address already bound: "+d.Listener.Addr, nil)
		}
		next.Listeners[d.Listener.Addr] = *d.Listener

	case RemoveListener:
		if d.Listener == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		for _, f := range next.Frontends {
			if f.ListenerAddr == d.Listener.Addr {
				return xerr.New(xerr.ConfigInvalid, "listener still referenced by frontend "+f.ID, nil)
			}
		}
		delete(next.Listeners, d.Listener.Addr)

	case AddCertificate:
		if d.Certificate == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		entry, err := certificates.NewEntry(d.Certificate.Names, d.Certificate.CertPEM, d.Certificate.KeyPEM, d.Certificate.ActivatedAt)
		if err != nil {
			return xerr.New(xerr.ConfigInvalid, err.Error(), err)
		}
		next.CertStore = rebuildStore(next.CertStore, entry, nil)

	case RemoveCertificate:
		if d.Certificate == nil {
			return xerr.Of(xerr.ConfigInvalid, nil)
		}
		next.CertStore = rebuildStore(next.CertStore, certificates.Entry{}, &d.Certificate.Fingerprint)

	case QueryStatus, Metrics, QueryCertificates, QueryClusters:
		// read-only queries: nothing to mutate, always succeed against the current snapshot.

	default:
		return xerr.New(xerr.ConfigInvalid, "unknown delta kind: "+string(d.Kind), nil)
	}

	return nil
}

// beginSoftStop marks the applier as draining and records the deadline the worker package waits
// on before escalating to HardStop (spec.md §4.7 names the state transition, not the
// socket-level mechanics, which live with the Listener).
func (a *Applier) beginSoftStop(deadline time.Duration) {
	a.stopping.Store(true)
	a.softStopOnce.Do(func() {
		a.softStopDeadline = deadline
		close(a.softStopCh)
	})
}

// Stopping reports whether SoftStop has been requested.
func (a *Applier) Stopping() bool {
	return a.stopping.Load()
}

// Stopped reports whether HardStop has been requested (or SoftStop's deadline elapsed, set by
// the worker via ForceStop).
func (a *Applier) Stopped() bool {
	return a.stopped.Load()
}

// ForceStop is called by the worker when SoftStop's deadline elapses with sessions still open.
func (a *Applier) ForceStop() {
	a.stopped.Store(true)
}

// SoftStopRequested returns a channel closed exactly once, the first time a SoftStop delta is
// applied, so the worker can watch it alongside ctx.Done() in a select (spec.md §4.7).
func (a *Applier) SoftStopRequested() <-chan struct{} {
	return a.softStopCh
}

// HardStopRequested returns a channel closed exactly once, the first time a HardStop delta is
// applied.
func (a *Applier) HardStopRequested() <-chan struct{} {
	return a.hardStopCh
}

// SoftStopDeadline is the duration the first applied SoftStop delta asked the worker to wait for
// in-flight sessions to drain before escalating to HardStop; later SoftStop deltas do not change
// it. Zero means wait indefinitely.
func (a *Applier) SoftStopDeadline() time.Duration {
	return a.softStopDeadline
}

// UpdateBackendState publishes a new snapshot with a cluster's backends replaced wholesale, the
// path the healthcheck package's circuit-breaking transitions use to feed their result back into
// the registry without going through the client-facing delta kinds (spec.md §4.6 circuit
// breaking is an internal feedback loop, not an operator-issued change).
func (a *Applier) UpdateBackendState(clusterID string, backends []registry.Backend) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.snap.Load().Clone()
	c, ok := next.Clusters[clusterID]
	if !ok {
		return
	}
	c.Backends = backends
	next.Clusters[clusterID] = c
	a.snap.Store(next)
}

func rebuildStore(old *certificates.Store, add certificates.Entry, removeFingerprint *string) *certificates.Store {
	entries := old.Entries()
	if removeFingerprint != nil {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Fingerprint != *removeFingerprint {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	} else {
		entries = append(entries, add)
	}
	return certificates.NewStore(entries)
}
