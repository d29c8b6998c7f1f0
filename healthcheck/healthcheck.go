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

// Package healthcheck runs the active probes spec.md §4.6's circuit breaker feeds on: one HTTP
// GET per backend at its configured HealthCheckPath, fanned out concurrently with
// golang.org/x/sync/errgroup, with golang.org/x/sync/singleflight collapsing overlapping probes
// of the same backend into one. Probes are started only by SweepCluster, which the worker's
// periodic ticker calls.
package healthcheck

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nabbar/edgeproxy/registry"
	"github.com/nabbar/edgeproxy/router"
)

// DefaultTimeout bounds a single probe request.
const DefaultTimeout = 3 * time.Second

// Prober issues the HTTP probes; Client is overridable for tests.
type Prober struct {
	Client *http.Client

	group singleflight.Group
}

// NewProber builds a Prober with a client bounded by DefaultTimeout.
func NewProber() *Prober {
	return &Prober{Client: &http.Client{Timeout: DefaultTimeout}}
}

// Probe issues one GET against backend.Address+path and reports whether it returned a
// non-5xx, non-error response. Overlapping calls for the same (clusterID, backendID) collapse
// onto a single in-flight request.
func (p *Prober) Probe(ctx context.Context, clusterID string, backend registry.Backend, path string) bool {
	key := clusterID + "/" + backend.ID
	v, _, _ := p.group.Do(key, func() (any, error) {
		return p.probeOnce(ctx, backend, path), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (p *Prober) probeOnce(ctx context.Context, backend registry.Backend, path string) bool {
	if path == "" {
		path = "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+backend.Address+path, nil)
	if err != nil {
		return false
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// SweepCluster probes every backend of c concurrently and applies spec.md §4.6's circuit
// breaking transitions: a failing Up backend is pushed toward Down via router.RecordFailure, a
// passing Down backend (past its cool-down, per router.EligibleForProbe) is restored via
// router.RecordSuccess. The caller is responsible for publishing the mutated Cluster back into
// the registry through a reconfig delta; SweepCluster only computes the new state.
func (p *Prober) SweepCluster(ctx context.Context, c *registry.Cluster, now time.Time) error {
	g, ctx := errgroup.WithContext(ctx)

	type outcome struct {
		id  string
		up  bool
	}
	results := make(chan outcome, len(c.Backends))

	for _, b := range c.Backends {
		b := b
		if b.State == registry.Down && !router.EligibleForProbe(*c, b, now) {
			continue
		}
		g.Go(func() error {
			ok := p.Probe(ctx, c.ID, b, c.HealthCheckPath)
			results <- outcome{id: b.ID, up: ok}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	close(results)

	for r := range results {
		if r.up {
			router.RecordSuccess(c, r.id)
		} else {
			router.RecordFailure(c, r.id, now)
		}
	}
	return nil
}
