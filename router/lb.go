/*
 * MIT License
 *
 * Copyright (c) 2019 Nicolas JUHEL
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

package router

import (
	"math/rand"
	"sync/atomic"

	"github.com/nabbar/edgeproxy/registry"
	"github.com/nabbar/edgeproxy/xerr"
)

// Balancer picks one healthy backend per request for a cluster. One Balancer is held per
// cluster id by the worker so round-robin cursors survive across requests on the same
// generation of the registry (spec.md §4.6).
type Balancer struct {
	cursor uint64
}

// NewBalancer returns a fresh balancer with a zeroed round-robin cursor.
func NewBalancer() *Balancer {
	return &Balancer{}
}

// Pick selects a backend from the cluster's up backends according to its policy. stickyBackend,
// when non-empty and naming an up backend, pins the request to it (spec.md §4.6 stickiness)
// ahead of the configured policy.
func (b *Balancer) Pick(c registry.Cluster, stickyBackend string) (registry.Backend, xerr.Error) {
	up := upBackends(c.Backends)
	if len(up) == 0 {
		return registry.Backend{}, xerr.Of(xerr.NoHealthyBackend, nil)
	}

	if c.Policy == registry.Sticky && stickyBackend != "" {
		for _, be := range up {
			if be.ID == stickyBackend {
				return be, nil
			}
		}
	}

	switch c.Policy {
	case registry.Random:
		return up[rand.Intn(len(up))], nil
	case registry.LeastLoaded:
		return leastLoaded(up), nil
	case registry.PowerOfTwo:
		return powerOfTwo(up), nil
	case registry.Sticky:
		// no sticky cookie yet: fall through to round-robin so a new session gets pinned
		fallthrough
	default:
		idx := atomic.AddUint64(&b.cursor, 1) - 1
		return up[int(idx%uint64(len(up)))], nil
	}
}

func upBackends(backends []registry.Backend) []registry.Backend {
	var out []registry.Backend
	for _, b := range backends {
		if b.State == registry.Up {
			out = append(out, b)
		}
	}
	return out
}

func leastLoaded(up []registry.Backend) registry.Backend {
	best := up[0]
	for _, b := range up[1:] {
		if b.InFlight < best.InFlight {
			best = b
		}
	}
	return best
}

func powerOfTwo(up []registry.Backend) registry.Backend {
	if len(up) == 1 {
		return up[0]
	}
	i, j := rand.Intn(len(up)), rand.Intn(len(up)-1)
	if j >= i {
		j++
	}
	a, c := up[i], up[j]
	if a.InFlight <= c.InFlight {
		return a
	}
	return c
}
