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
	"time"

	"github.com/nabbar/edgeproxy/registry"
)

// RecordFailure applies spec.md §4.6's circuit-breaking rule: a backend transitions to Down
// after FailThreshold consecutive failures (or health-check failures) and is excluded from
// selection until the cool-down elapses and a probe succeeds.
func RecordFailure(c *registry.Cluster, backendID string, at time.Time) {
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.ID != backendID {
			continue
		}
		b.ConsecutiveFailures++
		b.LastFailureAt = at
		if b.State == registry.Up && b.ConsecutiveFailures >= effectiveThreshold(c.FailThreshold) {
			b.State = registry.Down
			b.DownSince = at
		}
		return
	}
}

// RecordSuccess resets the failure counter and, if the backend was down, restores it to Up —
// the caller is expected to have already decided the cool-down elapsed and a probe passed.
func RecordSuccess(c *registry.Cluster, backendID string) {
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.ID != backendID {
			continue
		}
		b.ConsecutiveFailures = 0
		if b.State == registry.Down {
			b.State = registry.Up
			b.DownSince = time.Time{}
		}
		return
	}
}

// EligibleForProbe reports whether a down backend's cool-down has elapsed and it should be
// probed again.
func EligibleForProbe(c registry.Cluster, b registry.Backend, now time.Time) bool {
	if b.State != registry.Down {
		return false
	}
	cooldown := c.CoolDown
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	return now.Sub(b.DownSince) >= cooldown
}

func effectiveThreshold(configured int) int {
	if configured <= 0 {
		return 3
	}
	return configured
}
