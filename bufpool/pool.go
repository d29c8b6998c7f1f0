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

// Package bufpool is the fixed-size buffer pool of spec.md §4.2: reusable byte regions for
// front/back streaming, handed out one at a time (not as front/back pairs). Its consumer is the
// BufferPool httputil.ReverseProxy expects, so a region is leased for one copy loop between front
// and back sockets and returned when that copy ends, not held for a session's lifetime; this
// replaces net/http's default per-copy allocation.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// DefaultSize is the default region size from spec.md §4.2 (16 KiB).
const DefaultSize = 16 * 1024

// Pool hands out byte slices of a fixed capacity and counts the Get calls its limit refuses.
// No connection is rejected at admission on exhaustion: the proxyhttp adapter allocates a
// fresh region when Get fails.
type Pool struct {
	size      int
	pool      sync.Pool
	leased    int64
	exhausted int64
	limit     int64
}

// New creates a pool of regions of the given size. limit caps the number of concurrently leased
// regions; 0 means unbounded (still reusing via sync.Pool, but never rejecting).
func New(size int, limit int64) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{size: size, limit: limit}
	p.pool.New = func() any {
		b := make([]byte, p.size)
		return &b
	}
	return p
}

// Get leases a region, or reports exhaustion if the pool's limit has been reached.
func (p *Pool) Get() (*[]byte, bool) {
	if p.limit > 0 {
		if atomic.AddInt64(&p.leased, 1) > p.limit {
			atomic.AddInt64(&p.leased, -1)
			atomic.AddInt64(&p.exhausted, 1)
			return nil, false
		}
	}
	buf := p.pool.Get().(*[]byte)
	return buf, true
}

// Put returns a region to the pool and releases its slot against the limit.
func (p *Pool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	*buf = (*buf)[:cap(*buf)]
	p.pool.Put(buf)
	if p.limit > 0 {
		atomic.AddInt64(&p.leased, -1)
	}
}

// Exhausted returns the number of Get calls that failed because the pool's limit was reached.
func (p *Pool) Exhausted() int64 {
	return atomic.LoadInt64(&p.exhausted)
}

// Leased returns the current number of outstanding regions.
func (p *Pool) Leased() int64 {
	return atomic.LoadInt64(&p.leased)
}
