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

package proxyhttp

import "github.com/nabbar/edgeproxy/bufpool"

// bufferPoolAdapter makes bufpool.Pool satisfy httputil.ReverseProxy's BufferPool interface, so
// the front/back streaming copy in spec.md §4.4 reuses the same 16 KiB regions the rest of the
// core leases from (spec.md §4.2), instead of net/http's internal 32 KiB scratch allocation.
type bufferPoolAdapter struct {
	pool *bufpool.Pool
}

func newBufferPoolAdapter(p *bufpool.Pool) *bufferPoolAdapter {
	return &bufferPoolAdapter{pool: p}
}

func (a *bufferPoolAdapter) Get() []byte {
	buf, ok := a.pool.Get()
	if !ok {
		b := make([]byte, bufpool.DefaultSize)
		return b
	}
	return *buf
}

func (a *bufferPoolAdapter) Put(b []byte) {
	a.pool.Put(&b)
}
