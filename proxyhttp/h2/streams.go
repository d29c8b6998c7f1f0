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

// Package h2 maps golang.org/x/net/http2 conditions onto the core's coded error model for
// spec.md §4.5's HTTP/2 path. Stream-concurrency accounting and HPACK dynamic-table bookkeeping
// are left to http2.Server/http2.Transport themselves (MaxConcurrentStreams, MaxHeaderListSize) —
// this package only translates the frame-level failures that cross back into proxyhttp.
package h2

import (
	"golang.org/x/net/http2"

	"github.com/nabbar/edgeproxy/xerr"
)

// DefaultMaxConcurrentStreams mirrors golang.org/x/net/http2's own server default; the worker
// applies it to every TLS listener, and no per-cluster setting overrides it (spec.md §4.5).
const DefaultMaxConcurrentStreams = 250

// GoAwayReason maps an http2.ErrCode from a received GOAWAY/RST_STREAM frame onto the core's
// coded error model (spec.md §7 propagation policy). proxyhttp.classifyBackendError calls this on
// every backend RoundTrip error so a backend-initiated GOAWAY/RST_STREAM reaches the client and
// the circuit breaker with the same coded error a timeout or a dial failure would produce, instead
// of collapsing to a generic BackendUnreachable.
func GoAwayReason(code http2.ErrCode) xerr.Error {
	switch code {
	case http2.ErrCodeNo:
		return nil
	case http2.ErrCodeFlowControl, http2.ErrCodeProtocol, http2.ErrCodeFrameSize, http2.ErrCodeCompression:
		return xerr.Of(xerr.ProtocolViolation, nil)
	case http2.ErrCodeRefusedStream, http2.ErrCodeEnhanceYourCalm:
		return xerr.Of(xerr.ResourceExhausted, nil)
	default:
		return xerr.Of(xerr.BackendUnreachable, nil)
	}
}
