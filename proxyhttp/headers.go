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

import (
	"net"
	"net/http"
	"strings"
)

// hopByHop lists the headers spec.md §4.4 requires stripped before forwarding in either
// direction: connection-scoped headers a proxy must not blindly relay.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// isUpgrade reports whether this request is a WebSocket/TCP upgrade (spec.md §4.4's
// byte-stream-forwarding state after a 101 response), which must keep Connection/Upgrade intact
// so httputil.ReverseProxy's own hijack-and-ferry path can take over.
func isUpgrade(h http.Header) bool {
	return strings.EqualFold(h.Get("Upgrade"), "") == false && strings.Contains(strings.ToLower(h.Get("Connection")), "upgrade")
}

// stripHopByHop removes the fixed hop-by-hop set plus anything the Connection header itself
// names (RFC 7230 §6.1), mutating h in place. An Upgrade request is left untouched: spec.md
// §4.4 forwards Connection/Upgrade verbatim so the 101 handshake completes.
func stripHopByHop(h http.Header) {
	if isUpgrade(h) {
		return
	}
	if conn := h.Get("Connection"); conn != "" {
		for _, tok := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(tok))
		}
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
}

// addForwardingHeaders appends X-Forwarded-For/Proto/Port and Forwarded (RFC 7239), the way
// spec.md §4.4 specifies, preserving any prior hop's values instead of overwriting them.
func addForwardingHeaders(h http.Header, remoteAddr, proto, listenPort string) {
	clientIP := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		clientIP = host
	}

	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		h.Set("X-Forwarded-For", clientIP)
	}
	h.Set("X-Forwarded-Proto", proto)
	h.Set("X-Forwarded-Port", listenPort)

	forwarded := "for=" + clientIP + ";proto=" + proto
	if prior := h.Get("Forwarded"); prior != "" {
		h.Set("Forwarded", prior+", "+forwarded)
	} else {
		h.Set("Forwarded", forwarded)
	}
}
