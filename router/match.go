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

// Package router implements spec.md §4.6: given (listener, SNI, Host, method, path), find the
// matching Frontend and load-balance over its Cluster's healthy backends.
package router

import (
	"strings"

	"github.com/nabbar/edgeproxy/registry"
	"github.com/nabbar/edgeproxy/xerr"
)

// Request is the tuple the router matches against, taken off the wire before any backend
// connection is opened (spec.md §4.4: "Requests are routed after the header is fully parsed").
type Request struct {
	ListenerAddr string
	SNI          string
	Host         string
	Method       string
	Path         string
}

// Match finds the frontend bound to the request's listener among those whose SNI/Host/path/method
// all match, per spec.md §4.6: an exact path match beats any prefix match, a longer prefix beats
// a shorter one, and remaining ties break on insertion order ascending.
func Match(snap *registry.Snapshot, req Request) (registry.Frontend, xerr.Error) {
	candidates := snap.FrontendsFor(req.ListenerAddr)

	var (
		best      registry.Frontend
		bestExact bool
		bestLen   = -1
		found     bool
	)

	for _, f := range candidates {
		if !sniMatches(f.SNIPattern, req.SNI) {
			continue
		}
		if !hostMatches(f.HostPattern, req.Host) {
			continue
		}
		if len(f.Methods) > 0 && !f.Methods[req.Method] {
			continue
		}

		plen, ok := pathMatches(f, req.Path)
		if !ok {
			continue
		}
		exact := f.PathExact

		switch {
		case !found:
			found = true
		case exact && !bestExact:
			// exact beats any prefix match, regardless of length
		case exact == bestExact && plen > bestLen:
			// longer prefix (or equally-exact) wins
		case exact == bestExact && plen == bestLen && f.InsertionOrder < best.InsertionOrder:
			// tie broken by insertion order
		default:
			continue
		}

		best, bestExact, bestLen = f, exact, plen
	}

	if !found {
		return registry.Frontend{}, xerr.Of(xerr.NoMatchingFrontend, nil)
	}
	return best, nil
}

func sniMatches(pattern, sni string) bool {
	if pattern == "" {
		return true
	}
	return hostMatches(pattern, sni)
}

func hostMatches(pattern, host string) bool {
	if pattern == "" {
		return true
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	pattern = strings.ToLower(pattern)

	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}

	suffix := pattern[1:] // keep the leading dot
	return strings.HasSuffix(host, suffix) && host != suffix[1:]
}

// pathMatches returns the matched length (for longest-prefix comparisons) and whether it
// matched at all: exact rules require byte-equality, prefix rules require a path prefix.
func pathMatches(f registry.Frontend, path string) (int, bool) {
	if f.PathExact {
		if f.PathPrefix == path {
			return len(f.PathPrefix), true
		}
		return 0, false
	}
	if strings.HasPrefix(path, f.PathPrefix) {
		return len(f.PathPrefix), true
	}
	return 0, false
}
