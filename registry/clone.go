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

package registry

// Clone returns a shallow copy: the Clusters, Listeners and Frontends containers and each
// cluster's Backends slice are re-allocated so the reconfig applier can replace entries and edit
// backend state in the copy before publishing it, while every session still holding the
// previous Snapshot keeps observing untouched data (spec.md §9's copy-on-write strategy for the
// shared immutable snapshot). Maps and slices inside a Frontend (Methods, Rewrites) and the
// CertStore are shared with the original, not copied.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Clusters:    make(map[string]Cluster, len(s.Clusters)),
		Frontends:   append([]Frontend(nil), s.Frontends...),
		Listeners:   make(map[string]Listener, len(s.Listeners)),
		CertStore:   s.CertStore,
		DefaultCert: s.DefaultCert,
		Generation:  s.Generation + 1,
	}

	for k, c := range s.Clusters {
		c.Backends = append([]Backend(nil), c.Backends...)
		out.Clusters[k] = c
	}
	for k, l := range s.Listeners {
		out.Listeners[k] = l
	}

	return out
}
