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

import "github.com/nabbar/edgeproxy/xerr"

// Validate checks these registry invariants from spec.md §3: every Frontend references an
// existing Cluster and an existing Listener; every listener address is unique (guaranteed by the
// map key itself); no backend ID belongs to more than one cluster. Whether each certificate is
// reachable through at least one Frontend is not checked, here or by any caller.
func (s *Snapshot) Validate() xerr.Error {
	for _, f := range s.Frontends {
		if _, ok := s.Clusters[f.ClusterID]; !ok {
			return xerr.New(xerr.ConfigInvalid, "frontend "+f.ID+" references missing cluster "+f.ClusterID, nil)
		}
		if _, ok := s.Listeners[f.ListenerAddr]; !ok {
			return xerr.New(xerr.ConfigInvalid, "frontend "+f.ID+" references missing listener "+f.ListenerAddr, nil)
		}
	}

	seenBackend := make(map[string]string)
	for cid, c := range s.Clusters {
		for _, b := range c.Backends {
			if owner, dup := seenBackend[b.ID]; dup && owner != cid {
				return xerr.New(xerr.ConfigInvalid, "backend "+b.ID+" belongs to more than one cluster", nil)
			}
			seenBackend[b.ID] = cid
		}
	}

	return nil
}
