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

// Package certificates is the TLS engine's SNI certificate index (spec.md §4.3): it holds one or
// more certificate entries per DNS name (including wildcards) and selects the best match for a
// ClientHello's server name.
package certificates

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Entry is a certificate chain + private key, indexed by the DNS names it covers.
type Entry struct {
	Names      []string
	Chain      tls.Certificate
	Fingerprint string
	ActivatedAt time.Time
}

// NewEntry builds an Entry from a PEM key pair; its fingerprint is the SHA-256 of certPEM as given.
func NewEntry(names []string, certPEM, keyPEM []byte, activatedAt time.Time) (Entry, error) {
	chain, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return Entry{}, err
	}

	sum := sha256.Sum256(certPEM)
	return Entry{
		Names:       append([]string(nil), names...),
		Chain:       chain,
		Fingerprint: hex.EncodeToString(sum[:]),
		ActivatedAt: activatedAt,
	}, nil
}

// Store indexes certificate entries by DNS name for SNI-driven selection. It is immutable once
// built: the registry publishes a new Store on every certificate add/remove, and in-flight TLS
// handshakes keep the Store reference they captured at admission (spec.md §9 open question).
type Store struct {
	byName map[string][]Entry
}

// NewStore builds an index from a flat list of entries, one bucket per name (exact or wildcard).
func NewStore(entries []Entry) *Store {
	s := &Store{byName: make(map[string][]Entry)}
	for _, e := range entries {
		for _, n := range e.Names {
			key := strings.ToLower(n)
			s.byName[key] = append(s.byName[key], e)
		}
	}
	for k := range s.byName {
		sort.Slice(s.byName[k], func(i, j int) bool {
			return s.byName[k][i].ActivatedAt.After(s.byName[k][j].ActivatedAt)
		})
	}
	return s
}

// Select implements the selection policy from spec.md §4.3: exact name match beats longest
// wildcard match; among ties, most recent activation wins; further ties break on fingerprint
// ascending (spec.md §9 open question resolution) for a deterministic total order.
func (s *Store) Select(serverName string) (Entry, bool) {
	name := strings.ToLower(strings.TrimSuffix(serverName, "."))
	if name == "" {
		return Entry{}, false
	}

	if es, ok := s.byName[name]; ok && len(es) > 0 {
		return best(es), true
	}

	labels := strings.Split(name, ".")
	for i := 1; i < len(labels); i++ {
		wildcard := "*." + strings.Join(labels[i:], ".")
		if es, ok := s.byName[wildcard]; ok && len(es) > 0 {
			return best(es), true
		}
	}

	return Entry{}, false
}

func best(es []Entry) Entry {
	out := es[0]
	for _, e := range es[1:] {
		if e.ActivatedAt.After(out.ActivatedAt) {
			out = e
		} else if e.ActivatedAt.Equal(out.ActivatedAt) && e.Fingerprint < out.Fingerprint {
			out = e
		}
	}
	return out
}

// Len returns the number of distinct entries indexed (de-duplicated by fingerprint), as reported
// by the admin API's certificate listing.
func (s *Store) Len() int {
	return len(s.Entries())
}

// Entries returns the flat, de-duplicated (by fingerprint) list of entries this Store indexes,
// used by reconfig to rebuild a Store around an add or remove without losing sibling names.
func (s *Store) Entries() []Entry {
	seen := make(map[string]struct{})
	var out []Entry
	for _, es := range s.byName {
		for _, e := range es {
			if _, ok := seen[e.Fingerprint]; ok {
				continue
			}
			seen[e.Fingerprint] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
