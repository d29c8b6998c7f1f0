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

// Package slab is the socket pool of spec.md §4.2: a slab of session slots keyed by a
// generational token, so that an event delivered for a slot that has since been freed and
// reused is safely discarded instead of dispatched to the wrong session.
package slab

import "sync"

// Token identifies a slot at a point in time: Index picks the slot, Generation distinguishes
// the occupant that held it when the token was issued from whoever holds it now.
type Token struct {
	Index      uint32
	Generation uint32
}

type slot struct {
	gen   uint32
	value any
	free  bool
}

// Slab is a fixed-growth slice of slots, each independently generation-tagged.
type Slab struct {
	mu    sync.Mutex
	slots []slot
	freeL []uint32
}

// New creates an empty slab.
func New() *Slab {
	return &Slab{}
}

// Alloc stores value in a free (or new) slot and returns its token.
func (s *Slab) Alloc(value any) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.freeL); n > 0 {
		idx := s.freeL[n-1]
		s.freeL = s.freeL[:n-1]
		sl := &s.slots[idx]
		sl.value = value
		sl.free = false
		return Token{Index: idx, Generation: sl.gen}
	}

	idx := uint32(len(s.slots))
	s.slots = append(s.slots, slot{gen: 1, value: value})
	return Token{Index: idx, Generation: 1}
}

// Get returns the value stored for a token, or (nil, false) if the slot was freed or reused
// since the token was issued — the stale-event discard path spec.md §4.2 requires.
func (s *Slab) Get(t Token) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(t.Index) >= len(s.slots) {
		return nil, false
	}
	sl := &s.slots[t.Index]
	if sl.free || sl.gen != t.Generation {
		return nil, false
	}
	return sl.value, true
}

// Free releases a slot, bumping its generation so any token issued before this call is
// thereafter rejected by Get.
func (s *Slab) Free(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(t.Index) >= len(s.slots) {
		return
	}
	sl := &s.slots[t.Index]
	if sl.free || sl.gen != t.Generation {
		return
	}
	sl.free = true
	sl.value = nil
	sl.gen++
	s.freeL = append(s.freeL, t.Index)
}

// Len returns the number of occupied slots.
func (s *Slab) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) - len(s.freeL)
}
