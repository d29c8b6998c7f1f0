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

// Package timeoutwheel is the per-session timer facility of spec.md §4.8: connect, handshake,
// front-request-read, back-request-write, back-response-read, front-response-write and idle
// timers, implemented as a single-level wheel keyed by deadline. There is no hierarchy of wheels:
// a deadline beyond one revolution is carried by a per-entry round counter.
package timeoutwheel

import (
	"strconv"
	"sync"
	"time"
)

// Kind names the timer variants spec.md §4.8 lists.
type Kind string

const (
	Connect           Kind = "connect"
	Handshake         Kind = "handshake"
	FrontRequestRead  Kind = "front_request_read"
	BackRequestWrite  Kind = "back_request_write"
	BackResponseRead  Kind = "back_response_read"
	FrontResponseWrite Kind = "front_response_write"
	Idle              Kind = "idle"
)

// Expiry is the typed event delivered to a session when one of its timers fires.
type Expiry struct {
	Token uint64
	Kind  Kind
}

// MinGranularity is the floor from spec.md §4.8.
const MinGranularity = 10 * time.Millisecond

type entry struct {
	token   uint64
	kind    Kind
	bucket  int
	round   int
	onFire  func(Expiry)
}

// Wheel is a single-level timing wheel (one ring of slots, not a hierarchy): each Tick call
// advances one slot and fires everything scheduled there whose round counter has reached zero.
type Wheel struct {
	mu         sync.Mutex
	granularity time.Duration
	slots       [][]*entry
	cursor      int
	byKey       map[string]*entry
	stop        chan struct{}
}

// New creates a wheel with the given slot count and granularity (clamped to MinGranularity).
func New(slots int, granularity time.Duration) *Wheel {
	if slots <= 0 {
		slots = 1024
	}
	if granularity < MinGranularity {
		granularity = MinGranularity
	}
	return &Wheel{
		granularity: granularity,
		slots:       make([][]*entry, slots),
		byKey:       make(map[string]*entry),
		stop:        make(chan struct{}),
	}
}

// Schedule arms a timer for token/kind that fires onFire after d elapses. Re-scheduling the
// same token+kind (e.g. resetting an idle timer on traffic) replaces the prior entry.
func (w *Wheel) Schedule(token uint64, kind Kind, d time.Duration, onFire func(Expiry)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancelLocked(token, kind)

	ticks := int(d / w.granularity)
	if ticks < 1 {
		ticks = 1
	}
	n := len(w.slots)
	bucket := (w.cursor + ticks) % n
	round := (ticks - 1) / n

	e := &entry{token: token, kind: kind, bucket: bucket, round: round, onFire: onFire}
	w.slots[bucket] = append(w.slots[bucket], e)
	w.byKey[key(token, kind)] = e
}

// Cancel disarms a previously scheduled timer, if any.
func (w *Wheel) Cancel(token uint64, kind Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked(token, kind)
}

func (w *Wheel) cancelLocked(token uint64, kind Kind) {
	k := key(token, kind)
	e, ok := w.byKey[k]
	if !ok {
		return
	}
	delete(w.byKey, k)
	bucket := w.slots[e.bucket]
	for i, o := range bucket {
		if o == e {
			w.slots[e.bucket] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
}

// Run drives the wheel on its own ticker until Stop is called, invoking each entry's onFire
// callback as its timer fires.
func (w *Wheel) Run() {
	t := time.NewTicker(w.granularity)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.Tick()
		}
	}
}

// Tick advances the wheel by one granularity step, firing (and removing) every entry in the
// current slot whose round has elapsed, and decrementing the round of everything else there.
// Run calls this on its own ticker; tests call it directly for determinism.
func (w *Wheel) Tick() {
	w.mu.Lock()
	w.cursor = (w.cursor + 1) % len(w.slots)
	bucket := w.slots[w.cursor]

	var fire []*entry
	var remaining []*entry
	for _, e := range bucket {
		if e.round > 0 {
			e.round--
			remaining = append(remaining, e)
			continue
		}
		delete(w.byKey, key(e.token, e.kind))
		fire = append(fire, e)
	}
	w.slots[w.cursor] = remaining
	w.mu.Unlock()

	for _, e := range fire {
		if e.onFire != nil {
			e.onFire(Expiry{Token: e.token, Kind: e.kind})
		}
	}
}

// Stop halts Run.
func (w *Wheel) Stop() {
	close(w.stop)
}

func key(token uint64, kind Kind) string {
	return string(kind) + ":" + strconv.FormatUint(token, 10)
}
