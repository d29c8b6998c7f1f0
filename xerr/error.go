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

package xerr

import (
	"fmt"
	"runtime"
	"strings"
)

// Error is a coded error that can chain parents, the way a session's failure often wraps a
// lower-level socket or TLS failure without losing the original cause.
type Error interface {
	error
	Code() Code
	HasCode(c Code) bool
	Add(parent ...error)
	Parents() []error
	Trace() string
}

type coded struct {
	c Code
	m string
	p []error
	t runtime.Frame
}

// New creates a coded error with an optional wrapped parent.
func New(c Code, msg string, parent error) Error {
	pc, file, line, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	frame := runtime.Frame{File: file, Line: line}
	if fn != nil {
		frame.Function = fn.Name()
	}

	e := &coded{c: c, m: msg, t: frame}
	if parent != nil {
		e.p = append(e.p, parent)
	}
	return e
}

// Of is a convenience wrapper for New(c, c.String(), parent).
func Of(c Code, parent error) Error {
	return New(c, c.String(), parent)
}

func (e *coded) Error() string {
	if e.m == "" {
		return e.c.String()
	}
	return e.m
}

func (e *coded) Code() Code {
	return e.c
}

func (e *coded) HasCode(c Code) bool {
	if e.c == c {
		return true
	}
	for _, p := range e.p {
		if ce, ok := p.(Error); ok && ce.HasCode(c) {
			return true
		}
	}
	return false
}

func (e *coded) Add(parent ...error) {
	for _, v := range parent {
		if v != nil {
			e.p = append(e.p, v)
		}
	}
}

func (e *coded) Parents() []error {
	return e.p
}

func (e *coded) Trace() string {
	return fmt.Sprintf("%s:%d (%s)", e.t.File, e.t.Line, e.t.Function)
}

// Chain renders the full parent chain, innermost last, for logging.
func Chain(err error) string {
	var parts []string
	for err != nil {
		parts = append(parts, err.Error())
		if ce, ok := err.(Error); ok && len(ce.Parents()) > 0 {
			err = ce.Parents()[0]
			continue
		}
		break
	}
	return strings.Join(parts, ": ")
}
