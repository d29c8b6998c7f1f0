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

// Package logger wraps logrus with the session/cluster/backend fields the proxy core attaches
// to every structured event in spec.md §6.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base *logrus.Logger
)

// Base returns the process-wide logrus logger, created once with JSON output to stdout.
func Base() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetFormatter(&logrus.JSONFormatter{})
		base.SetOutput(os.Stdout)
		base.SetLevel(logrus.InfoLevel)
	})
	return base
}

// SetOutput redirects the base logger, used by tests to capture output.
func SetOutput(w io.Writer) {
	Base().SetOutput(w)
}

// SetLevel parses and applies a level name, defaulting to info on parse failure.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Base().SetLevel(lvl)
}

// Entry is an alias of logrus.Entry; Session and Event return one seeded with the session token
// or the event name respectively.
type Entry = logrus.Entry

// Session returns an Entry carrying the session token, used by every per-session log line so
// that a log aggregator can group a session's lifetime without re-parsing message text.
func Session(token uint64) *Entry {
	return Base().WithField("session", token)
}

// Event returns an Entry for one of the named observability events in spec.md §6.
func Event(name string) *Entry {
	return Base().WithField("event", name)
}
