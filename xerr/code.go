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

// Package xerr provides coded, parent-chaining errors for the proxy core.
//
// Every fallible operation in the core returns a Code alongside the Go error so that
// propagation policy (§7 of the spec) can switch on it without string matching.
package xerr

import "strconv"

// Code classifies an error the way the proxy's propagation policy expects to see it.
type Code uint16

const (
	Unknown Code = iota
	ParseError
	ProtocolViolation
	BackendUnreachable
	BackendTimeout
	FrontendTimeout
	TlsHandshakeFailure
	NoMatchingFrontend
	NoHealthyBackend
	ResourceExhausted
	ConfigInvalid
	InternalInvariantViolation
)

var names = map[Code]string{
	Unknown:                    "unknown",
	ParseError:                 "parse_error",
	ProtocolViolation:          "protocol_violation",
	BackendUnreachable:         "backend_unreachable",
	BackendTimeout:             "backend_timeout",
	FrontendTimeout:            "frontend_timeout",
	TlsHandshakeFailure:        "tls_handshake_failure",
	NoMatchingFrontend:         "no_matching_frontend",
	NoHealthyBackend:           "no_healthy_backend",
	ResourceExhausted:          "resource_exhausted",
	ConfigInvalid:              "config_invalid",
	InternalInvariantViolation: "internal_invariant_violation",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "code(" + strconv.Itoa(int(c)) + ")"
}

// HTTPStatus is the propagation-policy mapping from §7: parse/protocol -> 400, no matching
// frontend -> 404, backend unreachable -> 502, no healthy backend or resource exhaustion -> 503,
// backend/frontend timeout -> 504, invalid config -> 422, anything else -> 500.
func (c Code) HTTPStatus() int {
	switch c {
	case ParseError, ProtocolViolation:
		return 400
	case NoMatchingFrontend:
		return 404
	case BackendUnreachable:
		return 502
	case NoHealthyBackend, ResourceExhausted:
		return 503
	case BackendTimeout, FrontendTimeout:
		return 504
	case ConfigInvalid:
		return 422
	default:
		return 500
	}
}
