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

package certificates

import (
	"crypto/tls"
	"time"
)

// HandshakeTimeout is the default dedicated handshake timeout from spec.md §4.3.
const HandshakeTimeout = 10 * time.Second

// NewTLSConfig builds the *tls.Config the TLS engine hands to a Listener: certificate selection
// is SNI-driven via Select, ALPN offers h2 then http/1.1 (the order the HTTP/2 SM in spec.md
// §4.5 expects so that h2 wins when both peers support it), and a missing match without a
// default certificate closes the connection with alert 112 (unrecognized_name).
func NewTLSConfig(store *Store, defaultEntry *Entry, minVersion, maxVersion uint16) *tls.Config {
	cfg := &tls.Config{
		MinVersion: minVersion,
		MaxVersion: maxVersion,
		NextProtos: []string{"h2", "http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if e, ok := store.Select(hello.ServerName); ok {
				return &e.Chain, nil
			}
			if defaultEntry != nil {
				return &defaultEntry.Chain, nil
			}
			// (nil, nil) with no static Certificates is what makes crypto/tls answer with
			// unrecognized_name; any non-nil error would be sent as internal_error instead.
			return nil, nil
		},
	}
	return cfg
}
