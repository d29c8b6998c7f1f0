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

package proxyhttp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// signSticky builds an opaque "clusterID.backendID.mac" cookie value (spec.md §9 open question:
// the spec leaves the sticky cookie's internal format unspecified; this HMAC construction stops
// a client from pinning itself to an arbitrary backend id it never received from us).
func signSticky(secret []byte, clusterID, backendID string) string {
	payload := clusterID + "." + backendID
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	sum := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return payload + "." + sum
}

// verifySticky recovers the backend id from a cookie value previously produced by signSticky,
// for the same clusterID, rejecting anything tampered with or minted for a different cluster.
func verifySticky(secret []byte, clusterID, value string) (string, bool) {
	parts := strings.SplitN(value, ".", 3)
	if len(parts) != 3 || parts[0] != clusterID {
		return "", false
	}

	want := signSticky(secret, parts[0], parts[1])
	if !hmac.Equal([]byte(want), []byte(value)) {
		return "", false
	}
	return parts[1], true
}
