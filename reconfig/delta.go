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

// Package reconfig is the reconfiguration applier of spec.md §4.7: it accepts typed deltas,
// validates each one against the registry invariants, and publishes a new immutable Snapshot by
// swapping a shared pointer — never mutating the one in-flight sessions already hold.
package reconfig

import (
	"time"

	"github.com/nabbar/edgeproxy/registry"
)

// Kind is the delta's type tag, one per spec.md §4.7 operation.
type Kind string

const (
	AddCluster        Kind = "AddCluster"
	RemoveCluster     Kind = "RemoveCluster"
	AddBackend        Kind = "AddBackend"
	RemoveBackend     Kind = "RemoveBackend"
	AddFrontend       Kind = "AddFrontend"
	RemoveFrontend    Kind = "RemoveFrontend"
	AddCertificate    Kind = "AddCertificate"
	RemoveCertificate Kind = "RemoveCertificate"
	AddListener       Kind = "AddListener"
	RemoveListener    Kind = "RemoveListener"
	SoftStop          Kind = "SoftStop"
	HardStop          Kind = "HardStop"
	QueryStatus       Kind = "Status"
	Metrics           Kind = "Metrics"
	QueryCertificates Kind = "QueryCertificates"
	QueryClusters     Kind = "QueryClusters"
)

// Delta is one validated, atomic change request against the registry (spec.md glossary).
type Delta struct {
	ID   string `validate:"required"`
	Kind Kind   `validate:"required"`

	Cluster     *registry.Cluster     `validate:"omitempty"`
	Backend     *BackendDelta         `validate:"omitempty"`
	Frontend    *registry.Frontend    `validate:"omitempty"`
	Certificate *CertificateDelta     `validate:"omitempty"`
	Listener    *registry.Listener    `validate:"omitempty"`

	// SoftStopDeadline bounds how long SoftStop waits for sessions to drain before HardStop.
	SoftStopDeadline time.Duration
}

// BackendDelta names the cluster a backend add/remove targets alongside the backend itself.
type BackendDelta struct {
	ClusterID string          `validate:"required"`
	Backend   registry.Backend `validate:"required"`
}

// CertificateDelta carries the certificate material for AddCertificate/RemoveCertificate.
// Names/CertPEM/KeyPEM are only required for AddCertificate; RemoveCertificate identifies the
// entry to drop by Fingerprint alone and resends no PEM material (Applier.validateStruct enforces
// this per-Kind, since the two operations need disjoint required fields).
type CertificateDelta struct {
	Names       []string
	CertPEM     []byte
	KeyPEM      []byte
	ActivatedAt time.Time
	Fingerprint string
}

// Status is the delta response shape for the command channel's {Ok, Processing, Error}.
type Status string

const (
	Ok         Status = "Ok"
	Processing Status = "Processing"
	Error      Status = "Error"
)

// Result is what apply_delta(Delta) returns per spec.md §6.
type Result struct {
	ID     string
	Status Status
	Err    error
}
