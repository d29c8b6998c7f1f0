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

// Package metrics is the counters/gauges/histograms spec.md §6 asks the worker to expose,
// registered against a private prometheus.Registry so a process embedding more than one worker
// never collides on metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry bundles the worker's metric instruments and the prometheus.Registry they are
// registered against.
type Registry struct {
	reg *prometheus.Registry

	SessionsOpened   prometheus.Counter
	SessionsClosed   prometheus.Counter
	SessionsActive   prometheus.Gauge
	RequestsRouted   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	BackendErrors    *prometheus.CounterVec
	BufferExhausted  prometheus.Counter
	ConfigApplied    *prometheus.CounterVec
	BackendState     *prometheus.GaugeVec
}

// New builds and registers every instrument, namespaced "edgeproxy".
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeproxy", Name: "sessions_opened_total",
			Help: "Sessions admitted by a listener.",
		}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeproxy", Name: "sessions_closed_total",
			Help: "Sessions that reached a terminal state.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgeproxy", Name: "sessions_active",
			Help: "Sessions currently open.",
		}),
		RequestsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeproxy", Name: "requests_routed_total",
			Help: "Requests routed, by cluster and backend.",
		}, []string{"cluster", "backend"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edgeproxy", Name: "request_duration_seconds",
			Help:    "End-to-end request duration, by cluster.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"cluster"}),
		BackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeproxy", Name: "backend_errors_total",
			Help: "Backend-attributed failures, by cluster, backend and error code.",
		}, []string{"cluster", "backend", "code"}),
		BufferExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeproxy", Name: "buffer_pool_exhausted_total",
			Help: "Admissions rejected because the buffer pool's lease limit was reached.",
		}),
		ConfigApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeproxy", Name: "config_deltas_total",
			Help: "Reconfiguration deltas applied, by kind and status.",
		}, []string{"kind", "status"}),
		BackendState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgeproxy", Name: "backend_up",
			Help: "1 if a backend is up, 0 otherwise.",
		}, []string{"cluster", "backend"}),
	}

	reg.MustRegister(
		r.SessionsOpened, r.SessionsClosed, r.SessionsActive,
		r.RequestsRouted, r.RequestDuration, r.BackendErrors,
		r.BufferExhausted, r.ConfigApplied, r.BackendState,
	)
	return r
}

// Handler exposes the registry on the conventional /metrics text-exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
