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

// Package adminapi is the local/dev command-channel adapter spec.md §6 asks for: a small
// github.com/gin-gonic/gin HTTP surface over the same reconfig.Applier the production
// length-prefixed UNIX socket transport would drive (spec.md §6's "out of scope" wire format).
package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nabbar/edgeproxy/metrics"
	"github.com/nabbar/edgeproxy/reconfig"
)

// API wires an *reconfig.Applier and a *metrics.Registry to gin routes.
type API struct {
	Applier *reconfig.Applier
	Metrics *metrics.Registry
}

// New builds the gin engine with the routes SPEC_FULL.md §6 names: POST /deltas, GET /status,
// GET /metrics, GET /certificates, GET /clusters.
func New(applier *reconfig.Applier, m *metrics.Registry) http.Handler {
	a := &API{Applier: applier, Metrics: m}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/deltas", a.postDelta)
	r.GET("/status", a.getStatus)
	r.GET("/metrics", a.getMetrics)
	r.GET("/certificates", a.getCertificates)
	r.GET("/clusters", a.getClusters)

	return r
}

// deltaRequest is the wire shape POST /deltas accepts; ID is optional and server-generated when
// absent, so a caller that only cares about effect (not idempotence) need not mint one itself.
type deltaRequest struct {
	ID          string                      `json:"id"`
	Kind        reconfig.Kind               `json:"kind" binding:"required"`
	Cluster     *clusterPayload             `json:"cluster,omitempty"`
	Backend     *backendPayload             `json:"backend,omitempty"`
	Frontend    *frontendPayload            `json:"frontend,omitempty"`
	Certificate *reconfig.CertificateDelta  `json:"certificate,omitempty"`
	Listener    *listenerPayload            `json:"listener,omitempty"`
}

func (a *API) postDelta(c *gin.Context) {
	var req deltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d := reconfig.Delta{ID: req.ID, Kind: req.Kind}
	if req.Cluster != nil {
		cl := req.Cluster.toRegistry()
		d.Cluster = &cl
	}
	if req.Backend != nil {
		d.Backend = req.Backend.toRegistry()
	}
	if req.Frontend != nil {
		fr := req.Frontend.toRegistry()
		d.Frontend = &fr
	}
	d.Certificate = req.Certificate
	if req.Listener != nil {
		l := req.Listener.toRegistry()
		d.Listener = &l
	}

	result := a.Applier.Apply(d)
	if a.Metrics != nil {
		a.Metrics.ConfigApplied.WithLabelValues(string(d.Kind), string(result.Status)).Inc()
	}

	status := http.StatusOK
	body := gin.H{"id": result.ID, "status": result.Status}
	if result.Status == reconfig.Error {
		status = http.StatusUnprocessableEntity
		body["error"] = result.Err.Error()
	}
	c.JSON(status, body)
}

func (a *API) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stopping":   a.Applier.Stopping(),
		"stopped":    a.Applier.Stopped(),
		"generation": a.Applier.Snapshot().Generation,
	})
}

func (a *API) getMetrics(c *gin.Context) {
	if a.Metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	a.Metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (a *API) getCertificates(c *gin.Context) {
	snap := a.Applier.Snapshot()
	c.JSON(http.StatusOK, gin.H{"count": snap.CertStore.Len()})
}

func (a *API) getClusters(c *gin.Context) {
	snap := a.Applier.Snapshot()
	out := make([]gin.H, 0, len(snap.Clusters))
	for _, cl := range snap.Clusters {
		out = append(out, gin.H{
			"id":       cl.ID,
			"policy":   cl.Policy,
			"backends": len(cl.Backends),
		})
	}
	c.JSON(http.StatusOK, out)
}
