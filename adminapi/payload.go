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

package adminapi

import (
	"time"

	"github.com/nabbar/edgeproxy/reconfig"
	"github.com/nabbar/edgeproxy/registry"
)

// These payload types mirror the registry types with JSON tags instead of re-using the registry
// structs directly on the wire: the registry's Methods map and internal bookkeeping fields
// (ConsecutiveFailures, InsertionOrder, ...) are not something a client should ever set.

type backendPayload struct {
	ClusterID string `json:"clusterId" binding:"required"`
	ID        string `json:"id"`
	Address   string `json:"address" binding:"required"`
	Weight    int    `json:"weight"`
}

func (p *backendPayload) toRegistry() *reconfig.BackendDelta {
	return &reconfig.BackendDelta{
		ClusterID: p.ClusterID,
		Backend: registry.Backend{
			ID:      p.ID,
			Address: p.Address,
			Weight:  p.Weight,
			State:   registry.Up,
		},
	}
}

type clusterPayload struct {
	ID               string        `json:"id" binding:"required"`
	Policy           string        `json:"policy"`
	StickyCookieName string        `json:"stickyCookieName"`
	BackendHTTP2     bool          `json:"backendHttp2"`
	HealthCheckPath  string        `json:"healthCheckPath"`
	HealthInterval   time.Duration `json:"healthInterval"`
	FailThreshold    int           `json:"failThreshold"`
	CoolDown         time.Duration `json:"coolDown"`
}

func (p *clusterPayload) toRegistry() registry.Cluster {
	return registry.Cluster{
		ID:               p.ID,
		Policy:           registry.LBPolicy(p.Policy),
		StickyCookieName: p.StickyCookieName,
		BackendHTTP2:     p.BackendHTTP2,
		HealthCheckPath:  p.HealthCheckPath,
		HealthInterval:   p.HealthInterval,
		FailThreshold:    p.FailThreshold,
		CoolDown:         p.CoolDown,
	}
}

type frontendPayload struct {
	ID           string   `json:"id" binding:"required"`
	ListenerAddr string   `json:"listenerAddr" binding:"required"`
	SNIPattern   string   `json:"sniPattern"`
	HostPattern  string   `json:"hostPattern"`
	PathPrefix   string   `json:"pathPrefix"`
	PathExact    bool     `json:"pathExact"`
	Methods      []string `json:"methods"`
	ClusterID    string   `json:"clusterId" binding:"required"`
}

func (p *frontendPayload) toRegistry() registry.Frontend {
	methods := make(map[string]bool, len(p.Methods))
	for _, m := range p.Methods {
		methods[m] = true
	}
	return registry.Frontend{
		ID:           p.ID,
		ListenerAddr: p.ListenerAddr,
		SNIPattern:   p.SNIPattern,
		HostPattern:  p.HostPattern,
		PathPrefix:   p.PathPrefix,
		PathExact:    p.PathExact,
		Methods:      methods,
		ClusterID:    p.ClusterID,
	}
}

type listenerPayload struct {
	Addr  string `json:"addr" binding:"required"`
	Proto string `json:"proto"`
}

func (p *listenerPayload) toRegistry() registry.Listener {
	proto := registry.ProtoPlain
	if p.Proto == "tls" {
		proto = registry.ProtoTLS
	}
	return registry.Listener{Addr: p.Addr, Proto: proto}
}
