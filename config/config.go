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

// Package config loads the registry's initial state from a YAML file on github.com/spf13/viper
// and turns it into the same typed reconfig.Delta stream the admin API accepts at runtime, so
// there is exactly one code path that ever mutates the registry (spec.md §4.7). A
// github.com/fsnotify/fsnotify watch on the file re-runs the load and redelivers a fresh burst
// of deltas, the hot-reload path spec.md §1 names.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/nabbar/edgeproxy/reconfig"
	"github.com/nabbar/edgeproxy/registry"
)

// FileListener is the YAML shape of one registry.Listener.
type FileListener struct {
	Addr  string `mapstructure:"addr"`
	Proto string `mapstructure:"proto"`
}

// FileBackend is the YAML shape of one registry.Backend.
type FileBackend struct {
	ID      string `mapstructure:"id"`
	Address string `mapstructure:"address"`
	Weight  int    `mapstructure:"weight"`
}

// FileCluster is the YAML shape of one registry.Cluster.
type FileCluster struct {
	ID               string        `mapstructure:"id"`
	Policy           string        `mapstructure:"policy"`
	StickyCookieName string        `mapstructure:"stickyCookieName"`
	BackendHTTP2     bool          `mapstructure:"backendHttp2"`
	HealthCheckPath  string        `mapstructure:"healthCheckPath"`
	HealthInterval   time.Duration `mapstructure:"healthInterval"`
	FailThreshold    int           `mapstructure:"failThreshold"`
	CoolDown         time.Duration `mapstructure:"coolDown"`
	Backends         []FileBackend `mapstructure:"backends"`
}

// FileRewrite is the YAML shape of one registry.RewriteDirective.
type FileRewrite struct {
	Op    string `mapstructure:"op"`
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// FileFrontend is the YAML shape of one registry.Frontend.
type FileFrontend struct {
	ID           string        `mapstructure:"id"`
	ListenerAddr string        `mapstructure:"listenerAddr"`
	SNIPattern   string        `mapstructure:"sniPattern"`
	HostPattern  string        `mapstructure:"hostPattern"`
	PathPrefix   string        `mapstructure:"pathPrefix"`
	PathExact    bool          `mapstructure:"pathExact"`
	Methods      []string      `mapstructure:"methods"`
	ClusterID    string        `mapstructure:"clusterId"`
	Rewrites     []FileRewrite `mapstructure:"rewrites"`
}

// FileCertificate is the YAML shape of one certificate to load from disk.
type FileCertificate struct {
	Names   []string `mapstructure:"names"`
	CertPEM string   `mapstructure:"certFile"`
	KeyPEM  string   `mapstructure:"keyFile"`
}

// File is the top-level registry document shape loaded from the config file.
type File struct {
	Listeners    []FileListener    `mapstructure:"listeners"`
	Clusters     []FileCluster     `mapstructure:"clusters"`
	Frontends    []FileFrontend    `mapstructure:"frontends"`
	Certificates []FileCertificate `mapstructure:"certificates"`
}

// Load reads path with viper and turns its contents into an ordered burst of reconfig.Delta:
// listeners and clusters (with their backends already attached) first, then frontends (which
// reference them), then certificates — an order that validates cleanly against the registry
// invariants (spec.md §3) delta by delta.
func Load(path string) ([]reconfig.Delta, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	return toDeltas(f)
}

func toDeltas(f File) ([]reconfig.Delta, error) {
	var deltas []reconfig.Delta

	for _, l := range f.Listeners {
		proto := registry.ProtoPlain
		if l.Proto == "tls" {
			proto = registry.ProtoTLS
		}
		deltas = append(deltas, reconfig.Delta{
			ID:   uuid.NewString(),
			Kind: reconfig.AddListener,
			Listener: &registry.Listener{
				Addr:  l.Addr,
				Proto: proto,
			},
		})
	}

	for _, c := range f.Clusters {
		cluster := registry.Cluster{
			ID:               c.ID,
			Policy:           registry.LBPolicy(c.Policy),
			StickyCookieName: c.StickyCookieName,
			BackendHTTP2:     c.BackendHTTP2,
			HealthCheckPath:  c.HealthCheckPath,
			HealthInterval:   c.HealthInterval,
			FailThreshold:    c.FailThreshold,
			CoolDown:         c.CoolDown,
		}
		for _, b := range c.Backends {
			id := b.ID
			if id == "" {
				id = uuid.NewString()
			}
			cluster.Backends = append(cluster.Backends, registry.Backend{
				ID:      id,
				Address: b.Address,
				Weight:  b.Weight,
				State:   registry.Up,
			})
		}
		deltas = append(deltas, reconfig.Delta{
			ID:      uuid.NewString(),
			Kind:    reconfig.AddCluster,
			Cluster: &cluster,
		})
	}

	for _, fr := range f.Frontends {
		methods := make(map[string]bool, len(fr.Methods))
		for _, m := range fr.Methods {
			methods[m] = true
		}
		var rewrites []registry.RewriteDirective
		for _, r := range fr.Rewrites {
			rewrites = append(rewrites, registry.RewriteDirective{Op: r.Op, Name: r.Name, Value: r.Value})
		}
		deltas = append(deltas, reconfig.Delta{
			ID:   uuid.NewString(),
			Kind: reconfig.AddFrontend,
			Frontend: &registry.Frontend{
				ID:           fr.ID,
				ListenerAddr: fr.ListenerAddr,
				SNIPattern:   fr.SNIPattern,
				HostPattern:  fr.HostPattern,
				PathPrefix:   fr.PathPrefix,
				PathExact:    fr.PathExact,
				Methods:      methods,
				ClusterID:    fr.ClusterID,
				Rewrites:     rewrites,
			},
		})
	}

	for _, ce := range f.Certificates {
		certPEM, err := os.ReadFile(ce.CertPEM)
		if err != nil {
			return nil, fmt.Errorf("reading certificate %s: %w", ce.CertPEM, err)
		}
		keyPEM, err := os.ReadFile(ce.KeyPEM)
		if err != nil {
			return nil, fmt.Errorf("reading key %s: %w", ce.KeyPEM, err)
		}
		deltas = append(deltas, reconfig.Delta{
			ID:   uuid.NewString(),
			Kind: reconfig.AddCertificate,
			Certificate: &reconfig.CertificateDelta{
				Names:       ce.Names,
				CertPEM:     certPEM,
				KeyPEM:      keyPEM,
				ActivatedAt: time.Now(),
			},
		})
	}

	return deltas, nil
}
