package registry_test

import (
	"testing"

	"github.com/nabbar/edgeproxy/registry"
)

func TestValidateRejectsMissingCluster(t *testing.T) {
	s := registry.Empty()
	s.Listeners["127.0.0.1:443"] = registry.Listener{Addr: "127.0.0.1:443", Proto: registry.ProtoTLS}
	s.Frontends = append(s.Frontends, registry.Frontend{
		ID: "f1", ListenerAddr: "127.0.0.1:443", ClusterID: "missing",
	})

	if err := s.Validate(); err == nil {
		t.Fatal("expected validation error for missing cluster")
	}
}

func TestValidateRejectsMissingListener(t *testing.T) {
	s := registry.Empty()
	s.Clusters["c1"] = registry.Cluster{ID: "c1", Policy: registry.RoundRobin}
	s.Frontends = append(s.Frontends, registry.Frontend{
		ID: "f1", ListenerAddr: "nowhere:443", ClusterID: "c1",
	})

	if err := s.Validate(); err == nil {
		t.Fatal("expected validation error for missing listener")
	}
}

func TestValidateAcceptsConsistentSnapshot(t *testing.T) {
	s := registry.Empty()
	s.Clusters["c1"] = registry.Cluster{ID: "c1", Policy: registry.RoundRobin, Backends: []registry.Backend{
		{ID: "b1", Address: "10.0.0.1:8080", State: registry.Up},
	}}
	s.Listeners["127.0.0.1:443"] = registry.Listener{Addr: "127.0.0.1:443", Proto: registry.ProtoTLS}
	s.Frontends = append(s.Frontends, registry.Frontend{
		ID: "f1", ListenerAddr: "127.0.0.1:443", ClusterID: "c1",
	})

	if err := s.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := registry.Empty()
	s.Clusters["c1"] = registry.Cluster{ID: "c1", Backends: []registry.Backend{{ID: "b1"}}}

	clone := s.Clone()
	cc := clone.Clusters["c1"]
	cc.Backends[0].State = registry.Down
	clone.Clusters["c1"] = cc

	if s.Clusters["c1"].Backends[0].State == registry.Down {
		t.Fatal("mutating the clone must not affect the original snapshot")
	}
	if clone.Generation != s.Generation+1 {
		t.Fatalf("expected generation to increment, got %d", clone.Generation)
	}
}
