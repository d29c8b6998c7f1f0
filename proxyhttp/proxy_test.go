package proxyhttp_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nabbar/edgeproxy/bufpool"
	"github.com/nabbar/edgeproxy/proxyhttp"
	"github.com/nabbar/edgeproxy/registry"
)

func snapshotWithBackend(backendAddr string) *registry.Snapshot {
	snap := registry.Empty()
	snap.Listeners["0.0.0.0:80"] = registry.Listener{Addr: "0.0.0.0:80", Proto: registry.ProtoPlain}
	snap.Clusters["c1"] = registry.Cluster{
		ID:     "c1",
		Policy: registry.RoundRobin,
		Backends: []registry.Backend{
			{ID: "b1", Address: backendAddr, State: registry.Up},
		},
	}
	snap.Frontends = []registry.Frontend{
		{ID: "f1", ListenerAddr: "0.0.0.0:80", HostPattern: "", ClusterID: "c1"},
	}
	return snap
}

func TestProxyForwardsAndInjectsHeaders(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-For") == "" {
			t.Error("expected X-Forwarded-For to be set")
		}
		if r.Header.Get("Sozu-Id") == "" {
			t.Error("expected Sozu-Id to be set")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	snap := snapshotWithBackend(backend.Listener.Addr().String())
	p := proxyhttp.New(func() *registry.Snapshot { return snap }, bufpool.New(0, 0), nil)

	front := httptest.NewServer(p.Handler("0.0.0.0:80"))
	defer front.Close()

	resp, err := http.Get(front.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProxyReturns404WhenNoFrontendMatches(t *testing.T) {
	snap := registry.Empty()
	snap.Listeners["0.0.0.0:80"] = registry.Listener{Addr: "0.0.0.0:80", Proto: registry.ProtoPlain}
	p := proxyhttp.New(func() *registry.Snapshot { return snap }, bufpool.New(0, 0), nil)

	front := httptest.NewServer(p.Handler("0.0.0.0:80"))
	defer front.Close()

	resp, err := http.Get(front.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProxyReturns503WhenNoHealthyBackend(t *testing.T) {
	snap := snapshotWithBackend("127.0.0.1:1")
	snap.Clusters["c1"] = registry.Cluster{ID: "c1", Policy: registry.RoundRobin}
	p := proxyhttp.New(func() *registry.Snapshot { return snap }, bufpool.New(0, 0), nil)

	front := httptest.NewServer(p.Handler("0.0.0.0:80"))
	defer front.Close()

	resp, err := http.Get(front.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
