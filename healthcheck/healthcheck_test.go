package healthcheck_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nabbar/edgeproxy/healthcheck"
	"github.com/nabbar/edgeproxy/registry"
)

func TestSweepClusterMarksFailingBackendDown(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	c := &registry.Cluster{
		ID:            "c1",
		FailThreshold: 1,
		Backends: []registry.Backend{
			{ID: "up", Address: up.Listener.Addr().String(), State: registry.Up},
			{ID: "down", Address: down.Listener.Addr().String(), State: registry.Up},
		},
	}

	p := healthcheck.NewProber()
	if err := p.SweepCluster(context.Background(), c, time.Now()); err != nil {
		t.Fatal(err)
	}

	byID := map[string]registry.Backend{}
	for _, b := range c.Backends {
		byID[b.ID] = b
	}

	if byID["up"].State != registry.Up {
		t.Fatalf("expected up backend to stay up, got %v", byID["up"].State)
	}
	if byID["down"].State != registry.Down {
		t.Fatalf("expected failing backend to become down, got %v", byID["down"].State)
	}
}

func TestSweepClusterSkipsDownBackendBeforeCooldown(t *testing.T) {
	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	unreachable.Close() // guarantees connection failure

	c := &registry.Cluster{
		ID:       "c1",
		CoolDown: time.Hour,
		Backends: []registry.Backend{
			{ID: "b1", Address: unreachable.Listener.Addr().String(), State: registry.Down, DownSince: time.Now()},
		},
	}

	p := healthcheck.NewProber()
	if err := p.SweepCluster(context.Background(), c, time.Now()); err != nil {
		t.Fatal(err)
	}
	if c.Backends[0].State != registry.Down {
		t.Fatal("backend within cool-down must not be probed or change state")
	}
}
