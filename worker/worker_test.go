package worker_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nabbar/edgeproxy/reconfig"
	"github.com/nabbar/edgeproxy/registry"
	"github.com/nabbar/edgeproxy/worker"
)

func TestWorkerServesRoutedRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	applier := reconfig.NewApplier(nil)
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "l", Kind: reconfig.AddListener,
		Listener: &registry.Listener{Addr: "127.0.0.1:0", Proto: registry.ProtoPlain},
	}))
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "c", Kind: reconfig.AddCluster,
		Cluster: &registry.Cluster{ID: "c1", Policy: registry.RoundRobin},
	}))
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "b", Kind: reconfig.AddBackend,
		Backend: &reconfig.BackendDelta{ClusterID: "c1", Backend: registry.Backend{ID: "b1", Address: backend.Listener.Addr().String()}},
	}))
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "f", Kind: reconfig.AddFrontend,
		Frontend: &registry.Frontend{ID: "f1", ListenerAddr: "127.0.0.1:0", ClusterID: "c1"},
	}))

	w := worker.New(applier, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	var addr net.Addr
	for i := 0; i < 100; i++ {
		if a, ok := w.Addr("127.0.0.1:0"); ok {
			addr = a
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("listener never became ready")
	}

	resp, err := http.Get("http://" + addr.String() + "/")
	if err != nil {
		t.Fatalf("request to worker failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down after context cancellation")
	}
}

// TestWorkerSoftStopDrainsThenForceStopsOnDeadline covers spec.md §4.7 scenario 5: SoftStop must
// stop new accepts right away, let the in-flight request keep running, then abort it once the
// deadline elapses instead of waiting forever.
func TestWorkerSoftStopDrainsThenForceStopsOnDeadline(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()
	defer close(release)

	applier := reconfig.NewApplier(nil)
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "l", Kind: reconfig.AddListener,
		Listener: &registry.Listener{Addr: "127.0.0.1:0", Proto: registry.ProtoPlain},
	}))
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "c", Kind: reconfig.AddCluster,
		Cluster: &registry.Cluster{ID: "c1", Policy: registry.RoundRobin},
	}))
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "b", Kind: reconfig.AddBackend,
		Backend: &reconfig.BackendDelta{ClusterID: "c1", Backend: registry.Backend{ID: "b1", Address: backend.Listener.Addr().String()}},
	}))
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "f", Kind: reconfig.AddFrontend,
		Frontend: &registry.Frontend{ID: "f1", ListenerAddr: "127.0.0.1:0", ClusterID: "c1"},
	}))

	w := worker.New(applier, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	var addr net.Addr
	for i := 0; i < 100; i++ {
		if a, ok := w.Addr("127.0.0.1:0"); ok {
			addr = a
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("listener never became ready")
	}

	reqDone := make(chan struct{})
	go func() {
		resp, err := http.Get("http://" + addr.String() + "/")
		if err == nil {
			resp.Body.Close()
		}
		close(reqDone)
	}()

	time.Sleep(50 * time.Millisecond) // give the request time to reach the blocked backend handler

	w.SoftStop(100 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after softstop deadline elapsed")
	}

	<-reqDone

	if !applier.Stopping() {
		t.Fatal("expected Stopping() true after SoftStop")
	}
	if !applier.Stopped() {
		t.Fatal("expected Stopped() true once the softstop deadline forced a hard stop")
	}
}

// TestWorkerHardStopReturnsImmediately covers the non-graceful half of the lifecycle: HardStop
// must close listeners right away rather than waiting on any in-flight request.
func TestWorkerHardStopReturnsImmediately(t *testing.T) {
	applier := reconfig.NewApplier(nil)
	mustOk(t, applier.Apply(reconfig.Delta{
		ID: "l", Kind: reconfig.AddListener,
		Listener: &registry.Listener{Addr: "127.0.0.1:0", Proto: registry.ProtoPlain},
	}))

	w := worker.New(applier, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	for i := 0; i < 100; i++ {
		if _, ok := w.Addr("127.0.0.1:0"); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.HardStop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after HardStop")
	}

	if !applier.Stopped() {
		t.Fatal("expected Stopped() true after HardStop")
	}
}

func mustOk(t *testing.T, r reconfig.Result) {
	t.Helper()
	if r.Status != reconfig.Ok {
		t.Fatalf("expected Ok, got %v (%v)", r.Status, r.Err)
	}
}
