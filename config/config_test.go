package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nabbar/edgeproxy/config"
	"github.com/nabbar/edgeproxy/reconfig"
)

func TestLoadProducesOrderedDeltas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgeproxy.yaml")

	yaml := `
listeners:
  - addr: "0.0.0.0:8080"
    proto: "plain"
clusters:
  - id: "c1"
    policy: "round-robin"
    backends:
      - id: "b1"
        address: "127.0.0.1:9001"
frontends:
  - id: "f1"
    listenerAddr: "0.0.0.0:8080"
    hostPattern: "example.com"
    clusterId: "c1"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	deltas, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var kinds []reconfig.Kind
	for _, d := range deltas {
		kinds = append(kinds, d.Kind)
	}
	if len(kinds) != 3 {
		t.Fatalf("expected 3 deltas, got %d: %v", len(kinds), kinds)
	}
	if kinds[0] != reconfig.AddListener || kinds[1] != reconfig.AddCluster || kinds[2] != reconfig.AddFrontend {
		t.Fatalf("expected listener, cluster, frontend order, got %v", kinds)
	}
}

func TestApplyingLoadedDeltasSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgeproxy.yaml")

	yaml := `
listeners:
  - addr: "0.0.0.0:8080"
clusters:
  - id: "c1"
    backends:
      - address: "127.0.0.1:9001"
frontends:
  - id: "f1"
    listenerAddr: "0.0.0.0:8080"
    clusterId: "c1"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	deltas, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := reconfig.NewApplier(nil)
	for _, d := range deltas {
		if r := a.Apply(d); r.Status != reconfig.Ok {
			t.Fatalf("expected Ok applying %s, got %v (%v)", d.Kind, r.Status, r.Err)
		}
	}

	if len(a.Snapshot().Frontends) != 1 {
		t.Fatalf("expected 1 frontend in the published snapshot, got %d", len(a.Snapshot().Frontends))
	}
}
