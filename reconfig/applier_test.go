package reconfig_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/nabbar/edgeproxy/reconfig"
	"github.com/nabbar/edgeproxy/registry"
)

func selfSignedPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestApplyAddClusterThenFrontend(t *testing.T) {
	a := reconfig.NewApplier(nil)

	r1 := a.Apply(reconfig.Delta{
		ID:   "d1",
		Kind: reconfig.AddCluster,
		Cluster: &registry.Cluster{
			ID:     "c1",
			Policy: registry.RoundRobin,
		},
	})
	if r1.Status != reconfig.Ok {
		t.Fatalf("expected Ok, got %v (%v)", r1.Status, r1.Err)
	}

	r2 := a.Apply(reconfig.Delta{
		ID:   "d2",
		Kind: reconfig.AddListener,
		Listener: &registry.Listener{
			Addr:  "0.0.0.0:8443",
			Proto: registry.ProtoTLS,
		},
	})
	if r2.Status != reconfig.Ok {
		t.Fatalf("expected Ok, got %v (%v)", r2.Status, r2.Err)
	}

	r3 := a.Apply(reconfig.Delta{
		ID:   "d3",
		Kind: reconfig.AddFrontend,
		Frontend: &registry.Frontend{
			ID:           "f1",
			ListenerAddr: "0.0.0.0:8443",
			HostPattern:  "example.com",
			ClusterID:    "c1",
		},
	})
	if r3.Status != reconfig.Ok {
		t.Fatalf("expected Ok, got %v (%v)", r3.Status, r3.Err)
	}

	snap := a.Snapshot()
	if len(snap.Frontends) != 1 {
		t.Fatalf("expected 1 frontend published, got %d", len(snap.Frontends))
	}
}

func TestApplyRejectsUnknownCluster(t *testing.T) {
	a := reconfig.NewApplier(nil)

	before := a.Snapshot()

	r := a.Apply(reconfig.Delta{
		ID:   "d1",
		Kind: reconfig.AddFrontend,
		Frontend: &registry.Frontend{
			ID:           "f1",
			ListenerAddr: "nowhere",
			ClusterID:    "missing-cluster",
		},
	})
	if r.Status != reconfig.Error {
		t.Fatalf("expected Error, got %v", r.Status)
	}

	after := a.Snapshot()
	if after != before {
		t.Fatal("rejected delta must not publish a new snapshot (all-or-nothing)")
	}
}

func TestApplyIsIdempotentForDuplicateID(t *testing.T) {
	a := reconfig.NewApplier(nil)

	d := reconfig.Delta{
		ID:   "dup",
		Kind: reconfig.AddCluster,
		Cluster: &registry.Cluster{
			ID:     "c1",
			Policy: registry.Random,
		},
	}

	r1 := a.Apply(d)
	if r1.Status != reconfig.Ok {
		t.Fatalf("first apply expected Ok, got %v (%v)", r1.Status, r1.Err)
	}
	gen1 := a.Snapshot().Generation

	r2 := a.Apply(d)
	if r2.Status != reconfig.Ok {
		t.Fatalf("duplicate apply expected Ok (idempotent), got %v (%v)", r2.Status, r2.Err)
	}
	if a.Snapshot().Generation != gen1 {
		t.Fatal("duplicate delta id must not publish a new snapshot")
	}
}

func TestRemoveClusterRejectedWhileReferenced(t *testing.T) {
	a := reconfig.NewApplier(nil)

	a.Apply(reconfig.Delta{ID: "d1", Kind: reconfig.AddCluster, Cluster: &registry.Cluster{ID: "c1", Policy: registry.RoundRobin}})
	a.Apply(reconfig.Delta{ID: "d2", Kind: reconfig.AddListener, Listener: &registry.Listener{Addr: "l1", Proto: registry.ProtoPlain}})
	a.Apply(reconfig.Delta{ID: "d3", Kind: reconfig.AddFrontend, Frontend: &registry.Frontend{ID: "f1", ListenerAddr: "l1", ClusterID: "c1"}})

	r := a.Apply(reconfig.Delta{ID: "d4", Kind: reconfig.RemoveCluster, Cluster: &registry.Cluster{ID: "c1"}})
	if r.Status != reconfig.Error {
		t.Fatalf("expected removing a referenced cluster to fail, got %v", r.Status)
	}
}

func TestSoftStopThenHardStop(t *testing.T) {
	a := reconfig.NewApplier(nil)

	if a.Stopping() || a.Stopped() {
		t.Fatal("fresh applier must not be stopping or stopped")
	}

	a.Apply(reconfig.Delta{ID: "s1", Kind: reconfig.SoftStop, SoftStopDeadline: time.Second})
	if !a.Stopping() {
		t.Fatal("expected Stopping() true after SoftStop")
	}
	if a.Stopped() {
		t.Fatal("SoftStop alone must not mark Stopped")
	}

	a.Apply(reconfig.Delta{ID: "s2", Kind: reconfig.HardStop})
	if !a.Stopped() {
		t.Fatal("expected Stopped() true after HardStop")
	}
}

func TestAddAndRemoveCertificate(t *testing.T) {
	a := reconfig.NewApplier(nil)

	certPEM, keyPEM := selfSignedPEM(t)

	r := a.Apply(reconfig.Delta{
		ID:   "d1",
		Kind: reconfig.AddCertificate,
		Certificate: &reconfig.CertificateDelta{
			Names:       []string{"example.com"},
			CertPEM:     certPEM,
			KeyPEM:      keyPEM,
			ActivatedAt: time.Now(),
		},
	})
	if r.Status != reconfig.Ok {
		t.Fatalf("expected Ok, got %v (%v)", r.Status, r.Err)
	}

	entry, ok := a.Snapshot().CertStore.Select("example.com")
	if !ok {
		t.Fatal("expected example.com to resolve after AddCertificate")
	}

	r2 := a.Apply(reconfig.Delta{
		ID:   "d2",
		Kind: reconfig.RemoveCertificate,
		Certificate: &reconfig.CertificateDelta{
			Fingerprint: entry.Fingerprint,
		},
	})
	if r2.Status != reconfig.Ok {
		t.Fatalf("expected Ok, got %v (%v)", r2.Status, r2.Err)
	}

	if _, ok := a.Snapshot().CertStore.Select("example.com"); ok {
		t.Fatal("expected example.com to be unreachable after RemoveCertificate")
	}
}

func TestRemoveCertificateRejectsMissingFingerprint(t *testing.T) {
	a := reconfig.NewApplier(nil)
	certPEM, keyPEM := selfSignedPEM(t)

	a.Apply(reconfig.Delta{
		ID:   "d1",
		Kind: reconfig.AddCertificate,
		Certificate: &reconfig.CertificateDelta{
			Names:       []string{"example.com"},
			CertPEM:     certPEM,
			KeyPEM:      keyPEM,
			ActivatedAt: time.Now(),
		},
	})

	r := a.Apply(reconfig.Delta{
		ID:          "d2",
		Kind:        reconfig.RemoveCertificate,
		Certificate: &reconfig.CertificateDelta{},
	})
	if r.Status != reconfig.Error {
		t.Fatalf("expected fingerprint-less removal to be rejected, got %v", r.Status)
	}
}
