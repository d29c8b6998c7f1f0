package certificates_test

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

	"github.com/nabbar/edgeproxy/certificates"
)

func genPair(t *testing.T, cn string) ([]byte, []byte) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
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

func TestSelectExactBeatsWildcard(t *testing.T) {
	certPEM, keyPEM := genPair(t, "api.example")
	exact, err := certificates.NewEntry([]string{"api.example"}, certPEM, keyPEM, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	wcPEM, wkPEM := genPair(t, "*.example")
	wildcard, err := certificates.NewEntry([]string{"*.example"}, wcPEM, wkPEM, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	store := certificates.NewStore([]certificates.Entry{wildcard, exact})

	got, ok := store.Select("api.example")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Fingerprint != exact.Fingerprint {
		t.Fatal("expected exact match to win over wildcard")
	}
}

func TestSelectNewestActivationWins(t *testing.T) {
	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now()

	c1PEM, k1PEM := genPair(t, "api.example")
	e1, _ := certificates.NewEntry([]string{"api.example"}, c1PEM, k1PEM, older)

	c2PEM, k2PEM := genPair(t, "api.example")
	e2, _ := certificates.NewEntry([]string{"api.example"}, c2PEM, k2PEM, newer)

	store := certificates.NewStore([]certificates.Entry{e1, e2})

	got, ok := store.Select("api.example")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Fingerprint != e2.Fingerprint {
		t.Fatal("expected the newest activation to win")
	}
}

func TestSelectNoMatch(t *testing.T) {
	store := certificates.NewStore(nil)
	if _, ok := store.Select("nowhere.example"); ok {
		t.Fatal("expected no match on empty store")
	}
}
