package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testCA struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
	der  []byte
}

func newTestCA(t *testing.T, commonName string, serial int64) testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return testCA{key: key, cert: cert, der: der}
}

func newLeafCert(t *testing.T, ca testCA, commonName string, serial int64) (*x509.Certificate, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, der
}

func writePEMFile(t *testing.T, dir, name, pemType string, der []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	data := pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func TestStore_EmptyDirTrustsNothing(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	require.True(t, s.Ready())
	require.EqualValues(t, 0, s.Generation())

	ca := newTestCA(t, "root", 1)
	leaf, _ := newLeafCert(t, ca, "leaf", 2)
	require.Error(t, s.Verify(leaf))
}

func TestStore_VerifyTrustedChain(t *testing.T) {
	root := t.TempDir()
	ca := newTestCA(t, "test-root", 1)
	leaf, _ := newLeafCert(t, ca, "test-leaf", 2)

	writePEMFile(t, filepath.Join(root, dirTrustedCerts), "root.pem", "CERTIFICATE", ca.der)

	s, err := New(root)
	require.NoError(t, err)
	require.True(t, s.Ready())
	require.EqualValues(t, 1, s.Generation())

	require.NoError(t, s.Verify(leaf))
}

func TestStore_VerifyRejectsUntrustedChain(t *testing.T) {
	root := t.TempDir()
	ca := newTestCA(t, "test-root", 1)
	otherCA := newTestCA(t, "other-root", 3)
	leaf, _ := newLeafCert(t, otherCA, "test-leaf", 2)

	writePEMFile(t, filepath.Join(root, dirTrustedCerts), "root.pem", "CERTIFICATE", ca.der)

	s, err := New(root)
	require.NoError(t, err)
	require.Error(t, s.Verify(leaf))
}

func TestStore_VerifyRejectsRevokedCert(t *testing.T) {
	root := t.TempDir()
	ca := newTestCA(t, "test-root", 1)
	leaf, _ := newLeafCert(t, ca, "test-leaf", 42)

	writePEMFile(t, filepath.Join(root, dirTrustedCerts), "root.pem", "CERTIFICATE", ca.der)

	crlTmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: big.NewInt(42), RevocationTime: time.Now()},
		},
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, ca.cert, ca.key)
	require.NoError(t, err)
	writePEMFile(t, filepath.Join(root, dirTrustedCRLs), "root.crl", "X509 CRL", crlDER)

	s, err := New(root)
	require.NoError(t, err)

	err = s.Verify(leaf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "revoked")
}

func TestStore_Reload_PicksUpNewTrustAndBumpsGeneration(t *testing.T) {
	root := t.TempDir()
	ca := newTestCA(t, "test-root", 1)
	leaf, _ := newLeafCert(t, ca, "test-leaf", 2)

	s, err := New(root)
	require.NoError(t, err)
	require.Error(t, s.Verify(leaf))
	gen0 := s.Generation()

	writePEMFile(t, filepath.Join(root, dirTrustedCerts), "root.pem", "CERTIFICATE", ca.der)
	require.NoError(t, s.Reload())

	require.Greater(t, s.Generation(), gen0)
	require.NoError(t, s.Verify(leaf))
}

func TestStore_LoadCertPool_SkipsMalformedButKeepsGoing(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t, "test-root", 1)
	writePEMFile(t, dir, "good.pem", "CERTIFICATE", ca.der)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.pem"), []byte("not a cert"), 0644))

	pool, err := loadCertPool(dir)
	require.Error(t, err)
	require.NotNil(t, pool)
	require.Contains(t, err.Error(), "bad.pem")
}
