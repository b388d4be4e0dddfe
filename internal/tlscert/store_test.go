package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSignedCert generates a throwaway self-signed cert/key pair with
// the given DNS SANs and writes them as PEM files into dir, returning their
// paths.
func writeSelfSignedCert(t *testing.T, dir, name string, dnsNames ...string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     dnsNames,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, name+"-cert.pem")
	keyPath = filepath.Join(dir, name+"-key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyBytes, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func TestAddRejectsCertWithoutSAN(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, "nosan")

	store := NewStore()
	err := store.Add(certPath, keyPath)
	assert.Error(t, err)
	assert.True(t, store.Empty())
}

func TestGetCertificateExactMatchAndFallback(t *testing.T) {
	dir := t.TempDir()
	aCert, aKey := writeSelfSignedCert(t, dir, "a", "alpha.example.com")
	bCert, bKey := writeSelfSignedCert(t, dir, "b", "beta.example.com")

	store := NewStore()
	require.NoError(t, store.Add(aCert, aKey))
	require.NoError(t, store.Add(bCert, bKey))
	require.False(t, store.Empty())

	got, err := store.GetCertificate(&tls.ClientHelloInfo{ServerName: "beta.example.com"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(got.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "beta.example.com")

	// Unknown SNI name falls back to the first entry sorted by hostname.
	got, err = store.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	require.NoError(t, err)
	leaf, err = x509.ParseCertificate(got.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "alpha.example.com")
}

func TestGetCertificateEmptyStore(t *testing.T) {
	store := NewStore()
	_, err := store.GetCertificate(&tls.ClientHelloInfo{ServerName: "anything"})
	assert.Error(t, err)
}

func TestAddRegistersMultipleSANHostnames(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, "multi", "one.example.com", "two.example.com")

	store := NewStore()
	require.NoError(t, store.Add(certPath, keyPath))

	for _, name := range []string{"one.example.com", "two.example.com"} {
		got, err := store.GetCertificate(&tls.ClientHelloInfo{ServerName: name})
		require.NoError(t, err)
		leaf, err := x509.ParseCertificate(got.Certificate[0])
		require.NoError(t, err)
		assert.Contains(t, leaf.DNSNames, name)
	}
}
