// Package tlscert implements the TLS SNI certificate store: a
// sorted-by-hostname set of certificate chains, picked by exact hostname
// match with a fixed fallback, plugged in via
// crypto/tls.Config.GetCertificate.
package tlscert

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// entry pairs a hostname with its loaded certificate.
type entry struct {
	hostname string
	cert     *tls.Certificate
}

// Store holds SSL certificates sorted by hostname for SNI lookup.
type Store struct {
	entries []entry
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Add loads one certificate/key pair, appends any chain files to the
// leaf's certificate list, and registers it under every DNS subject
// alternative name the leaf certificate carries. The SNI hostnames come
// from the certificate itself, not from config.
func (s *Store) Add(certFile, keyFile string, chainFiles ...string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return errors.Wrapf(err, "tlscert: loading %s/%s", certFile, keyFile)
	}

	for _, chainFile := range chainFiles {
		der, err := loadPEMCertDER(chainFile)
		if err != nil {
			return errors.Wrapf(err, "tlscert: loading chain file %s", chainFile)
		}
		cert.Certificate = append(cert.Certificate, der)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return errors.Wrapf(err, "tlscert: parsing leaf certificate %s", certFile)
	}
	if len(leaf.DNSNames) == 0 {
		return errors.Errorf("tlscert: %s has no DNS subject alternative names", certFile)
	}

	for _, name := range leaf.DNSNames {
		s.entries = append(s.entries, entry{hostname: name, cert: &cert})
	}
	s.sort()
	return nil
}

func loadPEMCertDER(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.Errorf("no PEM certificate block found in %s", path)
	}
	return block.Bytes, nil
}

func (s *Store) sort() {
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].hostname < s.entries[j].hostname })
}

// Empty reports whether the store has no certificates loaded.
func (s *Store) Empty() bool {
	return len(s.entries) == 0
}

// GetCertificate is installed as tls.Config.GetCertificate. It looks up
// the requested SNI hostname by exact match (binary search, since entries
// are kept sorted by Add) and falls back to the first entry in hostname
// order when there is no match or no SNI was presented.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if len(s.entries) == 0 {
		return nil, errors.New("tlscert: no certificates configured")
	}

	name := hello.ServerName
	idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].hostname >= name })
	if idx < len(s.entries) && s.entries[idx].hostname == name {
		return s.entries[idx].cert, nil
	}
	return s.entries[0].cert, nil
}
