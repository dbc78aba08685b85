// Package pki implements the server's certificate trust store: the
// trusted and issuer certificate/CRL lists a TrustListDataType models,
// loaded from disk and checked against on every X.509 identity token
// and every client certificate at ActivateSession time.
package pki

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tevino/abool"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// Store holds the four certificate lists a TrustListDataType carries:
// trusted certificates, trusted CRLs, issuer (intermediate CA)
// certificates, and issuer CRLs. Verify checks a presented certificate
// chains to a trusted root and isn't named on a loaded CRL.
type Store struct {
	dir string

	mu      sync.RWMutex
	trusted *x509.CertPool
	issuers *x509.CertPool
	revoked map[string]*x509.RevocationList // issuer raw-subject (string) -> CRL

	ready      abool.AtomicBool
	generation atomic.Uint64
}

// layout of the four TrustListDataType categories on disk, each a
// directory of PEM files.
const (
	dirTrustedCerts = "trusted/certs"
	dirTrustedCRLs  = "trusted/crls"
	dirIssuerCerts  = "issuers/certs"
	dirIssuerCRLs   = "issuers/crls"
)

// New builds a Store rooted at dir and performs its first load.
// An empty dir yields a Store that trusts nothing — Verify will
// reject every certificate until a real trust list is configured.
func New(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if dir == "" {
		s.trusted = x509.NewCertPool()
		s.issuers = x509.NewCertPool()
		s.revoked = map[string]*x509.RevocationList{}
		s.ready.Set()
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads every list from disk and swaps them in atomically.
// Safe to call while Verify is running concurrently on other
// goroutines; readers see either the old or the new snapshot, never a
// partial one.
func (s *Store) Reload() error {
	s.ready.UnSet()
	defer s.ready.Set()

	trusted, err := loadCertPool(filepath.Join(s.dir, dirTrustedCerts))
	if err != nil {
		return fmt.Errorf("pki: load trusted certificates: %w", err)
	}
	issuers, err := loadCertPool(filepath.Join(s.dir, dirIssuerCerts))
	if err != nil {
		return fmt.Errorf("pki: load issuer certificates: %w", err)
	}

	revoked := map[string]*x509.RevocationList{}
	var loadErr error
	for _, d := range []string{dirTrustedCRLs, dirIssuerCRLs} {
		crls, err := loadCRLs(filepath.Join(s.dir, d))
		loadErr = multierr.Append(loadErr, err)
		for subject, crl := range crls {
			revoked[subject] = crl
		}
	}
	if loadErr != nil {
		return fmt.Errorf("pki: load CRLs: %w", loadErr)
	}

	s.mu.Lock()
	s.trusted = trusted
	s.issuers = issuers
	s.revoked = revoked
	s.mu.Unlock()

	s.generation.Add(1)
	return nil
}

// Ready reports whether a load has completed and Verify can be
// called; it is an abool so status reporting doesn't need to take
// the store's RWMutex just to check liveness.
func (s *Store) Ready() bool {
	return s.ready.IsSet()
}

// Generation returns the number of successful Reload calls, including
// the initial load. Used by the admin status command to show trust
// list freshness without exposing the certificates themselves.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// Verify checks that cert chains to a trusted root through zero or
// more issuer certificates, and that cert's serial number is not on a
// loaded CRL issued by any certificate in its chain. The issuer
// certificates themselves are not checked for revocation.
func (s *Store) Verify(cert *x509.Certificate) error {
	s.mu.RLock()
	trusted, issuers, revoked := s.trusted, s.issuers, s.revoked
	s.mu.RUnlock()

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         trusted,
		Intermediates: issuers,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("certificate does not chain to a trusted root: %w", err)
	}

	for _, chain := range chains {
		for _, c := range chain {
			crl, ok := revoked[string(c.RawSubject)]
			if !ok {
				continue
			}
			for _, entry := range crl.RevokedCertificateEntries {
				if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
					return fmt.Errorf("certificate revoked by CRL issued by %s", c.Subject)
				}
			}
		}
	}
	return nil
}

func loadCertPool(dir string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return pool, nil
		}
		return nil, err
	}
	var errs error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if !pool.AppendCertsFromPEM(data) {
			errs = multierr.Append(errs, fmt.Errorf("%s: no PEM certificates found", path))
		}
	}
	return pool, errs
}

func loadCRLs(dir string) (map[string]*x509.RevocationList, error) {
	out := map[string]*x509.RevocationList{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	var errs error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		block, _ := pem.Decode(data)
		der := data
		if block != nil {
			der = block.Bytes
		}
		crl, err := x509.ParseRevocationList(der)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		out[string(crl.RawIssuer)] = crl
	}
	return out, errs
}
