// Package cert implements the proxy's certificate authority and leaf
// certificate store: a persisted root CA plus an LRU-bounded, mint-on-
// miss cache of per-host leaf certificates.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// reference: https://docs.mitmproxy.org/stable/concepts-certificates/

var errCANotFound = errors.New("root ca not found on disk")

// leafValidity bounds how long a minted leaf certificate is valid for.
// Leaves are never persisted, so this only affects in-memory reuse via
// the cache.
const leafValidity = 24 * time.Hour * 90

// Store owns the root CA key pair and certificate, and caches minted
// leaf certificates keyed by their exact name set.
type Store struct {
	rsa.PrivateKey
	RootCert  x509.Certificate
	StorePath string

	cacheSize int
	cacheMu   sync.Mutex
	cache     *lru.Cache
	group     *singleflight.Group
}

// NewMemoryStore creates a fresh root CA that lives only in the current
// process; it is regenerated on every restart.
func NewMemoryStore(cacheSize int) (*Store, error) {
	key, cert, err := createRootCert()
	if err != nil {
		return nil, err
	}
	return &Store{
		PrivateKey: *key,
		RootCert:   *cert,
		cacheSize:  cacheSize,
		cache:      lru.New(cacheSize),
		group:      new(singleflight.Group),
	}, nil
}

// NewStore loads a root CA from path, creating and persisting one if
// none exists yet.
func NewStore(path string, cacheSize int) (*Store, error) {
	storePath, err := resolveStorePath(path)
	if err != nil {
		return nil, err
	}

	store := &Store{
		StorePath: storePath,
		cacheSize: cacheSize,
		cache:     lru.New(cacheSize),
		group:     new(singleflight.Group),
	}

	if err := store.load(); err == nil {
		log.WithField("at", "cert").Debug("loaded root ca from disk")
		return store, nil
	} else if !errors.Is(err, errCANotFound) {
		return nil, err
	}

	if err := store.generate(); err != nil {
		return nil, err
	}
	log.WithField("at", "cert").Debug("generated new root ca")
	return store, nil
}

func resolveStorePath(path string) (string, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(homeDir, ".aether-mitm")
	}
	if !filepath.IsAbs(path) {
		dir, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, path)
	}

	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return "", err
			}
			return path, nil
		}
		return "", err
	}
	if !stat.IsDir() {
		return "", fmt.Errorf("cert store path %q is not a directory", path)
	}
	return path, nil
}

func (s *Store) rootCertFile() string { return filepath.Join(s.StorePath, "aether-mitm-ca-cert.pem") }
func (s *Store) rootKeyFile() string  { return filepath.Join(s.StorePath, "aether-mitm-ca-key.pem") }

func (s *Store) load() error {
	if _, err := os.Stat(s.rootCertFile()); err != nil {
		if os.IsNotExist(err) {
			return errCANotFound
		}
		return err
	}

	certPEM, err := os.ReadFile(s.rootCertFile())
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(s.rootKeyFile())
	if err != nil {
		return err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return fmt.Errorf("%s: no CERTIFICATE block found", s.rootCertFile())
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return err
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("%s: no PRIVATE KEY block found", s.rootKeyFile())
	}
	key, err := parseRSAPrivateKey(keyBlock.Bytes)
	if err != nil {
		return err
	}

	s.RootCert = *cert
	s.PrivateKey = *key
	return nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("root ca private key is not RSA")
	}
	return rsaKey, nil
}

func (s *Store) generate() error {
	key, cert, err := createRootCert()
	if err != nil {
		return err
	}
	s.PrivateKey = *key
	s.RootCert = *cert
	return s.persist()
}

// persist writes exactly the two files spec'd: root certificate (PEM,
// world-readable) and root private key (PEM, mode 0600).
func (s *Store) persist() error {
	certOut, err := os.Create(s.rootCertFile())
	if err != nil {
		return err
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: s.RootCert.Raw}); err != nil {
		return err
	}

	keyBytes := x509.MarshalPKCS1PrivateKey(&s.PrivateKey)
	keyOut, err := os.OpenFile(s.rootKeyFile(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer keyOut.Close()
	return pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyBytes})
}

func createRootCert() (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: newSerialNumber(),
		Subject: pkix.Name{
			CommonName:   "aether-mitm",
			Organization: []string{"aether-mitm"},
		},
		NotBefore:             time.Now().Add(-time.Hour * 48),
		NotAfter:              time.Now().Add(time.Hour * 24 * 365 * 5),
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

var serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)

func newSerialNumber() *big.Int {
	n, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		// crypto/rand failing is unrecoverable; fall back to a
		// timestamp-derived value rather than panic.
		return big.NewInt(time.Now().UnixNano())
	}
	return n
}

// fingerprint keys the leaf cache by the exact, order-independent set of
// names a certificate must cover, per spec §4.6 ("a lookup hit returns
// a leaf whose SAN set equals the requested name set").
func fingerprint(names []string) string {
	sorted := lo.Uniq(names)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])
}

// GetCert returns a leaf certificate covering exactly names, minting and
// caching one if no cached leaf already covers that set. Concurrent
// misses for the same name set collapse into a single mint via the
// singleflight group.
func (s *Store) GetCert(names []string) (*tls.Certificate, error) {
	if len(names) == 0 {
		return nil, errors.New("cert: at least one name is required")
	}
	key := fingerprint(names)

	s.cacheMu.Lock()
	if val, ok := s.cache.Get(key); ok {
		s.cacheMu.Unlock()
		return val.(*tls.Certificate), nil
	}
	s.cacheMu.Unlock()

	val, err := s.group.Do(key, func() (interface{}, error) {
		// A caller that missed the cache just before another caller's
		// mint finished arrives here after it; reuse that leaf.
		s.cacheMu.Lock()
		if val, ok := s.cache.Get(key); ok {
			s.cacheMu.Unlock()
			return val, nil
		}
		s.cacheMu.Unlock()

		cert, err := s.mint(names)
		if err != nil {
			return nil, err
		}
		s.cacheMu.Lock()
		s.cache.Add(key, cert)
		s.cacheMu.Unlock()
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*tls.Certificate), nil
}

// mint generates a new leaf certificate whose subject CN is the primary
// (first) name and whose SAN extension lists every name in names,
// signed by the store's root.
func (s *Store) mint(names []string) (*tls.Certificate, error) {
	log.WithField("at", "cert").WithField("names", names).Debug("minting leaf certificate")

	template := &x509.Certificate{
		SerialNumber: newSerialNumber(),
		Subject: pkix.Name{
			CommonName:   names[0],
			Organization: []string{"aether-mitm"},
		},
		NotBefore:          time.Now().Add(-time.Hour * 48),
		NotAfter:           time.Now().Add(leafValidity),
		SignatureAlgorithm: x509.SHA256WithRSA,
		ExtKeyUsage:        []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	for _, name := range names {
		if ip := net.ParseIP(name); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, name)
		}
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, &s.RootCert, &leafKey.PublicKey, &s.PrivateKey)
	if err != nil {
		return nil, err
	}

	return &tls.Certificate{
		Certificate: [][]byte{certBytes},
		PrivateKey:  leafKey,
	}, nil
}
