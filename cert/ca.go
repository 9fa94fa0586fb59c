package cert

import (
	"crypto/tls"
	"crypto/x509"
)

// CA is the interface the proxy's TLS interception service uses to mint
// leaf certificates on demand. It is deliberately narrow so that the
// TLS service can be tested against a fake.
type CA interface {
	GetRootCA() *x509.Certificate
	GetCert(names []string) (*tls.Certificate, error)
}

func (ca *Store) GetRootCA() *x509.Certificate { return &ca.RootCert }
