package proxy

import (
	"net/url"

	"github.com/aether-mitm/aether/addon"
)

// Options configures a Proxy.
type Options struct {
	// Addr is the listen address for the client-facing acceptor, e.g.
	// ":8080".
	Addr string

	// CertPath is the directory holding (or to create) the root CA's
	// PEM cert/key pair. Empty means run with an in-memory root that
	// disappears when the process exits.
	CertPath string

	// LeafCacheSize bounds the number of minted leaf certificates kept
	// in the LRU cache. Zero picks a sane default.
	LeafCacheSize int

	// MaxBodySize caps how large a Content-Length-declared body the
	// HTTP codec will read before failing the flow with
	// errs.BodySizeTooLarge. Zero picks httpmsg.DefaultParserOptions.
	MaxBodySize int

	// InsecureSkipVerify disables upstream certificate verification
	// during the TLS interception service's server-side handshake.
	InsecureSkipVerify bool

	// UpstreamProxy, if set, is an explicit forwarding proxy every
	// upstream TCP dial tunnels through via CONNECT.
	UpstreamProxy *url.URL

	// ShouldIntercept decides whether a given CONNECT target's TLS
	// should be terminated and re-originated. Nil means intercept
	// everything.
	ShouldIntercept func(target string) bool

	// Addons receive lifecycle callbacks for every connection and flow.
	Addons []addon.Addon
}
