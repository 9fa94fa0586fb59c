// Package proxy implements the connection-flow state machine: an
// acceptor hands each client socket to the HTTP service, which
// dispatches CONNECT requests to the TLS interception service, which in
// turn hands off to either the HTTP service again (for terminated TLS
// carrying HTTP/1.x) or the tunnel service (everything else), with the
// HTTP service also handing off to the WebSocket service on a
// successful 101 upgrade.
package proxy

import (
	"net"
	"strings"

	_log "github.com/sirupsen/logrus"

	"github.com/aether-mitm/aether/cert"
	"github.com/aether-mitm/aether/httpmsg"
)

var log = _log.WithField("at", "proxy")

const defaultLeafCacheSize = 1024

// Proxy owns the listening socket and the shared state (certificate
// store, addon set) every accepted connection's services draw on.
type Proxy struct {
	Opts *Options
	ca   cert.CA

	ln net.Listener
}

// NewProxy constructs a Proxy and its certificate store, but does not
// start listening; call Start for that.
func NewProxy(opts *Options) (*Proxy, error) {
	cacheSize := opts.LeafCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultLeafCacheSize
	}

	var (
		store *cert.Store
		err   error
	)
	if opts.CertPath != "" {
		store, err = cert.NewStore(opts.CertPath, cacheSize)
	} else {
		store, err = cert.NewMemoryStore(cacheSize)
	}
	if err != nil {
		return nil, err
	}

	return &Proxy{Opts: opts, ca: store}, nil
}

func (p *Proxy) parserOpts() httpmsg.ParserOptions {
	if p.Opts.MaxBodySize <= 0 {
		return httpmsg.DefaultParserOptions
	}
	return httpmsg.ParserOptions{MaxBodySize: p.Opts.MaxBodySize}
}

func (p *Proxy) shouldIntercept(target string) bool {
	if p.Opts.ShouldIntercept == nil {
		return true
	}
	return p.Opts.ShouldIntercept(target)
}

// Start listens on Opts.Addr and serves accepted connections until the
// listener is closed.
func (p *Proxy) Start() error {
	addr := p.Opts.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.ln = ln

	log.Infof("proxy listening at %v", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if selfConnect(ln.Addr(), conn.RemoteAddr()) {
			log.Warn("rejecting self-connect")
			conn.Close()
			continue
		}
		go p.serveClient(conn)
	}
}

// Close stops accepting new connections. Connections already accepted
// run to completion.
func (p *Proxy) Close() error {
	if p.ln == nil {
		return nil
	}
	return p.ln.Close()
}

func selfConnect(listen, remote net.Addr) bool {
	la, ok := listen.(*net.TCPAddr)
	if !ok {
		return false
	}
	ra, ok := remote.(*net.TCPAddr)
	if !ok {
		return false
	}
	return ra.IP.IsLoopback() && la.Port == ra.Port
}

// ignorableNetErr reports whether err is the kind of connection-reset/
// broken-pipe/timeout noise that happens routinely when a peer hangs up
// mid-transfer, not worth logging at error level.
func ignorableNetErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"connection reset by peer", "broken pipe", "i/o timeout", "use of closed network connection", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
