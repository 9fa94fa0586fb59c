// Package pipeconn provides in-process net.Conn plumbing. The services
// use PeekConn to look at a connection's first bytes and then hand the
// same buffered connection to the HTTP service; New, an in-memory
// connection pair, has no caller outside this package's tests.
//
// Earlier lineages of this proxy reached for github.com/jordwest/mock-conn
// for this, back when stdlib net.Pipe had no deadline support. Since Go
// 1.10, net.Pipe implements full deadline semantics, so this package
// wraps net.Pipe directly rather than vendoring a third-party duplex
// pipe implementation.
package pipeconn

import (
	"bufio"
	"net"
)

// New returns a synchronous, in-memory connection pair: writes to one
// end are readable on the other with no OS-level buffering.
func New() (client, server net.Conn) {
	return net.Pipe()
}

// PeekConn wraps a net.Conn with a buffered reader so that a caller can
// inspect the first few bytes (e.g. a TLS record header) before
// deciding how to route the connection, without losing those bytes for
// whoever reads next.
type PeekConn struct {
	net.Conn
	r *bufio.Reader
}

// NewPeekConn wraps c for peeking.
func NewPeekConn(c net.Conn) *PeekConn {
	return &PeekConn{Conn: c, r: bufio.NewReader(c)}
}

func (p *PeekConn) Peek(n int) ([]byte, error) { return p.r.Peek(n) }
func (p *PeekConn) Read(b []byte) (int, error) { return p.r.Read(b) }

// BufioReader returns the buffered reader backing Peek/Read, so a caller
// parsing line-oriented protocol data (an HTTP request, say) can read
// through the exact same buffer a Peek call inspects, rather than
// double-buffering and losing track of what's already been looked at.
func (p *PeekConn) BufioReader() *bufio.Reader { return p.r }
