package proxy

import (
	"context"
	"io"
	"net"

	"github.com/aether-mitm/aether/flow"
)

// runTunnel dials target and relays bytes opaquely in both directions,
// for CONNECT tunnels this proxy isn't intercepting (TLS to a target
// outside ShouldIntercept, or any non-HTTP, non-TLS protocol riding
// over the CONNECT).
func (p *Proxy) runTunnel(pc net.Conn, connCtx *flow.ConnContext, target string) {
	upstream, err := p.dialUpstream(context.Background(), target)
	if err != nil {
		log.WithField("in", "tunnel").Debugf("dial %v: %v", target, err)
		return
	}
	sc := connCtx.AttachServerConn(target, upstream)
	close(sc.TLSHandshaked)

	p.copyTunnel(pc, upstream)
}

// copyTunnel pumps bytes both ways between a and b until either side
// closes or errors; it returns once both directions have stopped.
func (p *Proxy) copyTunnel(a, b net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		if _, err := io.Copy(b, a); err != nil && !ignorableNetErr(err) {
			log.WithField("in", "tunnel").Debugf("copy client->server: %v", err)
		}
		closeWrite(b)
		done <- struct{}{}
	}()

	go func() {
		if _, err := io.Copy(a, b); err != nil && !ignorableNetErr(err) {
			log.WithField("in", "tunnel").Debugf("copy server->client: %v", err)
		}
		closeWrite(a)
		done <- struct{}{}
	}()

	<-done
	<-done
}

// closeWrite half-closes conn's write side if it supports it, so the
// other io.Copy goroutine observes EOF instead of blocking forever;
// falls back to a full close for connection types without CloseWrite
// (e.g. *pipeconn.PeekConn, which exposes only net.Conn's methods).
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
		return
	}
	conn.Close()
}
