package proxy

import (
	"context"
	"net"
	"time"

	"github.com/aether-mitm/aether/internal/helper"
)

const dialTimeout = 15 * time.Second

// dialUpstream opens a plain TCP connection to address ("host:port"),
// routing through Opts.UpstreamProxy via CONNECT if one is configured.
func (p *Proxy) dialUpstream(ctx context.Context, address string) (net.Conn, error) {
	if p.Opts.UpstreamProxy != nil {
		return helper.GetProxyConn(ctx, p.Opts.UpstreamProxy, address)
	}
	d := &net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "tcp", address)
}
