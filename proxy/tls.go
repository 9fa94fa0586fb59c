package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"strings"

	"github.com/aether-mitm/aether/errs"
	"github.com/aether-mitm/aether/flow"
	"github.com/aether-mitm/aether/internal/helper"
	"github.com/aether-mitm/aether/internal/pipeconn"
)

// interceptTLS terminates the client's TLS on pc, dials and handshakes
// TLS to target, mints a leaf certificate matching whatever SANs the
// real server presents, and completes the downstream handshake with
// that leaf. Once both handshakes are done, the plaintext connection is
// routed by negotiated ALPN: HTTP/1.x goes back through the HTTP
// service, anything else falls through to the opaque tunnel.
func (p *Proxy) interceptTLS(pc *pipeconn.PeekConn, connCtx *flow.ConnContext, target string) {
	connCtx.Intercept = true

	type upstreamResult struct {
		conn  *tls.Conn
		state tls.ConnectionState
		err   error
	}
	upstreamDone := make(chan upstreamResult, 1)

	sc := connCtx.AttachServerConn(target, nil)

	getConfigForClient := func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		serverName := hello.ServerName
		if serverName == "" {
			serverName, _, _ = splitHostPort(target)
		}

		rawUpstream, err := p.dialUpstream(context.Background(), target)
		if err != nil {
			tlsErr := errs.TLSErr(errs.UpstreamConnectError, err.Error())
			upstreamDone <- upstreamResult{err: tlsErr}
			close(sc.TLSHandshaked)
			return nil, tlsErr
		}

		upstreamConf := &tls.Config{
			ServerName:         serverName,
			NextProtos:         alpnOffer(hello.SupportedProtos),
			InsecureSkipVerify: p.Opts.InsecureSkipVerify,
			KeyLogWriter:       helper.TLSKeyLogWriter(),
		}
		upstreamConn := tls.Client(rawUpstream, upstreamConf)
		if err := upstreamConn.HandshakeContext(context.Background()); err != nil {
			rawUpstream.Close()
			tlsErr := errs.TLSErr(errs.UpstreamHandshakeFailed, err.Error())
			upstreamDone <- upstreamResult{err: tlsErr}
			close(sc.TLSHandshaked)
			return nil, tlsErr
		}

		state := upstreamConn.ConnectionState()
		upstreamDone <- upstreamResult{conn: upstreamConn, state: state}

		sc.Conn = upstreamConn
		sc.Reader = bufio.NewReader(upstreamConn)
		sc.TLSConn = upstreamConn
		sc.TLSState = &state
		close(sc.TLSHandshaked)

		names := leafNames(&state, serverName)
		leaf, err := p.ca.GetCert(names)
		if err != nil {
			return nil, errs.TLSErr(errs.CertificateCreationError, err.Error())
		}

		return &tls.Config{
			Certificates: []tls.Certificate{*leaf},
			NextProtos:   []string{negotiatedALPNOrDefault(state.NegotiatedProtocol)},
			KeyLogWriter: helper.TLSKeyLogWriter(),
		}, nil
	}

	downstream := tls.Server(pc, &tls.Config{GetConfigForClient: getConfigForClient})
	if err := downstream.HandshakeContext(context.Background()); err != nil {
		tlsErr, ok := err.(*errs.Error)
		if !ok {
			tlsErr = errs.TLSErr(errs.DownstreamHandshakeFailed, err.Error())
		}
		log.WithField("in", "tls").Debugf("downstream handshake failed for %v: %v", target, tlsErr)
		return
	}

	up := <-upstreamDone
	if up.err != nil {
		log.WithField("in", "tls").Debugf("upstream handshake failed for %v: %v", target, up.err)
		downstream.Close()
		return
	}

	if downstream.ConnectionState().NegotiatedProtocol == "" || isHTTPLike(downstream.ConnectionState().NegotiatedProtocol) {
		innerPC := pipeconn.NewPeekConn(downstream)
		p.runHTTPService(innerPC, connCtx)
		return
	}

	p.copyTunnel(downstream, sc.Conn)
}

// alpnOffer mirrors the client's requested protocol list upstream
// verbatim. Whatever the upstream server negotiates from that set is
// what decides, post-handshake, whether isHTTPLike routes the
// connection to the HTTP service or falls through to the opaque
// tunnel.
func alpnOffer(clientProtos []string) []string {
	if len(clientProtos) == 0 {
		return nil
	}
	out := make([]string, len(clientProtos))
	copy(out, clientProtos)
	return out
}

func negotiatedALPNOrDefault(proto string) string {
	if proto == "" {
		return "http/1.1"
	}
	return proto
}

func isHTTPLike(proto string) bool {
	return strings.HasPrefix(proto, "http/1")
}

// leafNames builds the SAN set the minted downstream leaf should carry:
// whatever DNS names the real upstream certificate has, plus the SNI
// name the client asked for, so the leaf always covers what the client
// is about to validate it against.
func leafNames(state *tls.ConnectionState, serverName string) []string {
	names := []string{serverName}
	if len(state.PeerCertificates) > 0 {
		names = append(names, state.PeerCertificates[0].DNSNames...)
	}
	return names
}

func splitHostPort(address string) (host, port string, err error) {
	idx := strings.LastIndex(address, ":")
	if idx < 0 {
		return address, "", nil
	}
	return address[:idx], address[idx+1:], nil
}
