package proxy

import (
	"bufio"
	"context"
	"net"
	"strconv"

	"github.com/aether-mitm/aether/errs"
	"github.com/aether-mitm/aether/flow"
	"github.com/aether-mitm/aether/httpmsg"
	"github.com/aether-mitm/aether/internal/helper"
	"github.com/aether-mitm/aether/internal/pipeconn"
)

// serveClient owns one accepted client socket end to end: it runs the
// HTTP service until the connection closes or hands itself off to the
// tunnel/WebSocket services, then fires the disconnect hook and tears
// the upstream socket down.
func (p *Proxy) serveClient(rawConn net.Conn) {
	pc := pipeconn.NewPeekConn(rawConn)
	connCtx := flow.NewConnContext(rawConn)

	for _, a := range p.Opts.Addons {
		a.ClientConnected(connCtx.ClientConn)
	}
	defer func() {
		if connCtx.ServerConn != nil {
			connCtx.ServerConn.Conn.Close()
		}
		rawConn.Close()
		for _, a := range p.Opts.Addons {
			a.ClientDisconnected(connCtx.ClientConn)
		}
	}()

	p.runHTTPService(pc, connCtx)
}

// runHTTPService reads requests off pc until the connection needs to
// hand off (CONNECT, WebSocket upgrade) or is done (parse failure,
// Connection: close on either side).
func (p *Proxy) runHTTPService(pc *pipeconn.PeekConn, connCtx *flow.ConnContext) {
	br := pc.BufioReader()

	for {
		req, err := httpmsg.ParseRequest(br, p.parserOpts())
		if err != nil {
			if connCtx.FlowCount.Load() > 0 {
				// A parse failure on a reused keep-alive connection
				// almost always means the peer just closed it.
				return
			}
			p.writeParseError(pc, err)
			return
		}

		if req.Method == "CONNECT" {
			p.handleConnect(pc, connCtx, req)
			return
		}

		if !p.handleRequest(pc, connCtx, req) {
			return
		}
	}
}

func (p *Proxy) writeParseError(pc *pipeconn.PeekConn, err error) {
	if ignorableNetErr(err) {
		return
	}
	log.WithField("in", "http").Debugf("bad request: %v", err)
	pc.Write(parseErrorResponse(err).Serialize())
}

// handleRequest runs one request/response exchange and reports whether
// the connection should keep serving further requests.
func (p *Proxy) handleRequest(pc *pipeconn.PeekConn, connCtx *flow.ConnContext, req *httpmsg.Request) bool {
	f := flow.NewFlow(connCtx)
	f.Request = req
	connCtx.FlowCount.Inc()

	for _, a := range p.Opts.Addons {
		a.Requestheaders(f)
		if f.Response != nil {
			break
		}
	}
	if f.Response == nil {
		for _, a := range p.Opts.Addons {
			a.Request(f)
			if f.Response != nil {
				break
			}
		}
	}

	if f.Response == nil {
		p.forwardRequest(connCtx, f)
	}

	for _, a := range p.Opts.Addons {
		a.Responseheaders(f)
	}
	for _, a := range p.Opts.Addons {
		a.Response(f)
	}

	if f.Response == nil {
		f.Response = badGatewayResponse(f.Error)
	}

	upgrade := isWebSocketUpgrade(req, f.Response)

	if _, err := pc.Write(f.Response.Serialize()); err != nil {
		f.Finish()
		return false
	}
	f.Finish()

	if upgrade {
		p.runWebSocketService(pc, connCtx, f)
		return false
	}

	connCtx.SetCloseAfterResponse(closeRequested(req.Version, req.Header) || closeRequested(f.Response.Version, f.Response.Header))
	return !connCtx.CloseAfterResponse()
}

// forwardRequest dials (or reuses) the upstream connection, rewrites
// the request to origin-form, and reads back a response. On a dial,
// write or response-parse failure it sets f.Error and leaves f.Response
// nil; handleRequest then answers the client with a 502.
func (p *Proxy) forwardRequest(connCtx *flow.ConnContext, f *flow.Flow) {
	req := f.Request
	target, err := resolveTarget(req, connCtx)
	if err != nil {
		f.Error = err
		return
	}

	if connCtx.ServerConn == nil || connCtx.ServerConn.Address != target {
		if connCtx.ServerConn != nil {
			connCtx.ServerConn.Conn.Close()
		}
		conn, err := p.dialUpstream(context.Background(), target)
		if err != nil {
			f.Error = errs.ProxyErr(errs.NetworkError, err.Error())
			connCtx.ServerConn = nil
			return
		}
		sc := connCtx.AttachServerConn(target, conn)
		sc.Reader = bufio.NewReader(conn)
	}

	out := *req
	out.Target = req.Target.ToOrigin()
	if !out.Header.Has("Host") {
		out.Header.Set("Host", target)
	}

	sc := connCtx.ServerConn
	if _, err := sc.Conn.Write(out.Serialize()); err != nil {
		f.Error = errs.ProxyErr(errs.NetworkError, err.Error())
		sc.Conn.Close()
		connCtx.ServerConn = nil
		return
	}

	resp, err := httpmsg.ParseResponse(sc.Reader, p.parserOpts())
	if err != nil {
		f.Error = err
		sc.Conn.Close()
		connCtx.ServerConn = nil
		return
	}
	f.Response = resp
}

// resolveTarget determines the "host:port" the request should be
// forwarded to: absolute-form requests carry it in the target itself;
// origin-form requests (post-CONNECT, whether plaintext-in-tunnel or
// TLS-terminated) rely on the tunnel target recorded on the connection.
func resolveTarget(req *httpmsg.Request, connCtx *flow.ConnContext) (string, error) {
	switch req.Target.Form {
	case httpmsg.Absolute:
		nl := req.Target.NetLoc
		if nl.HasPort {
			return nl.HostString(), nil
		}
		port := 80
		if req.Target.Scheme == "https" {
			port = 443
		}
		return nl.Host + ":" + strconv.Itoa(port), nil
	case httpmsg.Origin:
		if connCtx.TargetAddr != "" {
			return connCtx.TargetAddr, nil
		}
		if host := req.Header.Get("Host"); host != "" {
			return defaultPort(host), nil
		}
		return "", errs.HTTPErr(errs.InvalidTargetHost, "origin-form request with no Host header outside a tunnel")
	default:
		return "", errs.HTTPErr(errs.InvalidTargetHost, "unsupported request-target form: "+req.Target.Form.String())
	}
}

func defaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return host + ":80"
}

// closeRequested mirrors httpmsg's unexported rule (Connection: close,
// or HTTP/1.0 without keep-alive) using only the exported Header API.
func closeRequested(version httpmsg.Version, h *httpmsg.Header) bool {
	if h.HasToken("Connection", "close") {
		return true
	}
	if version == httpmsg.HTTP10 && !h.HasToken("Connection", "keep-alive") {
		return true
	}
	return false
}

func isWebSocketUpgrade(req *httpmsg.Request, resp *httpmsg.Response) bool {
	if resp.Status != 101 {
		return false
	}
	return req.Header.HasToken("Upgrade", "websocket") && resp.Header.HasToken("Upgrade", "websocket")
}

// parseErrorResponse maps a request-parse failure to its wire-level
// response. errs.BodySizeTooLarge gets a 413 per spec §8 scenario 6
// ("proxy responds 413 and closes without opening an upstream socket");
// every other parse failure is a generic 400.
func parseErrorResponse(err error) *httpmsg.Response {
	status, reason := 400, "Bad Request"
	if e, ok := err.(*errs.Error); ok && e.Category() == errs.HTTP && e.Code() == errs.BodySizeTooLarge {
		status, reason = 413, "Payload Too Large"
	}

	body := []byte(err.Error())
	h := httpmsg.NewHeader()
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Connection", "close")
	return &httpmsg.Response{Version: httpmsg.HTTP11, Status: status, Reason: reason, Header: h, Body: body}
}

func badGatewayResponse(err error) *httpmsg.Response {
	msg := "upstream connection failed"
	if err != nil {
		msg = err.Error()
	}
	body := []byte(msg)
	h := httpmsg.NewHeader()
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Connection", "close")
	return &httpmsg.Response{Version: httpmsg.HTTP11, Status: 502, Reason: "Bad Gateway", Header: h, Body: body}
}

// handleConnect answers a CONNECT with a 200, then peeks the first
// bytes of whatever the client sends next to decide whether this is a
// TLS ClientHello (route to the interception service) or something
// else (route to the opaque tunnel).
func (p *Proxy) handleConnect(pc *pipeconn.PeekConn, connCtx *flow.ConnContext, req *httpmsg.Request) {
	target := req.Target.NetLoc.HostString()
	connCtx.TargetAddr = target

	ok := &httpmsg.Response{
		Version: httpmsg.HTTP11,
		Status:  200,
		Reason:  "Connection Established",
		Header:  httpmsg.NewHeader(),
	}
	if _, err := pc.Write(ok.Serialize()); err != nil {
		return
	}

	peek, err := pc.Peek(3)
	if err != nil {
		return
	}

	if helper.IsTLS(peek) && p.shouldIntercept(target) {
		p.interceptTLS(pc, connCtx, target)
		return
	}

	if isPlausibleHTTPMethod(peek) {
		p.runHTTPService(pc, connCtx)
		return
	}

	p.runTunnel(pc, connCtx, target)
}

func isPlausibleHTTPMethod(peek []byte) bool {
	if len(peek) == 0 {
		return false
	}
	c := peek[0]
	return c >= 'A' && c <= 'Z'
}
