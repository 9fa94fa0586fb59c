package proxy

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/aether-mitm/aether/errs"
	"github.com/aether-mitm/aether/httpmsg"
)

func TestSelfConnect(t *testing.T) {
	listen := &net.TCPAddr{IP: net.ParseIP("0.0.0.0"), Port: 8080}
	loopback := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080}
	remote := &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 51000}

	if !selfConnect(listen, loopback) {
		t.Fatal("expected loopback peer on the listen port to be rejected")
	}
	if selfConnect(listen, remote) {
		t.Fatal("expected a genuine remote peer to be accepted")
	}
}

func TestIgnorableNetErr(t *testing.T) {
	if ignorableNetErr(nil) {
		t.Fatal("nil is not ignorable")
	}
	if !ignorableNetErr(errors.New("read: connection reset by peer")) {
		t.Fatal("expected connection reset to be ignorable")
	}
	if ignorableNetErr(errors.New("boom")) {
		t.Fatal("expected an arbitrary error not to be ignorable")
	}
}

func TestCloseRequested(t *testing.T) {
	h := httpmsg.NewHeader()
	if closeRequested(httpmsg.HTTP11, h) {
		t.Fatal("HTTP/1.1 with no Connection header should keep-alive")
	}

	h.Set("Connection", "close")
	if !closeRequested(httpmsg.HTTP11, h) {
		t.Fatal("Connection: close should force close")
	}

	h2 := httpmsg.NewHeader()
	if !closeRequested(httpmsg.HTTP10, h2) {
		t.Fatal("HTTP/1.0 with no keep-alive token should close")
	}

	h2.Set("Connection", "keep-alive")
	if closeRequested(httpmsg.HTTP10, h2) {
		t.Fatal("HTTP/1.0 with explicit keep-alive should not close")
	}
}

func TestParseErrorResponseMapsBodyTooLargeTo413(t *testing.T) {
	resp := parseErrorResponse(errs.HTTPErr(errs.BodySizeTooLarge, "given body size exceeds limit"))
	if resp.Status != 413 {
		t.Fatalf("status = %d, want 413", resp.Status)
	}
}

func TestParseErrorResponseDefaultsTo400(t *testing.T) {
	resp := parseErrorResponse(errs.HTTPErr(errs.InvalidMethod, "bogus method"))
	if resp.Status != 400 {
		t.Fatalf("status = %d, want 400", resp.Status)
	}

	resp = parseErrorResponse(errors.New("boom"))
	if resp.Status != 400 {
		t.Fatalf("status = %d, want 400", resp.Status)
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	req := httpmsg.NewHeader()
	req.Set("Upgrade", "websocket")
	resp := httpmsg.NewHeader()
	resp.Set("Upgrade", "websocket")

	r := &httpmsg.Request{Header: req}
	ok := &httpmsg.Response{Status: 101, Header: resp}
	if !isWebSocketUpgrade(r, ok) {
		t.Fatal("expected matching Upgrade headers plus 101 to count as an upgrade")
	}

	notUpgraded := &httpmsg.Response{Status: 200, Header: resp}
	if isWebSocketUpgrade(r, notUpgraded) {
		t.Fatal("a 200 response should never count as an upgrade")
	}
}

// TestProxyForwardsAbsoluteFormRequest drives an end-to-end round trip:
// a fake upstream server, a Proxy listening on an ephemeral port, and a
// raw client connection sending an absolute-form GET the way a browser
// configured to use this proxy would.
func TestProxyForwardsAbsoluteFormRequest(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	defer upstreamLn.Close()

	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		if _, err := httpmsg.ParseRequest(br, httpmsg.DefaultParserOptions); err != nil {
			return
		}
		body := []byte("hello from upstream")
		h := httpmsg.NewHeader()
		h.Set("Content-Type", "text/plain")
		resp := &httpmsg.Response{Version: httpmsg.HTTP11, Status: 200, Reason: "OK", Header: h, Body: body}
		conn.Write(resp.Serialize())
	}()

	p, err := NewProxy(&Options{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	go p.Start()
	defer p.Close()

	proxyAddr := waitForListener(t, p)

	client, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer client.Close()

	req := &httpmsg.Request{
		Method:  "GET",
		Target:  mustAbsoluteURL(t, "http://"+upstreamLn.Addr().String()+"/hello"),
		Version: httpmsg.HTTP11,
		Header:  httpmsg.NewHeader(),
	}
	req.Header.Set("Host", upstreamLn.Addr().String())
	if _, err := client.Write(req.Serialize()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := httpmsg.ParseResponse(bufio.NewReader(client), httpmsg.DefaultParserOptions)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != "hello from upstream" {
		t.Fatalf("body = %q", resp.Body)
	}
}

// TestProxyStripsChunkedUpstreamResponse covers spec.md's worked example
// #3: a chunked upstream response arrives at the client with
// Transfer-Encoding stripped and a synthesized Content-Length, through
// the bare proxy pipeline (no addon.Decoder wired).
func TestProxyStripsChunkedUpstreamResponse(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	defer upstreamLn.Close()

	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		if _, err := httpmsg.ParseRequest(br, httpmsg.DefaultParserOptions); err != nil {
			return
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"))
	}()

	p, err := NewProxy(&Options{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	go p.Start()
	defer p.Close()

	proxyAddr := waitForListener(t, p)

	client, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer client.Close()

	req := &httpmsg.Request{
		Method:  "GET",
		Target:  mustAbsoluteURL(t, "http://"+upstreamLn.Addr().String()+"/hello"),
		Version: httpmsg.HTTP11,
		Header:  httpmsg.NewHeader(),
	}
	req.Header.Set("Host", upstreamLn.Addr().String())
	if _, err := client.Write(req.Serialize()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := httpmsg.ParseResponse(bufio.NewReader(client), httpmsg.DefaultParserOptions)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Header.Has("Transfer-Encoding") {
		t.Fatalf("expected Transfer-Encoding to be stripped, got %q", resp.Header.Get("Transfer-Encoding"))
	}
	if resp.Header.Get("Content-Length") != "11" {
		t.Fatalf("expected synthesized Content-Length: 11, got %q", resp.Header.Get("Content-Length"))
	}
	if string(resp.Body) != "hello world" {
		t.Fatalf("body = %q", resp.Body)
	}
}

func waitForListener(t *testing.T, p *Proxy) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.ln != nil {
			return p.ln.Addr().String()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("proxy never started listening")
	return ""
}

func mustAbsoluteURL(t *testing.T, s string) httpmsg.URL {
	t.Helper()
	u, err := httpmsg.ParseAbsoluteForm(s)
	if err != nil {
		t.Fatalf("parse absolute url %q: %v", s, err)
	}
	return u
}
