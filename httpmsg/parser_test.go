package httpmsg

import (
	"bufio"
	"strings"
	"testing"
)

func TestParseRequestOriginForm(t *testing.T) {
	raw := "GET /index.html?a=1 HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultParserOptions)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Method != "GET" {
		t.Fatalf("method = %q", req.Method)
	}
	if req.Target.Form != Origin || req.Target.Path != "/index.html" || req.Target.Search != "?a=1" {
		t.Fatalf("target = %+v", req.Target)
	}
	if req.Version != HTTP11 {
		t.Fatalf("version = %v", req.Version)
	}
	if req.Header.Get("Host") != "example.com" {
		t.Fatalf("host header = %q", req.Header.Get("Host"))
	}
	if string(req.Body) != "hello" {
		t.Fatalf("body = %q", req.Body)
	}
}

func TestParseRequestConnect(t *testing.T) {
	raw := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultParserOptions)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Target.Form != Authority || req.Target.NetLoc.Host != "example.com" || req.Target.NetLoc.Port != 443 {
		t.Fatalf("target = %+v", req.Target)
	}
}

func TestParseRequestRejectsAuthorityOutsideConnect(t *testing.T) {
	raw := "GET example.com:80 HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultParserOptions)
	if err == nil {
		t.Fatal("expected error for authority-form target outside CONNECT")
	}
}

func TestParseRequestChunkedBody(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\nX-Trailer: done\r\n\r\n"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultParserOptions)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if string(req.Body) != "hello world" {
		t.Fatalf("body = %q", req.Body)
	}
	if req.Header.Get("X-Trailer") != "done" {
		t.Fatalf("trailer not merged: %q", req.Header.Get("X-Trailer"))
	}
}

func TestParseResponseNoBodyStatuses(t *testing.T) {
	raw := "HTTP/1.1 204 No Content\r\nHost: example.com\r\n\r\n"
	resp, err := ParseResponse(bufio.NewReader(strings.NewReader(raw)), DefaultParserOptions)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(resp.Body) != 0 {
		t.Fatalf("expected empty body for 204, got %q", resp.Body)
	}
}

func TestParseResponseReadUntilEOF(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nX-Foo: bar\r\n\r\nthe rest of the connection"
	resp, err := ParseResponse(bufio.NewReader(strings.NewReader(raw)), DefaultParserOptions)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if string(resp.Body) != "the rest of the connection" {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestParseRequestBodyTooLarge(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 20\r\n\r\n01234567890123456789"
	_, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), ParserOptions{MaxBodySize: 10})
	if err == nil {
		t.Fatal("expected body-too-large error")
	}
}

func TestSerializeStripsTransferEncoding(t *testing.T) {
	h := NewHeader()
	h.Set("Transfer-Encoding", "chunked")
	resp := &Response{Version: HTTP11, Status: 200, Reason: "OK", Header: h, Body: []byte("hello world")}

	raw := string(resp.Serialize())
	parsed, err := ParseResponse(bufio.NewReader(strings.NewReader(raw)), DefaultParserOptions)
	if err != nil {
		t.Fatalf("re-parsing serialized response: %v", err)
	}
	if parsed.Header.Has("Transfer-Encoding") {
		t.Fatalf("expected Transfer-Encoding to be stripped, got %q", parsed.Header.Get("Transfer-Encoding"))
	}
	if parsed.Header.Get("Content-Length") != "11" {
		t.Fatalf("expected synthesized Content-Length: 11, got %q", parsed.Header.Get("Content-Length"))
	}
	if string(parsed.Body) != "hello world" {
		t.Fatalf("body = %q", parsed.Body)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	req := &Request{
		Method:  "POST",
		Target:  MakeOriginForm("/submit", ""),
		Version: HTTP11,
		Header:  NewHeader(),
		Body:    []byte("payload"),
	}
	req.Header.Add("Host", "example.com")

	raw := req.Serialize()
	parsed, err := ParseRequest(bufio.NewReader(strings.NewReader(string(raw))), DefaultParserOptions)
	if err != nil {
		t.Fatalf("re-parsing serialized request: %v", err)
	}
	if parsed.Method != "POST" || string(parsed.Body) != "payload" {
		t.Fatalf("round trip mismatch: %+v body=%q", parsed, parsed.Body)
	}
	if parsed.Header.Get("Content-Length") != "7" {
		t.Fatalf("expected synthesized content-length, got %q", parsed.Header.Get("Content-Length"))
	}
}
