package httpmsg

import (
	"bufio"
	"strings"

	"github.com/aether-mitm/aether/errs"
	"github.com/aether-mitm/aether/internal/segment"
)

// MaxBodySize bounds Content-Length and chunked bodies; requests or
// responses declaring a larger body are rejected before any bytes are
// read into memory. Zero means unbounded.
type ParserOptions struct {
	MaxBodySize int
}

// DefaultParserOptions matches the spec §8 scenario 6 test fixture.
var DefaultParserOptions = ParserOptions{MaxBodySize: 10 * 1024 * 1024}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func readHeaders(in *bufio.Reader) (*Header, error) {
	h := NewHeader()
	for {
		seg := segment.New()
		if _, err := seg.ReadUntil(in, "\r\n"); err != nil {
			return nil, errs.HTTPErr(errs.InvalidHeader, "reading header line: "+err.Error())
		}
		raw := strings.TrimSuffix(string(seg.Export()), "\r\n")
		if raw == "" {
			return h, nil
		}
		name, value, ok := splitHeaderLine(raw)
		if !ok {
			return nil, errs.HTTPErr(errs.InvalidHeader, "malformed header: "+raw)
		}
		h.Add(name, value)
	}
}

// readStartLine reads a single CRLF-terminated line, without the CRLF.
func readStartLine(in *bufio.Reader) (string, error) {
	seg := segment.New()
	if _, err := seg.ReadUntil(in, "\r\n"); err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(seg.Export()), "\r\n"), nil
}

// ParseRequest parses a single HTTP/1.x request from in, per spec §4.2.
func ParseRequest(in *bufio.Reader, opts ParserOptions) (*Request, error) {
	line, err := readStartLine(in)
	if err != nil {
		return nil, errs.HTTPErr(errs.InvalidRequestLine, err.Error())
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, errs.HTTPErr(errs.InvalidRequestLine, "expected 3 fields: "+line)
	}
	method, targetStr, versionStr := parts[0], parts[1], parts[2]

	if !validMethods[method] {
		return nil, errs.HTTPErr(errs.InvalidMethod, method)
	}
	target, err := ParseTarget(targetStr, method)
	if err != nil {
		return nil, err
	}
	version, ok := ParseVersion(versionStr)
	if !ok {
		return nil, errs.HTTPErr(errs.InvalidVersion, versionStr)
	}

	header, err := readHeaders(in)
	if err != nil {
		return nil, err
	}

	req := &Request{Method: method, Target: target, Version: version, Header: header}

	body, trailers, err := readBody(in, header, opts, true, 0)
	if err != nil {
		return nil, err
	}
	req.Body = body
	if trailers != nil {
		trailers.Each(func(name, value string) { header.Add(name, value) })
	}

	return req, nil
}

// ParseResponse parses a single HTTP/1.x response from in. status is
// needed by the body-selection rule (no body for 1xx/204/304).
func ParseResponse(in *bufio.Reader, opts ParserOptions) (*Response, error) {
	line, err := readStartLine(in)
	if err != nil {
		return nil, errs.HTTPErr(errs.InvalidResponseLine, err.Error())
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, errs.HTTPErr(errs.InvalidResponseLine, "expected at least 2 fields: "+line)
	}
	version, ok := ParseVersion(parts[0])
	if !ok {
		return nil, errs.HTTPErr(errs.InvalidVersion, parts[0])
	}
	status := 0
	for _, c := range parts[1] {
		if c < '0' || c > '9' {
			return nil, errs.HTTPErr(errs.InvalidStatus, parts[1])
		}
		status = status*10 + int(c-'0')
	}
	if status < 100 || status > 599 {
		return nil, errs.HTTPErr(errs.InvalidStatus, parts[1])
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	header, err := readHeaders(in)
	if err != nil {
		return nil, err
	}

	resp := &Response{Version: version, Status: status, Reason: reason, Header: header}

	body, trailers, err := readBody(in, header, opts, false, status)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	if trailers != nil {
		trailers.Each(func(name, value string) { header.Add(name, value) })
	}

	return resp, nil
}

// readBody implements the body-selection rule of spec §4.2.
func readBody(in *bufio.Reader, header *Header, opts ParserOptions, isRequest bool, status int) ([]byte, *Header, error) {
	if isChunked(header) {
		return readChunkedBody(in, opts.MaxBodySize)
	}

	if length, ok := contentLength(header); ok {
		if length < 0 {
			return nil, nil, errs.HTTPErr(errs.InvalidBodySize, "negative content-length")
		}
		if opts.MaxBodySize > 0 && length > opts.MaxBodySize {
			return nil, nil, errs.HTTPErr(errs.BodySizeTooLarge, "content-length exceeds limit")
		}
		if length == 0 {
			return []byte{}, nil, nil
		}
		seg := segment.New()
		if _, err := seg.ReadUpToBytes(in, length); err != nil {
			return nil, nil, errs.HTTPErr(errs.InvalidBodySize, err.Error())
		}
		return seg.Export(), nil, nil
	}

	if header.Has("Content-Length") {
		// Present but non-numeric.
		return nil, nil, errs.HTTPErr(errs.InvalidBodySize, "non-numeric content-length")
	}

	if isRequest {
		return []byte{}, nil, nil
	}

	// Response with neither Transfer-Encoding nor Content-Length: only
	// read-until-EOF if the status permits a body at all.
	r := &Response{Status: status}
	if !r.AllowsBody() {
		return []byte{}, nil, nil
	}
	seg := segment.New()
	if err := seg.ReadAll(in); err != nil {
		return nil, nil, errs.HTTPErr(errs.MalformedResponseBody, err.Error())
	}
	return seg.Export(), nil, nil
}
