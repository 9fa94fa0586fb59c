// Package flowbody decompresses HTTP response bodies by their
// Content-Encoding, so addons see the same bytes a browser would render
// rather than a gzip/br/deflate/zstd blob.
package flowbody

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/aether-mitm/aether/httpmsg"
)

var errUnsupportedEncoding = errors.New("flowbody: content-encoding not supported")

var textContentTypes = []string{"text", "javascript", "json", "xml"}

// IsTextContentType reports whether resp's Content-Type looks like text,
// a cheap signal addons use to decide whether decoding a body is worth
// doing at all.
func IsTextContentType(resp *httpmsg.Response) bool {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	for _, substr := range textContentTypes {
		if strings.Contains(ct, substr) {
			return true
		}
	}
	return false
}

// Decoded returns resp.Body with its Content-Encoding removed. A missing
// or "identity" encoding returns the body unchanged.
func Decoded(resp *httpmsg.Response) ([]byte, error) {
	if len(resp.Body) == 0 {
		return resp.Body, nil
	}
	enc := resp.Header.Get("Content-Encoding")
	if enc == "" || enc == "identity" {
		return resp.Body, nil
	}
	return decode(enc, resp.Body)
}

// ReplaceWithDecoded rewrites resp in place to carry its decoded body,
// dropping Content-Encoding/Transfer-Encoding and fixing up
// Content-Length. Leaves resp untouched if decoding fails, since a
// service further down the pipe may still forward the original bytes
// opaquely.
func ReplaceWithDecoded(resp *httpmsg.Response) error {
	body, err := Decoded(resp)
	if err != nil {
		return err
	}
	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Del("Transfer-Encoding")
	return nil
}

func decode(enc string, body []byte) ([]byte, error) {
	switch enc {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return drain(r)
	case "br":
		return drain(brotli.NewReader(bytes.NewReader(body)))
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return drain(r)
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return drain(r)
	default:
		return nil, errUnsupportedEncoding
	}
}

func drain(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
