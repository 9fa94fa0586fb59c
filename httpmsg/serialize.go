package httpmsg

import (
	"bytes"
	"strconv"
)

// Serialize renders the request as a wire-format HTTP/1.x message. A
// Content-Length is synthesized when the header set doesn't already
// carry one and the body is non-empty; a stale Transfer-Encoding is
// stripped and replaced with Content-Length, since Body is always
// already fully decoded, per spec §4.2.
func (r *Request) Serialize() []byte {
	var out bytes.Buffer

	out.WriteString(r.Method)
	out.WriteByte(' ')
	out.WriteString(r.Target.String())
	out.WriteByte(' ')
	out.WriteString(r.Version.String())
	out.WriteString("\r\n")

	writeHeadersAndBody(&out, r.Header, r.Body)
	return out.Bytes()
}

// Serialize renders the response as a wire-format HTTP/1.x message.
func (r *Response) Serialize() []byte {
	var out bytes.Buffer

	out.WriteString(r.Version.String())
	out.WriteByte(' ')
	out.WriteString(strconv.Itoa(r.Status))
	out.WriteByte(' ')
	out.WriteString(r.Reason)
	out.WriteString("\r\n")

	writeHeadersAndBody(&out, r.Header, r.Body)
	return out.Bytes()
}

func writeHeadersAndBody(out *bytes.Buffer, header *Header, body []byte) {
	h := header.Clone()

	// body is already fully materialized (ParseResponse's chunked engine
	// decodes it up front), so Transfer-Encoding never reflects the wire
	// framing being produced here; drop it and state the real length.
	if h.Has("Transfer-Encoding") {
		h.Del("Transfer-Encoding")
		h.Set("Content-Length", strconv.Itoa(len(body)))
	} else if !h.Has("Content-Length") && len(body) > 0 {
		h.Set("Content-Length", strconv.Itoa(len(body)))
	}

	h.Each(func(name, value string) {
		out.WriteString(name)
		out.WriteString(": ")
		out.WriteString(value)
		out.WriteString("\r\n")
	})
	out.WriteString("\r\n")

	out.Write(body)
}
