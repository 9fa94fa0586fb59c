package httpmsg

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/aether-mitm/aether/errs"
	"github.com/aether-mitm/aether/internal/segment"
)

// readChunkedBody implements the chunked transfer-coding engine of spec
// §4.2: repeated (chunk-size line, chunk data, CRLF) until a zero-size
// chunk, then optional trailer headers.
func readChunkedBody(in *bufio.Reader, maxBodySize int) ([]byte, *Header, error) {
	var body bytes.Buffer

	for {
		sizeSeg := segment.New()
		if _, err := sizeSeg.ReadUntil(in, "\r\n"); err != nil {
			return nil, nil, errs.HTTPErr(errs.InvalidChunkedBody, "reading chunk size: "+err.Error())
		}
		line := strings.TrimSuffix(string(sizeSeg.Export()), "\r\n")
		// Trailing chunk-extensions (";name=value") are ignored.
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			line = line[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil || size < 0 {
			return nil, nil, errs.HTTPErr(errs.InvalidChunkedBody, "invalid chunk size: "+line)
		}

		if size == 0 {
			trailers := NewHeader()
			for {
				lineSeg := segment.New()
				if _, err := lineSeg.ReadUntil(in, "\r\n"); err != nil {
					return nil, nil, errs.HTTPErr(errs.InvalidChunkedBody, "reading trailer: "+err.Error())
				}
				raw := strings.TrimSuffix(string(lineSeg.Export()), "\r\n")
				if raw == "" {
					break
				}
				name, value, ok := splitHeaderLine(raw)
				if !ok {
					return nil, nil, errs.HTTPErr(errs.InvalidHeader, "malformed trailer: "+raw)
				}
				trailers.Add(name, value)
			}
			return body.Bytes(), trailers, nil
		}

		if maxBodySize > 0 && body.Len()+int(size) > maxBodySize {
			return nil, nil, errs.HTTPErr(errs.BodySizeTooLarge, "chunked body exceeds limit")
		}

		dataSeg := segment.New()
		if _, err := dataSeg.ReadUpToBytes(in, int(size)); err != nil {
			return nil, nil, errs.HTTPErr(errs.InvalidChunkedBody, "reading chunk data: "+err.Error())
		}
		body.Write(dataSeg.Export())

		crlfSeg := segment.New()
		if _, err := crlfSeg.ReadUpToBytes(in, 2); err != nil {
			return nil, nil, errs.HTTPErr(errs.InvalidChunkedBody, "reading chunk terminator: "+err.Error())
		}
		if string(crlfSeg.Export()) != "\r\n" {
			return nil, nil, errs.HTTPErr(errs.InvalidChunkedBody, "chunk not terminated by CRLF")
		}
	}
}
