package wsframe

import (
	"bytes"
	"compress/flate"
	"io"
	"sync"

	"github.com/aether-mitm/aether/wsext"
)

// deflateTrailer is the 4-byte sequence RFC 7692 §7.2.1 says to strip
// after compressing (and append before decompressing), since flate has
// no explicit "final empty block" marker of its own that round-trips
// otherwise.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// deflateState holds the compressor/decompressor pair for one direction
// of one connection's permessage-deflate extension.
//
// The compressor never carries a dictionary across messages:
// flate.Writer.Reset on a plain NewWriter drops the sliding window on
// every message, so no_context_takeover makes no difference on that side.
// The decompressor builds a fresh reader per message, since flate.Reader
// latches its first error (here, the expected one signaling end of
// message) and returns it forever after. Unless no_context_takeover was
// negotiated, each new reader is seeded with window, the tail of the
// output inflated so far, because the peer's compressor may refer back
// into earlier messages.
type deflateState struct {
	mu sync.Mutex

	noContextTakeover bool
	writer            *flate.Writer
	window            []byte
}

// NegotiateDeflate inspects the extensions offered on a
// Sec-WebSocket-Extensions header and, if permessage-deflate is
// present, returns per-direction states honoring the
// client_no_context_takeover / server_no_context_takeover parameters.
// It returns (nil, nil, false) if the extension was not offered.
func NegotiateDeflate(exts []wsext.Extension) (client, server *deflateState, ok bool) {
	for _, ext := range exts {
		if ext.Name != "permessage-deflate" {
			continue
		}
		_, clientNoTakeover := ext.Params["client_no_context_takeover"]
		_, serverNoTakeover := ext.Params["server_no_context_takeover"]
		return newDeflateState(clientNoTakeover), newDeflateState(serverNoTakeover), true
	}
	return nil, nil, false
}

func newDeflateState(noContextTakeover bool) *deflateState {
	return &deflateState{noContextTakeover: noContextTakeover}
}

// deflate compresses payload and strips the RFC 7692 trailer.
func (d *deflateState) deflate(payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer
	if d.writer == nil || d.noContextTakeover {
		d.writer, _ = flate.NewWriter(&buf, flate.DefaultCompression)
	} else {
		d.writer.Reset(&buf)
	}

	if _, err := d.writer.Write(payload); err != nil {
		return nil, err
	}
	if err := d.writer.Flush(); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	out = bytes.TrimSuffix(out, deflateTrailer)
	return out, nil
}

// inflate appends the RFC 7692 trailer and decompresses payload. The
// trailer is a sync marker, not a terminating block (BFINAL is never
// set), so flate.Reader always surfaces io.ErrUnexpectedEOF once it has
// drained every byte we gave it — the decompressed bytes up to that
// point are exactly the message, so that particular error means "done",
// not "corrupt". A fresh reader per call means that sticky error is
// discarded along with the reader, instead of poisoning later calls.
// Under context takeover the reader starts from the last 32 KiB of
// earlier output as its dictionary.
func (d *deflateState) inflate(payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	framed := append(append([]byte(nil), payload...), deflateTrailer...)
	var reader io.ReadCloser
	if d.noContextTakeover {
		reader = flate.NewReader(bytes.NewReader(framed))
	} else {
		reader = flate.NewReaderDict(bytes.NewReader(framed), d.window)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	if !d.noContextTakeover {
		const maxWindow = 32 * 1024
		d.window = append(d.window, out...)
		if len(d.window) > maxWindow {
			d.window = append([]byte(nil), d.window[len(d.window)-maxWindow:]...)
		}
	}
	return out, nil
}
