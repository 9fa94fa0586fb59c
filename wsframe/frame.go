// Package wsframe implements the RFC 6455 WebSocket frame codec: raw
// frame parsing/serialization with masking, defragmentation into
// complete messages, control-frame handling, and RFC 7692
// permessage-deflate.
//
// It is a direct translation of the aether original's
// tcp/websocket/protocol frame parser, replacing its C++ variant/union
// types with a small tagged struct.
package wsframe

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"

	"github.com/aether-mitm/aether/errs"
	"github.com/aether-mitm/aether/internal/segment"
)

// Opcode identifies a frame's payload interpretation, RFC 6455 §5.2.
type Opcode uint8

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) IsControl() bool { return o >= OpClose }

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Endpoint identifies which side of the connection a frame came from or
// is being sent to. Per RFC 6455 §5.1, client-to-server frames must be
// masked and server-to-client frames must not be.
type Endpoint int

const (
	Client Endpoint = iota
	Server
)

func (e Endpoint) Flip() Endpoint {
	if e == Client {
		return Server
	}
	return Client
}

// Frame is a single raw WebSocket frame, already unmasked if it arrived
// masked.
type Frame struct {
	Fin     bool
	RSV1    bool
	RSV2    bool
	RSV3    bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

const maxControlFramePayload = 125

// ReadFrame reads and unmasks (if applicable) a single frame from in.
// from indicates which endpoint the frame is being read from, which
// dictates whether it is required to be masked.
func ReadFrame(in *bufio.Reader, from Endpoint) (*Frame, error) {
	head := segment.New()
	if _, err := head.ReadUpToBytes(in, 2); err != nil {
		return nil, errs.WebSocketErr(errs.InvalidFrame, "reading frame header: "+err.Error())
	}
	b := head.Export()

	f := &Frame{
		Fin:    b[0]&0x80 != 0,
		RSV1:   b[0]&0x40 != 0,
		RSV2:   b[0]&0x20 != 0,
		RSV3:   b[0]&0x10 != 0,
		Opcode: Opcode(b[0] & 0x0F),
	}
	f.Masked = b[1]&0x80 != 0
	lengthField := b[1] & 0x7F

	if from == Client && !f.Masked {
		return nil, errs.WebSocketErr(errs.InvalidFrame, "client frame not masked")
	}
	if from == Server && f.Masked {
		return nil, errs.WebSocketErr(errs.InvalidFrame, "server frame masked")
	}

	var length uint64
	switch {
	case lengthField < 126:
		length = uint64(lengthField)
	case lengthField == 126:
		ext := segment.New()
		if _, err := ext.ReadUpToBytes(in, 2); err != nil {
			return nil, errs.WebSocketErr(errs.InvalidFrame, "reading extended length: "+err.Error())
		}
		length = uint64(binary.BigEndian.Uint16(ext.Export()))
	default:
		ext := segment.New()
		if _, err := ext.ReadUpToBytes(in, 8); err != nil {
			return nil, errs.WebSocketErr(errs.InvalidFrame, "reading extended length: "+err.Error())
		}
		length = binary.BigEndian.Uint64(ext.Export())
	}

	if f.Opcode.IsControl() && (length > maxControlFramePayload || !f.Fin) {
		return nil, errs.WebSocketErr(errs.InvalidFrame, "control frame too large or fragmented")
	}

	if f.Masked {
		keySeg := segment.New()
		if _, err := keySeg.ReadUpToBytes(in, 4); err != nil {
			return nil, errs.WebSocketErr(errs.InvalidFrame, "reading mask key: "+err.Error())
		}
		copy(f.MaskKey[:], keySeg.Export())
	}

	if length > 0 {
		payloadSeg := segment.New()
		if _, err := payloadSeg.ReadUpToBytes(in, int(length)); err != nil {
			return nil, errs.WebSocketErr(errs.InvalidFrame, "reading payload: "+err.Error())
		}
		f.Payload = payloadSeg.Export()
		if f.Masked {
			unmask(f.Payload, f.MaskKey)
		}
	}

	return f, nil
}

func unmask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}

func newMaskKey() [4]byte {
	var key [4]byte
	rand.Read(key[:])
	return key
}

// WriteFrame serializes f and returns the wire bytes. to indicates the
// destination endpoint, which alone decides masking (f.Masked is
// ignored): frames to Server are masked with f.MaskKey, or with a random
// key when f.MaskKey is all zero; frames to Client are never masked.
func WriteFrame(f *Frame, to Endpoint) []byte {
	out := make([]byte, 0, len(f.Payload)+14)

	var b0 byte
	if f.Fin {
		b0 |= 0x80
	}
	if f.RSV1 {
		b0 |= 0x40
	}
	if f.RSV2 {
		b0 |= 0x20
	}
	if f.RSV3 {
		b0 |= 0x10
	}
	b0 |= byte(f.Opcode) & 0x0F
	out = append(out, b0)

	// Masking direction is fixed by the protocol, not by the caller's
	// intent: client-bound frames are never masked, server-bound frames
	// always are.
	masked := to == Server
	length := len(f.Payload)

	var b1 byte
	if masked {
		b1 |= 0x80
	}

	switch {
	case length < 126:
		b1 |= byte(length)
		out = append(out, b1)
	case length <= 0xFFFF:
		b1 |= 126
		out = append(out, b1)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(length))
		out = append(out, ext[:]...)
	default:
		b1 |= 127
		out = append(out, b1)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(length))
		out = append(out, ext[:]...)
	}

	payload := f.Payload
	if masked {
		key := f.MaskKey
		if key == ([4]byte{}) {
			key = newMaskKey()
		}
		out = append(out, key[:]...)
		masked := make([]byte, len(payload))
		copy(masked, payload)
		unmask(masked, key)
		out = append(out, masked...)
	} else {
		out = append(out, payload...)
	}

	return out
}
