package wsframe

import (
	"bufio"
	"encoding/binary"

	"github.com/aether-mitm/aether/errs"
)

// CloseCode is a WebSocket close status code, RFC 6455 §7.4.
type CloseCode uint16

const (
	NormalClosure       CloseCode = 1000
	GoingAway           CloseCode = 1001
	ProtocolError       CloseCode = 1002
	UnsupportedData     CloseCode = 1003
	NoStatusRcvd        CloseCode = 1005
	AbnormalClosure     CloseCode = 1006
	InvalidFramePayload CloseCode = 1007
	PolicyViolation     CloseCode = 1008
	MessageTooBig       CloseCode = 1009
	MandatoryExtension  CloseCode = 1010
	InternalError       CloseCode = 1011
	TLSHandshake        CloseCode = 1015
)

// FrameKind tags which variant a CompletedFrame holds.
type FrameKind int

const (
	MessageFrame FrameKind = iota
	PingFrame
	PongFrame
	CloseFrame
)

// CompletedFrame is a fully reassembled, application-level WebSocket
// unit: either a (possibly multi-fragment) message, a control frame, or
// a close. It is the Go analogue of the original's completed_frame
// variant, modeled as a tagged struct rather than a union.
type CompletedFrame struct {
	Kind FrameKind

	// MessageType is valid when Kind == MessageFrame; Payload is set for
	// MessageFrame, PingFrame and PongFrame.
	MessageType Opcode // OpText or OpBinary
	Payload     []byte

	// Valid when Kind == CloseFrame. HasCode is false when the close
	// frame carried an empty payload (Open Question: no status is
	// synthesized in that case; it is reported as NoStatusRcvd but
	// HasCode marks that none was actually present on the wire).
	Code    CloseCode
	HasCode bool
	Reason  string
}

// fragment accumulates continuation frames belonging to one in-progress
// message.
type fragment struct {
	msgType    Opcode
	compressed bool
	payload    []byte
}

// Manager parses a stream of raw frames from one endpoint into
// completed, defragmented application frames, and serializes completed
// frames back into raw wire frames for the other endpoint.
type Manager struct {
	from    Endpoint
	deflate *deflateState

	current *fragment
}

// NewManager returns a manager for frames arriving from the given
// endpoint. deflate may be nil if permessage-deflate was not negotiated.
func NewManager(from Endpoint, deflate *deflateState) *Manager {
	return &Manager{from: from, deflate: deflate}
}

// ReadNext reads and reassembles frames from in until either a complete
// application frame is available or an unrecoverable protocol error
// occurs. Control frames may interleave with an in-progress
// fragmented message and are returned as soon as they arrive.
func (m *Manager) ReadNext(in *bufio.Reader) (*CompletedFrame, error) {
	for {
		frame, err := ReadFrame(in, m.from)
		if err != nil {
			return nil, err
		}

		if frame.Opcode.IsControl() {
			return m.completeControlFrame(frame)
		}

		if frame.Opcode == OpContinuation {
			if m.current == nil {
				return nil, errs.WebSocketErr(errs.UnexpectedOpcode, "continuation frame with no start")
			}
			m.current.payload = append(m.current.payload, frame.Payload...)
		} else {
			if m.current != nil {
				return nil, errs.WebSocketErr(errs.UnexpectedOpcode, "new message frame mid-fragment")
			}
			m.current = &fragment{
				msgType:    frame.Opcode,
				compressed: frame.RSV1 && m.deflate != nil,
				payload:    append([]byte(nil), frame.Payload...),
			}
		}

		if !frame.Fin {
			continue
		}

		done := m.current
		m.current = nil

		payload := done.payload
		if done.compressed {
			inflated, err := m.deflate.inflate(payload)
			if err != nil {
				return nil, errs.WebSocketErr(errs.InflateError, err.Error())
			}
			payload = inflated
		}

		return &CompletedFrame{Kind: MessageFrame, MessageType: done.msgType, Payload: payload}, nil
	}
}

func (m *Manager) completeControlFrame(frame *Frame) (*CompletedFrame, error) {
	switch frame.Opcode {
	case OpPing:
		return &CompletedFrame{Kind: PingFrame, Payload: frame.Payload}, nil
	case OpPong:
		return &CompletedFrame{Kind: PongFrame, Payload: frame.Payload}, nil
	case OpClose:
		return parseCloseFrame(frame.Payload)
	default:
		return nil, errs.WebSocketErr(errs.InvalidOpcode, frame.Opcode.String())
	}
}

// parseCloseFrame implements websocket_manager::process_close_frame: a
// close frame with an empty payload carries no status (NoStatusRcvd,
// HasCode false); a 1-byte payload is malformed; 2+ bytes are a
// big-endian code followed by a UTF-8 reason.
func parseCloseFrame(payload []byte) (*CompletedFrame, error) {
	if len(payload) == 0 {
		return &CompletedFrame{Kind: CloseFrame, Code: NoStatusRcvd, HasCode: false}, nil
	}
	if len(payload) == 1 {
		return nil, errs.WebSocketErr(errs.InvalidFrame, "close frame cannot have 1 byte payload")
	}
	code := CloseCode(binary.BigEndian.Uint16(payload[:2]))
	return &CompletedFrame{Kind: CloseFrame, Code: code, HasCode: true, Reason: string(payload[2:])}, nil
}

// Serialize renders a completed frame back into a single raw wire frame
// destined for to. Fragmented messages are always re-framed as a single
// frame; the proxy does not preserve original fragmentation boundaries.
func (m *Manager) Serialize(cf *CompletedFrame, to Endpoint) ([]byte, error) {
	switch cf.Kind {
	case PingFrame:
		return WriteFrame(&Frame{Fin: true, Opcode: OpPing, Payload: cf.Payload}, to), nil
	case PongFrame:
		return WriteFrame(&Frame{Fin: true, Opcode: OpPong, Payload: cf.Payload}, to), nil
	case CloseFrame:
		return serializeCloseFrame(cf, to), nil
	case MessageFrame:
		payload := cf.Payload
		rsv1 := false
		if m.deflate != nil {
			deflated, err := m.deflate.deflate(payload)
			if err != nil {
				return nil, errs.WebSocketErr(errs.InflateError, err.Error())
			}
			payload = deflated
			rsv1 = true
		}
		return WriteFrame(&Frame{Fin: true, RSV1: rsv1, Opcode: cf.MessageType, Payload: payload}, to), nil
	default:
		return nil, errs.WebSocketErr(errs.SerializationError, "unknown frame kind")
	}
}

// serializeCloseFrame implements Open Question (c): a close received
// with no status (HasCode false) is forwarded with an equally empty
// payload rather than synthesizing NoStatusRcvd on the wire.
func serializeCloseFrame(cf *CompletedFrame, to Endpoint) []byte {
	if !cf.HasCode {
		return WriteFrame(&Frame{Fin: true, Opcode: OpClose}, to)
	}
	payload := make([]byte, 2+len(cf.Reason))
	binary.BigEndian.PutUint16(payload[:2], uint16(cf.Code))
	copy(payload[2:], cf.Reason)
	return WriteFrame(&Frame{Fin: true, Opcode: OpClose, Payload: payload}, to)
}
