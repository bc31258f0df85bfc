package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/tina/internal/protocol"
)

// HeaderLen is the fixed envelope header: kind, length, source, destination.
const HeaderLen = 6

// Every envelope error is also a protocol.ErrDecode.
var (
	ErrShortHeader    = fmt.Errorf("%w: frame: short header", protocol.ErrDecode)
	ErrLengthMismatch = fmt.Errorf("%w: frame: payload length mismatch", protocol.ErrDecode)
	ErrUnknownKind    = fmt.Errorf("%w: frame: unknown kind", protocol.ErrDecode)
)

// Header is the fixed envelope header.
type Header struct {
	Kind protocol.Kind
	Len  uint8
	Src  protocol.NodeID
	Dst  protocol.NodeID
}

// Frame is one complete envelope as it travels over the medium.
type Frame struct {
	Header
	Payload []byte
}

// Broadcast reports whether the frame is addressed to every neighbour.
func (f Frame) Broadcast() bool {
	return f.Header.Dst == protocol.BroadcastID
}

// Message decodes the payload under the declared kind.
func (f Frame) Message() (protocol.Message, error) {
	return protocol.Decode(f.Header.Kind, f.Payload)
}

// Seal wraps msg in an envelope from src to dst.
func Seal(src, dst protocol.NodeID, msg protocol.Message) []byte {
	kind := msg.Kind()
	buf := make([]byte, HeaderLen, HeaderLen+kind.Size())
	EncodeHeaderInto(buf, Header{Kind: kind, Len: uint8(kind.Size()), Src: src, Dst: dst})
	return protocol.AppendEncode(buf, msg)
}

// Open parses an envelope and decodes its message.
func Open(b []byte) (Frame, protocol.Message, error) {
	f, err := Unmarshal(b)
	if err != nil {
		return Frame{}, nil, err
	}
	msg, err := f.Message()
	if err != nil {
		return Frame{}, nil, err
	}
	return f, msg, nil
}

// Unmarshal splits b into header and payload, checking the declared kind
// and length against the fixed layouts.
func Unmarshal(b []byte) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	size := h.Kind.Size()
	if size == 0 {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(h.Kind))
	}
	if int(h.Len) != size || len(b)-HeaderLen != size {
		return Frame{}, fmt.Errorf("%w: %s declared=%d actual=%d", ErrLengthMismatch, h.Kind, h.Len, len(b)-HeaderLen)
	}
	payload := make([]byte, size)
	copy(payload, b[HeaderLen:])
	return Frame{Header: h, Payload: payload}, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	EncodeHeaderInto(buf, h)
	return buf
}

func EncodeHeaderInto(buf []byte, h Header) {
	buf[0] = byte(h.Kind)
	buf[1] = h.Len
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Src))
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Dst))
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		Kind: protocol.Kind(b[0]),
		Len:  b[1],
		Src:  protocol.NodeID(binary.BigEndian.Uint16(b[2:4])),
		Dst:  protocol.NodeID(binary.BigEndian.Uint16(b[4:6])),
	}, nil
}

// PeekHeader returns the header of an encoded envelope without validating
// the payload.
func PeekHeader(b []byte) (Header, bool) {
	h, err := DecodeHeader(b)
	return h, err == nil
}
