package protocol

import (
	"encoding/binary"
	"fmt"
)

// Decode parses payload as a message of the declared kind.
func Decode(kind Kind, payload []byte) (Message, error) {
	want := kind.Size()
	if want == 0 {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrDecode, uint8(kind))
	}
	if len(payload) != want {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrDecode, kind, want, len(payload))
	}

	switch kind {
	case KindRouting:
		params, err := ParseExecParams(payload[1])
		if err != nil {
			return nil, fmt.Errorf("%w: routing: %v", ErrDecode, err)
		}
		return RoutingMsg{Depth: payload[0], Params: params}, nil
	case KindDistrFull:
		v := binary.BigEndian.Uint16(payload[0:2])
		if v > 0xFF {
			return nil, fmt.Errorf("%w: distr_full max %d out of range", ErrDecode, v)
		}
		return DistrFull{Max: v, Count: payload[2]}, nil
	case KindDistrSemi:
		flag := Mode(payload[0])
		if flag != ModeMax && flag != ModeCount {
			return nil, fmt.Errorf("%w: distr_semi flag %d", ErrDecode, payload[0])
		}
		return DistrSemi{Flag: flag, Data: payload[1]}, nil
	case KindDistrSingle:
		return DistrSingle{Data: payload[0]}, nil
	default:
		return BufferMsg{Data: payload[0]}, nil
	}
}

// KindForAM resolves a legacy active-message frame to a kind using the
// payload length, since several layouts share one tag.
func KindForAM(amType uint8, length int) (Kind, error) {
	switch amType {
	case AMRoutingMsg:
		switch length {
		case KindRouting.Size():
			return KindRouting, nil
		case KindBuffer.Size():
			return KindBuffer, nil
		}
	case AMDistr:
		switch length {
		case KindDistrFull.Size():
			return KindDistrFull, nil
		case KindDistrSemi.Size():
			return KindDistrSemi, nil
		case KindDistrSingle.Size():
			return KindDistrSingle, nil
		}
	default:
		return KindUnknown, fmt.Errorf("%w: unknown am type %d", ErrDecode, amType)
	}
	return KindUnknown, fmt.Errorf("%w: am type %d has no %d-byte layout", ErrDecode, amType, length)
}

// DecodeAM decodes a legacy frame identified only by its AM tag.
func DecodeAM(amType uint8, payload []byte) (Message, error) {
	kind, err := KindForAM(amType, len(payload))
	if err != nil {
		return nil, err
	}
	return Decode(kind, payload)
}
