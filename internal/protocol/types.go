package protocol

import (
	"fmt"
	"time"
)

// NodeID is a node address on the radio medium.
type NodeID uint16

// BroadcastID addresses every neighbour in radio range.
const BroadcastID NodeID = 0xFFFF

func (id NodeID) String() string {
	if id == BroadcastID {
		return "broadcast"
	}
	return fmt.Sprintf("%d", uint16(id))
}

// Queue sizes and active-message tags from the wire contract.
const (
	SenderQueueSize   = 5
	ReceiverQueueSize = 3

	AMSimpleRoutingTreeMsg uint8 = 22
	AMRoutingMsg           uint8 = 22
	AMDistr                uint8 = 30
)

// Timer periods from the wire contract.
const (
	SendCheckPeriod = 70000 * time.Millisecond
	EpochPeriod     = 30720 * time.Millisecond
	FastPeriod      = 128 * time.Millisecond
)

// Kind discriminates the five message layouts.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRouting
	KindDistrFull
	KindDistrSemi
	KindDistrSingle
	KindBuffer
)

func (k Kind) String() string {
	switch k {
	case KindRouting:
		return "routing"
	case KindDistrFull:
		return "distr_full"
	case KindDistrSemi:
		return "distr_semi"
	case KindDistrSingle:
		return "distr_single"
	case KindBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Size returns the fixed payload length of k, or 0 for unknown kinds.
func (k Kind) Size() int {
	switch k {
	case KindRouting:
		return 2
	case KindDistrFull:
		return 3
	case KindDistrSemi:
		return 2
	case KindDistrSingle, KindBuffer:
		return 1
	default:
		return 0
	}
}

// AMType returns the active-message tag k travels under.
func (k Kind) AMType() uint8 {
	switch k {
	case KindRouting, KindBuffer:
		return AMRoutingMsg
	case KindDistrFull, KindDistrSemi, KindDistrSingle:
		return AMDistr
	default:
		return 0
	}
}

// IsDistribution reports whether k carries an aggregate report.
func (k Kind) IsDistribution() bool {
	return k == KindDistrFull || k == KindDistrSemi || k == KindDistrSingle
}

// Mode selects the aggregate function computed over the tree.
type Mode uint8

const (
	ModeMax      Mode = 0
	ModeCount    Mode = 1
	ModeMaxCount Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeMax:
		return "max"
	case ModeCount:
		return "count"
	case ModeMaxCount:
		return "maxcount"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) Valid() bool {
	return m <= ModeMaxCount
}

// HasMax reports whether the MAX aggregate is active under m.
func (m Mode) HasMax() bool {
	return m == ModeMax || m == ModeMaxCount
}

// HasCount reports whether the COUNT aggregate is active under m.
func (m Mode) HasCount() bool {
	return m == ModeCount || m == ModeMaxCount
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(raw string) (Mode, error) {
	switch raw {
	case "max", "MAX":
		return ModeMax, nil
	case "count", "COUNT":
		return ModeCount, nil
	case "maxcount", "MAXCOUNT", "max_count":
		return ModeMaxCount, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MaxTCT is the largest threshold the 6-bit TCT field can carry.
const MaxTCT = 0x3F

// ExecParams is the execution-parameter byte carried by RoutingMsg.
// Bits 0-1 hold the aggregate mode, bits 2-7 the temporal coherency
// threshold.
type ExecParams struct {
	Mode Mode  `json:"mode"`
	TCT  uint8 `json:"tct"`
}

func NewExecParams(mode Mode, tct uint8) (ExecParams, error) {
	p := ExecParams{Mode: mode, TCT: tct}
	if err := p.Validate(); err != nil {
		return ExecParams{}, err
	}
	return p, nil
}

func (p ExecParams) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, uint8(p.Mode))
	}
	if p.TCT > MaxTCT {
		return fmt.Errorf("%w: %d > %d", ErrInvalidTCT, p.TCT, MaxTCT)
	}
	return nil
}

func (p ExecParams) Byte() byte {
	return byte(p.Mode)&0x03 | p.TCT<<2
}

// ParseExecParams unpacks the execution-parameter byte.
func ParseExecParams(b byte) (ExecParams, error) {
	p := ExecParams{Mode: Mode(b & 0x03), TCT: b >> 2}
	if !p.Mode.Valid() {
		return ExecParams{}, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(p.Mode))
	}
	return p, nil
}

func (p ExecParams) String() string {
	return fmt.Sprintf("%s/tct=%d", p.Mode, p.TCT)
}
