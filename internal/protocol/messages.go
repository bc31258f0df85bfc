package protocol

// NoDepth in a RoutingMsg withdraws the sender from the tree.
const NoDepth uint8 = 0xFF

// MaxDepth is the deepest tree level a node may adopt.
const MaxDepth uint8 = NoDepth - 1

// Message is one of the five fixed-layout wire records.
type Message interface {
	Kind() Kind
	appendPayload(dst []byte) []byte
}

// RoutingMsg advertises the sender's tree depth and the execution
// parameters it is running under.
type RoutingMsg struct {
	Depth  uint8
	Params ExecParams
}

func (RoutingMsg) Kind() Kind { return KindRouting }

func (m RoutingMsg) appendPayload(dst []byte) []byte {
	return append(dst, m.Depth, m.Params.Byte())
}

// Withdrawn reports whether the advert removes its sender from the tree.
func (m RoutingMsg) Withdrawn() bool {
	return m.Depth == NoDepth
}

// DistrFull reports both MAX and COUNT. Max is 16 bits wide on the wire so
// the three-byte length stays unique under AMDistr.
type DistrFull struct {
	Max   uint16
	Count uint8
}

func (DistrFull) Kind() Kind { return KindDistrFull }

func (m DistrFull) appendPayload(dst []byte) []byte {
	return append(dst, byte(m.Max>>8), byte(m.Max), m.Count)
}

// DistrSemi reports exactly one of the two aggregates while both are
// active; Flag names which one.
type DistrSemi struct {
	Flag Mode
	Data uint8
}

func (DistrSemi) Kind() Kind { return KindDistrSemi }

func (m DistrSemi) appendPayload(dst []byte) []byte {
	return append(dst, byte(m.Flag), m.Data)
}

// DistrSingle reports the only active aggregate.
type DistrSingle struct {
	Data uint8
}

func (DistrSingle) Kind() Kind { return KindDistrSingle }

func (m DistrSingle) appendPayload(dst []byte) []byte {
	return append(dst, m.Data)
}

// BufferMsg is a raw byte carrier, never interpreted as a report.
type BufferMsg struct {
	Data uint8
}

func (BufferMsg) Kind() Kind { return KindBuffer }

func (m BufferMsg) appendPayload(dst []byte) []byte {
	return append(dst, m.Data)
}
