package protocol

// Encode returns the fixed-length payload for msg.
func Encode(msg Message) []byte {
	if msg == nil {
		return nil
	}
	return msg.appendPayload(make([]byte, 0, msg.Kind().Size()))
}

// AppendEncode appends the payload for msg to dst.
func AppendEncode(dst []byte, msg Message) []byte {
	if msg == nil {
		return dst
	}
	return msg.appendPayload(dst)
}
