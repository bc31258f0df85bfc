package protocol

import "errors"

var (
	// ErrDecode marks every malformed or unrecognised frame. Receivers
	// discard the frame and keep running.
	ErrDecode = errors.New("protocol: decode error")

	ErrInvalidMode = errors.New("protocol: invalid aggregate mode")
	ErrInvalidTCT  = errors.New("protocol: tct out of range")
)
