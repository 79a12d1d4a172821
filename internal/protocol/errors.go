package protocol

import "errors"

var (
	// ErrProtocol is a generic sentinel for wire format violations.
	ErrProtocol = errors.New("tftp protocol error")

	ErrMalformed       = errors.New("malformed packet")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrPayloadTooLarge = errors.New("data payload exceeds block size")
	ErrInvalidName     = errors.New("filename contains NUL")
)
