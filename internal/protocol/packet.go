package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

func isKnownOpcode(op Opcode) bool {
	switch op {
	case OpReadRequest, OpWriteRequest, OpData, OpAck, OpError:
		return true
	default:
		return false
	}
}

// Encode serializes p into its wire form.
func Encode(p Packet) ([]byte, error) {
	switch p.Op {
	case OpReadRequest, OpWriteRequest:
		if strings.IndexByte(p.Filename, 0) >= 0 || strings.IndexByte(p.Mode, 0) >= 0 {
			return nil, errors.Join(ErrProtocol, ErrInvalidName)
		}
		mode := p.Mode
		if mode == "" {
			mode = ModeOctet
		}
		buf := make([]byte, 2, 2+len(p.Filename)+1+len(mode)+1)
		binary.BigEndian.PutUint16(buf, uint16(p.Op))
		buf = append(buf, p.Filename...)
		buf = append(buf, 0)
		buf = append(buf, mode...)
		return append(buf, 0), nil

	case OpData:
		if len(p.Payload) > BlockSize {
			return nil, errors.Join(ErrProtocol, ErrPayloadTooLarge)
		}
		buf := make([]byte, HeaderSize+len(p.Payload))
		binary.BigEndian.PutUint16(buf[0:2], uint16(OpData))
		binary.BigEndian.PutUint16(buf[2:4], p.Block)
		copy(buf[HeaderSize:], p.Payload)
		return buf, nil

	case OpAck:
		var hdr [HeaderSize]byte
		binary.BigEndian.PutUint16(hdr[0:2], uint16(OpAck))
		binary.BigEndian.PutUint16(hdr[2:4], p.Block)
		return hdr[:], nil

	case OpError:
		msg := strings.ReplaceAll(p.Message, "\x00", "")
		buf := make([]byte, 4, 4+len(msg)+1)
		binary.BigEndian.PutUint16(buf[0:2], uint16(OpError))
		binary.BigEndian.PutUint16(buf[2:4], uint16(p.Code))
		buf = append(buf, msg...)
		return append(buf, 0), nil

	default:
		return nil, errors.Join(ErrProtocol, ErrUnknownOpcode)
	}
}

// MustEncode is Encode for packets built by this module, which are always
// well formed.
func MustEncode(p Packet) []byte {
	b, err := Encode(p)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses one datagram. The returned packet does not alias b.
func Decode(b []byte) (Packet, error) {
	if len(b) < 2 {
		return Packet{}, errors.Join(ErrProtocol, ErrMalformed)
	}
	op := Opcode(binary.BigEndian.Uint16(b[0:2]))
	if !isKnownOpcode(op) {
		return Packet{}, errors.Join(ErrProtocol, ErrUnknownOpcode)
	}

	switch op {
	case OpReadRequest, OpWriteRequest:
		rest := b[2:]
		name, rest, ok := cutString(rest)
		if !ok {
			return Packet{}, errors.Join(ErrProtocol, ErrMalformed)
		}
		mode, _, ok := cutString(rest)
		if !ok {
			return Packet{}, errors.Join(ErrProtocol, ErrMalformed)
		}
		return Packet{Op: op, Filename: name, Mode: mode}, nil

	case OpData:
		if len(b) < HeaderSize {
			return Packet{}, errors.Join(ErrProtocol, ErrMalformed)
		}
		if len(b)-HeaderSize > BlockSize {
			return Packet{}, errors.Join(ErrProtocol, ErrMalformed, ErrPayloadTooLarge)
		}
		payload := make([]byte, len(b)-HeaderSize)
		copy(payload, b[HeaderSize:])
		return Packet{Op: OpData, Block: binary.BigEndian.Uint16(b[2:4]), Payload: payload}, nil

	case OpAck:
		if len(b) < HeaderSize {
			return Packet{}, errors.Join(ErrProtocol, ErrMalformed)
		}
		return Packet{Op: OpAck, Block: binary.BigEndian.Uint16(b[2:4])}, nil

	default:
		// Only the opcode is required; code and message are best-effort.
		p := Packet{Op: OpError}
		if len(b) >= 4 {
			p.Code = ErrorCode(binary.BigEndian.Uint16(b[2:4]))
			msg, _, ok := cutString(b[4:])
			if !ok {
				msg = string(b[4:])
			}
			p.Message = msg
		}
		return p, nil
	}
}

// cutString splits b at the first NUL.
func cutString(b []byte) (s string, rest []byte, ok bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(b[:i]), b[i+1:], true
}
