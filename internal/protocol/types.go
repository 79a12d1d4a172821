package protocol

// Opcode is the 16-bit packet kind that opens every datagram.
type Opcode uint16

const (
	OpReadRequest  Opcode = 1
	OpWriteRequest Opcode = 2
	OpData         Opcode = 3
	OpAck          Opcode = 4
	OpError        Opcode = 5
)

func (op Opcode) String() string {
	switch op {
	case OpReadRequest:
		return "RRQ"
	case OpWriteRequest:
		return "WRQ"
	case OpData:
		return "DATA"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const (
	// BlockSize is the payload carried by every non-terminal Data packet.
	BlockSize = 512
	// HeaderSize covers opcode and block number.
	HeaderSize = 4
	// MaxDatagram is the largest datagram either side ever sends.
	MaxDatagram = HeaderSize + BlockSize

	// ModeOctet is the only transfer mode produced or accepted.
	ModeOctet = "octet"
)

// ErrorCode is the reason carried by an Error packet.
type ErrorCode uint16

// Codes as assigned by RFC 1350.
const (
	ErrCodeUndefined        ErrorCode = 0
	ErrCodeFileNotFound     ErrorCode = 1
	ErrCodeAccessViolation  ErrorCode = 2
	ErrCodeDiskFull         ErrorCode = 3
	ErrCodeIllegalOperation ErrorCode = 4
	ErrCodeUnknownTID       ErrorCode = 5
	ErrCodeFileExists       ErrorCode = 6
)

// Packet is one decoded datagram.
//
// Filename/Mode apply to read and write requests, Block to Data and Ack,
// Payload to Data, Code/Message to Error.
type Packet struct {
	Op Opcode

	Filename string
	Mode     string

	Block   uint16
	Payload []byte

	Code    ErrorCode
	Message string
}

// IsTerminal reports whether p is a Data packet that ends the transfer.
func (p Packet) IsTerminal() bool {
	return p.Op == OpData && len(p.Payload) < BlockSize
}

func NewReadRequest(filename string) Packet {
	return Packet{Op: OpReadRequest, Filename: filename, Mode: ModeOctet}
}

func NewWriteRequest(filename string) Packet {
	return Packet{Op: OpWriteRequest, Filename: filename, Mode: ModeOctet}
}

func NewData(block uint16, payload []byte) Packet {
	return Packet{Op: OpData, Block: block, Payload: payload}
}

func NewAck(block uint16) Packet {
	return Packet{Op: OpAck, Block: block}
}

func NewError(code ErrorCode, message string) Packet {
	return Packet{Op: OpError, Code: code, Message: message}
}
