package transfer

import (
	"errors"
	"fmt"

	"github.com/Yua17/tftp/internal/protocol"
)

var (
	// ErrNoResponse is returned when the peer stays silent past the retry budget.
	ErrNoResponse = errors.New("no response from peer")

	// ErrProtocolViolation marks sessions abandoned because of what the peer sent.
	ErrProtocolViolation = errors.New("protocol violation")

	ErrOutOfOrder       = errors.New("acknowledgement out of order")
	ErrUnexpectedPacket = errors.New("unexpected packet")
	ErrPeerError        = errors.New("peer aborted transfer")
	ErrSource           = errors.New("reading transfer source")
	ErrSink             = errors.New("writing transfer sink")
)

// errTimeout is internal: one wait expired, the policy decides what follows.
var errTimeout = errors.New("receive timeout")

// PeerError is the content of an Error packet received from the peer.
type PeerError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *PeerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: code %d (%s)", ErrPeerError, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: code %d", ErrPeerError, e.Code)
}

func (e *PeerError) Is(target error) bool { return target == ErrPeerError }

// NewPeerError converts a received Error packet into an error.
func NewPeerError(p protocol.Packet) error {
	return &PeerError{Code: p.Code, Message: p.Message}
}
