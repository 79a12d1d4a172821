package server

import (
	"context"
	"net"

	"github.com/gofrs/uuid"

	"github.com/Yua17/tftp/internal/protocol"
)

// session is the transfer.Transport of one peer on the shared socket. The
// serve loop feeds it through inbox; replies go straight out of the socket.
type session struct {
	id    uuid.UUID
	key   string
	peer  *net.UDPAddr
	conn  *net.UDPConn
	inbox chan []byte
}

func (s *session) Send(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.conn.WriteToUDP(b, s.peer)
	return err
}

func (s *session) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-s.inbox:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver queues b unless the inbox is full.
func (s *session) deliver(b []byte) bool {
	select {
	case s.inbox <- b:
		return true
	default:
		return false
	}
}

func (s *session) reject(code protocol.ErrorCode, msg string) {
	reject(s.conn, s.peer, code, msg)
}
