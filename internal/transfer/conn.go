package transfer

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Yua17/tftp/internal/protocol"
)

// Transport moves raw datagrams to and from one fixed peer.
//
// Receive must return an error matching context.DeadlineExceeded once the
// context's deadline passes without a datagram.
type Transport interface {
	Send(ctx context.Context, b []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// PeerConn is a Transport over a UDP socket locked to a single peer.
// Datagrams from any other address are answered with an unknown-TID error
// and otherwise ignored.
//
// PeerConn is safe for one concurrent reader and one concurrent writer.
type PeerConn struct {
	conn *net.UDPConn
	peer *net.UDPAddr

	buf []byte

	readMu  sync.Mutex
	writeMu sync.Mutex
}

func NewPeerConn(conn *net.UDPConn, peer *net.UDPAddr) *PeerConn {
	return &PeerConn{
		conn: conn,
		peer: peer,
		buf:  make([]byte, protocol.MaxDatagram+1),
	}
}

func (c *PeerConn) Peer() *net.UDPAddr { return c.peer }

func (c *PeerConn) Close() error { return c.conn.Close() }

func (c *PeerConn) Send(ctx context.Context, b []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	restore, stop := c.applyWriteContext(ctx)
	defer func() {
		stop()
		restore()
	}()

	if _, err := c.conn.WriteToUDP(b, c.peer); err != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return err
	}
	return nil
}

func (c *PeerConn) Receive(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	restore, stop := c.applyReadContext(ctx)
	defer func() {
		stop()
		restore()
	}()

	for {
		n, addr, err := c.conn.ReadFromUDP(c.buf)
		if err != nil {
			// If context was cancelled, prefer ctx.Err().
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, context.DeadlineExceeded
			}
			return nil, err
		}
		if !sameAddr(addr, c.peer) {
			c.rejectStranger(addr)
			continue
		}
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	}
}

func (c *PeerConn) rejectStranger(addr *net.UDPAddr) {
	b := protocol.MustEncode(protocol.NewError(protocol.ErrCodeUnknownTID, "unknown transfer id"))
	_, _ = c.conn.WriteToUDP(b, addr)
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

func (c *PeerConn) applyReadContext(ctx context.Context) (restore func(), stop func() bool) {
	restore = func() { _ = c.conn.SetReadDeadline(time.Time{}) }
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(d)
	}
	stop = context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	return restore, stop
}

func (c *PeerConn) applyWriteContext(ctx context.Context) (restore func(), stop func() bool) {
	restore = func() { _ = c.conn.SetWriteDeadline(time.Time{}) }
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(d)
	}
	stop = context.AfterFunc(ctx, func() { _ = c.conn.SetWriteDeadline(time.Now()) })
	return restore, stop
}
