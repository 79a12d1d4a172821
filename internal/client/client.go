package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/Yua17/tftp/internal/protocol"
	"github.com/Yua17/tftp/internal/transfer"
)

type Option func(*Client)

func WithConfig(cfg transfer.Config) Option {
	return func(c *Client) { c.cfg = cfg.WithDefaults() }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client talks to one server. Every Get or Put uses its own socket, so a
// Client is safe for concurrent use.
type Client struct {
	server *net.UDPAddr
	cfg    transfer.Config
	log    *slog.Logger
}

// New resolves server ("host:port") once; the address stays fixed for the
// lifetime of the Client.
func New(server string, opts ...Option) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve server %q: %w", server, err)
	}
	c := &Client{
		server: addr,
		cfg:    transfer.DefaultConfig(),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Server() *net.UDPAddr { return c.server }

// Get downloads filename from the server into dst.
func (c *Client) Get(ctx context.Context, filename string, dst io.Writer) (transfer.Result, error) {
	req, err := protocol.Encode(protocol.NewReadRequest(filename))
	if err != nil {
		return transfer.Result{}, err
	}
	pc, err := c.dial()
	if err != nil {
		return transfer.Result{}, err
	}
	defer pc.Close()

	// The server accepts a read with DATA 1.
	first, err := c.request(ctx, pc, req, func(p protocol.Packet) bool {
		return p.Op == protocol.OpData && p.Block == 1
	})
	if err != nil {
		return transfer.Result{}, err
	}

	log := c.log.With("file", filename, "direction", "get")
	res, err := transfer.NewSession(pc, c.cfg, transfer.WithLogger(log)).Receive(ctx, dst, first)
	if err != nil {
		return res, err
	}
	log.Debug("transfer complete", "bytes", res.Bytes, "blocks", res.Blocks, "retransmits", res.Retransmits)
	return res, nil
}

// Put uploads src to the server under filename.
func (c *Client) Put(ctx context.Context, filename string, src io.Reader) (transfer.Result, error) {
	req, err := protocol.Encode(protocol.NewWriteRequest(filename))
	if err != nil {
		return transfer.Result{}, err
	}
	pc, err := c.dial()
	if err != nil {
		return transfer.Result{}, err
	}
	defer pc.Close()

	// The server accepts a write with ACK 0.
	if _, err := c.request(ctx, pc, req, func(p protocol.Packet) bool {
		return p.Op == protocol.OpAck && p.Block == 0
	}); err != nil {
		return transfer.Result{}, err
	}

	log := c.log.With("file", filename, "direction", "put")
	res, err := transfer.NewSession(pc, c.cfg, transfer.WithLogger(log)).Send(ctx, src)
	if err != nil {
		return res, err
	}
	log.Debug("transfer complete", "bytes", res.Bytes, "blocks", res.Blocks, "retransmits", res.Retransmits)
	return res, nil
}

func (c *Client) dial() (*transfer.PeerConn, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	return transfer.NewPeerConn(conn, c.server), nil
}

// request sends req and waits for the first reply that accept approves,
// resending req after every failed wait until the request policy gives up.
// The raw reply is returned so the session can process it as its first
// datagram.
func (c *Client) request(ctx context.Context, pc *transfer.PeerConn, req []byte, accept func(protocol.Packet) bool) ([]byte, error) {
	policy := c.cfg.RequestPolicy()
	if err := pc.Send(ctx, req); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		b, cause := c.awaitReply(ctx, pc)
		if cause == nil {
			p, err := protocol.Decode(b)
			switch {
			case err != nil:
				cause = errors.Join(transfer.ErrProtocolViolation, err)
			case p.Op == protocol.OpError:
				return nil, transfer.NewPeerError(p)
			case accept(p):
				return b, nil
			default:
				cause = errors.Join(transfer.ErrProtocolViolation,
					fmt.Errorf("%w: %s in reply to request", transfer.ErrUnexpectedPacket, p.Op))
			}
		} else if !errors.Is(cause, transfer.ErrNoResponse) {
			return nil, cause
		}

		if policy.OnTimeout(attempt) == transfer.Abort {
			return nil, cause
		}
		c.log.Debug("resending request", "server", c.server, "attempt", attempt, "err", cause)
		if err := pc.Send(ctx, req); err != nil {
			return nil, err
		}
	}
}

// awaitReply reports a timed-out wait as transfer.ErrNoResponse.
func (c *Client) awaitReply(ctx context.Context, pc *transfer.PeerConn) ([]byte, error) {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	b, err := pc.Receive(wctx)
	if err == nil {
		return b, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, transfer.ErrNoResponse
	}
	return nil, err
}
