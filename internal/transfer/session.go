package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Yua17/tftp/internal/protocol"
)

// Result summarizes a finished or abandoned session.
type Result struct {
	Blocks      int
	Bytes       int64
	Retransmits int
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// Session is one file transfer with one peer, in one direction.
//
// A Session is not safe for concurrent use; it is driven by a single
// goroutine through Send or Receive, exactly once.
type Session struct {
	tr     Transport
	cfg    Config
	policy Policy
	log    *slog.Logger

	// block is the last block sent or accepted.
	block    uint16
	attempts int
	last     []byte

	res Result
}

func NewSession(tr Transport, cfg Config, opts ...Option) *Session {
	cfg = cfg.WithDefaults()
	s := &Session{
		tr:     tr,
		cfg:    cfg,
		policy: cfg.BlockPolicy(),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send runs the sending state machine: Data(1), Data(2), ... each waiting for
// its acknowledgement, until a block shorter than protocol.BlockSize has
// gone out. src is read in protocol.BlockSize chunks.
func (s *Session) Send(ctx context.Context, src io.Reader) (Result, error) {
	buf := make([]byte, protocol.BlockSize)
	for {
		n, err := readBlock(src, buf)
		if err != nil {
			return s.res, s.fail(ctx, protocol.ErrCodeUndefined, "read failed", errors.Join(ErrSource, err))
		}

		s.block++
		s.attempts = 0
		s.last = protocol.MustEncode(protocol.NewData(s.block, buf[:n]))
		if err := s.tr.Send(ctx, s.last); err != nil {
			return s.res, err
		}
		s.res.Blocks++
		s.res.Bytes += int64(n)

		final := n < protocol.BlockSize
		if final && !s.cfg.AwaitFinalAck {
			return s.res, nil
		}
		if err := s.awaitAck(ctx); err != nil {
			return s.res, err
		}
		if final {
			return s.res, nil
		}
	}
}

func (s *Session) awaitAck(ctx context.Context) error {
	for {
		raw, err := s.await(ctx)
		if errors.Is(err, errTimeout) {
			if err := s.onTimeout(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		p, err := protocol.Decode(raw)
		switch {
		case err != nil:
			err = s.tolerate(ctx, err, false)
		case p.Op == protocol.OpError:
			return NewPeerError(p)
		case p.Op != protocol.OpAck:
			err = s.tolerate(ctx, fmt.Errorf("%w: %s while awaiting ACK %d", ErrUnexpectedPacket, p.Op, s.block), false)
		case p.Block == s.block:
			return nil
		case int16(p.Block-s.block) < 0:
			// Stale duplicate. Retransmitting here would double every
			// subsequent packet, so wait for the timeout instead.
			err = s.tolerate(ctx, fmt.Errorf("%w: stale ACK %d, want %d", ErrUnexpectedPacket, p.Block, s.block), false)
		default:
			return s.fail(ctx, protocol.ErrCodeIllegalOperation, "acknowledgement out of order",
				errors.Join(ErrProtocolViolation, fmt.Errorf("%w: got ACK %d, want %d", ErrOutOfOrder, p.Block, s.block)))
		}
		if err != nil {
			return err
		}
	}
}

// Receive runs the receiving state machine, writing each in-order Data
// payload to dst exactly once and acknowledging it, until the terminal
// block arrives.
//
// first, when non-nil, is a datagram already read from the peer, as
// happens after a read request. When first is nil the session opens by
// sending ACK 0, which is how a write request is accepted.
func (s *Session) Receive(ctx context.Context, dst io.Writer, first []byte) (Result, error) {
	s.last = protocol.MustEncode(protocol.NewAck(s.block))
	if first == nil {
		if err := s.tr.Send(ctx, s.last); err != nil {
			return s.res, err
		}
	}

	raw := first
	for {
		if raw == nil {
			b, err := s.await(ctx)
			if errors.Is(err, errTimeout) {
				if err := s.onTimeout(ctx); err != nil {
					return s.res, err
				}
				continue
			}
			if err != nil {
				return s.res, err
			}
			raw = b
		}

		p, err := protocol.Decode(raw)
		raw = nil
		switch {
		case err != nil:
			err = s.tolerate(ctx, err, true)
		case p.Op == protocol.OpError:
			return s.res, NewPeerError(p)
		case p.Op != protocol.OpData:
			err = s.tolerate(ctx, fmt.Errorf("%w: %s while awaiting DATA %d", ErrUnexpectedPacket, p.Op, s.block+1), true)
		case p.Block != s.block+1:
			err = s.tolerate(ctx, fmt.Errorf("%w: DATA %d, want %d", ErrUnexpectedPacket, p.Block, s.block+1), true)
		default:
			if _, werr := dst.Write(p.Payload); werr != nil {
				return s.res, s.fail(ctx, protocol.ErrCodeDiskFull, "write failed", errors.Join(ErrSink, werr))
			}
			s.block++
			s.attempts = 0
			s.res.Blocks++
			s.res.Bytes += int64(len(p.Payload))

			s.last = protocol.MustEncode(protocol.NewAck(s.block))
			if err := s.tr.Send(ctx, s.last); err != nil {
				return s.res, err
			}
			if p.IsTerminal() {
				return s.res, nil
			}
		}
		if err != nil {
			return s.res, err
		}
	}
}

// Linger follows a completed Receive. For d it answers a retransmitted
// terminal block with the final ACK again, so a peer whose last ACK was lost
// can still finish. Any other datagram is ignored; an Error packet from the
// peer ends the wait early.
func (s *Session) Linger(ctx context.Context, d time.Duration) (Result, error) {
	lctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	for {
		raw, err := s.tr.Receive(lctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.res, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return s.res, nil
			}
			return s.res, err
		}

		p, err := protocol.Decode(raw)
		switch {
		case err != nil:
		case p.Op == protocol.OpError:
			return s.res, nil
		case p.Op == protocol.OpData && p.Block == s.block:
			s.log.Debug("terminal block repeated, acknowledging again", "block", s.block)
			if err := s.retransmit(ctx); err != nil {
				return s.res, err
			}
		}
	}
}

// await waits at most one timeout for the next datagram.
func (s *Session) await(ctx context.Context) ([]byte, error) {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	b, err := s.tr.Receive(wctx)
	if err == nil {
		return b, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, errTimeout
	}
	return nil, err
}

func (s *Session) onTimeout(ctx context.Context) error {
	s.attempts++
	if s.policy.OnTimeout(s.attempts) == Abort {
		return s.fail(ctx, protocol.ErrCodeUndefined, "timed out", ErrNoResponse)
	}
	s.log.Debug("timeout, retransmitting", "block", s.block, "attempt", s.attempts)
	return s.retransmit(ctx)
}

// tolerate counts an anomaly against the block's budget.
func (s *Session) tolerate(ctx context.Context, cause error, resend bool) error {
	s.attempts++
	if s.policy.OnTimeout(s.attempts) == Abort {
		return s.fail(ctx, protocol.ErrCodeIllegalOperation, "too many unexpected packets",
			errors.Join(ErrProtocolViolation, cause))
	}
	s.log.Debug("ignoring packet", "block", s.block, "attempt", s.attempts, "err", cause)
	if resend {
		return s.retransmit(ctx)
	}
	return nil
}

func (s *Session) retransmit(ctx context.Context) error {
	s.res.Retransmits++
	return s.tr.Send(ctx, s.last)
}

// fail tells the peer the session is over and returns err.
func (s *Session) fail(ctx context.Context, code protocol.ErrorCode, msg string, err error) error {
	_ = s.tr.Send(ctx, protocol.MustEncode(protocol.NewError(code, msg)))
	return err
}

// readBlock fills buf unless the source ends first. A short count with a
// nil error means the source is exhausted.
func readBlock(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}
