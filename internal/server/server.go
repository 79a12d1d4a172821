package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/Yua17/tftp/internal/journal"
	"github.com/Yua17/tftp/internal/protocol"
	"github.com/Yua17/tftp/internal/storage"
	"github.com/Yua17/tftp/internal/transfer"
)

// ErrBind is returned by ListenAndServe when the listening socket cannot be
// opened.
var ErrBind = errors.New("cannot bind listening socket")

// inboxSize bounds how many datagrams may queue for one session before
// further ones are dropped.
const inboxSize = 16

const recordTimeout = 5 * time.Second

type Option func(*Server)

func WithConfig(cfg transfer.Config) Option {
	return func(s *Server) { s.cfg = cfg.WithDefaults() }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithJournal records every finished session in r.
func WithJournal(r journal.Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.journal = r
		}
	}
}

type Server struct {
	store   storage.Store
	cfg     transfer.Config
	log     *slog.Logger
	journal journal.Recorder

	mu       sync.Mutex
	conn     *net.UDPConn
	sessions map[string]*session

	wg sync.WaitGroup
}

func New(store storage.Store, opts ...Option) *Server {
	s := &Server{
		store:    store,
		cfg:      transfer.DefaultConfig(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		journal:  journal.Nop{},
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr is the bound address, or nil before Serve starts.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBind, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBind, err)
	}
	return s.Serve(ctx, conn)
}

// Serve reads requests from conn until ctx is cancelled or the socket fails.
// It owns conn and closes it before returning, after every session has
// finished. Cancellation is a clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, conn *net.UDPConn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	s.log.Info("serving", "addr", conn.LocalAddr().String())

	var err error
	buf := make([]byte, protocol.MaxDatagram+1)
	for {
		n, addr, rerr := conn.ReadFromUDP(buf)
		if rerr != nil {
			if parent.Err() == nil {
				err = rerr
			}
			break
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		s.handle(ctx, conn, addr, b)
	}

	cancel()
	stop()
	_ = conn.Close()
	s.wg.Wait()
	s.log.Info("stopped", "addr", conn.LocalAddr().String())
	return err
}

func (s *Server) handle(ctx context.Context, conn *net.UDPConn, addr *net.UDPAddr, b []byte) {
	key := addr.String()

	s.mu.Lock()
	sess, ok := s.sessions[key]
	s.mu.Unlock()
	if ok {
		if !sess.deliver(b) {
			s.log.Debug("session inbox full, dropping datagram", "peer", key)
		}
		return
	}

	p, err := protocol.Decode(b)
	if err != nil {
		s.log.Debug("rejecting malformed request", "peer", key, "err", err)
		reject(conn, addr, protocol.ErrCodeIllegalOperation, "malformed request")
		return
	}
	switch p.Op {
	case protocol.OpReadRequest, protocol.OpWriteRequest:
	case protocol.OpError:
		// Never answer an error with an error.
		return
	default:
		s.log.Debug("rejecting packet outside a transfer", "peer", key, "op", p.Op.String())
		reject(conn, addr, protocol.ErrCodeIllegalOperation, "expected a read or write request")
		return
	}
	if !strings.EqualFold(p.Mode, protocol.ModeOctet) {
		s.log.Debug("rejecting transfer mode", "peer", key, "mode", p.Mode)
		reject(conn, addr, protocol.ErrCodeIllegalOperation, "only octet mode is supported")
		return
	}

	id, err := uuid.NewV4()
	if err != nil {
		s.log.Error("session id", "err", err)
		reject(conn, addr, protocol.ErrCodeUndefined, "server error")
		return
	}
	sess = &session{
		id:    id,
		key:   key,
		peer:  addr,
		conn:  conn,
		inbox: make(chan []byte, inboxSize),
	}

	s.mu.Lock()
	s.sessions[key] = sess
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, sess, p)
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.key] == sess {
		delete(s.sessions, sess.key)
	}
}

func (s *Server) run(ctx context.Context, sess *session, req protocol.Packet) {
	defer s.wg.Done()

	entry := journal.Entry{
		ID:        sess.id,
		Peer:      sess.key,
		Filename:  req.Filename,
		Direction: journal.DirectionWrite,
		StartedAt: time.Now(),
	}
	if req.Op == protocol.OpReadRequest {
		entry.Direction = journal.DirectionRead
	}
	log := s.log.With("session", sess.id.String(), "peer", sess.key, "file", req.Filename, "direction", string(entry.Direction))
	log.Info("request accepted")

	var (
		res transfer.Result
		err error
	)
	if entry.Direction == journal.DirectionRead {
		res, err = s.serveRead(ctx, sess, req.Filename, log)
	} else {
		res, err = s.serveWrite(ctx, sess, req.Filename, log)
	}

	s.unregister(sess)

	entry.FinishedAt = time.Now()
	entry.Bytes = res.Bytes
	entry.Blocks = res.Blocks
	entry.Retransmits = res.Retransmits
	if err != nil {
		entry.Error = err.Error()
		log.Warn("transfer failed", "bytes", res.Bytes, "blocks", res.Blocks, "err", err)
	} else {
		log.Info("transfer complete", "bytes", res.Bytes, "blocks", res.Blocks, "retransmits", res.Retransmits)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.journal.Record(rctx, entry); err != nil {
		log.Error("journal", "err", err)
	}
}

func (s *Server) serveRead(ctx context.Context, sess *session, name string, log *slog.Logger) (transfer.Result, error) {
	f, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			sess.reject(protocol.ErrCodeFileNotFound, "file not found")
		} else {
			sess.reject(protocol.ErrCodeAccessViolation, "access violation")
		}
		return transfer.Result{}, err
	}
	defer f.Close()

	return transfer.NewSession(sess, s.cfg, transfer.WithLogger(log)).Send(ctx, f)
}

func (s *Server) serveWrite(ctx context.Context, sess *session, name string, log *slog.Logger) (transfer.Result, error) {
	up, err := s.store.Create(name)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidName) {
			sess.reject(protocol.ErrCodeAccessViolation, "access violation")
		} else {
			sess.reject(protocol.ErrCodeUndefined, "cannot create file")
		}
		return transfer.Result{}, err
	}

	ts := transfer.NewSession(sess, s.cfg, transfer.WithLogger(log))
	res, err := ts.Receive(ctx, up, nil)
	if err != nil {
		if aerr := up.Abort(); aerr != nil {
			log.Error("discarding partial upload", "err", aerr)
		}
		return res, err
	}
	if err := up.Commit(); err != nil {
		return res, err
	}

	// Stay registered for one timeout in case the final ACK was lost.
	res, err = ts.Linger(ctx, s.cfg.Timeout)
	if err != nil {
		log.Debug("linger after upload", "err", err)
	}
	return res, nil
}

func reject(conn *net.UDPConn, addr *net.UDPAddr, code protocol.ErrorCode, msg string) {
	_, _ = conn.WriteToUDP(protocol.MustEncode(protocol.NewError(code, msg)), addr)
}
