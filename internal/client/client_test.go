package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Yua17/tftp/internal/protocol"
	"github.com/Yua17/tftp/internal/transfer"
)

type fakeServer struct {
	t    *testing.T
	conn *net.UDPConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &fakeServer{t: t, conn: c}
}

func (f *fakeServer) addr() string { return f.conn.LocalAddr().String() }

func (f *fakeServer) read() (protocol.Packet, *net.UDPAddr) {
	f.t.Helper()
	_ = f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.MaxDatagram)
	n, addr, err := f.conn.ReadFromUDP(buf)
	if err != nil {
		f.t.Fatalf("fake server read: %v", err)
	}
	p, err := protocol.Decode(buf[:n])
	if err != nil {
		f.t.Fatalf("fake server decode: %v", err)
	}
	return p, addr
}

func (f *fakeServer) quiet(d time.Duration) bool {
	_ = f.conn.SetReadDeadline(time.Now().Add(d))
	buf := make([]byte, protocol.MaxDatagram)
	_, _, err := f.conn.ReadFromUDP(buf)
	return err != nil
}

func (f *fakeServer) write(p protocol.Packet, to *net.UDPAddr) {
	f.t.Helper()
	if _, err := f.conn.WriteToUDP(protocol.MustEncode(p), to); err != nil {
		f.t.Fatalf("fake server write: %v", err)
	}
}

type outcome struct {
	res transfer.Result
	err error
}

func newTestClient(t *testing.T, addr string, cfg transfer.Config) *Client {
	t.Helper()
	c, err := New(addr, WithConfig(cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRequestRetriedThenNoResponse(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.addr(), transfer.Config{Timeout: 50 * time.Millisecond, RequestRetries: 3})

	done := make(chan outcome, 1)
	go func() {
		res, err := c.Get(context.Background(), "a.txt", &bytes.Buffer{})
		done <- outcome{res, err}
	}()

	var from *net.UDPAddr
	for i := 0; i < 3; i++ {
		p, addr := srv.read()
		if p.Op != protocol.OpReadRequest || p.Filename != "a.txt" || p.Mode != protocol.ModeOctet {
			t.Fatalf("request %d: unexpected packet %#v", i, p)
		}
		if from != nil && addr.String() != from.String() {
			t.Fatalf("request %d came from a different socket: %v vs %v", i, addr, from)
		}
		from = addr
	}

	o := <-done
	if !errors.Is(o.err, transfer.ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", o.err)
	}
	if !srv.quiet(150 * time.Millisecond) {
		t.Fatalf("client kept sending after giving up")
	}
}

func TestGetDownloads(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.addr(), transfer.Config{Timeout: time.Second, RequestRetries: 3, BlockRetries: 3})

	want := bytes.Repeat([]byte("0123456789abcdef"), 40) // 640 bytes
	var got bytes.Buffer
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Get(context.Background(), "a.txt", &got)
		done <- outcome{res, err}
	}()

	_, client := srv.read()
	srv.write(protocol.NewData(1, want[:512]), client)
	if p, _ := srv.read(); p.Op != protocol.OpAck || p.Block != 1 {
		t.Fatalf("expected ACK 1, got %#v", p)
	}
	srv.write(protocol.NewData(2, want[512:]), client)
	if p, _ := srv.read(); p.Op != protocol.OpAck || p.Block != 2 {
		t.Fatalf("expected ACK 2, got %#v", p)
	}

	o := <-done
	if o.err != nil {
		t.Fatalf("Get: %v", o.err)
	}
	if !bytes.Equal(got.Bytes(), want) || o.res.Blocks != 2 {
		t.Fatalf("unexpected download: %d bytes, %+v", got.Len(), o.res)
	}
}

func TestGetPeerError(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.addr(), transfer.Config{Timeout: time.Second, RequestRetries: 3})

	done := make(chan outcome, 1)
	go func() {
		res, err := c.Get(context.Background(), "missing.txt", &bytes.Buffer{})
		done <- outcome{res, err}
	}()

	_, client := srv.read()
	srv.write(protocol.NewError(protocol.ErrCodeFileNotFound, "file not found"), client)

	o := <-done
	var pe *transfer.PeerError
	if !errors.As(o.err, &pe) || pe.Code != protocol.ErrCodeFileNotFound {
		t.Fatalf("expected file-not-found peer error, got %v", o.err)
	}
	if o.res.Blocks != 0 {
		t.Fatalf("no blocks expected, got %+v", o.res)
	}
}

func TestPutWaitsForAckZero(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.addr(), transfer.Config{Timeout: time.Second, RequestRetries: 3, BlockRetries: 3})

	done := make(chan outcome, 1)
	go func() {
		res, err := c.Put(context.Background(), "b.txt", bytes.NewReader([]byte("hello")))
		done <- outcome{res, err}
	}()

	p, client := srv.read()
	if p.Op != protocol.OpWriteRequest || p.Filename != "b.txt" {
		t.Fatalf("expected WRQ, got %#v", p)
	}

	// Anything but ACK 0 leaves the client in the request phase.
	srv.write(protocol.NewAck(3), client)
	if p, _ := srv.read(); p.Op != protocol.OpWriteRequest {
		t.Fatalf("expected the WRQ to be resent, got %#v", p)
	}

	srv.write(protocol.NewAck(0), client)
	p, _ = srv.read()
	if p.Op != protocol.OpData || p.Block != 1 || string(p.Payload) != "hello" {
		t.Fatalf("expected DATA 1, got %#v", p)
	}

	// The short block finishes the upload without waiting for ACK 1.
	o := <-done
	if o.err != nil {
		t.Fatalf("Put: %v", o.err)
	}
	if o.res.Bytes != 5 || o.res.Blocks != 1 {
		t.Fatalf("unexpected result: %+v", o.res)
	}
}

func TestGetWaitsForDataOne(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.addr(), transfer.Config{Timeout: time.Second, RequestRetries: 3, BlockRetries: 3})

	done := make(chan outcome, 1)
	var got bytes.Buffer
	go func() {
		res, err := c.Get(context.Background(), "a.txt", &got)
		done <- outcome{res, err}
	}()

	p, client := srv.read()
	if p.Op != protocol.OpReadRequest {
		t.Fatalf("expected RRQ, got %#v", p)
	}

	// A stray DATA 2 is not an answer to the request.
	srv.write(protocol.NewData(2, []byte("wrong")), client)
	if p, _ := srv.read(); p.Op != protocol.OpReadRequest {
		t.Fatalf("expected the RRQ to be resent, got %#v", p)
	}

	srv.write(protocol.NewData(1, []byte("right")), client)
	if p, _ := srv.read(); p.Op != protocol.OpAck || p.Block != 1 {
		t.Fatalf("expected ACK 1, got %#v", p)
	}

	o := <-done
	if o.err != nil {
		t.Fatalf("Get: %v", o.err)
	}
	if got.String() != "right" || o.res.Blocks != 1 {
		t.Fatalf("got %q in %d blocks", got.String(), o.res.Blocks)
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	if _, err := New("not an address"); err == nil {
		t.Fatalf("expected resolve error")
	}
}
