package transport

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"dechat/internal/wire"
)

// fakeConn lets tests drive RecvFrame's read sequencing without a real
// socket. Each Read call pulls from a fixed buffer; blocked signals a
// timeout on the next read.
type fakeConn struct {
	buf     *bytes.Buffer
	timeout bool
	reset   bool
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if f.timeout {
		return 0, &net.OpError{Op: "read", Err: timeoutErr{}}
	}
	if f.reset {
		return 0, io.ErrUnexpectedEOF
	}
	return f.buf.Read(p)
}

func (f *fakeConn) Write(p []byte) (int, error) { return len(p), nil }

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRecvFrameSuccess(t *testing.T) {
	f := wire.Frame{ChannelID: 1, Nickname: "alice", Timestamp: 99, Type: wire.TypeChannelPost, Payload: "hi"}
	enc, err := f.Encode()
	if err != nil {
		t.Fatal(err)
	}
	conn := &fakeConn{buf: bytes.NewBuffer(enc)}

	got, err := RecvFrame(conn, time.Second)
	if err != nil {
		t.Fatalf("RecvFrame: %v", err)
	}
	if got != f {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestRecvFrameTimeout(t *testing.T) {
	conn := &fakeConn{buf: bytes.NewBuffer(nil), timeout: true}
	_, err := RecvFrame(conn, time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestRecvFrameReset(t *testing.T) {
	conn := &fakeConn{buf: bytes.NewBuffer(nil), reset: true}
	_, err := RecvFrame(conn, time.Second)
	if err != ErrReset {
		t.Fatalf("got %v, want ErrReset", err)
	}
}

func TestRecvFrameShortHeaderIsInvalid(t *testing.T) {
	conn := &fakeConn{buf: bytes.NewBuffer([]byte{1, 2, 3})}
	_, err := RecvFrame(conn, time.Second)
	if err != ErrInvalidFrame {
		// Three bytes and then EOF: the peer delivered a header shorter
		// than the fixed 40 bytes, which is a malformed frame, not a
		// clean reset between frames.
		t.Fatalf("got %v, want ErrInvalidFrame", err)
	}
}

func TestCloseMessageRoundTrip(t *testing.T) {
	enc, err := wire.CloseFrame.Encode()
	if err != nil {
		t.Fatal(err)
	}
	conn := &fakeConn{buf: bytes.NewBuffer(enc)}
	got, err := RecvFrame(conn, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsClose() {
		t.Fatalf("expected close frame, got %+v", got)
	}
}

func TestListenDialAcceptRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := Accept(ln, time.Second)
		accepted <- conn
		acceptErr <- err
	}()

	client, err := Dial("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := <-acceptErr; err != nil {
		t.Fatal(err)
	}
	server := <-accepted
	defer server.Close()

	want := wire.Frame{ChannelID: 5, Nickname: "bob", Timestamp: 1, Type: wire.TypeChannelPost, Payload: "over the wire"}
	if err := SendFrame(client, want); err != nil {
		t.Fatal(err)
	}
	got, err := RecvFrame(server, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAcceptTimeout(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = Accept(ln, 10*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}
