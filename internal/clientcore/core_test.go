package clientcore

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"dechat/internal/transport"
	"dechat/internal/wire"
)

type fakeDisplay struct {
	mu      sync.Mutex
	frames  []wire.Frame
	notices []string
}

func (d *fakeDisplay) ShowFrame(server string, f wire.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, f)
}

func (d *fakeDisplay) ShowNotice(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, text)
}

func TestSwitchRejectsUnknownLink(t *testing.T) {
	c := New("me", &fakeDisplay{})
	if c.Switch("nope") {
		t.Fatal("switched to a link that was never connected")
	}
}

func TestInputWithNoConnectionShowsNotice(t *testing.T) {
	d := &fakeDisplay{}
	c := New("me", d)
	c.Input("hello")
	if len(d.notices) != 1 {
		t.Fatalf("notices = %+v", d.notices)
	}
}

func TestSplitControlParsesMigrateDirective(t *testing.T) {
	tag, args := splitControl("--migrate" + wire.SEP + "room" + wire.SEP + "peer" + wire.SEP + "9998")
	if tag != wire.TagMigrate {
		t.Fatalf("tag = %q", tag)
	}
	if len(args) != 3 || args[1] != "peer" || args[2] != "9998" {
		t.Fatalf("args = %+v", args)
	}
}

// fakeServer accepts one connection and hands it to the caller, letting
// the test drive the wire protocol directly without spinning up a real
// hub.Server.
func fakeServer(t *testing.T) (addr string, accept func() net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), func() net.Conn {
		conn, err := ln.Accept()
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		return conn
	}
}

func dialedPort(t *testing.T, addr string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi %q: %v", portStr, err)
	}
	return port
}

func readFrame(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	f, err := transport.RecvFrame(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("RecvFrame: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, conn net.Conn, f wire.Frame) {
	t.Helper()
	if err := transport.SendFrame(conn, f); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
}

func TestListDisplaysReportsActiveFlagAndRemoteName(t *testing.T) {
	addr, accept := fakeServer(t)
	d := &fakeDisplay{}
	c := New("me", d)

	go func() {
		conn := accept()
		defer conn.Close()
		readFrame(t, conn) // the post-connect /info ping
		writeFrame(t, conn, wire.Frame{ChannelID: wire.ServerChannelID, Payload: "Server: fishbowl:9996"})
	}()

	if err := c.Connect("s1", "127.0.0.1", dialedPort(t, addr)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var displays []DisplayInfo
	for time.Now().Before(deadline) {
		displays = c.ListDisplays()
		if len(displays) == 1 && displays[0].RemoteName != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(displays) != 1 {
		t.Fatalf("displays = %+v", displays)
	}
	if !displays[0].Active {
		t.Fatalf("sole connection should be active: %+v", displays[0])
	}
	if displays[0].RemoteName != "fishbowl:9996" {
		t.Fatalf("RemoteName = %q", displays[0].RemoteName)
	}
}

func TestListDisplaysCommandShowsMarkerAndPendingName(t *testing.T) {
	addr, accept := fakeServer(t)
	d := &fakeDisplay{}
	c := New("me", d)

	go func() {
		conn := accept()
		defer conn.Close()
		readFrame(t, conn) // /info ping; deliberately never answered
		<-time.After(2 * time.Second)
	}()

	if err := c.Connect("s1", "127.0.0.1", dialedPort(t, addr)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Input("/list_displays")

	deadline := time.Now().Add(time.Second)
	for len(d.notices) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(d.notices) != 1 {
		t.Fatalf("notices = %+v", d.notices)
	}
	if !strings.Contains(d.notices[0], "* s1 -> (resolving...)") {
		t.Fatalf("notice = %q", d.notices[0])
	}
}

func TestSwitchReplaysBufferedHistoryOldestFirst(t *testing.T) {
	addrA, acceptA := fakeServer(t)
	addrB, acceptB := fakeServer(t)
	d := &fakeDisplay{}
	c := New("me", d)

	connAReady := make(chan net.Conn, 1)
	go func() {
		conn := acceptA()
		readFrame(t, conn) // /info ping
		connAReady <- conn
	}()
	connBReady := make(chan net.Conn, 1)
	go func() {
		conn := acceptB()
		readFrame(t, conn) // /info ping
		connBReady <- conn
	}()

	if err := c.Connect("a", "127.0.0.1", dialedPort(t, addrA)); err != nil {
		t.Fatalf("Connect a: %v", err)
	}
	if err := c.Connect("b", "127.0.0.1", dialedPort(t, addrB)); err != nil {
		t.Fatalf("Connect b: %v", err)
	}
	// "a" is active (first connected); "b" is backgrounded.
	connA := <-connAReady
	defer connA.Close()
	connB := <-connBReady
	defer connB.Close()

	writeFrame(t, connB, wire.Frame{Nickname: "other", Payload: "first", ChannelID: 1})
	writeFrame(t, connB, wire.Frame{Nickname: "other", Payload: "second", ChannelID: 1})

	link := c.links["b"]
	deadline := time.Now().Add(2 * time.Second)
	for len(link.History()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	d.mu.Lock()
	backgroundedCount := len(d.frames)
	d.mu.Unlock()
	if backgroundedCount != 0 {
		t.Fatalf("frames delivered while b was inactive: %+v", d.frames)
	}

	if !c.Switch("b") {
		t.Fatal("Switch(b) failed")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) != 2 || d.frames[0].Payload != "first" || d.frames[1].Payload != "second" {
		t.Fatalf("replayed frames = %+v", d.frames)
	}
}
