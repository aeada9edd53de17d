package wire

import (
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		{ChannelID: 1, Nickname: "alice", Timestamp: 1700000000, Type: TypeChannelPost, Payload: "hello world"},
		{ChannelID: ServerChannelID, Nickname: "", Timestamp: 0, Type: TypeServerScope, Payload: "Command not recognized"},
		{ChannelID: 0, Nickname: "a -> b", Timestamp: 42, Type: TypeChannelPost, Payload: "hi"},
		CloseFrame,
		{ChannelID: 7, Nickname: strings.Repeat("x", 32), Timestamp: 1, Type: TypeRelay, Payload: strings.Repeat("y", MaxPayloadLength)},
	}

	for i, want := range cases {
		enc, err := want.Encode()
		if err != nil {
			t.Fatalf("case %d: encode: %v", i, err)
		}
		got, err := Decode(enc)
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		// Long nicknames are truncated to the 32-byte field on encode, so
		// compare against the truncated expectation.
		wantNick := want.Nickname
		if len(wantNick) > 32 {
			wantNick = wantNick[:32]
		}
		want.Nickname = wantNick
		if got != want {
			t.Fatalf("case %d: round trip mismatch:\n got  %+v\n want %+v", i, got, want)
		}
	}
}

func TestEncodeRejectsBadType(t *testing.T) {
	f := Frame{Type: 4}
	if _, err := f.Encode(); err != ErrBadType {
		t.Fatalf("want ErrBadType, got %v", err)
	}
}

func TestEncodeRejectsLongPayload(t *testing.T) {
	f := Frame{Type: TypeChannelPost, Payload: strings.Repeat("z", MaxPayloadLength+1)}
	if _, err := f.Encode(); err != ErrPayloadTooLong {
		t.Fatalf("want ErrPayloadTooLong, got %v", err)
	}
}

func TestDecodeShortHeader(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err != ErrShortHeader {
		t.Fatalf("want ErrShortHeader, got %v", err)
	}
}

func TestDecodeHeaderReportsPayloadLength(t *testing.T) {
	f := Frame{ChannelID: 3, Nickname: "bob", Timestamp: 5, Type: TypeChannelPost, Payload: "abcdef"}
	enc, err := f.Encode()
	if err != nil {
		t.Fatal(err)
	}
	hdr, length, err := DecodeHeader(enc[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if length != len(f.Payload) {
		t.Fatalf("length = %d, want %d", length, len(f.Payload))
	}
	if hdr.ChannelID != f.ChannelID || hdr.Nickname != f.Nickname || hdr.Timestamp != f.Timestamp || hdr.Type != f.Type {
		t.Fatalf("header mismatch: %+v", hdr)
	}
}

func TestNicknameNullStripping(t *testing.T) {
	raw := make([]byte, HeaderSize)
	copy(raw[2:], "al\x00ice")
	hdr, _, err := DecodeHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Nickname != "alice" {
		t.Fatalf("nickname = %q, want %q", hdr.Nickname, "alice")
	}
}

func TestIsClose(t *testing.T) {
	if !CloseFrame.IsClose() {
		t.Fatal("CloseFrame.IsClose() = false")
	}
	other := Frame{ChannelID: 1}
	if other.IsClose() {
		t.Fatal("non-zero frame reported as close")
	}
}
