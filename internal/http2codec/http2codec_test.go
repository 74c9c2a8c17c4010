package http2codec

import (
	"bytes"
	"testing"

	"github.com/nutsloop/neonsignal/internal/hpack"
)

func TestBuildFrameHeader(t *testing.T) {
	out := BuildFrame(nil, TypeData, FlagEndStream, 3, []byte("hi"))
	if len(out) != FrameHeaderLen+2 {
		t.Fatalf("length = %d", len(out))
	}
	header := ParseFrameHeader(out)
	if header.Length != 2 || header.Type != TypeData || header.Flags != FlagEndStream || header.StreamID != 3 {
		t.Fatalf("got %+v", header)
	}
	if !bytes.Equal(out[FrameHeaderLen:], []byte("hi")) {
		t.Fatalf("payload mismatch: %v", out[FrameHeaderLen:])
	}
}

func TestReadFrameIncomplete(t *testing.T) {
	full := BuildFrame(nil, TypeData, 0, 1, []byte("hello"))
	if _, _, _, ok := ReadFrame(full[:5]); ok {
		t.Fatal("expected incomplete frame to report not-ok")
	}
	header, payload, total, ok := ReadFrame(full)
	if !ok || header.StreamID != 1 || total != len(full) || string(payload) != "hello" {
		t.Fatalf("got header=%+v payload=%q total=%d ok=%v", header, payload, total, ok)
	}
}

func TestBuildServerSettings(t *testing.T) {
	frame := BuildServerSettings()
	header := ParseFrameHeader(frame)
	if header.Type != TypeSettings || header.Length != 12 {
		t.Fatalf("got %+v", header)
	}
	settings := ParseSettings(frame[FrameHeaderLen:])
	if settings[0x3] != 100 {
		t.Errorf("MAX_CONCURRENT_STREAMS = %d, want 100", settings[0x3])
	}
	if settings[0x4] != 16*1024*1024 {
		t.Errorf("INITIAL_WINDOW_SIZE = %d, want 16MiB", settings[0x4])
	}
}

func TestBuildSettingsAck(t *testing.T) {
	frame := BuildSettingsAck()
	header := ParseFrameHeader(frame)
	if header.Type != TypeSettings || header.Flags != FlagAck || header.Length != 0 {
		t.Fatalf("got %+v", header)
	}
}

func TestBuildWindowUpdate(t *testing.T) {
	frame := BuildWindowUpdate(5, StreamUploadWindowBoost)
	header := ParseFrameHeader(frame)
	if header.Type != TypeWindowUpdate || header.StreamID != 5 {
		t.Fatalf("got %+v", header)
	}
	payload := frame[FrameHeaderLen:]
	got := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	if got != StreamUploadWindowBoost {
		t.Errorf("increment = %d, want %d", got, StreamUploadWindowBoost)
	}
}

func TestBuildResponseFramesEmptyBody(t *testing.T) {
	out := BuildResponseFrames(nil, 1, ResponseHeaders{Status: 404, ContentType: "text/plain"}, nil)
	h1, p1, n1, ok := ReadFrame(out)
	if !ok || h1.Type != TypeHeaders || h1.Flags != FlagEndHeaders {
		t.Fatalf("headers frame: %+v", h1)
	}
	if !bytes.Equal(p1, hpack.EncodeResponseHeaders(404, "text/plain", nil)) {
		t.Fatalf("header block mismatch")
	}
	h2, _, _, ok := ReadFrame(out[n1:])
	if !ok || h2.Type != TypeData || h2.Flags != FlagEndStream || h2.Length != 0 {
		t.Fatalf("data frame: %+v", h2)
	}
}

func TestBuildResponseFramesChunksBody(t *testing.T) {
	body := bytes.Repeat([]byte{'a'}, MaxFrameSize+10)
	out := BuildResponseFrames(nil, 1, ResponseHeaders{Status: 200, ContentType: "application/octet-stream"}, body)

	_, _, n1, ok := ReadFrame(out)
	if !ok {
		t.Fatal("headers frame missing")
	}
	rest := out[n1:]

	h2, p2, n2, ok := ReadFrame(rest)
	if !ok || h2.Type != TypeData || h2.Flags != 0 || int(h2.Length) != MaxFrameSize {
		t.Fatalf("first data frame: %+v len(payload)=%d", h2, len(p2))
	}
	rest = rest[n2:]

	h3, p3, _, ok := ReadFrame(rest)
	if !ok || h3.Type != TypeData || h3.Flags != FlagEndStream || int(h3.Length) != 10 {
		t.Fatalf("second data frame: %+v len(payload)=%d", h3, len(p3))
	}
}

func TestStripHeadersPaddingNoFlags(t *testing.T) {
	out, err := StripHeadersPadding(0, []byte("block"))
	if err != nil || string(out) != "block" {
		t.Fatalf("got %q err=%v", out, err)
	}
}

func TestStripHeadersPaddingWithPadding(t *testing.T) {
	// 1-byte pad length (2), "hi" block, 2 bytes padding.
	payload := []byte{2, 'h', 'i', 0, 0}
	out, err := StripHeadersPadding(FlagPadded, payload)
	if err != nil || string(out) != "hi" {
		t.Fatalf("got %q err=%v", out, err)
	}
}
