// Package http2codec builds and parses raw HTTP/2 frames (RFC 7540
// §4.1), plus the fixed handful of frame payloads this server ever
// sends: SETTINGS, SETTINGS ack, WINDOW_UPDATE, and HEADERS/DATA
// response sequences built on top of internal/hpack.
//
// Grounded on http2_listener/helper/{build_frame,build_server_settings,
// build_settings_ack,build_response_frames}.c++ and
// spin/http2_listener/helper/build_window_update.c++.
package http2codec

import (
	"encoding/binary"
	"fmt"

	"github.com/nutsloop/neonsignal/internal/hpack"
)

// Frame types (RFC 7540 §11.2).
const (
	TypeData         = 0x0
	TypeHeaders      = 0x1
	TypePriority     = 0x2
	TypeRSTStream    = 0x3
	TypeSettings     = 0x4
	TypePushPromise  = 0x5
	TypePing         = 0x6
	TypeGoAway       = 0x7
	TypeWindowUpdate = 0x8
	TypeContinuation = 0x9
)

// Frame flags used by this server.
const (
	FlagEndStream  = 0x1
	FlagAck        = 0x1
	FlagEndHeaders = 0x4
	FlagPadded     = 0x8
	FlagPriority   = 0x20
)

// FrameHeaderLen is the fixed 9-byte HTTP/2 frame header size.
const FrameHeaderLen = 9

// MaxFrameSize is the default SETTINGS_MAX_FRAME_SIZE this server
// assumes for its own outgoing DATA frame chunking.
const MaxFrameSize = 16384

// FrameHeader is a parsed 9-byte HTTP/2 frame header.
type FrameHeader struct {
	Length   uint32 // 24 bits
	Type     byte
	Flags    byte
	StreamID uint32 // 31 bits
}

// BuildFrame serializes a complete frame: 9-byte header plus payload.
func BuildFrame(out []byte, frameType, flags byte, streamID uint32, payload []byte) []byte {
	length := uint32(len(payload))
	var header [FrameHeaderLen]byte
	header[0] = byte(length >> 16)
	header[1] = byte(length >> 8)
	header[2] = byte(length)
	header[3] = frameType
	header[4] = flags
	binary.BigEndian.PutUint32(header[5:9], streamID&0x7FFFFFFF)

	out = append(out, header[:]...)
	out = append(out, payload...)
	return out
}

// ParseFrameHeader decodes the 9-byte header at the front of buf. The
// caller must ensure len(buf) >= FrameHeaderLen.
func ParseFrameHeader(buf []byte) FrameHeader {
	length := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	streamID := binary.BigEndian.Uint32(buf[5:9]) & 0x7FFFFFFF
	return FrameHeader{
		Length:   length,
		Type:     buf[3],
		Flags:    buf[4],
		StreamID: streamID,
	}
}

// ReadFrame attempts to parse one complete frame (header + payload)
// from the front of buf. It reports the frame, its total byte length
// (header+payload, for the caller to consume from its read buffer), and
// whether a complete frame was available.
func ReadFrame(buf []byte) (header FrameHeader, payload []byte, total int, ok bool) {
	if len(buf) < FrameHeaderLen {
		return FrameHeader{}, nil, 0, false
	}
	header = ParseFrameHeader(buf)
	total = FrameHeaderLen + int(header.Length)
	if len(buf) < total {
		return FrameHeader{}, nil, 0, false
	}
	return header, buf[FrameHeaderLen:total], total, true
}

// BuildServerSettings builds the server's initial SETTINGS frame:
// SETTINGS_MAX_CONCURRENT_STREAMS=100, SETTINGS_INITIAL_WINDOW_SIZE=16MiB.
// These two values are sent as-is, unreconciled with the separate 64MiB
// connection-level WINDOW_UPDATE this server also sends at handshake —
// the original does the same; see DESIGN.md Open Question 1.
func BuildServerSettings() []byte {
	payload := make([]byte, 0, 12)
	payload = appendSetting(payload, 0x3, 100)
	payload = appendSetting(payload, 0x4, 16*1024*1024)
	return BuildFrame(nil, TypeSettings, 0, 0, payload)
}

func appendSetting(out []byte, id uint16, value uint32) []byte {
	var buf [6]byte
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint32(buf[2:6], value)
	return append(out, buf[:]...)
}

// BuildSettingsAck builds an empty SETTINGS frame with the ACK flag set.
func BuildSettingsAck() []byte {
	return BuildFrame(nil, TypeSettings, FlagAck, 0, nil)
}

// BuildWindowUpdate builds a WINDOW_UPDATE frame for the given stream
// (streamID 0 means connection-level).
func BuildWindowUpdate(streamID, increment uint32) []byte {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], increment&0x7FFFFFFF)
	return BuildFrame(nil, TypeWindowUpdate, 0, streamID, payload[:])
}

// StreamUploadWindowBoost is the per-stream and connection window
// increment sent when an upload stream is accepted, matching
// api_handler/incoming_data.c++'s 32MiB boost.
const StreamUploadWindowBoost = 32 * 1024 * 1024

// ConnectionWindowBoost is the connection-level window increment sent
// once at connection setup, matching http2_listener/handle_io_.c++.
const ConnectionWindowBoost = 64 * 1024 * 1024

// ParseSettings decodes a SETTINGS frame payload into id->value pairs.
// Malformed (non-multiple-of-6) trailing bytes are ignored, per
// RFC 7540 §6.5 treating such frames as a connection error elsewhere;
// this server only needs to read SETTINGS_HEADER_TABLE_SIZE from peers.
func ParseSettings(payload []byte) map[uint16]uint32 {
	out := map[uint16]uint32{}
	for i := 0; i+6 <= len(payload); i += 6 {
		id := binary.BigEndian.Uint16(payload[i : i+2])
		val := binary.BigEndian.Uint32(payload[i+2 : i+6])
		out[id] = val
	}
	return out
}

// SettingHeaderTableSize is the SETTINGS parameter id for
// SETTINGS_HEADER_TABLE_SIZE (RFC 7540 §6.5.2).
const SettingHeaderTableSize = 0x1

// ResponseHeaders is everything needed to build a response HEADERS
// frame plus its following DATA frame(s).
type ResponseHeaders struct {
	Status      int
	ContentType string
	Extra       []hpack.Header
}

// BuildResponseFrames builds a HEADERS frame (END_HEADERS set) followed
// by one or more DATA frames chunked at MaxFrameSize, the last (or the
// sole, if body is empty) carrying END_STREAM. Matches
// build_response_frames_with_headers.c++ field-for-field.
func BuildResponseFrames(out []byte, streamID uint32, r ResponseHeaders, body []byte) []byte {
	headerBlock := hpack.EncodeResponseHeaders(r.Status, r.ContentType, r.Extra)
	out = BuildFrame(out, TypeHeaders, FlagEndHeaders, streamID, headerBlock)

	if len(body) == 0 {
		return BuildFrame(out, TypeData, FlagEndStream, streamID, nil)
	}

	offset := 0
	for offset < len(body) {
		end := offset + MaxFrameSize
		if end > len(body) {
			end = len(body)
		}
		var flags byte
		if end >= len(body) {
			flags = FlagEndStream
		}
		out = BuildFrame(out, TypeData, flags, streamID, body[offset:end])
		offset = end
	}
	return out
}

// StripHeadersPadding removes HEADERS-frame padding and priority fields
// per RFC 7540 §6.2, returning the header block fragment. streamID must
// not be 0 for priority-dependent stream ids, but that value is unused
// here; only the pad length and the fixed 5-byte priority block are
// stripped.
func StripHeadersPadding(flags byte, payload []byte) ([]byte, error) {
	pos := 0
	if flags&FlagPadded != 0 {
		if len(payload) < 1 {
			return nil, fmt.Errorf("http2codec: padded HEADERS frame too short")
		}
		padLen := int(payload[0])
		pos = 1
		if pos+padLen > len(payload) {
			return nil, fmt.Errorf("http2codec: pad length exceeds frame payload")
		}
		payload = payload[:len(payload)-padLen]
	}
	if flags&FlagPriority != 0 {
		if len(payload) < pos+5 {
			return nil, fmt.Errorf("http2codec: PRIORITY flag set but frame too short")
		}
		pos += 5
	}
	if pos > len(payload) {
		return nil, fmt.Errorf("http2codec: malformed HEADERS frame")
	}
	return payload[pos:], nil
}
