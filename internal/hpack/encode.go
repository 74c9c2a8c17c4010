// Package hpack implements the narrow slice of RFC 7541 this server
// needs: encoding response header blocks (no Huffman, no dynamic table —
// every field is emitted as a literal or a static-table index) and
// decoding request header blocks via golang.org/x/net/http2/hpack,
// which already implements the full decode side including the dynamic
// table and Huffman.
//
// Grounded on http2_listener/helper/{encode_integer,encode_literal_header_no_index,
// build_response_frames}.c++ and spin/http2_listener/helper/encode_string.c++.
package hpack

import "strconv"

// EncodeInteger appends value using HPACK's integer representation (RFC
// 7541 §5.1) with the given prefix width and already-shifted first-byte
// flag bits (e.g. 0x00 for a literal-without-indexing name index, 0x80
// for an indexed field).
func EncodeInteger(out []byte, value uint32, prefixBits, firstByteFlags byte) []byte {
	maxPrefix := uint32(1)<<prefixBits - 1
	if value < maxPrefix {
		return append(out, firstByteFlags|byte(value))
	}

	out = append(out, firstByteFlags|byte(maxPrefix))
	value -= maxPrefix
	for value >= 128 {
		out = append(out, byte(value&0x7F)|0x80)
		value >>= 7
	}
	return append(out, byte(value))
}

// EncodeString appends an HPACK string literal with the Huffman bit
// (H) unset — this server never Huffman-encodes outgoing header values.
func EncodeString(out []byte, s string) []byte {
	out = EncodeInteger(out, uint32(len(s)), 7, 0x00)
	return append(out, s...)
}

// EncodeLiteralNoIndexNameRef appends a literal header field without
// indexing whose name is a static-table reference (RFC 7541 §6.2.2) and
// whose value is a plain string literal.
func EncodeLiteralNoIndexNameRef(out []byte, nameIndex uint32, value string) []byte {
	out = EncodeInteger(out, nameIndex, 4, 0x00)
	return EncodeString(out, value)
}

// EncodeLiteralNoIndexLiteralName appends a literal header field without
// indexing whose name AND value are both plain string literals (the
// 0x00 prefix byte with a zero name index region per RFC 7541 §6.2.2).
func EncodeLiteralNoIndexLiteralName(out []byte, name, value string) []byte {
	out = append(out, 0x00)
	out = EncodeString(out, name)
	return EncodeString(out, value)
}

// Static table indices used by this server's response encoder, per
// RFC 7541 Appendix A.
const (
	staticIndexStatus      = 8  // ":status: 200"
	staticIndexContentType = 31 // "content-type:"
)

// Indexed representations for the three status codes this server ever
// sends as a fully-indexed field (RFC 7541 §6.1, high bit set).
const (
	IndexedStatus200 = 0x88
	IndexedStatus404 = 0x8D
	IndexedStatus500 = 0x8E
)

// EncodeStatus appends the :status pseudo-header, using a fully indexed
// byte for 200/404/500 and a literal-with-name-reference otherwise.
func EncodeStatus(out []byte, status int) []byte {
	switch status {
	case 200:
		return append(out, IndexedStatus200)
	case 404:
		return append(out, IndexedStatus404)
	case 500:
		return append(out, IndexedStatus500)
	default:
		return EncodeLiteralNoIndexNameRef(out, staticIndexStatus, strconv.Itoa(status))
	}
}

// EncodeContentType appends the content-type header as a literal value
// against the static table's content-type name slot.
func EncodeContentType(out []byte, contentType string) []byte {
	return EncodeLiteralNoIndexNameRef(out, staticIndexContentType, contentType)
}

// Header is a single extra response header beyond :status/content-type.
type Header struct {
	Name  string
	Value string
}

// EncodeResponseHeaders builds a complete HEADERS frame payload: :status,
// content-type, then each extra header as literal-name/literal-value,
// matching build_response_frames_with_headers.c++'s field order exactly.
func EncodeResponseHeaders(status int, contentType string, extra []Header) []byte {
	var out []byte
	out = EncodeStatus(out, status)
	out = EncodeContentType(out, contentType)
	for _, h := range extra {
		out = EncodeLiteralNoIndexLiteralName(out, h.Name, h.Value)
	}
	return out
}
