package hpack

import (
	"fmt"

	"golang.org/x/net/http2/hpack"
)

// Field is one decoded header field.
type Field struct {
	Name  string
	Value string
}

// Decoder decodes HEADERS(+CONTINUATION) header blocks.
// Unlike the encoder in encode.go, decoding must handle the full grammar a
// real client can send — indexed fields, incremental indexing, Huffman
// strings — so this defers to golang.org/x/net/http2/hpack.Decoder
// rather than reimplementing RFC 7541 in full. One Decoder per
// connection preserves the dynamic table across requests, per RFC 7541
// §2.3.2; callers keep it alive for the connection's lifetime.
type Decoder struct {
	d *hpack.Decoder
}

// NewDecoder wraps a fresh hpack.Decoder with a 4096-byte dynamic table,
// the HTTP/2 default (RFC 7541 §4.2 / RFC 7540 §6.5.2).
func NewDecoder() *Decoder {
	return &Decoder{d: hpack.NewDecoder(4096, nil)}
}

// DecodeFragment feeds one HEADERS or CONTINUATION frame's payload into
// the decoder and returns any fields it completed. Fields may span
// multiple calls when a header block is split across CONTINUATION
// frames; callers should accumulate across calls until END_HEADERS.
func (d *Decoder) DecodeFragment(payload []byte) ([]Field, error) {
	var fields []Field
	d.d.SetEmitFunc(func(f hpack.HeaderField) {
		fields = append(fields, Field{Name: f.Name, Value: f.Value})
	})
	if _, err := d.d.Write(payload); err != nil {
		return nil, fmt.Errorf("hpack: decode fragment: %w", err)
	}
	return fields, nil
}

// SetMaxDynamicTableSize applies a SETTINGS_HEADER_TABLE_SIZE update
// from the peer (RFC 7541 §4.2).
func (d *Decoder) SetMaxDynamicTableSize(size uint32) {
	d.d.SetMaxDynamicTableSize(size)
}
