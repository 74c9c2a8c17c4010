package hpack

import (
	"bytes"
	"testing"
)

func TestEncodeIntegerSmallFitsInPrefix(t *testing.T) {
	out := EncodeInteger(nil, 10, 5, 0x00)
	if !bytes.Equal(out, []byte{10}) {
		t.Errorf("got %v, want [10]", out)
	}
}

func TestEncodeIntegerOverflowsPrefix(t *testing.T) {
	// RFC 7541 §5.1 worked example: 1337 encoded with a 5-bit prefix.
	out := EncodeInteger(nil, 1337, 5, 0x00)
	want := []byte{0x1F, 0x9A, 0x0A}
	if !bytes.Equal(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestEncodeString(t *testing.T) {
	out := EncodeString(nil, "ok")
	want := []byte{0x02, 'o', 'k'}
	if !bytes.Equal(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestEncodeStatusIndexedCodes(t *testing.T) {
	if out := EncodeStatus(nil, 200); !bytes.Equal(out, []byte{0x88}) {
		t.Errorf("200: got %v", out)
	}
	if out := EncodeStatus(nil, 404); !bytes.Equal(out, []byte{0x8D}) {
		t.Errorf("404: got %v", out)
	}
	if out := EncodeStatus(nil, 500); !bytes.Equal(out, []byte{0x8E}) {
		t.Errorf("500: got %v", out)
	}
}

func TestEncodeStatusLiteralFallback(t *testing.T) {
	out := EncodeStatus(nil, 413)
	want := []byte{0x00 | 8, 0x03, '4', '1', '3'}
	if !bytes.Equal(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestEncodeResponseHeadersOrder(t *testing.T) {
	out := EncodeResponseHeaders(200, "text/html", []Header{{Name: "x-foo", Value: "bar"}})
	var want []byte
	want = append(want, 0x88)
	want = EncodeLiteralNoIndexNameRef(want, 31, "text/html")
	want = EncodeLiteralNoIndexLiteralName(want, "x-foo", "bar")
	if !bytes.Equal(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	// Build a block with the encoder's literal-name/literal-value path
	// (safe to decode even without indexing support enabled) and check
	// the generic hpack.Decoder parses it back out.
	var block []byte
	block = EncodeLiteralNoIndexLiteralName(block, "x-test", "value1")

	dec := NewDecoder()
	fields, err := dec.DecodeFragment(block)
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if len(fields) != 1 || fields[0].Name != "x-test" || fields[0].Value != "value1" {
		t.Fatalf("got %+v", fields)
	}
}
