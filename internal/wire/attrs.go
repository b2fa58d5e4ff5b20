package wire

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/peertree/msgtree/payload"
)

// CompressAttributes zlib-compresses attrs' CBOR encoding for a
// PeerState's Attrs field, per spec.md section 4.4's heartbeat packet
// carrying "zlib-compressed attributes". A nil attrs yields a nil result.
func CompressAttributes(attrs *payload.Payload) ([]byte, error) {
	if attrs == nil {
		return nil, nil
	}
	encoded, err := attrs.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(encoded); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressAttributes reverses CompressAttributes. Empty input yields a
// nil payload rather than an error.
func DecompressAttributes(compressed []byte) (*payload.Payload, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	encoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	p := payload.Empty
	if err := p.UnmarshalCBOR(encoded); err != nil {
		return nil, err
	}
	return &p, nil
}
