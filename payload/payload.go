// Package payload implements the opaque, byte-flattenable key/value
// dictionary that every DataNode may carry. It is intentionally dumb about
// what the values mean -- the tree database only ever needs to store it,
// replicate it, and checksum it.
package payload

import (
	"hash/crc32"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Payload is an immutable key/value dictionary. Mutating methods return a
// copy, so a Payload can be shared freely between nodes and across goroutine
// boundaries without locking.
type Payload struct {
	fields map[string][]byte
}

// Empty is the zero-value Payload (no fields).
var Empty = Payload{}

// New returns a Payload containing the given fields. The map is copied.
func New(fields map[string][]byte) Payload {
	if len(fields) == 0 {
		return Empty
	}
	cp := make(map[string][]byte, len(fields))
	for k, v := range fields {
		cp[k] = append([]byte(nil), v...)
	}
	return Payload{fields: cp}
}

// IsZero reports whether the Payload carries no fields, i.e. it is the
// "absent" payload a DataNode may have for purely interior nodes.
func (p Payload) IsZero() bool { return len(p.fields) == 0 }

// Get returns the value stored at key.
func (p Payload) Get(key string) ([]byte, bool) {
	v, ok := p.fields[key]
	return v, ok
}

// Set returns a copy of p with key set to value.
func (p Payload) Set(key string, value []byte) Payload {
	cp := make(map[string][]byte, len(p.fields)+1)
	for k, v := range p.fields {
		cp[k] = v
	}
	cp[key] = append([]byte(nil), value...)
	return Payload{fields: cp}
}

// Delete returns a copy of p with key removed.
func (p Payload) Delete(key string) Payload {
	if _, ok := p.fields[key]; !ok {
		return p
	}
	cp := make(map[string][]byte, len(p.fields))
	for k, v := range p.fields {
		if k != key {
			cp[k] = v
		}
	}
	return Payload{fields: cp}
}

// Keys returns the sorted set of field names. Sorted so that Checksum and
// the wire encoding are deterministic regardless of Go's randomized map
// iteration order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p.fields))
	for k := range p.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Checksum returns a stable 32-bit checksum of the payload's contents.
// Matches the "opaque byte-flattenable ... with a stable checksum" contract
// of spec.md section 3: flatten key/value pairs in sorted order and run them
// through CRC-32 (IEEE), the same width the original's CalculateChecksum()
// returns.
func (p Payload) Checksum() uint32 {
	if len(p.fields) == 0 {
		return 0
	}
	h := crc32.NewIEEE()
	for _, k := range p.Keys() {
		_, _ = h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(p.fields[k])
		h.Write([]byte{0})
	}
	return h.Sum32()
}

// StringChecksum returns the checksum of a bare string, used for index-key
// checksums (spec.md section 3's "index-key's checksum") which are not
// full Payloads but plain child names.
func StringChecksum(s string) uint32 {
	return crc32.ChecksumIEEE([]byte(s))
}

// MarshalCBOR implements cbor.Marshaler so a Payload can ride the wire as a
// plain map, preserving the "byte-serializable key/value dictionary"
// contract without exposing the internal struct shape.
func (p Payload) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(p.fields)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *Payload) UnmarshalCBOR(data []byte) error {
	var fields map[string][]byte
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.fields = fields
	return nil
}
