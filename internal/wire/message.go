// Package wire defines the CBOR-encoded messages peers exchange over the
// replication transport, plus the heartbeat, beacon, and discovery packets
// carried over multicast. Field tags are kept short (pth, pay, flg, ...)
// in the manner of original_source's Message field codes, to keep the
// wire format compact.
package wire

import (
	"github.com/fxamacker/cbor/v2"
)

// Opcode identifies the shape of a Submessage's body, built the way
// original_source builds its four-character type codes.
type Opcode uint32

const (
	OpNoop               Opcode = 'n'<<24 | 'o'<<16 | 'o'<<8 | 'p'
	OpUpdateNodeValue    Opcode = 'u'<<24 | 'p'<<16 | 'n'<<8 | 'v'
	OpUpdateSubtree      Opcode = 'u'<<24 | 'p'<<16 | 's'<<8 | 't'
	OpInsertIndexEntry   Opcode = 'i'<<24 | 'n'<<16 | 's'<<8 | 'x'
	OpRemoveIndexEntry   Opcode = 'r'<<24 | 'm'<<16 | 'v'<<8 | 'x'
	OpMoveIndexEntry     Opcode = 'm'<<24 | 'v'<<16 | 'x'<<8 | 'e'
	OpRequestDeleteNodes Opcode = 'r'<<24 | 'm'<<16 | 'n'<<8 | 'd'
	OpRequestUndo        Opcode = 'u'<<24 | 'n'<<16 | 'd'<<8 | 'o'
	OpRequestRedo        Opcode = 'r'<<24 | 'e'<<16 | 'd'<<8 | 'o'
	// OpClearIndex empties a node's index in one call, resolving
	// spec.md section 9's INDEX_OP_CLEARED Open Question: the checksum
	// delta is -Σ key.checksum, realized by replaying it as one
	// OpRemoveIndexEntry per cleared key rather than as its own wire
	// primitive, so a junior never needs special-case checksum logic.
	OpClearIndex Opcode = 'c'<<24 | 'l'<<16 | 'r'<<8 | 'x'
)

// Flags mirrors the SetDataNodeFlags bitset a client sets on a request; it
// rides along on the wire only on the client->senior leg, never inside an
// assembled junior batch (see Submessage's doc comment).
type Flags uint8

const (
	FlagAddToIndex Flags = 1 << iota
	FlagNoReply
	FlagQuiet
)

// Submessage is one primitive operation inside a Batch. Which fields are
// meaningful depends on Op:
//
//   - OpUpdateNodeValue: Path, Payload, Flags (AddToIndex/NoReply/Quiet are
//     request-side only; an assembled junior batch never sets them --
//     index maintenance always travels as its own Insert/RemoveIndexEntry
//     submessage, per original_source's SeniorRecordNodeUpdateMessage).
//   - OpUpdateSubtree: Path, Payload (applied to every matching node).
//   - OpInsertIndexEntry / OpRemoveIndexEntry: Path (the indexed parent),
//     Index, Key.
//   - OpMoveIndexEntry: Path, Before, FilterPattern.
//   - OpRequestDeleteNodes: Path, FilterPattern.
//   - OpRequestUndo / OpRequestRedo: no fields used.
type Submessage struct {
	Op            Opcode `cbor:"op"`
	Path          string `cbor:"pth,omitempty"`
	Payload       []byte `cbor:"pay,omitempty"`
	Flags         Flags  `cbor:"flg,omitempty"`
	Before        string `cbor:"be4,omitempty"`
	FilterPattern string `cbor:"fil,omitempty"`
	Index         int    `cbor:"idx,omitempty"`
	Key           string `cbor:"key,omitempty"`
}

// Batch groups every Submessage one client request produced, so they apply as a single indivisible unit
// on every junior.
type Batch struct {
	Submessages []Submessage `cbor:"sub"`
}

// Envelope is the unit exchanged over the replication transport: one
// database's batch, tagged with the database's index within the peer and
// a strictly increasing per-database sequence number juniors use to
// detect gaps and request a catch-up.
type Envelope struct {
	DatabaseIndex int    `cbor:"dbi"`
	Sequence      uint64 `cbor:"seq"`
	Batch         Batch  `cbor:"btc"`
}

// Marshal encodes v as CBOR.
func Marshal(v interface{}) ([]byte, error) { return cbor.Marshal(v) }

// Unmarshal decodes CBOR into v.
func Unmarshal(data []byte, v interface{}) error { return cbor.Unmarshal(data, v) }
