package wire

import (
	"encoding/hex"
	"net"
)

// PeerID identifies a peer process for the lifetime of that process: a
// local network hardware address plus a random nonce, so that two
// processes started back-to-back on the same host never collide (mirrors
// original_source's ZGPeerID).
type PeerID struct {
	MAC   [6]byte `cbor:"mac"`
	Nonce uint64  `cbor:"non"`
}

// String renders the ID as mac/nonce in hex, for logging.
func (id PeerID) String() string {
	return hex.EncodeToString(id.MAC[:]) + "/" + hex.EncodeToString(uint64ToBytes(id.Nonce))
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// IsZero reports whether id is the zero PeerID (no election has happened
// yet, or a peer hasn't learned its own MAC).
func (id PeerID) IsZero() bool {
	return id.MAC == [6]byte{} && id.Nonce == 0
}

// Less orders PeerIDs lexicographically on (MAC, Nonce); the lowest ID
// among attached FULL peers is senior, per spec.md section 6.
func (id PeerID) Less(other PeerID) bool {
	for i := range id.MAC {
		if id.MAC[i] != other.MAC[i] {
			return id.MAC[i] < other.MAC[i]
		}
	}
	return id.Nonce < other.Nonce
}

// LocalMAC returns the hardware address of the first non-loopback network
// interface found, or the zero address if none is available (e.g. inside
// a sandboxed container).
func LocalMAC() [6]byte {
	ifaces, err := net.Interfaces()
	if err != nil {
		return [6]byte{}
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 6 && iface.Flags&net.FlagLoopback == 0 {
			var mac [6]byte
			copy(mac[:], iface.HardwareAddr)
			return mac
		}
	}
	return [6]byte{}
}
