package transport

import (
	"net"

	"github.com/cockroachdb/errors"

	"github.com/peertree/msgtree/internal/errkind"
	"github.com/peertree/msgtree/internal/wire"
)

// maxDatagramSize is the largest packet this transport will send over
// multicast, per spec.md section 6's requirement that oversized heartbeat
// packets be rejected rather than silently fragmented by the OS. 1400
// bytes leaves headroom under the common 1500-byte Ethernet MTU once IP
// and UDP headers are accounted for.
const maxDatagramSize = 1400

// UDPMulticast implements Multicast over a single multicast group, the
// way original_source uses one UDP socket per ZGPeerSettings for
// heartbeats, beacons, and discovery alike, distinguishing the three by an
// envelope-less type tag on each datagram rather than separate sockets.
type UDPMulticast struct {
	conn        *net.UDPConn
	sendAddr    *net.UDPAddr
	heartbeats  chan wire.Heartbeat
	beacons     chan wire.Beacon
	discoveries chan wire.Discovery
	done        chan struct{}
}

const (
	tagHeartbeat byte = 1
	tagBeacon    byte = 2
	tagDiscovery byte = 3
)

// NewUDPMulticast joins the multicast group at addr (e.g. "239.255.0.1:8765")
// and starts a background reader goroutine feeding the three channels.
func NewUDPMulticast(addr string) (*UDPMulticast, error) {
	sendAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, sendAddr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadBuffer(1 << 20)

	m := &UDPMulticast{
		conn:        conn,
		sendAddr:    sendAddr,
		heartbeats:  make(chan wire.Heartbeat, 64),
		beacons:     make(chan wire.Beacon, 64),
		discoveries: make(chan wire.Discovery, 64),
		done:        make(chan struct{}),
	}
	go m.readLoop()
	return m, nil
}

func (m *UDPMulticast) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.done:
				return
			default:
				continue
			}
		}
		if n < 1 {
			continue
		}
		switch buf[0] {
		case tagHeartbeat:
			var hb wire.Heartbeat
			if wire.Unmarshal(buf[1:n], &hb) == nil {
				select {
				case m.heartbeats <- hb:
				default:
				}
			}
		case tagBeacon:
			var b wire.Beacon
			if wire.Unmarshal(buf[1:n], &b) == nil {
				select {
				case m.beacons <- b:
				default:
				}
			}
		case tagDiscovery:
			var d wire.Discovery
			if wire.Unmarshal(buf[1:n], &d) == nil {
				select {
				case m.discoveries <- d:
				default:
				}
			}
		}
	}
}

func (m *UDPMulticast) send(tag byte, v interface{}) error {
	body, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	if len(body)+1 > maxDatagramSize {
		return errors.Mark(errors.Newf("transport: packet of %d bytes exceeds the %d byte multicast limit", len(body)+1, maxDatagramSize), errkind.ErrBadArgument)
	}
	packet := append([]byte{tag}, body...)
	_, err = m.conn.WriteToUDP(packet, m.sendAddr)
	return err
}

func (m *UDPMulticast) SendHeartbeat(hb wire.Heartbeat) error { return m.send(tagHeartbeat, hb) }
func (m *UDPMulticast) SendBeacon(b wire.Beacon) error        { return m.send(tagBeacon, b) }
func (m *UDPMulticast) SendDiscovery(d wire.Discovery) error  { return m.send(tagDiscovery, d) }

func (m *UDPMulticast) Heartbeats() <-chan wire.Heartbeat   { return m.heartbeats }
func (m *UDPMulticast) Beacons() <-chan wire.Beacon         { return m.beacons }
func (m *UDPMulticast) Discoveries() <-chan wire.Discovery  { return m.discoveries }

func (m *UDPMulticast) Close() error {
	close(m.done)
	return m.conn.Close()
}
