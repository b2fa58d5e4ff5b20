// Package discovery implements the fire-and-forget system advertisement:
// no round trip of any kind, just a periodic "system X is running, reach
// it at addr" multicast that passive listeners collect into a directory.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/peertree/msgtree/internal/transport"
	"github.com/peertree/msgtree/internal/wire"
)

// Advertiser periodically multicasts a Discovery packet for one running
// system.
type Advertiser struct {
	SystemName string
	Sender     wire.PeerID
	ReplyAddr  string
	Multicast  transport.Multicast
	Interval   time.Duration
	// PeerCounts reports the sender's current view of FULL/JUNIOR peer
	// counts, per spec.md section 4.5; may be nil, in which case both
	// counts advertise as zero.
	PeerCounts func() (full, junior int)
}

// Run blocks, advertising every Interval until ctx is cancelled.
func (a *Advertiser) Run(ctx context.Context) error {
	if a.Interval <= 0 {
		a.Interval = time.Second
	}
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()
	for {
		var full, junior int
		if a.PeerCounts != nil {
			full, junior = a.PeerCounts()
		}
		_ = a.Multicast.SendDiscovery(wire.Discovery{
			SystemName:  a.SystemName,
			Sender:      a.Sender,
			ReplyAddr:   a.ReplyAddr,
			FullPeers:   full,
			JuniorPeers: junior,
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Listing is one entry of a Directory: one peer's latest advertisement of
// a running system. A system with several advertising peers has one
// Listing per peer.
type Listing struct {
	SystemName  string
	Sender      wire.PeerID
	ReplyAddr   string
	FullPeers   int
	JuniorPeers int
	LastSeen    time.Time
}

// Directory passively collects Discovery advertisements into a list of
// currently-running systems, aging out entries that stop advertising.
type Directory struct {
	mu      sync.Mutex
	entries map[wire.PeerID]Listing
	ttl     time.Duration
}

// NewDirectory returns a Directory that forgets a peer's advertisement
// after ttl without a refresh.
func NewDirectory(ttl time.Duration) *Directory {
	return &Directory{entries: make(map[wire.PeerID]Listing), ttl: ttl}
}

// Listen blocks, consuming discoveries from mc until ctx is cancelled.
func (d *Directory) Listen(ctx context.Context, mc transport.Multicast) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mc.Discoveries():
			d.mu.Lock()
			d.entries[msg.Sender] = Listing{
				SystemName:  msg.SystemName,
				Sender:      msg.Sender,
				ReplyAddr:   msg.ReplyAddr,
				FullPeers:   msg.FullPeers,
				JuniorPeers: msg.JuniorPeers,
				LastSeen:    time.Now(),
			}
			d.mu.Unlock()
		}
	}
}

// Systems returns every currently-live listing, oldest advertisements
// (beyond ttl) excluded.
func (d *Directory) Systems() []Listing {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Listing, 0, len(d.entries))
	now := time.Now()
	for id, l := range d.entries {
		if d.ttl > 0 && now.Sub(l.LastSeen) > d.ttl {
			delete(d.entries, id)
			continue
		}
		out = append(out, l)
	}
	return out
}
