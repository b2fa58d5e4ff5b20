// Package peer holds a peer's identity and tunables, and the small state
// machine (startup/attached/offline) that the replication package drives;
// seniority is tracked separately by the replication package. It is grounded on original_source's ZGPeerSettings and on this
// repo's own options.go for the functional-option style.
package peer

import (
	"time"

	"github.com/google/uuid"

	"github.com/peertree/msgtree/internal/wire"
	"github.com/peertree/msgtree/payload"
)

// Settings are the tunables from original_source's ZGPeerSettings.h,
// carried over with the same defaults.
type Settings struct {
	// SystemName names the system this peer belongs to. Heartbeats do not
	// carry it: peers that share MulticastAddr track and replicate with
	// each other whatever their SystemName.
	SystemName string

	HeartbeatsPerSecond          int
	HeartbeatsBeforeFullyAttached int
	MaxMissingHeartbeats         int
	BeaconsPerSecond             int
	// ChecksumEveryKBeacons is how many beacon ticks pass between ones
	// that carry a checksum triple per database, per spec.md section
	// 4.4. Zero means "use BeaconsPerSecond", the spec's stated default.
	ChecksumEveryKBeacons int
	MaxUpdateLogSizeBytes int64
	ChecksumVerifyInterval time.Duration

	MulticastAddr string
	Type          wire.PeerType

	// Attributes is this peer's optional small payload, gossiped in every
	// heartbeat's PeerState entry (spec.md section 3). May be nil.
	Attributes *payload.Payload
}

// Option mutates a Settings under construction.
type Option func(*Settings)

// New builds Settings for systemName, applying opts over the defaults.
func New(systemName string, opts ...Option) Settings {
	s := defaultSettings()
	s.SystemName = systemName
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func defaultSettings() Settings {
	return Settings{
		HeartbeatsPerSecond:           6,
		HeartbeatsBeforeFullyAttached: 4,
		MaxMissingHeartbeats:          4,
		BeaconsPerSecond:              4,
		MaxUpdateLogSizeBytes:         2 * 1024 * 1024,
		ChecksumVerifyInterval:        30 * time.Second,
		MulticastAddr:                 "239.255.0.1:8765",
		Type:                          wire.PeerFull,
	}
}

// |||| TIMING ||||

func (s Settings) HeartbeatInterval() time.Duration {
	return time.Second / time.Duration(s.HeartbeatsPerSecond)
}

func (s Settings) BeaconInterval() time.Duration {
	return time.Second / time.Duration(s.BeaconsPerSecond)
}

func (s Settings) MaxMissingHeartbeatInterval() time.Duration {
	return s.HeartbeatInterval() * time.Duration(s.MaxMissingHeartbeats)
}

// |||| OPTIONS ||||

func WithMulticastAddr(addr string) Option { return func(s *Settings) { s.MulticastAddr = addr } }

func WithHeartbeatsPerSecond(n int) Option { return func(s *Settings) { s.HeartbeatsPerSecond = n } }

func WithMaxUpdateLogSizeBytes(n int64) Option {
	return func(s *Settings) { s.MaxUpdateLogSizeBytes = n }
}

func WithChecksumVerifyInterval(d time.Duration) Option {
	return func(s *Settings) { s.ChecksumVerifyInterval = d }
}

func WithChecksumEveryKBeacons(k int) Option {
	return func(s *Settings) { s.ChecksumEveryKBeacons = k }
}

// WithAttributes sets the small payload this peer gossips in every
// heartbeat.
func WithAttributes(attrs *payload.Payload) Option {
	return func(s *Settings) { s.Attributes = attrs }
}

func JuniorOnly() Option { return func(s *Settings) { s.Type = wire.PeerJuniorOnly } }

// NewPeerID mints a fresh process identity: the host's MAC plus a random
// nonce, so that restarting this process never reuses a stale ID.
func NewPeerID() wire.PeerID {
	u := uuid.New()
	var nonce uint64
	for _, b := range u[:8] {
		nonce = nonce<<8 | uint64(b)
	}
	return wire.PeerID{
		MAC:   wire.LocalMAC(),
		Nonce: nonce,
	}
}
