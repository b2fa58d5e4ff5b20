package msgtree

import (
	"time"

	"go.uber.org/zap"

	"github.com/peertree/msgtree/internal/peer"
	"github.com/peertree/msgtree/payload"
)

// Option mutates a set of options under construction.
type Option func(*options)

type options struct {
	numDatabases  int
	databaseRoots []string
	peerSettings  []peer.Option
	streamAddr    string
	logger        *zap.Logger
}

func newOptions(systemName string, streamAddr string, opts ...Option) *options {
	o := &options{numDatabases: 1, streamAddr: streamAddr}
	for _, opt := range opts {
		opt(o)
	}
	mergeDefaultOptions(o)
	return o
}

func mergeDefaultOptions(o *options) {
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.numDatabases <= 0 {
		o.numDatabases = 1
	}
}

// WithDatabases sets how many independently replicated subtrees Open
// creates, indexed "0".."n-1".
func WithDatabases(n int) Option { return func(o *options) { o.numDatabases = n } }

// WithLogger sets the zap logger every component logs through. Defaults
// to a no-op logger.
func WithLogger(logger *zap.Logger) Option { return func(o *options) { o.logger = logger } }

// WithMulticastAddr overrides the default multicast group address.
func WithMulticastAddr(addr string) Option {
	return func(o *options) { o.peerSettings = append(o.peerSettings, peer.WithMulticastAddr(addr)) }
}

// WithHeartbeatsPerSecond overrides the default heartbeat rate.
func WithHeartbeatsPerSecond(n int) Option {
	return func(o *options) { o.peerSettings = append(o.peerSettings, peer.WithHeartbeatsPerSecond(n)) }
}

// JuniorOnly marks the opened peer as never eligible for senior election.
func JuniorOnly() Option {
	return func(o *options) { o.peerSettings = append(o.peerSettings, peer.JuniorOnly()) }
}

// WithChecksumVerifyInterval overrides how often a junior compares its
// databases' checksums against the senior's.
func WithChecksumVerifyInterval(d time.Duration) Option {
	return func(o *options) { o.peerSettings = append(o.peerSettings, peer.WithChecksumVerifyInterval(d)) }
}

// WithChecksumEveryKBeacons overrides how many beacon ticks pass between
// ones that carry a per-database checksum triple. Defaults to
// beaconsPerSecond, per spec.md section 4.4.
func WithChecksumEveryKBeacons(k int) Option {
	return func(o *options) { o.peerSettings = append(o.peerSettings, peer.WithChecksumEveryKBeacons(k)) }
}

// WithAttributes sets the small opaque payload this peer gossips in every
// heartbeat (spec.md section 3's Peer.attributes).
func WithAttributes(fields map[string][]byte) Option {
	return func(o *options) {
		p := payload.New(fields)
		o.peerSettings = append(o.peerSettings, peer.WithAttributes(&p))
	}
}

// WithDatabaseRoots sets each database's session-relative root path
// explicitly, instead of the decimal "0".."N-1" WithDatabases gives them --
// needed to address a database several segments deep, e.g. "dbs/db_0",
// per spec.md section 4.3's subpath routing. Overrides WithDatabases.
func WithDatabaseRoots(roots []string) Option {
	return func(o *options) { o.databaseRoots = roots }
}
