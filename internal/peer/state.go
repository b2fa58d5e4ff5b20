package peer

// Phase is a peer's position in the attach/elect lifecycle.
type Phase int

const (
	// PhaseStartup is before a peer has sent heartbeatsBeforeFullyAttached
	// heartbeats of its own in its current generation.
	PhaseStartup Phase = iota
	// PhaseAttached means the peer has a consistent view of membership and
	// is replicating normally, as either senior or junior.
	PhaseAttached
	// PhaseOffline means the peer has gone more than maxMissingHeartbeats of
	// its own heartbeat ticks without hearing any heartbeat from the group,
	// and has stopped trusting its own membership view.
	PhaseOffline
)

func (p Phase) String() string {
	switch p {
	case PhaseStartup:
		return "startup"
	case PhaseAttached:
		return "attached"
	case PhaseOffline:
		return "offline"
	default:
		return "unknown"
	}
}
