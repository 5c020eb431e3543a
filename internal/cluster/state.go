package cluster

// State classifies the observed operational state of the Kind cluster.
//
// It is derived on every query from two independent signals: membership in the
// lifecycle tool's cluster registry, and reachability of the control plane. No
// cached state is trusted; StateError is never terminal and the next query
// re-evaluates from scratch.
type State string

const (
	// StateNotRunning means the cluster does not appear in the registry.
	StateNotRunning State = "not_running"

	// StateInitializing means the cluster is registered but its control plane
	// is not serving yet. This is an expected transient state during the
	// minutes-long bring-up window, not an error.
	StateInitializing State = "initializing"

	// StateRunning means the cluster is registered and its control plane
	// answers the readiness probe.
	StateRunning State = "running"

	// StateError means the lifecycle tooling itself is unusable (command
	// failed to run or exited non-zero on the registry query).
	StateError State = "error"
)

// String returns the wire representation of the state.
func (s State) String() string {
	return string(s)
}
