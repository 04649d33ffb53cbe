// Package connectivity tracks whether the device can reach the reporting
// server. Being attached to a network is not enough: a captive portal or a
// dead uplink leaves the device "connected" with no working internet, so
// reachability is probed separately and kept as a tri-state.
package connectivity

// Reachability is the probed internet reachability state
type Reachability int

const (
	// ReachabilityUnknown means the probe has not completed or gave an
	// ambiguous answer (e.g. a captive portal intercepted it)
	ReachabilityUnknown Reachability = iota

	// ReachabilityYes means the probe confirmed a working internet path
	ReachabilityYes

	// ReachabilityNo means the probe failed at the network level
	ReachabilityNo
)

// String returns a human-readable reachability label
func (r Reachability) String() string {
	switch r {
	case ReachabilityYes:
		return "yes"
	case ReachabilityNo:
		return "no"
	default:
		return "unknown"
	}
}

// State is a snapshot of device connectivity
type State struct {
	// Connected reports whether the device has any network attachment
	Connected bool

	// InternetReachable is the probed reachability. Only ReachabilityYes
	// makes the device sync-eligible; unknown is treated as offline.
	InternetReachable Reachability

	// Type names the transport when known ("wifi", "cellular", "unknown")
	Type string
}

// SyncEligible reports whether a sync may start under this state
func (s State) SyncEligible() bool {
	return s.Connected && s.InternetReachable == ReachabilityYes
}
