package domain

// RunMode is the process-wide role, fixed at startup from topology detection
// plus configuration, and switchable at runtime (which rebuilds the dispatch
// subsystem).
type RunMode string

const (
	// Standalone processes classify and broadcast locally with no peers.
	Standalone RunMode = "standalone"
	// Authority owns the ledger and all broadcast decisions (proxy tier).
	Authority RunMode = "authority"
	// Follower suppresses local default notifications and relays events to
	// the authority; it never broadcasts and never touches the ledger.
	Follower RunMode = "follower"
)

// Valid reports whether m is one of the three defined modes.
func (m RunMode) Valid() bool {
	switch m {
	case Standalone, Authority, Follower:
		return true
	}
	return false
}

// Broadcasts reports whether this mode sends custom messages itself.
func (m RunMode) Broadcasts() bool {
	return m == Standalone || m == Authority
}

// OwnsLedger reports whether this mode may read or mutate the player ledger.
func (m RunMode) OwnsLedger() bool {
	return m == Standalone || m == Authority
}

// Relays reports whether this mode forwards events over the sideband.
func (m RunMode) Relays() bool {
	return m == Follower
}

// ReceivesRelays reports whether this mode listens on the sideband.
func (m RunMode) ReceivesRelays() bool {
	return m == Authority
}
