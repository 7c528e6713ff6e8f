package domain

import "github.com/google/uuid"

// EventKind identifies where a connection event was observed.
type EventKind string

const (
	// NetworkJoin and NetworkLeave are observed directly by this process.
	NetworkJoin  EventKind = "network_join"
	NetworkLeave EventKind = "network_leave"
	// ServerSwitch is only ever observed at the authority; followers never
	// see inter-backend transitions.
	ServerSwitch EventKind = "server_switch"
	// RelayedJoin and RelayedLeave arrive at the authority over the
	// sideband from a follower.
	RelayedJoin  EventKind = "relayed_join"
	RelayedLeave EventKind = "relayed_leave"
)

// ConnectionEvent is a transient description of a player connecting,
// disconnecting, or moving between backend servers. It is never persisted;
// classification state is reconstructed from the ledger on every event.
type ConnectionEvent struct {
	Kind       EventKind
	PlayerID   uuid.UUID
	PlayerName string
	Origin     string // process the event was observed on
	FromServer string // ServerSwitch only
	ToServer   string // ServerSwitch only
}
