// Package host abstracts the game process this program is embedded next to.
// The engine talks to players exclusively through the Host interface; the
// production implementation is a websocket bridge the game-side plugin
// connects to, and tests substitute an in-memory fake.
package host

import (
	"time"

	"github.com/google/uuid"
)

// Host is everything the dispatch engine needs from the surrounding game
// process: delivering chat lines, answering environment queries, and
// checking permissions.
type Host interface {
	// SendTo delivers a chat line to one named player. Unknown players are
	// a no-op.
	SendTo(player, msg string)
	// SendToAll delivers a chat line to every connected player.
	SendToAll(msg string)
	// SendToAllExcept delivers to everyone but the named player.
	SendToAllExcept(player, msg string)
	// SendToServers delivers only to players currently on the named backend
	// servers.
	SendToServers(servers []string, msg string)

	OnlineCount() (int, error)
	MaxCapacity() (int, error)
	// ProcessName is the display name used for the {server} placeholder.
	ProcessName() string

	IsOnline(player string) bool
	HasPermission(player, node string) bool

	// ScheduleAfter runs fn once after d, off the caller's goroutine.
	ScheduleAfter(d time.Duration, fn func())
}

// EventSink receives connection lifecycle events observed by the host and
// returns suppression decisions where the host needs one.
type EventSink interface {
	// PlayerAttached fires when a player connects. The return value tells
	// the host whether to suppress its platform-default join notification.
	PlayerAttached(id uuid.UUID, name, origin string) (suppressDefault bool)
	// PlayerDetached fires when a player disconnects.
	PlayerDetached(id uuid.UUID, name, origin string)
	// PlayerMoved fires when a player changes backend servers.
	PlayerMoved(id uuid.UUID, name, from, to string)
}
