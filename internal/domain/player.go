package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlayerRecord is one entry in the player ledger. FirstSeen is set exactly
// once when the player is first observed; LastSeen moves forward on every
// subsequent join and on every leave.
type PlayerRecord struct {
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// LedgerEntry pairs a record with its identity for listings.
type LedgerEntry struct {
	ID     uuid.UUID    `json:"id"`
	Record PlayerRecord `json:"record"`
}

// Message categories, matching the template catalog keys.
const (
	CategoryJoin    = "join"
	CategoryLeave   = "leave"
	CategoryWelcome = "welcome"
	CategorySwitch  = "server-switch"
)

// Message subtypes produced by classification.
const (
	SubtypeDefault   = "default"
	SubtypeFirstTime = "first-time"
	SubtypeReturning = "returning"
)
