// Package ledger persists the per-player join history: who has ever joined,
// when they were first seen, and when they were last seen. The authority (or
// a standalone process) is the only writer; followers never open a ledger.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/herald/internal/config"
	"github.com/ernie/herald/internal/domain"
)

// Store is the player ledger. Implementations serialize their own access;
// callers still hold the classification mutex so that the read-classify-write
// cycle around a join is atomic with respect to concurrent events.
type Store interface {
	// HasRecord reports whether the player has ever been recorded.
	HasRecord(ctx context.Context, id uuid.UUID) (bool, error)
	// RecordFirstJoin creates a record with first-seen == last-seen == now.
	RecordFirstJoin(ctx context.Context, id uuid.UUID, name string) error
	// TouchLastSeen advances last-seen to now, updating the stored name in
	// case the player renamed. The record must already exist.
	TouchLastSeen(ctx context.Context, id uuid.UUID, name string) error
	// GetLastSeen returns the last-seen time, with ok=false when the player
	// has no record.
	GetLastSeen(ctx context.Context, id uuid.UUID) (time.Time, bool, error)
	// Get returns the full record for one player.
	Get(ctx context.Context, id uuid.UUID) (domain.PlayerRecord, bool, error)
	// List returns every record, ordered by last-seen descending.
	List(ctx context.Context) ([]domain.LedgerEntry, error)
	Close() error
}

// Open constructs the configured ledger backend.
func Open(cfg config.LedgerConfig) (Store, error) {
	switch cfg.Backend {
	case "file", "":
		return OpenFile(cfg.Path)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q (use file or sqlite)", cfg.Backend)
	}
}
