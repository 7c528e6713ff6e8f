// Package engine classifies connection events against the player ledger and
// dispatches the customized notifications. It is the seam between the host
// bridge, the sideband, and everything under it.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ernie/herald/internal/config"
	"github.com/ernie/herald/internal/domain"
	"github.com/ernie/herald/internal/groups"
	"github.com/ernie/herald/internal/host"
	"github.com/ernie/herald/internal/ledger"
	"github.com/ernie/herald/internal/message"
	"github.com/ernie/herald/internal/sideband"
	"github.com/ernie/herald/internal/wire"
)

// Engine routes connection events. It implements host.EventSink; every error
// below it is logged and absorbed, never surfaced to the host.
type Engine struct {
	log     *zap.SugaredLogger
	cfg     *config.Config
	host    host.Host
	store   ledger.Store
	catalog *message.Catalog
	groups  *groups.Resolver

	// classifyMu serializes the ledger read-classify-write cycle so two
	// near-simultaneous events for the same player cannot both classify as
	// a first join.
	classifyMu sync.Mutex

	modeMu   sync.RWMutex
	mode     domain.RunMode
	sender   sideband.Sender
	receiver sideband.Receiver
}

// New assembles an engine. The store may be nil in follower mode; sender and
// receiver are attached afterwards with SwitchMode or the Attach helpers.
func New(cfg *config.Config, mode domain.RunMode, h host.Host, store ledger.Store, log *zap.SugaredLogger) *Engine {
	return &Engine{
		log:     log,
		cfg:     cfg,
		host:    h,
		store:   store,
		catalog: message.NewCatalog(cfg.Messages),
		groups:  groups.NewResolver(cfg.Groups.Priority),
		mode:    mode,
	}
}

// Mode returns the current run mode.
func (e *Engine) Mode() domain.RunMode {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	return e.mode
}

// AttachSender wires the follower-side sideband sender.
func (e *Engine) AttachSender(s sideband.Sender) {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()
	e.sender = s
}

// AttachReceiver wires the authority-side sideband receiver and starts it.
func (e *Engine) AttachReceiver(r sideband.Receiver) error {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()
	if err := r.Start(e.HandleNotice); err != nil {
		return err
	}
	e.receiver = r
	return nil
}

// Close tears down any attached sideband endpoints.
func (e *Engine) Close() error {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()
	if e.sender != nil {
		e.sender.Close()
		e.sender = nil
	}
	if e.receiver != nil {
		e.receiver.Close()
		e.receiver = nil
	}
	return nil
}

// SwitchMode changes the run mode at runtime, rebuilding the sideband
// endpoints to match. On any failure the previous endpoints stay in place.
func (e *Engine) SwitchMode(newMode domain.RunMode) error {
	if !newMode.Valid() {
		return fmt.Errorf("invalid mode %q", newMode)
	}

	e.modeMu.Lock()
	defer e.modeMu.Unlock()
	if newMode == e.mode {
		return nil
	}
	if newMode.OwnsLedger() && e.store == nil {
		return fmt.Errorf("cannot switch to %s without a ledger", newMode)
	}

	var newSender sideband.Sender
	var newReceiver sideband.Receiver
	var err error

	if newMode.Relays() {
		newSender, err = sideband.NewSender(e.cfg.Sideband, e.log)
		if err != nil {
			return fmt.Errorf("building sideband sender: %w", err)
		}
	}
	if newMode.ReceivesRelays() {
		newReceiver, err = sideband.NewReceiver(e.cfg.Sideband, e.log)
		if err != nil {
			if newSender != nil {
				newSender.Close()
			}
			return fmt.Errorf("building sideband receiver: %w", err)
		}
		if err := newReceiver.Start(e.HandleNotice); err != nil {
			newReceiver.Close()
			if newSender != nil {
				newSender.Close()
			}
			return fmt.Errorf("starting sideband receiver: %w", err)
		}
	}

	if e.sender != nil {
		e.sender.Close()
	}
	if e.receiver != nil {
		e.receiver.Close()
	}
	e.sender, e.receiver = newSender, newReceiver

	e.log.Infow("mode switched", "from", e.mode, "to", newMode)
	e.mode = newMode
	return nil
}

// PlayerAttached implements host.EventSink for local joins.
func (e *Engine) PlayerAttached(id uuid.UUID, name, origin string) bool {
	mode := e.Mode()
	if mode.Relays() {
		e.relay(wire.ActionJoin, id, name, origin)
		return e.cfg.Interception.SuppressJoin()
	}

	e.handleJoin(domain.ConnectionEvent{
		Kind:       domain.NetworkJoin,
		PlayerID:   id,
		PlayerName: name,
		Origin:     origin,
	})
	return e.cfg.Interception.SuppressJoin()
}

// PlayerDetached implements host.EventSink for local leaves.
func (e *Engine) PlayerDetached(id uuid.UUID, name, origin string) {
	mode := e.Mode()
	if mode.Relays() {
		e.relay(wire.ActionLeave, id, name, origin)
		return
	}

	e.handleLeave(domain.ConnectionEvent{
		Kind:       domain.NetworkLeave,
		PlayerID:   id,
		PlayerName: name,
		Origin:     origin,
	})
}

// PlayerMoved implements host.EventSink for backend switches. Only the
// authority (or a standalone process) ever observes these.
func (e *Engine) PlayerMoved(id uuid.UUID, name, from, to string) {
	if !e.Mode().Broadcasts() {
		return
	}
	e.handleSwitch(domain.ConnectionEvent{
		Kind:       domain.ServerSwitch,
		PlayerID:   id,
		PlayerName: name,
		FromServer: from,
		ToServer:   to,
	})
}

// HandleNotice processes a sideband notice at the authority. Notices from
// followers are treated like locally observed events, except the announcer
// exclusion is skipped when the player is not connected through this process.
func (e *Engine) HandleNotice(n wire.Notice) {
	if !e.Mode().ReceivesRelays() {
		e.log.Warnw("ignoring sideband notice outside authority mode", "action", n.Action, "player", n.PlayerName)
		return
	}

	ev := domain.ConnectionEvent{
		PlayerID:   n.PlayerID,
		PlayerName: n.PlayerName,
		Origin:     n.Origin,
	}
	switch n.Action {
	case wire.ActionJoin:
		ev.Kind = domain.RelayedJoin
		e.handleJoin(ev)
	case wire.ActionLeave:
		ev.Kind = domain.RelayedLeave
		e.handleLeave(ev)
	}
}

func (e *Engine) relay(action string, id uuid.UUID, name, origin string) {
	e.modeMu.RLock()
	sender := e.sender
	e.modeMu.RUnlock()
	if sender == nil {
		e.log.Warnw("no sideband sender attached, dropping relay", "action", action, "player", name)
		return
	}
	if origin == "" {
		origin = e.cfg.Process.Name
	}
	err := sender.Send(wire.Notice{Action: action, PlayerName: name, PlayerID: id, Origin: origin})
	if err != nil {
		e.log.Warnw("sideband relay failed", "action", action, "player", name, "error", err)
	}
}

// classifyJoin decides the join subtype from the ledger and advances it, all
// under one lock. The old last-seen value drives the decision; the touch
// happens after. Ledger failures classify as unknown so the caller stays
// quiet instead of mislabeling a veteran as new.
func (e *Engine) classifyJoin(ev domain.ConnectionEvent) (subtype string, lastSeen *time.Time, known bool) {
	e.classifyMu.Lock()
	defer e.classifyMu.Unlock()

	ctx := context.Background()
	has, err := e.store.HasRecord(ctx, ev.PlayerID)
	if err != nil {
		e.log.Errorw("ledger check failed, treating history as unknown", "player", ev.PlayerName, "error", err)
		return "", nil, false
	}

	if !has {
		if err := e.store.RecordFirstJoin(ctx, ev.PlayerID, ev.PlayerName); err != nil {
			e.log.Errorw("recording first join failed", "player", ev.PlayerName, "error", err)
			return "", nil, false
		}
		return domain.SubtypeFirstTime, nil, true
	}

	seen, ok, err := e.store.GetLastSeen(ctx, ev.PlayerID)
	if err != nil || !ok {
		e.log.Errorw("reading last seen failed, treating history as unknown", "player", ev.PlayerName, "error", err)
		return "", nil, false
	}
	if err := e.store.TouchLastSeen(ctx, ev.PlayerID, ev.PlayerName); err != nil {
		e.log.Errorw("advancing last seen failed", "player", ev.PlayerName, "error", err)
	}

	if time.Since(seen) >= time.Duration(e.cfg.ReturningThresholdSeconds())*time.Second {
		return domain.SubtypeReturning, &seen, true
	}
	return domain.SubtypeDefault, &seen, true
}

// touchLeave advances last-seen on departure so absence windows measure from
// when the player was last connected, not when they arrived.
func (e *Engine) touchLeave(ev domain.ConnectionEvent) {
	e.classifyMu.Lock()
	defer e.classifyMu.Unlock()

	ctx := context.Background()
	has, err := e.store.HasRecord(ctx, ev.PlayerID)
	if err != nil || !has {
		return
	}
	if err := e.store.TouchLastSeen(ctx, ev.PlayerID, ev.PlayerName); err != nil {
		e.log.Errorw("advancing last seen on leave failed", "player", ev.PlayerName, "error", err)
	}
}

// resolveGroup picks the message group via the host's permission checks.
func (e *Engine) resolveGroup(player string) string {
	return e.groups.Resolve(func(node string) bool {
		return e.host.HasPermission(player, node)
	})
}

// Players lists the ledger for the inspection API and CLI.
func (e *Engine) Players(ctx context.Context) ([]domain.LedgerEntry, error) {
	if e.store == nil {
		return nil, fmt.Errorf("no ledger in %s mode", e.Mode())
	}
	return e.store.List(ctx)
}

// Player fetches one ledger record.
func (e *Engine) Player(ctx context.Context, id uuid.UUID) (domain.PlayerRecord, bool, error) {
	if e.store == nil {
		return domain.PlayerRecord{}, false, fmt.Errorf("no ledger in %s mode", e.Mode())
	}
	return e.store.Get(ctx, id)
}
