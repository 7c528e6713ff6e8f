package engine

import (
	"github.com/ernie/herald/internal/domain"
	"github.com/ernie/herald/internal/message"
)

// hostEnv adapts the host to the formatter's environment lookups, applying
// configured display aliases to the process name.
type hostEnv struct {
	e *Engine
}

func (h hostEnv) OnlineCount() (int, error) { return h.e.host.OnlineCount() }
func (h hostEnv) MaxCapacity() (int, error) { return h.e.host.MaxCapacity() }
func (h hostEnv) ProcessDisplayName() string {
	return h.e.cfg.Alias(h.e.host.ProcessName())
}

// handleJoin classifies a join and dispatches the announcement plus the
// delayed welcome. Runs in broadcast modes only.
func (e *Engine) handleJoin(ev domain.ConnectionEvent) {
	subtype, lastSeen, known := e.classifyJoin(ev)
	if !known {
		// History unknown: the default stays suppressed but nothing
		// custom goes out either. Silence beats a wrong greeting.
		return
	}

	fctx := message.Context{Player: ev.PlayerName, LastSeen: lastSeen}
	group := e.resolveGroup(ev.PlayerName)

	if tmpl := e.catalog.Resolve(group, domain.CategoryJoin, subtype); e.joinAnnounceEnabled(subtype) && tmpl != "" {
		body := message.Format(tmpl, fctx, hostEnv{e})
		if subtype == domain.SubtypeDefault {
			e.host.SendToAll(body)
		} else {
			// First-time and returning announcements go to the room;
			// the player themselves gets the welcome instead.
			e.host.SendToAllExcept(ev.PlayerName, body)
		}
		e.log.Debugw("join announced", "player", ev.PlayerName, "subtype", subtype, "group", group, "source", ev.Kind)
	}

	if (subtype == domain.SubtypeFirstTime || subtype == domain.SubtypeReturning) && e.cfg.WelcomeEnabled(subtype) {
		e.scheduleWelcome(ev.PlayerName, group, subtype, fctx)
	}
}

func (e *Engine) joinAnnounceEnabled(subtype string) bool {
	if subtype == domain.SubtypeFirstTime {
		return e.cfg.Features.FirstJoin.On()
	}
	return e.cfg.Features.Join.On()
}

// scheduleWelcome sends the personal welcome after the configured delay, and
// only if the player is still connected when it fires.
func (e *Engine) scheduleWelcome(player, group, subtype string, fctx message.Context) {
	tmpl := e.catalog.Resolve(group, domain.CategoryWelcome, subtype)
	if tmpl == "" {
		// An explicitly empty template means "send nothing".
		return
	}
	body := message.Format(tmpl, fctx, hostEnv{e})
	e.host.ScheduleAfter(e.cfg.WelcomeDelay(), func() {
		if !e.host.IsOnline(player) {
			return
		}
		e.host.SendTo(player, body)
	})
}

// handleLeave announces a departure and advances the ledger.
func (e *Engine) handleLeave(ev domain.ConnectionEvent) {
	e.touchLeave(ev)

	if !e.cfg.Features.Leave.On() {
		return
	}

	group := e.resolveGroup(ev.PlayerName)
	tmpl := e.catalog.Resolve(group, domain.CategoryLeave, domain.SubtypeDefault)
	if tmpl == "" {
		return
	}
	body := message.Format(tmpl, message.Context{Player: ev.PlayerName}, hostEnv{e})
	e.host.SendToAll(body)
	e.log.Debugw("leave announced", "player", ev.PlayerName, "group", group, "source", ev.Kind)
}

// handleSwitch announces a backend move, either network-wide or scoped to
// the two servers involved.
func (e *Engine) handleSwitch(ev domain.ConnectionEvent) {
	if !e.cfg.Features.ServerSwitch.On() {
		return
	}

	group := e.resolveGroup(ev.PlayerName)
	tmpl := e.catalog.Resolve(group, domain.CategorySwitch, domain.SubtypeDefault)
	if tmpl == "" {
		return
	}
	body := message.Format(tmpl, message.Context{
		Player: ev.PlayerName,
		From:   e.cfg.Alias(ev.FromServer),
		To:     e.cfg.Alias(ev.ToServer),
	}, hostEnv{e})

	if e.cfg.Features.ServerSwitch.ShowToAll {
		e.host.SendToAll(body)
	} else {
		e.host.SendToServers([]string{ev.FromServer, ev.ToServer}, body)
	}
	e.log.Debugw("switch announced", "player", ev.PlayerName, "from", ev.FromServer, "to", ev.ToServer)
}
