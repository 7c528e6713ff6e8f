package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ernie/herald/internal/config"
	"github.com/ernie/herald/internal/domain"
	"github.com/ernie/herald/internal/ledger"
	"github.com/ernie/herald/internal/wire"
)

// memStore is an in-memory ledger with controllable failure and timestamps.
type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.PlayerRecord
	fail    error
	firsts  int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uuid.UUID]domain.PlayerRecord)}
}

func (m *memStore) seed(id uuid.UUID, name string, lastSeen time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = domain.PlayerRecord{Name: name, FirstSeen: lastSeen, LastSeen: lastSeen}
}

func (m *memStore) HasRecord(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	_, ok := m.records[id]
	return ok, nil
}

func (m *memStore) RecordFirstJoin(_ context.Context, id uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	now := time.Now()
	m.records[id] = domain.PlayerRecord{Name: name, FirstSeen: now, LastSeen: now}
	m.firsts++
	return nil
}

func (m *memStore) TouchLastSeen(_ context.Context, id uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("no record for %s", id)
	}
	rec.Name = name
	rec.LastSeen = time.Now()
	m.records[id] = rec
	return nil
}

func (m *memStore) GetLastSeen(_ context.Context, id uuid.UUID) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return time.Time{}, false, m.fail
	}
	rec, ok := m.records[id]
	return rec.LastSeen, ok, nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (domain.PlayerRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *memStore) List(_ context.Context) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerEntry
	for id, rec := range m.records {
		out = append(out, domain.LedgerEntry{ID: id, Record: rec})
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// delivery records one message and who it went to.
type delivery struct {
	scope string // "all", "except:<name>", "to:<name>", "servers:<a>,<b>"
	body  string
}

// fakeHost is an in-memory Host that records deliveries and fires scheduled
// callbacks synchronously.
type fakeHost struct {
	mu     sync.Mutex
	online map[string]bool
	perms  map[string]map[string]bool
	sent   []delivery
}

func newFakeHost(players ...string) *fakeHost {
	h := &fakeHost{online: make(map[string]bool), perms: make(map[string]map[string]bool)}
	for _, p := range players {
		h.online[p] = true
	}
	return h
}

func (h *fakeHost) grant(player, node string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.perms[player] == nil {
		h.perms[player] = make(map[string]bool)
	}
	h.perms[player][node] = true
}

func (h *fakeHost) record(scope, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, delivery{scope: scope, body: body})
}

func (h *fakeHost) deliveries() []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]delivery(nil), h.sent...)
}

func (h *fakeHost) SendTo(player, msg string)        { h.record("to:"+player, msg) }
func (h *fakeHost) SendToAll(msg string)             { h.record("all", msg) }
func (h *fakeHost) SendToAllExcept(p, msg string)    { h.record("except:"+p, msg) }
func (h *fakeHost) SendToServers(s []string, m string) {
	h.record(fmt.Sprintf("servers:%v", s), m)
}
func (h *fakeHost) OnlineCount() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.online), nil
}
func (h *fakeHost) MaxCapacity() (int, error) { return 100, nil }
func (h *fakeHost) ProcessName() string       { return "proxy-1" }
func (h *fakeHost) IsOnline(player string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online[player]
}
func (h *fakeHost) HasPermission(player, node string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perms[player][node]
}
func (h *fakeHost) ScheduleAfter(_ time.Duration, fn func()) { fn() }

// fakeSender captures relayed notices.
type fakeSender struct {
	mu      sync.Mutex
	notices []wire.Notice
	fail    error
}

func (s *fakeSender) Send(n wire.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.notices = append(s.notices, n)
	return nil
}

func (s *fakeSender) Close() error { return nil }

func (s *fakeSender) all() []wire.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Notice(nil), s.notices...)
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Messages: config.MessageTree{
			"default": {
				"join": {
					"default":    {"{player} appeared"},
					"first-time": {"everyone greet {player}"},
					"returning":  {"{player} is back after {last_seen}"},
				},
				"leave": {
					"default": {"{player} vanished"},
				},
				"welcome": {
					"first-time": {"welcome {player}, {online_count}/{max_players} online"},
					"returning":  {"welcome back {player}"},
				},
				"server-switch": {
					"default": {"{player}: {from} -> {to}"},
				},
			},
			"vip": {
				"join": {
					"default": {"the illustrious {player} appeared"},
				},
			},
		},
	}
	cfg.Process.Name = "proxy-1"
	cfg.Groups.Priority = map[string]int{"vip": 10}
	cfg.Features.Welcome.DelayMillis = 1
	return cfg
}

func newTestEngine(t *testing.T, mode domain.RunMode, h *fakeHost, store *memStore) *Engine {
	t.Helper()
	var s ledger.Store
	if store != nil {
		s = store
	}
	return New(testConfig(), mode, h, s, zap.NewNop().Sugar())
}

func TestFirstJoinAnnouncesAndWelcomes(t *testing.T) {
	h := newFakeHost("Bob", "Alice")
	store := newMemStore()
	e := newTestEngine(t, domain.Standalone, h, store)

	bob := uuid.New()
	suppress := e.PlayerAttached(bob, "Bob", "lobby")
	assert.True(t, suppress)

	got := h.deliveries()
	require.Len(t, got, 2)
	assert.Equal(t, delivery{scope: "except:Bob", body: "everyone greet Bob"}, got[0])
	assert.Equal(t, delivery{scope: "to:Bob", body: "welcome Bob, 2/100 online"}, got[1])

	rec, ok, err := store.Get(context.Background(), bob)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob", rec.Name)
	assert.Equal(t, rec.FirstSeen, rec.LastSeen)
}

func TestNormalJoinBroadcastsToEveryone(t *testing.T) {
	h := newFakeHost("Bob")
	store := newMemStore()
	bob := uuid.New()
	store.seed(bob, "Bob", time.Now().Add(-time.Hour)) // well under threshold

	e := newTestEngine(t, domain.Standalone, h, store)
	e.PlayerAttached(bob, "Bob", "lobby")

	got := h.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, delivery{scope: "all", body: "Bob appeared"}, got[0])
}

func TestReturningJoinUsesOldLastSeen(t *testing.T) {
	h := newFakeHost("Carol")
	store := newMemStore()
	carol := uuid.New()
	store.seed(carol, "Carol", time.Now().Add(-72*time.Hour))

	e := newTestEngine(t, domain.Standalone, h, store)
	e.PlayerAttached(carol, "Carol", "lobby")

	got := h.deliveries()
	require.Len(t, got, 2)
	assert.Equal(t, delivery{scope: "except:Carol", body: "Carol is back after 3 days ago"}, got[0])
	assert.Equal(t, delivery{scope: "to:Carol", body: "welcome back Carol"}, got[1])

	// The touch happened after classification.
	seen, ok, err := store.GetLastSeen(context.Background(), carol)
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), seen, time.Minute)
}

func TestGroupTemplateSelection(t *testing.T) {
	h := newFakeHost("Dave")
	h.grant("Dave", "herald.group.vip")
	store := newMemStore()
	dave := uuid.New()
	store.seed(dave, "Dave", time.Now().Add(-time.Hour))

	e := newTestEngine(t, domain.Standalone, h, store)
	e.PlayerAttached(dave, "Dave", "lobby")

	got := h.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "the illustrious Dave appeared", got[0].body)
}

func TestLeaveAnnouncesAndTouches(t *testing.T) {
	h := newFakeHost()
	store := newMemStore()
	bob := uuid.New()
	old := time.Now().Add(-time.Hour)
	store.seed(bob, "Bob", old)

	e := newTestEngine(t, domain.Standalone, h, store)
	e.PlayerDetached(bob, "Bob", "lobby")

	got := h.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, delivery{scope: "all", body: "Bob vanished"}, got[0])

	seen, _, err := store.GetLastSeen(context.Background(), bob)
	require.NoError(t, err)
	assert.True(t, seen.After(old))
}

func TestLedgerFailureStaysSilent(t *testing.T) {
	h := newFakeHost("Bob")
	store := newMemStore()
	store.fail = errors.New("disk on fire")

	e := newTestEngine(t, domain.Standalone, h, store)
	suppress := e.PlayerAttached(uuid.New(), "Bob", "lobby")

	// Default still suppressed, but no custom message and no ledger write.
	assert.True(t, suppress)
	assert.Empty(t, h.deliveries())
	assert.Zero(t, store.firsts)
}

func TestConcurrentJoinsClassifyOnceAsFirstTime(t *testing.T) {
	h := newFakeHost("Bob")
	store := newMemStore()
	e := newTestEngine(t, domain.Standalone, h, store)

	bob := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.PlayerAttached(bob, "Bob", "lobby")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.firsts)

	firstTime := 0
	for _, d := range h.deliveries() {
		if d.body == "everyone greet Bob" {
			firstTime++
		}
	}
	assert.Equal(t, 1, firstTime)
}

func TestSwitchAnnouncement(t *testing.T) {
	h := newFakeHost("Bob")
	store := newMemStore()
	cfg := testConfig()
	cfg.ServerAliases = map[string]string{"lobby-1": "Lobby"}
	e := New(cfg, domain.Authority, h, store, zap.NewNop().Sugar())

	e.PlayerMoved(uuid.New(), "Bob", "lobby-1", "survival")

	got := h.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "servers:[lobby-1 survival]", got[0].scope)
	assert.Equal(t, "Bob: Lobby -> survival", got[0].body)

	h.sent = nil
	cfg.Features.ServerSwitch.ShowToAll = true
	e.PlayerMoved(uuid.New(), "Bob", "lobby-1", "survival")
	got = h.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "all", got[0].scope)
}

func TestFollowerRelaysInsteadOfBroadcasting(t *testing.T) {
	h := newFakeHost("Bob")
	e := newTestEngine(t, domain.Follower, h, nil)
	sender := &fakeSender{}
	e.AttachSender(sender)

	bob := uuid.New()
	suppress := e.PlayerAttached(bob, "Bob", "survival")
	assert.True(t, suppress)
	e.PlayerDetached(bob, "Bob", "survival")

	assert.Empty(t, h.deliveries())
	notices := sender.all()
	require.Len(t, notices, 2)
	assert.Equal(t, wire.Notice{Action: wire.ActionJoin, PlayerName: "Bob", PlayerID: bob, Origin: "survival"}, notices[0])
	assert.Equal(t, wire.ActionLeave, notices[1].Action)
}

func TestFollowerRelayFailureIsAbsorbed(t *testing.T) {
	h := newFakeHost("Bob")
	e := newTestEngine(t, domain.Follower, h, nil)
	e.AttachSender(&fakeSender{fail: errors.New("authority down")})

	assert.NotPanics(t, func() {
		e.PlayerAttached(uuid.New(), "Bob", "survival")
	})
	assert.Empty(t, h.deliveries())
}

func TestAuthorityHandlesRelayedNotices(t *testing.T) {
	h := newFakeHost("Alice")
	store := newMemStore()
	e := newTestEngine(t, domain.Authority, h, store)

	bob := uuid.New()
	e.HandleNotice(wire.Notice{Action: wire.ActionJoin, PlayerName: "Bob", PlayerID: bob, Origin: "survival"})

	// Bob is attached to the follower, not here, so the room announcement
	// goes out but the personal welcome is skipped.
	got := h.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "everyone greet Bob", got[0].body)
	assert.Equal(t, "except:Bob", got[0].scope)

	ok, err := store.HasRecord(context.Background(), bob)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFollowerIgnoresNotices(t *testing.T) {
	h := newFakeHost()
	e := newTestEngine(t, domain.Follower, h, nil)
	e.HandleNotice(wire.Notice{Action: wire.ActionJoin, PlayerName: "Bob", PlayerID: uuid.New()})
	assert.Empty(t, h.deliveries())
}

func TestFeatureTogglesSilenceCategories(t *testing.T) {
	h := newFakeHost("Bob")
	store := newMemStore()
	bob := uuid.New()
	store.seed(bob, "Bob", time.Now().Add(-time.Hour))

	cfg := testConfig()
	off := false
	cfg.Features.Join.Enabled = &off
	cfg.Features.Leave.Enabled = &off
	e := New(cfg, domain.Standalone, h, store, zap.NewNop().Sugar())

	e.PlayerAttached(bob, "Bob", "lobby")
	e.PlayerDetached(bob, "Bob", "lobby")
	assert.Empty(t, h.deliveries())
}

func TestWelcomeSkippedWhenPlayerGone(t *testing.T) {
	h := newFakeHost() // Bob not online when the timer fires
	store := newMemStore()
	e := newTestEngine(t, domain.Standalone, h, store)

	e.PlayerAttached(uuid.New(), "Bob", "lobby")

	for _, d := range h.deliveries() {
		assert.NotEqual(t, "to:Bob", d.scope)
	}
}

func TestSwitchModeInvalid(t *testing.T) {
	e := newTestEngine(t, domain.Standalone, newFakeHost(), newMemStore())
	assert.Error(t, e.SwitchMode(domain.RunMode("hybrid")))
	assert.Equal(t, domain.Standalone, e.Mode())
}

func TestSwitchModeToFollowerRequiresAuthorityAddr(t *testing.T) {
	e := newTestEngine(t, domain.Standalone, newFakeHost(), newMemStore())
	// No authority address configured, so the sender cannot be built and
	// the mode must stay put.
	assert.Error(t, e.SwitchMode(domain.Follower))
	assert.Equal(t, domain.Standalone, e.Mode())
}

func TestSwitchModeStandaloneToAuthority(t *testing.T) {
	cfg := testConfig()
	cfg.Sideband.Transport = "udp"
	cfg.Sideband.ListenAddr = "127.0.0.1:0"
	e := New(cfg, domain.Standalone, newFakeHost(), newMemStore(), zap.NewNop().Sugar())
	defer e.Close()

	require.NoError(t, e.SwitchMode(domain.Authority))
	assert.Equal(t, domain.Authority, e.Mode())
}
