package world

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/srtgame/protocol"
)

// MockPresenter records entity operations.
type MockPresenter struct {
	created []string
	removed []string
	updated map[string]protocol.Vector2
}

func newMockPresenter() *MockPresenter {
	return &MockPresenter{updated: make(map[string]protocol.Vector2)}
}

func (m *MockPresenter) Create(id string) { m.created = append(m.created, id) }
func (m *MockPresenter) Remove(id string) { m.removed = append(m.removed, id) }
func (m *MockPresenter) Update(id string, move protocol.Vector2) {
	m.updated[id] = move
}

// MockBroadcaster records relayed commands.
type MockBroadcaster struct {
	commands []protocol.Command
	err      error
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, cmd protocol.Command) error {
	m.commands = append(m.commands, cmd)
	return m.err
}

// MockStore records membership writes and can be told to fail.
type MockStore struct {
	joins  []string
	leaves []string
	err    error
}

func (m *MockStore) RecordJoin(ctx context.Context, uuid string) error {
	if m.err != nil {
		return m.err
	}
	m.joins = append(m.joins, uuid)
	return nil
}

func (m *MockStore) RecordLeave(ctx context.Context, uuid string) error {
	if m.err != nil {
		return m.err
	}
	m.leaves = append(m.leaves, uuid)
	return nil
}

type MockGauge struct{ value int }

func (m *MockGauge) SetOnlinePlayers(count int) { m.value = count }

func TestWorld_Join(t *testing.T) {
	presenter := newMockPresenter()
	gauge := &MockGauge{}
	w := NewWorld(presenter, nil, nil, gauge)

	if err := w.OnPlayerJoin(context.Background(), "abc-123"); err != nil {
		t.Fatalf("OnPlayerJoin failed: %v", err)
	}

	if _, exists := w.GetPlayer("abc-123"); !exists {
		t.Fatal("joined player missing from roster")
	}
	if len(presenter.created) != 1 || presenter.created[0] != "abc-123" {
		t.Errorf("created = %v", presenter.created)
	}
	if gauge.value != 1 {
		t.Errorf("gauge = %d, want 1", gauge.value)
	}
}

func TestWorld_JoinIgnoresEmptyAndDuplicate(t *testing.T) {
	presenter := newMockPresenter()
	store := &MockStore{}
	w := NewWorld(presenter, store, nil, nil)
	ctx := context.Background()

	w.OnPlayerJoin(ctx, "")
	w.OnPlayerJoin(ctx, "p1")
	w.OnPlayerJoin(ctx, "p1")

	if w.Count() != 1 {
		t.Errorf("Count = %d, want 1", w.Count())
	}
	if len(presenter.created) != 1 {
		t.Errorf("created = %v, want exactly one entity", presenter.created)
	}
	if len(store.joins) != 1 {
		t.Errorf("store joins = %v", store.joins)
	}
}

func TestWorld_JoinStoreFailureLeavesRosterUntouched(t *testing.T) {
	presenter := newMockPresenter()
	store := &MockStore{err: errors.New("db down")}
	w := NewWorld(presenter, store, nil, nil)

	if err := w.OnPlayerJoin(context.Background(), "p1"); err == nil {
		t.Fatal("expected the store error to be returned")
	}
	if w.Count() != 0 || len(presenter.created) != 0 {
		t.Error("a failed join must not register the player")
	}

	// A redelivery after the store recovers succeeds.
	store.err = nil
	if err := w.OnPlayerJoin(context.Background(), "p1"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if w.Count() != 1 {
		t.Errorf("Count = %d, want 1", w.Count())
	}
}

func TestWorld_Leave(t *testing.T) {
	presenter := newMockPresenter()
	store := &MockStore{}
	w := NewWorld(presenter, store, nil, nil)
	ctx := context.Background()

	w.OnPlayerJoin(ctx, "p1")
	if err := w.OnPlayerLeave(ctx, "p1"); err != nil {
		t.Fatalf("OnPlayerLeave failed: %v", err)
	}

	if w.Count() != 0 {
		t.Errorf("Count = %d after leave", w.Count())
	}
	if len(presenter.removed) != 1 || presenter.removed[0] != "p1" {
		t.Errorf("removed = %v", presenter.removed)
	}
	if len(store.leaves) != 1 {
		t.Errorf("store leaves = %v", store.leaves)
	}

	// Leaving twice is a no-op, and the identity can join again.
	w.OnPlayerLeave(ctx, "p1")
	if len(presenter.removed) != 1 {
		t.Errorf("second leave removed again: %v", presenter.removed)
	}
	w.OnPlayerJoin(ctx, "p1")
	if w.Count() != 1 {
		t.Error("player could not rejoin after leaving")
	}
}

func TestWorld_Input(t *testing.T) {
	presenter := newMockPresenter()
	w := NewWorld(presenter, nil, nil, nil)
	ctx := context.Background()

	w.OnPlayerInput(ctx, "ghost", protocol.Vector2{X: 1})
	if len(presenter.updated) != 0 {
		t.Error("input for an unknown player must be dropped")
	}

	w.OnPlayerJoin(ctx, "p1")
	w.OnPlayerInput(ctx, "p1", protocol.Vector2{X: 1, Y: 0})

	if got := presenter.updated["p1"]; got != (protocol.Vector2{X: 1, Y: 0}) {
		t.Errorf("presenter update = %+v", got)
	}
	player, _ := w.GetPlayer("p1")
	if player.LastMove != (protocol.Vector2{X: 1, Y: 0}) || player.LastInputAt.IsZero() {
		t.Errorf("player state = %+v", player)
	}
}

func TestWorld_RelaysAppliedCommands(t *testing.T) {
	b := &MockBroadcaster{}
	w := NewWorld(newMockPresenter(), nil, b, nil)
	ctx := context.Background()

	w.OnPlayerJoin(ctx, "p1")
	w.OnPlayerJoin(ctx, "p1") // duplicate, not relayed
	w.OnPlayerInput(ctx, "p1", protocol.Vector2{Y: 1})
	w.OnPlayerLeave(ctx, "p1")

	want := []protocol.Command{
		protocol.NewJoin("p1"),
		protocol.NewDualStick("p1", protocol.Vector2{Y: 1}),
		protocol.NewLeave("p1"),
	}
	if len(b.commands) != len(want) {
		t.Fatalf("relayed %v, want %v", b.commands, want)
	}
	for i := range want {
		if b.commands[i] != want[i] {
			t.Errorf("relayed[%d] = %#v, want %#v", i, b.commands[i], want[i])
		}
	}
}

func TestWorld_RelayFailureDoesNotFailHandler(t *testing.T) {
	b := &MockBroadcaster{err: errors.New("topic unavailable")}
	w := NewWorld(newMockPresenter(), nil, b, nil)

	if err := w.OnPlayerJoin(context.Background(), "p1"); err != nil {
		t.Fatalf("relay failure leaked into handler: %v", err)
	}
	if w.Count() != 1 {
		t.Error("player should still be joined")
	}
}

func TestWorld_GetPlayersIsSnapshot(t *testing.T) {
	w := NewWorld(newMockPresenter(), nil, nil, nil)
	ctx := context.Background()
	w.OnPlayerJoin(ctx, "p1")
	w.OnPlayerJoin(ctx, "p2")

	players := w.GetPlayers()
	if len(players) != 2 {
		t.Fatalf("GetPlayers returned %d players", len(players))
	}
	players[0].ID = "mutated"
	if _, exists := w.GetPlayer("mutated"); exists {
		t.Error("GetPlayers must return copies")
	}
}

// SlowStore widens the window between the roster check and the insert.
type SlowStore struct {
	mutex sync.Mutex
	joins int
}

func (m *SlowStore) RecordJoin(ctx context.Context, uuid string) error {
	time.Sleep(5 * time.Millisecond)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.joins++
	return nil
}

func (m *SlowStore) RecordLeave(ctx context.Context, uuid string) error { return nil }

type LockedPresenter struct {
	mutex   sync.Mutex
	created int
}

func (m *LockedPresenter) Create(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.created++
}
func (m *LockedPresenter) Remove(id string)                        {}
func (m *LockedPresenter) Update(id string, move protocol.Vector2) {}

func TestWorld_ConcurrentJoinsCreateOneEntity(t *testing.T) {
	presenter := &LockedPresenter{}
	store := &SlowStore{}
	w := NewWorld(presenter, store, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.OnPlayerJoin(context.Background(), "p1")
		}()
	}
	wg.Wait()

	if presenter.created != 1 {
		t.Errorf("created %d entities, want 1", presenter.created)
	}
	if store.joins != 1 {
		t.Errorf("recorded %d joins, want 1", store.joins)
	}
	if w.Count() != 1 {
		t.Errorf("Count = %d", w.Count())
	}
}
