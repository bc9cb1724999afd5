// Package world keeps the roster of joined players and applies dispatched
// commands to it.
package world

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/protocol"
)

// Player is one joined identity and its entity state.
type Player struct {
	ID          string
	JoinedAt    time.Time
	LastMove    protocol.Vector2
	LastInputAt time.Time
}

// World maps player identities to entities. It implements dispatch.Handler.
//
// Handlers are serialized by transition, so a check-then-insert in one
// handler cannot interleave with another even if several receive links
// dispatch into the same World. mutex guards the map for readers.
type World struct {
	presenter   EntityPresenter
	store       MembershipStore
	broadcaster Broadcaster
	gauge       PlayerGauge

	transition sync.Mutex
	players    map[string]*Player
	mutex      sync.RWMutex
}

// NewWorld creates an empty world. store, broadcaster and gauge may be nil.
func NewWorld(presenter EntityPresenter, store MembershipStore, broadcaster Broadcaster, gauge PlayerGauge) *World {
	return &World{
		presenter:   presenter,
		store:       store,
		broadcaster: broadcaster,
		gauge:       gauge,
		players:     make(map[string]*Player),
	}
}

// OnPlayerJoin registers uuid and creates its entity. Empty and already
// registered identities are ignored with a warning.
func (w *World) OnPlayerJoin(ctx context.Context, uuid string) error {
	if uuid == "" {
		logger.Log.Warn("Ignoring join with empty player identity")
		return nil
	}
	w.transition.Lock()
	defer w.transition.Unlock()

	if _, exists := w.GetPlayer(uuid); exists {
		logger.Log.Warnf("Ignoring join for %s: already joined", uuid)
		return nil
	}

	// Record first so a failed write leaves the roster untouched and a
	// redelivered join can try again.
	if w.store != nil {
		if err := w.store.RecordJoin(ctx, uuid); err != nil {
			return fmt.Errorf("record join %s: %w", uuid, err)
		}
	}

	w.mutex.Lock()
	w.players[uuid] = &Player{ID: uuid, JoinedAt: time.Now()}
	count := len(w.players)
	w.mutex.Unlock()

	w.presenter.Create(uuid)
	w.setGauge(count)
	logger.Log.Infof("Player %s joined (%d online)", uuid, count)

	w.relay(ctx, protocol.NewJoin(uuid))
	return nil
}

// OnPlayerLeave unregisters uuid and removes its entity. Unknown identities
// are ignored with a warning.
func (w *World) OnPlayerLeave(ctx context.Context, uuid string) error {
	w.transition.Lock()
	defer w.transition.Unlock()

	if _, exists := w.GetPlayer(uuid); !exists {
		logger.Log.Warnf("Ignoring leave for %q: not joined", uuid)
		return nil
	}

	if w.store != nil {
		if err := w.store.RecordLeave(ctx, uuid); err != nil {
			return fmt.Errorf("record leave %s: %w", uuid, err)
		}
	}

	w.mutex.Lock()
	delete(w.players, uuid)
	count := len(w.players)
	w.mutex.Unlock()

	w.presenter.Remove(uuid)
	w.setGauge(count)
	logger.Log.Infof("Player %s left (%d online)", uuid, count)

	w.relay(ctx, protocol.NewLeave(uuid))
	return nil
}

// OnPlayerInput applies one tick of movement intent. Input for identities
// that have not joined is dropped.
func (w *World) OnPlayerInput(ctx context.Context, uuid string, move protocol.Vector2) error {
	w.transition.Lock()
	defer w.transition.Unlock()

	w.mutex.Lock()
	player, exists := w.players[uuid]
	if exists {
		player.LastMove = move
		player.LastInputAt = time.Now()
	}
	w.mutex.Unlock()

	if !exists {
		logger.Log.Debugf("Dropping input for %q: not joined", uuid)
		return nil
	}

	w.presenter.Update(uuid, move)
	w.relay(ctx, protocol.NewDualStick(uuid, move))
	return nil
}

// OnUnhandled logs commands the world has no transition for.
func (w *World) OnUnhandled(ctx context.Context, tag protocol.Tag) {
	logger.Log.Warnf("World has no transition for %s", tag)
}

// GetPlayer returns a copy of the player's state.
func (w *World) GetPlayer(uuid string) (Player, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	player, exists := w.players[uuid]
	if !exists {
		return Player{}, false
	}
	return *player, true
}

// GetPlayers returns a snapshot of every joined player.
func (w *World) GetPlayers() []Player {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	players := make([]Player, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, *p)
	}
	return players
}

// Count returns the number of joined players.
func (w *World) Count() int {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return len(w.players)
}

func (w *World) setGauge(count int) {
	if w.gauge != nil {
		w.gauge.SetOnlinePlayers(count)
	}
}

// relay is best effort: the command is already applied locally.
func (w *World) relay(ctx context.Context, cmd protocol.Command) {
	if w.broadcaster == nil {
		return
	}
	if err := w.broadcaster.Broadcast(ctx, cmd); err != nil {
		logger.Log.Warnf("Failed to relay %s: %v", cmd.Tag(), err)
	}
}
