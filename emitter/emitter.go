// Package emitter turns local player intent into commands on the
// command-ingestion queue.
package emitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/protocol"
)

// Sender is the send side of a broker link. *broker.SendLink implements it.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// InputSampler yields the player's movement intent for the current tick.
type InputSampler interface {
	Sample() protocol.Vector2
}

// Emitter builds, encodes and sends commands. Every call builds a fresh
// command carrying exactly one branch of the union.
type Emitter struct {
	link Sender
}

func New(link Sender) *Emitter {
	return &Emitter{link: link}
}

// Join announces uuid. An empty identity is rejected before anything is sent.
func (e *Emitter) Join(ctx context.Context, uuid string) error {
	logger.Log.Debugf("Sending join with UUID: %s", uuid)
	return e.emit(ctx, protocol.NewJoin(uuid))
}

// Leave announces that uuid is leaving.
func (e *Emitter) Leave(ctx context.Context, uuid string) error {
	logger.Log.Debugf("Sending leave with UUID: %s", uuid)
	return e.emit(ctx, protocol.NewLeave(uuid))
}

// Move sends one tick of intent. A zero or non-finite vector is not sent and
// Move reports sent=false.
func (e *Emitter) Move(ctx context.Context, uuid string, intent protocol.Vector2) (sent bool, err error) {
	if !intent.HasIntent() {
		return false, nil
	}
	if err := e.emit(ctx, protocol.NewDualStick(uuid, intent)); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Emitter) emit(ctx context.Context, cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Tag(), err)
	}
	return e.link.Send(ctx, data)
}

// Run samples intent every interval and sends it for uuid until ctx is done.
// Send failures are logged and the loop keeps ticking.
func (e *Emitter) Run(ctx context.Context, uuid string, sampler InputSampler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.Move(ctx, uuid, sampler.Sample()); err != nil {
				logger.Log.Warnf("Failed to send movement for %s: %v", uuid, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// HeldIntent is an InputSampler holding the last intent set on it, like a
// stick that stays where it was pushed.
type HeldIntent struct {
	mutex  sync.RWMutex
	intent protocol.Vector2
}

func (h *HeldIntent) Set(v protocol.Vector2) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.intent = v
}

func (h *HeldIntent) Sample() protocol.Vector2 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.intent
}
