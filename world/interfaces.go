package world

import (
	"context"

	"github.com/wfunc/srtgame/protocol"
)

// EntityPresenter shows player entities. Rendering lives outside this module.
type EntityPresenter interface {
	Create(id string)
	Remove(id string)
	Update(id string, move protocol.Vector2)
}

// Broadcaster relays applied commands to every connected client. It is
// defined here so world does not import the broker.
type Broadcaster interface {
	Broadcast(ctx context.Context, cmd protocol.Command) error
}

// MembershipStore records who is currently joined. Writes must be idempotent:
// under at-least-once delivery the same join or leave can arrive twice.
type MembershipStore interface {
	RecordJoin(ctx context.Context, uuid string) error
	RecordLeave(ctx context.Context, uuid string) error
}

// PlayerGauge tracks the number of joined players.
type PlayerGauge interface {
	SetOnlinePlayers(count int)
}
