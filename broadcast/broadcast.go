// broadcast/broadcast.go
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/srtgame/protocol"
)

var (
	ErrNoLink = errors.New("broadcast link not open")
)

// Sender is the send side of a broker link. *broker.SendLink implements it.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Broadcaster 广播接口
type Broadcaster interface {
	Broadcast(ctx context.Context, cmd protocol.Command) error
}

// TopicBroadcaster 通过游戏事件主题广播，每个订阅的客户端都会收到一份
type TopicBroadcaster struct {
	link Sender
}

func NewTopicBroadcaster(link Sender) *TopicBroadcaster {
	return &TopicBroadcaster{link: link}
}

func (b *TopicBroadcaster) Broadcast(ctx context.Context, cmd protocol.Command) error {
	if b.link == nil {
		return ErrNoLink
	}
	data, err := protocol.Encode(cmd)
	if err != nil {
		return fmt.Errorf("encode game event: %w", err)
	}
	return b.link.Send(ctx, data)
}
