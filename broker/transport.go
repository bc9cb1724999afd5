package broker

import (
	"context"

	"github.com/wfunc/srtgame/topology"
)

// Transport is an open connection plus session to a broker. Session is the
// only caller; it owns the Transport and every link created from it.
type Transport interface {
	NewSender(ctx context.Context, addr topology.LinkAddress, opts SenderOptions) (Sender, error)
	NewReceiver(ctx context.Context, addr topology.LinkAddress, opts ReceiverOptions) (Receiver, error)
	Close(ctx context.Context) error
}

// SenderOptions configures a transport-level sender.
type SenderOptions struct {
	Name string
	// Presettled sends without waiting for the broker's disposition.
	Presettled bool
}

// ReceiverOptions configures a transport-level receiver.
type ReceiverOptions struct {
	Name   string
	Credit int32
}

type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close(ctx context.Context) error
}

type Receiver interface {
	// Receive blocks until a message arrives, the link fails, or ctx is done.
	Receive(ctx context.Context) (Delivery, error)
	Close(ctx context.Context) error
}

// Delivery is one inbound message awaiting settlement.
type Delivery interface {
	Payload() []byte
	// Accept settles the message; the broker will not redeliver it.
	Accept(ctx context.Context) error
	// Release returns the message to the broker for redelivery.
	Release(ctx context.Context) error
}
