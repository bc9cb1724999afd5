// Package topology declares the fixed set of broker addresses this process
// links to.
package topology

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownRole    = errors.New("unknown link role")
	ErrInvalidAddress = errors.New("invalid link address")
)

// Default address names.
const (
	GameEventAddress = "GAME.EVENT.OUT"
	CommandAddress   = "COMMAND.IN"
)

type Direction int

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Receive {
		return "receive"
	}
	return "send"
}

// Class is the delivery class of an address.
type Class int

const (
	// MulticastTopic delivers a copy of each message to every subscriber.
	MulticastTopic Class = iota
	// AnycastQueue delivers each message to exactly one consumer.
	AnycastQueue
)

func (c Class) String() string {
	if c == AnycastQueue {
		return "anycast_queue"
	}
	return "multicast_topic"
}

// Capability is the AMQP terminus capability that asks the broker for this
// delivery class.
func (c Class) Capability() string {
	if c == AnycastQueue {
		return "queue"
	}
	return "topic"
}

// LinkAddress is one end of a link: a broker address, the direction this
// process uses it in, and how the broker delivers on it.
type LinkAddress struct {
	Name      string
	Direction Direction
	Class     Class
}

func (a LinkAddress) String() string {
	return fmt.Sprintf("%s(%s,%s)", a.Name, a.Direction, a.Class)
}

// Role is what a link is used for.
type Role int

const (
	// GameEvents broadcasts game-state updates from the server to all clients.
	GameEvents Role = iota
	// CommandIn consumes client commands.
	CommandIn
	// CommandLoopback sends commands onto the ingestion queue, used by clients
	// and for local testing.
	CommandLoopback
)

func (r Role) String() string {
	switch r {
	case GameEvents:
		return "game_events"
	case CommandIn:
		return "command_in"
	case CommandLoopback:
		return "command_loopback"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Addresses overrides the default address names.
type Addresses struct {
	GameEvents string
	Commands   string
}

// Topology maps roles to addresses. It is immutable after construction.
type Topology struct {
	links map[Role]LinkAddress
}

// Default returns the topology with the standard address names.
func Default() *Topology {
	t, _ := New(Addresses{})
	return t
}

// New builds a topology, falling back to the default name for any empty
// entry in addrs.
func New(addrs Addresses) (*Topology, error) {
	if addrs.GameEvents == "" {
		addrs.GameEvents = GameEventAddress
	}
	if addrs.Commands == "" {
		addrs.Commands = CommandAddress
	}
	if addrs.GameEvents == addrs.Commands {
		return nil, fmt.Errorf("%w: game events and commands share address %q", ErrInvalidAddress, addrs.Commands)
	}

	t := &Topology{links: map[Role]LinkAddress{
		GameEvents:      {Name: addrs.GameEvents, Direction: Send, Class: MulticastTopic},
		CommandIn:       {Name: addrs.Commands, Direction: Receive, Class: AnycastQueue},
		CommandLoopback: {Name: addrs.Commands, Direction: Send, Class: AnycastQueue},
	}}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topology) validate() error {
	if t.links[GameEvents].Class != MulticastTopic {
		return fmt.Errorf("%w: game event broadcast must be a multicast topic", ErrInvalidAddress)
	}
	for _, r := range []Role{CommandIn, CommandLoopback} {
		if t.links[r].Class != AnycastQueue {
			return fmt.Errorf("%w: %s must be an anycast queue", ErrInvalidAddress, r)
		}
	}
	return nil
}

// Resolve returns the address bound to role.
func (t *Topology) Resolve(role Role) (LinkAddress, error) {
	addr, ok := t.links[role]
	if !ok {
		return LinkAddress{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return addr, nil
}

// MustResolve is Resolve for roles fixed at compile time.
func (t *Topology) MustResolve(role Role) LinkAddress {
	addr, err := t.Resolve(role)
	if err != nil {
		panic(err)
	}
	return addr
}
