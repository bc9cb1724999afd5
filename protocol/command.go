// Package protocol defines the command envelope exchanged over the broker and
// its binary encoding.
//
// A command is exactly one of SecurityCommand or RawInputCommand. The set is
// closed: only this package can add variants, so a type switch over Command
// covers every case the decoder can produce.
package protocol

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedMessage is returned when bytes or values do not form a valid
// command at some level of the union.
var ErrMalformedMessage = errors.New("malformed message")

// Kind is the top-level discriminant of a command envelope.
type Kind int32

const (
	KindSecurity Kind = 0
	KindRawInput Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindSecurity:
		return "security"
	case KindRawInput:
		return "raw_input"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// SecurityAction is the discriminant of a security command.
type SecurityAction int32

const (
	SecurityJoin  SecurityAction = 0
	SecurityLeave SecurityAction = 1
)

func (a SecurityAction) String() string {
	switch a {
	case SecurityJoin:
		return "join"
	case SecurityLeave:
		return "leave"
	default:
		return fmt.Sprintf("action(%d)", int32(a))
	}
}

func (a SecurityAction) valid() bool {
	return a == SecurityJoin || a == SecurityLeave
}

// InputScheme is the discriminant of a raw input command.
type InputScheme int32

const (
	SchemeDualStick InputScheme = 0
)

func (s InputScheme) String() string {
	switch s {
	case SchemeDualStick:
		return "dual_stick"
	default:
		return fmt.Sprintf("scheme(%d)", int32(s))
	}
}

// Tag names both levels of a command's discriminant, e.g. security/join.
type Tag struct {
	Kind    Kind
	Variant string
}

func (t Tag) String() string {
	return t.Kind.String() + "/" + t.Variant
}

// Command is the envelope. Implemented by SecurityCommand and RawInputCommand.
type Command interface {
	Kind() Kind
	Tag() Tag
	isCommand()
}

// SecurityCommand carries a membership event for one player.
type SecurityCommand struct {
	Action SecurityAction
	UUID   string
}

func (SecurityCommand) Kind() Kind { return KindSecurity }

func (c SecurityCommand) Tag() Tag { return Tag{Kind: KindSecurity, Variant: c.Action.String()} }

func (SecurityCommand) isCommand() {}

// RawInputCommand carries one tick of input for one player.
type RawInputCommand struct {
	UUID  string
	Input RawInput
}

func (RawInputCommand) Kind() Kind { return KindRawInput }

func (c RawInputCommand) Tag() Tag {
	if c.Input == nil {
		return Tag{Kind: KindRawInput, Variant: "none"}
	}
	return Tag{Kind: KindRawInput, Variant: c.Input.Scheme().String()}
}

func (RawInputCommand) isCommand() {}

// RawInput is one input-scheme payload. Implemented by DualStick.
type RawInput interface {
	Scheme() InputScheme
	isRawInput()
}

// DualStick is raw twin-stick intent. Move is not normalized.
type DualStick struct {
	Move Vector2
}

func (DualStick) Scheme() InputScheme { return SchemeDualStick }

func (DualStick) isRawInput() {}

// Vector2 is a 2D intent or position.
type Vector2 struct {
	X float32
	Y float32
}

// IsZero reports whether both components are zero.
func (v Vector2) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// IsFinite reports whether neither component is NaN or infinite.
func (v Vector2) IsFinite() bool {
	x, y := float64(v.X), float64(v.Y)
	return !math.IsNaN(x) && !math.IsInf(x, 0) && !math.IsNaN(y) && !math.IsInf(y, 0)
}

// HasIntent reports whether v is a usable, non-zero movement.
func (v Vector2) HasIntent() bool {
	return v.IsFinite() && !v.IsZero()
}

// NewJoin builds a security/join command.
func NewJoin(uuid string) SecurityCommand {
	return SecurityCommand{Action: SecurityJoin, UUID: uuid}
}

// NewLeave builds a security/leave command.
func NewLeave(uuid string) SecurityCommand {
	return SecurityCommand{Action: SecurityLeave, UUID: uuid}
}

// NewDualStick builds a raw_input/dual_stick command.
func NewDualStick(uuid string, move Vector2) RawInputCommand {
	return RawInputCommand{UUID: uuid, Input: DualStick{Move: move}}
}

// Validate reports whether cmd satisfies the invariants the decoder enforces.
func Validate(cmd Command) error {
	switch c := cmd.(type) {
	case SecurityCommand:
		if !c.Action.valid() {
			return fmt.Errorf("%w: unknown security action %d", ErrMalformedMessage, c.Action)
		}
		if c.UUID == "" {
			return fmt.Errorf("%w: security command without uuid", ErrMalformedMessage)
		}
		return nil
	case RawInputCommand:
		switch c.Input.(type) {
		case DualStick:
			return nil
		case nil:
			return fmt.Errorf("%w: raw input command without payload", ErrMalformedMessage)
		default:
			return fmt.Errorf("%w: unknown input scheme %s", ErrMalformedMessage, c.Input.Scheme())
		}
	case nil:
		return fmt.Errorf("%w: nil command", ErrMalformedMessage)
	default:
		return fmt.Errorf("%w: unknown command %T", ErrMalformedMessage, cmd)
	}
}
