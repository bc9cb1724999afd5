package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ContentType is set on every broker message carrying an encoded command.
const ContentType = "application/x-protobuf"

// Field numbers of the wire schema. These are shared with every participant
// and must never be renumbered or reused.
const (
	fieldCommandType     protowire.Number = 1
	fieldCommandSecurity protowire.Number = 2
	fieldCommandRawInput protowire.Number = 3

	fieldSecurityType protowire.Number = 1
	fieldSecurityUUID protowire.Number = 2

	fieldRawInputType      protowire.Number = 1
	fieldRawInputUUID      protowire.Number = 2
	fieldRawInputDualStick protowire.Number = 3

	fieldDualStickMove protowire.Number = 1

	fieldVecX protowire.Number = 1
	fieldVecY protowire.Number = 2
)

// Encode serializes cmd. It fails with ErrMalformedMessage for any value
// Decode would reject.
func Encode(cmd Command) ([]byte, error) {
	if err := Validate(cmd); err != nil {
		return nil, err
	}

	b := make([]byte, 0, 64)
	b = appendEnum(b, fieldCommandType, int32(cmd.Kind()))
	switch c := cmd.(type) {
	case SecurityCommand:
		b = protowire.AppendTag(b, fieldCommandSecurity, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSecurity(c))
	case RawInputCommand:
		b = protowire.AppendTag(b, fieldCommandRawInput, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeRawInput(c))
	}
	return b, nil
}

func encodeSecurity(c SecurityCommand) []byte {
	var b []byte
	b = appendEnum(b, fieldSecurityType, int32(c.Action))
	b = protowire.AppendTag(b, fieldSecurityUUID, protowire.BytesType)
	b = protowire.AppendString(b, c.UUID)
	return b
}

func encodeRawInput(c RawInputCommand) []byte {
	var b []byte
	b = appendEnum(b, fieldRawInputType, int32(c.Input.Scheme()))
	if c.UUID != "" {
		b = protowire.AppendTag(b, fieldRawInputUUID, protowire.BytesType)
		b = protowire.AppendString(b, c.UUID)
	}
	switch in := c.Input.(type) {
	case DualStick:
		b = protowire.AppendTag(b, fieldRawInputDualStick, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeDualStick(in))
	}
	return b
}

func encodeDualStick(d DualStick) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDualStickMove, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeVector(d.Move))
	return b
}

func encodeVector(v Vector2) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVecX, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(v.X))
	b = protowire.AppendTag(b, fieldVecY, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(v.Y))
	return b
}

func appendEnum(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

// Decode parses a command. Unknown fields are skipped; an unknown or missing
// discriminant at any level, or a payload that does not match it, yields
// ErrMalformedMessage and a nil command.
func Decode(data []byte) (Command, error) {
	var (
		kind        Kind
		hasKind     bool
		security    []byte
		rawInput    []byte
		hasSecurity bool
		hasRawInput bool
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldCommandType:
			v, n, err := consumeEnum(typ, b)
			kind, hasKind = Kind(v), true
			return n, err
		case fieldCommandSecurity:
			v, n, err := consumeBytes(typ, b)
			security, hasSecurity = v, true
			return n, err
		case fieldCommandRawInput:
			v, n, err := consumeBytes(typ, b)
			rawInput, hasRawInput = v, true
			return n, err
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if !hasKind {
		return nil, fmt.Errorf("%w: command buffer has no type", ErrMalformedMessage)
	}

	switch kind {
	case KindSecurity:
		if !hasSecurity || hasRawInput {
			return nil, fmt.Errorf("%w: security command buffer payload mismatch", ErrMalformedMessage)
		}
		return decodeSecurity(security)
	case KindRawInput:
		if !hasRawInput || hasSecurity {
			return nil, fmt.Errorf("%w: raw input command buffer payload mismatch", ErrMalformedMessage)
		}
		return decodeRawInput(rawInput)
	default:
		return nil, fmt.Errorf("%w: unknown command type %d", ErrMalformedMessage, int32(kind))
	}
}

func decodeSecurity(data []byte) (Command, error) {
	var (
		cmd     SecurityCommand
		hasType bool
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldSecurityType:
			v, n, err := consumeEnum(typ, b)
			cmd.Action, hasType = SecurityAction(v), true
			return n, err
		case fieldSecurityUUID:
			v, n, err := consumeBytes(typ, b)
			cmd.UUID = string(v)
			return n, err
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if !hasType {
		return nil, fmt.Errorf("%w: security command buffer has no type", ErrMalformedMessage)
	}
	if err := Validate(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeRawInput(data []byte) (Command, error) {
	var (
		cmd          RawInputCommand
		scheme       InputScheme
		hasType      bool
		dualStick    []byte
		hasDualStick bool
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRawInputType:
			v, n, err := consumeEnum(typ, b)
			scheme, hasType = InputScheme(v), true
			return n, err
		case fieldRawInputUUID:
			v, n, err := consumeBytes(typ, b)
			cmd.UUID = string(v)
			return n, err
		case fieldRawInputDualStick:
			v, n, err := consumeBytes(typ, b)
			dualStick, hasDualStick = v, true
			return n, err
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if !hasType {
		return nil, fmt.Errorf("%w: raw input command buffer has no type", ErrMalformedMessage)
	}

	switch scheme {
	case SchemeDualStick:
		if !hasDualStick {
			return nil, fmt.Errorf("%w: dual stick payload missing", ErrMalformedMessage)
		}
		ds, err := decodeDualStick(dualStick)
		if err != nil {
			return nil, err
		}
		cmd.Input = ds
		return cmd, nil
	default:
		return nil, fmt.Errorf("%w: unknown input scheme %d", ErrMalformedMessage, int32(scheme))
	}
}

func decodeDualStick(data []byte) (DualStick, error) {
	var ds DualStick
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldDualStickMove {
			return skip(num, typ, b)
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return n, err
		}
		ds.Move, err = decodeVector(v)
		return n, err
	})
	return ds, err
}

func decodeVector(data []byte) (Vector2, error) {
	var v Vector2
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldVecX:
			f, n, err := consumeFloat(typ, b)
			v.X = f
			return n, err
		case fieldVecY:
			f, n, err := consumeFloat(typ, b)
			v.Y = f
			return n, err
		}
		return skip(num, typ, b)
	})
	return v, err
}

// walk calls field for every field in data. field receives the bytes after
// the tag and returns how many of them it consumed.
func walk(data []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		data = data[n:]
		m, err := field(num, typ, data)
		if err != nil {
			return err
		}
		data = data[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("%w: field %d: %v", ErrMalformedMessage, num, protowire.ParseError(n))
	}
	return n, nil
}

func consumeEnum(typ protowire.Type, b []byte) (int32, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: enum field has wire type %d", ErrMalformedMessage, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
	}
	// Enums are int32 on the wire; negatives arrive sign-extended to 64 bits.
	if int64(v) != int64(int32(v)) {
		return 0, 0, fmt.Errorf("%w: enum value %d out of int32 range", ErrMalformedMessage, v)
	}
	return int32(v), n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: length-delimited field has wire type %d", ErrMalformedMessage, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeFloat(typ protowire.Type, b []byte) (float32, int, error) {
	if typ != protowire.Fixed32Type {
		return 0, 0, fmt.Errorf("%w: float field has wire type %d", ErrMalformedMessage, typ)
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
	}
	return math.Float32frombits(v), n, nil
}
