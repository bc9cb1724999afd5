package protocol

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"join", NewJoin("abc-123")},
		{"leave", NewLeave("abc-123")},
		{"dual stick", NewDualStick("p1", Vector2{X: 1, Y: 0})},
		{"dual stick negative", NewDualStick("p2", Vector2{X: -0.5, Y: -1})},
		{"dual stick without uuid", NewDualStick("", Vector2{X: 0.25, Y: 3})},
		{"long uuid", NewJoin("6f1c2a54-9d8e-4b7a-a1c3-0e6f2d9b8c7a-with-a-suffix-that-keeps-going")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.cmd)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got != tt.cmd {
				t.Errorf("round trip mismatch: got %#v, want %#v", got, tt.cmd)
			}
			if got.Tag() != tt.cmd.Tag() {
				t.Errorf("tag mismatch: got %s, want %s", got.Tag(), tt.cmd.Tag())
			}
		})
	}
}

func TestDecode_MovementScenario(t *testing.T) {
	data, err := Encode(NewDualStick("p1", Vector2{X: 1, Y: 0}))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	cmd, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	raw, ok := cmd.(RawInputCommand)
	if !ok {
		t.Fatalf("expected RawInputCommand, got %T", cmd)
	}
	ds, ok := raw.Input.(DualStick)
	if !ok {
		t.Fatalf("expected DualStick input, got %T", raw.Input)
	}
	if raw.UUID != "p1" || ds.Move != (Vector2{X: 1, Y: 0}) {
		t.Errorf("got uuid=%q move=%+v", raw.UUID, ds.Move)
	}
}

func TestEncode_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"nil", nil},
		{"empty security uuid", NewJoin("")},
		{"unknown security action", SecurityCommand{Action: 9, UUID: "x"}},
		{"raw input without payload", RawInputCommand{UUID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.cmd); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("expected ErrMalformedMessage, got %v", err)
			}
		})
	}
}

// Hand-built messages below use the same field numbers as the codec so the
// malformed cases are exact.

func enumField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func bytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func securityPayload(action uint64, uuid string) []byte {
	b := enumField(nil, 1, action)
	return bytesField(b, 2, []byte(uuid))
}

func TestDecode_Malformed(t *testing.T) {
	validSecurity := securityPayload(0, "abc")
	validRaw, err := Encode(NewDualStick("p1", Vector2{X: 1}))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xff, 0xff, 0xff}},
		{"truncated", validRaw[:len(validRaw)-2]},
		{"unknown top-level type", bytesField(enumField(nil, 1, 7), 2, validSecurity)},
		{"missing top-level type", bytesField(nil, 2, validSecurity)},
		{"security tag without payload", enumField(nil, 1, 0)},
		{"security tag with raw input payload", bytesField(enumField(nil, 1, 0), 3, []byte{0x08, 0x00})},
		{"both payloads", bytesField(bytesField(enumField(nil, 1, 0), 2, validSecurity), 3, []byte{0x08, 0x00})},
		{"unknown security action", bytesField(enumField(nil, 1, 0), 2, securityPayload(5, "abc"))},
		{"empty security uuid", bytesField(enumField(nil, 1, 0), 2, securityPayload(0, ""))},
		{"security without type", bytesField(enumField(nil, 1, 0), 2, bytesField(nil, 2, []byte("abc")))},
		{"unknown input scheme", bytesField(enumField(nil, 1, 1), 3, enumField(nil, 1, 3))},
		{"dual stick without payload", bytesField(enumField(nil, 1, 1), 3, enumField(nil, 1, 0))},
		{"type with wrong wire type", bytesField(nil, 1, []byte{0})},
		// 1<<32 would truncate to 0 (security, join) if not range checked.
		{"oversized top-level type", bytesField(enumField(nil, 1, 1<<32), 2, validSecurity)},
		{"oversized security action", bytesField(enumField(nil, 1, 0), 2, securityPayload(1<<32, "abc"))},
		{"oversized type at both levels", bytesField(enumField(nil, 1, 1<<32), 2, securityPayload(1<<32, "abc"))},
		{"oversized input scheme", bytesField(enumField(nil, 1, 1), 3, enumField(nil, 1, 1<<32))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Decode(tt.data)
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("expected ErrMalformedMessage, got %v", err)
			}
			if cmd != nil {
				t.Errorf("expected nil command on error, got %#v", cmd)
			}
		})
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	data, err := Encode(NewJoin("abc-123"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// A newer peer might add field 15 to the envelope.
	data = bytesField(data, 15, []byte("future"))
	data = enumField(data, 16, 42)

	cmd, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if cmd != NewJoin("abc-123") {
		t.Errorf("got %#v", cmd)
	}
}

func TestDecode_TagMatchesPayload(t *testing.T) {
	for _, c := range []Command{NewJoin("a"), NewLeave("b"), NewDualStick("c", Vector2{Y: 1})} {
		data, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		switch v := got.(type) {
		case SecurityCommand:
			if v.Kind() != KindSecurity {
				t.Errorf("security command reports kind %s", v.Kind())
			}
		case RawInputCommand:
			if v.Kind() != KindRawInput || v.Input == nil {
				t.Errorf("raw input command inconsistent: %#v", v)
			}
		default:
			t.Errorf("unexpected command type %T", got)
		}
	}
}

func TestTag_String(t *testing.T) {
	if got := NewJoin("x").Tag().String(); got != "security/join" {
		t.Errorf("got %q", got)
	}
	if got := NewDualStick("x", Vector2{}).Tag().String(); got != "raw_input/dual_stick" {
		t.Errorf("got %q", got)
	}
	if got := (RawInputCommand{}).Tag().String(); got != "raw_input/none" {
		t.Errorf("got %q", got)
	}
}
