package adapter

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"dltcan/internal/protocol"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		input  string
		typ    string
		slot   int
		period int
		id     uint32
		data   []byte
	}{
		{"CAN 0100 0102", protocol.CmdSend, 0, 0, 0x100, []byte{0x01, 0x02}},
		{"can 7ff", protocol.CmdSend, 0, 0, 0x7FF, nil},
		{"CAN 123 aabb\x00", protocol.CmdSend, 0, 0, 0x123, []byte{0xAA, 0xBB}},
		{"CANCYC1 off", protocol.CmdCyclicDisable, 1, 0, 0, nil},
		{"CANCYC2 OFF", protocol.CmdCyclicDisable, 2, 0, 0, nil},
		{"CANCYC1 100 0200 11", protocol.CmdCyclicEnable, 1, 100, 0x200, []byte{0x11}},
		{"CANCYC2 1000 18FF0000 0102030405060708", protocol.CmdCyclicEnable, 2, 1000, 0x18FF0000, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	}

	for _, tc := range cases {
		cmd, err := ParseCommand(tc.input)
		if err != nil {
			t.Fatalf("for %q unexpected error %v", tc.input, err)
		}
		if cmd.Type != tc.typ || cmd.Slot != tc.slot || cmd.Period != tc.period {
			t.Fatalf("for %q got %+v", tc.input, cmd)
		}
		if cmd.Frame.ID != tc.id || !bytes.Equal(cmd.Frame.Data, tc.data) {
			t.Fatalf("for %q unexpected frame %+v", tc.input, cmd.Frame)
		}
		if cmd.Raw != tc.input {
			t.Fatalf("expected raw command to be preserved, got %q", cmd.Raw)
		}
	}
}

func TestParseCommandExtendedFlag(t *testing.T) {
	cmd, err := ParseCommand("CAN 18FF0000 01")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !cmd.Frame.Extended {
		t.Fatalf("identifier above 0x7FF must be flagged extended")
	}
}

func TestParseCommandErrors(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"RELAIS1 on",
		"CAN",
		"CAN zz 01",
		"CAN 100 0g",
		"CAN 100 01 02",
		"CANCYC1",
		"CANCYC1 fast 100 01",
		"CANCYC1 0 100 01",
		"CANCYC3 100 100 01",
	}

	for _, input := range cases {
		if _, err := ParseCommand(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}

	if _, err := ParseCommand("HELLO"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestParseFrame(t *testing.T) {
	frame, err := ParseFrame("0123", "")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if frame.ID != 0x123 || frame.Extended || frame.Data != nil {
		t.Fatalf("unexpected frame %+v", frame)
	}

	if _, err := ParseFrame("100", strings.Repeat("00", 256)); !errors.Is(err, ErrPayloadTooLong) {
		t.Fatalf("expected ErrPayloadTooLong, got %v", err)
	}
}
