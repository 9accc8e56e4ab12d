package adapter

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"dltcan/internal/protocol"
)

var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand parses an injection command string:
//
//	CAN <hexId> <hexBytes>
//	CANCYC1 off
//	CANCYC1 <periodMs> <hexId> <hexBytes>
//
// CANCYC2 works like CANCYC1.
func ParseCommand(raw string) (protocol.Command, error) {
	cmd := protocol.Command{Raw: raw}

	fields := strings.Fields(strings.TrimRight(raw, "\x00"))
	if len(fields) == 0 {
		return cmd, ErrUnknownCommand
	}

	keyword := strings.ToUpper(fields[0])
	switch keyword {
	case "CAN":
		if len(fields) < 2 || len(fields) > 3 {
			return cmd, fmt.Errorf("CAN: expected id and data, got %d arguments", len(fields)-1)
		}
		frame, err := parseFrame(fields[1:])
		if err != nil {
			return cmd, fmt.Errorf("CAN: %w", err)
		}
		cmd.Type = protocol.CmdSend
		cmd.Frame = frame
		return cmd, nil

	case "CANCYC1", "CANCYC2":
		cmd.Slot = int(keyword[len(keyword)-1] - '0')
		if len(fields) == 2 && strings.EqualFold(fields[1], "off") {
			cmd.Type = protocol.CmdCyclicDisable
			return cmd, nil
		}
		if len(fields) < 3 || len(fields) > 4 {
			return cmd, fmt.Errorf("%s: expected period, id and data", keyword)
		}
		period, err := strconv.Atoi(fields[1])
		if err != nil || period <= 0 {
			return cmd, fmt.Errorf("%s: invalid period %q", keyword, fields[1])
		}
		frame, err := parseFrame(fields[2:])
		if err != nil {
			return cmd, fmt.Errorf("%s: %w", keyword, err)
		}
		cmd.Type = protocol.CmdCyclicEnable
		cmd.Period = period
		cmd.Frame = frame
		return cmd, nil
	}

	return cmd, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
}

func parseFrame(fields []string) (protocol.CANFrame, error) {
	data := ""
	if len(fields) > 1 {
		data = fields[1]
	}
	return ParseFrame(fields[0], data)
}

// ParseFrame builds a frame from a hex identifier and a hex payload.
// Identifiers above 0x7FF are flagged extended.
func ParseFrame(id, data string) (protocol.CANFrame, error) {
	value, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return protocol.CANFrame{}, fmt.Errorf("invalid id %q", id)
	}

	var payload []byte
	if data != "" {
		payload, err = hex.DecodeString(data)
		if err != nil {
			return protocol.CANFrame{}, fmt.Errorf("invalid data %q: %w", data, err)
		}
		if len(payload) > 255 {
			return protocol.CANFrame{}, ErrPayloadTooLong
		}
	}

	return protocol.CANFrame{
		ID:       uint32(value),
		Extended: value > 0x7FF,
		Data:     payload,
	}, nil
}
