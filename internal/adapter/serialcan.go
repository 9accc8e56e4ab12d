package adapter

import (
	"encoding/binary"
	"errors"

	"dltcan/internal/protocol"
)

const (
	// Serial adapter protocol constants
	SerialStart byte = 0x7F

	SerialSendOK     byte = 0x01
	SerialWatchdog   byte = 0x02
	SerialSendError  byte = 0xFE
	SerialInitOK     byte = 0x00
	SerialInitError  byte = 0xFF
	SerialStandardID byte = 0x80
	SerialExtendedID byte = 0x81

	standardHeaderSize = 4
	extendedHeaderSize = 6

	// Largest frame the adapter can announce: extended header plus a 255 byte payload
	maxSerialFrameSize = extendedHeaderSize + 255
)

// ErrPayloadTooLong is returned when a payload does not fit the one byte length field
var ErrPayloadTooLong = errors.New("payload longer than 255 bytes")

// SerialEventType identifies what the decoder recognised
type SerialEventType int

const (
	EventSendOK SerialEventType = iota
	EventWatchdog
	EventSendError
	EventInitOK
	EventInitError
	EventFrame
)

// SerialEvent is one complete message decoded from the adapter byte stream
type SerialEvent struct {
	Type  SerialEventType
	Frame protocol.CANFrame
}

// Status returns the link status string for adapter status events,
// or "" for watchdog pulses and frames.
func (e SerialEvent) Status() string {
	switch e.Type {
	case EventSendOK:
		return protocol.LinkSendOK
	case EventSendError:
		return protocol.LinkSendError
	case EventInitOK:
		return protocol.LinkInitOK
	case EventInitError:
		return protocol.LinkInitError
	}
	return ""
}

// SerialDecoder turns the adapter byte stream into events.
// It keeps at most one unresolved message between calls to Feed.
type SerialDecoder struct {
	raw        []byte
	startFound bool
}

// NewSerialDecoder creates a decoder with an empty assembly buffer
func NewSerialDecoder() *SerialDecoder {
	return &SerialDecoder{raw: make([]byte, 0, 64)}
}

// Reset drops any partially assembled message
func (d *SerialDecoder) Reset() {
	d.raw = d.raw[:0]
	d.startFound = false
}

// Feed consumes data and returns the events completed by it, in order.
// The result does not depend on how the stream is split across calls.
func (d *SerialDecoder) Feed(data []byte) []SerialEvent {
	var events []SerialEvent
	for _, b := range data {
		if b == SerialStart {
			if d.startFound {
				// doubled start marker is a literal data byte
				d.raw = append(d.raw, b)
				d.startFound = false
			} else {
				d.startFound = true
			}
		} else {
			if d.startFound {
				d.raw = d.raw[:0]
			}
			d.raw = append(d.raw, b)
			d.startFound = false
		}

		if ev, ok := d.match(); ok {
			events = append(events, ev)
			d.raw = d.raw[:0]
		} else if len(d.raw) > maxSerialFrameSize {
			d.raw = d.raw[:0]
		}
	}
	return events
}

func (d *SerialDecoder) match() (SerialEvent, bool) {
	raw := d.raw
	if len(raw) == 0 {
		return SerialEvent{}, false
	}

	if len(raw) == 1 {
		switch raw[0] {
		case SerialSendOK:
			return SerialEvent{Type: EventSendOK}, true
		case SerialWatchdog:
			return SerialEvent{Type: EventWatchdog}, true
		case SerialSendError:
			return SerialEvent{Type: EventSendError}, true
		case SerialInitOK:
			return SerialEvent{Type: EventInitOK}, true
		case SerialInitError:
			return SerialEvent{Type: EventInitError}, true
		}
	}

	switch raw[0] {
	case SerialStandardID:
		if len(raw) < standardHeaderSize {
			return SerialEvent{}, false
		}
		length := int(raw[1])
		if len(raw) < standardHeaderSize+length {
			return SerialEvent{}, false
		}
		return SerialEvent{
			Type: EventFrame,
			Frame: protocol.CANFrame{
				ID:   uint32(binary.BigEndian.Uint16(raw[2:4])),
				Data: copyBytes(raw[standardHeaderSize : standardHeaderSize+length]),
			},
		}, true

	case SerialExtendedID:
		if len(raw) < extendedHeaderSize {
			return SerialEvent{}, false
		}
		length := int(raw[1])
		if len(raw) < extendedHeaderSize+length {
			return SerialEvent{}, false
		}
		return SerialEvent{
			Type: EventFrame,
			Frame: protocol.CANFrame{
				ID:       binary.BigEndian.Uint32(raw[2:6]),
				Extended: true,
				Data:     copyBytes(raw[extendedHeaderSize : extendedHeaderSize+length]),
			},
		}, true
	}

	return SerialEvent{}, false
}

// EncodeSerialFrame builds the adapter send request for frame.
// The adapter only accepts the 2 byte identifier shape, so the identifier
// is truncated to 16 bits even for extended frames.
func EncodeSerialFrame(frame protocol.CANFrame) ([]byte, error) {
	if len(frame.Data) > 255 {
		return nil, ErrPayloadTooLong
	}

	buf := make([]byte, 5+len(frame.Data))
	buf[0] = SerialStart
	buf[1] = SerialStandardID
	buf[2] = byte(len(frame.Data))
	binary.BigEndian.PutUint16(buf[3:5], uint16(frame.ID))
	copy(buf[5:], frame.Data)
	return buf, nil
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
