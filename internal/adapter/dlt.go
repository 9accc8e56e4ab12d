package adapter

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

const (
	// DLT header type flags
	HtypUseExtendedHeader byte = 0x01
	HtypMSBFirst          byte = 0x02
	HtypWithECUID         byte = 0x04
	HtypWithSessionID     byte = 0x08
	HtypWithTimestamp     byte = 0x10
	HtypVersion1          byte = 0x20

	dltStandardHeaderSize = 4
	dltExtendedHeaderSize = 10
	dltArgHeaderSize      = 6

	// Message info
	msinVerbose            byte = 0x01
	MessageTypeControl     byte = 0x3
	MessageTypeInfoRequest byte = 0x1

	// ServiceInjection is the first service id reserved for injection requests
	ServiceInjection uint32 = 4096

	maxLogArgs = 3
)

// Log levels
const (
	LogFatal   byte = 0x1
	LogError   byte = 0x2
	LogWarn    byte = 0x3
	LogInfo    byte = 0x4
	LogDebug   byte = 0x5
	LogVerbose byte = 0x6
)

var (
	ErrArgCount      = errors.New("log record needs 1 to 3 arguments")
	ErrInvalidLength = errors.New("declared message length shorter than standard header")

	stringTypeInfo = [4]byte{0x00, 0x02, 0x00, 0x00}
)

// LogRecord is an outgoing verbose DLT log message with string arguments
type LogRecord struct {
	AppID string
	CtxID string
	Level byte
	Args  []string
}

// InjectionRequest is a decoded network trace injection control request
type InjectionRequest struct {
	ServiceID uint32
	Payload   string
}

// EncodeLogRecord builds a DLT message with standard and extended header.
// Application and context ids are copied into 4 bytes, zero padded.
func EncodeLogRecord(rec LogRecord) ([]byte, error) {
	if len(rec.Args) == 0 || len(rec.Args) > maxLogArgs {
		return nil, ErrArgCount
	}

	total := dltStandardHeaderSize + dltExtendedHeaderSize
	for _, arg := range rec.Args {
		total += dltArgHeaderSize + len(arg)
	}
	if total > 0xFFFF {
		return nil, fmt.Errorf("log record too long: %d bytes", total)
	}

	buf := make([]byte, 0, total)

	// Standard header
	buf = append(buf, HtypVersion1|HtypUseExtendedHeader, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(total))

	// Extended header
	buf = append(buf, rec.Level<<4|msinVerbose, byte(len(rec.Args)))
	buf = appendID(buf, rec.AppID)
	buf = appendID(buf, rec.CtxID)

	// Payload
	for _, arg := range rec.Args {
		buf = append(buf, stringTypeInfo[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(arg)))
		buf = append(buf, arg...)
	}

	return buf, nil
}

func appendID(buf []byte, id string) []byte {
	var field [4]byte
	copy(field[:], id)
	return append(buf, field[:]...)
}

// StandardHeaderLength returns the standard header size announced by htyp
func StandardHeaderLength(htyp byte) int {
	n := dltStandardHeaderSize
	if htyp&HtypWithECUID != 0 {
		n += 4
	}
	if htyp&HtypWithSessionID != 0 {
		n += 4
	}
	if htyp&HtypWithTimestamp != 0 {
		n += 4
	}
	return n
}

// DecodeControl inspects one complete DLT message and returns the injection
// request it carries. Anything else reports false.
func DecodeControl(msg []byte) (InjectionRequest, bool) {
	if len(msg) < dltStandardHeaderSize {
		return InjectionRequest{}, false
	}

	htyp := msg[0]
	if htyp&HtypUseExtendedHeader == 0 {
		return InjectionRequest{}, false
	}

	ext := StandardHeaderLength(htyp)
	payload := ext + dltExtendedHeaderSize
	if len(msg) < payload+4 {
		return InjectionRequest{}, false
	}

	msin := msg[ext]
	mstp := (msin >> 1) & 0x07
	mtin := (msin >> 4) & 0x0F
	if mstp != MessageTypeControl || mtin != MessageTypeInfoRequest {
		return InjectionRequest{}, false
	}

	serviceID := binary.LittleEndian.Uint32(msg[payload : payload+4])
	if serviceID != ServiceInjection || len(msg) < payload+8 {
		return InjectionRequest{}, false
	}

	// Full little endian uint32. Decoders that repeat byte 15 in the upper
	// bytes agree with this for lengths below 256 only.
	length := binary.LittleEndian.Uint32(msg[payload+4 : payload+8])
	data := msg[payload+8:]
	if uint64(len(data)) < uint64(length) {
		return InjectionRequest{}, false
	}

	text, err := charmap.ISO8859_1.NewDecoder().Bytes(data[:length])
	if err != nil {
		return InjectionRequest{}, false
	}

	return InjectionRequest{ServiceID: serviceID, Payload: string(text)}, true
}

// DLTScanner splits a TCP stream into DLT messages using the big endian
// length of the standard header
type DLTScanner struct{}

// NewDLTScanner creates a new DLT stream scanner
func NewDLTScanner() *DLTScanner {
	return &DLTScanner{}
}

// Scan implements protocol.PacketScanner
func (s *DLTScanner) Scan(buffer []byte) ([]byte, []byte, error) {
	if len(buffer) < dltStandardHeaderSize {
		return nil, buffer, nil
	}

	length := int(binary.BigEndian.Uint16(buffer[2:4]))
	if length < dltStandardHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if len(buffer) < length {
		return nil, buffer, nil
	}

	return buffer[:length], buffer[length:], nil
}
