package adapter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

// buildControlRequest assembles a control request message with the given
// header type flags, service id and injection payload
func buildControlRequest(htyp byte, serviceID uint32, payload []byte) []byte {
	var msg []byte
	msg = append(msg, htyp|HtypUseExtendedHeader, 0x00, 0x00, 0x00)
	if htyp&HtypWithECUID != 0 {
		msg = append(msg, 'E', 'C', 'U', '1')
	}
	if htyp&HtypWithSessionID != 0 {
		msg = append(msg, 0, 0, 0, 1)
	}
	if htyp&HtypWithTimestamp != 0 {
		msg = append(msg, 0, 0, 0x12, 0x34)
	}

	// msin: control request, non verbose
	msg = append(msg, MessageTypeInfoRequest<<4|MessageTypeControl<<1, 0x00)
	msg = append(msg, 'A', 'P', 'P', '1', 'C', 'T', 'X', '1')
	msg = binary.LittleEndian.AppendUint32(msg, serviceID)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(len(payload)))
	msg = append(msg, payload...)

	binary.BigEndian.PutUint16(msg[2:4], uint16(len(msg)))
	return msg
}

func TestEncodeLogRecordSingleArg(t *testing.T) {
	text := "ABCD1234"
	data, err := EncodeLogRecord(LogRecord{AppID: "DLT ", CtxID: "Mini", Level: LogInfo, Args: []string{text}})
	if err != nil {
		t.Fatalf("EncodeLogRecord returned error: %v", err)
	}

	wantLen := 4 + 10 + 4 + 2 + len(text)
	if len(data) != wantLen {
		t.Fatalf("expected %d bytes, got %d", wantLen, len(data))
	}
	if got := int(binary.BigEndian.Uint16(data[2:4])); got != wantLen {
		t.Fatalf("declared length %d want %d", got, wantLen)
	}
	if data[0] != 0x21 || data[1] != 0x00 {
		t.Fatalf("unexpected standard header %x", data[:4])
	}
	if data[4] != LogInfo<<4|0x01 {
		t.Fatalf("unexpected msin 0x%02x", data[4])
	}
	if data[5] != 1 {
		t.Fatalf("unexpected argument count %d", data[5])
	}
	if string(data[6:10]) != "DLT " || string(data[10:14]) != "Mini" {
		t.Fatalf("unexpected ids %q %q", data[6:10], data[10:14])
	}
	if !bytes.Equal(data[14:18], []byte{0x00, 0x02, 0x00, 0x00}) {
		t.Fatalf("unexpected type info %x", data[14:18])
	}
	if got := binary.LittleEndian.Uint16(data[18:20]); int(got) != len(text) {
		t.Fatalf("argument length %d want %d", got, len(text))
	}
	if string(data[20:]) != text {
		t.Fatalf("unexpected argument %q", data[20:])
	}
}

func TestEncodeLogRecordThreeArgs(t *testing.T) {
	args := []string{"CAN", "00000123", "aabb"}
	data, err := EncodeLogRecord(LogRecord{AppID: "DLT", CtxID: "Mini", Level: LogWarn, Args: args})
	if err != nil {
		t.Fatalf("EncodeLogRecord returned error: %v", err)
	}

	wantLen := 14
	for _, a := range args {
		wantLen += 6 + len(a)
	}
	if got := int(binary.BigEndian.Uint16(data[2:4])); got != wantLen || len(data) != wantLen {
		t.Fatalf("length field %d, buffer %d, want %d", got, len(data), wantLen)
	}
	if data[5] != 3 {
		t.Fatalf("unexpected argument count %d", data[5])
	}
	// short ids are zero padded
	if !bytes.Equal(data[6:10], []byte{'D', 'L', 'T', 0x00}) {
		t.Fatalf("unexpected application id %x", data[6:10])
	}

	pos := 14
	for _, a := range args {
		if !bytes.Equal(data[pos:pos+4], stringTypeInfo[:]) {
			t.Fatalf("unexpected type info at %d: %x", pos, data[pos:pos+4])
		}
		n := int(binary.LittleEndian.Uint16(data[pos+4 : pos+6]))
		if got := string(data[pos+6 : pos+6+n]); got != a {
			t.Fatalf("argument %q want %q", got, a)
		}
		pos += 6 + n
	}
}

func TestEncodeLogRecordUTF8Length(t *testing.T) {
	data, err := EncodeLogRecord(LogRecord{AppID: "DLT ", CtxID: "Mini", Level: LogInfo, Args: []string{"Grüße"}})
	if err != nil {
		t.Fatalf("EncodeLogRecord returned error: %v", err)
	}
	if got := binary.LittleEndian.Uint16(data[18:20]); got != uint16(len("Grüße")) {
		t.Fatalf("argument length must count bytes, got %d", got)
	}
}

func TestEncodeLogRecordArgCount(t *testing.T) {
	for _, args := range [][]string{nil, {"a", "b", "c", "d"}} {
		if _, err := EncodeLogRecord(LogRecord{AppID: "DLT ", CtxID: "Mini", Args: args}); !errors.Is(err, ErrArgCount) {
			t.Fatalf("for %d args expected ErrArgCount, got %v", len(args), err)
		}
	}
}

func TestDecodeControlInjection(t *testing.T) {
	msg := buildControlRequest(HtypVersion1, ServiceInjection, []byte("CAN 0100 0102"))
	req, ok := DecodeControl(msg)
	if !ok {
		t.Fatalf("expected injection request")
	}
	if req.ServiceID != ServiceInjection || req.Payload != "CAN 0100 0102" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestDecodeControlLongPayload(t *testing.T) {
	payload := "CAN 0100 " + strings.Repeat("ab", 150)
	msg := buildControlRequest(HtypVersion1, ServiceInjection, []byte(payload))
	req, ok := DecodeControl(msg)
	if !ok || req.Payload != payload {
		t.Fatalf("expected %d byte payload, got %d (%v)", len(payload), len(req.Payload), ok)
	}
}

func TestDecodeControlOptionalHeaderFields(t *testing.T) {
	htyp := HtypVersion1 | HtypWithECUID | HtypWithSessionID | HtypWithTimestamp
	msg := buildControlRequest(htyp, ServiceInjection, []byte("CANCYC1 off"))
	req, ok := DecodeControl(msg)
	if !ok || req.Payload != "CANCYC1 off" {
		t.Fatalf("unexpected result %+v %v", req, ok)
	}
}

func TestDecodeControlLatin1(t *testing.T) {
	msg := buildControlRequest(HtypVersion1, ServiceInjection, []byte{'C', 0xE4})
	req, ok := DecodeControl(msg)
	if !ok || req.Payload != "Cä" {
		t.Fatalf("unexpected result %+v %v", req, ok)
	}
}

func TestDecodeControlIgnored(t *testing.T) {
	other := buildControlRequest(HtypVersion1, 0x04, []byte("CAN 0100 0102"))
	if _, ok := DecodeControl(other); ok {
		t.Fatalf("service id 4 must be ignored")
	}

	logMsg, err := EncodeLogRecord(LogRecord{AppID: "DLT ", CtxID: "Mini", Level: LogInfo, Args: []string{"CAN 0100 0102"}})
	if err != nil {
		t.Fatalf("EncodeLogRecord returned error: %v", err)
	}
	if _, ok := DecodeControl(logMsg); ok {
		t.Fatalf("log messages must be ignored")
	}

	noExt := buildControlRequest(HtypVersion1, ServiceInjection, []byte("x"))
	noExt[0] &^= HtypUseExtendedHeader
	if _, ok := DecodeControl(noExt); ok {
		t.Fatalf("messages without extended header must be ignored")
	}

	truncated := buildControlRequest(HtypVersion1, ServiceInjection, []byte("CAN 0100 0102"))
	truncated = truncated[:len(truncated)-3]
	if _, ok := DecodeControl(truncated); ok {
		t.Fatalf("payload shorter than its declared length must be ignored")
	}

	if _, ok := DecodeControl([]byte{0x21, 0x00}); ok {
		t.Fatalf("short buffer must be ignored")
	}
}

func TestDLTScannerCoalesced(t *testing.T) {
	a := buildControlRequest(HtypVersion1, ServiceInjection, []byte("CAN 0100 0102"))
	b := buildControlRequest(HtypVersion1, ServiceInjection, []byte("CANCYC2 off"))
	stream := append(append([]byte(nil), a...), b...)

	s := NewDLTScanner()
	p1, rest, err := s.Scan(stream)
	if err != nil || !bytes.Equal(p1, a) {
		t.Fatalf("first packet mismatch: %x, %v", p1, err)
	}
	p2, rest, err := s.Scan(rest)
	if err != nil || !bytes.Equal(p2, b) {
		t.Fatalf("second packet mismatch: %x, %v", p2, err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected rest %x", rest)
	}
	p3, rest, err := s.Scan(rest)
	if p3 != nil || err != nil || len(rest) != 0 {
		t.Fatalf("empty buffer must yield nothing")
	}
}

func TestDLTScannerPartial(t *testing.T) {
	msg := buildControlRequest(HtypVersion1, ServiceInjection, []byte("CAN 0100 0102"))
	s := NewDLTScanner()

	for _, n := range []int{0, 2, 4, len(msg) - 1} {
		p, rest, err := s.Scan(msg[:n])
		if p != nil || err != nil || len(rest) != n {
			t.Fatalf("prefix %d: packet %x rest %d err %v", n, p, len(rest), err)
		}
	}
}

func TestDLTScannerInvalidLength(t *testing.T) {
	_, rest, err := NewDLTScanner().Scan([]byte{0x21, 0x00, 0x00, 0x02, 0xAA})
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if rest != nil {
		t.Fatalf("buffer must be dropped on invalid length")
	}
}
