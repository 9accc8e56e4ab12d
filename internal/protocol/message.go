package protocol

import (
	"encoding/hex"
	"fmt"
)

// CANFrame represents a single CAN frame
type CANFrame struct {
	ID       uint32 `json:"id"`
	Extended bool   `json:"extended"`
	Data     []byte `json:"data"`
}

// IDString formats the identifier the way it is logged to DLT
func (f CANFrame) IDString() string {
	return fmt.Sprintf("%08x", f.ID)
}

// DataString returns the payload as lower case hex
func (f CANFrame) DataString() string {
	return hex.EncodeToString(f.Data)
}

// Command represents a parsed injection command
type Command struct {
	Type   string
	Slot   int
	Period int
	Frame  CANFrame
	Raw    string
}

// Command types
const (
	CmdSend          = "CAN"
	CmdCyclicEnable  = "CANCYC"
	CmdCyclicDisable = "CANCYC_OFF"
)

// Link status values
const (
	LinkNotActive = "not active"
	LinkStarted   = "started"
	LinkStopped   = "stopped"
	LinkReconnect = "reconnect"
	LinkError     = "error"
	LinkSendOK    = "send ok"
	LinkSendError = "send error"
	LinkInitOK    = "init ok"
	LinkInitError = "init error"
)

// DLT server status values
const (
	ServerListening = "listening"
	ServerStopped   = "stopped"
	ServerConnected = "connected"
	ServerError     = "error"
)
