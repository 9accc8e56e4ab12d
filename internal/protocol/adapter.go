package protocol

// PacketScanner handles packet boundary detection from a TCP stream
type PacketScanner interface {
	// Scan extracts one complete packet from buffer
	// completePacket: the extracted packet, nil if more bytes are needed
	// restBuffer: remaining unprocessed bytes
	Scan(buffer []byte) (completePacket []byte, restBuffer []byte, err error)
}

// LinkObserver receives events from the serial CAN link
type LinkObserver interface {
	// LinkStatus reports a link status change (see Link* constants)
	LinkStatus(status string)

	// CANMessage reports a frame received from the adapter or sent to it
	CANMessage(frame CANFrame)
}

// ServerObserver receives events from the DLT server
type ServerObserver interface {
	// ServerStatus reports a server status change (see Server* constants)
	ServerStatus(status string)

	// InjectionReceived reports the command string of an injection request
	InjectionReceived(command string)
}
