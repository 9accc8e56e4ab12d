package gateway

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"

	"dltcan/internal/protocol"
)

// FrameEvent is published for every CAN frame received or sent
type FrameEvent struct {
	GatewayID string `json:"gateway_id" cbor:"gateway_id"`
	ID        uint32 `json:"id" cbor:"id"`
	IDHex     string `json:"id_hex" cbor:"id_hex"`
	Extended  bool   `json:"extended" cbor:"extended"`
	Data      string `json:"data" cbor:"data"`
	Timestamp int64  `json:"timestamp" cbor:"timestamp"`
}

// StatusEvent is published when a component status changes
type StatusEvent struct {
	GatewayID string `json:"gateway_id" cbor:"gateway_id"`
	Component string `json:"component" cbor:"component"`
	Status    string `json:"status" cbor:"status"`
	Timestamp int64  `json:"timestamp" cbor:"timestamp"`
}

// CommandMessage is the payload accepted on the command subject
type CommandMessage struct {
	Command string `json:"command" cbor:"command"`
}

// Status components
const (
	ComponentCAN = "can"
	ComponentDLT = "dlt"
)

func newFrameEvent(gatewayID string, frame protocol.CANFrame) FrameEvent {
	return FrameEvent{
		GatewayID: gatewayID,
		ID:        frame.ID,
		IDHex:     frame.IDString(),
		Extended:  frame.Extended,
		Data:      frame.DataString(),
		Timestamp: time.Now().Unix(),
	}
}

// Codec encodes and decodes event payloads
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error)      { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v interface{}) error { return cbor.Unmarshal(data, v) }

// NewCodec returns the codec for "json" or "cbor"
func NewCodec(encoding string) (Codec, error) {
	switch encoding {
	case "json", "":
		return jsonCodec{}, nil
	case "cbor":
		return cborCodec{}, nil
	}
	return nil, fmt.Errorf("unknown event encoding %q", encoding)
}

// Subjects
func frameSubject(gatewayID string) string {
	return fmt.Sprintf("dltcan.%s.can.frame", gatewayID)
}

func statusSubject(gatewayID, component string) string {
	return fmt.Sprintf("dltcan.%s.status.%s", gatewayID, component)
}

func commandSubject(gatewayID string) string {
	return fmt.Sprintf("dltcan.%s.command", gatewayID)
}

// NATSPublisher publishes gateway events to NATS
type NATSPublisher struct {
	conn      *nats.Conn
	gatewayID string
	codec     Codec
	sub       *nats.Subscription
}

// NewNATSPublisher creates a publisher on conn
func NewNATSPublisher(conn *nats.Conn, gatewayID string, codec Codec) *NATSPublisher {
	return &NATSPublisher{
		conn:      conn,
		gatewayID: gatewayID,
		codec:     codec,
	}
}

// PublishFrame publishes a frame event
func (p *NATSPublisher) PublishFrame(ev FrameEvent) error {
	data, err := p.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode frame event: %w", err)
	}
	return p.conn.Publish(frameSubject(p.gatewayID), data)
}

// PublishStatus publishes a status event
func (p *NATSPublisher) PublishStatus(ev StatusEvent) error {
	data, err := p.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	return p.conn.Publish(statusSubject(p.gatewayID, ev.Component), data)
}

// SubscribeCommands delivers command strings received on the command
// subject to handler until Close is called
func (p *NATSPublisher) SubscribeCommands(handler func(command string) error) error {
	subject := commandSubject(p.gatewayID)
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		command, err := decodeCommand(p.codec, msg.Data)
		if err != nil {
			log.Printf("[NATS] Failed to decode command: %v", err)
			return
		}

		err = handler(command)
		if msg.Reply != "" {
			reply := "ok"
			if err != nil {
				reply = err.Error()
			}
			msg.Respond([]byte(reply))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	p.sub = sub
	log.Printf("[NATS] Subscribed to %s", subject)
	return nil
}

// Close removes the command subscription
func (p *NATSPublisher) Close() {
	if p.sub != nil {
		p.sub.Unsubscribe()
		p.sub = nil
	}
}

// decodeCommand accepts an encoded CommandMessage or a bare command string
func decodeCommand(codec Codec, data []byte) (string, error) {
	var msg CommandMessage
	if err := codec.Unmarshal(data, &msg); err == nil && msg.Command != "" {
		return msg.Command, nil
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty command")
	}
	return string(data), nil
}
